package logs

import (
	"go.uber.org/zap/zapcore"
)

// bufferCore is a zapcore.Core that mirrors log entries into a Buffer.
type bufferCore struct {
	zapcore.LevelEnabler
	buf    *Buffer
	fields []zapcore.Field
}

// NewCore returns a zapcore.Core writing into buf. Tee it with the regular
// output core so every log line is also kept in memory.
func NewCore(buf *Buffer) zapcore.Core {
	return newCore(buf, zapcore.DebugLevel)
}

func newCore(buf *Buffer, enab zapcore.LevelEnabler) zapcore.Core {
	return &bufferCore{LevelEnabler: enab, buf: buf}
}

func toLevel(l zapcore.Level) Level {
	switch {
	case l <= zapcore.DebugLevel:
		return DEBUG
	case l == zapcore.InfoLevel:
		return INFO
	case l == zapcore.WarnLevel:
		return WARN
	default:
		return ERROR
	}
}

func (c *bufferCore) Enabled(l zapcore.Level) bool {
	return c.LevelEnabler.Enabled(l) && toLevel(l).AtLeast(c.buf.level)
}

func (c *bufferCore) With(fields []zapcore.Field) zapcore.Core {
	merged := make([]zapcore.Field, 0, len(c.fields)+len(fields))
	merged = append(merged, c.fields...)
	merged = append(merged, fields...)
	return &bufferCore{LevelEnabler: c.LevelEnabler, buf: c.buf, fields: merged}
}

func (c *bufferCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *bufferCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	var out map[string]any
	if len(c.fields)+len(fields) > 0 {
		enc := zapcore.NewMapObjectEncoder()
		for _, f := range c.fields {
			f.AddTo(enc)
		}
		for _, f := range fields {
			f.AddTo(enc)
		}
		out = enc.Fields
	}

	c.buf.Append(Entry{
		Timestamp: ent.Time,
		Level:     toLevel(ent.Level),
		Message:   ent.Message,
		Fields:    out,
	})
	return nil
}

func (c *bufferCore) Sync() error {
	return nil
}
