package mcptools

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/samber/mo"

	"ttlkv/internal/store"
)

type entryView struct {
	Key          string `json:"key"`
	Value        string `json:"value"`
	TTL          *int64 `json:"ttl"`
	NoExpiration bool   `json:"no_expiration"`
}

func toView(d store.Details) entryView {
	v := entryView{Key: d.Key, Value: d.Value, NoExpiration: d.NoExpiration()}
	if secs, ok := d.TTL.Get(); ok {
		v.TTL = &secs
	}
	return v
}

// seconds converts a JSON number of whole seconds into a ttl.
func seconds(s float64) (time.Duration, error) {
	if math.IsNaN(s) || math.IsInf(s, 0) || s != math.Trunc(s) {
		return 0, fmt.Errorf("%w: ttl must be a whole number of seconds", store.ErrValidation)
	}
	if s < 0 || s > float64(store.MaxTTLSeconds) {
		return 0, store.ErrInvalidTTL
	}
	return store.TTLFromSeconds(int64(s))
}

func formatTTL(key string, ttl mo.Option[int64]) string {
	secs, ok := ttl.Get()
	if !ok {
		return "No expiration set for this key"
	}
	return fmt.Sprintf("TTL for key %s is %d seconds.", key, secs)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(raw)), nil
}
