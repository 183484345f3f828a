// Package mcptools exposes the store operations as MCP tools.
package mcptools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"ttlkv/internal/store"
)

// Tools binds MCP tool handlers to a Store.
type Tools struct {
	store  *store.Store
	logger *zap.SugaredLogger
}

func New(st *store.Store, logger *zap.SugaredLogger) *Tools {
	return &Tools{store: st, logger: logger}
}

// multiline joins lines with newlines for tool descriptions.
func multiline(lines ...string) string { return strings.Join(lines, "\n") }

// Definitions returns every tool with its handler.
func (t *Tools) Definitions() []server.ServerTool {
	keyArg := mcp.WithString("key", mcp.Required(), mcp.Description("The key to operate on"))

	return []server.ServerTool{
		{
			Tool: mcp.NewTool("kv-set",
				mcp.WithDescription(multiline(
					"Stores a value under a key, replacing any previous value and expiry",
					"\nUsage notes:",
					"- ttl is in seconds; omit it or pass 0 for a key that never expires",
				)),
				keyArg,
				mcp.WithString("value", mcp.Required(), mcp.Description("The value to store")),
				mcp.WithNumber("ttl", mcp.Description("Time to live in seconds"), mcp.Min(0)),
			),
			Handler: t.Set,
		},
		{
			Tool:    mcp.NewTool("kv-get", mcp.WithDescription("Returns the value of a live key"), keyArg),
			Handler: t.Get,
		},
		{
			Tool: mcp.NewTool("kv-details",
				mcp.WithDescription("Returns key, value and remaining TTL of a live key as JSON"),
				keyArg,
			),
			Handler: t.Details,
		},
		{
			Tool: mcp.NewTool("kv-delete",
				mcp.WithDescription("Deletes a key whether it is live or expired"),
				keyArg,
			),
			Handler: t.Delete,
		},
		{
			Tool:    mcp.NewTool("kv-exists", mcp.WithDescription("Reports whether a key exists and is live"), keyArg),
			Handler: t.Exists,
		},
		{
			Tool:    mcp.NewTool("kv-keys", mcp.WithDescription("Lists every live key with value and remaining TTL as JSON")),
			Handler: t.Keys,
		},
		{
			Tool: mcp.NewTool("kv-expire",
				mcp.WithDescription("Sets a new TTL on a live key, keeping its value"),
				keyArg,
				mcp.WithNumber("ttl", mcp.Required(), mcp.Description("New time to live in seconds, greater than 0")),
			),
			Handler: t.Expire,
		},
		{
			Tool:    mcp.NewTool("kv-ttl", mcp.WithDescription("Returns the remaining time to live of a key in seconds"), keyArg),
			Handler: t.TTL,
		},
		{
			Tool:    mcp.NewTool("kv-flushall", mcp.WithDescription("Permanently deletes every key")),
			Handler: t.FlushAll,
		},
	}
}

// Register adds every tool to s.
func (t *Tools) Register(s *server.MCPServer) {
	defs := t.Definitions()
	s.AddTools(defs...)
	t.logger.Infow("Registered MCP tools", "count", len(defs))
}

// fail turns a store error into a tool error result. Unexpected errors are
// logged; not found and validation errors are normal outcomes.
func (t *Tools) fail(tool string, err error) (*mcp.CallToolResult, error) {
	if !errors.Is(err, store.ErrNotFound) && !errors.Is(err, store.ErrValidation) {
		t.logger.Errorw("MCP tool failed", "tool", tool, "error", err)
	}
	return mcp.NewToolResultError(err.Error()), nil
}

func (t *Tools) Set(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := req.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	value, err := req.RequireString("value")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ttl, err := seconds(req.GetFloat("ttl", 0))
	if err != nil {
		return t.fail("kv-set", err)
	}

	if err := t.store.Set(ctx, key, value, ttl); err != nil {
		return t.fail("kv-set", err)
	}
	return mcp.NewToolResultText("Key stored successfully"), nil
}

func (t *Tools) Get(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := req.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	value, err := t.store.Get(ctx, key)
	if err != nil {
		return t.fail("kv-get", err)
	}
	return mcp.NewToolResultText(value), nil
}

func (t *Tools) Details(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := req.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	d, err := t.store.Details(ctx, key)
	if err != nil {
		return t.fail("kv-details", err)
	}
	return jsonResult(toView(d))
}

func (t *Tools) Delete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := req.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if err := t.store.Delete(ctx, key); err != nil {
		return t.fail("kv-delete", err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("Key %s deleted", key)), nil
}

func (t *Tools) Exists(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := req.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	exists, err := t.store.Exists(ctx, key)
	if err != nil {
		return t.fail("kv-exists", err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("%t", exists)), nil
}

func (t *Tools) Keys(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entries, err := t.store.List(ctx)
	if err != nil {
		return t.fail("kv-keys", err)
	}

	views := make([]entryView, 0, len(entries))
	for _, d := range entries {
		views = append(views, toView(d))
	}
	return jsonResult(views)
}

func (t *Tools) Expire(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := req.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	raw, err := req.RequireFloat("ttl")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ttl, err := seconds(raw)
	if err != nil {
		return t.fail("kv-expire", err)
	}

	if err := t.store.Expire(ctx, key, ttl); err != nil {
		return t.fail("kv-expire", err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("TTL for key %s updated successfully", key)), nil
}

func (t *Tools) TTL(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := req.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	ttl, err := t.store.TTL(ctx, key)
	if err != nil {
		return t.fail("kv-ttl", err)
	}
	return mcp.NewToolResultText(formatTTL(key, ttl)), nil
}

func (t *Tools) FlushAll(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := t.store.FlushAll(ctx); err != nil {
		return t.fail("kv-flushall", err)
	}
	t.logger.Infow("All keys flushed", "via", "mcp")
	return mcp.NewToolResultText("All keys have been permanently deleted"), nil
}
