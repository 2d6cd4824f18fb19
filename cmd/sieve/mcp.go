package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sievelabs/sieve/fetch"
	"github.com/sievelabs/sieve/watch"
)

// mcpHandler builds the MCP tool surface and returns its streamable HTTP
// handler. Tools mirror the JSON API's distill and watch operations.
func (s *service) mcpHandler() http.Handler {
	srv := mcp.NewServer(&mcp.Implementation{
		Name:    "sieve",
		Version: "1.0.0",
	}, nil)

	s.registerDistillTool(srv)
	s.registerAddWatchTool(srv)
	s.registerListWatchesTool(srv)
	s.registerWatchEventsTool(srv)

	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return srv }, nil)
}

func inputSchema(properties map[string]any, required []string) json.RawMessage {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	data, err := json.Marshal(s)
	if err != nil {
		panic(fmt.Sprintf("input schema: %v", err))
	}
	return data
}

// decodeArgs unmarshals tool arguments into p, reporting malformed input as
// a tool error rather than a protocol error.
func decodeArgs(req *mcp.CallToolRequest, p any) *mcp.CallToolResult {
	if req.Params.Arguments == nil {
		return nil
	}
	if err := json.Unmarshal(req.Params.Arguments, p); err != nil {
		var res mcp.CallToolResult
		res.SetError(fmt.Errorf("invalid arguments: %w", err))
		return &res
	}
	return nil
}

func toolError(err error) (*mcp.CallToolResult, error) {
	var res mcp.CallToolResult
	res.SetError(err)
	return &res, nil
}

func toolJSON(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return toolError(err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil
}

func (s *service) registerDistillTool(srv *mcp.Server) {
	type req struct {
		URL    string `json:"url"`
		Policy string `json:"policy"`
		Mode   string `json:"mode"`
	}

	tool := &mcp.Tool{
		Name:        "sieve_distill",
		Description: "Fetch a URL and distill it into clean article content with confidence scores",
		InputSchema: inputSchema(map[string]any{
			"url":    map[string]any{"type": "string", "description": "Page URL"},
			"policy": map[string]any{"type": "string", "description": "Optional policy hint"},
			"mode":   map[string]any{"type": "string", "description": "Fetch mode: http or rendered"},
		}, []string{"url"}),
	}

	srv.AddTool(tool, func(ctx context.Context, r *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var p req
		if res := decodeArgs(r, &p); res != nil {
			return res, nil
		}
		mode := fetch.ModeHTTP
		if p.Mode == "rendered" {
			mode = fetch.ModeRendered
		}
		fres, err := s.fetcher.Fetch(ctx, fetch.Request{URL: p.URL, Mode: mode, UseCache: true})
		if err != nil {
			return toolError(err)
		}
		dres, err := s.distiller.Distill(ctx, string(fres.Body), fres.FinalURL, p.Policy)
		if err != nil {
			return toolError(err)
		}
		return toolJSON(dres)
	})
}

func (s *service) registerAddWatchTool(srv *mcp.Server) {
	type req struct {
		URL             string   `json:"url"`
		IntervalSeconds int      `json:"interval_seconds"`
		WebhookURL      string   `json:"webhook_url"`
		ChangeThreshold *float64 `json:"change_threshold"`
	}

	tool := &mcp.Tool{
		Name:        "sieve_add_watch",
		Description: "Register a URL for periodic change monitoring",
		InputSchema: inputSchema(map[string]any{
			"url":              map[string]any{"type": "string", "description": "URL to monitor"},
			"interval_seconds": map[string]any{"type": "integer", "description": "Check interval, minimum 60"},
			"webhook_url":      map[string]any{"type": "string", "description": "Optional change notification webhook"},
			"change_threshold": map[string]any{"type": "number", "description": "Change percent that triggers an event"},
		}, []string{"url"}),
	}

	srv.AddTool(tool, func(_ context.Context, r *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var p req
		if res := decodeArgs(r, &p); res != nil {
			return res, nil
		}
		target, err := s.watches.AddWatch(p.URL, watch.AddOptions{
			IntervalSeconds: p.IntervalSeconds,
			WebhookURL:      p.WebhookURL,
			ChangeThreshold: p.ChangeThreshold,
		})
		if err != nil {
			return toolError(err)
		}
		return toolJSON(target)
	})
}

func (s *service) registerListWatchesTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "sieve_list_watches",
		Description: "List all registered watch targets with their status and counters",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	srv.AddTool(tool, func(context.Context, *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return toolJSON(s.watches.ListWatches())
	})
}

func (s *service) registerWatchEventsTool(srv *mcp.Server) {
	type req struct {
		WatchID string `json:"watch_id"`
		Limit   int    `json:"limit"`
	}

	tool := &mcp.Tool{
		Name:        "sieve_watch_events",
		Description: "Get the change events recorded for a watch target, newest first",
		InputSchema: inputSchema(map[string]any{
			"watch_id": map[string]any{"type": "string", "description": "Watch target ID"},
			"limit":    map[string]any{"type": "integer", "description": "Max events"},
		}, []string{"watch_id"}),
	}

	srv.AddTool(tool, func(_ context.Context, r *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var p req
		if res := decodeArgs(r, &p); res != nil {
			return res, nil
		}
		limit := p.Limit
		if limit <= 0 {
			limit = 50
		}
		events, err := s.watches.GetEvents(p.WatchID, limit)
		if err != nil {
			return toolError(err)
		}
		if events == nil {
			events = []watch.Event{}
		}
		return toolJSON(events)
	})
}
