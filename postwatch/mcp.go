package postwatch

import (
	"context"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/fakezero/kit"
)

// RegisterMCP registers the postwatch tools on an MCP server.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerGetStateTool(srv)
	s.registerSetStateTool(srv)
	s.registerRescanTool(srv)
	s.registerStatsTool(srv)
	s.registerResetTool(srv)
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func (s *Service) register(srv *mcp.Server, tool *mcp.Tool, endpoint kit.Endpoint, decode func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error)) {
	kit.RegisterMCPTool(srv, tool, kit.Logging(s.logger, tool.Name)(endpoint), decode)
}

type emptyRequest struct{}

type stateResponse struct {
	Enabled bool `json:"enabled"`
}

func (s *Service) registerGetStateTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "fakezero_get_state",
		Description: "Return whether post detection is enabled.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	endpoint := func(ctx context.Context, _ any) (any, error) {
		enabled, err := s.Enabled(ctx)
		if err != nil {
			return nil, err
		}
		return stateResponse{Enabled: enabled}, nil
	}
	s.register(srv, tool, endpoint, kit.DecodeArgs[emptyRequest])
}

type setStateRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Service) registerSetStateTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "fakezero_set_state",
		Description: "Enable or disable post detection on every watched page. Disabling removes all warnings.",
		InputSchema: inputSchema(map[string]any{
			"enabled": map[string]any{"type": "boolean", "description": "New session state"},
		}, []string{"enabled"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(setStateRequest)
		if r.Enabled == nil {
			return nil, errors.New("enabled is required")
		}
		if err := s.SetEnabled(ctx, *r.Enabled); err != nil {
			return nil, err
		}
		return stateResponse{Enabled: *r.Enabled}, nil
	}
	s.register(srv, tool, endpoint, kit.DecodeArgs[setStateRequest])
}

type rescanRequest struct {
	PageID string `json:"page_id"`
}

func (s *Service) registerRescanTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "fakezero_force_rescan",
		Description: "Rescan every post currently in a page. Returns how many posts were counted for the first time.",
		InputSchema: inputSchema(map[string]any{
			"page_id": map[string]any{"type": "string", "description": "Attached page id"},
		}, []string{"page_id"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		return s.ForceRescan(ctx, kit.GetPageID(ctx))
	}
	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		res, err := kit.DecodeArgs[rescanRequest](req)
		if err != nil {
			return nil, err
		}
		pageID := res.Request.(rescanRequest).PageID
		if pageID == "" {
			return nil, errors.New("page_id is required")
		}
		res.EnrichCtx = func(ctx context.Context) context.Context { return kit.WithPageID(ctx, pageID) }
		return res, nil
	}
	s.register(srv, tool, endpoint, decode)
}

type statsRequest struct {
	Recent int `json:"recent,omitempty"`
}

func (s *Service) registerStatsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "fakezero_stats",
		Description: "Detection count, per-platform breakdown, recent detections and attached pages.",
		InputSchema: inputSchema(map[string]any{
			"recent": map[string]any{"type": "integer", "description": "How many recent detections to list (default 10)"},
		}, nil),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		return s.Stats(ctx, req.(statsRequest).Recent)
	}
	s.register(srv, tool, endpoint, kit.DecodeArgs[statsRequest])
}

func (s *Service) registerResetTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "fakezero_reset_ledger",
		Description: "Forget every counted post. The detection count restarts at zero.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	endpoint := func(ctx context.Context, _ any) (any, error) {
		if err := s.ResetLedger(ctx); err != nil {
			return nil, err
		}
		return map[string]string{"status": "reset"}, nil
	}
	s.register(srv, tool, endpoint, kit.DecodeArgs[emptyRequest])
}
