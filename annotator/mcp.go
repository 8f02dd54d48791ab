package annotator

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/floatnote/annotation"
	"github.com/hazyhaar/floatnote/kit"
)

// RegisterMCP registers the floatnote tools on an MCP server.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerListTool(srv)
	s.registerGetTool(srv)
	s.registerDeleteTool(srv)
	s.registerExportTool(srv)
	s.registerSetModeTool(srv)
	s.registerPagesTool(srv)
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func (s *Service) endpoint(name string, ep kit.Endpoint) kit.Endpoint {
	return kit.Chain(
		kit.RequestID(nil),
		kit.Recover(s.logger),
		kit.Logging(s.logger, name),
	)(ep)
}

func decodeArgs[T any](req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	var r T
	if len(req.Params.Arguments) > 0 {
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
	}
	return &kit.MCPDecodeResult{Request: &r}, nil
}

// --- list ---

type listRequest struct {
	URL  string `json:"url,omitempty"`
	Kind string `json:"kind,omitempty"`
}

type listItem struct {
	ID        string  `json:"id"`
	Kind      string  `json:"kind"`
	URL       string  `json:"url"`
	CreatedAt string  `json:"created_at"`
	Text      string  `json:"text"`
	Color     string  `json:"color,omitempty"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
}

func (s *Service) registerListTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "floatnote_list",
		Description: "List stored highlights and notes, newest first. Filter by exact page URL and kind.",
		InputSchema: inputSchema(map[string]any{
			"url":  map[string]any{"type": "string", "description": "Exact page URL (omit for all pages)"},
			"kind": map[string]any{"type": "string", "enum": []any{"highlight", "note"}, "description": "Record kind"},
		}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*listRequest)
		kind, err := annotation.ParseKind(r.Kind)
		if err != nil {
			return nil, err
		}
		recs, err := s.List(ctx, r.URL, kind)
		if err != nil {
			return nil, err
		}
		items := make([]listItem, 0, len(recs))
		for _, a := range recs {
			items = append(items, summarize(a))
		}
		return items, nil
	}

	kit.RegisterMCPTool(srv, tool, s.endpoint("floatnote_list", endpoint), decodeArgs[listRequest])
}

func summarize(a *annotation.Annotation) listItem {
	bbox := a.BBox()
	item := listItem{
		ID:        a.ID,
		Kind:      string(a.Kind),
		URL:       a.URL,
		CreatedAt: a.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		X:         bbox.Left,
		Y:         bbox.Top,
	}
	switch {
	case a.Highlight != nil:
		item.Text = a.Highlight.Text
		item.Color = a.Highlight.Color
	case a.Note != nil:
		item.Text = NotePreview(a.Note.HTML, 100)
	}
	return item
}

// --- get ---

type idRequest struct {
	ID string `json:"id"`
}

func (s *Service) registerGetTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "floatnote_get",
		Description: "Get one stored annotation record with its anchor paths.",
		InputSchema: inputSchema(map[string]any{
			"id": map[string]any{"type": "string", "description": "Annotation ID"},
		}, []string{"id"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		return s.Get(ctx, req.(*idRequest).ID)
	}

	kit.RegisterMCPTool(srv, tool, s.endpoint("floatnote_get", endpoint), decodeArgs[idRequest])
}

// --- delete ---

func (s *Service) registerDeleteTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "floatnote_delete",
		Description: "Delete an annotation from the store and from every open page showing it.",
		InputSchema: inputSchema(map[string]any{
			"id": map[string]any{"type": "string", "description": "Annotation ID"},
		}, []string{"id"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		id := req.(*idRequest).ID
		if err := s.Delete(ctx, id); err != nil {
			return nil, err
		}
		return map[string]string{"id": id, "status": "deleted"}, nil
	}

	kit.RegisterMCPTool(srv, tool, s.endpoint("floatnote_delete", endpoint), decodeArgs[idRequest])
}

// --- export ---

type exportRequest struct {
	URL string `json:"url,omitempty"`
}

func (s *Service) registerExportTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "floatnote_export",
		Description: "Export the annotations of a page (or all pages) as markdown.",
		InputSchema: inputSchema(map[string]any{
			"url": map[string]any{"type": "string", "description": "Exact page URL (omit for all pages)"},
		}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		md, err := s.Export(ctx, req.(*exportRequest).URL)
		if err != nil {
			return nil, err
		}
		return map[string]string{"markdown": md}, nil
	}

	kit.RegisterMCPTool(srv, tool, s.endpoint("floatnote_export", endpoint), decodeArgs[exportRequest])
}

// --- set mode ---

type setModeRequest struct {
	PageID string `json:"page_id"`
	Mode   string `json:"mode"`
}

func (s *Service) registerSetModeTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "floatnote_set_mode",
		Description: "Arm highlight selection or create a note on an open page.",
		InputSchema: inputSchema(map[string]any{
			"page_id": map[string]any{"type": "string", "description": "Open page ID (see floatnote_pages)"},
			"mode":    map[string]any{"type": "string", "enum": []any{"highlight", "note", "dashboard"}},
		}, []string{"page_id", "mode"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*setModeRequest)
		if err := s.SetMode(ctx, r.PageID, r.Mode); err != nil {
			return nil, err
		}
		sess, err := s.Session(r.PageID)
		if err != nil {
			return nil, err
		}
		return sess.Info(), nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		res, err := decodeArgs[setModeRequest](req)
		if err != nil {
			return nil, err
		}
		pageID := res.Request.(*setModeRequest).PageID
		res.EnrichCtx = func(ctx context.Context) context.Context {
			return kit.WithPageID(ctx, pageID)
		}
		return res, nil
	}

	kit.RegisterMCPTool(srv, tool, s.endpoint("floatnote_set_mode", endpoint), decode)
}

// --- pages ---

func (s *Service) registerPagesTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "floatnote_pages",
		Description: "List open pages with their mode and restoration progress.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(context.Context, any) (any, error) {
		return s.Pages(), nil
	}

	kit.RegisterMCPTool(srv, tool, s.endpoint("floatnote_pages", endpoint), decodeArgs[struct{}])
}
