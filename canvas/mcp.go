package canvas

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/canvas/kit"
)

// RegisterMCP registers the canvas tools and resources on an MCP server.
func (e *Engine) RegisterMCP(srv *mcp.Server) {
	e.registerCreateTool(srv)
	e.registerUpdateTool(srv)
	e.registerDataTool(srv)
	e.registerCloseTool(srv)
	e.registerListTool(srv)
	e.registerGetTool(srv)
	e.registerRenderTool(srv)
	e.registerResources(srv)
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

func (e *Engine) register(srv *mcp.Server, tool *mcp.Tool, endpoint kit.Endpoint, decode func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error)) {
	mw := kit.Chain(kit.Logging(e.logger, tool.Name))
	kit.RegisterMCPTool(srv, tool, mw(endpoint), decode)
}

var surfaceIDProp = map[string]any{"type": "string", "description": "Surface id returned by canvas_create"}

// --- create ---

type createRequest struct {
	Name      string `json:"name,omitempty"`
	Size      string `json:"size,omitempty"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
	ScaleMode string `json:"scale_mode,omitempty"`
}

type createResponse struct {
	Success bool `json:"success"`
	SurfaceInfo
}

func (e *Engine) registerCreateTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "canvas_create",
		Description: "Create a new canvas surface. Returns its id and the URLs a viewer opens to display it.",
		InputSchema: inputSchema(map[string]any{
			"name":       map[string]any{"type": "string", "description": "Optional label"},
			"size":       map[string]any{"type": "string", "enum": []any{"tv_1080p", "tv_4k", "phone", "tablet", "square", "auto", "custom"}, "description": "Size preset (default tv_1080p)"},
			"width":      map[string]any{"type": "integer", "description": "Width in pixels, for size=custom"},
			"height":     map[string]any{"type": "integer", "description": "Height in pixels, for size=custom"},
			"scale_mode": map[string]any{"type": "string", "enum": []any{"fit", "fill", "stretch", "none"}, "description": "How the viewer scales the surface (default fit)"},
		}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*createRequest)
		info, err := e.CreateSurface(ctx, r.Name, SizeSpec{
			Preset:    r.Size,
			Width:     r.Width,
			Height:    r.Height,
			ScaleMode: r.ScaleMode,
		})
		if err != nil {
			return nil, err
		}
		return &createResponse{Success: true, SurfaceInfo: *info}, nil
	}

	e.register(srv, tool, endpoint, kit.DecodeArgs[createRequest])
}

// --- update ---

type updateRequest struct {
	SurfaceID  string           `json:"surface_id"`
	Components []map[string]any `json:"components"`
}

func (e *Engine) registerUpdateTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name: "canvas_update",
		Description: "Replace the components of a surface. Each component has an id, a component type " +
			"(Column, Row, Card, List, Text, Image, Divider or any custom tag), optional children ids and style. " +
			"String fields may contain {{/json/pointer}} bindings into the data model.",
		InputSchema: inputSchema(map[string]any{
			"surface_id": surfaceIDProp,
			"components": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "object"},
				"description": "Full component list; the node with id \"root\" (else the first) is the root",
			},
		}, []string{"surface_id", "components"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*updateRequest)
		res, err := e.UpdateComponents(ctx, r.SurfaceID, r.Components)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"success":          true,
			"surface_id":       res.SurfaceID,
			"components_count": res.ComponentCount,
			"revision":         res.Revision,
			"updated_at":       res.UpdatedAt,
		}, nil
	}

	e.register(srv, tool, endpoint, kit.DecodeArgs[updateRequest])
}

// --- data ---

type dataRequest struct {
	SurfaceID string          `json:"surface_id"`
	Path      string          `json:"path"`
	Value     json.RawMessage `json:"value"`
}

func (e *Engine) registerDataTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "canvas_data",
		Description: "Write a value into the data model of a surface at a JSON Pointer path. Bound components update without being resent.",
		InputSchema: inputSchema(map[string]any{
			"surface_id": surfaceIDProp,
			"path":       map[string]any{"type": "string", "description": "JSON Pointer, e.g. /user/name; \"/\" replaces the whole model"},
			"value":      map[string]any{"description": "Any JSON value"},
		}, []string{"surface_id", "path"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*dataRequest)
		var value any
		if len(r.Value) > 0 {
			if err := json.Unmarshal(r.Value, &value); err != nil {
				return nil, &Error{Code: CodeInvalidValue, Message: "invalid value: " + err.Error(), Err: err}
			}
		}
		res, err := e.UpdateData(ctx, r.SurfaceID, r.Path, value)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"success":    true,
			"surface_id": res.SurfaceID,
			"path":       r.Path,
			"revision":   res.Revision,
			"updated_at": res.UpdatedAt,
		}, nil
	}

	e.register(srv, tool, endpoint, kit.DecodeArgs[dataRequest])
}

// --- close ---

type surfaceRequest struct {
	SurfaceID string `json:"surface_id"`
}

func (e *Engine) registerCloseTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "canvas_close",
		Description: "Close a surface. Connected viewers are notified and disconnected; the stored state is deleted.",
		InputSchema: inputSchema(map[string]any{
			"surface_id": surfaceIDProp,
		}, []string{"surface_id"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*surfaceRequest)
		if err := e.CloseSurface(ctx, r.SurfaceID); err != nil {
			return nil, err
		}
		return map[string]any{"success": true, "surface_id": r.SurfaceID}, nil
	}

	e.register(srv, tool, endpoint, kit.DecodeArgs[surfaceRequest])
}

// --- list ---

func (e *Engine) registerListTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "canvas_list",
		Description: "List open surfaces with their size, revision and connected viewer count.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(_ context.Context, _ any) (any, error) {
		list := e.ListSurfaces()
		return map[string]any{"success": true, "count": len(list), "surfaces": list}, nil
	}

	e.register(srv, tool, endpoint, kit.DecodeArgs[struct{}])
}

// --- get ---

type getResponse struct {
	Success bool `json:"success"`
	*Snapshot
	LocalURL string `json:"local_url"`
	WSURL    string `json:"ws_url"`
}

func (e *Engine) registerGetTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "canvas_get",
		Description: "Return the full state of a surface: components, data model and metadata.",
		InputSchema: inputSchema(map[string]any{
			"surface_id": surfaceIDProp,
		}, []string{"surface_id"}),
	}

	endpoint := func(_ context.Context, req any) (any, error) {
		r := req.(*surfaceRequest)
		snap, err := e.GetSurface(r.SurfaceID)
		if err != nil {
			return nil, err
		}
		local, ws := e.SurfaceURLs(r.SurfaceID)
		return &getResponse{Success: true, Snapshot: snap, LocalURL: local, WSURL: ws}, nil
	}

	e.register(srv, tool, endpoint, kit.DecodeArgs[surfaceRequest])
}

// --- render ---

func (e *Engine) registerRenderTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "canvas_render",
		Description: "Return the components of a surface with every {{/pointer}} binding resolved against the data model.",
		InputSchema: inputSchema(map[string]any{
			"surface_id": surfaceIDProp,
		}, []string{"surface_id"}),
	}

	endpoint := func(_ context.Context, req any) (any, error) {
		r := req.(*surfaceRequest)
		return e.RenderSurface(r.SurfaceID)
	}

	e.register(srv, tool, endpoint, kit.DecodeArgs[surfaceRequest])
}

// --- resources ---

const resourceScheme = "canvas://"

func (e *Engine) registerResources(srv *mcp.Server) {
	srv.AddResourceTemplate(&mcp.ResourceTemplate{
		Name:        "surface_state",
		Description: "Full state of a canvas surface",
		MIMEType:    "application/json",
		URITemplate: resourceScheme + "{surface_id}/state",
	}, e.readResource)
	srv.AddResourceTemplate(&mcp.ResourceTemplate{
		Name:        "surface_url",
		Description: "Viewer URLs of a canvas surface",
		MIMEType:    "application/json",
		URITemplate: resourceScheme + "{surface_id}/url",
	}, e.readResource)
}

func (e *Engine) readResource(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	uri := req.Params.URI
	id, kind, ok := parseResourceURI(uri)
	if !ok {
		return nil, mcp.ResourceNotFoundError(uri)
	}

	var body any
	switch kind {
	case "state":
		snap, err := e.GetSurface(id)
		if err != nil {
			return nil, mcp.ResourceNotFoundError(uri)
		}
		body = snap
	case "url":
		if _, err := e.GetSurface(id); err != nil {
			return nil, mcp.ResourceNotFoundError(uri)
		}
		local, ws := e.SurfaceURLs(id)
		body = map[string]string{"surface_id": id, "local_url": local, "ws_url": ws}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{URI: uri, MIMEType: "application/json", Text: string(data)}},
	}, nil
}

// parseResourceURI splits canvas://{id}/{state|url}.
func parseResourceURI(uri string) (id, kind string, ok bool) {
	rest, found := strings.CutPrefix(uri, resourceScheme)
	if !found {
		return "", "", false
	}
	id, kind, found = strings.Cut(rest, "/")
	if !found || id == "" || (kind != "state" && kind != "url") {
		return "", "", false
	}
	return id, kind, true
}
