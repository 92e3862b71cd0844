package kit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Coder is implemented by errors that carry a stable, machine-readable code.
type Coder interface {
	error
	ErrorCode() string
}

// CodeOf returns the code of the first Coder in err's chain, or "Internal".
func CodeOf(err error) string {
	var c Coder
	if errors.As(err, &c) {
		return c.ErrorCode()
	}
	return "Internal"
}

// ToolError is the JSON body of a failed tool call.
type ToolError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MCPDecodeResult holds the decoded request and an optional context enrichment.
type MCPDecodeResult struct {
	Request   any
	EnrichCtx func(context.Context) context.Context
}

// RegisterMCPTool registers an Endpoint as an MCP tool on the given server.
// The decode function extracts the typed request from req.Params.Arguments.
// Endpoint errors become tool errors whose text is a ToolError object.
func RegisterMCPTool(srv *mcp.Server, tool *mcp.Tool, endpoint Endpoint, decode func(*mcp.CallToolRequest) (*MCPDecodeResult, error)) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		decoded, err := decode(req)
		if err != nil {
			return toolError(ToolError{Code: "InvalidArguments", Message: fmt.Sprintf("invalid arguments: %v", err)}), nil
		}
		if decoded.EnrichCtx != nil {
			ctx = decoded.EnrichCtx(ctx)
		}

		resp, err := endpoint(ctx, decoded.Request)
		if err != nil {
			return toolError(ToolError{Code: CodeOf(err), Message: err.Error()}), nil
		}

		data, err := json.Marshal(resp)
		if err != nil {
			return toolError(ToolError{Code: "Internal", Message: "marshal: " + err.Error()}), nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}

// DecodeArgs unmarshals tool arguments into a fresh T. Empty arguments
// decode to the zero value.
func DecodeArgs[T any](req *mcp.CallToolRequest) (*MCPDecodeResult, error) {
	var r T
	if len(req.Params.Arguments) > 0 {
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
	}
	return &MCPDecodeResult{Request: &r}, nil
}

func toolError(te ToolError) *mcp.CallToolResult {
	data, _ := json.Marshal(te)
	res := &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
	res.IsError = true
	return res
}
