package kit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func TestChain_Order(t *testing.T) {
	var order []string

	mw := func(name string) Middleware {
		return func(next Endpoint) Endpoint {
			return func(ctx context.Context, req any) (any, error) {
				order = append(order, name+"_before")
				resp, err := next(ctx, req)
				order = append(order, name+"_after")
				return resp, err
			}
		}
	}

	base := func(_ context.Context, _ any) (any, error) {
		order = append(order, "endpoint")
		return "ok", nil
	}

	resp, err := Chain(mw("a"), mw("b"))(base)(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp != "ok" {
		t.Fatalf("response: got %v", resp)
	}

	expected := []string{"a_before", "b_before", "endpoint", "b_after", "a_after"}
	if strings.Join(order, ",") != strings.Join(expected, ",") {
		t.Fatalf("order: got %v, want %v", order, expected)
	}
}

type codedErr struct{ code string }

func (e *codedErr) Error() string     { return "coded: " + e.code }
func (e *codedErr) ErrorCode() string { return e.code }

func TestCodeOf(t *testing.T) {
	wrapped := errors.Join(errors.New("outer"), &codedErr{code: "SurfaceNotFound"})
	if got := CodeOf(wrapped); got != "SurfaceNotFound" {
		t.Fatalf("CodeOf: got %q", got)
	}
	if got := CodeOf(errors.New("plain")); got != "Internal" {
		t.Fatalf("CodeOf plain: got %q", got)
	}
}

func TestLogging_RecordsFailureCode(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	failing := func(_ context.Context, _ any) (any, error) {
		return nil, &codedErr{code: "InvalidPointer"}
	}
	ctx := WithTraceID(WithTransport(context.Background(), "mcp_quic"), "trc_1")
	ctx = WithSessionID(ctx, "quic_abc")
	ctx = WithRemoteAddr(ctx, "127.0.0.1:51000")
	if _, err := Logging(logger, "canvas_data")(failing)(ctx, nil); err == nil {
		t.Fatal("expected error to propagate")
	}

	out := buf.String()
	for _, want := range []string{`"endpoint":"canvas_data"`, `"code":"InvalidPointer"`, `"transport":"mcp_quic"`,
		`"trace_id":"trc_1"`, `"session_id":"quic_abc"`, `"remote_addr":"127.0.0.1:51000"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %s: %s", want, out)
		}
	}
}

func TestContext_Defaults(t *testing.T) {
	ctx := context.Background()
	if v := GetTransport(ctx); v != "http" {
		t.Fatalf("default transport: got %q, want 'http'", v)
	}
	if v := GetTraceID(ctx); v != "" {
		t.Fatalf("trace_id default: got %q", v)
	}
	if v := GetSessionID(ctx); v != "" {
		t.Fatalf("session_id default: got %q", v)
	}
}

func TestContext_RoundTrip(t *testing.T) {
	ctx := WithTransport(context.Background(), "mcp_quic")
	ctx = WithSessionID(ctx, "quic_abc")
	ctx = WithRemoteAddr(ctx, "127.0.0.1:9444")
	if v := GetTransport(ctx); v != "mcp_quic" {
		t.Fatalf("transport: got %q", v)
	}
	if v := GetSessionID(ctx); v != "quic_abc" {
		t.Fatalf("session_id: got %q", v)
	}
	if v := GetRemoteAddr(ctx); v != "127.0.0.1:9444" {
		t.Fatalf("remote_addr: got %q", v)
	}
}

type echoRequest struct {
	Word string `json:"word"`
}

func TestRegisterMCPTool_ErrorEncoding(t *testing.T) {
	impl := &mcp.Implementation{Name: "kit-test", Version: "0.1.0"}
	srv := mcp.NewServer(impl, nil)

	endpoint := func(_ context.Context, req any) (any, error) {
		r := req.(*echoRequest)
		if r.Word == "" {
			return nil, &codedErr{code: "Empty"}
		}
		return map[string]string{"echo": r.Word}, nil
	}
	RegisterMCPTool(srv, &mcp.Tool{
		Name:        "echo",
		InputSchema: map[string]any{"type": "object"},
	}, endpoint, DecodeArgs[echoRequest])

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	session, err := mcp.NewClient(impl, nil).Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer session.Close()

	res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: "echo", Arguments: map[string]any{"word": "hi"}})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %+v", res.Content)
	}
	if text := res.Content[0].(*mcp.TextContent).Text; text != `{"echo":"hi"}` {
		t.Fatalf("result: got %s", text)
	}

	res, err = session.CallTool(ctx, &mcp.CallToolParams{Name: "echo", Arguments: map[string]any{}})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected tool error")
	}
	var te ToolError
	if err := json.Unmarshal([]byte(res.Content[0].(*mcp.TextContent).Text), &te); err != nil {
		t.Fatalf("decode tool error: %v", err)
	}
	if te.Code != "Empty" || te.Message != "coded: Empty" {
		t.Fatalf("tool error: got %+v", te)
	}
}
