// Package mcpquic carries MCP sessions over QUIC. A client opens one
// bidirectional stream, writes the magic bytes, and then speaks
// newline-delimited JSON-RPC on that stream. The ALPN token keeps MCP
// traffic distinguishable from other protocols on the same UDP port.
package mcpquic

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/quic-go/quic-go"
)

const (
	// ALPNProtocolMCP is negotiated during the TLS handshake.
	ALPNProtocolMCP = "mcp-quic-v1"

	// MagicBytesMCP opens every MCP stream.
	MagicBytesMCP = "MCP1"

	// MaxMessageSize bounds a single JSON-RPC frame.
	MaxMessageSize = 10 * 1024 * 1024

	DefaultIdleTimeout = 5 * time.Minute
	DefaultKeepAlive   = 30 * time.Second
)

// Application error codes for CloseWithError.
const (
	ConnErrorNoError           quic.ApplicationErrorCode = 0x00
	ConnErrorUnsupportedALPN   quic.ApplicationErrorCode = 0x02
	ConnErrorProtocolViolation quic.ApplicationErrorCode = 0x03
)

// Stream error codes for CancelRead / CancelWrite.
const (
	StreamErrorProtocolConfusion quic.StreamErrorCode = 0x10
)

var (
	ErrInvalidMagicBytes = errors.New("mcpquic: invalid magic bytes")
	ErrUnsupportedALPN   = errors.New("mcpquic: unsupported ALPN")
	ErrConnectionClosed  = errors.New("mcpquic: connection closed")
)

// ConnectionError reports a failed connection with its peer and code.
type ConnectionError struct {
	RemoteAddr string
	Code       quic.ApplicationErrorCode
	Err        error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("mcpquic: connection %s (code 0x%02x): %v", e.RemoteAddr, uint64(e.Code), e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// SendMagicBytes writes the stream preamble.
func SendMagicBytes(w io.Writer) error {
	if _, err := io.WriteString(w, MagicBytesMCP); err != nil {
		return fmt.Errorf("mcpquic: send magic bytes: %w", err)
	}
	return nil
}

// ValidateMagicBytes reads and checks the stream preamble.
func ValidateMagicBytes(r io.Reader) error {
	buf := make([]byte, len(MagicBytesMCP))
	if _, err := io.ReadFull(r, buf); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMagicBytes, err)
	}
	if string(buf) != MagicBytesMCP {
		return fmt.Errorf("%w: got %q", ErrInvalidMagicBytes, buf)
	}
	return nil
}

// ProductionQUICConfig returns the transport settings for long-lived agent
// sessions. 0-RTT stays off since tool calls are not idempotent.
func ProductionQUICConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:        DefaultIdleTimeout,
		KeepAlivePeriod:       DefaultKeepAlive,
		MaxIncomingStreams:    16,
		MaxIncomingUniStreams: -1,
		Allow0RTT:             false,
	}
}
