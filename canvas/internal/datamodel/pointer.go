package datamodel

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidPointer is the sentinel wrapped by every *PointerError.
var ErrInvalidPointer = errors.New("invalid pointer")

// PointerError reports why a pointer was rejected.
type PointerError struct {
	Pointer string
	Reason  string
}

func (e *PointerError) Error() string {
	return fmt.Sprintf("invalid pointer %q: %s", e.Pointer, e.Reason)
}

func (e *PointerError) Unwrap() error { return ErrInvalidPointer }

// Pointer is a parsed RFC 6901 JSON Pointer. The zero value addresses the
// whole document.
type Pointer struct {
	raw    string
	tokens []string
}

// ParsePointer parses s. Both "" and "/" address the whole document.
func ParsePointer(s string) (Pointer, error) {
	if s == "" || s == "/" {
		return Pointer{raw: s}, nil
	}
	if s[0] != '/' {
		return Pointer{}, &PointerError{Pointer: s, Reason: "must start with '/'"}
	}
	parts := strings.Split(s[1:], "/")
	tokens := make([]string, len(parts))
	for i, p := range parts {
		tok, err := unescape(p)
		if err != nil {
			return Pointer{}, &PointerError{Pointer: s, Reason: err.Error()}
		}
		tokens[i] = tok
	}
	return Pointer{raw: s, tokens: tokens}, nil
}

// IsRoot reports whether p addresses the whole document.
func (p Pointer) IsRoot() bool { return len(p.tokens) == 0 }

// Tokens returns the unescaped reference tokens.
func (p Pointer) Tokens() []string { return p.tokens }

func (p Pointer) String() string { return p.raw }

func unescape(tok string) (string, error) {
	if !strings.Contains(tok, "~") {
		return tok, nil
	}
	var b strings.Builder
	for i := 0; i < len(tok); i++ {
		c := tok[i]
		if c != '~' {
			b.WriteByte(c)
			continue
		}
		if i+1 >= len(tok) {
			return "", errors.New("dangling '~' escape")
		}
		switch tok[i+1] {
		case '0':
			b.WriteByte('~')
		case '1':
			b.WriteByte('/')
		default:
			return "", fmt.Errorf("bad escape '~%c'", tok[i+1])
		}
		i++
	}
	return b.String(), nil
}

// arrayIndex parses a token addressing an element of a sequence of length n.
// "-" addresses the append position.
func arrayIndex(tok string, n int) (int, bool) {
	if tok == "-" {
		return n, true
	}
	if tok == "" || (len(tok) > 1 && tok[0] == '0') {
		return 0, false
	}
	for _, c := range tok {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	idx, err := strconv.Atoi(tok)
	if err != nil {
		return 0, false
	}
	return idx, true
}

// isIndexToken reports whether tok would create a sequence when the parent
// level does not exist yet.
func isIndexToken(tok string) bool {
	_, ok := arrayIndex(tok, 0)
	return ok
}
