// Package idgen provides pluggable ID generation for canvas surfaces.
//
// Constructors that mint identifiers (the surface registry, the QUIC MCP
// handler) accept a Generator, so the ID strategy is a startup-time decision
// driven by configuration rather than a compile-time one.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Generator produces unique string identifiers.
type Generator func() string

// Hex returns a Generator that produces lowercase hexadecimal IDs of the
// given length. Hex(12) is the surface default: short enough to type into a
// TV remote, long enough that collisions are retried rather than expected.
func Hex(length int) Generator {
	return func() string {
		buf := make([]byte, (length+1)/2)
		if _, err := rand.Read(buf); err != nil {
			panic("idgen: crypto/rand failed: " + err.Error())
		}
		return hex.EncodeToString(buf)[:length]
	}
}

// NanoID returns a Generator that produces base-36 IDs of the given length.
func NanoID(length int) Generator {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	return func() string {
		buf := make([]byte, length)
		if _, err := rand.Read(buf); err != nil {
			panic("idgen: crypto/rand failed: " + err.Error())
		}
		b := make([]byte, length)
		for i := range b {
			b[i] = alphabet[int(buf[i])%len(alphabet)]
		}
		return string(b)
	}
}

// UUIDv7 returns a Generator that produces RFC 9562 UUID v7 strings.
// Time-sortable and globally unique.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// ULID returns a Generator that produces lowercase ULIDs (26 chars,
// lexicographically sortable by creation time).
func ULID() Generator {
	return func() string {
		return strings.ToLower(ulid.Make().String())
	}
}

// Prefixed wraps a Generator and prepends a fixed prefix to every ID.
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Default is the surface default: 12 hex characters.
var Default Generator = Hex(12)

// New produces an ID using the Default generator.
func New() string {
	return Default()
}

// ByName resolves a configured strategy name to a Generator.
// Accepted names: "hex", "uuidv7", "ulid", "nanoid". Empty means "hex".
func ByName(name string) (Generator, error) {
	switch strings.ToLower(name) {
	case "", "hex":
		return Hex(12), nil
	case "uuidv7", "uuid":
		return UUIDv7(), nil
	case "ulid":
		return ULID(), nil
	case "nanoid":
		return NanoID(16), nil
	default:
		return nil, fmt.Errorf("idgen: unknown strategy %q", name)
	}
}
