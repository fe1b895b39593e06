// Package idgen provides pluggable ID generation for fakezero.
//
// Constructors that mint identifiers (instances, sessions, element tags,
// detection events) accept a Generator so the strategy is chosen at startup.
package idgen

import (
	"crypto/rand"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// NanoID returns a Generator of base-36 IDs of the given length. Element
// tags live in third-party markup and must stay short.
func NanoID(length int) Generator {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	// Largest multiple of len(alphabet) below 256; bytes above it are
	// rejected so every character is equally likely.
	const limit = 256 - 256%len(alphabet)
	return func() string {
		out := make([]byte, 0, length)
		buf := make([]byte, length+length/2)
		for len(out) < length {
			if _, err := rand.Read(buf); err != nil {
				panic("idgen: crypto/rand failed: " + err.Error())
			}
			for _, b := range buf {
				if int(b) >= limit {
					continue
				}
				out = append(out, alphabet[int(b)%len(alphabet)])
				if len(out) == length {
					break
				}
			}
		}
		return string(out)
	}
}

// UUIDv7 returns a Generator that produces RFC 9562 UUID v7 strings.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed wraps a Generator and prepends a fixed prefix to every ID
// (e.g. "fz", "det_", "ses_").
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Default is UUIDv7: time-sortable, globally unique.
var Default Generator = UUIDv7()

// ElementTag mints the opaque keys attached to post boundary elements.
var ElementTag Generator = Prefixed("fz", NanoID(10))
