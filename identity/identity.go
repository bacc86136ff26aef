// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package identity computes the transport independent content hash that correlates a
// published message with its received counterpart.
//
// The identity of a message is the BLAKE3-256 digest of its full dotted path followed by
// its payload bytes. The path is topic + "." + key on transports that carry a separate
// key (Kafka) and the delivered topic alone on transports that fold the key into the
// topic (MQTT, NATS), so both sides of a run agree on the digest.
package identity

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/zeebo/blake3"
)

// Size is the digest width in bytes.
const Size = 32

// ErrInvalidHash is returned when parsing a malformed hex digest.
var ErrInvalidHash = errors.New("invalid identity hash")

// Hash is a message identity digest.
type Hash [Size]byte

// String returns the lowercase hex encoding.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Short returns the first 12 hex characters, for log lines.
func (h Hash) Short() string {
	return hex.EncodeToString(h[:6])
}

// Parse decodes a hex digest.
func Parse(s string) (Hash, error) {
	var h Hash
	if hex.DecodedLen(len(s)) != Size {
		return h, fmt.Errorf("%w: length %d", ErrInvalidHash, len(s))
	}
	if _, err := hex.Decode(h[:], []byte(s)); err != nil {
		return h, fmt.Errorf("%w: %w", ErrInvalidHash, err)
	}
	return h, nil
}

// Join reassembles the full dotted path of a message.
func Join(topic, key string) string {
	if key == "" {
		return topic
	}
	return topic + "." + key
}

// Sum returns the identity of a message.
func Sum(topic, key string, payload []byte) Hash {
	var h Hasher
	return h.Sum(topic, key, payload)
}

// Hasher computes identities while reusing its internal state. It is not safe for
// concurrent use; each goroutine owns its own Hasher.
type Hasher struct {
	h *blake3.Hasher
}

// Sum returns the identity of a message.
func (hs *Hasher) Sum(topic, key string, payload []byte) Hash {
	if hs.h == nil {
		hs.h = blake3.New()
	} else {
		hs.h.Reset()
	}
	_, _ = hs.h.WriteString(topic)
	if key != "" {
		_, _ = hs.h.WriteString(".")
		_, _ = hs.h.WriteString(key)
	}
	_, _ = hs.h.Write(payload)

	var out Hash
	hs.h.Sum(out[:0])
	return out
}
