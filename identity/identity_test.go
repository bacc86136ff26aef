// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package identity_test

import (
	"strings"
	"testing"

	"github.com/absmach/fluxbench/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/blake3"
)

func TestSumDeterministic(t *testing.T) {
	payload := []byte(`{"pascal":1234.5,"timestamp_ms":1700000000000}`)

	a := identity.Sum("umh.v1.plant", "site1.area.line.cell.group.tag.1700000000000000000", payload)
	b := identity.Sum("umh.v1.plant", "site1.area.line.cell.group.tag.1700000000000000000", payload)
	assert.Equal(t, a, b)
}

func TestSumSensitivity(t *testing.T) {
	payload := []byte(`{"pascal":1234.5,"timestamp_ms":1700000000000}`)
	base := identity.Sum("umh.v1.plant", "a.b.1", payload)

	changed := append([]byte(nil), payload...)
	changed[len(changed)-2] ^= 0x01
	assert.NotEqual(t, base, identity.Sum("umh.v1.plant", "a.b.1", changed))
	assert.NotEqual(t, base, identity.Sum("umh.v1.plant", "a.b.2", payload))
	assert.NotEqual(t, base, identity.Sum("umh.v1.other", "a.b.1", payload))
}

func TestSumMatchesJoinedPath(t *testing.T) {
	payload := []byte("payload")

	split := identity.Sum("umh.v1.plant", "site.area.42", payload)
	joined := identity.Sum(identity.Join("umh.v1.plant", "site.area.42"), "", payload)
	assert.Equal(t, split, joined)

	want := blake3.Sum256([]byte("umh.v1.plant.site.area.42payload"))
	assert.Equal(t, identity.Hash(want), split)
}

func TestHasherReuse(t *testing.T) {
	var h identity.Hasher
	first := h.Sum("t", "k", []byte("one"))
	second := h.Sum("t", "k", []byte("two"))

	assert.Equal(t, identity.Sum("t", "k", []byte("one")), first)
	assert.Equal(t, identity.Sum("t", "k", []byte("two")), second)
	assert.NotEqual(t, first, second)
}

func TestJoin(t *testing.T) {
	assert.Equal(t, "a.b", identity.Join("a", "b"))
	assert.Equal(t, "a", identity.Join("a", ""))
}

func TestParse(t *testing.T) {
	h := identity.Sum("t", "k", []byte("v"))

	parsed, err := identity.Parse(h.String())
	require.NoError(t, err)
	assert.Equal(t, h, parsed)
	assert.Len(t, h.String(), 64)
	assert.True(t, strings.HasPrefix(h.String(), h.Short()))

	_, err = identity.Parse("abc")
	assert.ErrorIs(t, err, identity.ErrInvalidHash)

	_, err = identity.Parse(strings.Repeat("zz", identity.Size))
	assert.ErrorIs(t, err, identity.ErrInvalidHash)
}
