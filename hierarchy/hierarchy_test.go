// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package hierarchy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	h, err := Default()
	require.NoError(t, err)

	assert.Equal(t, "umh.v1", h.Namespace)
	assert.Equal(t, 9, h.Depth())
	assert.Equal(t, 64, h.Leaves())
	require.Len(t, h.Enterprises, 1)
	assert.Equal(t, "chernobylnuclearpowerplant", h.Enterprises[0].Name)
	require.Len(t, h.Enterprises[0].Sites, 1)
	assert.Len(t, h.Enterprises[0].Sites[0].Areas, 5)

	for path, tag := range h.Tags() {
		if tag.Type == TypeBoolean {
			assert.False(t, tag.Unit.Physical(), "boolean tag %s carries physical unit %s", path, tag.Unit)
		}
	}
}

func TestLoad(t *testing.T) {
	t.Run("empty path returns default", func(t *testing.T) {
		h, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, "umh.v1", h.Namespace)
	})

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "plant.json")
		require.NoError(t, os.WriteFile(path, []byte(minimal), 0o644))

		h, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "acme", h.Namespace)
		assert.Equal(t, 8, h.Depth())
		assert.Equal(t, 2, h.Leaves())
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
		require.Error(t, err)
	})
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{
			name:    "malformed json",
			input:   `{"namespace":`,
			wantErr: ErrInvalidInput,
		},
		{
			name:    "unknown unit",
			input:   `{"namespace":"a","enterprises":[{"name":"e","sites":[{"name":"s","areas":[{"name":"a","productionLines":[{"name":"l","workCells":[{"name":"c","tagGroups":[{"name":"g","tags":[{"name":"t","unit":"furlong","type":"float"}]}]}]}]}]}]}]}`,
			wantErr: ErrInvalidUnit,
		},
		{
			name:    "unknown type",
			input:   `{"namespace":"a","enterprises":[{"name":"e","sites":[{"name":"s","areas":[{"name":"a","productionLines":[{"name":"l","workCells":[{"name":"c","tagGroups":[{"name":"g","tags":[{"name":"t","unit":"Pa","type":"string"}]}]}]}]}]}]}]}`,
			wantErr: ErrInvalidType,
		},
		{
			name:    "no namespace",
			input:   `{"enterprises":[]}`,
			wantErr: ErrNoNamespace,
		},
		{
			name:    "no enterprises",
			input:   `{"namespace":"a","enterprises":[]}`,
			wantErr: ErrEmptyLevel,
		},
		{
			name:    "empty work cell",
			input:   `{"namespace":"a","enterprises":[{"name":"e","sites":[{"name":"s","areas":[{"name":"a","productionLines":[{"name":"l","workCells":[{"name":"c","tagGroups":[]}]}]}]}]}]}`,
			wantErr: ErrEmptyLevel,
		},
		{
			name:    "empty tag group",
			input:   `{"namespace":"a","enterprises":[{"name":"e","sites":[{"name":"s","areas":[{"name":"a","productionLines":[{"name":"l","workCells":[{"name":"c","tagGroups":[{"name":"g","tags":[]}]}]}]}]}]}]}`,
			wantErr: ErrEmptyLevel,
		},
		{
			name:    "dotted name",
			input:   `{"namespace":"a","enterprises":[{"name":"e.x","sites":[]}]}`,
			wantErr: ErrInvalidName,
		},
		{
			name:    "namespace with mqtt separator",
			input:   `{"namespace":"umh/v1","enterprises":[]}`,
			wantErr: ErrInvalidName,
		},
		{
			name:    "namespace with wildcard",
			input:   `{"namespace":"umh.+","enterprises":[]}`,
			wantErr: ErrInvalidName,
		},
		{
			name:    "empty namespace segment",
			input:   `{"namespace":"umh..v1","enterprises":[]}`,
			wantErr: ErrEmptyName,
		},
		{
			name:    "empty tag name",
			input:   `{"namespace":"a","enterprises":[{"name":"e","sites":[{"name":"s","areas":[{"name":"a","productionLines":[{"name":"l","workCells":[{"name":"c","tagGroups":[{"name":"g","tags":[{"name":"","unit":"","type":"int"}]}]}]}]}]}]}]}`,
			wantErr: ErrEmptyName,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.input))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestUnits(t *testing.T) {
	tests := []struct {
		unit     Unit
		symbol   string
		field    string
		physical bool
	}{
		{UnitNone, "", "value", false},
		{UnitDegreeC, "°C", "degreeC", true},
		{UnitPercent, "%", "percent", true},
		{UnitPascal, "Pa", "pascal", true},
		{UnitCubicMetersPerHour, "m3/h", "cubicMetersPerHour", true},
		{UnitVolt, "V", "volt", true},
		{UnitAmpere, "A", "ampere", true},
		{UnitSievertPerHour, "Sv/h", "sievertPerHour", true},
		{UnitRotationsPerMinute, "rpm", "rotationsPerMinute", true},
		{UnitWatt, "W", "watt", true},
		{UnitSpeed, "m/s", "metersPerSecond", true},
	}

	require.Len(t, Units(), len(tests))
	for _, tt := range tests {
		t.Run(tt.unit.String(), func(t *testing.T) {
			assert.Equal(t, tt.symbol, tt.unit.Symbol())
			assert.Equal(t, tt.field, tt.unit.Field())
			assert.Equal(t, tt.physical, tt.unit.Physical())

			parsed, err := ParseUnit(tt.symbol)
			require.NoError(t, err)
			assert.Equal(t, tt.unit, parsed)

			data, err := json.Marshal(tt.unit)
			require.NoError(t, err)
			var back Unit
			require.NoError(t, json.Unmarshal(data, &back))
			assert.Equal(t, tt.unit, back)
		})
	}

	assert.Equal(t, "unknown", Unit(200).String())
}

func TestValueTypes(t *testing.T) {
	for _, vt := range ValueTypes() {
		parsed, err := ParseValueType(vt.String())
		require.NoError(t, err)
		assert.Equal(t, vt, parsed)
	}
	_, err := ParseValueType("double")
	assert.ErrorIs(t, err, ErrInvalidType)
	assert.Equal(t, "unknown", ValueType(9).String())
}

const minimal = `{
  "namespace": "acme",
  "enterprises": [{
    "name": "corp",
    "sites": [{
      "name": "plant",
      "areas": [{
        "name": "hall",
        "productionLines": [{
          "name": "line",
          "workCells": [{
            "name": "cell",
            "tagGroups": [{
              "name": "sensors",
              "tags": [
                {"name": "temp", "unit": "°C", "type": "float"},
                {"name": "on", "unit": "", "type": "boolean"}
              ]
            }]
          }]
        }]
      }]
    }]
  }]
}`
