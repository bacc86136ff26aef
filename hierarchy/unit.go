// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package hierarchy

import (
	"fmt"
	"strconv"
)

// Unit is the physical unit a tag reports in.
type Unit uint8

// Supported units.
const (
	UnitNone Unit = iota
	UnitDegreeC
	UnitPercent
	UnitPascal
	UnitCubicMetersPerHour
	UnitVolt
	UnitAmpere
	UnitSievertPerHour
	UnitRotationsPerMinute
	UnitWatt
	UnitSpeed
)

var unitSymbols = [...]string{
	UnitNone:               "",
	UnitDegreeC:            "°C",
	UnitPercent:            "%",
	UnitPascal:             "Pa",
	UnitCubicMetersPerHour: "m3/h",
	UnitVolt:               "V",
	UnitAmpere:             "A",
	UnitSievertPerHour:     "Sv/h",
	UnitRotationsPerMinute: "rpm",
	UnitWatt:               "W",
	UnitSpeed:              "m/s",
}

var unitFields = [...]string{
	UnitNone:               "value",
	UnitDegreeC:            "degreeC",
	UnitPercent:            "percent",
	UnitPascal:             "pascal",
	UnitCubicMetersPerHour: "cubicMetersPerHour",
	UnitVolt:               "volt",
	UnitAmpere:             "ampere",
	UnitSievertPerHour:     "sievertPerHour",
	UnitRotationsPerMinute: "rotationsPerMinute",
	UnitWatt:               "watt",
	UnitSpeed:              "metersPerSecond",
}

var unitNames = [...]string{
	UnitNone:               "none",
	UnitDegreeC:            "degreeC",
	UnitPercent:            "percent",
	UnitPascal:             "pascal",
	UnitCubicMetersPerHour: "cubicMetersPerHour",
	UnitVolt:               "volt",
	UnitAmpere:             "ampere",
	UnitSievertPerHour:     "sievertPerHour",
	UnitRotationsPerMinute: "rotationsPerMinute",
	UnitWatt:               "watt",
	UnitSpeed:              "speed",
}

// Units lists every supported unit in declaration order.
func Units() []Unit {
	out := make([]Unit, 0, len(unitSymbols))
	for u := range unitSymbols {
		out = append(out, Unit(u))
	}
	return out
}

// ParseUnit resolves a unit symbol such as "Pa" or "°C". The empty symbol is UnitNone.
func ParseUnit(symbol string) (Unit, error) {
	for u, s := range unitSymbols {
		if s == symbol {
			return Unit(u), nil
		}
	}
	return UnitNone, fmt.Errorf("%w: %q", ErrInvalidUnit, symbol)
}

func (u Unit) valid() bool {
	return int(u) < len(unitSymbols)
}

// Symbol returns the unit symbol used in hierarchy definitions.
func (u Unit) Symbol() string {
	if !u.valid() {
		return ""
	}
	return unitSymbols[u]
}

// Field returns the payload key carrying a value of this unit.
func (u Unit) Field() string {
	if !u.valid() {
		return unitFields[UnitNone]
	}
	return unitFields[u]
}

// Physical reports whether the unit measures a physical quantity.
// Boolean values are undefined for physical units.
func (u Unit) Physical() bool {
	return u != UnitNone
}

// String returns the unit name.
func (u Unit) String() string {
	if !u.valid() {
		return "unknown"
	}
	return unitNames[u]
}

// MarshalJSON encodes the unit as its symbol.
func (u Unit) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(u.Symbol())), nil
}

// UnmarshalJSON decodes a unit symbol.
func (u *Unit) UnmarshalJSON(data []byte) error {
	s, err := strconv.Unquote(string(data))
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidUnit, data)
	}
	parsed, err := ParseUnit(s)
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// ValueType is the data type a tag reports.
type ValueType uint8

// Supported value types.
const (
	TypeBoolean ValueType = iota
	TypeFloat
	TypeInt
)

var typeNames = [...]string{
	TypeBoolean: "boolean",
	TypeFloat:   "float",
	TypeInt:     "int",
}

// ValueTypes lists every supported value type.
func ValueTypes() []ValueType {
	return []ValueType{TypeBoolean, TypeFloat, TypeInt}
}

// ParseValueType resolves "boolean", "float" or "int".
func ParseValueType(name string) (ValueType, error) {
	for t, n := range typeNames {
		if n == name {
			return ValueType(t), nil
		}
	}
	return TypeBoolean, fmt.Errorf("%w: %q", ErrInvalidType, name)
}

// String returns the value type name.
func (t ValueType) String() string {
	if int(t) >= len(typeNames) {
		return "unknown"
	}
	return typeNames[t]
}

// MarshalJSON encodes the value type name.
func (t ValueType) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(t.String())), nil
}

// UnmarshalJSON decodes a value type name.
func (t *ValueType) UnmarshalJSON(data []byte) error {
	s, err := strconv.Unquote(string(data))
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidType, data)
	}
	parsed, err := ParseValueType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
