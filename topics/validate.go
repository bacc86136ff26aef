// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package topics

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// Validation errors.
var (
	ErrInvalidName   = errors.New("invalid topic name")
	ErrInvalidFilter = errors.New("invalid topic filter")
)

// ValidateName checks a topic used for publishing: non-empty UTF-8 without wildcards
// or NUL characters.
func ValidateName(topic string) error {
	if topic == "" || !utf8.ValidString(topic) {
		return ErrInvalidName
	}
	if strings.ContainsAny(topic, "+#\x00") {
		return ErrInvalidName
	}
	return nil
}

// ValidateFilter checks an MQTT subscription filter. '#' may only appear as the last
// level and wildcards must occupy a whole level.
func ValidateFilter(filter string) error {
	if _, f, ok := ParseShared(filter); ok {
		filter = f
	}
	if filter == "" || !utf8.ValidString(filter) || strings.ContainsRune(filter, 0) {
		return ErrInvalidFilter
	}
	levels := strings.Split(filter, "/")
	for i, l := range levels {
		if strings.ContainsAny(l, "+#") && len(l) > 1 {
			return ErrInvalidFilter
		}
		if l == "#" && i != len(levels)-1 {
			return ErrInvalidFilter
		}
	}
	return nil
}
