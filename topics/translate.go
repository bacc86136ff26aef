// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package topics converts between the dotted topic paths used by generated messages and
// the level separated form of MQTT, and matches MQTT style filters.
package topics

import "strings"

// Separators of the two topic forms.
const (
	DotSeparator   = '.'
	LevelSeparator = '/'
)

// ToMQTT translates a dotted path to an MQTT topic.
//
//	'.' -> '/'
func ToMQTT(path string) string {
	if !strings.ContainsRune(path, DotSeparator) {
		return path
	}
	return strings.ReplaceAll(path, ".", "/")
}

// FromMQTT translates an MQTT topic back to a dotted path.
//
//	'/' -> '.'
func FromMQTT(topic string) string {
	if !strings.ContainsRune(topic, LevelSeparator) {
		return topic
	}
	return strings.ReplaceAll(topic, "/", ".")
}

// FilterToMQTT translates a dotted filter with NATS style wildcards to MQTT form.
//
//	'.' -> '/'
//	'*' -> '+'
//	'>' -> '#'
func FilterToMQTT(filter string) string {
	if !strings.ContainsAny(filter, ".*>") {
		return filter
	}

	var b strings.Builder
	b.Grow(len(filter))
	for i := 0; i < len(filter); i++ {
		switch filter[i] {
		case '.':
			b.WriteByte('/')
		case '*':
			b.WriteByte('+')
		case '>':
			b.WriteByte('#')
		default:
			b.WriteByte(filter[i])
		}
	}
	return b.String()
}

// FilterToNATS translates an MQTT filter to a NATS subject filter.
//
//	'/' -> '.'
//	'+' -> '*'
//	'#' -> '>'
func FilterToNATS(filter string) string {
	if !strings.ContainsAny(filter, "/+#") {
		return filter
	}

	var b strings.Builder
	b.Grow(len(filter))
	for i := 0; i < len(filter); i++ {
		switch filter[i] {
		case '/':
			b.WriteByte('.')
		case '+':
			b.WriteByte('*')
		case '#':
			b.WriteByte('>')
		default:
			b.WriteByte(filter[i])
		}
	}
	return b.String()
}

// Subtree returns the MQTT filter matching prefix and everything below it.
func Subtree(prefix string) string {
	return ToMQTT(prefix) + "/#"
}
