// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package topics

import "strings"

const sharePrefix = "$share/"

// Shared builds a shared subscription filter so that subscribers in group split the
// messages matching filter between them. An empty group returns filter unchanged.
func Shared(group, filter string) string {
	if group == "" {
		return filter
	}
	return sharePrefix + group + "/" + filter
}

// ParseShared splits a shared subscription filter of the form $share/{group}/{filter}.
//
// Examples:
//   - "$share/bench/umh/v1/#" -> ("bench", "umh/v1/#", true)
//   - "umh/v1/#" -> ("", "umh/v1/#", false)
func ParseShared(filter string) (group, topicFilter string, ok bool) {
	rest, found := strings.CutPrefix(filter, sharePrefix)
	if !found {
		return "", filter, false
	}
	group, topicFilter, found = strings.Cut(rest, "/")
	if !found || group == "" || topicFilter == "" {
		return "", filter, false
	}
	return group, topicFilter, true
}
