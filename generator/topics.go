// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package generator

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"strconv"
	"strings"

	"github.com/absmach/fluxbench/hierarchy"
)

// Site numbers model several physical plants sharing one site definition.
const maxSiteNumber = 4

// GenerateTopics draws count topics from h. Every topic walks the tree from the
// namespace to a tag, choosing one child uniformly at each level; a site number in
// [1, 4] is appended to the site name.
func GenerateTopics(h *hierarchy.Hierarchy, count int, rng *rand.Rand) ([]TopicRecord, error) {
	if count <= 0 {
		return nil, ErrNoTopics
	}
	if h == nil || h.Namespace == "" {
		return nil, hierarchy.ErrNoNamespace
	}

	records := make([]TopicRecord, 0, count)
	var sb strings.Builder
	for i := 0; i < count; i++ {
		sb.Reset()
		rec, err := drawTopic(h, rng, &sb)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func drawTopic(h *hierarchy.Hierarchy, rng *rand.Rand, sb *strings.Builder) (TopicRecord, error) {
	sb.WriteString(h.Namespace)

	e, err := pick(rng, h.Enterprises, h.Namespace, "enterprises")
	if err != nil {
		return TopicRecord{}, err
	}
	sb.WriteByte('.')
	sb.WriteString(e.Name)

	s, err := pick(rng, e.Sites, sb.String(), "sites")
	if err != nil {
		return TopicRecord{}, err
	}
	sb.WriteByte('.')
	sb.WriteString(s.Name)
	sb.WriteString(strconv.Itoa(rng.IntN(maxSiteNumber) + 1))

	a, err := pick(rng, s.Areas, sb.String(), "areas")
	if err != nil {
		return TopicRecord{}, err
	}
	sb.WriteByte('.')
	sb.WriteString(a.Name)

	l, err := pick(rng, a.Lines, sb.String(), "production lines")
	if err != nil {
		return TopicRecord{}, err
	}
	sb.WriteByte('.')
	sb.WriteString(l.Name)

	c, err := pick(rng, l.Cells, sb.String(), "work cells")
	if err != nil {
		return TopicRecord{}, err
	}
	sb.WriteByte('.')
	sb.WriteString(c.Name)

	g, err := pick(rng, c.TagGroups, sb.String(), "tag groups")
	if err != nil {
		return TopicRecord{}, err
	}
	sb.WriteByte('.')
	sb.WriteString(g.Name)

	t, err := pick(rng, g.Tags, sb.String(), "tags")
	if err != nil {
		return TopicRecord{}, err
	}
	sb.WriteByte('.')
	sb.WriteString(t.Name)

	return TopicRecord{Path: sb.String(), Unit: t.Unit, Type: t.Type}, nil
}

func pick[T any](rng *rand.Rand, items []T, parent, kind string) (T, error) {
	if len(items) == 0 {
		var zero T
		return zero, fmt.Errorf("%w: %s has no %s", hierarchy.ErrEmptyLevel, parent, kind)
	}
	return items[rng.IntN(len(items))], nil
}

// Prefixes returns the sorted set of topic prefixes the records produce when split at
// split segments. These are the broker-side topics a run publishes to.
func Prefixes(records []TopicRecord, split int) ([]string, error) {
	seen := make(map[string]struct{})
	for _, r := range records {
		cut := splitIndex(r.Path, split)
		if cut < 0 {
			return nil, fmt.Errorf("%w: %d for %q", ErrInvalidSplit, split, r.Path)
		}
		seen[r.Path[:cut]] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

// splitIndex returns the byte offset of the split-th dot in path, or -1 when the path
// has too few segments to leave a non-empty remainder.
func splitIndex(path string, split int) int {
	if split < 1 {
		return -1
	}
	n := 0
	for i := 0; i < len(path); i++ {
		if path[i] != '.' {
			continue
		}
		n++
		if n == split {
			if i == len(path)-1 {
				return -1
			}
			return i
		}
	}
	return -1
}
