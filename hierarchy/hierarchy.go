// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package hierarchy

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-json"
)

// Levels below the namespace: enterprise, site, area, line, cell, tag group and tag.
const levels = 7

// Hierarchy errors.
var (
	ErrEmptyLevel   = errors.New("hierarchy level has no children")
	ErrEmptyName    = errors.New("hierarchy node has an empty name")
	ErrInvalidName  = errors.New("hierarchy node name contains a separator")
	ErrInvalidUnit  = errors.New("invalid unit")
	ErrInvalidType  = errors.New("invalid value type")
	ErrNoNamespace  = errors.New("hierarchy namespace cannot be empty")
	ErrInvalidInput = errors.New("invalid hierarchy definition")
)

//go:embed powerplant.json
var powerplant []byte

// Hierarchy is the immutable topic namespace tree. After loading it is only read, so one
// value can be shared by any number of generator goroutines.
type Hierarchy struct {
	Namespace   string       `json:"namespace"`
	Enterprises []Enterprise `json:"enterprises"`
}

// Enterprise is the first level below the namespace.
type Enterprise struct {
	Name  string `json:"name"`
	Sites []Site `json:"sites"`
}

// Site is a physical location of an enterprise.
type Site struct {
	Name  string `json:"name"`
	Areas []Area `json:"areas"`
}

// Area groups production lines of a site.
type Area struct {
	Name  string `json:"name"`
	Lines []Line `json:"productionLines"`
}

// Line is a production line.
type Line struct {
	Name  string `json:"name"`
	Cells []Cell `json:"workCells"`
}

// Cell is a work cell on a production line.
type Cell struct {
	Name      string     `json:"name"`
	TagGroups []TagGroup `json:"tagGroups"`
}

// TagGroup groups related tags of a work cell.
type TagGroup struct {
	Name string `json:"name"`
	Tags []Tag  `json:"tags"`
}

// Tag is a leaf: a single measured value.
type Tag struct {
	Name string    `json:"name"`
	Unit Unit      `json:"unit"`
	Type ValueType `json:"type"`
}

// Default returns the embedded power plant hierarchy.
func Default() (*Hierarchy, error) {
	return Parse(powerplant)
}

// Load reads a hierarchy definition from a JSON file.
// An empty path returns the embedded default.
func Load(path string) (*Hierarchy, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read hierarchy file: %w", err)
	}
	h, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return h, nil
}

// Parse decodes and validates a JSON hierarchy definition.
func Parse(data []byte) (*Hierarchy, error) {
	var h Hierarchy
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if err := h.Validate(); err != nil {
		return nil, err
	}
	return &h, nil
}

// NamespaceSegments returns the dot separated namespace segments.
func (h *Hierarchy) NamespaceSegments() []string {
	return strings.Split(h.Namespace, ".")
}

// Depth returns the number of path segments of every generated topic.
func (h *Hierarchy) Depth() int {
	return len(h.NamespaceSegments()) + levels
}

// Leaves returns the number of distinct tags in the tree.
func (h *Hierarchy) Leaves() int {
	n := 0
	h.walk(func(_ string, t Tag) { n++ })
	return n
}

// Tags returns every tag keyed by its path below the namespace.
func (h *Hierarchy) Tags() map[string]Tag {
	out := make(map[string]Tag)
	h.walk(func(path string, t Tag) { out[path] = t })
	return out
}

func (h *Hierarchy) walk(fn func(path string, t Tag)) {
	for _, e := range h.Enterprises {
		for _, s := range e.Sites {
			for _, a := range s.Areas {
				for _, l := range a.Lines {
					for _, c := range l.Cells {
						for _, g := range c.TagGroups {
							for _, t := range g.Tags {
								fn(strings.Join([]string{e.Name, s.Name, a.Name, l.Name, c.Name, g.Name, t.Name}, "."), t)
							}
						}
					}
				}
			}
		}
	}
}

// Validate checks that every level reachable during generation has at least one child
// and that every name is a single non-empty path segment.
func (h *Hierarchy) Validate() error {
	if h.Namespace == "" {
		return ErrNoNamespace
	}
	for _, seg := range h.NamespaceSegments() {
		if err := checkName("namespace", seg); err != nil {
			return err
		}
	}
	if len(h.Enterprises) == 0 {
		return fmt.Errorf("%w: %s has no enterprises", ErrEmptyLevel, h.Namespace)
	}
	for _, e := range h.Enterprises {
		p := h.Namespace
		if err := checkNode(p, e.Name, len(e.Sites), "sites"); err != nil {
			return err
		}
		p += "." + e.Name
		for _, s := range e.Sites {
			if err := checkNode(p, s.Name, len(s.Areas), "areas"); err != nil {
				return err
			}
			sp := p + "." + s.Name
			for _, a := range s.Areas {
				if err := checkNode(sp, a.Name, len(a.Lines), "production lines"); err != nil {
					return err
				}
				ap := sp + "." + a.Name
				for _, l := range a.Lines {
					if err := checkNode(ap, l.Name, len(l.Cells), "work cells"); err != nil {
						return err
					}
					lp := ap + "." + l.Name
					for _, c := range l.Cells {
						if err := checkNode(lp, c.Name, len(c.TagGroups), "tag groups"); err != nil {
							return err
						}
						cp := lp + "." + c.Name
						for _, g := range c.TagGroups {
							if err := checkNode(cp, g.Name, len(g.Tags), "tags"); err != nil {
								return err
							}
							gp := cp + "." + g.Name
							for _, t := range g.Tags {
								if err := checkName(gp, t.Name); err != nil {
									return err
								}
							}
						}
					}
				}
			}
		}
	}
	return nil
}

func checkNode(parent, name string, children int, kind string) error {
	if err := checkName(parent, name); err != nil {
		return err
	}
	if children == 0 {
		return fmt.Errorf("%w: %s.%s has no %s", ErrEmptyLevel, parent, name, kind)
	}
	return nil
}

func checkName(parent, name string) error {
	if name == "" {
		return fmt.Errorf("%w: below %s", ErrEmptyName, parent)
	}
	if strings.ContainsAny(name, "./#+*> ") {
		return fmt.Errorf("%w: %s.%q", ErrInvalidName, parent, name)
	}
	return nil
}
