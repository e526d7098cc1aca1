// Package vars holds the per-run variable scope and {{name}} interpolation.
package vars

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	// Prev always holds the raw output of the most recently executed node
	Prev = "prev"
	// LoopIndex resolves to the index of the innermost active loop
	LoopIndex = "loop_index"
)

var tokenRegex = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)

type loopFrame struct {
	nodeID string
	index  int
}

// Store maps variable names to string values for a single run.
// A Store belongs to exactly one run and is not safe for concurrent use.
type Store struct {
	values map[string]string
	loops  []loopFrame
}

// New creates a store seeded with the given values
func New(seed map[string]string) *Store {
	s := &Store{values: make(map[string]string, len(seed)+1)}
	for k, v := range seed {
		s.values[k] = v
	}
	return s
}

// Get returns the value of name. Loop indices are resolved from the loop stack.
func (s *Store) Get(name string) (string, bool) {
	if name == LoopIndex {
		if len(s.loops) == 0 {
			return "", false
		}
		return strconv.Itoa(s.loops[len(s.loops)-1].index), true
	}
	if nodeID, ok := strings.CutPrefix(name, LoopIndex+"."); ok {
		for i := len(s.loops) - 1; i >= 0; i-- {
			if s.loops[i].nodeID == nodeID {
				return strconv.Itoa(s.loops[i].index), true
			}
		}
		return "", false
	}
	v, ok := s.values[name]
	return v, ok
}

// Set stores value under name
func (s *Store) Set(name, value string) {
	s.values[name] = value
}

// SetPrev records the output of the node that just finished
func (s *Store) SetPrev(output string) {
	s.values[Prev] = output
}

// Snapshot returns a copy of all plain variables. Loop indices are not included.
func (s *Store) Snapshot() map[string]string {
	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// PushLoop enters a loop node; its index starts at 0
func (s *Store) PushLoop(nodeID string) {
	s.loops = append(s.loops, loopFrame{nodeID: nodeID})
}

// SetLoopIndex sets the index of the innermost loop
func (s *Store) SetLoopIndex(i int) {
	if len(s.loops) == 0 {
		return
	}
	s.loops[len(s.loops)-1].index = i
}

// PopLoop leaves the innermost loop
func (s *Store) PopLoop() {
	if len(s.loops) == 0 {
		return
	}
	s.loops = s.loops[:len(s.loops)-1]
}

// LoopDepth returns how many loops are active
func (s *Store) LoopDepth() int {
	return len(s.loops)
}

// Interpolate substitutes every {{name}} token with its current value.
// Unknown names become the empty string; interpolation never fails.
func (s *Store) Interpolate(text string) string {
	if !strings.Contains(text, "{{") {
		return text
	}
	return tokenRegex.ReplaceAllStringFunc(text, func(tok string) string {
		name := tokenRegex.FindStringSubmatch(tok)[1]
		v, _ := s.Get(name)
		return v
	})
}

// InterpolateConfig returns a copy of cfg with every string value interpolated,
// descending into nested maps and slices.
func (s *Store) InterpolateConfig(cfg map[string]any) map[string]any {
	if cfg == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(cfg))
	for k, v := range cfg {
		out[k] = s.interpolateValue(v)
	}
	return out
}

func (s *Store) interpolateValue(v any) any {
	switch vv := v.(type) {
	case string:
		return s.Interpolate(vv)
	case map[string]any:
		return s.InterpolateConfig(vv)
	case map[string]string:
		out := make(map[string]string, len(vv))
		for k, str := range vv {
			out[k] = s.Interpolate(str)
		}
		return out
	case []any:
		out := make([]any, len(vv))
		for i, item := range vv {
			out[i] = s.interpolateValue(item)
		}
		return out
	case []string:
		out := make([]string, len(vv))
		for i, str := range vv {
			out[i] = s.Interpolate(str)
		}
		return out
	default:
		return v
	}
}
