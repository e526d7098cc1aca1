package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrChainNotFound is returned when a chain id cannot be resolved
var ErrChainNotFound = errors.New("chain not found")

// Node is one unit of work in a chain
type Node struct {
	ID     string         `json:"id" yaml:"id"`
	Type   NodeType       `json:"type" yaml:"type"`
	Name   string         `json:"name" yaml:"name"`
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// Connection links an output port of one node to an input port of another
type Connection struct {
	ID         string `json:"id" yaml:"id"`
	FromNodeID string `json:"fromNodeId" yaml:"fromNodeId"`
	FromPort   Port   `json:"fromPort" yaml:"fromPort"`
	ToNodeID   string `json:"toNodeId" yaml:"toNodeId"`
	ToPort     Port   `json:"toPort" yaml:"toPort"`
}

// SourcePort returns the connection's fromPort, defaulting to "out"
func (c Connection) SourcePort() Port {
	if c.FromPort == "" {
		return PortOut
	}
	return c.FromPort
}

// Chain is a directed graph of nodes and ported connections
type Chain struct {
	ID          string       `json:"id" yaml:"id"`
	Name        string       `json:"name" yaml:"name"`
	Description string       `json:"description" yaml:"description"`
	Nodes       []Node       `json:"nodes" yaml:"nodes"`
	Connections []Connection `json:"connections" yaml:"connections"`

	CreatedAt  time.Time  `json:"createdAt" yaml:"-"`
	UpdatedAt  time.Time  `json:"updatedAt" yaml:"-"`
	RunCount   int        `json:"runCount" yaml:"-"`
	LastRunAt  *time.Time `json:"lastRunAt,omitempty" yaml:"-"`
	LastStatus RunStatus  `json:"lastStatus,omitempty" yaml:"-"`
	ScheduleID string     `json:"scheduleId,omitempty" yaml:"-"`
	Tags       []string   `json:"tags" yaml:"tags,omitempty"`
}

// Node returns the node with the given id, or nil
func (c *Chain) Node(id string) *Node {
	for i := range c.Nodes {
		if c.Nodes[i].ID == id {
			return &c.Nodes[i]
		}
	}
	return nil
}

// StartNodes returns every node of type start
func (c *Chain) StartNodes() []*Node {
	var starts []*Node
	for i := range c.Nodes {
		if c.Nodes[i].Type == NodeStart {
			starts = append(starts, &c.Nodes[i])
		}
	}
	return starts
}

// Clone deep-copies the chain so a run can own a private snapshot.
// Config maps and slices are copied recursively; scalars are shared.
func (c *Chain) Clone() *Chain {
	out := *c
	out.Nodes = make([]Node, len(c.Nodes))
	for i, n := range c.Nodes {
		out.Nodes[i] = Node{ID: n.ID, Type: n.Type, Name: n.Name, Config: cloneConfig(n.Config)}
	}
	out.Connections = append([]Connection(nil), c.Connections...)
	out.Tags = append([]string(nil), c.Tags...)
	if c.LastRunAt != nil {
		t := *c.LastRunAt
		out.LastRunAt = &t
	}
	return &out
}

func cloneConfig(cfg map[string]any) map[string]any {
	if cfg == nil {
		return nil
	}
	out := make(map[string]any, len(cfg))
	for k, v := range cfg {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch vv := v.(type) {
	case map[string]any:
		return cloneConfig(vv)
	case []any:
		out := make([]any, len(vv))
		for i, item := range vv {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), vv...)
	case map[string]string:
		out := make(map[string]string, len(vv))
		for k, s := range vv {
			out[k] = s
		}
		return out
	default:
		return v
	}
}

// ConfigString reads key from cfg as a string.
// Numbers and booleans are formatted; missing keys yield "".
func ConfigString(cfg map[string]any, key string) string {
	v, ok := cfg[key]
	if !ok || v == nil {
		return ""
	}
	switch vv := v.(type) {
	case string:
		return vv
	case float64:
		return strconv.FormatFloat(vv, 'f', -1, 64)
	case int:
		return strconv.Itoa(vv)
	case int64:
		return strconv.FormatInt(vv, 10)
	case bool:
		return strconv.FormatBool(vv)
	default:
		data, err := json.Marshal(vv)
		if err != nil {
			return fmt.Sprint(vv)
		}
		return string(data)
	}
}

// ConfigInt reads key from cfg as an int, returning def when absent or unparsable
func ConfigInt(cfg map[string]any, key string, def int) int {
	v, ok := cfg[key]
	if !ok || v == nil {
		return def
	}
	switch vv := v.(type) {
	case int:
		return vv
	case int64:
		return int(vv)
	case float64:
		return int(vv)
	case string:
		if vv == "" {
			return def
		}
		if i, err := strconv.Atoi(vv); err == nil {
			return i
		}
		if f, err := strconv.ParseFloat(vv, 64); err == nil {
			return int(f)
		}
	}
	return def
}

// ConfigBool reads key from cfg as a bool
func ConfigBool(cfg map[string]any, key string) bool {
	switch vv := cfg[key].(type) {
	case bool:
		return vv
	case string:
		b, _ := strconv.ParseBool(vv)
		return b
	}
	return false
}

// ConfigStringMap reads key from cfg as a string map. A JSON object encoded
// as a string is accepted too, since editors often store headers that way.
func ConfigStringMap(cfg map[string]any, key string) map[string]string {
	out := map[string]string{}
	switch vv := cfg[key].(type) {
	case map[string]string:
		for k, s := range vv {
			out[k] = s
		}
	case map[string]any:
		for k := range vv {
			out[k] = ConfigString(vv, k)
		}
	case string:
		if vv == "" {
			return out
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(vv), &m); err == nil {
			for k := range m {
				out[k] = ConfigString(m, k)
			}
		}
	}
	return out
}
