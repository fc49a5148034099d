// Package mapping linearizes the parent/child adjacency graph found in
// conversation export files. Exports in the wild contain cycles, dangling
// parent references and self-referential nodes, so the walk must terminate
// and visit every node regardless of graph shape.
package mapping

import (
	"bytes"
	"encoding/json"
	"sort"
)

// Node is one entry of the mapping graph.
type Node struct {
	Parent   *string         `json:"parent"`
	Children []string        `json:"children"`
	Message  json.RawMessage `json:"message"`
}

// Payload is an embedded message payload tagged with its position in the
// graph.
type Payload struct {
	NodeID   string
	ParentID string
	Message  json.RawMessage
}

// Extract walks the mapping depth-first and returns every embedded message
// payload exactly once. Roots are nodes with no parent, an absent parent,
// or a self-referential one. Nodes unreachable from any root are swept
// afterwards in sorted-id order so the output is deterministic.
func Extract(mapping map[string]Node) []Payload {
	if len(mapping) == 0 {
		return nil
	}

	var roots []string
	for id, node := range mapping {
		p := node.Parent
		if p == nil || *p == "" || *p == id {
			roots = append(roots, id)
			continue
		}
		if _, ok := mapping[*p]; !ok {
			roots = append(roots, id)
		}
	}
	sort.Strings(roots)

	// A fully cyclic mapping has no roots; seed from an arbitrary single
	// node so the walk still covers the cycle.
	stack := roots
	if len(stack) == 0 {
		stack = sortedIDs(mapping)[:1]
	}

	visited := make(map[string]bool, len(mapping))
	var out []Payload

	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if visited[id] {
			continue
		}
		node, ok := mapping[id]
		if !ok {
			continue
		}
		visited[id] = true

		if hasMessage(node.Message) {
			out = append(out, Payload{
				NodeID:   id,
				ParentID: parentID(node),
				Message:  node.Message,
			})
		}

		// Push children reversed so they pop left-to-right.
		for i := len(node.Children) - 1; i >= 0; i-- {
			c := node.Children[i]
			if c == "" || c == id || visited[c] {
				continue
			}
			stack = append(stack, c)
		}
	}

	// Orphan sweep: emit anything the walk never reached.
	if len(visited) < len(mapping) {
		for _, id := range sortedIDs(mapping) {
			if visited[id] {
				continue
			}
			visited[id] = true
			node := mapping[id]
			if hasMessage(node.Message) {
				out = append(out, Payload{
					NodeID:   id,
					ParentID: parentID(node),
					Message:  node.Message,
				})
			}
		}
	}

	return out
}

func parentID(n Node) string {
	if n.Parent == nil {
		return ""
	}
	return *n.Parent
}

func hasMessage(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

func sortedIDs(mapping map[string]Node) []string {
	ids := make([]string, 0, len(mapping))
	for id := range mapping {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
