package snapshot

import (
	"fmt"

	"github.com/chromedp/cdproto/accessibility"

	"github.com/xkilldash9x/mender/api/schemas"
)

// BuildAXTree nests the flat node list CDP returns. Ignored nodes are dropped
// and their children lifted into the nearest kept ancestor. Returns nil for
// an empty list.
func BuildAXTree(nodes []*accessibility.Node) *schemas.AXNode {
	if len(nodes) == 0 {
		return nil
	}
	byID := make(map[accessibility.NodeID]*accessibility.Node, len(nodes))
	for _, n := range nodes {
		if n != nil {
			byID[n.NodeID] = n
		}
	}

	var root *accessibility.Node
	for _, n := range nodes {
		if n == nil {
			continue
		}
		if _, hasParent := byID[n.ParentID]; n.ParentID == "" || !hasParent {
			root = n
			break
		}
	}
	if root == nil {
		return nil
	}

	visited := make(map[accessibility.NodeID]bool, len(nodes))
	built := buildNode(root, byID, visited)
	switch len(built) {
	case 0:
		return nil
	case 1:
		return built[0]
	default:
		return &schemas.AXNode{Role: "RootWebArea", Children: built}
	}
}

// buildNode returns the kept nodes for n: n itself, or its lifted children
// when n is ignored.
func buildNode(n *accessibility.Node, byID map[accessibility.NodeID]*accessibility.Node, visited map[accessibility.NodeID]bool) []*schemas.AXNode {
	if visited[n.NodeID] {
		return nil
	}
	visited[n.NodeID] = true

	var children []*schemas.AXNode
	for _, id := range n.ChildIDs {
		child, ok := byID[id]
		if !ok {
			continue
		}
		children = append(children, buildNode(child, byID, visited)...)
	}

	if n.Ignored {
		return children
	}

	out := &schemas.AXNode{
		Role:        valueString(n.Role),
		Name:        valueString(n.Name),
		Value:       valueString(n.Value),
		Description: valueString(n.Description),
		Children:    children,
	}
	if len(n.Properties) > 0 {
		out.Properties = make(map[string]interface{}, len(n.Properties))
		for _, p := range n.Properties {
			if p == nil || p.Value == nil {
				continue
			}
			out.Properties[string(p.Name)] = decodeValue([]byte(p.Value.Value))
		}
	}
	return []*schemas.AXNode{out}
}

func valueString(v *accessibility.Value) string {
	if v == nil {
		return ""
	}
	switch d := decodeValue([]byte(v.Value)).(type) {
	case nil:
		return ""
	case string:
		return d
	default:
		return fmt.Sprint(d)
	}
}
