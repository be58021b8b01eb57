package parser

import "fmt"

// ValidateGraph checks the structural invariants of a document and
// returns one message per violation. It is pure: no catalog lookups,
// no expression evaluation.
func ValidateGraph(doc *Document) []string {
	var errs []string

	if len(doc.Nodes) == 0 {
		return []string{"workflow has no nodes"}
	}

	nodes := make(map[string]*Node, len(doc.Nodes))
	for i := range doc.Nodes {
		node := &doc.Nodes[i]
		if _, dup := nodes[node.ID]; dup {
			errs = append(errs, fmt.Sprintf("duplicate node id %q", node.ID))
			continue
		}
		nodes[node.ID] = node
	}

	if doc.StartNode == "" {
		errs = append(errs, "startNode is required")
	} else if _, ok := nodes[doc.StartNode]; !ok {
		errs = append(errs, fmt.Sprintf("startNode %q is not a node", doc.StartNode))
	}

	for i := range doc.Nodes {
		node := &doc.Nodes[i]
		for _, edge := range node.Edges {
			if _, ok := nodes[edge.TargetNode]; !ok {
				errs = append(errs, fmt.Sprintf("node %q has an edge to unknown node %q", node.ID, edge.TargetNode))
			}
			switch edge.When {
			case WhenSuccess, WhenFailure, WhenAlways:
			default:
				errs = append(errs, fmt.Sprintf("node %q has an edge with invalid when %q", node.ID, edge.When))
			}
		}
		if node.OnFailure != "" {
			if _, ok := nodes[node.OnFailure]; !ok {
				errs = append(errs, fmt.Sprintf("node %q has onFailure pointing to unknown node %q", node.ID, node.OnFailure))
			}
		}
		switch node.RoutePolicy {
		case RoutePolicyParallel, RoutePolicyFirstMatch:
		default:
			errs = append(errs, fmt.Sprintf("node %q has invalid routePolicy %q", node.ID, node.RoutePolicy))
		}
	}

	// Structural checks below assume resolvable references.
	if len(errs) > 0 {
		return errs
	}

	if cycle := findCycle(doc, nodes); cycle != "" {
		errs = append(errs, fmt.Sprintf("cycle detected through node %q", cycle))
	}

	for _, id := range unreachable(doc, nodes) {
		errs = append(errs, fmt.Sprintf("node %q is unreachable from startNode", id))
	}

	return errs
}

// successors yields edge targets plus the onFailure fallback, since
// both can schedule the target at runtime.
func successors(node *Node) []string {
	out := make([]string, 0, len(node.Edges)+1)
	for _, edge := range node.Edges {
		out = append(out, edge.TargetNode)
	}
	if node.OnFailure != "" {
		out = append(out, node.OnFailure)
	}
	return out
}

// findCycle runs DFS with a recursion stack and returns a node on the
// first back edge found, or "".
func findCycle(doc *Document, nodes map[string]*Node) string {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[string]int, len(nodes))

	var visit func(id string) string
	visit = func(id string) string {
		state[id] = inStack
		for _, next := range successors(nodes[id]) {
			switch state[next] {
			case inStack:
				return next
			case unvisited:
				if hit := visit(next); hit != "" {
					return hit
				}
			}
		}
		state[id] = done
		return ""
	}

	for i := range doc.Nodes {
		id := doc.Nodes[i].ID
		if state[id] == unvisited {
			if hit := visit(id); hit != "" {
				return hit
			}
		}
	}
	return ""
}

func unreachable(doc *Document, nodes map[string]*Node) []string {
	seen := make(map[string]bool, len(nodes))
	stack := []string{doc.StartNode}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[id] {
			continue
		}
		seen[id] = true
		stack = append(stack, successors(nodes[id])...)
	}

	var missing []string
	for i := range doc.Nodes {
		if !seen[doc.Nodes[i].ID] {
			missing = append(missing, doc.Nodes[i].ID)
		}
	}
	return missing
}
