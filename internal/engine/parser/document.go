package parser

import (
	"encoding/json"
	"fmt"

	"github.com/conductorhq/conductor/internal/contracts"
)

const (
	RoutePolicyParallel   = "parallel"
	RoutePolicyFirstMatch = "firstMatch"
)

const (
	WhenSuccess = "success"
	WhenFailure = "failure"
	WhenAlways  = "always"
)

// Document is the deserialized workflow definition. Parameter subtrees
// stay as parsed JSON values; nothing is coerced until render time.
type Document struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Description string `json:"description,omitempty"`
	StartNode   string `json:"startNode"`
	Nodes       []Node `json:"nodes"`
}

type Node struct {
	ID             string                 `json:"id"`
	ActionType     string                 `json:"actionType"`
	DisplayName    string                 `json:"displayName,omitempty"`
	Parameters     map[string]interface{} `json:"parameters,omitempty"`
	Edges          []Edge                 `json:"edges,omitempty"`
	RoutePolicy    string                 `json:"routePolicy,omitempty"`
	Policies       Policies               `json:"policies,omitempty"`
	OnFailure      string                 `json:"onFailure,omitempty"`
	TimeoutSeconds int                    `json:"timeoutSeconds,omitempty"`
}

type Edge struct {
	TargetNode string `json:"targetNode"`
	When       string `json:"when,omitempty"`
	Condition  string `json:"condition,omitempty"`
}

type Policies struct {
	RerenderOnRetry bool `json:"rerenderOnRetry,omitempty"`
}

// Parse deserializes a definition document. It fails fast on malformed
// JSON and normalizes defaults (when=success, routePolicy=parallel) so
// downstream code never sees empty enums.
func Parse(raw []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, contracts.NewError(contracts.KindGraphValidation, fmt.Sprintf("malformed definition document: %v", err), err)
	}

	for i := range doc.Nodes {
		node := &doc.Nodes[i]
		if node.RoutePolicy == "" {
			node.RoutePolicy = RoutePolicyParallel
		}
		if node.Parameters == nil {
			node.Parameters = map[string]interface{}{}
		}
		for j := range node.Edges {
			if node.Edges[j].When == "" {
				node.Edges[j].When = WhenSuccess
			}
		}
	}

	return &doc, nil
}

// Node returns the node with the given id, or nil.
func (d *Document) Node(id string) *Node {
	for i := range d.Nodes {
		if d.Nodes[i].ID == id {
			return &d.Nodes[i]
		}
	}
	return nil
}
