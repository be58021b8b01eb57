package parser

import (
	"strings"
	"testing"

	"github.com/conductorhq/conductor/internal/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, raw string) *Document {
	t.Helper()
	doc, err := Parse([]byte(raw))
	require.NoError(t, err)
	return doc
}

func TestParseMalformedDocument(t *testing.T) {
	_, err := Parse([]byte(`{"id": "x", "nodes": [`))
	require.Error(t, err)
	assert.Equal(t, contracts.KindGraphValidation, contracts.KindOf(err))
}

func TestParseAppliesDefaults(t *testing.T) {
	doc := mustParse(t, `{
		"id": "wf",
		"startNode": "a",
		"nodes": [
			{"id": "a", "actionType": "core.echo", "edges": [{"targetNode": "b"}]},
			{"id": "b", "actionType": "core.echo"}
		]
	}`)

	a := doc.Node("a")
	require.NotNil(t, a)
	assert.Equal(t, RoutePolicyParallel, a.RoutePolicy)
	assert.NotNil(t, a.Parameters)
	assert.Equal(t, WhenSuccess, a.Edges[0].When)

	assert.Nil(t, doc.Node("missing"))
}

func TestValidateGraphValidDocument(t *testing.T) {
	doc := mustParse(t, `{
		"id": "wf",
		"startNode": "a",
		"nodes": [
			{"id": "a", "actionType": "core.echo", "edges": [
				{"targetNode": "b"},
				{"targetNode": "c", "when": "failure"}
			]},
			{"id": "b", "actionType": "core.echo", "edges": [{"targetNode": "d"}]},
			{"id": "c", "actionType": "core.echo", "edges": [{"targetNode": "d"}]},
			{"id": "d", "actionType": "core.echo"}
		]
	}`)

	assert.Empty(t, ValidateGraph(doc))
}

func TestValidateGraphStructuralErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			"no nodes",
			`{"id": "wf", "startNode": "a", "nodes": []}`,
			"workflow has no nodes",
		},
		{
			"duplicate node id",
			`{"id": "wf", "startNode": "a", "nodes": [
				{"id": "a", "actionType": "core.echo"},
				{"id": "a", "actionType": "core.echo"}
			]}`,
			`duplicate node id "a"`,
		},
		{
			"missing startNode",
			`{"id": "wf", "nodes": [{"id": "a", "actionType": "core.echo"}]}`,
			"startNode is required",
		},
		{
			"unknown startNode",
			`{"id": "wf", "startNode": "zzz", "nodes": [{"id": "a", "actionType": "core.echo"}]}`,
			`startNode "zzz" is not a node`,
		},
		{
			"edge to unknown node",
			`{"id": "wf", "startNode": "a", "nodes": [
				{"id": "a", "actionType": "core.echo", "edges": [{"targetNode": "ghost"}]}
			]}`,
			`edge to unknown node "ghost"`,
		},
		{
			"invalid when",
			`{"id": "wf", "startNode": "a", "nodes": [
				{"id": "a", "actionType": "core.echo", "edges": [{"targetNode": "a", "when": "sometimes"}]}
			]}`,
			`invalid when "sometimes"`,
		},
		{
			"onFailure to unknown node",
			`{"id": "wf", "startNode": "a", "nodes": [
				{"id": "a", "actionType": "core.echo", "onFailure": "ghost"}
			]}`,
			`onFailure pointing to unknown node "ghost"`,
		},
		{
			"invalid routePolicy",
			`{"id": "wf", "startNode": "a", "nodes": [
				{"id": "a", "actionType": "core.echo", "routePolicy": "roundRobin"}
			]}`,
			`invalid routePolicy "roundRobin"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := ValidateGraph(mustParse(t, tt.raw))
			require.NotEmpty(t, errs)

			found := false
			for _, e := range errs {
				if strings.Contains(e, tt.want) {
					found = true
				}
			}
			assert.True(t, found, "expected %q in %v", tt.want, errs)
		})
	}
}

func TestValidateGraphDetectsCycle(t *testing.T) {
	doc := mustParse(t, `{
		"id": "wf",
		"startNode": "a",
		"nodes": [
			{"id": "a", "actionType": "core.echo", "edges": [{"targetNode": "b"}]},
			{"id": "b", "actionType": "core.echo", "edges": [{"targetNode": "c"}]},
			{"id": "c", "actionType": "core.echo", "edges": [{"targetNode": "a"}]}
		]
	}`)

	errs := ValidateGraph(doc)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "cycle detected")
}

func TestValidateGraphCycleThroughOnFailure(t *testing.T) {
	doc := mustParse(t, `{
		"id": "wf",
		"startNode": "a",
		"nodes": [
			{"id": "a", "actionType": "core.echo", "edges": [{"targetNode": "b"}]},
			{"id": "b", "actionType": "core.echo", "onFailure": "a"}
		]
	}`)

	errs := ValidateGraph(doc)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "cycle detected")
}

func TestValidateGraphUnreachableNodes(t *testing.T) {
	doc := mustParse(t, `{
		"id": "wf",
		"startNode": "a",
		"nodes": [
			{"id": "a", "actionType": "core.echo"},
			{"id": "island", "actionType": "core.echo"}
		]
	}`)

	errs := ValidateGraph(doc)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], `node "island" is unreachable`)
}
