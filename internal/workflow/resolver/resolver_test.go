package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/stepflow/internal/workflow"
)

func pricingEntries(file, fact, price workflow.Status) []Entry {
	return []Entry{
		{ID: "FILE", Name: "File Processing", Status: file},
		{ID: "FACT", Name: "Fact Processing", Status: fact, Prerequisites: []string{"FILE"}},
		{ID: "PRICE", Name: "Price Processing", Status: price, Prerequisites: []string{"FILE", "FACT"}},
	}
}

func mustResolver(t *testing.T, entries []Entry) *Resolver {
	t.Helper()
	res, err := New(entries)
	require.NoError(t, err)
	return res
}

func mustNode(t *testing.T, res *Resolver, id string) *Node {
	t.Helper()
	node, ok := res.Node(id)
	require.True(t, ok, "missing node %s", id)
	return node
}

func TestResolverSetsStates(t *testing.T) {
	res := mustResolver(t, pricingEntries(workflow.StatusCompleted, workflow.StatusNotStarted, workflow.StatusNotStarted))

	assert.Equal(t, NodeStateComplete, mustNode(t, res, "FILE").State)
	assert.Equal(t, NodeStateReady, mustNode(t, res, "FACT").State)
	price := mustNode(t, res, "PRICE")
	assert.Equal(t, NodeStateBlocked, price.State)
	require.Len(t, price.BlockedBy, 1)
	assert.Equal(t, "FACT", price.BlockedBy[0].ID)
	assert.Equal(t, []string{"FACT"}, ids(res.Ready()))
	assert.Equal(t, []string{"FACT", "PRICE"}, mustNode(t, res, "FILE").Dependents)
}

func TestResolverBlockedReasonsUseNamesAndStatus(t *testing.T) {
	res := mustResolver(t, pricingEntries(workflow.StatusFailed, workflow.StatusNotStarted, workflow.StatusNotStarted))

	blocked := res.Blocked()
	assert.Equal(t, []string{
		"prerequisite 'File Processing' is failed",
		"prerequisite 'Fact Processing' is not-started",
	}, blocked["PRICE"])
	assert.NotContains(t, blocked, "FILE", "failed step without prerequisites must not be blocked")
	assert.True(t, res.CanExecute("FILE", false), "failed step should be retryable")
}

func TestResolverMissingPrerequisite(t *testing.T) {
	res := mustResolver(t, []Entry{{ID: "HAUNTED", Prerequisites: []string{"GHOST"}}})

	assert.False(t, res.CanExecute("HAUNTED", false))
	assert.Equal(t, []string{"prerequisite 'GHOST' not found"}, res.Blocked()["HAUNTED"])
}

func TestResolverCompletedAndRunningNeverBlocked(t *testing.T) {
	res := mustResolver(t, []Entry{
		{ID: "A", Status: workflow.StatusCompleted, Prerequisites: []string{"GHOST"}},
		{ID: "B", Status: workflow.StatusInProgress, Prerequisites: []string{"GHOST"}},
	})
	assert.Empty(t, res.Blocked())
}

func TestResolverReasonsIncludeOwnStatus(t *testing.T) {
	res := mustResolver(t, pricingEntries(workflow.StatusCompleted, workflow.StatusInProgress, workflow.StatusNotStarted))

	assert.Equal(t, []string{"step 'Fact Processing' is in-progress"}, res.Reasons("FACT", false))

	fileReasons := res.Reasons("FILE", false)
	require.Len(t, fileReasons, 1)
	assert.Contains(t, fileReasons[0], "is completed")
	assert.Nil(t, res.Reasons("FILE", true), "rerun of FILE should be allowed")
	assert.True(t, res.CanExecute("FILE", true))
	assert.False(t, res.CanExecute("FILE", false))

	unknown := res.Reasons("NOPE", false)
	require.Len(t, unknown, 1)
	assert.Contains(t, unknown[0], "not found")
}

func TestResolverQueueTargetsOrdersDependencies(t *testing.T) {
	res := mustResolver(t, pricingEntries(workflow.StatusNotStarted, workflow.StatusNotStarted, workflow.StatusNotStarted))

	queue, err := res.Queue("PRICE")
	require.NoError(t, err)
	assert.Equal(t, []string{"FILE", "FACT", "PRICE"}, ids(queue))

	_, err = res.Queue("NOPE")
	assert.Error(t, err)
}

func TestResolverQueueSkipsComplete(t *testing.T) {
	res := mustResolver(t, pricingEntries(workflow.StatusCompleted, workflow.StatusNotStarted, workflow.StatusNotStarted))

	queue, err := res.Queue()
	require.NoError(t, err)
	assert.Equal(t, []string{"FACT", "PRICE"}, ids(queue))
}

func TestResolverCycle(t *testing.T) {
	res := mustResolver(t, []Entry{
		{ID: "A", Prerequisites: []string{"C"}},
		{ID: "B", Prerequisites: []string{"A"}},
		{ID: "C", Prerequisites: []string{"B", "GHOST"}},
		{ID: "D"},
	})
	assert.Equal(t, []string{"A", "C", "B", "A"}, res.Cycle())

	acyclic := mustResolver(t, pricingEntries(workflow.StatusNotStarted, workflow.StatusNotStarted, workflow.StatusNotStarted))
	assert.Nil(t, acyclic.Cycle())
}

func TestResolverRejectsDuplicateEntries(t *testing.T) {
	_, err := New([]Entry{{ID: "A"}, {ID: "A"}})
	assert.Error(t, err)
	_, err = New([]Entry{{ID: ""}})
	assert.Error(t, err)
}

func ids(nodes []*Node) []string {
	out := make([]string, 0, len(nodes))
	for _, node := range nodes {
		out = append(out, node.ID)
	}
	return out
}
