package tabulation_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openelect/results-tabulation/tabulation"
)

func TestTree_AddChildIsIdempotent(t *testing.T) {
	// GIVEN: An existing parent/child edge
	// WHEN: The same edge is declared again
	// THEN: No error and no duplicate; the child's figures would be counted
	//       once

	engine, _ := newTestEngine(t)
	ctx := context.Background()
	parent := newDerivedSheet(t, engine)
	child := newEntrySheet(t, engine, centre1ID)

	require.NoError(t, engine.AddChild(ctx, parent.ID, child.ID))
	require.NoError(t, engine.AddChild(ctx, parent.ID, child.ID))

	children, err := engine.Children(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, []tabulation.TallySheetID{child.ID}, children)
}

func TestTree_DuplicateEdgeCountsOnce(t *testing.T) {
	// GIVEN: A child locked with 10 votes and declared twice
	// WHEN: The parent aggregates
	// THEN: The figure is 10, not 20

	engine, _ := newTestEngine(t)
	ctx := context.Background()

	child := newEntrySheet(t, engine, centre1ID)
	enterAndLock(t, engine, child, candidateVotes(t, map[tabulation.CandidateID]string{"cand-1": "10"}))

	parent := newDerivedSheet(t, engine)
	require.NoError(t, engine.AddChild(ctx, parent.ID, child.ID))
	require.NoError(t, engine.AddChild(ctx, parent.ID, child.ID))

	version, err := engine.CreateVersion(ctx, parent.ID, nil, verifier)
	require.NoError(t, err)

	byCandidate := rowsByCandidate(version.Rows)
	assert.Equal(t, "10", byCandidate["cand-1"].NumValue.String())
}

func TestTree_SelfEdgeRejected(t *testing.T) {
	// GIVEN: A sheet
	// WHEN: It is declared as its own child
	// THEN: The edge is rejected

	engine, _ := newTestEngine(t)
	ctx := context.Background()
	sheet := newDerivedSheet(t, engine)

	err := engine.AddChild(ctx, sheet.ID, sheet.ID)
	assert.True(t, tabulation.IsWorkflow(err))
}

func TestTree_CycleRejected(t *testing.T) {
	// GIVEN: Edges a->b and b->c
	// WHEN: Declaring c->a
	// THEN: The edge is rejected; the existing edges are untouched

	engine, _ := newTestEngine(t)
	ctx := context.Background()
	a := newDerivedSheet(t, engine)
	b := newDerivedSheet(t, engine)
	c := newDerivedSheet(t, engine)

	require.NoError(t, engine.AddChild(ctx, a.ID, b.ID))
	require.NoError(t, engine.AddChild(ctx, b.ID, c.ID))

	err := engine.AddChild(ctx, c.ID, a.ID)
	assert.True(t, tabulation.IsWorkflow(err))

	children, err := engine.Children(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, children)
}

func TestTree_DiamondIsAllowed(t *testing.T) {
	// GIVEN: Two parents sharing one child (a DAG, not a tree)
	// WHEN: Both edges are declared
	// THEN: Both succeed; sharing a child is not a cycle

	engine, _ := newTestEngine(t)
	ctx := context.Background()
	parent1 := newDerivedSheet(t, engine)
	parent2 := newDerivedSheet(t, engine)
	child := newEntrySheet(t, engine, centre1ID)

	require.NoError(t, engine.AddChild(ctx, parent1.ID, child.ID))
	require.NoError(t, engine.AddChild(ctx, parent2.ID, child.ID))
}

func TestTree_AddParentMirrorsAddChild(t *testing.T) {
	// GIVEN: A child declaring its parent
	// WHEN: AddParent runs
	// THEN: The parent's child list contains the child

	engine, _ := newTestEngine(t)
	ctx := context.Background()
	parent := newDerivedSheet(t, engine)
	child := newEntrySheet(t, engine, centre1ID)

	require.NoError(t, engine.AddParent(ctx, child.ID, parent.ID))

	children, err := engine.Children(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, []tabulation.TallySheetID{child.ID}, children)
}

func TestTree_MissingSheetRejected(t *testing.T) {
	// GIVEN: An existing parent
	// WHEN: Declaring an edge to a sheet that does not exist
	// THEN: Not-found is reported

	engine, _ := newTestEngine(t)
	ctx := context.Background()
	parent := newDerivedSheet(t, engine)

	err := engine.AddChild(ctx, parent.ID, "no-such-sheet")
	assert.True(t, tabulation.IsNotFound(err))
}
