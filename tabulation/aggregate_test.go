package tabulation_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openelect/results-tabulation/tabulation"
)

// =============================================================================
// DERIVED AGGREGATION
// =============================================================================

func TestAggregate_SumsLockedChildrenPerCandidate(t *testing.T) {
	// GIVEN: Two counting-centre sheets locked with per-candidate votes
	// WHEN: The division sheet computes a version
	// THEN: Each candidate's figure is the sum over both children

	engine, _ := newTestEngine(t)
	ctx := context.Background()

	child1 := newEntrySheet(t, engine, centre1ID)
	child2 := newEntrySheet(t, engine, centre2ID)
	enterAndLock(t, engine, child1, candidateVotes(t, map[tabulation.CandidateID]string{"cand-1": "10", "cand-2": "1"}))
	enterAndLock(t, engine, child2, candidateVotes(t, map[tabulation.CandidateID]string{"cand-1": "20", "cand-2": "2"}))

	parent := newDerivedSheet(t, engine)
	require.NoError(t, engine.AddChild(ctx, parent.ID, child1.ID))
	require.NoError(t, engine.AddChild(ctx, parent.ID, child2.ID))

	version, err := engine.CreateVersion(ctx, parent.ID, nil, verifier)
	require.NoError(t, err)

	require.Len(t, version.Rows, 2, "one row per registered candidate")
	assert.True(t, version.IsComplete)

	byCandidate := rowsByCandidate(version.Rows)
	require.NotNil(t, byCandidate["cand-1"].NumValue)
	assert.Equal(t, "30", byCandidate["cand-1"].NumValue.String())
	require.NotNil(t, byCandidate["cand-2"].NumValue)
	assert.Equal(t, "3", byCandidate["cand-2"].NumValue.String())

	// Party rides along as a grouped dimension
	require.NotNil(t, byCandidate["cand-1"].PartyID)
	assert.Equal(t, tabulation.PartyID("party-red"), *byCandidate["cand-1"].PartyID)
}

func TestAggregate_UnlockedChildYieldsNullRows(t *testing.T) {
	// GIVEN: One child locked with figures for cand-1 only, and one child
	//        with no locked version at all
	// WHEN: The division sheet computes a version
	// THEN: Every registered candidate still appears; cand-2, who has no
	//       locked contribution anywhere, carries a null value and flags the
	//       version incomplete

	engine, _ := newTestEngine(t)
	ctx := context.Background()

	locked := newEntrySheet(t, engine, centre1ID)
	enterAndLock(t, engine, locked, candidateVotes(t, map[tabulation.CandidateID]string{"cand-1": "10"}))

	pending := newEntrySheet(t, engine, centre2ID)

	parent := newDerivedSheet(t, engine)
	require.NoError(t, engine.AddChild(ctx, parent.ID, locked.ID))
	require.NoError(t, engine.AddChild(ctx, parent.ID, pending.ID))

	version, err := engine.CreateVersion(ctx, parent.ID, nil, verifier)
	require.NoError(t, err)

	require.Len(t, version.Rows, 2, "outer-join semantics: registered candidates appear regardless")
	assert.False(t, version.IsComplete, "a null figure flags incompleteness")

	byCandidate := rowsByCandidate(version.Rows)
	require.NotNil(t, byCandidate["cand-1"].NumValue)
	assert.Equal(t, "10", byCandidate["cand-1"].NumValue.String(),
		"null contributions are skipped, not counted as zero")
	assert.Nil(t, byCandidate["cand-2"].NumValue)
}

func TestAggregate_IgnoresUnlockedDrafts(t *testing.T) {
	// GIVEN: A child whose locked version says 10 but whose newer draft says 99
	// WHEN: The parent computes a version
	// THEN: Only the locked figure feeds the aggregate

	engine, _ := newTestEngine(t)
	ctx := context.Background()

	child := newEntrySheet(t, engine, centre1ID)
	enterAndLock(t, engine, child, candidateVotes(t, map[tabulation.CandidateID]string{"cand-1": "10"}))

	_, err := engine.CreateLatestVersion(ctx, child.ID, candidateVotes(t, map[tabulation.CandidateID]string{"cand-1": "99"}), entryOperator)
	require.NoError(t, err)

	parent := newDerivedSheet(t, engine)
	require.NoError(t, engine.AddChild(ctx, parent.ID, child.ID))

	version, err := engine.CreateVersion(ctx, parent.ID, nil, verifier)
	require.NoError(t, err)

	byCandidate := rowsByCandidate(version.Rows)
	require.NotNil(t, byCandidate["cand-1"].NumValue)
	assert.Equal(t, "10", byCandidate["cand-1"].NumValue.String())
}

func TestAggregate_DeterministicOrdering(t *testing.T) {
	// GIVEN: A parent with locked children
	// WHEN: The version is computed twice
	// THEN: Row order and values are identical both times

	engine, _ := newTestEngine(t)
	ctx := context.Background()

	child1 := newEntrySheet(t, engine, centre1ID)
	child2 := newEntrySheet(t, engine, centre2ID)
	enterAndLock(t, engine, child1, candidateVotes(t, map[tabulation.CandidateID]string{"cand-1": "10", "cand-2": "1"}))
	enterAndLock(t, engine, child2, candidateVotes(t, map[tabulation.CandidateID]string{"cand-1": "20", "cand-2": "2"}))

	parent := newDerivedSheet(t, engine)
	require.NoError(t, engine.AddChild(ctx, parent.ID, child1.ID))
	require.NoError(t, engine.AddChild(ctx, parent.ID, child2.ID))

	first, err := engine.CreateVersion(ctx, parent.ID, nil, verifier)
	require.NoError(t, err)
	second, err := engine.CreateVersion(ctx, parent.ID, nil, verifier)
	require.NoError(t, err)

	require.Equal(t, len(first.Rows), len(second.Rows))
	for i := range first.Rows {
		assert.Equal(t, *first.Rows[i].CandidateID, *second.Rows[i].CandidateID, "row %d candidate", i)
		assert.Equal(t, first.Rows[i].NumValue.String(), second.Rows[i].NumValue.String(), "row %d value", i)
	}
}

func TestAggregate_VersionsAreImmutable(t *testing.T) {
	// GIVEN: A parent version computed from a locked child
	// WHEN: The child is unlocked and relocked with different figures and the
	//       parent recomputes
	// THEN: The earlier parent version still reads the old figures

	engine, _ := newTestEngine(t)
	ctx := context.Background()

	child := newEntrySheet(t, engine, centre1ID)
	v1 := enterAndLock(t, engine, child, candidateVotes(t, map[tabulation.CandidateID]string{"cand-1": "10"}))
	_ = v1

	parent := newDerivedSheet(t, engine)
	require.NoError(t, engine.AddChild(ctx, parent.ID, child.ID))

	old, err := engine.CreateVersion(ctx, parent.ID, nil, verifier)
	require.NoError(t, err)

	// Unlock, re-enter, relock
	require.NoError(t, engine.SetLockedVersion(ctx, child.ID, nil, admin))
	v2, err := engine.CreateLatestVersion(ctx, child.ID, candidateVotes(t, map[tabulation.CandidateID]string{"cand-1": "42"}), entryOperator)
	require.NoError(t, err)
	require.NoError(t, engine.SetSubmittedVersion(ctx, child.ID, &v2.ID, entryOperator))
	require.NoError(t, engine.SetLockedVersion(ctx, child.ID, &v2.ID, verifier))

	fresh, err := engine.CreateVersion(ctx, parent.ID, nil, verifier)
	require.NoError(t, err)

	oldRows, err := engine.GetContent(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, "10", rowsByCandidate(oldRows)["cand-1"].NumValue.String())
	assert.Equal(t, "42", rowsByCandidate(fresh.Rows)["cand-1"].NumValue.String())
}

// =============================================================================
// DIRECT ROWS
// =============================================================================

func TestAggregate_MetaColumnOverwritesCallerValue(t *testing.T) {
	// GIVEN: A template row whose areaId column is meta-sourced, and a sheet
	//        whose metadata pins the area
	// WHEN: The caller supplies a different area in content
	// THEN: The metadata value wins

	engine, mem := newTestEngine(t)
	ctx := context.Background()

	tpl := &tabulation.Template{
		ID:   "CC_META",
		Code: "CC_META",
		Rows: []tabulation.TemplateRow{
			{
				ID:   "cc-centre",
				Type: "COUNTING_CENTRE",
				Columns: []tabulation.TemplateRowColumn{
					{Name: tabulation.DimArea, Source: tabulation.SourceMeta},
					{Name: tabulation.DimStrValue, Source: tabulation.SourceEntry},
				},
			},
		},
	}
	require.NoError(t, mem.CreateTemplate(ctx, tpl))

	sheet, err := engine.CreateTallySheet(ctx, "CC_META", electionID, centre1ID,
		map[string]string{"areaId": string(centre1ID)})
	require.NoError(t, err)

	wrong := centre2ID
	note := "hand count"
	version, err := engine.CreateVersion(ctx, sheet.ID, []tabulation.ContentRow{
		{TemplateRowID: "cc-centre", AreaID: &wrong, StrValue: &note},
	}, entryOperator)
	require.NoError(t, err)

	require.Len(t, version.Rows, 1)
	require.NotNil(t, version.Rows[0].AreaID)
	assert.Equal(t, centre1ID, *version.Rows[0].AreaID)
	assert.Equal(t, "hand count", *version.Rows[0].StrValue)
}

func TestAggregate_SingleRowTemplateKeepsFirst(t *testing.T) {
	// GIVEN: A template row with HasMany false
	// WHEN: The caller supplies two content rows for it
	// THEN: Only the first survives

	engine, _ := newTestEngine(t)
	ctx := context.Background()
	sheet := newEntrySheet(t, engine, centre1ID)

	version, err := engine.CreateVersion(ctx, sheet.ID, []tabulation.ContentRow{
		{TemplateRowID: "cc-rejected-votes", NumValue: dec(t, "7")},
		{TemplateRowID: "cc-rejected-votes", NumValue: dec(t, "8")},
	}, entryOperator)
	require.NoError(t, err)

	var rejected []tabulation.VersionRow
	for _, row := range version.Rows {
		if row.TemplateRowID == "cc-rejected-votes" {
			rejected = append(rejected, row)
		}
	}
	require.Len(t, rejected, 1)
	assert.Equal(t, "7", rejected[0].NumValue.String())
}

func TestAggregate_MissingContentRowIsOmitted(t *testing.T) {
	// GIVEN: Content covering only the candidate-votes row
	// WHEN: A version is created
	// THEN: The rejected-votes row is simply absent; the version stays
	//       complete because no emitted cell is missing a number

	engine, _ := newTestEngine(t)
	ctx := context.Background()
	sheet := newEntrySheet(t, engine, centre1ID)

	version, err := engine.CreateVersion(ctx, sheet.ID, candidateVotes(t, map[tabulation.CandidateID]string{"cand-1": "5"}), entryOperator)
	require.NoError(t, err)

	for _, row := range version.Rows {
		assert.NotEqual(t, tabulation.TemplateRowID("cc-rejected-votes"), row.TemplateRowID)
	}
	assert.True(t, version.IsComplete)
}

func TestAggregate_NilNumericFlagsIncomplete(t *testing.T) {
	// GIVEN: A content row for a numeric template row with no value
	// WHEN: A version is created
	// THEN: The version is flagged incomplete

	engine, _ := newTestEngine(t)
	ctx := context.Background()
	sheet := newEntrySheet(t, engine, centre1ID)

	version, err := engine.CreateVersion(ctx, sheet.ID, []tabulation.ContentRow{
		{TemplateRowID: "cc-rejected-votes"},
	}, entryOperator)
	require.NoError(t, err)

	assert.False(t, version.IsComplete)
}

// =============================================================================
// COUNT AND CONCATENATE
// =============================================================================

func TestAggregate_CountAndConcatenateBallotBoxes(t *testing.T) {
	// GIVEN: A child locked with one ballot-box row per box, and a parent row
	//        counting and concatenating them
	// WHEN: The parent computes a version
	// THEN: The count lands in the numeric cell and the joined ids in the
	//       text cell

	engine, mem := newTestEngine(t)
	ctx := context.Background()

	count := tabulation.FuncCount
	concat := tabulation.FuncConcatenate
	boxEntry := &tabulation.Template{
		ID:   "CC_BOXES",
		Code: "CC_BOXES",
		Rows: []tabulation.TemplateRow{
			{
				ID:      "cc-box",
				Type:    "BALLOT_BOX",
				HasMany: true,
				Columns: []tabulation.TemplateRowColumn{
					{Name: tabulation.DimBallotBox, Source: tabulation.SourceEntry},
				},
			},
		},
	}
	boxSummary := &tabulation.Template{
		ID:   "PD_BOXES",
		Code: "PD_BOXES",
		Rows: []tabulation.TemplateRow{
			{
				ID:             "pd-box-count",
				Type:           "BALLOT_BOX_COUNT",
				IsDerived:      true,
				DerivativeRows: []tabulation.TemplateRowID{"cc-box"},
				Columns: []tabulation.TemplateRowColumn{
					{Name: tabulation.DimArea, Source: tabulation.SourceEntry, Grouped: true},
					{Name: tabulation.DimBallotBox, Source: tabulation.SourceEntry, Func: &count},
				},
			},
			{
				ID:             "pd-box-list",
				Type:           "BALLOT_BOX_LIST",
				IsDerived:      true,
				DerivativeRows: []tabulation.TemplateRowID{"cc-box"},
				Columns: []tabulation.TemplateRowColumn{
					{Name: tabulation.DimArea, Source: tabulation.SourceEntry, Grouped: true},
					{Name: tabulation.DimBallotBox, Source: tabulation.SourceEntry, Func: &concat},
				},
			},
		},
	}
	require.NoError(t, mem.CreateTemplate(ctx, boxEntry))
	require.NoError(t, mem.CreateTemplate(ctx, boxSummary))

	child, err := engine.CreateTallySheet(ctx, "CC_BOXES", electionID, centre1ID, nil)
	require.NoError(t, err)

	boxA := tabulation.BallotBoxID("box-a")
	boxB := tabulation.BallotBoxID("box-b")
	enterAndLock(t, engine, child, []tabulation.ContentRow{
		{TemplateRowID: "cc-box", BallotBoxID: &boxA},
		{TemplateRowID: "cc-box", BallotBoxID: &boxB},
	})

	parent, err := engine.CreateTallySheet(ctx, "PD_BOXES", electionID, divisionID, nil)
	require.NoError(t, err)
	require.NoError(t, engine.AddChild(ctx, parent.ID, child.ID))

	version, err := engine.CreateVersion(ctx, parent.ID, nil, verifier)
	require.NoError(t, err)

	require.Len(t, version.Rows, 2)
	countRow, listRow := version.Rows[0], version.Rows[1]
	if countRow.TemplateRowID != "pd-box-count" {
		countRow, listRow = listRow, countRow
	}
	require.NotNil(t, countRow.NumValue)
	assert.Equal(t, "2", countRow.NumValue.String())
	require.NotNil(t, listRow.StrValue)
	assert.Equal(t, "box-a,box-b", *listRow.StrValue)
}

// =============================================================================
// HELPERS
// =============================================================================

func rowsByCandidate(rows []tabulation.VersionRow) map[tabulation.CandidateID]tabulation.VersionRow {
	out := make(map[tabulation.CandidateID]tabulation.VersionRow)
	for _, row := range rows {
		if row.CandidateID != nil {
			out[*row.CandidateID] = row
		}
	}
	return out
}
