package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openelect/results-tabulation/store/sqlite"
	"github.com/openelect/results-tabulation/tabulation"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testTemplate() *tabulation.Template {
	sum := tabulation.FuncSum
	return &tabulation.Template{
		ID:   "CC_ENTRY",
		Code: "CC_ENTRY",
		Rows: []tabulation.TemplateRow{
			{
				ID:      "cc-votes",
				Type:    "CANDIDATE_VOTES",
				HasMany: true,
				Columns: []tabulation.TemplateRowColumn{
					{Name: tabulation.DimCandidate, Source: tabulation.SourceEntry},
					{Name: tabulation.DimNumValue, Source: tabulation.SourceEntry},
				},
			},
			{
				ID:             "cc-total",
				Type:           "TOTAL",
				IsDerived:      true,
				DerivativeRows: []tabulation.TemplateRowID{"cc-votes"},
				Columns: []tabulation.TemplateRowColumn{
					{Name: tabulation.DimArea, Source: tabulation.SourceEntry, Grouped: true},
					{Name: tabulation.DimNumValue, Source: tabulation.SourceEntry, Func: &sum},
				},
			},
		},
	}
}

func newSheet(t *testing.T, store *sqlite.Store) *tabulation.TallySheet {
	t.Helper()
	ctx := context.Background()
	sheet := &tabulation.TallySheet{
		ID:         "sheet-1",
		TemplateID: "CC_ENTRY",
		ElectionID: "pres-2025",
		AreaID:     "cc-1",
		Metadata:   map[string]string{"areaId": "cc-1"},
	}
	require.NoError(t, store.CreateTallySheet(ctx, sheet))
	return sheet
}

// =============================================================================
// TALLY SHEET PERSISTENCE
// =============================================================================

func TestSQLite_TallySheetRoundTrip(t *testing.T) {
	// GIVEN: A sheet with pointers, stamps, proofs, and metadata saved
	// WHEN: Reloaded
	// THEN: Everything survives the round trip

	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateTemplate(ctx, testTemplate()))
	sheet := newSheet(t, store)

	versionID := tabulation.VersionID("v-1")
	at := time.Date(2025, time.November, 17, 8, 30, 0, 0, time.UTC)
	sheet.LatestVersionID = &versionID
	sheet.LatestStamp = &tabulation.Stamp{By: "operator", At: at}
	sheet.SubmittedVersionID = &versionID
	sheet.SubmittedStamp = &tabulation.Stamp{By: "operator", At: at}
	sheet.SubmissionProof = []string{"doc-1", "doc-2"}
	require.NoError(t, store.SaveTallySheet(ctx, sheet))

	got, err := store.TallySheet(ctx, sheet.ID)
	require.NoError(t, err)

	require.NotNil(t, got.LatestVersionID)
	assert.Equal(t, versionID, *got.LatestVersionID)
	require.NotNil(t, got.LatestStamp)
	assert.Equal(t, tabulation.UserID("operator"), got.LatestStamp.By)
	assert.True(t, got.LatestStamp.At.Equal(at))
	assert.Nil(t, got.LockedVersionID)
	assert.Nil(t, got.LockedStamp)
	assert.Equal(t, []string{"doc-1", "doc-2"}, got.SubmissionProof)
	assert.Equal(t, "cc-1", got.Metadata["areaId"])
}

func TestSQLite_TallySheetNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.TallySheet(context.Background(), "missing")

	assert.True(t, tabulation.IsNotFound(err))
	var nf *tabulation.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "tally sheet", nf.Kind)
}

func TestSQLite_SaveUnknownSheetFails(t *testing.T) {
	store := newTestStore(t)

	err := store.SaveTallySheet(context.Background(), &tabulation.TallySheet{ID: "ghost"})

	assert.True(t, tabulation.IsNotFound(err))
}

// =============================================================================
// VERSION PERSISTENCE
// =============================================================================

func TestSQLite_VersionRoundTripPreservesOrderAndValues(t *testing.T) {
	// GIVEN: A version with decimal, null, and text cells in a fixed order
	// WHEN: Appended and reloaded
	// THEN: Row order, decimal precision, and nils survive

	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateTemplate(ctx, testTemplate()))
	newSheet(t, store)

	cand1 := tabulation.CandidateID("cand-1")
	cand2 := tabulation.CandidateID("cand-2")
	ten := decimal.RequireFromString("10")
	frac := decimal.RequireFromString("0.25")
	note := "recount pending"

	version := &tabulation.Version{
		ID:           "v-1",
		TallySheetID: "sheet-1",
		IsComplete:   false,
		CreatedBy:    "operator",
		CreatedAt:    time.Now().UTC(),
		Rows: []tabulation.VersionRow{
			{ID: "r-1", TemplateRowID: "cc-votes", CandidateID: &cand1, NumValue: &ten},
			{ID: "r-2", TemplateRowID: "cc-votes", CandidateID: &cand2, NumValue: nil, StrValue: &note},
			{ID: "r-3", TemplateRowID: "cc-votes", CandidateID: &cand1, NumValue: &frac},
		},
	}
	require.NoError(t, store.AppendVersion(ctx, version))

	got, err := store.Version(ctx, "v-1")
	require.NoError(t, err)

	assert.False(t, got.IsComplete)
	assert.Equal(t, tabulation.UserID("operator"), got.CreatedBy)
	require.Len(t, got.Rows, 3)
	assert.Equal(t, tabulation.VersionRowID("r-1"), got.Rows[0].ID)
	assert.Equal(t, "10", got.Rows[0].NumValue.String())
	assert.Nil(t, got.Rows[1].NumValue)
	assert.Equal(t, "recount pending", *got.Rows[1].StrValue)
	assert.Equal(t, "0.25", got.Rows[2].NumValue.String())
}

// =============================================================================
// TEMPLATES
// =============================================================================

func TestSQLite_TemplateRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	tpl := testTemplate()
	require.NoError(t, store.CreateTemplate(ctx, tpl))

	got, err := store.Template(ctx, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, tpl.Code, got.Code)
	require.Len(t, got.Rows, 2)

	votes := got.Rows[0]
	assert.Equal(t, tabulation.TemplateRowID("cc-votes"), votes.ID)
	assert.True(t, votes.HasMany)
	assert.False(t, votes.IsDerived)
	require.Len(t, votes.Columns, 2)
	assert.Equal(t, tabulation.DimCandidate, votes.Columns[0].Name)
	assert.Nil(t, votes.Columns[0].Func)

	total := got.Rows[1]
	assert.True(t, total.IsDerived)
	assert.Equal(t, []tabulation.TemplateRowID{"cc-votes"}, total.DerivativeRows)
	assert.True(t, total.Columns[0].Grouped)
	require.NotNil(t, total.Columns[1].Func)
	assert.Equal(t, tabulation.FuncSum, *total.Columns[1].Func)

	byCode, err := store.TemplateByCode(ctx, tpl.Code)
	require.NoError(t, err)
	assert.Equal(t, tpl.ID, byCode.ID)
}

// =============================================================================
// CHILD EDGES
// =============================================================================

func TestSQLite_AddChildIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AddChild(ctx, "parent", "child-1"))
	require.NoError(t, store.AddChild(ctx, "parent", "child-2"))
	require.NoError(t, store.AddChild(ctx, "parent", "child-1"))

	children, err := store.Children(ctx, "parent")
	require.NoError(t, err)
	assert.Equal(t, []tabulation.TallySheetID{"child-1", "child-2"}, children, "insertion order, no duplicate")

	parents, err := store.Parents(ctx, "child-1")
	require.NoError(t, err)
	assert.Equal(t, []tabulation.TallySheetID{"parent"}, parents)

	has, err := store.HasChild(ctx, "parent", "child-1")
	require.NoError(t, err)
	assert.True(t, has)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestSQLite_WithTxRollsBackOnError(t *testing.T) {
	// GIVEN: A transaction that appends a version and then fails
	// WHEN: WithTx returns the error
	// THEN: The version is not visible afterwards

	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateTemplate(ctx, testTemplate()))
	newSheet(t, store)

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(tx tabulation.Store) error {
		version := &tabulation.Version{
			ID: "v-tx", TallySheetID: "sheet-1",
			CreatedBy: "operator", CreatedAt: time.Now().UTC(),
		}
		if err := tx.AppendVersion(ctx, version); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = store.Version(ctx, "v-tx")
	assert.True(t, tabulation.IsNotFound(err))
}

func TestSQLite_WithTxCommits(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateTemplate(ctx, testTemplate()))
	newSheet(t, store)

	err := store.WithTx(ctx, func(tx tabulation.Store) error {
		return tx.AppendVersion(ctx, &tabulation.Version{
			ID: "v-tx", TallySheetID: "sheet-1",
			CreatedBy: "operator", CreatedAt: time.Now().UTC(),
		})
	})
	require.NoError(t, err)

	_, err = store.Version(ctx, "v-tx")
	assert.NoError(t, err)
}

// =============================================================================
// REFERENCE DATA LOOKUPS
// =============================================================================

func TestSQLite_AreaHierarchyWalks(t *testing.T) {
	// GIVEN: country -> district -> division -> centre
	// WHEN: Walking up from the centre and down from the district
	// THEN: Typed ancestors and descendants are found across multiple levels

	store := newTestStore(t)
	ctx := context.Background()

	country := tabulation.Area{ID: "lk", Name: "Sri Lanka", Type: tabulation.AreaCountry}
	district := tabulation.Area{ID: "ed-1", Name: "Colombo", Type: tabulation.AreaElectoralDistrict}
	division := tabulation.Area{ID: "pd-1", Name: "Colombo North", Type: tabulation.AreaPollingDivision}
	centre := tabulation.Area{ID: "cc-1", Name: "Centre 1", Type: tabulation.AreaCountingCentre}

	require.NoError(t, store.CreateArea(ctx, country, nil))
	require.NoError(t, store.CreateArea(ctx, district, &country.ID))
	require.NoError(t, store.CreateArea(ctx, division, &district.ID))
	require.NoError(t, store.CreateArea(ctx, centre, &division.ID))

	districts, err := store.AncestorsOfType(ctx, centre.ID, tabulation.AreaElectoralDistrict)
	require.NoError(t, err)
	require.Len(t, districts, 1)
	assert.Equal(t, "Colombo", districts[0].Name)

	centres, err := store.DescendantsOfType(ctx, district.ID, tabulation.AreaCountingCentre)
	require.NoError(t, err)
	require.Len(t, centres, 1)
	assert.Equal(t, tabulation.AreaID("cc-1"), centres[0].ID)
}

func TestSQLite_ElectionRegisterRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	root := tabulation.Election{ID: "pres-2025", Name: "Presidential 2025", RootElectionID: "pres-2025", VoteType: tabulation.VoteNormal}
	postal := tabulation.Election{ID: "pres-2025-postal", Name: "Presidential 2025 Postal", RootElectionID: "pres-2025", VoteType: tabulation.VotePostal}
	require.NoError(t, store.CreateElection(ctx, root, nil))
	require.NoError(t, store.CreateElection(ctx, postal, &root.ID))

	require.NoError(t, store.AddParty(ctx, root.ID, tabulation.Party{ID: "party-red", Name: "Red Party", Abbreviation: "RED"}))
	require.NoError(t, store.AddCandidate(ctx, tabulation.ElectionCandidate{
		ElectionID: root.ID, CandidateID: "cand-1", CandidateName: "Alice Perera",
		PartyID: "party-red", QualifiedForPreferences: true,
	}))

	resolved, err := store.RootElection(ctx, postal.ID)
	require.NoError(t, err)
	assert.Equal(t, root.ID, resolved.ID)

	ids, err := store.DescendantElectionIDs(ctx, root.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []tabulation.ElectionID{root.ID, postal.ID}, ids)

	candidates, err := store.Candidates(ctx, root.ID)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "Alice Perera", candidates[0].CandidateName)
	assert.True(t, candidates[0].QualifiedForPreferences)

	parties, err := store.Parties(ctx, root.ID)
	require.NoError(t, err)
	require.Len(t, parties, 1)
	assert.Equal(t, "RED", parties[0].Abbreviation)
}

// =============================================================================
// STATUS REPORTS
// =============================================================================

func TestSQLite_StatusReportUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	report := &tabulation.StatusReport{
		ID: "rep-1", ElectionID: "pres-2025", ReportType: "CC_ENTRY",
		ElectoralDistrictName: "Colombo", PollingDivisionName: "Colombo North",
		Status: tabulation.StatusEntered, UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.SaveStatusReport(ctx, report))

	report.Status = tabulation.StatusVerified
	report.UpdatedAt = time.Now().UTC()
	require.NoError(t, store.SaveStatusReport(ctx, report))

	got, err := store.StatusReport(ctx, "rep-1")
	require.NoError(t, err)
	assert.Equal(t, tabulation.StatusVerified, got.Status)
	assert.Equal(t, "Colombo", got.ElectoralDistrictName)
}
