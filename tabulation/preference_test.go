package tabulation_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openelect/results-tabulation/tabulation"
)

func prefRow(t *testing.T, candidate tabulation.CandidateID, name string, prefNumber int, count string, qualified bool) tabulation.PreferenceRow {
	t.Helper()
	row := tabulation.PreferenceRow{
		CandidateID:             candidate,
		CandidateName:           name,
		PreferenceNumber:        prefNumber,
		QualifiedForPreferences: qualified,
	}
	if count != "" {
		row.PreferenceCount = dec(t, count)
	}
	return row
}

func TestPreference_AggregatesPerCandidate(t *testing.T) {
	// GIVEN: Per-preference rows for one qualified candidate: 5 first
	//        preferences and 3 second preferences
	// WHEN: The summary is built
	// THEN: One record with first=5, second=3, total=8; the grand total
	//       counts first preferences only

	rows := []tabulation.PreferenceRow{
		prefRow(t, "cand-1", "Alice Perera", 1, "5", true),
		prefRow(t, "cand-1", "Alice Perera", 2, "3", true),
	}

	summaries, total := tabulation.BuildPreferenceSummary(rows)

	require.Len(t, summaries, 1)
	s := summaries[0]
	assert.Equal(t, 1, s.Number)
	assert.Equal(t, "Alice Perera", s.Name)
	assert.Equal(t, "5", s.FirstPreferenceCount.String())
	assert.Equal(t, "3", s.SecondPreferenceCount.String())
	assert.Nil(t, s.ThirdPreferenceCount)
	assert.Equal(t, "8", s.Total.String())
	assert.Equal(t, "5", total.String())
}

func TestPreference_UnqualifiedCandidatesExcluded(t *testing.T) {
	// GIVEN: Rows for a qualified and an unqualified candidate
	// WHEN: The summary is built
	// THEN: The unqualified candidate gets no record and contributes nothing
	//       to the grand total

	rows := []tabulation.PreferenceRow{
		prefRow(t, "cand-1", "Alice Perera", 1, "5", true),
		prefRow(t, "cand-9", "Walk-on", 1, "100", false),
	}

	summaries, total := tabulation.BuildPreferenceSummary(rows)

	require.Len(t, summaries, 1)
	assert.Equal(t, tabulation.CandidateID("cand-1"), summaries[0].CandidateID)
	assert.Equal(t, "5", total.String())
}

func TestPreference_FirstOccurrenceOrder(t *testing.T) {
	// GIVEN: Rows arriving with candidates interleaved
	// WHEN: The summary is built
	// THEN: Records keep first-occurrence order with 1-based numbering

	rows := []tabulation.PreferenceRow{
		prefRow(t, "cand-2", "Bob Silva", 1, "7", true),
		prefRow(t, "cand-1", "Alice Perera", 1, "5", true),
		prefRow(t, "cand-2", "Bob Silva", 2, "4", true),
	}

	summaries, _ := tabulation.BuildPreferenceSummary(rows)

	require.Len(t, summaries, 2)
	assert.Equal(t, tabulation.CandidateID("cand-2"), summaries[0].CandidateID)
	assert.Equal(t, 1, summaries[0].Number)
	assert.Equal(t, tabulation.CandidateID("cand-1"), summaries[1].CandidateID)
	assert.Equal(t, 2, summaries[1].Number)
}

func TestPreference_OutOfRangeNumbersDropped(t *testing.T) {
	// GIVEN: A row with preference number 4 and one with a nil count
	// WHEN: The summary is built
	// THEN: Neither affects the counts or the total

	rows := []tabulation.PreferenceRow{
		prefRow(t, "cand-1", "Alice Perera", 1, "5", true),
		prefRow(t, "cand-1", "Alice Perera", 4, "9", true),
		prefRow(t, "cand-1", "Alice Perera", 2, "", true),
	}

	summaries, total := tabulation.BuildPreferenceSummary(rows)

	require.Len(t, summaries, 1)
	assert.Equal(t, "5", summaries[0].Total.String())
	assert.Nil(t, summaries[0].SecondPreferenceCount)
	assert.Equal(t, "5", total.String())
}

func TestPreference_PartyDetailsCarried(t *testing.T) {
	// GIVEN: A qualified candidate with party details on the first row
	// WHEN: The summary is built
	// THEN: Party name and abbreviation carry into the record

	rows := []tabulation.PreferenceRow{
		{
			CandidateID: "cand-1", CandidateName: "Alice Perera",
			PreferenceNumber: 1, PreferenceCount: dec(t, "5"),
			QualifiedForPreferences: true,
			PartyName:               "Red Party", PartyAbbreviation: "RED",
		},
	}

	summaries, _ := tabulation.BuildPreferenceSummary(rows)

	require.Len(t, summaries, 1)
	assert.Equal(t, "Red Party", summaries[0].PartyName)
	assert.Equal(t, "RED", summaries[0].PartyAbbreviation)
}
