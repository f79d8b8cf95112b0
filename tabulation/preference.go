/*
preference.go - Ranked-choice preference summary builder

PURPOSE:
  Folds an ordered sequence of per-preference rows (candidate, preference
  number, count) into one aggregated record per distinct qualifying
  candidate, with first/second/third preference counts, a per-candidate
  running total, and the grand total of first-preference votes.

QUALIFICATION:
  A candidate enters the output only if seen with QualifiedForPreferences
  set at least once. Preference counts for a candidate that never qualified
  are ignored: no entry exists to update, and their first-preference votes
  stay out of the grand total.
*/
package tabulation

import "github.com/shopspring/decimal"

// PreferenceRow is one input record of the preference tabulation.
type PreferenceRow struct {
	CandidateID             CandidateID
	CandidateName           string
	PreferenceNumber        int
	PreferenceCount         *decimal.Decimal
	QualifiedForPreferences bool
	PartyName               string
	PartyAbbreviation       string
}

// CandidatePreferenceSummary is one output record per qualifying candidate.
type CandidatePreferenceSummary struct {
	Number      int // 1-based position, first occurrence order
	CandidateID CandidateID
	Name        string

	FirstPreferenceCount  *decimal.Decimal
	SecondPreferenceCount *decimal.Decimal
	ThirdPreferenceCount  *decimal.Decimal

	PartyName         string
	PartyAbbreviation string
	Total             decimal.Decimal
}

// BuildPreferenceSummary aggregates preference rows per qualifying
// candidate. Returns the summaries in first-occurrence order and the grand
// total of first-preference votes across qualifying candidates.
func BuildPreferenceSummary(rows []PreferenceRow) ([]CandidatePreferenceSummary, decimal.Decimal) {
	index := make(map[CandidateID]int)
	var out []CandidatePreferenceSummary

	// First pass: one entry per candidate seen qualified at least once.
	for _, row := range rows {
		if !row.QualifiedForPreferences {
			continue
		}
		if _, ok := index[row.CandidateID]; ok {
			continue
		}
		index[row.CandidateID] = len(out)
		out = append(out, CandidatePreferenceSummary{
			Number:            len(out) + 1,
			CandidateID:       row.CandidateID,
			Name:              row.CandidateName,
			PartyName:         row.PartyName,
			PartyAbbreviation: row.PartyAbbreviation,
		})
	}

	// Second pass: distribute counts by preference number. Preference
	// numbers outside 1..3 are dropped.
	totalVotes := decimal.Zero
	for _, row := range rows {
		i, ok := index[row.CandidateID]
		if !ok || row.PreferenceCount == nil {
			continue
		}
		count := *row.PreferenceCount

		switch row.PreferenceNumber {
		case 1:
			out[i].FirstPreferenceCount = &count
			totalVotes = totalVotes.Add(count)
		case 2:
			out[i].SecondPreferenceCount = &count
		case 3:
			out[i].ThirdPreferenceCount = &count
		default:
			continue
		}

		out[i].Name = row.CandidateName
		out[i].Total = out[i].Total.Add(count)
	}

	return out, totalVotes
}
