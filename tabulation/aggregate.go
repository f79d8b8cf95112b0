/*
aggregate.go - Template-driven version creation

PURPOSE:
  Builds a new immutable version's rows. Directly entered rows are copied
  from caller-supplied content (with meta-sourced columns overwritten from
  the sheet's metadata). Derived rows are recomputed by grouping and
  summarizing rows pulled from the locked versions of the sheet's declared
  children.

DERIVATION RULES:
  - Input rows come ONLY from children's locked versions, never from
    in-progress drafts. A reviewed, consistent snapshot feeds every level.
  - The combination universe is seeded from the child sheets themselves and,
    for candidate/party grouped rows, from the election's register. A child
    that never submitted a value still contributes a null row, not an absent
    one (outer-join semantics).
  - Output combinations are ordered candidate-first, then area, so repeated
    computation is deterministic.

COMPLETENESS:
  The version is complete iff every emitted row carries a numeric value
  where its template row expects one. A single nil flips the whole version
  to incomplete. Advisory only.

SEE ALSO:
  - template.go: Row/column structure and the closed function set
  - workflow.go: SetLatestVersion, typically called right after creation
*/
package tabulation

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// PUBLIC ENTRY POINTS
// =============================================================================

// CreateVersion materializes a new immutable version for the sheet. Content
// is required only for non-derived rows and is ignored for pure-derived
// templates.
func (e *Engine) CreateVersion(ctx context.Context, id TallySheetID, content []ContentRow, actor UserID) (*Version, error) {
	var version *Version
	err := e.Store.WithTx(ctx, func(store Store) error {
		sheet, tpl, err := e.loadSheetAndTemplate(ctx, store, id)
		if err != nil {
			return err
		}
		version, err = e.buildVersion(ctx, store, sheet, tpl, content, actor)
		if err != nil {
			return err
		}
		return store.AppendVersion(ctx, version)
	})
	if err != nil {
		return nil, err
	}
	return version, nil
}

// CreateLatestVersion creates a version and points the sheet's latest
// pointer at it in one transaction.
func (e *Engine) CreateLatestVersion(ctx context.Context, id TallySheetID, content []ContentRow, actor UserID) (*Version, error) {
	var version *Version
	err := e.Store.WithTx(ctx, func(store Store) error {
		sheet, tpl, err := e.loadSheetAndTemplate(ctx, store, id)
		if err != nil {
			return err
		}
		version, err = e.buildVersion(ctx, store, sheet, tpl, content, actor)
		if err != nil {
			return err
		}
		if err := store.AppendVersion(ctx, version); err != nil {
			return err
		}
		sheet.LatestVersionID = &version.ID
		sheet.LatestStamp = stamp(actor)
		return e.finishTransition(ctx, store, sheet, tpl)
	})
	if err != nil {
		return nil, err
	}
	return version, nil
}

// CreateEmptyVersion creates a version with no rows. Used when a form is
// registered before any figures exist.
func (e *Engine) CreateEmptyVersion(ctx context.Context, id TallySheetID, actor UserID) (*Version, error) {
	var version *Version
	err := e.Store.WithTx(ctx, func(store Store) error {
		sheet, err := store.TallySheet(ctx, id)
		if err != nil {
			return err
		}
		version = &Version{
			ID:           VersionID(uuid.NewString()),
			TallySheetID: sheet.ID,
			CreatedBy:    actor,
			CreatedAt:    time.Now().UTC(),
		}
		return store.AppendVersion(ctx, version)
	})
	if err != nil {
		return nil, err
	}
	return version, nil
}

// =============================================================================
// VERSION CONSTRUCTION
// =============================================================================

func (e *Engine) buildVersion(ctx context.Context, store Store, sheet *TallySheet, tpl *Template, content []ContentRow, actor UserID) (*Version, error) {
	version := &Version{
		ID:           VersionID(uuid.NewString()),
		TallySheetID: sheet.ID,
		CreatedBy:    actor,
		CreatedAt:    time.Now().UTC(),
		IsComplete:   true,
	}

	for i := range tpl.Rows {
		row := &tpl.Rows[i]

		var emitted []ContentRow
		var err error
		if row.IsDerived {
			emitted, err = e.deriveRows(ctx, store, sheet, row)
			if err != nil {
				return nil, err
			}
		} else {
			emitted = e.directRows(sheet, row, content)
		}

		for _, cr := range emitted {
			if expectsNumeric(row) && cr.NumValue == nil {
				version.IsComplete = false
			}
			version.Rows = append(version.Rows, VersionRow{
				ID:            VersionRowID(uuid.NewString()),
				TemplateRowID: row.ID,
				ElectionID:    cr.ElectionID,
				AreaID:        cr.AreaID,
				CandidateID:   cr.CandidateID,
				PartyID:       cr.PartyID,
				BallotBoxID:   cr.BallotBoxID,
				NumValue:      cr.NumValue,
				StrValue:      cr.StrValue,
			})
		}
	}

	return version, nil
}

// expectsNumeric reports whether a row's emitted cells should carry a
// numeric value: it declares a numValue column, or a count lands in one.
func expectsNumeric(row *TemplateRow) bool {
	for _, col := range row.Columns {
		if col.Name == DimNumValue {
			return true
		}
		if col.Func != nil && *col.Func == FuncCount {
			return true
		}
	}
	return false
}

// =============================================================================
// DIRECT ROWS - Caller-supplied content, meta columns overwritten
// =============================================================================

func (e *Engine) directRows(sheet *TallySheet, row *TemplateRow, content []ContentRow) []ContentRow {
	var out []ContentRow
	for _, cr := range content {
		if cr.TemplateRowID != row.ID {
			continue
		}
		for _, col := range row.Columns {
			if col.Source == SourceMeta {
				setFromMeta(&cr, col.Name, sheet.Metadata[string(col.Name)])
			}
		}
		out = append(out, cr)
	}

	if len(out) == 0 {
		// Historical behavior: the row is simply absent from the version.
		// Surfaced in logs so silent gaps are at least visible.
		e.Logger.Printf("%v: tally sheet %s template row %s has no content", ErrAggregationGap, sheet.ID, row.ID)
		return nil
	}
	if !row.HasMany {
		out = out[:1]
	}
	return out
}

// setFromMeta overwrites one dimension of a content row from the sheet's
// metadata map. Caller-supplied values for meta columns are always replaced,
// even when the metadata key is absent.
func setFromMeta(cr *ContentRow, d Dimension, raw string) {
	switch d {
	case DimElection:
		cr.ElectionID = nil
		if raw != "" {
			v := ElectionID(raw)
			cr.ElectionID = &v
		}
	case DimArea:
		cr.AreaID = nil
		if raw != "" {
			v := AreaID(raw)
			cr.AreaID = &v
		}
	case DimCandidate:
		cr.CandidateID = nil
		if raw != "" {
			v := CandidateID(raw)
			cr.CandidateID = &v
		}
	case DimParty:
		cr.PartyID = nil
		if raw != "" {
			v := PartyID(raw)
			cr.PartyID = &v
		}
	case DimBallotBox:
		cr.BallotBoxID = nil
		if raw != "" {
			v := BallotBoxID(raw)
			cr.BallotBoxID = &v
		}
	case DimNumValue:
		cr.NumValue = nil
		if raw != "" {
			if d, err := decimal.NewFromString(raw); err == nil {
				cr.NumValue = &d
			}
		}
	case DimStrValue:
		cr.StrValue = nil
		if raw != "" {
			v := raw
			cr.StrValue = &v
		}
	}
}

// =============================================================================
// DERIVED ROWS - Grouped aggregation over children's locked versions
// =============================================================================

func (e *Engine) deriveRows(ctx context.Context, store Store, sheet *TallySheet, row *TemplateRow) ([]ContentRow, error) {
	children, err := store.Children(ctx, sheet.ID)
	if err != nil {
		return nil, err
	}

	derivative := make(map[TemplateRowID]bool, len(row.DerivativeRows))
	for _, id := range row.DerivativeRows {
		derivative[id] = true
	}

	samples, err := e.collectSamples(ctx, store, children, row, derivative)
	if err != nil {
		return nil, err
	}

	return groupAndAggregate(row, samples), nil
}

// collectSamples produces the outer-joined input set: one null sample per
// (child, register entry) combination with no locked contribution, one
// sample per matching locked row otherwise.
func (e *Engine) collectSamples(ctx context.Context, store Store, children []TallySheetID, row *TemplateRow, derivative map[TemplateRowID]bool) ([]ContentRow, error) {
	_, elections := e.lookups(store)
	var samples []ContentRow

	for _, childID := range children {
		child, err := store.TallySheet(ctx, childID)
		if err != nil {
			return nil, err
		}

		var lockedRows []VersionRow
		if child.LockedVersionID != nil {
			locked, err := store.Version(ctx, *child.LockedVersionID)
			if err != nil {
				return nil, err
			}
			lockedRows = locked.Rows
		}

		slots, err := childSlots(ctx, elections, child, row)
		if err != nil {
			return nil, err
		}

		for _, slot := range slots {
			matched := false
			for _, vr := range lockedRows {
				if !derivative[vr.TemplateRowID] {
					continue
				}
				if slot.CandidateID != nil && (vr.CandidateID == nil || *vr.CandidateID != *slot.CandidateID) {
					continue
				}
				if slot.PartyID != nil && (vr.PartyID == nil || *vr.PartyID != *slot.PartyID) {
					continue
				}
				matched = true
				sample := slot
				sample.BallotBoxID = vr.BallotBoxID
				sample.NumValue = vr.NumValue
				sample.StrValue = vr.StrValue
				samples = append(samples, sample)
			}
			if !matched {
				samples = append(samples, slot)
			}
		}
	}

	return samples, nil
}

// childSlots seeds the combination universe for one child sheet. The
// election and area dimensions come from the child sheet itself; candidate
// and party dimensions come from the election's register so a candidate
// with no reported figures still yields a combination.
func childSlots(ctx context.Context, elections ElectionLookup, child *TallySheet, row *TemplateRow) ([]ContentRow, error) {
	base := ContentRow{
		TemplateRowID: row.ID,
		ElectionID:    &child.ElectionID,
		AreaID:        &child.AreaID,
	}

	switch {
	case row.HasColumn(DimCandidate):
		register, err := elections.Candidates(ctx, child.ElectionID)
		if err != nil {
			return nil, err
		}
		slots := make([]ContentRow, 0, len(register))
		for _, ec := range register {
			slot := base
			candidateID := ec.CandidateID
			partyID := ec.PartyID
			slot.CandidateID = &candidateID
			slot.PartyID = &partyID
			slots = append(slots, slot)
		}
		return slots, nil

	case row.HasColumn(DimParty):
		parties, err := elections.Parties(ctx, child.ElectionID)
		if err != nil {
			return nil, err
		}
		slots := make([]ContentRow, 0, len(parties))
		for _, p := range parties {
			slot := base
			partyID := p.ID
			slot.PartyID = &partyID
			slots = append(slots, slot)
		}
		return slots, nil

	default:
		return []ContentRow{base}, nil
	}
}

// =============================================================================
// GROUPING AND AGGREGATION
// =============================================================================

// groupKey is the comparable GROUP BY key over the row's grouped columns.
// The null marker keeps a nil dimension distinct from any real id.
type groupKey struct {
	election, area, candidate, party, ballotBox, num, str string
}

const nullKey = "\x00"

func keyPart(s *string) string {
	if s == nil {
		return nullKey
	}
	return *s
}

func dimKey(cr *ContentRow, d Dimension) string {
	switch d {
	case DimElection:
		if cr.ElectionID == nil {
			return nullKey
		}
		return string(*cr.ElectionID)
	case DimArea:
		if cr.AreaID == nil {
			return nullKey
		}
		return string(*cr.AreaID)
	case DimCandidate:
		if cr.CandidateID == nil {
			return nullKey
		}
		return string(*cr.CandidateID)
	case DimParty:
		if cr.PartyID == nil {
			return nullKey
		}
		return string(*cr.PartyID)
	case DimBallotBox:
		if cr.BallotBoxID == nil {
			return nullKey
		}
		return string(*cr.BallotBoxID)
	case DimNumValue:
		if cr.NumValue == nil {
			return nullKey
		}
		return cr.NumValue.String()
	case DimStrValue:
		return keyPart(cr.StrValue)
	}
	return nullKey
}

func groupAndAggregate(row *TemplateRow, samples []ContentRow) []ContentRow {
	var grouped []Dimension
	for _, col := range row.Columns {
		if col.Grouped {
			grouped = append(grouped, col.Name)
		}
	}

	groups := make(map[groupKey][]ContentRow)
	var order []groupKey
	for _, s := range samples {
		var k groupKey
		for _, d := range grouped {
			v := dimKey(&s, d)
			switch d {
			case DimElection:
				k.election = v
			case DimArea:
				k.area = v
			case DimCandidate:
				k.candidate = v
			case DimParty:
				k.party = v
			case DimBallotBox:
				k.ballotBox = v
			case DimNumValue:
				k.num = v
			case DimStrValue:
				k.str = v
			}
		}
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], s)
	}

	out := make([]ContentRow, 0, len(order))
	for _, k := range order {
		members := groups[k]
		result := ContentRow{TemplateRowID: row.ID}
		for _, col := range row.Columns {
			if col.Func != nil {
				applyAggregate(&result, col, members)
				continue
			}
			copyDim(&result, col.Name, &members[0])
		}
		out = append(out, result)
	}

	// Fixed, stable ordering: candidate first, then area, then the
	// remaining id dimensions. Repeated computation is deterministic.
	sort.SliceStable(out, func(i, j int) bool {
		a, b := &out[i], &out[j]
		for _, d := range []Dimension{DimCandidate, DimArea, DimParty, DimBallotBox, DimElection} {
			av, bv := dimKey(a, d), dimKey(b, d)
			if av != bv {
				return av < bv
			}
		}
		return false
	})

	return out
}

// applyAggregate writes one functional column's value into the result row.
// Sums and counts land in the numeric cell, concatenations in the text cell.
func applyAggregate(result *ContentRow, col TemplateRowColumn, members []ContentRow) {
	switch *col.Func {
	case FuncSum:
		var sum decimal.Decimal
		any := false
		for _, m := range members {
			if m.NumValue != nil {
				sum = sum.Add(*m.NumValue)
				any = true
			}
		}
		if any {
			result.NumValue = &sum
		}

	case FuncCount:
		var n int64
		for _, m := range members {
			if dimKey(&m, col.Name) != nullKey {
				n++
			}
		}
		count := decimal.NewFromInt(n)
		result.NumValue = &count

	case FuncConcatenate:
		var parts []string
		for _, m := range members {
			if v := dimKey(&m, col.Name); v != nullKey {
				parts = append(parts, v)
			}
		}
		if len(parts) > 0 {
			joined := strings.Join(parts, ",")
			result.StrValue = &joined
		}
	}
}

// copyDim copies a single dimension from src into dst.
func copyDim(dst *ContentRow, d Dimension, src *ContentRow) {
	switch d {
	case DimElection:
		dst.ElectionID = src.ElectionID
	case DimArea:
		dst.AreaID = src.AreaID
	case DimCandidate:
		dst.CandidateID = src.CandidateID
	case DimParty:
		dst.PartyID = src.PartyID
	case DimBallotBox:
		dst.BallotBoxID = src.BallotBoxID
	case DimNumValue:
		dst.NumValue = src.NumValue
	case DimStrValue:
		dst.StrValue = src.StrValue
	}
}
