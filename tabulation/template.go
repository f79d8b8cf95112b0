/*
template.go - Template catalog types

PURPOSE:
  A template defines, per tally-sheet code (e.g. "PRE_41", "PRE_30_PD"), an
  ordered list of rows. Each row specifies whether it is directly entered or
  derived, its columns, and whether multiple row instances are allowed. A
  derived row also references the child-template rows it aggregates over.

CLOSED ENUMERATIONS:
  Aggregation functions and grouping dimensions are closed tagged sets,
  dispatched by switch. An unsupported combination is caught when the
  catalog loads, not at aggregation time.

SEE ALSO:
  - aggregate.go: Consumes these types when building a version
  - catalog package: Parses JSON template definitions into Templates
*/
package tabulation

import "fmt"

// =============================================================================
// DIMENSIONS - Columns a template row may carry
// =============================================================================

// Dimension names a column of a template row. Id dimensions participate in
// grouping; NumValue and StrValue carry the cell value.
type Dimension string

const (
	DimElection  Dimension = "electionId"
	DimArea      Dimension = "areaId"
	DimCandidate Dimension = "candidateId"
	DimParty     Dimension = "partyId"
	DimBallotBox Dimension = "ballotBoxId"
	DimNumValue  Dimension = "numValue"
	DimStrValue  Dimension = "strValue"
)

// KnownDimension reports whether d is one of the closed dimension set.
func KnownDimension(d Dimension) bool {
	switch d {
	case DimElection, DimArea, DimCandidate, DimParty, DimBallotBox, DimNumValue, DimStrValue:
		return true
	}
	return false
}

// =============================================================================
// AGGREGATION FUNCTIONS
// =============================================================================

type AggregateFunc string

const (
	FuncSum         AggregateFunc = "sum"
	FuncCount       AggregateFunc = "count"
	FuncConcatenate AggregateFunc = "concatenate"
)

// KnownAggregateFunc reports whether f is one of the closed function set.
func KnownAggregateFunc(f AggregateFunc) bool {
	switch f {
	case FuncSum, FuncCount, FuncConcatenate:
		return true
	}
	return false
}

// =============================================================================
// COLUMN SOURCE
// =============================================================================

// ColumnSource says where a direct row's column value comes from: supplied
// by the caller, or taken from the tally sheet's own metadata map. Caller
// values for meta columns are overwritten.
type ColumnSource string

const (
	SourceEntry ColumnSource = "entry"
	SourceMeta  ColumnSource = "meta"
)

// =============================================================================
// TEMPLATE STRUCTURE
// =============================================================================

// TemplateRowColumn describes one column of a template row.
type TemplateRowColumn struct {
	Name    Dimension
	Source  ColumnSource
	Func    *AggregateFunc // nil for plain columns
	Grouped bool           // participates in the GROUP BY key when deriving
}

// TemplateRow is one logical row of a tally sheet form.
type TemplateRow struct {
	ID        TemplateRowID
	Type      string // label, e.g. "NUMBER_OF_VALID_VOTES"
	IsDerived bool
	HasMany   bool
	Columns   []TemplateRowColumn

	// DerivativeRows lists the child-template rows a derived row aggregates
	// over. Empty for non-derived rows.
	DerivativeRows []TemplateRowID
}

// HasColumn reports whether the row declares a column named d.
func (r *TemplateRow) HasColumn(d Dimension) bool {
	for _, c := range r.Columns {
		if c.Name == d {
			return true
		}
	}
	return false
}

// Template is an ordered sequence of template rows identified by a code.
type Template struct {
	ID   TemplateID
	Code string
	Rows []TemplateRow
}

// HasDataEntry reports whether the template has any directly entered row.
// Templates without a data-entry step report PENDING instead of NOT ENTERED
// while unlocked.
func (t *Template) HasDataEntry() bool {
	for _, r := range t.Rows {
		if !r.IsDerived {
			return true
		}
	}
	return false
}

// SubmitAllowed reports whether this template requires the submit step
// before locking. Pure-derived templates are locked directly.
func (t *Template) SubmitAllowed() bool { return t.HasDataEntry() }

// Row returns the template row with the given id.
func (t *Template) Row(id TemplateRowID) (*TemplateRow, bool) {
	for i := range t.Rows {
		if t.Rows[i].ID == id {
			return &t.Rows[i], true
		}
	}
	return nil, false
}

// Validate checks the template against the closed enumerations. Derived rows
// must aggregate something; every functional column must use a known function
// compatible with its dimension.
func (t *Template) Validate() error {
	for _, row := range t.Rows {
		if row.IsDerived && len(row.DerivativeRows) == 0 {
			return fmt.Errorf("template %s row %s: derived row without derivative rows", t.Code, row.ID)
		}
		for _, col := range row.Columns {
			if !KnownDimension(col.Name) {
				return fmt.Errorf("template %s row %s: unknown dimension %q", t.Code, row.ID, col.Name)
			}
			if col.Func == nil {
				continue
			}
			if !KnownAggregateFunc(*col.Func) {
				return fmt.Errorf("template %s row %s: unknown function %q", t.Code, row.ID, *col.Func)
			}
			switch *col.Func {
			case FuncSum:
				if col.Name != DimNumValue {
					return fmt.Errorf("template %s row %s: sum only applies to numValue", t.Code, row.ID)
				}
			case FuncConcatenate:
				if col.Name != DimStrValue && col.Name != DimBallotBox {
					return fmt.Errorf("template %s row %s: concatenate only applies to strValue or ballotBoxId", t.Code, row.ID)
				}
			}
			if col.Grouped {
				return fmt.Errorf("template %s row %s: column %s cannot be both grouped and aggregated", t.Code, row.ID, col.Name)
			}
		}
	}
	return nil
}
