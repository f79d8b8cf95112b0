/*
Package tabulation provides the core election results tabulation engine.

PURPOSE:
  This package contains the types and algorithms for tabulating election
  results submitted hierarchically from counting centres up through polling
  divisions, electoral districts, and national totals. Each physical paper
  form (a "tally sheet") is digitized as a versioned, append-only record;
  higher-level tally sheets derive their figures by aggregating the locked
  figures of their declared children.

KEY CONCEPTS IN THIS FILE (types.go):
  - TallySheet: One physical form instance bound to (election, area, template)
  - Version: An immutable snapshot of a tally sheet's row data
  - VersionRow: One cell of data with its grouping dimensions
  - Stamp: (user, timestamp) pair recorded with each pointer transition
  - Reference data: Election, Area, Candidate, Party lookups

DESIGN PRINCIPLES:
  1. Immutability: Versions are never modified after creation
  2. Precision: Uses decimal.Decimal for vote counts, never float64
  3. Type Safety: Strong typing for IDs prevents mixing sheet/version IDs
  4. Explicit actors: Every workflow transition carries the acting user

USAGE:
  sheet, err := engine.TallySheet(ctx, sheetID)
  version, err := engine.CreateVersion(ctx, sheetID, content, actor)
  err = engine.SetSubmittedVersion(ctx, sheetID, &version.ID, actor)

SEE ALSO:
  - template.go: Template catalog types and closed enumerations
  - workflow.go: Pointer transitions and status derivation
  - aggregate.go: Derived-row computation from children's locked versions
*/
package tabulation

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type TallySheetID string
type VersionID string
type VersionRowID string
type TemplateID string
type TemplateRowID string
type ElectionID string
type AreaID string
type CandidateID string
type PartyID string
type BallotBoxID string
type UserID string
type StatusReportID string

// =============================================================================
// STAMP - Who set a pointer, and when
// =============================================================================

// Stamp records the acting user and timestamp of a pointer transition.
type Stamp struct {
	By UserID
	At time.Time
}

// =============================================================================
// TALLY SHEET - One physical results form instance
// =============================================================================

// TallySheet is one physical form bound to exactly one (election, area,
// template). It carries five independently settable version pointers, each
// either nil or referencing a Version, plus a stamp recorded whenever that
// pointer is set. The pointers are independently addressable facts, not
// mutually exclusive phases: a sheet can simultaneously have a latest draft
// and a locked, submitted, older version.
type TallySheet struct {
	ID         TallySheetID
	TemplateID TemplateID
	ElectionID ElectionID
	AreaID     AreaID

	LatestVersionID    *VersionID
	SubmittedVersionID *VersionID
	LockedVersionID    *VersionID
	NotifiedVersionID  *VersionID
	ReleasedVersionID  *VersionID

	LatestStamp    *Stamp
	SubmittedStamp *Stamp
	LockedStamp    *Stamp
	NotifiedStamp  *Stamp
	ReleasedStamp  *Stamp

	// SubmissionProof holds ids of uploaded proof documents (scanned forms).
	// A locked sheet with proof present reports CERTIFIED instead of VERIFIED.
	SubmissionProof []string

	// Metadata backs meta-sourced template columns, keyed by column name.
	Metadata map[string]string

	StatusReportID *StatusReportID
}

func (t *TallySheet) Submitted() bool { return t.SubmittedVersionID != nil }
func (t *TallySheet) Locked() bool    { return t.LockedVersionID != nil }
func (t *TallySheet) Notified() bool  { return t.NotifiedVersionID != nil }
func (t *TallySheet) Released() bool  { return t.ReleasedVersionID != nil }

// HasProof reports whether any submission proof document is attached.
func (t *TallySheet) HasProof() bool { return len(t.SubmissionProof) > 0 }

// =============================================================================
// VERSION - Immutable snapshot of a tally sheet's rows
// =============================================================================

// Version is an immutable snapshot created once and never mutated after
// creation, except for the one-way IsComplete flag set at creation time.
type Version struct {
	ID           VersionID
	TallySheetID TallySheetID

	// IsComplete is true iff no emitted row has a nil numeric value where
	// the template declared one. Advisory, not enforced at write time.
	IsComplete bool

	CreatedBy UserID
	CreatedAt time.Time

	// Rows are ordered by template row declaration, then by grouping
	// dimensions. Fixed at creation.
	Rows []VersionRow
}

// VersionRow is one cell of data: which logical template row it instantiates,
// its grouping/identity dimensions (any subset may be nil depending on the
// row's columns), and the value as either NumValue or StrValue.
type VersionRow struct {
	ID            VersionRowID
	TemplateRowID TemplateRowID

	ElectionID  *ElectionID
	AreaID      *AreaID
	CandidateID *CandidateID
	PartyID     *PartyID
	BallotBoxID *BallotBoxID

	NumValue *decimal.Decimal
	StrValue *string
}

// ContentRow is caller-supplied input for non-derived template rows. It has
// the same shape as a VersionRow minus identity; the engine copies it into
// the new version after applying meta-source overwrites.
type ContentRow struct {
	TemplateRowID TemplateRowID

	ElectionID  *ElectionID
	AreaID      *AreaID
	CandidateID *CandidateID
	PartyID     *PartyID
	BallotBoxID *BallotBoxID

	NumValue *decimal.Decimal
	StrValue *string
}

// =============================================================================
// STATUS REPORT - Derived, human-readable state of a tally sheet
// =============================================================================

type Status string

const (
	StatusReleased   Status = "RELEASED"
	StatusNotified   Status = "NOTIFIED"
	StatusCertified  Status = "CERTIFIED"
	StatusVerified   Status = "VERIFIED"
	StatusSubmitted  Status = "SUBMITTED"
	StatusEntered    Status = "ENTERED"
	StatusNotEntered Status = "NOT ENTERED"
	StatusPending    Status = "PENDING"
)

// StatusReport is the derived display entity recomputed as a side effect of
// every workflow transition. At most one exists per tally sheet.
type StatusReport struct {
	ID                    StatusReportID
	ElectionID            ElectionID
	ReportType            string
	ElectoralDistrictName string
	PollingDivisionName   string
	Status                Status
	UpdatedAt             time.Time
}

// =============================================================================
// REFERENCE DATA - External collaborators, consumed as typed lookups
// =============================================================================

type AreaType string

const (
	AreaCountry           AreaType = "Country"
	AreaElectoralDistrict AreaType = "ElectoralDistrict"
	AreaPollingDivision   AreaType = "PollingDivision"
	AreaPollingDistrict   AreaType = "PollingDistrict"
	AreaCountingCentre    AreaType = "CountingCentre"
	AreaPollingStation    AreaType = "PollingStation"
)

// Area is a hierarchical geographic unit with a type tag.
type Area struct {
	ID         AreaID
	Name       string
	Type       AreaType
	ElectionID ElectionID
}

type VoteType string

const (
	VoteNormal VoteType = "Normal"
	VotePostal VoteType = "Postal"
)

// Election is hierarchical: a root election plus nested sub-elections
// sharing a root election id.
type Election struct {
	ID             ElectionID
	Name           string
	RootElectionID ElectionID
	VoteType       VoteType
}

type Candidate struct {
	ID   CandidateID
	Name string
}

type Party struct {
	ID           PartyID
	Name         string
	Abbreviation string
	Symbol       string
}

// ElectionCandidate binds a candidate (and its party) to an election. The
// register seeds the combination universe for candidate-grouped derived rows.
type ElectionCandidate struct {
	ElectionID              ElectionID
	CandidateID             CandidateID
	CandidateName           string
	PartyID                 PartyID
	QualifiedForPreferences bool
}
