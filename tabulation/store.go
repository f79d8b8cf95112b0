/*
store.go - Persistence and collaborator interfaces

PURPOSE:
  Defines the interface between the tabulation engine and its storage plus
  the external collaborators it consumes (area hierarchy, election register,
  capability checks). Different implementations can use SQLite, PostgreSQL,
  or in-memory storage.

APPEND-ONLY CONTRACT:
  Versions and their rows are immutable. The Store exposes AppendVersion()
  only - no update or delete of version rows exists. A new draft requires a
  new version.

TRANSACTION BOUNDARY:
  All pointer transitions and version creation for one tally sheet run under
  WithTx. The storage layer provides atomicity: all row inserts plus the
  pointer update commit together or not at all. Correctness across concurrent
  requests against the same tally sheet relies on the storage engine's
  isolation; no in-process locking is layered on top.

IMPLEMENTATIONS:
  - store/sqlite:            Production SQLite
  - tabulation/store.Memory: In-memory for testing and dev mode

SEE ALSO:
  - workflow.go: Uses WithTx for every transition
  - aggregate.go: Reads children's locked versions through Store
*/
package tabulation

import "context"

// =============================================================================
// STORE - Tally sheet, version, and template persistence
// =============================================================================

type Store interface {
	// TallySheet returns the sheet or a NotFoundError.
	TallySheet(ctx context.Context, id TallySheetID) (*TallySheet, error)

	// CreateTallySheet persists a new sheet.
	CreateTallySheet(ctx context.Context, sheet *TallySheet) error

	// SaveTallySheet persists pointer, stamp, proof, and status report
	// changes for an existing sheet. Version rows are never touched here.
	SaveTallySheet(ctx context.Context, sheet *TallySheet) error

	// Version returns an immutable version with its ordered rows.
	Version(ctx context.Context, id VersionID) (*Version, error)

	// AppendVersion persists a version and all its rows. Append-only: no
	// update or delete of versions exists.
	AppendVersion(ctx context.Context, version *Version) error

	// Template returns the template or a NotFoundError.
	Template(ctx context.Context, id TemplateID) (*Template, error)

	// TemplateByCode returns the template registered under a code.
	TemplateByCode(ctx context.Context, code string) (*Template, error)

	// CreateTemplate persists a template definition.
	CreateTemplate(ctx context.Context, tpl *Template) error

	// Children returns the declared child sheet ids of parent, in insertion
	// order.
	Children(ctx context.Context, parent TallySheetID) ([]TallySheetID, error)

	// Parents returns the declared parent sheet ids of child.
	Parents(ctx context.Context, child TallySheetID) ([]TallySheetID, error)

	// HasChild reports whether the (parent, child) edge exists.
	HasChild(ctx context.Context, parent, child TallySheetID) (bool, error)

	// AddChild creates the (parent, child) edge. Idempotent: an existing
	// edge is left untouched and no duplicate is created.
	AddChild(ctx context.Context, parent, child TallySheetID) error

	// StatusReport returns the report or a NotFoundError.
	StatusReport(ctx context.Context, id StatusReportID) (*StatusReport, error)

	// SaveStatusReport creates or updates a status report.
	SaveStatusReport(ctx context.Context, report *StatusReport) error
}

// TxStore wraps Store with transaction support. Workflow transitions and
// version creation run within WithTx so pointer updates and row inserts
// commit atomically.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction. If fn returns an error, the
	// transaction is rolled back; otherwise it is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// EXTERNAL COLLABORATORS - Consumed, not reimplemented here
// =============================================================================

// AreaLookup resolves ancestor/descendant area relations by type.
type AreaLookup interface {
	Area(ctx context.Context, id AreaID) (*Area, error)
	AncestorsOfType(ctx context.Context, id AreaID, t AreaType) ([]Area, error)
	DescendantsOfType(ctx context.Context, id AreaID, t AreaType) ([]Area, error)
}

// ElectionLookup resolves the election hierarchy and its candidate and party
// registers.
type ElectionLookup interface {
	Election(ctx context.Context, id ElectionID) (*Election, error)
	RootElection(ctx context.Context, id ElectionID) (*Election, error)
	DescendantElectionIDs(ctx context.Context, id ElectionID) ([]ElectionID, error)
	Candidates(ctx context.Context, electionID ElectionID) ([]ElectionCandidate, error)
	Parties(ctx context.Context, electionID ElectionID) ([]Party, error)
}

// =============================================================================
// AUTHORIZATION - Capability checks for lock/unlock
// =============================================================================

type Capability string

const (
	CapLock   Capability = "lock"
	CapUnlock Capability = "unlock"
)

// Authorizer answers capability checks for workflow transitions. The actor
// is always passed explicitly; there is no ambient current user.
type Authorizer interface {
	HasCapability(ctx context.Context, actor UserID, cap Capability, sheet *TallySheet) (bool, error)
}

// StaticAuthorizer grants capabilities from a fixed map. Useful for tests
// and single-tenant deployments.
type StaticAuthorizer struct {
	Grants map[UserID][]Capability
}

func (a *StaticAuthorizer) HasCapability(_ context.Context, actor UserID, cap Capability, _ *TallySheet) (bool, error) {
	for _, c := range a.Grants[actor] {
		if c == cap {
			return true, nil
		}
	}
	return false, nil
}

// AllowAll grants every capability to every actor. Dev mode only.
type AllowAll struct{}

func (AllowAll) HasCapability(context.Context, UserID, Capability, *TallySheet) (bool, error) {
	return true, nil
}
