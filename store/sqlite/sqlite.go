/*
Package sqlite provides a SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements tabulation.TxStore plus the AreaLookup and ElectionLookup
  collaborators using SQLite. In production the same patterns apply to
  PostgreSQL - only minor SQL dialect differences.

APPEND-ONLY ENFORCEMENT:
  Versions and their rows are written once by AppendVersion and never
  updated or deleted. Pointer transitions touch only the tally_sheets row.

KEY TABLES:
  tally_sheets:          Five version-reference columns + stamps per sheet
  versions/version_rows: Immutable snapshots, ordered by position
  tally_sheet_children:  Parent/child edges (PK makes AddChild idempotent)
  templates/...:         Row and column structure, loaded read-only
  status_reports:        Derived display status per sheet
  areas/elections/...:   Reference data behind the typed lookups

TRANSACTIONS:
  WithTx wraps BeginTx/Commit/Rollback; the version insert and the pointer
  update of one operation commit together or not at all. Concurrent
  operations against the same tally sheet serialize on SQLite's single
  writer.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) so aggregation reads
  don't block unrelated writes and a child's locked pointer is always read
  from a consistent snapshot.

USAGE:
  store, err := sqlite.New("./data/tabulation.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := tabulation.NewEngine(store, store, store, auth, nil)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - tabulation/store.go: Interface definitions
  - tabulation/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/openelect/results-tabulation/tabulation"
)

// Store implements tabulation.TxStore, tabulation.AreaLookup, and
// tabulation.ElectionLookup using SQLite.
type Store struct {
	db *sql.DB
}

// New creates a SQLite store. Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One pooled connection: ":memory:" databases are per-connection, and
	// SQLite allows a single writer anyway.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tally_sheets (
		id TEXT PRIMARY KEY,
		template_id TEXT NOT NULL,
		election_id TEXT NOT NULL,
		area_id TEXT NOT NULL,
		latest_version_id TEXT,
		latest_by TEXT,
		latest_at TEXT,
		submitted_version_id TEXT,
		submitted_by TEXT,
		submitted_at TEXT,
		locked_version_id TEXT,
		locked_by TEXT,
		locked_at TEXT,
		notified_version_id TEXT,
		notified_by TEXT,
		notified_at TEXT,
		released_version_id TEXT,
		released_by TEXT,
		released_at TEXT,
		status_report_id TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tally_sheets_election_area
		ON tally_sheets(election_id, area_id);

	CREATE TABLE IF NOT EXISTS tally_sheet_proofs (
		tally_sheet_id TEXT NOT NULL,
		document_id TEXT NOT NULL,
		PRIMARY KEY (tally_sheet_id, document_id)
	);

	CREATE TABLE IF NOT EXISTS tally_sheet_metadata (
		tally_sheet_id TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (tally_sheet_id, key)
	);

	-- Immutable snapshots. No UPDATE or DELETE statements exist for these
	-- two tables.
	CREATE TABLE IF NOT EXISTS versions (
		id TEXT PRIMARY KEY,
		tally_sheet_id TEXT NOT NULL,
		is_complete INTEGER NOT NULL DEFAULT 0,
		created_by TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_versions_tally_sheet
		ON versions(tally_sheet_id);

	CREATE TABLE IF NOT EXISTS version_rows (
		id TEXT PRIMARY KEY,
		version_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		template_row_id TEXT NOT NULL,
		election_id TEXT,
		area_id TEXT,
		candidate_id TEXT,
		party_id TEXT,
		ballot_box_id TEXT,
		num_value TEXT,
		str_value TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_version_rows_version
		ON version_rows(version_id, position);

	CREATE TABLE IF NOT EXISTS tally_sheet_children (
		parent_id TEXT NOT NULL,
		child_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (parent_id, child_id)
	);

	CREATE INDEX IF NOT EXISTS idx_children_child
		ON tally_sheet_children(child_id);

	CREATE TABLE IF NOT EXISTS templates (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS template_rows (
		id TEXT PRIMARY KEY,
		template_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		row_type TEXT NOT NULL DEFAULT '',
		is_derived INTEGER NOT NULL DEFAULT 0,
		has_many INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_template_rows_template
		ON template_rows(template_id, position);

	CREATE TABLE IF NOT EXISTS template_row_columns (
		template_row_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		name TEXT NOT NULL,
		source TEXT NOT NULL DEFAULT 'entry',
		func TEXT,
		grouped INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (template_row_id, position)
	);

	CREATE TABLE IF NOT EXISTS template_row_derivatives (
		template_row_id TEXT NOT NULL,
		derivative_row_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (template_row_id, derivative_row_id)
	);

	CREATE TABLE IF NOT EXISTS status_reports (
		id TEXT PRIMARY KEY,
		election_id TEXT NOT NULL,
		report_type TEXT NOT NULL,
		district_name TEXT NOT NULL DEFAULT '',
		division_name TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS areas (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		area_type TEXT NOT NULL,
		election_id TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS area_edges (
		parent_id TEXT NOT NULL,
		child_id TEXT NOT NULL,
		PRIMARY KEY (parent_id, child_id)
	);

	CREATE INDEX IF NOT EXISTS idx_area_edges_child
		ON area_edges(child_id);

	CREATE TABLE IF NOT EXISTS elections (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		root_election_id TEXT NOT NULL DEFAULT '',
		vote_type TEXT NOT NULL DEFAULT 'Normal',
		parent_election_id TEXT
	);

	CREATE TABLE IF NOT EXISTS election_candidates (
		election_id TEXT NOT NULL,
		candidate_id TEXT NOT NULL,
		candidate_name TEXT NOT NULL DEFAULT '',
		party_id TEXT NOT NULL DEFAULT '',
		qualified INTEGER NOT NULL DEFAULT 0,
		position INTEGER NOT NULL,
		PRIMARY KEY (election_id, candidate_id)
	);

	CREATE TABLE IF NOT EXISTS election_parties (
		election_id TEXT NOT NULL,
		party_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		abbreviation TEXT NOT NULL DEFAULT '',
		symbol TEXT NOT NULL DEFAULT '',
		position INTEGER NOT NULL,
		PRIMARY KEY (election_id, party_id)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// RUNNER - Shared query surface for *sql.DB and *sql.Tx
// =============================================================================

type runner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// TX STORE
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tabulation.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	view := &txView{store: s, tx: tx}
	if err := fn(view); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// txView routes Store calls through an open transaction. It also carries the
// area and election lookups: reads issued while the transaction is open must
// run on the transaction's connection.
type txView struct {
	store *Store
	tx    *sql.Tx
}

func (v *txView) TallySheet(ctx context.Context, id tabulation.TallySheetID) (*tabulation.TallySheet, error) {
	return v.store.tallySheet(ctx, v.tx, id)
}
func (v *txView) CreateTallySheet(ctx context.Context, sheet *tabulation.TallySheet) error {
	return v.store.createTallySheet(ctx, v.tx, sheet)
}
func (v *txView) SaveTallySheet(ctx context.Context, sheet *tabulation.TallySheet) error {
	return v.store.saveTallySheet(ctx, v.tx, sheet)
}
func (v *txView) Version(ctx context.Context, id tabulation.VersionID) (*tabulation.Version, error) {
	return v.store.version(ctx, v.tx, id)
}
func (v *txView) AppendVersion(ctx context.Context, version *tabulation.Version) error {
	return v.store.appendVersion(ctx, v.tx, version)
}
func (v *txView) Template(ctx context.Context, id tabulation.TemplateID) (*tabulation.Template, error) {
	return v.store.template(ctx, v.tx, id)
}
func (v *txView) TemplateByCode(ctx context.Context, code string) (*tabulation.Template, error) {
	return v.store.templateByCode(ctx, v.tx, code)
}
func (v *txView) CreateTemplate(ctx context.Context, tpl *tabulation.Template) error {
	return v.store.createTemplate(ctx, v.tx, tpl)
}
func (v *txView) Children(ctx context.Context, parent tabulation.TallySheetID) ([]tabulation.TallySheetID, error) {
	return v.store.children(ctx, v.tx, parent)
}
func (v *txView) Parents(ctx context.Context, child tabulation.TallySheetID) ([]tabulation.TallySheetID, error) {
	return v.store.parents(ctx, v.tx, child)
}
func (v *txView) HasChild(ctx context.Context, parent, child tabulation.TallySheetID) (bool, error) {
	return v.store.hasChild(ctx, v.tx, parent, child)
}
func (v *txView) AddChild(ctx context.Context, parent, child tabulation.TallySheetID) error {
	return v.store.addChild(ctx, v.tx, parent, child)
}
func (v *txView) StatusReport(ctx context.Context, id tabulation.StatusReportID) (*tabulation.StatusReport, error) {
	return v.store.statusReport(ctx, v.tx, id)
}
func (v *txView) SaveStatusReport(ctx context.Context, report *tabulation.StatusReport) error {
	return v.store.saveStatusReport(ctx, v.tx, report)
}
func (v *txView) Area(ctx context.Context, id tabulation.AreaID) (*tabulation.Area, error) {
	return v.store.area(ctx, v.tx, id)
}
func (v *txView) AncestorsOfType(ctx context.Context, id tabulation.AreaID, t tabulation.AreaType) ([]tabulation.Area, error) {
	return v.store.ancestorsOfType(ctx, v.tx, id, t)
}
func (v *txView) DescendantsOfType(ctx context.Context, id tabulation.AreaID, t tabulation.AreaType) ([]tabulation.Area, error) {
	return v.store.descendantsOfType(ctx, v.tx, id, t)
}
func (v *txView) Election(ctx context.Context, id tabulation.ElectionID) (*tabulation.Election, error) {
	return v.store.election(ctx, v.tx, id)
}
func (v *txView) RootElection(ctx context.Context, id tabulation.ElectionID) (*tabulation.Election, error) {
	return v.store.rootElection(ctx, v.tx, id)
}
func (v *txView) DescendantElectionIDs(ctx context.Context, id tabulation.ElectionID) ([]tabulation.ElectionID, error) {
	return v.store.descendantElectionIDs(ctx, v.tx, id)
}
func (v *txView) Candidates(ctx context.Context, id tabulation.ElectionID) ([]tabulation.ElectionCandidate, error) {
	return v.store.candidates(ctx, v.tx, id)
}
func (v *txView) Parties(ctx context.Context, id tabulation.ElectionID) ([]tabulation.Party, error) {
	return v.store.parties(ctx, v.tx, id)
}

// =============================================================================
// STORE INTERFACE - Direct (non-transactional) entry points
// =============================================================================

func (s *Store) TallySheet(ctx context.Context, id tabulation.TallySheetID) (*tabulation.TallySheet, error) {
	return s.tallySheet(ctx, s.db, id)
}
func (s *Store) CreateTallySheet(ctx context.Context, sheet *tabulation.TallySheet) error {
	return s.createTallySheet(ctx, s.db, sheet)
}
func (s *Store) SaveTallySheet(ctx context.Context, sheet *tabulation.TallySheet) error {
	return s.saveTallySheet(ctx, s.db, sheet)
}
func (s *Store) Version(ctx context.Context, id tabulation.VersionID) (*tabulation.Version, error) {
	return s.version(ctx, s.db, id)
}
func (s *Store) AppendVersion(ctx context.Context, version *tabulation.Version) error {
	return s.appendVersion(ctx, s.db, version)
}
func (s *Store) Template(ctx context.Context, id tabulation.TemplateID) (*tabulation.Template, error) {
	return s.template(ctx, s.db, id)
}
func (s *Store) TemplateByCode(ctx context.Context, code string) (*tabulation.Template, error) {
	return s.templateByCode(ctx, s.db, code)
}
func (s *Store) CreateTemplate(ctx context.Context, tpl *tabulation.Template) error {
	return s.createTemplate(ctx, s.db, tpl)
}
func (s *Store) Children(ctx context.Context, parent tabulation.TallySheetID) ([]tabulation.TallySheetID, error) {
	return s.children(ctx, s.db, parent)
}
func (s *Store) Parents(ctx context.Context, child tabulation.TallySheetID) ([]tabulation.TallySheetID, error) {
	return s.parents(ctx, s.db, child)
}
func (s *Store) HasChild(ctx context.Context, parent, child tabulation.TallySheetID) (bool, error) {
	return s.hasChild(ctx, s.db, parent, child)
}
func (s *Store) AddChild(ctx context.Context, parent, child tabulation.TallySheetID) error {
	return s.addChild(ctx, s.db, parent, child)
}
func (s *Store) StatusReport(ctx context.Context, id tabulation.StatusReportID) (*tabulation.StatusReport, error) {
	return s.statusReport(ctx, s.db, id)
}
func (s *Store) SaveStatusReport(ctx context.Context, report *tabulation.StatusReport) error {
	return s.saveStatusReport(ctx, s.db, report)
}

// =============================================================================
// TALLY SHEETS
// =============================================================================

func (s *Store) tallySheet(ctx context.Context, r runner, id tabulation.TallySheetID) (*tabulation.TallySheet, error) {
	row := r.QueryRowContext(ctx, `
		SELECT id, template_id, election_id, area_id,
		       latest_version_id, latest_by, latest_at,
		       submitted_version_id, submitted_by, submitted_at,
		       locked_version_id, locked_by, locked_at,
		       notified_version_id, notified_by, notified_at,
		       released_version_id, released_by, released_at,
		       status_report_id
		FROM tally_sheets WHERE id = ?`, string(id))

	var sheet tabulation.TallySheet
	var latestID, latestBy, latestAt sql.NullString
	var submittedID, submittedBy, submittedAt sql.NullString
	var lockedID, lockedBy, lockedAt sql.NullString
	var notifiedID, notifiedBy, notifiedAt sql.NullString
	var releasedID, releasedBy, releasedAt sql.NullString
	var reportID sql.NullString

	err := row.Scan(
		&sheet.ID, &sheet.TemplateID, &sheet.ElectionID, &sheet.AreaID,
		&latestID, &latestBy, &latestAt,
		&submittedID, &submittedBy, &submittedAt,
		&lockedID, &lockedBy, &lockedAt,
		&notifiedID, &notifiedBy, &notifiedAt,
		&releasedID, &releasedBy, &releasedAt,
		&reportID,
	)
	if err == sql.ErrNoRows {
		return nil, &tabulation.NotFoundError{Kind: "tally sheet", ID: string(id)}
	}
	if err != nil {
		return nil, err
	}

	sheet.LatestVersionID = idRef[tabulation.VersionID](latestID)
	sheet.LatestStamp = stampRef(latestBy, latestAt)
	sheet.SubmittedVersionID = idRef[tabulation.VersionID](submittedID)
	sheet.SubmittedStamp = stampRef(submittedBy, submittedAt)
	sheet.LockedVersionID = idRef[tabulation.VersionID](lockedID)
	sheet.LockedStamp = stampRef(lockedBy, lockedAt)
	sheet.NotifiedVersionID = idRef[tabulation.VersionID](notifiedID)
	sheet.NotifiedStamp = stampRef(notifiedBy, notifiedAt)
	sheet.ReleasedVersionID = idRef[tabulation.VersionID](releasedID)
	sheet.ReleasedStamp = stampRef(releasedBy, releasedAt)
	sheet.StatusReportID = idRef[tabulation.StatusReportID](reportID)

	if err := s.loadProofs(ctx, r, &sheet); err != nil {
		return nil, err
	}
	if err := s.loadMetadata(ctx, r, &sheet); err != nil {
		return nil, err
	}
	return &sheet, nil
}

func (s *Store) loadProofs(ctx context.Context, r runner, sheet *tabulation.TallySheet) error {
	rows, err := r.QueryContext(ctx, `
		SELECT document_id FROM tally_sheet_proofs
		WHERE tally_sheet_id = ? ORDER BY document_id`, string(sheet.ID))
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return err
		}
		sheet.SubmissionProof = append(sheet.SubmissionProof, doc)
	}
	return rows.Err()
}

func (s *Store) loadMetadata(ctx context.Context, r runner, sheet *tabulation.TallySheet) error {
	rows, err := r.QueryContext(ctx, `
		SELECT key, value FROM tally_sheet_metadata
		WHERE tally_sheet_id = ?`, string(sheet.ID))
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return err
		}
		if sheet.Metadata == nil {
			sheet.Metadata = make(map[string]string)
		}
		sheet.Metadata[k] = v
	}
	return rows.Err()
}

func (s *Store) createTallySheet(ctx context.Context, r runner, sheet *tabulation.TallySheet) error {
	_, err := r.ExecContext(ctx, `
		INSERT INTO tally_sheets (id, template_id, election_id, area_id, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		string(sheet.ID), string(sheet.TemplateID), string(sheet.ElectionID),
		string(sheet.AreaID), now())
	if err != nil {
		return err
	}
	for k, v := range sheet.Metadata {
		if _, err := r.ExecContext(ctx, `
			INSERT INTO tally_sheet_metadata (tally_sheet_id, key, value)
			VALUES (?, ?, ?)`, string(sheet.ID), k, v); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) saveTallySheet(ctx context.Context, r runner, sheet *tabulation.TallySheet) error {
	result, err := r.ExecContext(ctx, `
		UPDATE tally_sheets SET
			latest_version_id = ?, latest_by = ?, latest_at = ?,
			submitted_version_id = ?, submitted_by = ?, submitted_at = ?,
			locked_version_id = ?, locked_by = ?, locked_at = ?,
			notified_version_id = ?, notified_by = ?, notified_at = ?,
			released_version_id = ?, released_by = ?, released_at = ?,
			status_report_id = ?
		WHERE id = ?`,
		idCol(sheet.LatestVersionID), stampBy(sheet.LatestStamp), stampAt(sheet.LatestStamp),
		idCol(sheet.SubmittedVersionID), stampBy(sheet.SubmittedStamp), stampAt(sheet.SubmittedStamp),
		idCol(sheet.LockedVersionID), stampBy(sheet.LockedStamp), stampAt(sheet.LockedStamp),
		idCol(sheet.NotifiedVersionID), stampBy(sheet.NotifiedStamp), stampAt(sheet.NotifiedStamp),
		idCol(sheet.ReleasedVersionID), stampBy(sheet.ReleasedStamp), stampAt(sheet.ReleasedStamp),
		idCol(sheet.StatusReportID),
		string(sheet.ID))
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return &tabulation.NotFoundError{Kind: "tally sheet", ID: string(sheet.ID)}
	}

	for _, doc := range sheet.SubmissionProof {
		if _, err := r.ExecContext(ctx, `
			INSERT OR IGNORE INTO tally_sheet_proofs (tally_sheet_id, document_id)
			VALUES (?, ?)`, string(sheet.ID), doc); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// VERSIONS - Append-only
// =============================================================================

func (s *Store) version(ctx context.Context, r runner, id tabulation.VersionID) (*tabulation.Version, error) {
	row := r.QueryRowContext(ctx, `
		SELECT id, tally_sheet_id, is_complete, created_by, created_at
		FROM versions WHERE id = ?`, string(id))

	var version tabulation.Version
	var complete int
	var createdAt string
	err := row.Scan(&version.ID, &version.TallySheetID, &complete, &version.CreatedBy, &createdAt)
	if err == sql.ErrNoRows {
		return nil, &tabulation.NotFoundError{Kind: "version", ID: string(id)}
	}
	if err != nil {
		return nil, err
	}
	version.IsComplete = complete != 0
	version.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)

	rows, err := r.QueryContext(ctx, `
		SELECT id, template_row_id, election_id, area_id, candidate_id,
		       party_id, ballot_box_id, num_value, str_value
		FROM version_rows WHERE version_id = ? ORDER BY position`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var vr tabulation.VersionRow
		var electionID, areaID, candidateID, partyID, ballotBoxID sql.NullString
		var numValue, strValue sql.NullString
		if err := rows.Scan(&vr.ID, &vr.TemplateRowID, &electionID, &areaID,
			&candidateID, &partyID, &ballotBoxID, &numValue, &strValue); err != nil {
			return nil, err
		}
		vr.ElectionID = idRef[tabulation.ElectionID](electionID)
		vr.AreaID = idRef[tabulation.AreaID](areaID)
		vr.CandidateID = idRef[tabulation.CandidateID](candidateID)
		vr.PartyID = idRef[tabulation.PartyID](partyID)
		vr.BallotBoxID = idRef[tabulation.BallotBoxID](ballotBoxID)
		if numValue.Valid {
			d, err := decimal.NewFromString(numValue.String)
			if err != nil {
				return nil, fmt.Errorf("version row %s has invalid num_value %q: %w", vr.ID, numValue.String, err)
			}
			vr.NumValue = &d
		}
		if strValue.Valid {
			v := strValue.String
			vr.StrValue = &v
		}
		version.Rows = append(version.Rows, vr)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &version, nil
}

func (s *Store) appendVersion(ctx context.Context, r runner, version *tabulation.Version) error {
	_, err := r.ExecContext(ctx, `
		INSERT INTO versions (id, tally_sheet_id, is_complete, created_by, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		string(version.ID), string(version.TallySheetID), boolCol(version.IsComplete),
		string(version.CreatedBy), version.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return err
	}

	for i, vr := range version.Rows {
		var numValue any
		if vr.NumValue != nil {
			numValue = vr.NumValue.String()
		}
		_, err := r.ExecContext(ctx, `
			INSERT INTO version_rows (id, version_id, position, template_row_id,
				election_id, area_id, candidate_id, party_id, ballot_box_id,
				num_value, str_value)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			string(vr.ID), string(version.ID), i, string(vr.TemplateRowID),
			idCol(vr.ElectionID), idCol(vr.AreaID), idCol(vr.CandidateID),
			idCol(vr.PartyID), idCol(vr.BallotBoxID),
			numValue, strCol(vr.StrValue))
		if err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// TEMPLATES
// =============================================================================

func (s *Store) template(ctx context.Context, r runner, id tabulation.TemplateID) (*tabulation.Template, error) {
	return s.scanTemplate(ctx, r,
		r.QueryRowContext(ctx, `SELECT id, code FROM templates WHERE id = ?`, string(id)),
		string(id))
}

func (s *Store) templateByCode(ctx context.Context, r runner, code string) (*tabulation.Template, error) {
	return s.scanTemplate(ctx, r,
		r.QueryRowContext(ctx, `SELECT id, code FROM templates WHERE code = ?`, code),
		code)
}

func (s *Store) scanTemplate(ctx context.Context, r runner, row *sql.Row, ref string) (*tabulation.Template, error) {
	var tpl tabulation.Template
	err := row.Scan(&tpl.ID, &tpl.Code)
	if err == sql.ErrNoRows {
		return nil, &tabulation.NotFoundError{Kind: "template", ID: ref}
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadTemplateRows(ctx, r, &tpl); err != nil {
		return nil, err
	}
	return &tpl, nil
}

func (s *Store) loadTemplateRows(ctx context.Context, r runner, tpl *tabulation.Template) error {
	rows, err := r.QueryContext(ctx, `
		SELECT id, row_type, is_derived, has_many
		FROM template_rows WHERE template_id = ? ORDER BY position`, string(tpl.ID))
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var tr tabulation.TemplateRow
		var derived, hasMany int
		if err := rows.Scan(&tr.ID, &tr.Type, &derived, &hasMany); err != nil {
			return err
		}
		tr.IsDerived = derived != 0
		tr.HasMany = hasMany != 0
		tpl.Rows = append(tpl.Rows, tr)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for i := range tpl.Rows {
		if err := s.loadRowColumns(ctx, r, &tpl.Rows[i]); err != nil {
			return err
		}
		if err := s.loadRowDerivatives(ctx, r, &tpl.Rows[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) loadRowColumns(ctx context.Context, r runner, tr *tabulation.TemplateRow) error {
	rows, err := r.QueryContext(ctx, `
		SELECT name, source, func, grouped
		FROM template_row_columns WHERE template_row_id = ? ORDER BY position`, string(tr.ID))
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var col tabulation.TemplateRowColumn
		var fn sql.NullString
		var grouped int
		if err := rows.Scan(&col.Name, &col.Source, &fn, &grouped); err != nil {
			return err
		}
		col.Grouped = grouped != 0
		if fn.Valid {
			f := tabulation.AggregateFunc(fn.String)
			col.Func = &f
		}
		tr.Columns = append(tr.Columns, col)
	}
	return rows.Err()
}

func (s *Store) loadRowDerivatives(ctx context.Context, r runner, tr *tabulation.TemplateRow) error {
	rows, err := r.QueryContext(ctx, `
		SELECT derivative_row_id FROM template_row_derivatives
		WHERE template_row_id = ? ORDER BY position`, string(tr.ID))
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var id tabulation.TemplateRowID
		if err := rows.Scan(&id); err != nil {
			return err
		}
		tr.DerivativeRows = append(tr.DerivativeRows, id)
	}
	return rows.Err()
}

func (s *Store) createTemplate(ctx context.Context, r runner, tpl *tabulation.Template) error {
	if _, err := r.ExecContext(ctx, `
		INSERT INTO templates (id, code) VALUES (?, ?)`,
		string(tpl.ID), tpl.Code); err != nil {
		return err
	}
	for i, tr := range tpl.Rows {
		if _, err := r.ExecContext(ctx, `
			INSERT INTO template_rows (id, template_id, position, row_type, is_derived, has_many)
			VALUES (?, ?, ?, ?, ?, ?)`,
			string(tr.ID), string(tpl.ID), i, tr.Type,
			boolCol(tr.IsDerived), boolCol(tr.HasMany)); err != nil {
			return err
		}
		for j, col := range tr.Columns {
			var fn any
			if col.Func != nil {
				fn = string(*col.Func)
			}
			if _, err := r.ExecContext(ctx, `
				INSERT INTO template_row_columns (template_row_id, position, name, source, func, grouped)
				VALUES (?, ?, ?, ?, ?, ?)`,
				string(tr.ID), j, string(col.Name), string(col.Source), fn,
				boolCol(col.Grouped)); err != nil {
				return err
			}
		}
		for j, derivative := range tr.DerivativeRows {
			if _, err := r.ExecContext(ctx, `
				INSERT INTO template_row_derivatives (template_row_id, derivative_row_id, position)
				VALUES (?, ?, ?)`,
				string(tr.ID), string(derivative), j); err != nil {
				return err
			}
		}
	}
	return nil
}

// =============================================================================
// CHILD EDGES
// =============================================================================

func (s *Store) children(ctx context.Context, r runner, parent tabulation.TallySheetID) ([]tabulation.TallySheetID, error) {
	return s.sheetIDs(ctx, r, `
		SELECT child_id FROM tally_sheet_children
		WHERE parent_id = ? ORDER BY position`, string(parent))
}

func (s *Store) parents(ctx context.Context, r runner, child tabulation.TallySheetID) ([]tabulation.TallySheetID, error) {
	return s.sheetIDs(ctx, r, `
		SELECT parent_id FROM tally_sheet_children
		WHERE child_id = ? ORDER BY position`, string(child))
}

func (s *Store) sheetIDs(ctx context.Context, r runner, query string, arg string) ([]tabulation.TallySheetID, error) {
	rows, err := r.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []tabulation.TallySheetID
	for rows.Next() {
		var id tabulation.TallySheetID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) hasChild(ctx context.Context, r runner, parent, child tabulation.TallySheetID) (bool, error) {
	row := r.QueryRowContext(ctx, `
		SELECT 1 FROM tally_sheet_children WHERE parent_id = ? AND child_id = ?`,
		string(parent), string(child))
	var one int
	err := row.Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) addChild(ctx context.Context, r runner, parent, child tabulation.TallySheetID) error {
	var position int
	row := r.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(position)+1, 0) FROM tally_sheet_children WHERE parent_id = ?`,
		string(parent))
	if err := row.Scan(&position); err != nil {
		return err
	}
	_, err := r.ExecContext(ctx, `
		INSERT OR IGNORE INTO tally_sheet_children (parent_id, child_id, position)
		VALUES (?, ?, ?)`, string(parent), string(child), position)
	return err
}

// =============================================================================
// STATUS REPORTS
// =============================================================================

func (s *Store) statusReport(ctx context.Context, r runner, id tabulation.StatusReportID) (*tabulation.StatusReport, error) {
	row := r.QueryRowContext(ctx, `
		SELECT id, election_id, report_type, district_name, division_name, status, updated_at
		FROM status_reports WHERE id = ?`, string(id))
	var report tabulation.StatusReport
	var updatedAt string
	err := row.Scan(&report.ID, &report.ElectionID, &report.ReportType,
		&report.ElectoralDistrictName, &report.PollingDivisionName,
		&report.Status, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, &tabulation.NotFoundError{Kind: "status report", ID: string(id)}
	}
	if err != nil {
		return nil, err
	}
	report.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &report, nil
}

func (s *Store) saveStatusReport(ctx context.Context, r runner, report *tabulation.StatusReport) error {
	_, err := r.ExecContext(ctx, `
		INSERT INTO status_reports (id, election_id, report_type, district_name, division_name, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at`,
		string(report.ID), string(report.ElectionID), report.ReportType,
		report.ElectoralDistrictName, report.PollingDivisionName,
		string(report.Status), report.UpdatedAt.UTC().Format(time.RFC3339Nano))
	return err
}

// =============================================================================
// AREA LOOKUP
// =============================================================================

func (s *Store) Area(ctx context.Context, id tabulation.AreaID) (*tabulation.Area, error) {
	return s.area(ctx, s.db, id)
}

func (s *Store) area(ctx context.Context, r runner, id tabulation.AreaID) (*tabulation.Area, error) {
	row := r.QueryRowContext(ctx, `
		SELECT id, name, area_type, election_id FROM areas WHERE id = ?`, string(id))
	var area tabulation.Area
	err := row.Scan(&area.ID, &area.Name, &area.Type, &area.ElectionID)
	if err == sql.ErrNoRows {
		return nil, &tabulation.NotFoundError{Kind: "area", ID: string(id)}
	}
	if err != nil {
		return nil, err
	}
	return &area, nil
}

// AncestorsOfType walks the area hierarchy upward with a recursive CTE and
// keeps ancestors of the requested type.
func (s *Store) AncestorsOfType(ctx context.Context, id tabulation.AreaID, areaType tabulation.AreaType) ([]tabulation.Area, error) {
	return s.ancestorsOfType(ctx, s.db, id, areaType)
}

func (s *Store) ancestorsOfType(ctx context.Context, r runner, id tabulation.AreaID, areaType tabulation.AreaType) ([]tabulation.Area, error) {
	return s.areaWalk(ctx, r, `
		WITH RECURSIVE lineage(id) AS (
			SELECT parent_id FROM area_edges WHERE child_id = ?
			UNION
			SELECT e.parent_id FROM area_edges e JOIN lineage l ON e.child_id = l.id
		)
		SELECT a.id, a.name, a.area_type, a.election_id
		FROM areas a JOIN lineage l ON a.id = l.id
		WHERE a.area_type = ? ORDER BY a.name`, string(id), string(areaType))
}

// DescendantsOfType walks the area hierarchy downward.
func (s *Store) DescendantsOfType(ctx context.Context, id tabulation.AreaID, areaType tabulation.AreaType) ([]tabulation.Area, error) {
	return s.descendantsOfType(ctx, s.db, id, areaType)
}

func (s *Store) descendantsOfType(ctx context.Context, r runner, id tabulation.AreaID, areaType tabulation.AreaType) ([]tabulation.Area, error) {
	return s.areaWalk(ctx, r, `
		WITH RECURSIVE lineage(id) AS (
			SELECT child_id FROM area_edges WHERE parent_id = ?
			UNION
			SELECT e.child_id FROM area_edges e JOIN lineage l ON e.parent_id = l.id
		)
		SELECT a.id, a.name, a.area_type, a.election_id
		FROM areas a JOIN lineage l ON a.id = l.id
		WHERE a.area_type = ? ORDER BY a.name`, string(id), string(areaType))
}

func (s *Store) areaWalk(ctx context.Context, r runner, query string, args ...any) ([]tabulation.Area, error) {
	rows, err := r.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []tabulation.Area
	for rows.Next() {
		var area tabulation.Area
		if err := rows.Scan(&area.ID, &area.Name, &area.Type, &area.ElectionID); err != nil {
			return nil, err
		}
		out = append(out, area)
	}
	return out, rows.Err()
}

// CreateArea inserts an area, optionally linked under a parent.
func (s *Store) CreateArea(ctx context.Context, area tabulation.Area, parent *tabulation.AreaID) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO areas (id, name, area_type, election_id) VALUES (?, ?, ?, ?)`,
		string(area.ID), area.Name, string(area.Type), string(area.ElectionID))
	if err != nil {
		return err
	}
	if parent != nil {
		_, err = s.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO area_edges (parent_id, child_id) VALUES (?, ?)`,
			string(*parent), string(area.ID))
	}
	return err
}

// =============================================================================
// ELECTION LOOKUP
// =============================================================================

func (s *Store) Election(ctx context.Context, id tabulation.ElectionID) (*tabulation.Election, error) {
	return s.election(ctx, s.db, id)
}

func (s *Store) election(ctx context.Context, r runner, id tabulation.ElectionID) (*tabulation.Election, error) {
	row := r.QueryRowContext(ctx, `
		SELECT id, name, root_election_id, vote_type FROM elections WHERE id = ?`, string(id))
	var election tabulation.Election
	var rootID string
	err := row.Scan(&election.ID, &election.Name, &rootID, &election.VoteType)
	if err == sql.ErrNoRows {
		return nil, &tabulation.NotFoundError{Kind: "election", ID: string(id)}
	}
	if err != nil {
		return nil, err
	}
	election.RootElectionID = tabulation.ElectionID(rootID)
	return &election, nil
}

func (s *Store) RootElection(ctx context.Context, id tabulation.ElectionID) (*tabulation.Election, error) {
	return s.rootElection(ctx, s.db, id)
}

func (s *Store) rootElection(ctx context.Context, r runner, id tabulation.ElectionID) (*tabulation.Election, error) {
	election, err := s.election(ctx, r, id)
	if err != nil {
		return nil, err
	}
	if election.RootElectionID == "" || election.RootElectionID == election.ID {
		return election, nil
	}
	return s.election(ctx, r, election.RootElectionID)
}

// DescendantElectionIDs returns the election plus its sub-elections (the
// postal and ordinary branches of a root election). Includes the given
// election itself.
func (s *Store) DescendantElectionIDs(ctx context.Context, id tabulation.ElectionID) ([]tabulation.ElectionID, error) {
	return s.descendantElectionIDs(ctx, s.db, id)
}

func (s *Store) descendantElectionIDs(ctx context.Context, r runner, id tabulation.ElectionID) ([]tabulation.ElectionID, error) {
	rows, err := r.QueryContext(ctx, `
		WITH RECURSIVE subtree(id) AS (
			SELECT ?
			UNION
			SELECT e.id FROM elections e JOIN subtree s ON e.parent_election_id = s.id
		)
		SELECT id FROM subtree`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []tabulation.ElectionID
	for rows.Next() {
		var eid tabulation.ElectionID
		if err := rows.Scan(&eid); err != nil {
			return nil, err
		}
		out = append(out, eid)
	}
	return out, rows.Err()
}

func (s *Store) Candidates(ctx context.Context, id tabulation.ElectionID) ([]tabulation.ElectionCandidate, error) {
	return s.candidates(ctx, s.db, id)
}

func (s *Store) candidates(ctx context.Context, r runner, id tabulation.ElectionID) ([]tabulation.ElectionCandidate, error) {
	rows, err := r.QueryContext(ctx, `
		SELECT election_id, candidate_id, candidate_name, party_id, qualified
		FROM election_candidates WHERE election_id = ? ORDER BY position`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []tabulation.ElectionCandidate
	for rows.Next() {
		var ec tabulation.ElectionCandidate
		var qualified int
		if err := rows.Scan(&ec.ElectionID, &ec.CandidateID, &ec.CandidateName,
			&ec.PartyID, &qualified); err != nil {
			return nil, err
		}
		ec.QualifiedForPreferences = qualified != 0
		out = append(out, ec)
	}
	return out, rows.Err()
}

func (s *Store) Parties(ctx context.Context, id tabulation.ElectionID) ([]tabulation.Party, error) {
	return s.parties(ctx, s.db, id)
}

func (s *Store) parties(ctx context.Context, r runner, id tabulation.ElectionID) ([]tabulation.Party, error) {
	rows, err := r.QueryContext(ctx, `
		SELECT party_id, name, abbreviation, symbol
		FROM election_parties WHERE election_id = ? ORDER BY position`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []tabulation.Party
	for rows.Next() {
		var party tabulation.Party
		if err := rows.Scan(&party.ID, &party.Name, &party.Abbreviation, &party.Symbol); err != nil {
			return nil, err
		}
		out = append(out, party)
	}
	return out, rows.Err()
}

// CreateElection inserts an election, optionally under a parent election.
func (s *Store) CreateElection(ctx context.Context, election tabulation.Election, parent *tabulation.ElectionID) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO elections (id, name, root_election_id, vote_type, parent_election_id)
		VALUES (?, ?, ?, ?, ?)`,
		string(election.ID), election.Name, string(election.RootElectionID),
		string(election.VoteType), idCol(parent))
	return err
}

// AddCandidate registers a candidate on an election's ballot.
func (s *Store) AddCandidate(ctx context.Context, ec tabulation.ElectionCandidate) error {
	var position int
	row := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(position)+1, 0) FROM election_candidates WHERE election_id = ?`,
		string(ec.ElectionID))
	if err := row.Scan(&position); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO election_candidates (election_id, candidate_id, candidate_name, party_id, qualified, position)
		VALUES (?, ?, ?, ?, ?, ?)`,
		string(ec.ElectionID), string(ec.CandidateID), ec.CandidateName,
		string(ec.PartyID), boolCol(ec.QualifiedForPreferences), position)
	return err
}

// AddParty registers a party on an election's ballot.
func (s *Store) AddParty(ctx context.Context, electionID tabulation.ElectionID, party tabulation.Party) error {
	var position int
	row := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(position)+1, 0) FROM election_parties WHERE election_id = ?`,
		string(electionID))
	if err := row.Scan(&position); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO election_parties (election_id, party_id, name, abbreviation, symbol, position)
		VALUES (?, ?, ?, ?, ?, ?)`,
		string(electionID), string(party.ID), party.Name, party.Abbreviation,
		party.Symbol, position)
	return err
}

// =============================================================================
// COLUMN HELPERS
// =============================================================================

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func stampRef(by, at sql.NullString) *tabulation.Stamp {
	if !by.Valid {
		return nil
	}
	stamp := tabulation.Stamp{By: tabulation.UserID(by.String)}
	if at.Valid {
		stamp.At, _ = time.Parse(time.RFC3339Nano, at.String)
	}
	return &stamp
}

func stampBy(stamp *tabulation.Stamp) any {
	if stamp == nil {
		return nil
	}
	return string(stamp.By)
}

func stampAt(stamp *tabulation.Stamp) any {
	if stamp == nil {
		return nil
	}
	return stamp.At.UTC().Format(time.RFC3339Nano)
}

func idRef[T ~string](ns sql.NullString) *T {
	if !ns.Valid {
		return nil
	}
	v := T(ns.String)
	return &v
}

func idCol[T ~string](id *T) any {
	if id == nil {
		return nil
	}
	return string(*id)
}

func strCol(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func boolCol(b bool) int {
	if b {
		return 1
	}
	return 0
}
