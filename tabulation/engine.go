/*
engine.go - Engine wiring and shared helpers

PURPOSE:
  The Engine bundles the storage and collaborator interfaces the tabulation
  core needs. It is the single entry point the request layer talks to:
  version creation, workflow transitions, tree maintenance, and content
  reads all hang off it.

SEE ALSO:
  - workflow.go: Pointer transitions
  - aggregate.go: Version creation
  - tree.go: Parent/child maintenance
*/
package tabulation

import (
	"context"
	"log"
	"os"

	"github.com/google/uuid"
)

// Engine is the tabulation core. All operations are synchronous and complete
// before returning; atomicity comes from the store's transaction boundary.
type Engine struct {
	Store     TxStore
	Areas     AreaLookup
	Elections ElectionLookup
	Auth      Authorizer
	Logger    *log.Logger
}

// NewEngine creates an engine. A nil logger falls back to stderr.
func NewEngine(store TxStore, areas AreaLookup, elections ElectionLookup, auth Authorizer, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(os.Stderr, "tabulation: ", log.LstdFlags)
	}
	return &Engine{
		Store:     store,
		Areas:     areas,
		Elections: elections,
		Auth:      auth,
		Logger:    logger,
	}
}

// TallySheet returns a sheet by id.
func (e *Engine) TallySheet(ctx context.Context, id TallySheetID) (*TallySheet, error) {
	return e.Store.TallySheet(ctx, id)
}

// GetContent returns the ordered, immutable rows of a version.
func (e *Engine) GetContent(ctx context.Context, id VersionID) ([]VersionRow, error) {
	version, err := e.Store.Version(ctx, id)
	if err != nil {
		return nil, err
	}
	return version.Rows, nil
}

// CreateTallySheet registers a new sheet for (election, area, template).
func (e *Engine) CreateTallySheet(ctx context.Context, templateID TemplateID, electionID ElectionID, areaID AreaID, metadata map[string]string) (*TallySheet, error) {
	if _, err := e.Store.Template(ctx, templateID); err != nil {
		return nil, err
	}
	sheet := &TallySheet{
		ID:         TallySheetID(uuid.NewString()),
		TemplateID: templateID,
		ElectionID: electionID,
		AreaID:     areaID,
		Metadata:   metadata,
	}
	if err := e.Store.CreateTallySheet(ctx, sheet); err != nil {
		return nil, err
	}
	return sheet, nil
}

// loadSheetAndTemplate fetches a sheet with its template through the given
// store (which may be a transaction view).
func (e *Engine) loadSheetAndTemplate(ctx context.Context, store Store, id TallySheetID) (*TallySheet, *Template, error) {
	sheet, err := store.TallySheet(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	tpl, err := store.Template(ctx, sheet.TemplateID)
	if err != nil {
		return nil, nil, err
	}
	return sheet, tpl, nil
}

// lookups returns the area and election lookups to use alongside store.
// When a transaction view also carries the reference tables (the sqlite
// store's does), reads stay on the transaction's connection instead of
// waiting for a second one while the transaction is open.
func (e *Engine) lookups(store Store) (AreaLookup, ElectionLookup) {
	areas := e.Areas
	if l, ok := store.(AreaLookup); ok {
		areas = l
	}
	elections := e.Elections
	if l, ok := store.(ElectionLookup); ok {
		elections = l
	}
	return areas, elections
}

// versionOf verifies the version exists and belongs to the sheet.
func versionOf(ctx context.Context, store Store, sheet *TallySheet, id VersionID) (*Version, error) {
	version, err := store.Version(ctx, id)
	if err != nil {
		return nil, err
	}
	if version.TallySheetID != sheet.ID {
		return nil, ErrVersionMismatch
	}
	return version, nil
}
