// Package store provides in-memory Store implementations for tests and
// dev mode. The same maps double as the reference AreaLookup and
// ElectionLookup collaborators.
package store

import (
	"context"
	"sync"

	"github.com/openelect/results-tabulation/tabulation"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Memory struct {
	mu sync.RWMutex

	sheets    map[tabulation.TallySheetID]*tabulation.TallySheet
	versions  map[tabulation.VersionID]*tabulation.Version
	templates map[tabulation.TemplateID]*tabulation.Template
	byCode    map[string]tabulation.TemplateID
	children  map[tabulation.TallySheetID][]tabulation.TallySheetID
	parents   map[tabulation.TallySheetID][]tabulation.TallySheetID
	reports   map[tabulation.StatusReportID]*tabulation.StatusReport

	// Reference data (consumed collaborators). Guarded by its own lock so
	// lookups stay available while WithTx holds mu.
	refMu            sync.RWMutex
	areas            map[tabulation.AreaID]tabulation.Area
	areaParents      map[tabulation.AreaID][]tabulation.AreaID
	areaChildren     map[tabulation.AreaID][]tabulation.AreaID
	elections        map[tabulation.ElectionID]tabulation.Election
	electionChildren map[tabulation.ElectionID][]tabulation.ElectionID
	candidates       map[tabulation.ElectionID][]tabulation.ElectionCandidate
	parties          map[tabulation.ElectionID][]tabulation.Party
}

func NewMemory() *Memory {
	return &Memory{
		sheets:           make(map[tabulation.TallySheetID]*tabulation.TallySheet),
		versions:         make(map[tabulation.VersionID]*tabulation.Version),
		templates:        make(map[tabulation.TemplateID]*tabulation.Template),
		byCode:           make(map[string]tabulation.TemplateID),
		children:         make(map[tabulation.TallySheetID][]tabulation.TallySheetID),
		parents:          make(map[tabulation.TallySheetID][]tabulation.TallySheetID),
		reports:          make(map[tabulation.StatusReportID]*tabulation.StatusReport),
		areas:            make(map[tabulation.AreaID]tabulation.Area),
		areaParents:      make(map[tabulation.AreaID][]tabulation.AreaID),
		areaChildren:     make(map[tabulation.AreaID][]tabulation.AreaID),
		elections:        make(map[tabulation.ElectionID]tabulation.Election),
		electionChildren: make(map[tabulation.ElectionID][]tabulation.ElectionID),
		candidates:       make(map[tabulation.ElectionID][]tabulation.ElectionCandidate),
		parties:          make(map[tabulation.ElectionID][]tabulation.Party),
	}
}

// =============================================================================
// STORE INTERFACE - Locked wrappers over the unlocked core
// =============================================================================

func (m *Memory) TallySheet(ctx context.Context, id tabulation.TallySheetID) (*tabulation.TallySheet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tallySheetLocked(id)
}

func (m *Memory) CreateTallySheet(ctx context.Context, sheet *tabulation.TallySheet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createTallySheetLocked(sheet)
}

func (m *Memory) SaveTallySheet(ctx context.Context, sheet *tabulation.TallySheet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveTallySheetLocked(sheet)
}

func (m *Memory) Version(ctx context.Context, id tabulation.VersionID) (*tabulation.Version, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.versionLocked(id)
}

func (m *Memory) AppendVersion(ctx context.Context, version *tabulation.Version) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendVersionLocked(version)
}

func (m *Memory) Template(ctx context.Context, id tabulation.TemplateID) (*tabulation.Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.templateLocked(id)
}

func (m *Memory) TemplateByCode(ctx context.Context, code string) (*tabulation.Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byCode[code]
	if !ok {
		return nil, &tabulation.NotFoundError{Kind: "template", ID: code}
	}
	return m.templateLocked(id)
}

func (m *Memory) CreateTemplate(ctx context.Context, tpl *tabulation.Template) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createTemplateLocked(tpl)
}

func (m *Memory) Children(ctx context.Context, parent tabulation.TallySheetID) ([]tabulation.TallySheetID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]tabulation.TallySheetID(nil), m.children[parent]...), nil
}

func (m *Memory) Parents(ctx context.Context, child tabulation.TallySheetID) ([]tabulation.TallySheetID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]tabulation.TallySheetID(nil), m.parents[child]...), nil
}

func (m *Memory) HasChild(ctx context.Context, parent, child tabulation.TallySheetID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hasChildLocked(parent, child), nil
}

func (m *Memory) AddChild(ctx context.Context, parent, child tabulation.TallySheetID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addChildLocked(parent, child)
}

func (m *Memory) StatusReport(ctx context.Context, id tabulation.StatusReportID) (*tabulation.StatusReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statusReportLocked(id)
}

func (m *Memory) SaveStatusReport(ctx context.Context, report *tabulation.StatusReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveStatusReportLocked(report)
}

// WithTx executes fn against a transactional view. For the memory store this
// is simulated with a full snapshot and rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(tabulation.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()
	if err := fn(&memView{parent: m}); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

// =============================================================================
// UNLOCKED CORE
// =============================================================================

func (m *Memory) tallySheetLocked(id tabulation.TallySheetID) (*tabulation.TallySheet, error) {
	sheet, ok := m.sheets[id]
	if !ok {
		return nil, &tabulation.NotFoundError{Kind: "tally sheet", ID: string(id)}
	}
	return cloneSheet(sheet), nil
}

func (m *Memory) createTallySheetLocked(sheet *tabulation.TallySheet) error {
	m.sheets[sheet.ID] = cloneSheet(sheet)
	return nil
}

func (m *Memory) saveTallySheetLocked(sheet *tabulation.TallySheet) error {
	if _, ok := m.sheets[sheet.ID]; !ok {
		return &tabulation.NotFoundError{Kind: "tally sheet", ID: string(sheet.ID)}
	}
	m.sheets[sheet.ID] = cloneSheet(sheet)
	return nil
}

func (m *Memory) versionLocked(id tabulation.VersionID) (*tabulation.Version, error) {
	version, ok := m.versions[id]
	if !ok {
		return nil, &tabulation.NotFoundError{Kind: "version", ID: string(id)}
	}
	out := *version
	out.Rows = append([]tabulation.VersionRow(nil), version.Rows...)
	return &out, nil
}

func (m *Memory) appendVersionLocked(version *tabulation.Version) error {
	stored := *version
	stored.Rows = append([]tabulation.VersionRow(nil), version.Rows...)
	m.versions[version.ID] = &stored
	return nil
}

func (m *Memory) templateLocked(id tabulation.TemplateID) (*tabulation.Template, error) {
	tpl, ok := m.templates[id]
	if !ok {
		return nil, &tabulation.NotFoundError{Kind: "template", ID: string(id)}
	}
	return tpl, nil
}

func (m *Memory) createTemplateLocked(tpl *tabulation.Template) error {
	m.templates[tpl.ID] = tpl
	m.byCode[tpl.Code] = tpl.ID
	return nil
}

func (m *Memory) hasChildLocked(parent, child tabulation.TallySheetID) bool {
	for _, c := range m.children[parent] {
		if c == child {
			return true
		}
	}
	return false
}

func (m *Memory) addChildLocked(parent, child tabulation.TallySheetID) error {
	if m.hasChildLocked(parent, child) {
		return nil
	}
	m.children[parent] = append(m.children[parent], child)
	m.parents[child] = append(m.parents[child], parent)
	return nil
}

func (m *Memory) statusReportLocked(id tabulation.StatusReportID) (*tabulation.StatusReport, error) {
	report, ok := m.reports[id]
	if !ok {
		return nil, &tabulation.NotFoundError{Kind: "status report", ID: string(id)}
	}
	out := *report
	return &out, nil
}

func (m *Memory) saveStatusReportLocked(report *tabulation.StatusReport) error {
	stored := *report
	m.reports[report.ID] = &stored
	return nil
}

func cloneSheet(sheet *tabulation.TallySheet) *tabulation.TallySheet {
	out := *sheet
	out.SubmissionProof = append([]string(nil), sheet.SubmissionProof...)
	if sheet.Metadata != nil {
		out.Metadata = make(map[string]string, len(sheet.Metadata))
		for k, v := range sheet.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// =============================================================================
// SNAPSHOT / ROLLBACK
// =============================================================================

type memorySnapshot struct {
	sheets   map[tabulation.TallySheetID]*tabulation.TallySheet
	versions map[tabulation.VersionID]*tabulation.Version
	children map[tabulation.TallySheetID][]tabulation.TallySheetID
	parents  map[tabulation.TallySheetID][]tabulation.TallySheetID
	reports  map[tabulation.StatusReportID]*tabulation.StatusReport
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		sheets:   make(map[tabulation.TallySheetID]*tabulation.TallySheet, len(m.sheets)),
		versions: make(map[tabulation.VersionID]*tabulation.Version, len(m.versions)),
		children: make(map[tabulation.TallySheetID][]tabulation.TallySheetID, len(m.children)),
		parents:  make(map[tabulation.TallySheetID][]tabulation.TallySheetID, len(m.parents)),
		reports:  make(map[tabulation.StatusReportID]*tabulation.StatusReport, len(m.reports)),
	}
	for k, v := range m.sheets {
		s.sheets[k] = cloneSheet(v)
	}
	for k, v := range m.versions {
		s.versions[k] = v
	}
	for k, v := range m.children {
		s.children[k] = append([]tabulation.TallySheetID(nil), v...)
	}
	for k, v := range m.parents {
		s.parents[k] = append([]tabulation.TallySheetID(nil), v...)
	}
	for k, v := range m.reports {
		out := *v
		s.reports[k] = &out
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.sheets = s.sheets
	m.versions = s.versions
	m.children = s.children
	m.parents = s.parents
	m.reports = s.reports
}

// memView is the transactional view handed to WithTx callbacks. The parent
// already holds the write lock, so it delegates to the unlocked core.
type memView struct {
	parent *Memory
}

func (v *memView) TallySheet(_ context.Context, id tabulation.TallySheetID) (*tabulation.TallySheet, error) {
	return v.parent.tallySheetLocked(id)
}

func (v *memView) CreateTallySheet(_ context.Context, sheet *tabulation.TallySheet) error {
	return v.parent.createTallySheetLocked(sheet)
}

func (v *memView) SaveTallySheet(_ context.Context, sheet *tabulation.TallySheet) error {
	return v.parent.saveTallySheetLocked(sheet)
}

func (v *memView) Version(_ context.Context, id tabulation.VersionID) (*tabulation.Version, error) {
	return v.parent.versionLocked(id)
}

func (v *memView) AppendVersion(_ context.Context, version *tabulation.Version) error {
	return v.parent.appendVersionLocked(version)
}

func (v *memView) Template(_ context.Context, id tabulation.TemplateID) (*tabulation.Template, error) {
	return v.parent.templateLocked(id)
}

func (v *memView) TemplateByCode(_ context.Context, code string) (*tabulation.Template, error) {
	id, ok := v.parent.byCode[code]
	if !ok {
		return nil, &tabulation.NotFoundError{Kind: "template", ID: code}
	}
	return v.parent.templateLocked(id)
}

func (v *memView) CreateTemplate(_ context.Context, tpl *tabulation.Template) error {
	return v.parent.createTemplateLocked(tpl)
}

func (v *memView) Children(_ context.Context, parent tabulation.TallySheetID) ([]tabulation.TallySheetID, error) {
	return append([]tabulation.TallySheetID(nil), v.parent.children[parent]...), nil
}

func (v *memView) Parents(_ context.Context, child tabulation.TallySheetID) ([]tabulation.TallySheetID, error) {
	return append([]tabulation.TallySheetID(nil), v.parent.parents[child]...), nil
}

func (v *memView) HasChild(_ context.Context, parent, child tabulation.TallySheetID) (bool, error) {
	return v.parent.hasChildLocked(parent, child), nil
}

func (v *memView) AddChild(_ context.Context, parent, child tabulation.TallySheetID) error {
	return v.parent.addChildLocked(parent, child)
}

func (v *memView) StatusReport(_ context.Context, id tabulation.StatusReportID) (*tabulation.StatusReport, error) {
	return v.parent.statusReportLocked(id)
}

func (v *memView) SaveStatusReport(_ context.Context, report *tabulation.StatusReport) error {
	return v.parent.saveStatusReportLocked(report)
}

// =============================================================================
// REFERENCE DATA SEEDING + LOOKUPS
// =============================================================================

// AddArea registers an area, optionally under a parent area.
func (m *Memory) AddArea(area tabulation.Area, parent *tabulation.AreaID) {
	m.refMu.Lock()
	defer m.refMu.Unlock()
	m.areas[area.ID] = area
	if parent != nil {
		m.areaParents[area.ID] = append(m.areaParents[area.ID], *parent)
		m.areaChildren[*parent] = append(m.areaChildren[*parent], area.ID)
	}
}

// AddElection registers an election, optionally under a parent election.
func (m *Memory) AddElection(election tabulation.Election, parent *tabulation.ElectionID) {
	m.refMu.Lock()
	defer m.refMu.Unlock()
	m.elections[election.ID] = election
	if parent != nil {
		m.electionChildren[*parent] = append(m.electionChildren[*parent], election.ID)
	}
}

// AddCandidate registers an election candidate.
func (m *Memory) AddCandidate(ec tabulation.ElectionCandidate) {
	m.refMu.Lock()
	defer m.refMu.Unlock()
	m.candidates[ec.ElectionID] = append(m.candidates[ec.ElectionID], ec)
}

// AddParty registers a party for an election.
func (m *Memory) AddParty(electionID tabulation.ElectionID, party tabulation.Party) {
	m.refMu.Lock()
	defer m.refMu.Unlock()
	m.parties[electionID] = append(m.parties[electionID], party)
}

func (m *Memory) Area(ctx context.Context, id tabulation.AreaID) (*tabulation.Area, error) {
	m.refMu.RLock()
	defer m.refMu.RUnlock()
	area, ok := m.areas[id]
	if !ok {
		return nil, &tabulation.NotFoundError{Kind: "area", ID: string(id)}
	}
	return &area, nil
}

func (m *Memory) AncestorsOfType(ctx context.Context, id tabulation.AreaID, t tabulation.AreaType) ([]tabulation.Area, error) {
	m.refMu.RLock()
	defer m.refMu.RUnlock()
	return m.walkAreas(id, t, m.areaParents), nil
}

func (m *Memory) DescendantsOfType(ctx context.Context, id tabulation.AreaID, t tabulation.AreaType) ([]tabulation.Area, error) {
	m.refMu.RLock()
	defer m.refMu.RUnlock()
	return m.walkAreas(id, t, m.areaChildren), nil
}

func (m *Memory) walkAreas(start tabulation.AreaID, t tabulation.AreaType, edges map[tabulation.AreaID][]tabulation.AreaID) []tabulation.Area {
	var out []tabulation.Area
	seen := map[tabulation.AreaID]bool{start: true}
	queue := []tabulation.AreaID{start}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, next := range edges[current] {
			if seen[next] {
				continue
			}
			seen[next] = true
			queue = append(queue, next)
			if area, ok := m.areas[next]; ok && area.Type == t {
				out = append(out, area)
			}
		}
	}
	return out
}

func (m *Memory) Election(ctx context.Context, id tabulation.ElectionID) (*tabulation.Election, error) {
	m.refMu.RLock()
	defer m.refMu.RUnlock()
	election, ok := m.elections[id]
	if !ok {
		return nil, &tabulation.NotFoundError{Kind: "election", ID: string(id)}
	}
	return &election, nil
}

func (m *Memory) RootElection(ctx context.Context, id tabulation.ElectionID) (*tabulation.Election, error) {
	m.refMu.RLock()
	defer m.refMu.RUnlock()
	election, ok := m.elections[id]
	if !ok {
		return nil, &tabulation.NotFoundError{Kind: "election", ID: string(id)}
	}
	if election.RootElectionID != "" && election.RootElectionID != election.ID {
		root, ok := m.elections[election.RootElectionID]
		if !ok {
			return nil, &tabulation.NotFoundError{Kind: "election", ID: string(election.RootElectionID)}
		}
		return &root, nil
	}
	return &election, nil
}

// DescendantElectionIDs returns the election id plus all nested
// sub-election ids, breadth first.
func (m *Memory) DescendantElectionIDs(ctx context.Context, id tabulation.ElectionID) ([]tabulation.ElectionID, error) {
	m.refMu.RLock()
	defer m.refMu.RUnlock()
	out := []tabulation.ElectionID{id}
	seen := map[tabulation.ElectionID]bool{id: true}
	queue := []tabulation.ElectionID{id}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, next := range m.electionChildren[current] {
			if !seen[next] {
				seen[next] = true
				out = append(out, next)
				queue = append(queue, next)
			}
		}
	}
	return out, nil
}

func (m *Memory) Candidates(ctx context.Context, electionID tabulation.ElectionID) ([]tabulation.ElectionCandidate, error) {
	m.refMu.RLock()
	defer m.refMu.RUnlock()
	return append([]tabulation.ElectionCandidate(nil), m.candidates[electionID]...), nil
}

func (m *Memory) Parties(ctx context.Context, electionID tabulation.ElectionID) ([]tabulation.Party, error) {
	m.refMu.RLock()
	defer m.refMu.RUnlock()
	return append([]tabulation.Party(nil), m.parties[electionID]...), nil
}
