/*
workflow.go - Pointer transitions and status derivation

PURPOSE:
  Enforces the legal ordering of version pointer transitions and the
  role-based authorization for lock/unlock. State per tally sheet is tracked
  as independent nullable pointers rather than a single enum; the visible
  status is a pure function of the pointer set.

TRANSITION ORDER:
  latest ──▶ submitted ──▶ locked ──▶ notified ──▶ released

  - submit fails once locked
  - lock requires a prior submit (for templates with data entry) and a
    locker distinct from the submitter
  - unlock requires the unlock capability
  - notify requires locked, rejects double notification
  - release requires notified, rejects double release

SIDE EFFECT:
  Every successful transition recomputes the tally sheet's status report
  (created on first use, updated thereafter).

SEE ALSO:
  - errors.go: WorkflowError vs AuthorizationError distinction
  - store.go: WithTx transaction boundary
*/
package tabulation

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// STATUS DERIVATION - Pure function of the pointer set
// =============================================================================

// ReportStatus derives the display status from the sheet's pointers. For
// templates without a data-entry step the pre-lock status collapses to
// PENDING: there is nothing to enter or submit.
func ReportStatus(sheet *TallySheet, tpl *Template) Status {
	if sheet.Locked() {
		switch {
		case sheet.Released():
			return StatusReleased
		case sheet.Notified():
			return StatusNotified
		case sheet.HasProof():
			return StatusCertified
		default:
			return StatusVerified
		}
	}
	if !tpl.HasDataEntry() {
		return StatusPending
	}
	if sheet.Submitted() {
		return StatusSubmitted
	}
	if sheet.LatestVersionID != nil {
		return StatusEntered
	}
	return StatusNotEntered
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// SetLatestVersion points the sheet at its newest draft. Always allowed;
// passing nil clears the pointer.
func (e *Engine) SetLatestVersion(ctx context.Context, id TallySheetID, versionID *VersionID, actor UserID) error {
	return e.Store.WithTx(ctx, func(store Store) error {
		sheet, tpl, err := e.loadSheetAndTemplate(ctx, store, id)
		if err != nil {
			return err
		}
		if versionID != nil {
			if _, err := versionOf(ctx, store, sheet, *versionID); err != nil {
				return err
			}
		}
		sheet.LatestVersionID = versionID
		sheet.LatestStamp = stamp(actor)
		return e.finishTransition(ctx, store, sheet, tpl)
	})
}

// SetSubmittedVersion records the data-entry submission. Fails once the
// sheet is locked.
func (e *Engine) SetSubmittedVersion(ctx context.Context, id TallySheetID, versionID *VersionID, actor UserID) error {
	return e.Store.WithTx(ctx, func(store Store) error {
		sheet, tpl, err := e.loadSheetAndTemplate(ctx, store, id)
		if err != nil {
			return err
		}
		if sheet.Locked() {
			return &WorkflowError{TallySheetID: id, Transition: "submit", Reason: "tally sheet is already locked"}
		}
		if versionID != nil {
			if _, err := versionOf(ctx, store, sheet, *versionID); err != nil {
				return err
			}
		}
		sheet.SubmittedVersionID = versionID
		sheet.SubmittedStamp = stamp(actor)
		return e.finishTransition(ctx, store, sheet, tpl)
	})
}

// SetLockedVersion locks a version (marking it verified) or, with nil,
// unlocks the sheet. Locking requires the lock capability, a prior submit
// for data-entry templates, and a locker distinct from the submitter.
// Unlocking requires the unlock capability.
func (e *Engine) SetLockedVersion(ctx context.Context, id TallySheetID, versionID *VersionID, actor UserID) error {
	return e.Store.WithTx(ctx, func(store Store) error {
		sheet, tpl, err := e.loadSheetAndTemplate(ctx, store, id)
		if err != nil {
			return err
		}

		if versionID == nil {
			ok, err := e.Auth.HasCapability(ctx, actor, CapUnlock, sheet)
			if err != nil {
				return err
			}
			if !ok {
				return &AuthorizationError{TallySheetID: id, Actor: actor, Action: "unlock", Reason: "missing unlock capability"}
			}
			sheet.LockedVersionID = nil
			sheet.LockedStamp = stamp(actor)
			return e.finishTransition(ctx, store, sheet, tpl)
		}

		if tpl.SubmitAllowed() {
			if !sheet.Submitted() {
				return &WorkflowError{TallySheetID: id, Transition: "lock", Reason: "data entry tally sheet cannot be locked before submitting"}
			}
			if sheet.SubmittedStamp != nil && sheet.SubmittedStamp.By == actor {
				return &AuthorizationError{TallySheetID: id, Actor: actor, Action: "lock", Reason: "submitting user is not allowed to lock"}
			}
		}

		ok, err := e.Auth.HasCapability(ctx, actor, CapLock, sheet)
		if err != nil {
			return err
		}
		if !ok {
			return &AuthorizationError{TallySheetID: id, Actor: actor, Action: "lock", Reason: "missing lock capability"}
		}

		if _, err := versionOf(ctx, store, sheet, *versionID); err != nil {
			return err
		}
		sheet.LockedVersionID = versionID
		sheet.LockedStamp = stamp(actor)
		return e.finishTransition(ctx, store, sheet, tpl)
	})
}

// SetNotifiedVersion marks the locked version as notified. The notified
// pointer always equals the locked pointer at notification time.
func (e *Engine) SetNotifiedVersion(ctx context.Context, id TallySheetID, actor UserID) error {
	return e.Store.WithTx(ctx, func(store Store) error {
		sheet, tpl, err := e.loadSheetAndTemplate(ctx, store, id)
		if err != nil {
			return err
		}
		if !sheet.Locked() {
			return &WorkflowError{TallySheetID: id, Transition: "notify", Reason: "tally sheet cannot be notified before it is verified"}
		}
		if sheet.Notified() {
			return &WorkflowError{TallySheetID: id, Transition: "notify", Reason: "tally sheet is already notified"}
		}
		notified := *sheet.LockedVersionID
		sheet.NotifiedVersionID = &notified
		sheet.NotifiedStamp = stamp(actor)
		return e.finishTransition(ctx, store, sheet, tpl)
	})
}

// SetReleasedVersion releases the notified version to the public.
func (e *Engine) SetReleasedVersion(ctx context.Context, id TallySheetID, actor UserID) error {
	return e.Store.WithTx(ctx, func(store Store) error {
		sheet, tpl, err := e.loadSheetAndTemplate(ctx, store, id)
		if err != nil {
			return err
		}
		if !sheet.Notified() {
			return &WorkflowError{TallySheetID: id, Transition: "release", Reason: "tally sheet cannot be released before notifying"}
		}
		if sheet.Released() {
			return &WorkflowError{TallySheetID: id, Transition: "release", Reason: "tally sheet is already released"}
		}
		released := *sheet.NotifiedVersionID
		sheet.ReleasedVersionID = &released
		sheet.ReleasedStamp = stamp(actor)
		return e.finishTransition(ctx, store, sheet, tpl)
	})
}

// AttachSubmissionProof records an uploaded proof document id. A locked
// sheet with proof reports CERTIFIED.
func (e *Engine) AttachSubmissionProof(ctx context.Context, id TallySheetID, documentID string, actor UserID) error {
	return e.Store.WithTx(ctx, func(store Store) error {
		sheet, tpl, err := e.loadSheetAndTemplate(ctx, store, id)
		if err != nil {
			return err
		}
		for _, existing := range sheet.SubmissionProof {
			if existing == documentID {
				return nil
			}
		}
		sheet.SubmissionProof = append(sheet.SubmissionProof, documentID)
		return e.finishTransition(ctx, store, sheet, tpl)
	})
}

// =============================================================================
// STATUS REPORT MAINTENANCE
// =============================================================================

// finishTransition persists the sheet and recomputes its status report.
func (e *Engine) finishTransition(ctx context.Context, store Store, sheet *TallySheet, tpl *Template) error {
	if err := e.updateStatusReport(ctx, store, sheet, tpl); err != nil {
		return err
	}
	return store.SaveTallySheet(ctx, sheet)
}

func (e *Engine) updateStatusReport(ctx context.Context, store Store, sheet *TallySheet, tpl *Template) error {
	status := ReportStatus(sheet, tpl)
	now := time.Now().UTC()

	if sheet.StatusReportID != nil {
		report, err := store.StatusReport(ctx, *sheet.StatusReportID)
		if err != nil {
			return err
		}
		report.Status = status
		report.UpdatedAt = now
		return store.SaveStatusReport(ctx, report)
	}

	areas, elections := e.lookups(store)
	root, err := elections.RootElection(ctx, sheet.ElectionID)
	if err != nil {
		return err
	}
	districtName, divisionName, err := reportAreaNames(ctx, areas, sheet)
	if err != nil {
		return err
	}
	report := &StatusReport{
		ID:                    StatusReportID(uuid.NewString()),
		ElectionID:            root.ID,
		ReportType:            tpl.Code,
		ElectoralDistrictName: districtName,
		PollingDivisionName:   divisionName,
		Status:                status,
		UpdatedAt:             now,
	}
	if err := store.SaveStatusReport(ctx, report); err != nil {
		return err
	}
	sheet.StatusReportID = &report.ID
	return nil
}

// reportAreaNames resolves the district/division labels for the status
// report from the sheet's area and its ancestors.
func reportAreaNames(ctx context.Context, areas AreaLookup, sheet *TallySheet) (district, division string, err error) {
	area, err := areas.Area(ctx, sheet.AreaID)
	if err != nil {
		return "", "", err
	}
	switch area.Type {
	case AreaElectoralDistrict:
		district = area.Name
	case AreaPollingDivision:
		division = area.Name
		ancestors, err := areas.AncestorsOfType(ctx, area.ID, AreaElectoralDistrict)
		if err != nil {
			return "", "", err
		}
		if len(ancestors) > 0 {
			district = ancestors[0].Name
		}
	}
	return district, division, nil
}

func stamp(actor UserID) *Stamp {
	return &Stamp{By: actor, At: time.Now().UTC()}
}
