/*
dto.go - Request/response data structures for the tabulation API

PURPOSE:
  Wire-format types separated from domain types. Decimal values cross the
  wire as strings to avoid float truncation; timestamps as RFC3339.

SEE ALSO:
  - handlers.go: Serialization to/from these types
*/
package api

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openelect/results-tabulation/tabulation"
)

// =============================================================================
// REQUESTS
// =============================================================================

// CreateTallySheetRequest registers a new sheet for (election, area, template).
type CreateTallySheetRequest struct {
	TemplateID string            `json:"template_id"`
	ElectionID string            `json:"election_id"`
	AreaID     string            `json:"area_id"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// CreateVersionRequest carries content rows for the non-derived template
// rows. Derived rows are computed server-side and any client-supplied values
// for them are ignored.
type CreateVersionRequest struct {
	Rows []ContentRowDTO `json:"rows"`

	// SetLatest also points the latest pointer at the new version, in the
	// same transaction.
	SetLatest bool `json:"set_latest,omitempty"`
}

// ContentRowDTO is one caller-supplied data cell.
type ContentRowDTO struct {
	TemplateRowID string  `json:"template_row_id"`
	ElectionID    *string `json:"election_id,omitempty"`
	AreaID        *string `json:"area_id,omitempty"`
	CandidateID   *string `json:"candidate_id,omitempty"`
	PartyID       *string `json:"party_id,omitempty"`
	BallotBoxID   *string `json:"ballot_box_id,omitempty"`
	NumValue      *string `json:"num_value,omitempty"`
	StrValue      *string `json:"str_value,omitempty"`
}

// TransitionRequest targets a version for the latest/submit/lock pointers.
// A nil version on lock means unlock; on latest/submit it clears the pointer.
type TransitionRequest struct {
	VersionID *string `json:"version_id"`
}

// ProofRequest attaches an uploaded proof document to a sheet.
type ProofRequest struct {
	DocumentID string `json:"document_id"`
}

// AddChildRequest declares an aggregation edge.
type AddChildRequest struct {
	ChildID string `json:"child_id"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type StampDTO struct {
	By string `json:"by"`
	At string `json:"at"`
}

type TallySheetDTO struct {
	ID         string            `json:"id"`
	TemplateID string            `json:"template_id"`
	ElectionID string            `json:"election_id"`
	AreaID     string            `json:"area_id"`
	Status     string            `json:"status"`
	Metadata   map[string]string `json:"metadata,omitempty"`

	LatestVersionID    *string `json:"latest_version_id,omitempty"`
	SubmittedVersionID *string `json:"submitted_version_id,omitempty"`
	LockedVersionID    *string `json:"locked_version_id,omitempty"`
	NotifiedVersionID  *string `json:"notified_version_id,omitempty"`
	ReleasedVersionID  *string `json:"released_version_id,omitempty"`

	LatestStamp    *StampDTO `json:"latest_stamp,omitempty"`
	SubmittedStamp *StampDTO `json:"submitted_stamp,omitempty"`
	LockedStamp    *StampDTO `json:"locked_stamp,omitempty"`
	NotifiedStamp  *StampDTO `json:"notified_stamp,omitempty"`
	ReleasedStamp  *StampDTO `json:"released_stamp,omitempty"`

	SubmissionProof []string `json:"submission_proof,omitempty"`
}

type VersionDTO struct {
	ID           string   `json:"id"`
	TallySheetID string   `json:"tally_sheet_id"`
	IsComplete   bool     `json:"is_complete"`
	CreatedBy    string   `json:"created_by"`
	CreatedAt    string   `json:"created_at"`
	Rows         []RowDTO `json:"rows"`
}

type RowDTO struct {
	TemplateRowID string  `json:"template_row_id"`
	ElectionID    *string `json:"election_id,omitempty"`
	AreaID        *string `json:"area_id,omitempty"`
	CandidateID   *string `json:"candidate_id,omitempty"`
	PartyID       *string `json:"party_id,omitempty"`
	BallotBoxID   *string `json:"ballot_box_id,omitempty"`
	NumValue      *string `json:"num_value,omitempty"`
	StrValue      *string `json:"str_value,omitempty"`
}

type StatusReportDTO struct {
	ID                    string `json:"id"`
	ElectionID            string `json:"election_id"`
	ReportType            string `json:"report_type"`
	ElectoralDistrictName string `json:"electoral_district_name,omitempty"`
	PollingDivisionName   string `json:"polling_division_name,omitempty"`
	Status                string `json:"status"`
	UpdatedAt             string `json:"updated_at"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toTallySheetDTO(sheet *tabulation.TallySheet, status tabulation.Status) TallySheetDTO {
	return TallySheetDTO{
		ID:         string(sheet.ID),
		TemplateID: string(sheet.TemplateID),
		ElectionID: string(sheet.ElectionID),
		AreaID:     string(sheet.AreaID),
		Status:     string(status),
		Metadata:   sheet.Metadata,

		LatestVersionID:    idString(sheet.LatestVersionID),
		SubmittedVersionID: idString(sheet.SubmittedVersionID),
		LockedVersionID:    idString(sheet.LockedVersionID),
		NotifiedVersionID:  idString(sheet.NotifiedVersionID),
		ReleasedVersionID:  idString(sheet.ReleasedVersionID),

		LatestStamp:    toStampDTO(sheet.LatestStamp),
		SubmittedStamp: toStampDTO(sheet.SubmittedStamp),
		LockedStamp:    toStampDTO(sheet.LockedStamp),
		NotifiedStamp:  toStampDTO(sheet.NotifiedStamp),
		ReleasedStamp:  toStampDTO(sheet.ReleasedStamp),

		SubmissionProof: sheet.SubmissionProof,
	}
}

func toVersionDTO(version *tabulation.Version) VersionDTO {
	dto := VersionDTO{
		ID:           string(version.ID),
		TallySheetID: string(version.TallySheetID),
		IsComplete:   version.IsComplete,
		CreatedBy:    string(version.CreatedBy),
		CreatedAt:    version.CreatedAt.Format(time.RFC3339),
		Rows:         make([]RowDTO, len(version.Rows)),
	}
	for i, row := range version.Rows {
		dto.Rows[i] = toRowDTO(row)
	}
	return dto
}

func toRowDTO(row tabulation.VersionRow) RowDTO {
	dto := RowDTO{
		TemplateRowID: string(row.TemplateRowID),
		ElectionID:    idString(row.ElectionID),
		AreaID:        idString(row.AreaID),
		CandidateID:   idString(row.CandidateID),
		PartyID:       idString(row.PartyID),
		BallotBoxID:   idString(row.BallotBoxID),
		StrValue:      row.StrValue,
	}
	if row.NumValue != nil {
		v := row.NumValue.String()
		dto.NumValue = &v
	}
	return dto
}

func toStatusReportDTO(report *tabulation.StatusReport) StatusReportDTO {
	return StatusReportDTO{
		ID:                    string(report.ID),
		ElectionID:            string(report.ElectionID),
		ReportType:            report.ReportType,
		ElectoralDistrictName: report.ElectoralDistrictName,
		PollingDivisionName:   report.PollingDivisionName,
		Status:                string(report.Status),
		UpdatedAt:             report.UpdatedAt.Format(time.RFC3339),
	}
}

func toContentRow(dto ContentRowDTO) (tabulation.ContentRow, error) {
	row := tabulation.ContentRow{
		TemplateRowID: tabulation.TemplateRowID(dto.TemplateRowID),
		ElectionID:    idValue[tabulation.ElectionID](dto.ElectionID),
		AreaID:        idValue[tabulation.AreaID](dto.AreaID),
		CandidateID:   idValue[tabulation.CandidateID](dto.CandidateID),
		PartyID:       idValue[tabulation.PartyID](dto.PartyID),
		BallotBoxID:   idValue[tabulation.BallotBoxID](dto.BallotBoxID),
		StrValue:      dto.StrValue,
	}
	if dto.NumValue != nil {
		d, err := decimal.NewFromString(*dto.NumValue)
		if err != nil {
			return row, fmt.Errorf("invalid num_value %q: %w", *dto.NumValue, err)
		}
		row.NumValue = &d
	}
	return row, nil
}

func toStampDTO(stamp *tabulation.Stamp) *StampDTO {
	if stamp == nil {
		return nil
	}
	return &StampDTO{By: string(stamp.By), At: stamp.At.Format(time.RFC3339)}
}

func idString[T ~string](id *T) *string {
	if id == nil {
		return nil
	}
	s := string(*id)
	return &s
}

func idValue[T ~string](s *string) *T {
	if s == nil {
		return nil
	}
	v := T(*s)
	return &v
}
