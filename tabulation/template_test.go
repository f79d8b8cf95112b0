package tabulation_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openelect/results-tabulation/tabulation"
)

func singleRowTemplate(col tabulation.TemplateRowColumn) *tabulation.Template {
	return &tabulation.Template{
		ID:   "T",
		Code: "T",
		Rows: []tabulation.TemplateRow{
			{ID: "r", Columns: []tabulation.TemplateRowColumn{col}},
		},
	}
}

func TestTemplate_Validate_ClosedSets(t *testing.T) {
	sum := tabulation.FuncSum
	concat := tabulation.FuncConcatenate
	bogus := tabulation.AggregateFunc("median")

	tests := []struct {
		name    string
		col     tabulation.TemplateRowColumn
		wantErr bool
	}{
		{"sum on numValue", tabulation.TemplateRowColumn{Name: tabulation.DimNumValue, Func: &sum}, false},
		{"sum on candidateId", tabulation.TemplateRowColumn{Name: tabulation.DimCandidate, Func: &sum}, true},
		{"concatenate on strValue", tabulation.TemplateRowColumn{Name: tabulation.DimStrValue, Func: &concat}, false},
		{"concatenate on ballotBoxId", tabulation.TemplateRowColumn{Name: tabulation.DimBallotBox, Func: &concat}, false},
		{"concatenate on areaId", tabulation.TemplateRowColumn{Name: tabulation.DimArea, Func: &concat}, true},
		{"unknown function", tabulation.TemplateRowColumn{Name: tabulation.DimNumValue, Func: &bogus}, true},
		{"unknown dimension", tabulation.TemplateRowColumn{Name: "voteShare"}, true},
		{"grouped and aggregated", tabulation.TemplateRowColumn{Name: tabulation.DimNumValue, Func: &sum, Grouped: true}, true},
		{"plain grouped id", tabulation.TemplateRowColumn{Name: tabulation.DimCandidate, Grouped: true}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := singleRowTemplate(tc.col).Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTemplate_Validate_DerivedNeedsDerivatives(t *testing.T) {
	tpl := &tabulation.Template{
		ID:   "T",
		Code: "T",
		Rows: []tabulation.TemplateRow{
			{ID: "r", IsDerived: true},
		},
	}
	assert.Error(t, tpl.Validate())

	tpl.Rows[0].DerivativeRows = []tabulation.TemplateRowID{"other"}
	assert.NoError(t, tpl.Validate())
}

func TestTemplate_HasDataEntry(t *testing.T) {
	assert.True(t, entryTemplate().HasDataEntry())
	assert.False(t, derivedTemplate().HasDataEntry())
	assert.True(t, entryTemplate().SubmitAllowed())
	assert.False(t, derivedTemplate().SubmitAllowed())
}
