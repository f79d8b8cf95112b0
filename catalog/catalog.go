/*
Package catalog provides JSON to Go template conversion.

PURPOSE:
  Converts JSON template definitions into tabulation.Template values. This
  enables form configuration without code changes - election officials can
  define new tally sheet layouts in JSON, and the catalog creates the proper
  Go structs and validates them against the closed dimension/function sets.

JSON SCHEMA:
  {
    "code": "PRE_30_PD",
    "rows": [
      {
        "id": "pd-candidate-votes",
        "type": "CANDIDATE_VOTES",
        "derived": true,
        "has_many": true,
        "derivative_rows": ["cc-candidate-votes"],
        "columns": [
          {"name": "candidateId", "grouped": true},
          {"name": "areaId", "grouped": true},
          {"name": "numValue", "func": "sum"}
        ]
      }
    ]
  }

USAGE:
  templates, err := catalog.Parse(jsonBytes)
  for _, tpl := range templates {
      store.CreateTemplate(ctx, tpl)
  }

SEE ALSO:
  - tabulation/template.go: Target types and Validate()
*/
package catalog

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/openelect/results-tabulation/tabulation"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// TemplateJSON is the JSON representation of one template.
type TemplateJSON struct {
	ID   string    `json:"id,omitempty"`
	Code string    `json:"code"`
	Rows []RowJSON `json:"rows"`
}

// RowJSON represents a template row.
type RowJSON struct {
	ID             string       `json:"id"`
	Type           string       `json:"type,omitempty"`
	Derived        bool         `json:"derived,omitempty"`
	HasMany        bool         `json:"has_many,omitempty"`
	DerivativeRows []string     `json:"derivative_rows,omitempty"`
	Columns        []ColumnJSON `json:"columns"`
}

// ColumnJSON represents a template row column.
type ColumnJSON struct {
	Name    string `json:"name"`
	Source  string `json:"source,omitempty"` // "entry" (default) or "meta"
	Func    string `json:"func,omitempty"`   // sum | count | concatenate
	Grouped bool   `json:"grouped,omitempty"`
}

// =============================================================================
// PARSING
// =============================================================================

// Parse converts a JSON array of template definitions into validated
// templates.
func Parse(data []byte) ([]*tabulation.Template, error) {
	var defs []TemplateJSON
	if err := json.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("failed to parse template catalog: %w", err)
	}

	templates := make([]*tabulation.Template, 0, len(defs))
	for _, def := range defs {
		tpl, err := FromJSON(def)
		if err != nil {
			return nil, err
		}
		templates = append(templates, tpl)
	}
	return templates, nil
}

// ParseFile reads and parses a catalog file.
func ParseFile(path string) ([]*tabulation.Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template catalog: %w", err)
	}
	return Parse(data)
}

// FromJSON converts one definition, applying defaults and validating
// against the closed enumerations.
func FromJSON(def TemplateJSON) (*tabulation.Template, error) {
	if def.Code == "" {
		return nil, fmt.Errorf("template definition missing code")
	}
	id := def.ID
	if id == "" {
		id = def.Code
	}

	tpl := &tabulation.Template{
		ID:   tabulation.TemplateID(id),
		Code: def.Code,
	}

	for _, rowDef := range def.Rows {
		if rowDef.ID == "" {
			return nil, fmt.Errorf("template %s: row missing id", def.Code)
		}
		row := tabulation.TemplateRow{
			ID:        tabulation.TemplateRowID(rowDef.ID),
			Type:      rowDef.Type,
			IsDerived: rowDef.Derived,
			HasMany:   rowDef.HasMany,
		}
		for _, derivative := range rowDef.DerivativeRows {
			row.DerivativeRows = append(row.DerivativeRows, tabulation.TemplateRowID(derivative))
		}
		for _, colDef := range rowDef.Columns {
			col := tabulation.TemplateRowColumn{
				Name:    tabulation.Dimension(colDef.Name),
				Source:  tabulation.SourceEntry,
				Grouped: colDef.Grouped,
			}
			if colDef.Source == string(tabulation.SourceMeta) {
				col.Source = tabulation.SourceMeta
			}
			if colDef.Func != "" {
				f := tabulation.AggregateFunc(colDef.Func)
				col.Func = &f
			}
			row.Columns = append(row.Columns, col)
		}
		tpl.Rows = append(tpl.Rows, row)
	}

	if err := tpl.Validate(); err != nil {
		return nil, err
	}
	return tpl, nil
}
