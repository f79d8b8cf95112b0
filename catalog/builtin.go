/*
builtin.go - Shipped template definitions

PURPOSE:
  The standard presidential-election form set, expressed in the same JSON
  schema the catalog accepts from disk. Counting-centre results roll up to
  polling-division summaries, which roll up to electoral-district summaries,
  which roll up to the national total.

FORM CHAIN:
  PRE_41 (counting centre, data entry)
    └─▶ PRE_30_PD (polling division, derived)
          └─▶ PRE_30_ED (electoral district, derived)
                └─▶ PRE_ALL_ISLAND (national, derived)
*/
package catalog

import "github.com/openelect/results-tabulation/tabulation"

const builtinJSON = `[
  {
    "code": "PRE_41",
    "rows": [
      {
        "id": "pre41-candidate-votes",
        "type": "CANDIDATE_VOTES",
        "has_many": true,
        "columns": [
          {"name": "candidateId"},
          {"name": "partyId"},
          {"name": "numValue"}
        ]
      },
      {
        "id": "pre41-rejected-votes",
        "type": "REJECTED_VOTES",
        "columns": [
          {"name": "numValue"}
        ]
      },
      {
        "id": "pre41-counting-centre",
        "type": "COUNTING_CENTRE",
        "columns": [
          {"name": "areaId", "source": "meta"},
          {"name": "strValue"}
        ]
      }
    ]
  },
  {
    "code": "PRE_30_PD",
    "rows": [
      {
        "id": "pd-candidate-votes",
        "type": "CANDIDATE_VOTES",
        "derived": true,
        "has_many": true,
        "derivative_rows": ["pre41-candidate-votes"],
        "columns": [
          {"name": "candidateId", "grouped": true},
          {"name": "areaId", "grouped": true},
          {"name": "partyId", "grouped": true},
          {"name": "numValue", "func": "sum"}
        ]
      },
      {
        "id": "pd-rejected-votes",
        "type": "REJECTED_VOTES",
        "derived": true,
        "has_many": true,
        "derivative_rows": ["pre41-rejected-votes"],
        "columns": [
          {"name": "areaId", "grouped": true},
          {"name": "numValue", "func": "sum"}
        ]
      }
    ]
  },
  {
    "code": "PRE_30_ED",
    "rows": [
      {
        "id": "ed-candidate-votes",
        "type": "CANDIDATE_VOTES",
        "derived": true,
        "has_many": true,
        "derivative_rows": ["pd-candidate-votes"],
        "columns": [
          {"name": "candidateId", "grouped": true},
          {"name": "partyId", "grouped": true},
          {"name": "numValue", "func": "sum"}
        ]
      },
      {
        "id": "ed-rejected-votes",
        "type": "REJECTED_VOTES",
        "derived": true,
        "derivative_rows": ["pd-rejected-votes"],
        "columns": [
          {"name": "numValue", "func": "sum"}
        ]
      }
    ]
  },
  {
    "code": "PRE_ALL_ISLAND",
    "rows": [
      {
        "id": "ai-candidate-votes",
        "type": "CANDIDATE_VOTES",
        "derived": true,
        "has_many": true,
        "derivative_rows": ["ed-candidate-votes"],
        "columns": [
          {"name": "candidateId", "grouped": true},
          {"name": "partyId", "grouped": true},
          {"name": "numValue", "func": "sum"}
        ]
      }
    ]
  }
]`

// Builtin returns the shipped form set. The definitions are validated at
// startup; a broken builtin is a programming error.
func Builtin() []*tabulation.Template {
	templates, err := Parse([]byte(builtinJSON))
	if err != nil {
		panic("catalog: invalid builtin templates: " + err.Error())
	}
	return templates
}
