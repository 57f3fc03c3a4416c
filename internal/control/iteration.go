package control

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/t3eHawk/rapo/internal/window"
)

// Iteration is one alternative window parameterization executed as a
// distinct run after the base run.
type Iteration struct {
	ID           int
	Description  string
	PeriodBack   int
	PeriodNumber int
	PeriodType   window.PeriodType
	Active       bool
}

// WindowParams returns the iteration's window parameterization.
func (i Iteration) WindowParams() window.Params {
	return window.Params{
		PeriodBack:   i.PeriodBack,
		PeriodNumber: i.PeriodNumber,
		PeriodType:   i.PeriodType,
	}
}

type iterationDocument struct {
	IterationID          int    `json:"iteration_id"`
	IterationDescription string `json:"iteration_description"`
	PeriodBack           int    `json:"period_back"`
	PeriodNumber         int    `json:"period_number"`
	PeriodType           string `json:"period_type"`
	Status               string `json:"status"`
}

// ParseIterationConfig decodes the catalogue iteration document.
// Only entries with status Y are marked active.
func ParseIterationConfig(raw string) ([]Iteration, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var docs []iterationDocument
	if err := json.Unmarshal([]byte(raw), &docs); err != nil {
		return nil, fmt.Errorf("parse iteration config: %w", err)
	}
	out := make([]Iteration, 0, len(docs))
	for _, doc := range docs {
		out = append(out, Iteration{
			ID:           doc.IterationID,
			Description:  doc.IterationDescription,
			PeriodBack:   doc.PeriodBack,
			PeriodNumber: doc.PeriodNumber,
			PeriodType:   window.PeriodType(strings.ToUpper(doc.PeriodType)),
			Active:       doc.Status == "Y",
		})
	}
	return out, nil
}
