package engine

import (
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"

	"github.com/t3eHawk/rapo/internal/control"
	"github.com/t3eHawk/rapo/internal/window"
)

// goldenProcess builds a process over a fixed configuration without
// touching a database, for statement-rendering tests.
func goldenProcess() *process {
	cfg := &control.Config{
		Name:        "cdr_vs_billing",
		Kind:        control.Reconciliation,
		Parallelism: 1,
		Rules: control.RuleConfig{
			NeedIssuesA: true, NeedIssuesB: true,
			NeedReconsA: true, NeedReconsB: true,
			TimeShiftFrom: -120, TimeShiftTo: 120,
			Normalization: control.NormalizationNone,
			CorrelationConfig: []control.CorrelationRule{
				{FieldA: "msisdn", FieldB: "subscriber"},
			},
			DiscrepancyConfig: []control.DiscrepancyRule{
				{FieldA: "amount", FieldB: "charge", ToleranceFrom: -5, ToleranceTo: 5},
			},
		},
	}
	p := &process{
		cfg:       cfg,
		rules:     &cfg.Rules,
		processID: 42,
		names:     temporaries(42),
		win: window.Window{
			From: time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC),
			To:   time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC),
		},
		sourceA: &sourceMeta{
			side:        "a",
			object:      "cdr_traffic",
			temp:        "rapo_temp_source_a_42",
			columns:     []string{"msisdn", "call_date", "amount"},
			dateField:   "call_date",
			keyField:    "rec_id",
			synthesized: true,
			corrFields:  []string{"msisdn"},
			discFields:  []string{"amount"},
		},
		sourceB: &sourceMeta{
			side:        "b",
			object:      "billing_events",
			temp:        "rapo_temp_source_b_42",
			columns:     []string{"subscriber", "event_date", "charge"},
			dateField:   "event_date",
			keyField:    "rec_id",
			synthesized: true,
			corrFields:  []string{"subscriber"},
			discFields:  []string{"charge"},
		},
	}
	return p
}

func TestGolden_FetchStatement(t *testing.T) {
	p := goldenProcess()
	g := goldie.New(t)
	g.Assert(t, "fetch_a", []byte(p.buildFetch(p.sourceA)))
}

func TestGolden_StabilizerSelection(t *testing.T) {
	p := goldenProcess()
	g := goldie.New(t)
	g.Assert(t, "stabilizer_selection", []byte(p.buildSelection()))
}

func TestGolden_FuzzyPairs(t *testing.T) {
	p := goldenProcess()
	g := goldie.New(t)
	g.Assert(t, "fuzzy_pairs", []byte(p.buildFuzzyPairs()))
}
