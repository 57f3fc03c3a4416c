package control

import (
	"fmt"
	"strings"
	"time"

	"github.com/t3eHawk/rapo/internal/window"
)

// Kind identifies the control family. Only Reconciliation drives the
// full multi-stage pipeline; the remaining kinds are consumed through
// external collaborators.
type Kind string

const (
	Analysis       Kind = "ANL"
	Reconciliation Kind = "REC"
	Comparison     Kind = "CMP"
	Report         Kind = "REP"
	KPI            Kind = "KPI"
)

// Config is one control catalogue record. It is immutable during a
// run; the engine re-reads the catalogue for every new process.
type Config struct {
	ID   int64
	Name string
	Kind Kind

	SourceNameA      string
	SourceDateFieldA string
	SourceKeyFieldA  string
	SourceFilterA    string

	SourceNameB      string
	SourceDateFieldB string
	SourceKeyFieldB  string
	SourceFilterB    string

	PeriodBack   int
	PeriodNumber int
	PeriodType   window.PeriodType

	Parallelism   int
	Timeout       int // seconds, honored on asynchronous launches only
	InstanceLimit int
	OutputLimit   int
	DaysRetention int

	NeedA bool
	NeedB bool

	NeedHook        bool
	NeedPrerunHook  bool
	NeedPostrunHook bool

	WithDeletion bool
	WithDrop     bool

	PreparationSQL  string
	PrerequisiteSQL string
	CompletionSQL   string

	Rules      RuleConfig
	Iterations []Iteration
}

// WindowParams returns the base window parameterization.
func (c *Config) WindowParams() window.Params {
	return window.Params{
		PeriodBack:   c.PeriodBack,
		PeriodNumber: c.PeriodNumber,
		PeriodType:   c.PeriodType,
	}
}

// OutputNameA is the side A result table for this control.
func (c *Config) OutputNameA() string {
	return "rapo_resa_" + strings.ToLower(c.Name)
}

// OutputNameB is the side B result table for this control.
func (c *Config) OutputNameB() string {
	return "rapo_resb_" + strings.ToLower(c.Name)
}

// Variables are the placeholders substituted into catalogue-supplied
// filters and statements.
type Variables struct {
	ControlName string
	ProcessID   int64
	DateFrom    time.Time
	DateTo      time.Time
}

// Apply substitutes the known placeholders in a catalogue text.
func (v Variables) Apply(text string) string {
	const layout = "2006-01-02 15:04:05"
	r := strings.NewReplacer(
		"{control_name}", v.ControlName,
		"{process_id}", fmt.Sprintf("%d", v.ProcessID),
		"{control_date_from}", v.DateFrom.Format(layout),
		"{control_date_to}", v.DateTo.Format(layout),
	)
	return r.Replace(text)
}
