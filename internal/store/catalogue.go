package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/t3eHawk/rapo/internal/control"
	"github.com/t3eHawk/rapo/internal/window"
)

// ControlRecord mirrors one rapo_config row in catalogue form.
// Boolean columns travel as Y/N flags.
type ControlRecord struct {
	Name string
	Type string

	SourceNameA      string
	SourceDateFieldA string
	SourceKeyFieldA  string
	SourceFilterA    string

	SourceNameB      string
	SourceDateFieldB string
	SourceKeyFieldB  string
	SourceFilterB    string

	PeriodBack    int
	PeriodNumber  int
	PeriodType    string
	Parallelism   int
	Timeout       int
	InstanceLimit int
	OutputLimit   int
	DaysRetention int

	NeedA           bool
	NeedB           bool
	NeedHook        bool
	NeedPrerunHook  bool
	NeedPostrunHook bool
	WithDeletion    bool
	WithDrop        bool

	PreparationSQL  string
	PrerequisiteSQL string
	CompletionSQL   string

	RuleConfig      string
	IterationConfig string
}

// CreateControl inserts a catalogue record and returns its id.
func (s *Store) CreateControl(ctx context.Context, r ControlRecord) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO rapo_config
		(control_name, control_type,
		 source_name_a, source_date_field_a, source_key_field_a, source_filter_a,
		 source_name_b, source_date_field_b, source_key_field_b, source_filter_b,
		 period_back, period_number, period_type,
		 parallelism, timeout, instance_limit, output_limit, days_retention,
		 need_a, need_b, need_hook, need_prerun_hook, need_postrun_hook,
		 with_deletion, with_drop,
		 preparation_sql, prerequisite_sql, completion_sql,
		 rule_config, iteration_config)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.Name, r.Type,
		r.SourceNameA, r.SourceDateFieldA, nullable(r.SourceKeyFieldA), nullable(r.SourceFilterA),
		r.SourceNameB, r.SourceDateFieldB, nullable(r.SourceKeyFieldB), nullable(r.SourceFilterB),
		r.PeriodBack, r.PeriodNumber, r.PeriodType,
		orDefault(r.Parallelism, 1), r.Timeout, orDefault(r.InstanceLimit, 1), r.OutputLimit,
		orDefault(r.DaysRetention, 365),
		flag(r.NeedA), flag(r.NeedB), flag(r.NeedHook),
		flag(r.NeedPrerunHook), flag(r.NeedPostrunHook),
		flag(r.WithDeletion), flag(r.WithDrop),
		nullable(r.PreparationSQL), nullable(r.PrerequisiteSQL), nullable(r.CompletionSQL),
		nullable(r.RuleConfig), nullable(r.IterationConfig),
	)
	if err != nil {
		return 0, fmt.Errorf("create control %s: %w", r.Name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create control %s: %w", r.Name, err)
	}
	return id, nil
}

// GetControl reads one catalogue record by name and resolves it into
// the runnable configuration, folding the global algorithm defaults
// into the rule document.
func (s *Store) GetControl(ctx context.Context, name string, defaults control.AlgorithmDefaults) (*control.Config, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT control_id, control_name, control_type,
		       coalesce(source_name_a, ''), coalesce(source_date_field_a, ''),
		       coalesce(source_key_field_a, ''), coalesce(source_filter_a, ''),
		       coalesce(source_name_b, ''), coalesce(source_date_field_b, ''),
		       coalesce(source_key_field_b, ''), coalesce(source_filter_b, ''),
		       period_back, period_number, period_type,
		       parallelism, coalesce(timeout, 0), instance_limit,
		       coalesce(output_limit, 0), days_retention,
		       need_a, need_b, need_hook, need_prerun_hook, need_postrun_hook,
		       with_deletion, with_drop,
		       coalesce(preparation_sql, ''), coalesce(prerequisite_sql, ''),
		       coalesce(completion_sql, ''),
		       coalesce(rule_config, ''), coalesce(iteration_config, '')
		FROM rapo_config
		WHERE control_name = ?
	`, name)

	var cfg control.Config
	var kind, periodType string
	var needA, needB, needHook, needPrerun, needPostrun, withDeletion, withDrop string
	var ruleConfig, iterationConfig string
	err := row.Scan(
		&cfg.ID, &cfg.Name, &kind,
		&cfg.SourceNameA, &cfg.SourceDateFieldA, &cfg.SourceKeyFieldA, &cfg.SourceFilterA,
		&cfg.SourceNameB, &cfg.SourceDateFieldB, &cfg.SourceKeyFieldB, &cfg.SourceFilterB,
		&cfg.PeriodBack, &cfg.PeriodNumber, &periodType,
		&cfg.Parallelism, &cfg.Timeout, &cfg.InstanceLimit,
		&cfg.OutputLimit, &cfg.DaysRetention,
		&needA, &needB, &needHook, &needPrerun, &needPostrun,
		&withDeletion, &withDrop,
		&cfg.PreparationSQL, &cfg.PrerequisiteSQL, &cfg.CompletionSQL,
		&ruleConfig, &iterationConfig,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("control %s is not in the catalogue", name)
	}
	if err != nil {
		return nil, fmt.Errorf("get control %s: %w", name, err)
	}

	cfg.Kind = control.Kind(kind)
	cfg.PeriodType = window.PeriodType(periodType)
	cfg.NeedA = needA == "Y"
	cfg.NeedB = needB == "Y"
	cfg.NeedHook = needHook == "Y"
	cfg.NeedPrerunHook = needPrerun == "Y"
	cfg.NeedPostrunHook = needPostrun == "Y"
	cfg.WithDeletion = withDeletion == "Y"
	cfg.WithDrop = withDrop == "Y"

	cfg.Rules, err = control.ParseRuleConfig(ruleConfig, defaults)
	if err != nil {
		return nil, fmt.Errorf("control %s: %w", name, err)
	}
	cfg.Iterations, err = control.ParseIterationConfig(iterationConfig)
	if err != nil {
		return nil, fmt.Errorf("control %s: %w", name, err)
	}
	return &cfg, nil
}

func flag(b bool) string {
	if b {
		return "Y"
	}
	return "N"
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
