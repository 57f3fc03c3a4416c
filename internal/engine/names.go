package engine

import "fmt"

// tempNames are the per-run temporary relations, in creation order.
type tempNames struct {
	SourceA string
	SourceB string
	Comb    string
	Mod     string
	OrgA    string
	OrgB    string
	Dup     string
	Mac     string
	ErrorA  string
	ErrorB  string
	StageA  string
	StageB  string
}

func temporaries(processID int64) tempNames {
	return tempNames{
		SourceA: fmt.Sprintf("rapo_temp_source_a_%d", processID),
		SourceB: fmt.Sprintf("rapo_temp_source_b_%d", processID),
		Comb:    fmt.Sprintf("rapo_temp_comb_%d", processID),
		Mod:     fmt.Sprintf("rapo_temp_mod_%d", processID),
		OrgA:    fmt.Sprintf("rapo_temp_org_a_%d", processID),
		OrgB:    fmt.Sprintf("rapo_temp_org_b_%d", processID),
		Dup:     fmt.Sprintf("rapo_temp_dup_%d", processID),
		Mac:     fmt.Sprintf("rapo_temp_mac_%d", processID),
		ErrorA:  fmt.Sprintf("rapo_temp_error_a_%d", processID),
		ErrorB:  fmt.Sprintf("rapo_temp_error_b_%d", processID),
		StageA:  fmt.Sprintf("rapo_temp_stage_a_%d", processID),
		StageB:  fmt.Sprintf("rapo_temp_stage_b_%d", processID),
	}
}

// all lists every temporary relation for cleanup.
func (t tempNames) all() []string {
	return []string{
		t.SourceA, t.SourceB, t.Comb, t.Mod, t.OrgA, t.OrgB,
		t.Dup, t.Mac, t.ErrorA, t.ErrorB, t.StageA, t.StageB,
	}
}
