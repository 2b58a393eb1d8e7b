package config

import "path/filepath"

// Layout computes the canonical on-disk paths for one (project, model)
// pair:
//
//	projects/<proj>/package_analysis/{origin,usages_raw,usages_external}.jsonl
//	projects/<proj>/llm_results/<model>/usage_prompts/
//	projects/<proj>/llm_results/<model>/spesification_results/
//	projects/<proj>/llm_results/<model>/codeQL_runs/
//	projects/<proj>/llm_results/<model>/triage_prompts/
//	projects/<proj>/llm_results/<model>/triage_results/
//	projects/<proj>/llm_results/<model>/triaged_flows/
type Layout struct {
	// Source is the project's own source tree, analyzed by the tracker
	// and the external structural engine.
	Source string
	Model  string
	base   string
}

// NewLayout roots a Layout under workspaceRoot/projects/<project>.
func NewLayout(workspaceRoot, project, model string) Layout {
	base := filepath.Join(workspaceRoot, "projects", project)
	return Layout{
		Source: filepath.Join(base, "src"),
		Model:  model,
		base:   base,
	}
}

// Base returns the project's output root, projects/<proj>, used by the
// orchestrator to copy in artifacts from a prior run when resuming.
func (l Layout) Base() string { return l.base }

func (l Layout) PackageAnalysisDir() string { return filepath.Join(l.base, "package_analysis") }
func (l Layout) OriginFile() string         { return filepath.Join(l.PackageAnalysisDir(), "origin.jsonl") }
func (l Layout) UsagesRawFile() string {
	return filepath.Join(l.PackageAnalysisDir(), "usages_raw.jsonl")
}
func (l Layout) UsagesExternalFile() string {
	return filepath.Join(l.PackageAnalysisDir(), "usages_external.jsonl")
}

func (l Layout) LLMResultsDir() string {
	return filepath.Join(l.base, "llm_results", l.Model)
}
func (l Layout) UsagePromptsDir() string { return filepath.Join(l.LLMResultsDir(), "usage_prompts") }
func (l Layout) SpecificationResultsDir() string {
	return filepath.Join(l.LLMResultsDir(), "spesification_results")
}
func (l Layout) SourcesJSONLFile() string {
	return filepath.Join(l.SpecificationResultsDir(), "sources.jsonl")
}
func (l Layout) SinksJSONLFile() string {
	return filepath.Join(l.SpecificationResultsDir(), "sinks.jsonl")
}
func (l Layout) SourcesPredicateFile() string {
	return filepath.Join(l.SpecificationResultsDir(), "TestSources.qll")
}
func (l Layout) SinksPredicateFile() string {
	return filepath.Join(l.SpecificationResultsDir(), "TestSinks.qll")
}

func (l Layout) CodeQLRunsDir() string { return filepath.Join(l.LLMResultsDir(), "codeQL_runs") }
func (l Layout) CodeQLSARIFFile(weaknessID string) string {
	return filepath.Join(l.CodeQLRunsDir(), weaknessID+"-query.sarif")
}
func (l Layout) CodeQLCSVFile(weaknessID string) string {
	return filepath.Join(l.CodeQLRunsDir(), weaknessID+"-query.csv")
}

func (l Layout) TriagePromptsDir() string { return filepath.Join(l.LLMResultsDir(), "triage_prompts") }
func (l Layout) TriageResultsDir() string { return filepath.Join(l.LLMResultsDir(), "triage_results") }
func (l Layout) TriagedFlowsDir() string  { return filepath.Join(l.LLMResultsDir(), "triaged_flows") }
func (l Layout) TriagedSARIFFile(weaknessID string) string {
	return filepath.Join(l.TriagedFlowsDir(), "filtered-"+weaknessID+"-query.sarif")
}
