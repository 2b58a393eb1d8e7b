package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadWeaknessesParsesTable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "weaknesses.yaml")
	yaml := `
- id: sql-injection
  description: SQL injection
  sanitizer_hint: parameterized queries neutralize this; string concatenation does not
- id: command-injection
  description: OS command injection
  sanitizer_hint: shell=False and argument lists neutralize this
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	table, err := LoadWeaknesses(path)
	if err != nil {
		t.Fatalf("LoadWeaknesses() error = %v", err)
	}
	if len(table) != 2 {
		t.Fatalf("got %d entries, want 2", len(table))
	}
	w, err := table.Lookup("sql-injection")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if w.Description != "SQL injection" {
		t.Errorf("description = %q", w.Description)
	}
}

func TestLoadWeaknessesMissingFile(t *testing.T) {
	if _, err := LoadWeaknesses(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestWeaknessTableLookupUnknownID(t *testing.T) {
	table := WeaknessTable{"sql-injection": {ID: "sql-injection"}}
	if _, err := table.Lookup("path-traversal"); err == nil {
		t.Error("expected error for unrecognized weakness identifier")
	}
}

func TestLayoutPaths(t *testing.T) {
	l := NewLayout("/work", "myapp", "gpt-4")

	cases := map[string]string{
		"OriginFile":           "/work/projects/myapp/package_analysis/origin.jsonl",
		"UsagesRawFile":        "/work/projects/myapp/package_analysis/usages_raw.jsonl",
		"UsagesExternalFile":   "/work/projects/myapp/package_analysis/usages_external.jsonl",
		"UsagePromptsDir":      "/work/projects/myapp/llm_results/gpt-4/usage_prompts",
		"SourcesPredicateFile": "/work/projects/myapp/llm_results/gpt-4/spesification_results/TestSources.qll",
		"SinksPredicateFile":   "/work/projects/myapp/llm_results/gpt-4/spesification_results/TestSinks.qll",
		"CodeQLRunsDir":        "/work/projects/myapp/llm_results/gpt-4/codeQL_runs",
		"TriagePromptsDir":     "/work/projects/myapp/llm_results/gpt-4/triage_prompts",
		"TriageResultsDir":     "/work/projects/myapp/llm_results/gpt-4/triage_results",
		"TriagedFlowsDir":      "/work/projects/myapp/llm_results/gpt-4/triaged_flows",
	}

	got := map[string]string{
		"OriginFile":           l.OriginFile(),
		"UsagesRawFile":        l.UsagesRawFile(),
		"UsagesExternalFile":   l.UsagesExternalFile(),
		"UsagePromptsDir":      l.UsagePromptsDir(),
		"SourcesPredicateFile": l.SourcesPredicateFile(),
		"SinksPredicateFile":   l.SinksPredicateFile(),
		"CodeQLRunsDir":        l.CodeQLRunsDir(),
		"TriagePromptsDir":     l.TriagePromptsDir(),
		"TriageResultsDir":     l.TriageResultsDir(),
		"TriagedFlowsDir":      l.TriagedFlowsDir(),
	}

	for name, want := range cases {
		if got[name] != want {
			t.Errorf("%s = %q, want %q", name, got[name], want)
		}
	}
}
