package triage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/taintpilot/taintpilot/internal/llmclient"
	"github.com/taintpilot/taintpilot/internal/model"
)

func writeLines(t *testing.T, path string, n int) {
	t.Helper()
	var b strings.Builder
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, "line %d\n", i)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
}

func TestResolvePathAbsoluteAndRelative(t *testing.T) {
	if got := ResolvePath("/proj", "/abs/foo.py"); got != "/abs/foo.py" {
		t.Errorf("absolute path = %q", got)
	}
	if got := ResolvePath("/proj", "pkg/foo.py"); got != "/proj/pkg/foo.py" {
		t.Errorf("relative path = %q", got)
	}
}

func TestResolvePathFileURI(t *testing.T) {
	if got := ResolvePath("/proj", "file:///proj/pkg/foo.py"); got != "/proj/pkg/foo.py" {
		t.Errorf("file:// uri = %q", got)
	}
}

func TestResolvePathFileURIWindowsDrive(t *testing.T) {
	if got := ResolvePath("/proj", "file:///C:/Users/dev/app.py"); got != "C:/Users/dev/app.py" {
		t.Errorf("windows drive uri = %q", got)
	}
}

func TestResolvePathFileURIPercentEncoded(t *testing.T) {
	if got := ResolvePath("/proj", "file:///proj/my%20app.py"); got != "/proj/my app.py" {
		t.Errorf("percent-encoded uri = %q", got)
	}
}

// TestStepBlockGroupingScenario reproduces the worked example: step start
// lines [10,11,20,21,22] with gap_limit=2 must produce exactly two blocks,
// [10,11] and [20,21,22].
func TestStepBlockGroupingScenario(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "app.py")
	writeLines(t, file, 30)

	steps := []model.Location{
		{URI: "app.py", StartLine: 10, EndLine: 10},
		{URI: "app.py", StartLine: 11, EndLine: 11},
		{URI: "app.py", StartLine: 20, EndLine: 20},
		{URI: "app.py", StartLine: 21, EndLine: 21},
		{URI: "app.py", StartLine: 22, EndLine: 22},
	}
	blocks, err := buildStepBlocks(steps, Config{ProjectRoot: dir, GapLimit: 2, ContextLines: 0})
	if err != nil {
		t.Fatalf("buildStepBlocks() error = %v", err)
	}
	if len(blocks) != 2 {
		t.Fatalf("got %d blocks, want 2", len(blocks))
	}
	if blocks[0].StartLine != 10 || blocks[0].EndLine != 11 {
		t.Errorf("block 0 = [%d,%d], want [10,11]", blocks[0].StartLine, blocks[0].EndLine)
	}
	if blocks[1].StartLine != 20 || blocks[1].EndLine != 22 {
		t.Errorf("block 1 = [%d,%d], want [20,22]", blocks[1].StartLine, blocks[1].EndLine)
	}
}

func TestFilterImportLocationsDropsImportLines(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "app.py")
	src := "import os\nfrom flask import request\nx = request.form['q']\nos.system(x)\n"
	if err := os.WriteFile(file, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	locs := []model.Location{
		{URI: "app.py", StartLine: 2, EndLine: 2},
		{URI: "app.py", StartLine: 3, EndLine: 3},
		{URI: "app.py", StartLine: 4, EndLine: 4},
	}
	filtered := filterImportLocations(locs, dir)
	if len(filtered) != 2 {
		t.Fatalf("filtered = %v, want 2 non-import locations", filtered)
	}
	if filtered[0].StartLine != 3 || filtered[1].StartLine != 4 {
		t.Errorf("filtered lines = %d,%d", filtered[0].StartLine, filtered[1].StartLine)
	}
}

func TestBuildNarrativeRevertsWhenFilterWouldEmptyFlow(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "app.py")
	src := "import os\nfrom flask import request\n"
	if err := os.WriteFile(file, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	flow := model.Flow{
		FlowIndex: 0,
		Locations: []model.Location{
			{URI: "app.py", StartLine: 1, EndLine: 1},
			{URI: "app.py", StartLine: 2, EndLine: 2},
		},
	}
	n, err := BuildNarrative(flow, Config{ProjectRoot: dir})
	if err != nil {
		t.Fatalf("BuildNarrative() error = %v", err)
	}
	if n.Source.StartLine != 1 || n.Sink.StartLine != 2 {
		t.Errorf("expected unfiltered source/sink, got source=%d sink=%d", n.Source.StartLine, n.Sink.StartLine)
	}
}

func sampleSARIF() []byte {
	doc := map[string]interface{}{
		"version": "2.1.0",
		"runs": []interface{}{
			map[string]interface{}{
				"tool": map[string]interface{}{"driver": map[string]interface{}{"name": "taintpilot"}},
				"results": []interface{}{
					map[string]interface{}{
						"ruleId": "sql-injection",
						"codeFlows": []interface{}{
							map[string]interface{}{
								"threadFlows": []interface{}{
									map[string]interface{}{
										"locations": []interface{}{
											threadFlowLoc("app.py", 3, 3),
											threadFlowLoc("app.py", 4, 4),
										},
									},
								},
							},
						},
					},
				},
			},
		},
	}
	b, _ := json.Marshal(doc)
	return b
}

func threadFlowLoc(uri string, start, end int) map[string]interface{} {
	return map[string]interface{}{
		"location": map[string]interface{}{
			"physicalLocation": map[string]interface{}{
				"artifactLocation": map[string]interface{}{"uri": uri},
				"region":           map[string]interface{}{"startLine": start, "endLine": end},
			},
		},
	}
}

func TestTriageKeepsOnlyYesFlows(t *testing.T) {
	dir := t.TempDir()
	src := "import os\nfrom flask import request\nx = request.form['q']\nos.system(x)\n"
	if err := os.WriteFile(filepath.Join(dir, "app.py"), []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}

	mock := llmclient.NewMockProvider([]llmclient.MockHandler{
		{Contains: "SOURCE", Response: `{"judgement":"yes","reason":"unsanitized"}`},
	})
	tr := &Triager{
		Provider:  mock,
		Narrative: Config{ProjectRoot: dir},
		Run:       RunConfig{Weakness: "SQL injection", SanitizerHint: "no escaping observed"},
	}

	out, err := tr.Triage(context.Background(), sampleSARIF())
	if err != nil {
		t.Fatalf("Triage() error = %v", err)
	}

	doc, err := Parse(out)
	if err != nil {
		t.Fatalf("re-parse triaged SARIF: %v", err)
	}
	flows, _ := doc.Flows()
	if len(flows) != 1 {
		t.Fatalf("got %d flows, want 1 kept", len(flows))
	}
}

func TestTriageDropsNoFlows(t *testing.T) {
	dir := t.TempDir()
	src := "import os\nfrom flask import request\nx = request.form['q']\nos.system(x)\n"
	if err := os.WriteFile(filepath.Join(dir, "app.py"), []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}

	mock := llmclient.NewMockProvider([]llmclient.MockHandler{
		{Contains: "SOURCE", Response: `{"judgement":"no","reason":"sanitized upstream"}`},
	})
	tr := &Triager{
		Provider:  mock,
		Narrative: Config{ProjectRoot: dir},
		Run:       RunConfig{Weakness: "SQL injection"},
	}

	out, err := tr.Triage(context.Background(), sampleSARIF())
	if err != nil {
		t.Fatalf("Triage() error = %v", err)
	}

	doc, err := Parse(out)
	if err != nil {
		t.Fatalf("re-parse triaged SARIF: %v", err)
	}
	flows, _ := doc.Flows()
	if len(flows) != 0 {
		t.Fatalf("got %d flows, want 0 kept", len(flows))
	}

	// The result (and its now-empty codeFlow) must still be present: the
	// document structure is preserved, not pruned.
	var parsed map[string]interface{}
	if err := json.Unmarshal(out, &parsed); err != nil {
		t.Fatal(err)
	}
	runs := parsed["runs"].([]interface{})
	results := runs[0].(map[string]interface{})["results"].([]interface{})
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1 preserved", len(results))
	}
}

// TestTriageIdempotent: re-running the triager on its own output (which
// already contains only kept flows) must yield the same SARIF.
func TestTriageIdempotent(t *testing.T) {
	dir := t.TempDir()
	src := "import os\nfrom flask import request\nx = request.form['q']\nos.system(x)\n"
	if err := os.WriteFile(filepath.Join(dir, "app.py"), []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}

	mock := llmclient.NewMockProvider([]llmclient.MockHandler{
		{Contains: "SOURCE", Response: `{"judgement":"yes","reason":"unsanitized"}`},
	})
	tr := &Triager{
		Provider:  mock,
		Narrative: Config{ProjectRoot: dir},
		Run:       RunConfig{Weakness: "SQL injection"},
	}

	first, err := tr.Triage(context.Background(), sampleSARIF())
	if err != nil {
		t.Fatalf("first Triage() error = %v", err)
	}
	second, err := tr.Triage(context.Background(), first)
	if err != nil {
		t.Fatalf("second Triage() error = %v", err)
	}

	doc1, _ := Parse(first)
	doc2, _ := Parse(second)
	flows1, _ := doc1.Flows()
	flows2, _ := doc2.Flows()
	if len(flows1) != len(flows2) {
		t.Fatalf("flow count changed across re-run: %d vs %d", len(flows1), len(flows2))
	}
}

func TestParseJudgementEmptyIsFailure(t *testing.T) {
	if _, err := parseJudgement(""); err == nil {
		t.Error("expected error for empty judgement response")
	}
}

func TestParseJudgementVulnerableOnlyOnExactYes(t *testing.T) {
	j, err := parseJudgement(`{"judgement":"YES","reason":"close but wrong case"}`)
	if err != nil {
		t.Fatalf("parseJudgement() error = %v", err)
	}
	if j.Vulnerable() {
		t.Error("expected case-sensitive match: YES must not count as yes")
	}
}
