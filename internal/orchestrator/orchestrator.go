// Package orchestrator sequences the analyze, synthesize, structural-query,
// and triage stages for one (project, model, weakness) tuple, materializes
// the canonical on-disk layout, and gates re-execution of each stage on the
// presence of its primary output.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/taintpilot/taintpilot/analytics"
	"github.com/taintpilot/taintpilot/internal/config"
	"github.com/taintpilot/taintpilot/internal/llmclient"
	"github.com/taintpilot/taintpilot/internal/model"
	"github.com/taintpilot/taintpilot/internal/origin"
	"github.com/taintpilot/taintpilot/internal/siut"
	"github.com/taintpilot/taintpilot/internal/specsynth"
	"github.com/taintpilot/taintpilot/internal/triage"

	sarif "github.com/owenrumney/go-sarif/v2/sarif"
)

// StageFlags controls gating for one stage: a stage re-executes iff Rerun
// is set or its primary output is absent; StopAfter returns control
// immediately after that stage runs (or is skipped) without invoking any
// stage that follows it.
type StageFlags struct {
	Rerun     bool
	StopAfter bool
}

// StructuralQuery invokes the external structural dataflow engine: it
// consumes the source tree and the two predicate files and must write a
// SARIF report to sarifPath. The structural engine itself is an external
// collaborator that Taintpilot never implements.
type StructuralQuery func(ctx context.Context, sourceDir, sourcesPredicate, sinksPredicate, sarifPath string) error

// CreateDB invokes the structural analyzer's database-creation command for
// one source tree, backing the --create_missing_dbs CLI flag.
type CreateDB func(ctx context.Context, sourceDir string) error

// Options configures one (project, model, weakness) run.
type Options struct {
	Layout   config.Layout
	Weakness config.Weakness

	Provider llmclient.Provider
	Query    StructuralQuery
	CreateDB CreateDB

	// SimulateRuns skips every external call: the structural engine is
	// never invoked (an empty SARIF is synthesized in its place) and, if
	// Provider is nil, a deterministic mock provider is used.
	SimulateRuns     bool
	CreateMissingDBs bool

	// ResumeFrom, if set, is a prior run's project directory. Its
	// contents are copied into Layout's base directory before gating is
	// evaluated.
	ResumeFrom string

	Analyze    StageFlags
	Synthesize StageFlags
	Query_     StageFlags
	Triage     StageFlags

	SynthesizeConcurrency int
	TriageConcurrency     int

	// OnEvent receives analytics-shaped event names (analytics.StageStarted
	// etc.) and properties. Defaults to a no-op; the CLI layer wires this
	// to analytics.ReportEventWithProperties.
	OnEvent func(event string, properties map[string]interface{})
	// OnDiagnostic receives free-text diagnostics meant for stdout.
	OnDiagnostic func(msg string)
}

func (o *Options) withDefaults() {
	if o.OnEvent == nil {
		o.OnEvent = func(string, map[string]interface{}) {}
	}
	if o.OnDiagnostic == nil {
		o.OnDiagnostic = func(string) {}
	}
	if o.SynthesizeConcurrency <= 0 {
		o.SynthesizeConcurrency = 4
	}
	if o.TriageConcurrency <= 0 {
		o.TriageConcurrency = 1
	}
	if o.SimulateRuns && o.Provider == nil {
		o.Provider = llmclient.NewMockProvider(nil)
	}
}

// Result summarizes one Run.
type Result struct {
	AnalyzeSkipped    bool
	SynthesizeSkipped bool
	QuerySkipped      bool
	TriageSkipped     bool

	SourceCount int
	SinkCount   int
	FlowsKept   int

	StoppedAfter string // name of the stage a StopAfter flag halted at, if any
}

// Run executes the pipeline for one (project, model, weakness) tuple.
func Run(ctx context.Context, opts *Options) (Result, error) {
	opts.withDefaults()
	var result Result

	if opts.ResumeFrom != "" {
		if err := copyTree(opts.ResumeFrom, opts.Layout.Base()); err != nil {
			return result, fmt.Errorf("orchestrator: resume: %w", err)
		}
	}

	opts.OnEvent(analytics.RunStarted, nil)

	skipped, err := stageAnalyze(opts)
	if err != nil {
		opts.OnEvent(analytics.RunFailed, nil)
		return result, err
	}
	result.AnalyzeSkipped = skipped
	if opts.Analyze.StopAfter {
		result.StoppedAfter = "analyze"
		opts.OnEvent(analytics.RunCompleted, nil)
		return result, nil
	}

	skipped, sources, sinks, err := stageSynthesize(ctx, opts)
	if err != nil {
		opts.OnEvent(analytics.RunFailed, nil)
		return result, err
	}
	result.SynthesizeSkipped = skipped
	result.SourceCount = sources
	result.SinkCount = sinks
	if opts.Synthesize.StopAfter {
		result.StoppedAfter = "synthesize"
		opts.OnEvent(analytics.RunCompleted, nil)
		return result, nil
	}

	if sources == 0 || sinks == 0 {
		opts.OnDiagnostic("orchestrator: empty specification (no sources or no sinks), triager not invoked")
		opts.OnEvent(analytics.RunCompleted, nil)
		return result, nil
	}

	skipped, err = stageQuery(ctx, opts)
	if err != nil {
		opts.OnEvent(analytics.RunFailed, nil)
		return result, err
	}
	result.QuerySkipped = skipped
	if opts.Query_.StopAfter {
		result.StoppedAfter = "query"
		opts.OnEvent(analytics.RunCompleted, nil)
		return result, nil
	}

	skipped, kept, err := stageTriage(ctx, opts)
	if err != nil {
		opts.OnEvent(analytics.RunFailed, nil)
		return result, err
	}
	result.TriageSkipped = skipped
	result.FlowsKept = kept

	opts.OnEvent(analytics.RunCompleted, nil)
	return result, nil
}

// --- stage: analyze (origin classification + symbolic use tracking + external filter) ---

func stageAnalyze(opts *Options) (skipped bool, err error) {
	primary := opts.Layout.UsagesExternalFile()
	if !opts.Analyze.Rerun && fileExists(primary) {
		opts.OnEvent(analytics.StageSkipped, map[string]interface{}{"stage": "analyze"})
		return true, nil
	}
	opts.OnEvent(analytics.StageStarted, map[string]interface{}{"stage": "analyze"})

	if err := os.RemoveAll(opts.Layout.LLMResultsDir()); err != nil {
		return false, fmt.Errorf("orchestrator: clear downstream of analyze: %w", err)
	}
	if err := os.MkdirAll(opts.Layout.PackageAnalysisDir(), 0o755); err != nil {
		return false, fmt.Errorf("orchestrator: create package_analysis dir: %w", err)
	}

	files, err := pythonFiles(opts.Layout.Source)
	if err != nil {
		opts.OnEvent(analytics.StageFailed, map[string]interface{}{"stage": "analyze"})
		return false, fmt.Errorf("orchestrator: walk source tree: %w", err)
	}

	classifier, err := origin.New(opts.Layout.Source)
	if err != nil {
		opts.OnEvent(analytics.StageFailed, map[string]interface{}{"stage": "analyze"})
		return false, fmt.Errorf("orchestrator: build origin classifier: %w", err)
	}

	tracker := siut.NewTracker()
	var all []model.UsageRecord
	relative := map[string]bool{}
	for _, rel := range files {
		src, err := os.ReadFile(filepath.Join(opts.Layout.Source, rel))
		if err != nil {
			opts.OnDiagnostic(fmt.Sprintf("orchestrator: read %s: %v", rel, err))
			continue
		}
		recs, err := tracker.Track(filepath.ToSlash(rel), src)
		if err != nil {
			opts.OnDiagnostic(fmt.Sprintf("orchestrator: parse %s: %v", rel, err))
			continue
		}
		all = append(all, recs...)
		for name := range tracker.RelativeImports() {
			relative[name] = true
		}
	}

	internalOrigin, externalOrigin := classifier.Result(all, relative)
	external := origin.FilterExternal(all, internalOrigin)

	if err := writeJSONLAppend(opts.Layout.OriginFile(), internalOrigin, externalOrigin); err != nil {
		return false, fmt.Errorf("orchestrator: write origin.jsonl: %w", err)
	}
	if err := writeUsageRecords(opts.Layout.UsagesRawFile(), all); err != nil {
		return false, fmt.Errorf("orchestrator: write usages_raw.jsonl: %w", err)
	}
	if err := writeUsageRecords(opts.Layout.UsagesExternalFile(), external); err != nil {
		return false, fmt.Errorf("orchestrator: write usages_external.jsonl: %w", err)
	}
	return false, nil
}

// --- stage: synthesize (specification synthesis) ---

func stageSynthesize(ctx context.Context, opts *Options) (skipped bool, sources, sinks int, err error) {
	sourcesPath := opts.Layout.SourcesPredicateFile()
	sinksPath := opts.Layout.SinksPredicateFile()
	if !opts.Synthesize.Rerun && fileExists(sourcesPath) && fileExists(sinksPath) {
		opts.OnEvent(analytics.StageSkipped, map[string]interface{}{"stage": "synthesize"})
		n1, _ := countJSONLLines(opts.Layout.SourcesJSONLFile())
		n2, _ := countJSONLLines(opts.Layout.SinksJSONLFile())
		return true, n1, n2, nil
	}
	opts.OnEvent(analytics.StageStarted, map[string]interface{}{"stage": "synthesize"})

	if err := os.RemoveAll(opts.Layout.CodeQLRunsDir()); err != nil {
		return false, 0, 0, fmt.Errorf("orchestrator: clear downstream of synthesize: %w", err)
	}
	if err := os.RemoveAll(opts.Layout.TriagedFlowsDir()); err != nil {
		return false, 0, 0, fmt.Errorf("orchestrator: clear downstream of synthesize: %w", err)
	}
	if err := os.RemoveAll(opts.Layout.TriagePromptsDir()); err != nil {
		return false, 0, 0, fmt.Errorf("orchestrator: clear downstream of synthesize: %w", err)
	}
	if err := os.RemoveAll(opts.Layout.TriageResultsDir()); err != nil {
		return false, 0, 0, fmt.Errorf("orchestrator: clear downstream of synthesize: %w", err)
	}

	external, err := readUsageRecords(opts.Layout.UsagesExternalFile())
	if err != nil {
		opts.OnEvent(analytics.StageFailed, map[string]interface{}{"stage": "synthesize"})
		return false, 0, 0, fmt.Errorf("orchestrator: read usages_external.jsonl: %w", err)
	}

	synth := &specsynth.Synthesizer{
		Provider: opts.Provider,
		Config: specsynth.Config{
			Weakness:    opts.Weakness.Description,
			Concurrency: opts.SynthesizeConcurrency,
			PromptDir:   opts.Layout.UsagePromptsDir(),
			ResultDir:   opts.Layout.SpecificationResultsDir(),
			OnDiagnostic: func(msg string) {
				opts.OnEvent(analytics.LLMPromptExhausted, nil)
				opts.OnDiagnostic(msg)
			},
		},
	}
	spec, err := synth.Synthesize(ctx, external)
	if err != nil {
		opts.OnEvent(analytics.StageFailed, map[string]interface{}{"stage": "synthesize"})
		return false, 0, 0, fmt.Errorf("orchestrator: synthesize: %w", err)
	}

	sourceRecs, sinkRecs := specsynth.Filter(external, spec)
	if err := writeUsageRecords(opts.Layout.SourcesJSONLFile(), sourceRecs); err != nil {
		return false, 0, 0, fmt.Errorf("orchestrator: write sources.jsonl: %w", err)
	}
	if err := writeUsageRecords(opts.Layout.SinksJSONLFile(), sinkRecs); err != nil {
		return false, 0, 0, fmt.Errorf("orchestrator: write sinks.jsonl: %w", err)
	}
	if err := os.MkdirAll(opts.Layout.SpecificationResultsDir(), 0o755); err != nil {
		return false, 0, 0, fmt.Errorf("orchestrator: create spesification_results dir: %w", err)
	}
	if err := os.WriteFile(sourcesPath, []byte(specsynth.WriteSourcesPredicate(sourceRecs)), 0o644); err != nil {
		return false, 0, 0, fmt.Errorf("orchestrator: write TestSources.qll: %w", err)
	}
	if err := os.WriteFile(sinksPath, []byte(specsynth.WriteSinksPredicate(sinkRecs)), 0o644); err != nil {
		return false, 0, 0, fmt.Errorf("orchestrator: write TestSinks.qll: %w", err)
	}

	return false, len(sourceRecs), len(sinkRecs), nil
}

// --- stage: structural query ---

func stageQuery(ctx context.Context, opts *Options) (skipped bool, err error) {
	sarifPath := opts.Layout.CodeQLSARIFFile(opts.Weakness.ID)
	if !opts.Query_.Rerun && fileExists(sarifPath) {
		opts.OnEvent(analytics.StageSkipped, map[string]interface{}{"stage": "query"})
		return true, nil
	}
	opts.OnEvent(analytics.StageStarted, map[string]interface{}{"stage": "query"})

	if err := os.RemoveAll(opts.Layout.TriagedFlowsDir()); err != nil {
		return false, fmt.Errorf("orchestrator: clear downstream of query: %w", err)
	}
	if err := os.RemoveAll(opts.Layout.TriagePromptsDir()); err != nil {
		return false, fmt.Errorf("orchestrator: clear downstream of query: %w", err)
	}
	if err := os.RemoveAll(opts.Layout.TriageResultsDir()); err != nil {
		return false, fmt.Errorf("orchestrator: clear downstream of query: %w", err)
	}
	if err := os.MkdirAll(opts.Layout.CodeQLRunsDir(), 0o755); err != nil {
		return false, fmt.Errorf("orchestrator: create codeQL_runs dir: %w", err)
	}

	if opts.CreateMissingDBs && opts.CreateDB != nil {
		if err := opts.CreateDB(ctx, opts.Layout.Source); err != nil {
			opts.OnEvent(analytics.StageFailed, map[string]interface{}{"stage": "query"})
			return false, fmt.Errorf("orchestrator: create_missing_dbs: %w", err)
		}
	}

	if opts.SimulateRuns {
		if err := writeEmptySARIF(sarifPath); err != nil {
			return false, fmt.Errorf("orchestrator: write simulated SARIF: %w", err)
		}
		return false, nil
	}

	if opts.Query == nil {
		opts.OnEvent(analytics.StageFailed, map[string]interface{}{"stage": "query"})
		return false, fmt.Errorf("orchestrator: missing prerequisite: no StructuralQuery configured")
	}
	if err := opts.Query(ctx, opts.Layout.Source, opts.Layout.SourcesPredicateFile(), opts.Layout.SinksPredicateFile(), sarifPath); err != nil {
		opts.OnEvent(analytics.StageFailed, map[string]interface{}{"stage": "query"})
		return false, fmt.Errorf("orchestrator: structural query: %w", err)
	}
	return false, nil
}

// --- stage: triage ---

func stageTriage(ctx context.Context, opts *Options) (skipped bool, kept int, err error) {
	triagedPath := opts.Layout.TriagedSARIFFile(opts.Weakness.ID)
	if !opts.Triage.Rerun && fileExists(triagedPath) {
		opts.OnEvent(analytics.StageSkipped, map[string]interface{}{"stage": "triage"})
		return true, 0, nil
	}
	opts.OnEvent(analytics.StageStarted, map[string]interface{}{"stage": "triage"})

	if err := os.MkdirAll(opts.Layout.TriagedFlowsDir(), 0o755); err != nil {
		return false, 0, fmt.Errorf("orchestrator: create triaged_flows dir: %w", err)
	}

	sarifData, err := os.ReadFile(opts.Layout.CodeQLSARIFFile(opts.Weakness.ID))
	if err != nil {
		opts.OnEvent(analytics.StageFailed, map[string]interface{}{"stage": "triage"})
		return false, 0, fmt.Errorf("orchestrator: missing prerequisite: read SARIF: %w", err)
	}

	tr := &triage.Triager{
		Provider:  opts.Provider,
		Narrative: triage.Config{ProjectRoot: opts.Layout.Source},
		Run: triage.RunConfig{
			Weakness:      opts.Weakness.Description,
			SanitizerHint: opts.Weakness.SanitizerHint,
			Concurrency:   opts.TriageConcurrency,
			PromptDir:     opts.Layout.TriagePromptsDir(),
			ResultDir:     opts.Layout.TriageResultsDir(),
			OnDiagnostic:  opts.OnDiagnostic,
		},
	}
	out, err := tr.Triage(ctx, sarifData)
	if err != nil {
		opts.OnEvent(analytics.StageFailed, map[string]interface{}{"stage": "triage"})
		return false, 0, fmt.Errorf("orchestrator: malformed SARIF: %w", err)
	}
	if err := os.WriteFile(triagedPath, out, 0o644); err != nil {
		return false, 0, fmt.Errorf("orchestrator: write triaged SARIF: %w", err)
	}

	doc, err := triage.Parse(out)
	if err == nil {
		flows, _ := doc.Flows()
		kept = len(flows)
	}
	return false, kept, nil
}

// writeEmptySARIF builds a no-results SARIF document the same way the
// structural engine's report would look if it found nothing, for
// --simulate_runs. Built with go-sarif rather than a literal template so the
// document shape tracks the library's own schema.
func writeEmptySARIF(path string) error {
	report, err := sarif.New(sarif.Version210)
	if err != nil {
		return err
	}
	run := sarif.NewRunWithInformationURI("taintpilot", "https://github.com/taintpilot/taintpilot")
	report.AddRun(run)

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// --- helpers ---

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func pythonFiles(root string) ([]string, error) {
	var out []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if strings.HasPrefix(info.Name(), ".") || info.Name() == "__pycache__" {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(info.Name(), ".py") {
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			out = append(out, rel)
		}
		return nil
	})
	return out, err
}

func writeUsageRecords(path string, records []model.UsageRecord) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}

func readUsageRecords(path string) ([]model.UsageRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out []model.UsageRecord
	dec := json.NewDecoder(f)
	for dec.More() {
		var r model.UsageRecord
		if err := dec.Decode(&r); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func writeJSONLAppend(path string, origins ...model.Origin) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	for _, o := range origins {
		if err := enc.Encode(o); err != nil {
			return err
		}
	}
	return nil
}

func countJSONLLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	n := 0
	dec := json.NewDecoder(f)
	for dec.More() {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}
