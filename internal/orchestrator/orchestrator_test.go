package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taintpilot/taintpilot/internal/config"
	"github.com/taintpilot/taintpilot/internal/llmclient"
)

func newFixture(t *testing.T) (string, config.Layout) {
	t.Helper()
	root := t.TempDir()
	layout := config.NewLayout(root, "myapp", "gpt-4")
	require.NoError(t, os.MkdirAll(layout.Source, 0o755))
	src := "import flask\n" +
		"x = flask.request.args.get('q')\n" +
		"eval(x)\n"
	require.NoError(t, os.WriteFile(filepath.Join(layout.Source, "app.py"), []byte(src), 0o644))
	return root, layout
}

func synthHandler() llmclient.MockHandler {
	// Classify flask.request.args.get as a source, built_in eval as a sink.
	return llmclient.MockHandler{
		Contains: "",
		Response: `{"flask request args get":"source","built_in eval":"sink"}`,
	}
}

func baseOptions(layout config.Layout) *Options {
	return &Options{
		Layout:   layout,
		Weakness: config.Weakness{ID: "cwe94", Description: "code injection", SanitizerHint: "none"},
		Provider: llmclient.NewMockProvider([]llmclient.MockHandler{synthHandler()}),
	}
}

func TestRunCompletesEndToEndWithSimulatedRuns(t *testing.T) {
	_, layout := newFixture(t)
	opts := baseOptions(layout)
	opts.SimulateRuns = true

	result, err := Run(context.Background(), opts)
	require.NoError(t, err)

	assert.False(t, result.AnalyzeSkipped, "first run should not skip analyze")
	assert.False(t, result.SynthesizeSkipped, "first run should not skip synthesize")
	assert.False(t, result.QuerySkipped, "first run should not skip query")
	assert.False(t, result.TriageSkipped, "first run should not skip triage")
	assert.NotZero(t, result.SourceCount, "expected a non-empty specification")
	assert.NotZero(t, result.SinkCount, "expected a non-empty specification")
	assert.True(t, fileExists(layout.UsagesExternalFile()))
	assert.True(t, fileExists(layout.CodeQLSARIFFile(opts.Weakness.ID)))
	assert.True(t, fileExists(layout.TriagedSARIFFile(opts.Weakness.ID)))
}

func TestRunSkipsStagesWhenPrimaryOutputsExist(t *testing.T) {
	_, layout := newFixture(t)
	opts := baseOptions(layout)
	opts.SimulateRuns = true
	_, err := Run(context.Background(), opts)
	require.NoError(t, err)

	opts2 := baseOptions(layout)
	opts2.SimulateRuns = true
	result, err := Run(context.Background(), opts2)
	require.NoError(t, err)

	assert.True(t, result.AnalyzeSkipped)
	assert.True(t, result.SynthesizeSkipped)
	assert.True(t, result.QuerySkipped)
	assert.True(t, result.TriageSkipped)
}

func TestRunRerunAnalyzeClearsDownstream(t *testing.T) {
	_, layout := newFixture(t)
	opts := baseOptions(layout)
	opts.SimulateRuns = true
	_, err := Run(context.Background(), opts)
	require.NoError(t, err)
	require.True(t, fileExists(layout.CodeQLSARIFFile(opts.Weakness.ID)))

	opts2 := baseOptions(layout)
	opts2.SimulateRuns = true
	opts2.Analyze.Rerun = true
	result, err := Run(context.Background(), opts2)
	require.NoError(t, err)

	assert.False(t, result.AnalyzeSkipped, "analyze should have rerun")
	assert.False(t, result.SynthesizeSkipped, "downstream stages should re-execute")
	assert.False(t, result.QuerySkipped, "downstream stages should re-execute")
	assert.False(t, result.TriageSkipped, "downstream stages should re-execute")
}

func TestRunStopAfterAnalyze(t *testing.T) {
	_, layout := newFixture(t)
	opts := baseOptions(layout)
	opts.SimulateRuns = true
	opts.Analyze.StopAfter = true

	result, err := Run(context.Background(), opts)
	require.NoError(t, err)

	assert.Equal(t, "analyze", result.StoppedAfter)
	assert.False(t, fileExists(layout.SourcesJSONLFile()), "synthesize stage should not have run")
}

func TestRunStopAfterSynthesize(t *testing.T) {
	_, layout := newFixture(t)
	opts := baseOptions(layout)
	opts.SimulateRuns = true
	opts.Synthesize.StopAfter = true

	result, err := Run(context.Background(), opts)
	require.NoError(t, err)

	assert.Equal(t, "synthesize", result.StoppedAfter)
	assert.False(t, fileExists(layout.CodeQLSARIFFile(opts.Weakness.ID)), "query stage should not have run")
}

func TestRunSkipsTriageOnEmptySpecification(t *testing.T) {
	root := t.TempDir()
	layout := config.NewLayout(root, "myapp", "gpt-4")
	require.NoError(t, os.MkdirAll(layout.Source, 0o755))
	src := "import os\n" + "os.getcwd()\n"
	require.NoError(t, os.WriteFile(filepath.Join(layout.Source, "app.py"), []byte(src), 0o644))

	opts := &Options{
		Layout:   layout,
		Weakness: config.Weakness{ID: "cwe94", Description: "code injection"},
		Provider: llmclient.NewMockProvider([]llmclient.MockHandler{
			{Response: `{}`},
		}),
		SimulateRuns: true,
	}
	result, err := Run(context.Background(), opts)
	require.NoError(t, err)

	assert.True(t, result.SourceCount == 0 || result.SinkCount == 0, "expected an empty specification dimension")
	assert.False(t, fileExists(layout.CodeQLSARIFFile(opts.Weakness.ID)), "query should not run when the specification is empty")
}

func TestRunRequiresStructuralQueryWithoutSimulateRuns(t *testing.T) {
	_, layout := newFixture(t)
	opts := baseOptions(layout)

	_, err := Run(context.Background(), opts)
	assert.Error(t, err, "expected an error when no StructuralQuery is configured and SimulateRuns is false")
}

func TestRunResumeFromCopiesPriorArtifacts(t *testing.T) {
	_, layout := newFixture(t)
	opts := baseOptions(layout)
	opts.SimulateRuns = true
	_, err := Run(context.Background(), opts)
	require.NoError(t, err)

	root2 := t.TempDir()
	layout2 := config.NewLayout(root2, "myapp2", "gpt-4")
	require.NoError(t, os.MkdirAll(layout2.Source, 0o755))
	src := "import flask\n" +
		"x = flask.request.args.get('q')\n" +
		"eval(x)\n"
	require.NoError(t, os.WriteFile(filepath.Join(layout2.Source, "app.py"), []byte(src), 0o644))

	opts2 := baseOptions(layout2)
	opts2.SimulateRuns = true
	opts2.ResumeFrom = layout.Base()

	result, err := Run(context.Background(), opts2)
	require.NoError(t, err)

	assert.True(t, result.AnalyzeSkipped)
	assert.True(t, result.SynthesizeSkipped)
	assert.True(t, result.QuerySkipped)
	assert.True(t, result.TriageSkipped)
}

func TestRunBatchContinuesPastFailingItem(t *testing.T) {
	_, layoutOK := newFixture(t)
	okOpts := baseOptions(layoutOK)
	okOpts.SimulateRuns = true

	root := t.TempDir()
	layoutBad := config.NewLayout(root, "broken", "gpt-4")
	// No source tree created under layoutBad.Source: the analyze stage's
	// directory walk will fail.
	badOpts := baseOptions(layoutBad)
	badOpts.SimulateRuns = true

	results := RunBatch(context.Background(), []BatchItem{
		{Name: "broken", Opts: badOpts},
		{Name: "myapp", Opts: okOpts},
	})
	require.Len(t, results, 2)
	assert.Error(t, results[0].Err, "expected the broken item to fail")
	assert.NoError(t, results[1].Err, "expected the second item to still run")
}
