package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/taintpilot/taintpilot/analytics"
	"github.com/taintpilot/taintpilot/internal/config"
	"github.com/taintpilot/taintpilot/internal/llmclient"
	"github.com/taintpilot/taintpilot/internal/orchestrator"
	"github.com/taintpilot/taintpilot/output"
)

var scanFlags struct {
	project     string
	sourceDir   string
	model       string
	weaknesses  string
	weaknessID  string
	providerType string

	simulateRuns     bool
	createMissingDBs bool
	resumeFrom       string

	rerunAnalyze    bool
	rerunSynthesize bool
	rerunQuery      bool
	rerunTriage     bool

	stopAfterAnalyze    bool
	stopAfterSynthesize bool
	stopAfterQuery      bool
	stopAfterTriage     bool
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run the full taint analysis pipeline for one project and weakness",
	RunE:  runScan,
}

func init() {
	flags := scanCmd.Flags()
	flags.StringVar(&scanFlags.project, "project", "", "project name, rooted at ./projects/<project>")
	flags.StringVar(&scanFlags.sourceDir, "source", "", "path to the project's Python source tree")
	flags.StringVar(&scanFlags.model, "model", "gpt-4", "LLM model identifier, used only as an output directory label")
	flags.StringVar(&scanFlags.weaknesses, "weaknesses-file", "weaknesses.yaml", "path to the weakness table")
	flags.StringVar(&scanFlags.weaknessID, "weakness", "", "weakness identifier to analyze, e.g. cwe89")
	flags.StringVar(&scanFlags.providerType, "provider", "openai", "LLM provider: openai, anthropic, ollama, or mock")

	flags.BoolVar(&scanFlags.simulateRuns, "simulate_runs", false, "skip the structural engine and use a mock LLM provider")
	flags.BoolVar(&scanFlags.createMissingDBs, "create_missing_dbs", false, "invoke the structural engine's database-create step before querying")
	flags.StringVar(&scanFlags.resumeFrom, "resume_from", "", "prior run's project directory to copy artifacts from before gating")

	flags.BoolVar(&scanFlags.rerunAnalyze, "rerun_analyze", false, "force re-execution of the analyze stage")
	flags.BoolVar(&scanFlags.rerunSynthesize, "rerun_synthesize", false, "force re-execution of the synthesize stage")
	flags.BoolVar(&scanFlags.rerunQuery, "rerun_query", false, "force re-execution of the structural query stage")
	flags.BoolVar(&scanFlags.rerunTriage, "rerun_triage", false, "force re-execution of the triage stage")

	flags.BoolVar(&scanFlags.stopAfterAnalyze, "stop_after_analyze", false, "stop once the analyze stage completes")
	flags.BoolVar(&scanFlags.stopAfterSynthesize, "stop_after_synthesize", false, "stop once the synthesize stage completes")
	flags.BoolVar(&scanFlags.stopAfterQuery, "stop_after_query", false, "stop once the structural query stage completes")
	flags.BoolVar(&scanFlags.stopAfterTriage, "stop_after_triage", false, "stop once the triage stage completes")

	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, _ []string) error {
	logger := output.NewLogger(output.VerbosityDefault)
	if verboseFlag {
		logger = output.NewLogger(output.VerbosityVerbose)
	}

	if scanFlags.project == "" || scanFlags.sourceDir == "" || scanFlags.weaknessID == "" {
		return fmt.Errorf("scan: --project, --source, and --weakness are required")
	}

	table, err := config.LoadWeaknesses(scanFlags.weaknesses)
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	weakness, err := table.Lookup(scanFlags.weaknessID)
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}

	config.LoadEnv(scanFlags.sourceDir)

	workspaceRoot, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	layout := config.NewLayout(workspaceRoot, scanFlags.project, scanFlags.model)
	layout.Source = scanFlags.sourceDir

	var provider llmclient.Provider
	if !scanFlags.simulateRuns {
		provider, err = llmclient.New(llmclient.Config{Type: scanFlags.providerType})
		if err != nil {
			return fmt.Errorf("scan: %w", err)
		}
	}

	opts := &orchestrator.Options{
		Layout:           layout,
		Weakness:         weakness,
		Provider:         provider,
		SimulateRuns:     scanFlags.simulateRuns,
		CreateMissingDBs: scanFlags.createMissingDBs,
		ResumeFrom:       scanFlags.resumeFrom,
		Analyze:          orchestrator.StageFlags{Rerun: scanFlags.rerunAnalyze, StopAfter: scanFlags.stopAfterAnalyze},
		Synthesize:       orchestrator.StageFlags{Rerun: scanFlags.rerunSynthesize, StopAfter: scanFlags.stopAfterSynthesize},
		Query_:           orchestrator.StageFlags{Rerun: scanFlags.rerunQuery, StopAfter: scanFlags.stopAfterQuery},
		Triage:           orchestrator.StageFlags{Rerun: scanFlags.rerunTriage, StopAfter: scanFlags.stopAfterTriage},
		OnEvent:          analytics.ReportEventWithProperties,
		OnDiagnostic:     func(msg string) { fmt.Println(msg) },
	}

	logger.Progress("scanning %s for %s", scanFlags.project, weakness.ID)
	stop := logger.StartTiming("scan")
	result, err := orchestrator.Run(cmd.Context(), opts)
	stop()
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}

	output.DisableColor(!logger.IsTTY())
	logger.Statistic("sources=%d sinks=%d flows_kept=%d", result.SourceCount, result.SinkCount, result.FlowsKept)
	if result.FlowsKept > 0 {
		fmt.Println(output.Vulnerable.Sprintf("%d flow(s) judged vulnerable", result.FlowsKept))
	} else if !result.TriageSkipped {
		fmt.Println(output.Sanitized.Sprint("no flow judged vulnerable"))
	}
	if result.StoppedAfter != "" {
		logger.Progress("stopped after %s stage", result.StoppedAfter)
	}
	return nil
}
