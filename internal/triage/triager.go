package triage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/taintpilot/taintpilot/internal/llmclient"
	"github.com/taintpilot/taintpilot/internal/model"
)

// RunConfig controls one Triage run.
type RunConfig struct {
	Weakness      string
	SanitizerHint string
	Concurrency   int // bounded in-flight LLM requests; defaults to 1 (one flow at a time)

	PromptDir string // triage_prompts/
	ResultDir string // triage_results/

	OnDiagnostic func(msg string)
}

func (c *RunConfig) withDefaults() RunConfig {
	out := *c
	if out.Concurrency <= 0 {
		out.Concurrency = 1
	}
	if out.OnDiagnostic == nil {
		out.OnDiagnostic = func(string) {}
	}
	return out
}

// Triager runs the Flow Triager end to end: parse SARIF, reconstruct each
// flow's narrative, ask the model whether it is a real vulnerability, and
// rewrite the SARIF keeping only the flows judged "yes".
type Triager struct {
	Provider  llmclient.Provider
	Narrative Config
	Run       RunConfig
}

// Triage consumes one SARIF document and returns the filtered SARIF bytes.
// A flow whose narrative cannot be reconstructed (too few locations) is
// skipped with a diagnostic and dropped, same as a flow judged "no". An
// unreadable source file does not drop the flow: its snippet is a marker
// line. Reconstruction failures are per-flow, not fatal.
func (t *Triager) Triage(ctx context.Context, sarifData []byte) ([]byte, error) {
	cfg := t.Run.withDefaults()

	doc, err := Parse(sarifData)
	if err != nil {
		return nil, err
	}
	flows, refs := doc.Flows()

	if cfg.PromptDir != "" {
		if err := os.MkdirAll(cfg.PromptDir, 0o755); err != nil {
			return nil, fmt.Errorf("triage: create prompt dir: %w", err)
		}
	}
	if cfg.ResultDir != "" {
		if err := os.MkdirAll(cfg.ResultDir, 0o755); err != nil {
			return nil, fmt.Errorf("triage: create result dir: %w", err)
		}
	}

	kept := map[int]bool{}
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, cfg.Concurrency)

	for _, flow := range flows {
		flow := flow
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			vulnerable, err := t.triageOne(ctx, cfg, flow)
			if err != nil {
				cfg.OnDiagnostic(fmt.Sprintf("triage: flow %d skipped: %v", flow.FlowIndex, err))
				return
			}
			if vulnerable {
				mu.Lock()
				kept[flow.FlowIndex] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	return doc.Rewrite(kept, refs)
}

func (t *Triager) triageOne(ctx context.Context, cfg RunConfig, flow model.Flow) (bool, error) {
	narrative, err := BuildNarrative(flow, t.Narrative)
	if err != nil {
		return false, err
	}
	prompt := narrative.Prompt(cfg.Weakness, cfg.SanitizerHint)

	if cfg.PromptDir != "" {
		path := filepath.Join(cfg.PromptDir, fmt.Sprintf("flow_%d.txt", flow.FlowIndex))
		_ = os.WriteFile(path, []byte(prompt), 0o644)
	}

	resp, err := t.Provider.Generate(ctx, llmclient.Request{
		SystemPrompt: triageSystemPrompt,
		UserPrompt:   prompt,
	})
	if err != nil {
		return false, err
	}

	judgement, err := parseJudgement(resp.Text)
	if err != nil {
		return false, err
	}
	judgement.FlowIndex = flow.FlowIndex

	if cfg.ResultDir != "" {
		path := filepath.Join(cfg.ResultDir, fmt.Sprintf("flow_%d.txt", flow.FlowIndex))
		if data, merr := json.Marshal(judgement); merr == nil {
			_ = os.WriteFile(path, append(data, '\n'), 0o644)
		}
	}

	return judgement.Vulnerable(), nil
}

const triageSystemPrompt = `You are a security research assistant triaging candidate dataflow paths found by a static analyzer. You are given a SOURCE, zero or more intermediate STEPs, and a SINK, each shown with surrounding source code. Decide whether the path is a real, exploitable vulnerability. Respond with a single JSON object only, no prose, no markdown fences: {"judgement": "yes" or "no", "reason": "..."}. Use "no" whenever the path is sanitized, infeasible, or you are not confident it is exploitable.`

// parseJudgement decodes one triage response. An empty or malformed
// response is a parse failure; the caller treats it the same as any other
// per-flow reconstruction failure (flow dropped, diagnostic emitted).
func parseJudgement(text string) (model.Judgement, error) {
	if len(text) == 0 {
		return model.Judgement{}, fmt.Errorf("empty response")
	}
	var j model.Judgement
	if err := json.Unmarshal([]byte(text), &j); err != nil {
		return model.Judgement{}, fmt.Errorf("invalid JSON: %w", err)
	}
	return j, nil
}
