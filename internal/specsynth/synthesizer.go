package specsynth

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/taintpilot/taintpilot/internal/llmclient"
	"github.com/taintpilot/taintpilot/internal/model"
)

// Config controls one Synthesize run.
type Config struct {
	Weakness    string // natural-language weakness description, e.g. "SQL injection"
	Concurrency int    // bounded in-flight LLM requests; defaults to 4
	MaxRetries  int    // retries on parse failure before skipping a package; defaults to 3
	Backoff     time.Duration

	PromptDir string // usage_prompts/
	ResultDir string // spesification_results/

	OnDiagnostic func(msg string) // defaults to a no-op
}

// Synthesizer runs step 1-3 of the Specification Synthesizer: prompt
// construction, bounded-parallel LLM dispatch, and chain-label reconciliation.
type Synthesizer struct {
	Provider llmclient.Provider
	Config   Config
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Concurrency <= 0 {
		out.Concurrency = 4
	}
	if out.MaxRetries <= 0 {
		out.MaxRetries = 3
	}
	if out.Backoff <= 0 {
		out.Backoff = 200 * time.Millisecond
	}
	if out.OnDiagnostic == nil {
		out.OnDiagnostic = func(string) {}
	}
	return out
}

// Synthesize renders one prompt per package, dispatches them in bounded
// parallel, and returns the union of every chain's classification. Order
// between package responses is not guaranteed.
func (s *Synthesizer) Synthesize(ctx context.Context, records []model.UsageRecord) (model.SpecRecord, error) {
	cfg := s.Config.withDefaults()
	order, chainsByPkg := GroupByPackage(records)

	if cfg.PromptDir != "" {
		if err := os.MkdirAll(cfg.PromptDir, 0o755); err != nil {
			return nil, fmt.Errorf("specsynth: create prompt dir: %w", err)
		}
	}
	if cfg.ResultDir != "" {
		if err := os.MkdirAll(cfg.ResultDir, 0o755); err != nil {
			return nil, fmt.Errorf("specsynth: create result dir: %w", err)
		}
	}

	type job struct {
		index  int
		pkg    string
		chains []string
	}
	jobs := make([]job, len(order))
	for i, pkg := range order {
		jobs[i] = job{index: i, pkg: pkg, chains: chainsByPkg[pkg]}
	}

	result := model.SpecRecord{}
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, cfg.Concurrency)

	for _, j := range jobs {
		j := j
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			prompt := BuildPackagePrompt(cfg.Weakness, j.pkg, j.chains)
			if j.pkg == model.BuiltinPackage {
				prompt = BuildBuiltinPrompt(cfg.Weakness, j.chains)
			}
			if cfg.PromptDir != "" {
				path := filepath.Join(cfg.PromptDir, fmt.Sprintf("pre_chain_prompt_%d.txt", j.index))
				_ = os.WriteFile(path, []byte(prompt), 0o644)
			}

			spec, err := s.dispatchWithRetry(ctx, cfg, prompt, j.chains)
			if err != nil {
				cfg.OnDiagnostic(fmt.Sprintf("specsynth: package %s skipped after retries: %v", j.pkg, err))
				return
			}
			if cfg.ResultDir != "" {
				path := filepath.Join(cfg.ResultDir, fmt.Sprintf("pre_chain_prompt_%d_result.jsonl", j.index))
				_ = writeJSONL(path, spec)
			}

			mu.Lock()
			result.Merge(spec)
			mu.Unlock()
		}()
	}
	wg.Wait()

	return result, nil
}

// dispatchWithRetry sends prompt to the model and parses the response.
// Empty responses and invalid JSON are transient parse failures, retried up
// to cfg.MaxRetries times with bounded backoff.
func (s *Synthesizer) dispatchWithRetry(ctx context.Context, cfg Config, prompt string, chains []string) (model.SpecRecord, error) {
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(cfg.Backoff * time.Duration(attempt))
		}
		resp, err := s.Provider.Generate(ctx, llmclient.Request{
			SystemPrompt: SystemPrompt(),
			UserPrompt:   prompt,
		})
		if err != nil {
			lastErr = err
			continue
		}
		spec, perr := parseUsageResponse(resp.Text, chains)
		if perr != nil {
			lastErr = perr
			continue
		}
		return spec, nil
	}
	return nil, fmt.Errorf("exhausted %d retries: %w", cfg.MaxRetries, lastErr)
}

// parseUsageResponse decodes a usage-classification response into a
// SpecRecord. An empty response is a parse failure. Chain keys missing from
// the response are filled in as "none"; missing keys are not retried
// individually.
func parseUsageResponse(text string, chains []string) (model.SpecRecord, error) {
	if len(text) == 0 {
		return nil, fmt.Errorf("empty response")
	}
	var raw map[string]string
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	spec := model.SpecRecord{}
	for _, chain := range chains {
		v, ok := raw[chain]
		verdict := model.Verdict(v)
		if !ok || (verdict != model.VerdictSource && verdict != model.VerdictSink) {
			verdict = model.VerdictNone
		}
		spec[chain] = verdict
	}
	return spec, nil
}

func writeJSONL(path string, spec model.SpecRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	for chain, verdict := range spec {
		line, err := json.Marshal(map[string]string{chain: string(verdict)})
		if err != nil {
			return err
		}
		if _, err := f.Write(append(line, '\n')); err != nil {
			return err
		}
	}
	return nil
}
