// Package specsynth implements the Specification Synthesizer: it groups
// UsageRecords by package, builds per-package prompts, dispatches them to an
// LLM, parses source/sink/none classifications, and materializes the
// predicate files the structural engine consumes.
package specsynth

import (
	"fmt"
	"strings"

	"github.com/taintpilot/taintpilot/internal/model"
)

const usageSystemPrompt = `You are a security research assistant classifying Python API usage chains for a static taint analyzer. Respond with a single JSON object only, no prose, no markdown fences. The object's keys must exactly match the chain strings you were given, one entry per chain. Each value must be exactly one of "source", "sink", or "none".`

// BuildPackagePrompt renders the per-package prompt for ordinary (non
// built_in) packages: the target weakness in natural language, followed by
// one unique chain per line, space-joined.
func BuildPackagePrompt(weakness, pkg string, chains []string) string {
	return fmt.Sprintf(`You are reviewing usages of the Python package %q for %s.

Below is every distinct attribute/call chain observed rooted at %q in this project. For each chain, decide whether using it introduces externally-controlled data (a SOURCE), whether passing tainted data into it would cause %s (a SINK), or whether it is neither (NONE).

CHAINS (one per line, space-joined):
%s

Respond with a JSON object mapping each chain string exactly as given to one of "source", "sink", or "none".`,
		pkg, weakness, pkg, weakness, strings.Join(chains, "\n"))
}

// BuildBuiltinPrompt renders the distinct template used for the built_in
// package, which warns the model to classify unfamiliar items as none
// rather than guessing.
func BuildBuiltinPrompt(weakness string, chains []string) string {
	return fmt.Sprintf(`You are reviewing usages of Python BUILTIN functions for %s.

These are calls to names that are not imported from any package — ordinary
builtins like eval, open, or str. Most builtins are NOT sources or sinks. If
a chain names something you do not recognize as security-relevant for %s,
classify it "none" rather than guessing.

CHAINS (one per line, space-joined):
%s

Respond with a JSON object mapping each chain string exactly as given to one of "source", "sink", or "none".`,
		weakness, weakness, strings.Join(chains, "\n"))
}

// SystemPrompt returns the fixed system prompt shared by every usage
// classification request. Requests are single-turn: no conversation history
// carries between packages.
func SystemPrompt() string { return usageSystemPrompt }

// GroupByPackage groups records by Package, preserving first-seen package
// order, and for each package collects its unique chain texts in
// insertion order.
func GroupByPackage(records []model.UsageRecord) (order []string, chains map[string][]string) {
	chains = map[string][]string{}
	seen := map[string]map[string]bool{}
	for _, r := range records {
		pkg := r.Package
		if pkg == "" {
			continue
		}
		text := r.ChainText()
		if text == "" {
			continue
		}
		if _, ok := chains[pkg]; !ok {
			order = append(order, pkg)
			seen[pkg] = map[string]bool{}
		}
		if !seen[pkg][text] {
			seen[pkg][text] = true
			chains[pkg] = append(chains[pkg], text)
		}
	}
	return order, chains
}
