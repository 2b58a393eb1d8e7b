package triage

import (
	"fmt"
	"os"
	"strings"

	"github.com/taintpilot/taintpilot/internal/model"
)

// Config controls flow reconstruction.
type Config struct {
	ProjectRoot  string
	ContextLines int // lines of source context read around each location; default 2
	GapLimit     int // max line gap between consecutive steps to stay in one block; default 2
}

func (c Config) withDefaults() Config {
	out := c
	if out.ContextLines <= 0 {
		out.ContextLines = 2
	}
	if out.GapLimit <= 0 {
		out.GapLimit = 2
	}
	return out
}

// Narrative is the reconstructed, readable form of one flow: a source
// snippet, zero or more interior step blocks, and a sink snippet.
type Narrative struct {
	Source        model.Location
	SourceSnippet string
	Steps         []StepBlock
	Sink          model.Location
	SinkSnippet   string
}

// StepBlock is a contiguous run of interior flow steps shown as a single
// snippet: consecutive steps in the same file no more than gap_limit lines
// apart are grouped into one block.
type StepBlock struct {
	URI       string
	StartLine int
	EndLine   int
	Snippet   string
}

// BuildNarrative reconstructs one flow's narrative by reading source
// context off disk. Import-statement lines are filtered out of the
// location list unless doing so would empty it, in which case the
// unfiltered list is used.
func BuildNarrative(flow model.Flow, cfg Config) (*Narrative, error) {
	cfg = cfg.withDefaults()

	locs := flow.Locations
	if len(locs) < 2 {
		return nil, fmt.Errorf("triage: flow %d has fewer than 2 locations", flow.FlowIndex)
	}

	filtered := filterImportLocations(locs, cfg.ProjectRoot)
	if len(filtered) >= 2 {
		locs = filtered
	}

	source := locs[0]
	sink := locs[len(locs)-1]
	interior := locs[1 : len(locs)-1]

	sourceSnippet, err := readSnippet(cfg.ProjectRoot, source, cfg.ContextLines)
	if err != nil {
		return nil, fmt.Errorf("triage: read source %s: %w", source, err)
	}
	sinkSnippet, err := readSnippet(cfg.ProjectRoot, sink, cfg.ContextLines)
	if err != nil {
		return nil, fmt.Errorf("triage: read sink %s: %w", sink, err)
	}

	blocks, err := buildStepBlocks(interior, cfg)
	if err != nil {
		return nil, err
	}

	return &Narrative{
		Source:        source,
		SourceSnippet: sourceSnippet,
		Steps:         blocks,
		Sink:          sink,
		SinkSnippet:   sinkSnippet,
	}, nil
}

func buildStepBlocks(steps []model.Location, cfg Config) ([]StepBlock, error) {
	type group struct {
		uri                string
		start, end, lastRef int
	}
	var groups []group
	for _, s := range steps {
		if len(groups) > 0 {
			last := &groups[len(groups)-1]
			if last.uri == s.URI && s.StartLine-last.lastRef <= cfg.GapLimit {
				if s.StartLine > last.end {
					last.end = s.StartLine
				}
				last.lastRef = s.StartLine
				continue
			}
		}
		groups = append(groups, group{uri: s.URI, start: s.StartLine, end: s.StartLine, lastRef: s.StartLine})
	}

	blocks := make([]StepBlock, 0, len(groups))
	for _, g := range groups {
		loc := model.Location{URI: g.uri, StartLine: g.start, EndLine: g.end}
		snippet, err := readSnippet(cfg.ProjectRoot, loc, cfg.ContextLines)
		if err != nil {
			return nil, fmt.Errorf("triage: read step %s: %w", loc, err)
		}
		blocks = append(blocks, StepBlock{URI: g.uri, StartLine: g.start, EndLine: g.end, Snippet: snippet})
	}
	return blocks, nil
}

func filterImportLocations(locs []model.Location, projectRoot string) []model.Location {
	var out []model.Location
	for _, l := range locs {
		if isImportStatementLine(projectRoot, l) {
			continue
		}
		out = append(out, l)
	}
	return out
}

func isImportStatementLine(projectRoot string, loc model.Location) bool {
	data, err := os.ReadFile(ResolvePath(projectRoot, loc.URI))
	if err != nil {
		return false
	}
	lines := strings.Split(string(data), "\n")
	if loc.StartLine < 1 || loc.StartLine > len(lines) {
		return false
	}
	trimmed := strings.TrimSpace(lines[loc.StartLine-1])
	return strings.HasPrefix(trimmed, "import ") || strings.HasPrefix(trimmed, "from ")
}

func readSnippet(projectRoot string, loc model.Location, contextLines int) (string, error) {
	path := ResolvePath(projectRoot, loc.URI)
	data, err := os.ReadFile(path)
	if err != nil {
		// An unreadable file becomes a marker line so the flow can still be judged.
		return fmt.Sprintf("   ?  <could not read %s: %v>\n", path, err), nil
	}
	lines := strings.Split(string(data), "\n")

	end := loc.EndLine
	if end < loc.StartLine {
		end = loc.StartLine
	}
	start := loc.StartLine - contextLines
	if start < 1 {
		start = 1
	}
	end += contextLines
	if end > len(lines) {
		end = len(lines)
	}

	var b strings.Builder
	for i := start; i <= end; i++ {
		fmt.Fprintf(&b, "%4d  %s\n", i, lines[i-1])
	}
	return b.String(), nil
}

// Prompt renders the narrative into the flow-judgement prompt body: source
// snippet, each step block in order, sink snippet, followed by the
// weakness-specific question.
func (n *Narrative) Prompt(weakness, sanitizerHint string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[SOURCE] %s\n%s\n", n.Source, n.SourceSnippet)
	for i, step := range n.Steps {
		fmt.Fprintf(&b, "[STEP %d] %s:%d\n%s\n", i+1, step.URI, step.StartLine, step.Snippet)
	}
	fmt.Fprintf(&b, "[SINK] %s\n%s\n", n.Sink, n.SinkSnippet)
	fmt.Fprintf(&b, "\nDoes externally-controlled data from the SOURCE reach the SINK above in a way that causes %s? %s\n", weakness, sanitizerHint)
	fmt.Fprint(&b, "Respond with a single JSON object: {\"judgement\": \"yes\"|\"no\", \"reason\": \"...\"}.")
	return b.String()
}
