// Package triage implements the Flow Triager: it parses a SARIF dataflow
// report, reconstructs a readable narrative per flow by reading the
// project's source files, asks the model to judge each flow, and rewrites
// the SARIF keeping only the flows judged vulnerable.
//
// SARIF documents are kept mostly as raw JSON (map[string]json.RawMessage)
// rather than decoded into a full typed model. The only fields this package
// needs to understand are runs[].results[].codeFlows[].threadFlows[] and
// their locations; everything else in the document is round-tripped
// untouched, which is what keeps re-running the triager on an
// already-filtered SARIF idempotent and honors the rule that an
// already-empty threadFlows is preserved rather than removed.
package triage

import (
	"encoding/json"
	"fmt"

	"github.com/taintpilot/taintpilot/internal/model"
)

type rawObj = map[string]json.RawMessage

// Document is a parsed SARIF report.
type Document struct {
	raw  rawObj
	runs []runDoc
}

type runDoc struct {
	raw     rawObj
	results []resultDoc
}

type resultDoc struct {
	raw       rawObj
	codeFlows []codeFlowDoc
}

type codeFlowDoc struct {
	raw         rawObj
	threadFlows []threadFlowDoc
}

type threadFlowDoc struct {
	raw       rawObj
	locations []physicalLoc
}

type physicalLoc struct {
	URI       string
	StartLine int
	EndLine   int
}

type threadFlowLocationWire struct {
	Location struct {
		PhysicalLocation struct {
			ArtifactLocation struct {
				URI string `json:"uri"`
			} `json:"artifactLocation"`
			Region struct {
				StartLine int `json:"startLine"`
				EndLine   int `json:"endLine"`
			} `json:"region"`
		} `json:"physicalLocation"`
	} `json:"location"`
}

// Parse decodes raw SARIF bytes. A malformed document is fatal for the
// triager alone; it does not abort the rest of the pipeline.
func Parse(data []byte) (*Document, error) {
	doc := &Document{}
	if err := json.Unmarshal(data, &doc.raw); err != nil {
		return nil, fmt.Errorf("triage: malformed SARIF: %w", err)
	}

	runsRaw, ok := doc.raw["runs"]
	if !ok {
		return nil, fmt.Errorf("triage: malformed SARIF: no runs")
	}
	var rawRuns []rawObj
	if err := json.Unmarshal(runsRaw, &rawRuns); err != nil {
		return nil, fmt.Errorf("triage: malformed SARIF runs: %w", err)
	}

	for _, rr := range rawRuns {
		run := runDoc{raw: rr}
		if resultsRaw, ok := rr["results"]; ok {
			var rawResults []rawObj
			if err := json.Unmarshal(resultsRaw, &rawResults); err != nil {
				return nil, fmt.Errorf("triage: malformed SARIF results: %w", err)
			}
			for _, rres := range rawResults {
				result := resultDoc{raw: rres}
				if cfRaw, ok := rres["codeFlows"]; ok {
					var rawCF []rawObj
					if err := json.Unmarshal(cfRaw, &rawCF); err != nil {
						return nil, fmt.Errorf("triage: malformed SARIF codeFlows: %w", err)
					}
					for _, rcf := range rawCF {
						cf := codeFlowDoc{raw: rcf}
						if tfRaw, ok := rcf["threadFlows"]; ok {
							var rawTF []rawObj
							if err := json.Unmarshal(tfRaw, &rawTF); err != nil {
								return nil, fmt.Errorf("triage: malformed SARIF threadFlows: %w", err)
							}
							for _, rtf := range rawTF {
								tf := threadFlowDoc{raw: rtf, locations: parseThreadFlowLocations(rtf)}
								cf.threadFlows = append(cf.threadFlows, tf)
							}
						}
						result.codeFlows = append(result.codeFlows, cf)
					}
				}
				run.results = append(run.results, result)
			}
		}
		doc.runs = append(doc.runs, run)
	}
	return doc, nil
}

func parseThreadFlowLocations(rtf rawObj) []physicalLoc {
	locRaw, ok := rtf["locations"]
	if !ok {
		return nil
	}
	var wire []threadFlowLocationWire
	if err := json.Unmarshal(locRaw, &wire); err != nil {
		return nil
	}
	out := make([]physicalLoc, len(wire))
	for i, w := range wire {
		out[i] = physicalLoc{
			URI:       w.Location.PhysicalLocation.ArtifactLocation.URI,
			StartLine: w.Location.PhysicalLocation.Region.StartLine,
			EndLine:   w.Location.PhysicalLocation.Region.EndLine,
		}
	}
	return out
}

// flowRef locates one threadFlow in the document's run/result/codeFlow/
// threadFlow nesting, so Rewrite can map a flat flow index back to it.
type flowRef struct {
	run, result, codeFlow, thread int
}

// Flows flattens every non-empty threadFlow in the document into a Flow, in
// document order, alongside the flowRef needed to rewrite it later.
func (d *Document) Flows() ([]model.Flow, []flowRef) {
	var flows []model.Flow
	var refs []flowRef
	n := 0
	for ri, run := range d.runs {
		for rj, result := range run.results {
			for ci, cf := range result.codeFlows {
				for ti, tf := range cf.threadFlows {
					if len(tf.locations) == 0 {
						continue
					}
					locs := make([]model.Location, len(tf.locations))
					for i, l := range tf.locations {
						locs[i] = model.Location{URI: l.URI, StartLine: l.StartLine, EndLine: l.EndLine}
					}
					flows = append(flows, model.Flow{ResultIndex: rj, FlowIndex: n, Locations: locs})
					refs = append(refs, flowRef{run: ri, result: rj, codeFlow: ci, thread: ti})
					n++
				}
			}
		}
	}
	return flows, refs
}

// Rewrite returns a new SARIF document containing, for each codeFlow, only
// the threadFlows whose flat flow index is in kept. CodeFlows whose
// threadFlows all drop out are kept with an empty threadFlows array rather
// than removed.
func (d *Document) Rewrite(kept map[int]bool, refs []flowRef) ([]byte, error) {
	keepSet := map[[4]int]bool{}
	for i, ref := range refs {
		if kept[i] {
			keepSet[[4]int{ref.run, ref.result, ref.codeFlow, ref.thread}] = true
		}
	}

	var outRuns []rawObj
	for ri, run := range d.runs {
		var outResults []rawObj
		for rj, result := range run.results {
			outResult := cloneRaw(result.raw)
			if len(result.codeFlows) > 0 {
				var outCFs []rawObj
				for ci, cf := range result.codeFlows {
					outCF := cloneRaw(cf.raw)
					keptTF := []rawObj{}
					for ti, tf := range cf.threadFlows {
						if keepSet[[4]int{ri, rj, ci, ti}] {
							keptTF = append(keptTF, tf.raw)
						}
					}
					tfBytes, err := json.Marshal(keptTF)
					if err != nil {
						return nil, err
					}
					outCF["threadFlows"] = tfBytes
					outCFs = append(outCFs, outCF)
				}
				cfBytes, err := json.Marshal(outCFs)
				if err != nil {
					return nil, err
				}
				outResult["codeFlows"] = cfBytes
			}
			outResults = append(outResults, outResult)
		}
		resultsBytes, err := json.Marshal(outResults)
		if err != nil {
			return nil, err
		}
		outRun := cloneRaw(run.raw)
		outRun["results"] = resultsBytes
		outRuns = append(outRuns, outRun)
	}

	runsBytes, err := json.Marshal(outRuns)
	if err != nil {
		return nil, err
	}
	outDoc := cloneRaw(d.raw)
	outDoc["runs"] = runsBytes
	return json.MarshalIndent(outDoc, "", "  ")
}

func cloneRaw(m rawObj) rawObj {
	out := make(rawObj, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
