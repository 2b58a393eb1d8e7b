// Package model defines the data types that flow between pipeline stages:
// usage records emitted by the tracker, specifications returned by the LLM,
// the concrete predicates handed to the structural engine, and the flows
// parsed back out of a SARIF report.
package model

import "fmt"

// NodeType identifies what kind of syntactic position a UsageRecord observed.
type NodeType string

const (
	NodeCall           NodeType = "Call"
	NodeAttribute      NodeType = "Attribute"
	NodeParam          NodeType = "param"
	NodeArg            NodeType = "arg"
	NodeArgStarred     NodeType = "arg_starred"
	NodeKwarg          NodeType = "kwarg"
	NodeKwargDoubleStar NodeType = "kwarg_doublestar"
)

// BuiltinPackage is the synthetic package/chain root used for identifiers
// that resolve to a Python builtin rather than a tracked import.
const BuiltinPackage = "built_in"

// UsageRecord is the primary currency of the pipeline: one normalized
// observation of a tracked name being called, read, bound as a parameter, or
// passed as an argument or keyword.
type UsageRecord struct {
	File    string   `json:"file"`
	Lineno  int      `json:"lineno"`
	Col     int      `json:"col"`
	Type    NodeType `json:"node_type"`
	Chain   []string `json:"chain"`
	Package string   `json:"package"`
	Code    string   `json:"code"`
	Tags    []string `json:"tags"`

	CallID int `json:"call_id,omitempty"`

	ArgPos    *int     `json:"arg_pos,omitempty"`
	KwName    *string  `json:"kw_name,omitempty"`
	ExprChain []string `json:"expr_chain,omitempty"`

	Name string `json:"name,omitempty"`
}

// ChainText is the space-joined form of Chain, used as the key exchanged
// with the LLM and stored in a SpecRecord.
func (r UsageRecord) ChainText() string {
	return joinChain(r.Chain)
}

// ExprChainText is the space-joined form of ExprChain.
func (r UsageRecord) ExprChainText() string {
	return joinChain(r.ExprChain)
}

func joinChain(chain []string) string {
	out := ""
	for i, c := range chain {
		if i > 0 {
			out += " "
		}
		out += c
	}
	return out
}

// Verdict is the classification an LLM assigns to a chain.
type Verdict string

const (
	VerdictSource Verdict = "source"
	VerdictSink   Verdict = "sink"
	VerdictNone   Verdict = "none"
)

// SpecRecord maps a chain's text form to its classification. Spec records
// are keyed identically to the prompt they were classified from, so they can
// be looked up directly by UsageRecord.ChainText.
type SpecRecord map[string]Verdict

// Merge folds other into r, with other's entries taking precedence on key
// collision (used to union per-package LLM responses into one table).
func (r SpecRecord) Merge(other SpecRecord) {
	for k, v := range other {
		r[k] = v
	}
}

// PredicateKind distinguishes the shape of a concrete predicate fragment.
type PredicateKind string

const (
	PredicateCall      PredicateKind = "Call"
	PredicateAttribute PredicateKind = "Attribute"
	PredicateParam     PredicateKind = "param"
	PredicateArg       PredicateKind = "arg"
)

// SourceFragment is one concrete location contributing to the source
// predicate: a Call, an Attribute read, or a parameter binding.
type SourceFragment struct {
	File string
	Line int
	Name string
	Kind PredicateKind
}

// SinkFragment is one concrete location contributing to the sink predicate:
// a Call, or an argument expression back-referencing its owning call.
type SinkFragment struct {
	File string
	Line int
	Name string
	Kind PredicateKind

	// Fields populated only for Kind == PredicateArg.
	CallLine int
	CallName string
	ArgPos   int
}

// Location is one physical position inside a SARIF thread-flow.
type Location struct {
	URI       string
	StartLine int
	EndLine   int
}

func (l Location) String() string {
	return fmt.Sprintf("%s:%d", l.URI, l.StartLine)
}

// Flow is a reconstructed source-to-sink path pulled out of one SARIF
// codeFlow's threadFlow locations.
type Flow struct {
	ResultIndex int
	FlowIndex   int
	Locations   []Location
}

// Source returns the first location of the flow.
func (f Flow) Source() Location {
	return f.Locations[0]
}

// Sink returns the last location of the flow.
func (f Flow) Sink() Location {
	return f.Locations[len(f.Locations)-1]
}

// Steps returns the interior locations, excluding source and sink.
func (f Flow) Steps() []Location {
	if len(f.Locations) <= 2 {
		return nil
	}
	return f.Locations[1 : len(f.Locations)-1]
}

// Judgement is the LLM's triage verdict for one flow.
type Judgement struct {
	FlowIndex int    `json:"-"`
	Verdict   string `json:"judgement"`
	Reason    string `json:"reason"`
}

// Vulnerable reports whether this judgement keeps the flow. Per the triage
// contract only an exact "yes" keeps a flow; "no", "none", and anything
// unparseable all drop it.
func (j Judgement) Vulnerable() bool {
	return j.Verdict == "yes"
}

// Origin is one line of package_analysis/origin.jsonl.
type Origin struct {
	Type    string   `json:"type"` // "internal" | "external"
	Imports []string `json:"imports"`
}
