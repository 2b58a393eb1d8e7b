package specsynth

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/taintpilot/taintpilot/internal/model"
)

// Filter implements 4.3 step 3: every UsageRecord is looked up by its
// space-joined chain in the reconciled specification. Chains labeled source
// become sources, sink become sinks, anything else (including missing keys,
// already normalized to "none" by parseUsageResponse) is dropped.
func Filter(records []model.UsageRecord, spec model.SpecRecord) (sources, sinks []model.UsageRecord) {
	for _, r := range records {
		switch spec[r.ChainText()] {
		case model.VerdictSource:
			sources = append(sources, r)
		case model.VerdictSink:
			sinks = append(sinks, r)
		}
	}
	return sources, sinks
}

// escapeWildcard escapes the characters that are wildcards in the
// structural engine's suffix-match predicate (`%` and `_`), per the writer
// obligation in 4.3 step 4.
func escapeWildcard(path string) string {
	path = filepath.ToSlash(path)
	r := strings.NewReplacer("%", "\\%", "_", "\\_")
	return r.Replace(path)
}

func sourceFragments(sources []model.UsageRecord) []model.SourceFragment {
	var out []model.SourceFragment
	for _, r := range sources {
		name := r.Chain[len(r.Chain)-1]
		switch r.Type {
		case model.NodeCall:
			out = append(out, model.SourceFragment{File: r.File, Line: r.Lineno, Name: name, Kind: model.PredicateCall})
		case model.NodeAttribute:
			out = append(out, model.SourceFragment{File: r.File, Line: r.Lineno, Name: name, Kind: model.PredicateAttribute})
		case model.NodeParam:
			out = append(out, model.SourceFragment{File: r.File, Line: r.Lineno, Name: r.Name, Kind: model.PredicateParam})
		}
	}
	return out
}

func sinkFragments(sinks []model.UsageRecord) []model.SinkFragment {
	var out []model.SinkFragment
	byCallID := map[int]model.UsageRecord{}
	for _, r := range sinks {
		if r.Type == model.NodeCall {
			byCallID[r.CallID] = r
		}
	}
	for _, r := range sinks {
		switch r.Type {
		case model.NodeCall:
			name := r.Chain[len(r.Chain)-1]
			out = append(out, model.SinkFragment{File: r.File, Line: r.Lineno, Name: name, Kind: model.PredicateCall})
		case model.NodeArg, model.NodeArgStarred, model.NodeKwarg, model.NodeKwargDoubleStar:
			call, ok := byCallID[r.CallID]
			pos := 0
			if r.ArgPos != nil {
				pos = *r.ArgPos
			}
			callName := ""
			if ok {
				callName = call.Chain[len(call.Chain)-1]
			}
			out = append(out, model.SinkFragment{
				File: r.File, Line: r.Lineno, Kind: model.PredicateArg,
				CallLine: call.Lineno, CallName: callName, ArgPos: pos,
			})
		}
	}
	return out
}

// WriteSourcesPredicate renders TestSources.qll: three disjoint predicates
// matching Call sites, Attribute reads, and parameter definitions. An empty
// fragment list reduces to a tautologically-false disjunct so
// downstream parsing never fails on an empty predicate body.
func WriteSourcesPredicate(sources []model.UsageRecord) string {
	frags := sourceFragments(sources)
	var calls, attrs, params []model.SourceFragment
	for _, f := range frags {
		switch f.Kind {
		case model.PredicateCall:
			calls = append(calls, f)
		case model.PredicateAttribute:
			attrs = append(attrs, f)
		case model.PredicateParam:
			params = append(params, f)
		}
	}

	var b strings.Builder
	fmt.Fprintln(&b, "predicate isSourceCall(Call call) {")
	fmt.Fprint(&b, sourceDisjuncts(calls, "call"))
	fmt.Fprintln(&b, "}")
	fmt.Fprintln(&b)
	fmt.Fprintln(&b, "predicate isSourceAttribute(Attribute attr) {")
	fmt.Fprint(&b, sourceDisjuncts(attrs, "attr"))
	fmt.Fprintln(&b, "}")
	fmt.Fprintln(&b)
	fmt.Fprintln(&b, "predicate isSourceParam(Parameter param) {")
	fmt.Fprint(&b, paramDisjuncts(params))
	fmt.Fprintln(&b, "}")
	return b.String()
}

func sourceDisjuncts(frags []model.SourceFragment, varName string) string {
	if len(frags) == 0 {
		return "  1 = 0\n"
	}
	var lines []string
	for _, f := range frags {
		lines = append(lines, fmt.Sprintf(
			"  (%s.getLocation().getFile().getAbsolutePath().matches(\"%%%s\") and %s.getLocation().getStartLine() = %d and %s.getTargetName() = \"%s\")",
			varName, escapeWildcard(f.File), varName, f.Line, varName, f.Name))
	}
	return "  " + strings.Join(lines, "\n  or\n") + "\n"
}

func paramDisjuncts(frags []model.SourceFragment) string {
	if len(frags) == 0 {
		return "  1 = 0\n"
	}
	var lines []string
	for _, f := range frags {
		lines = append(lines, fmt.Sprintf(
			"  (param.getLocation().getFile().getAbsolutePath().matches(\"%%%s\") and param.getLocation().getStartLine() = %d and param.getName() = \"%s\")",
			escapeWildcard(f.File), f.Line, f.Name))
	}
	return "  " + strings.Join(lines, "\n  or\n") + "\n"
}

// WriteSinksPredicate renders TestSinks.qll: a Call-site predicate and an
// argument-expression predicate that cross-references its owning call via
// call_id, binding the argument's own line plus its position within the
// named call at a specific line.
func WriteSinksPredicate(sinks []model.UsageRecord) string {
	frags := sinkFragments(sinks)
	var calls, args []model.SinkFragment
	for _, f := range frags {
		if f.Kind == model.PredicateCall {
			calls = append(calls, f)
		} else {
			args = append(args, f)
		}
	}

	var b strings.Builder
	fmt.Fprintln(&b, "predicate isSinkCall(Call call) {")
	fmt.Fprint(&b, sinkCallDisjuncts(calls))
	fmt.Fprintln(&b, "}")
	fmt.Fprintln(&b)
	fmt.Fprintln(&b, "predicate isSinkArg(Expr arg) {")
	fmt.Fprint(&b, sinkArgDisjuncts(args))
	fmt.Fprintln(&b, "}")
	return b.String()
}

func sinkCallDisjuncts(frags []model.SinkFragment) string {
	if len(frags) == 0 {
		return "  1 = 0\n"
	}
	var lines []string
	for _, f := range frags {
		lines = append(lines, fmt.Sprintf(
			"  (call.getLocation().getFile().getAbsolutePath().matches(\"%%%s\") and call.getLocation().getStartLine() = %d and call.getTargetName() = \"%s\")",
			escapeWildcard(f.File), f.Line, f.Name))
	}
	return "  " + strings.Join(lines, "\n  or\n") + "\n"
}

func sinkArgDisjuncts(frags []model.SinkFragment) string {
	if len(frags) == 0 {
		return "  1 = 0\n"
	}
	var lines []string
	for _, f := range frags {
		lines = append(lines, fmt.Sprintf(
			"  (arg.getLocation().getFile().getAbsolutePath().matches(\"%%%s\") and arg.getLocation().getStartLine() = %d and exists(Call c | c.getTargetName() = \"%s\" and c.getLocation().getStartLine() = %d and arg.getArgumentPosition(c) = %d))",
			escapeWildcard(f.File), f.Line, f.CallName, f.CallLine, f.ArgPos))
	}
	return "  " + strings.Join(lines, "\n  or\n") + "\n"
}
