// Package siut implements the Symbolic Import/Use Tracker: an AST walk over
// a single Python source file that propagates "where did this value
// originate?" tags and dotted attribute chains across imports, aliases,
// assignments, attribute access, calls, boolean short-circuits, decorator-
// bound parameters, and wrapper functions, emitting one normalized
// UsageRecord per observed call, attribute read, parameter, argument, or
// keyword.
package siut

import (
	"context"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/taintpilot/taintpilot/internal/model"
)

// Tracker walks one file at a time. It is not safe for concurrent use; the
// orchestrator's analyze stage creates one Tracker and reuses it across
// files sequentially.
type Tracker struct {
	file  string
	src   []byte
	lines []string

	frames       []*frame
	importChains map[string][][]string
	callCounter  int

	records  []model.UsageRecord
	relative map[string]bool
}

// NewTracker returns a fresh, reusable Tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Track parses src as Python and walks it, returning the UsageRecords
// observed in AST traversal order. file is the project-relative,
// slash-normalized path stored on every emitted record.
func (t *Tracker) Track(file string, src []byte) ([]model.UsageRecord, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())
	defer parser.Close()

	tree, err := parser.ParseCtx(context.Background(), nil, src)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	t.file = file
	t.src = src
	t.lines = strings.Split(string(src), "\n")
	t.frames = []*frame{newFrame()}
	t.importChains = map[string][][]string{}
	t.callCounter = 0
	t.records = nil
	t.relative = map[string]bool{}

	t.walkBlock(tree.RootNode())
	return t.records, nil
}

// RelativeImports returns the top-level bound names that were imported via
// a relative import (`from . import x`) anywhere in the last Track call.
// The Package Origin Classifier treats these as always-internal regardless
// of resolution (4.2 step 5).
func (t *Tracker) RelativeImports() map[string]bool {
	return t.relative
}

func (t *Tracker) pushFrame() {
	t.frames = append(t.frames, t.frames[0].copy())
}

func (t *Tracker) popFrame() {
	t.frames = t.frames[:len(t.frames)-1]
}

// --- statement level ---

func (t *Tracker) walkBlock(node *sitter.Node) {
	if node == nil {
		return
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		t.handleStatement(node.NamedChild(i))
	}
}

// walkCompound descends into control-flow statements (if/for/while/try/with)
// looking for nested blocks, without re-entering function/class handling.
func (t *Tracker) walkCompound(node *sitter.Node) {
	for i := 0; i < int(node.ChildCount()); i++ {
		c := node.Child(i)
		if c == nil {
			continue
		}
		switch c.Type() {
		case "block":
			t.walkBlock(c)
		case "function_definition", "class_definition", "decorated_definition":
			t.handleStatement(c)
		default:
			if c.NamedChildCount() > 0 {
				t.walkCompound(c)
			}
		}
	}
}

func (t *Tracker) handleStatement(node *sitter.Node) {
	if node == nil {
		return
	}
	switch node.Type() {
	case "import_statement":
		t.handleImport(node)
	case "import_from_statement":
		t.handleImportFrom(node)
	case "expression_statement":
		t.handleExprStatement(firstNamedChild(node))
	case "assignment":
		t.handleAssignment(node)
	case "augmented_assignment":
		t.walkExpr(node.ChildByFieldName("right"))
	case "decorated_definition":
		t.handleDecorated(node)
	case "function_definition":
		t.handleFunctionDef(node, nil)
	case "class_definition":
		t.walkBlock(node.ChildByFieldName("body"))
	case "return_statement":
		t.walkExpr(firstNamedChild(node))
	case "if_statement", "for_statement", "while_statement", "try_statement", "with_statement":
		t.walkCompound(node)
	default:
		// pass/break/continue/raise/global/nonlocal/assert carry no taint
		// state and are not expression positions we track.
	}
}

func (t *Tracker) handleExprStatement(node *sitter.Node) {
	if node == nil {
		return
	}
	if node.Type() == "assignment" {
		t.handleAssignment(node)
		return
	}
	t.walkExpr(node)
}

func (t *Tracker) handleImport(node *sitter.Node) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "dotted_name":
			name := dottedNameText(child, t.src)
			root := firstSegment(name)
			t.importChains[root] = append(t.importChains[root], []string{root})
		case "aliased_import":
			nameNode := child.ChildByFieldName("name")
			aliasNode := child.ChildByFieldName("alias")
			if nameNode == nil || aliasNode == nil {
				continue
			}
			root := firstSegment(dottedNameText(nameNode, t.src))
			alias := aliasNode.Content(t.src)
			t.importChains[alias] = append(t.importChains[alias], []string{root})
		}
	}
}

func (t *Tracker) handleImportFrom(node *sitter.Node) {
	moduleNode := node.ChildByFieldName("module_name")
	relative := moduleNode != nil && moduleNode.Type() == "relative_import"
	moduleName := ""
	if moduleNode != nil && !relative {
		moduleName = dottedNameText(moduleNode, t.src)
	}

	bind := func(bound, importedName string) {
		chain := []string{moduleName, importedName}
		if relative {
			// `from . import x` is always internal; seed its own chain so
			// later uses still resolve, origin classification handles the rest.
			chain = []string{importedName}
			t.relative[importedName] = true
		}
		t.importChains[bound] = append(t.importChains[bound], chain)
	}

	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if child == moduleNode {
			continue
		}
		switch child.Type() {
		case "dotted_name", "identifier":
			name := dottedNameText(child, t.src)
			bind(name, name)
		case "aliased_import":
			nameNode := child.ChildByFieldName("name")
			aliasNode := child.ChildByFieldName("alias")
			if nameNode == nil || aliasNode == nil {
				continue
			}
			name := dottedNameText(nameNode, t.src)
			bind(aliasNode.Content(t.src), name)
		case "wildcard_import":
			// no concrete bound names to seed.
		}
	}
}

func (t *Tracker) handleAssignment(node *sitter.Node) {
	left := node.ChildByFieldName("left")
	right := node.ChildByFieldName("right")

	if right != nil {
		t.walkExpr(right)
	}
	if left == nil || left.Type() != "identifier" {
		return
	}

	name := left.Content(t.src)
	top := t.frames[len(t.frames)-1]
	top.clear(name)

	chains, tags, ok := t.evalRHS(right)
	if ok {
		top.set(name, tags, chains)
	}
}

func (t *Tracker) handleDecorated(node *sitter.Node) {
	var decorators []*sitter.Node
	var def *sitter.Node
	for i := 0; i < int(node.NamedChildCount()); i++ {
		c := node.NamedChild(i)
		if c.Type() == "decorator" {
			decorators = append(decorators, c)
		} else {
			def = c
		}
	}
	if def == nil {
		return
	}
	switch def.Type() {
	case "function_definition":
		t.handleFunctionDef(def, decorators)
	case "class_definition":
		t.walkBlock(def.ChildByFieldName("body"))
	}
}

func (t *Tracker) handleFunctionDef(node *sitter.Node, decorators []*sitter.Node) {
	nameNode := node.ChildByFieldName("name")
	fnName := ""
	if nameNode != nil {
		fnName = nameNode.Content(t.src)
	}

	paramsNode := node.ChildByFieldName("parameters")
	bodyNode := node.ChildByFieldName("body")

	// Wrapper registration belongs to the enclosing scope: it must be
	// visible to calls of fnName made elsewhere at module scope.
	if chain, ok := t.detectWrapper(bodyNode); ok && fnName != "" {
		top := t.frames[len(t.frames)-1]
		top.set(fnName, rootsOf([][]string{chain}), [][]string{chain})
	}

	t.pushFrame()
	defer t.popFrame()

	if len(decorators) > 0 {
		t.seedDecoratorParams(decorators, paramsNode)
	}

	t.walkBlock(bodyNode)
}

func (t *Tracker) seedDecoratorParams(decorators []*sitter.Node, paramsNode *sitter.Node) {
	if paramsNode == nil {
		return
	}
	params := paramIdentifiers(paramsNode)
	for _, dec := range decorators {
		expr := firstNamedChild(dec)
		syn := extractChain(expr, t.src)
		if len(syn) == 0 {
			continue
		}
		base := syn[0]
		suffix := syn[1:]
		chains, tags, tracked := t.resolve(base)
		if !tracked || len(chains) == 0 {
			continue
		}
		decoChain := append(append([]string{}, chains[0]...), suffix...)
		pkg := decoChain[0]
		for _, p := range params {
			name := p.Content(t.src)
			top := t.frames[len(t.frames)-1]
			top.set(name, append(append([]string{}, tags...), pkg), [][]string{decoChain})
			t.emitParam(p, name, decoChain, pkg, tags)
		}
	}
}

func paramIdentifiers(node *sitter.Node) []*sitter.Node {
	var out []*sitter.Node
	for i := 0; i < int(node.NamedChildCount()); i++ {
		c := node.NamedChild(i)
		switch c.Type() {
		case "identifier":
			out = append(out, c)
		case "default_parameter", "typed_default_parameter":
			if n := c.ChildByFieldName("name"); n != nil {
				out = append(out, n)
			}
		case "typed_parameter", "list_splat_pattern", "dictionary_splat_pattern":
			if fc := firstNamedChild(c); fc != nil && fc.Type() == "identifier" {
				out = append(out, fc)
			}
		}
	}
	return out
}

func namedStatements(body *sitter.Node) []*sitter.Node {
	if body == nil {
		return nil
	}
	var out []*sitter.Node
	for i := 0; i < int(body.NamedChildCount()); i++ {
		out = append(out, body.NamedChild(i))
	}
	return out
}

// detectWrapper recognizes a wrapper function: a body that is exactly one
// `return imported_alias` (or attribute/call on one), or one assignment
// followed by a `return` of that same bound name. It returns the chain the
// wrapper should be registered under.
func (t *Tracker) detectWrapper(body *sitter.Node) ([]string, bool) {
	stmts := namedStatements(body)
	switch {
	case len(stmts) == 1 && stmts[0].Type() == "return_statement":
		return t.wrapperChainOf(firstNamedChild(stmts[0]))
	case len(stmts) == 2 && stmts[0].Type() == "assignment" && stmts[1].Type() == "return_statement":
		left := stmts[0].ChildByFieldName("left")
		right := stmts[0].ChildByFieldName("right")
		ret := firstNamedChild(stmts[1])
		if left == nil || left.Type() != "identifier" || ret == nil || ret.Type() != "identifier" {
			return nil, false
		}
		if left.Content(t.src) != ret.Content(t.src) {
			return nil, false
		}
		return t.wrapperChainOf(right)
	default:
		return nil, false
	}
}

func (t *Tracker) wrapperChainOf(expr *sitter.Node) ([]string, bool) {
	if expr == nil {
		return nil, false
	}
	switch expr.Type() {
	case "identifier":
		name := expr.Content(t.src)
		ic, ok := t.importChains[name]
		if !ok || len(ic) == 0 {
			return nil, false
		}
		return ic[0], true
	case "attribute", "call":
		syn := extractChain(expr, t.src)
		if len(syn) == 0 {
			return nil, false
		}
		ic, ok := t.importChains[syn[0]]
		if !ok || len(ic) == 0 {
			return nil, false
		}
		return append(append([]string{}, ic[0]...), syn[1:]...), true
	default:
		return nil, false
	}
}

// --- expression level: RHS state propagation ---

// evalRHS implements 4.1's assignment-propagation rules and returns the
// chains/tags an assignment target should take on, or ok=false if the RHS
// is untracked (in which case the target becomes untracked too).
func (t *Tracker) evalRHS(node *sitter.Node) ([][]string, []string, bool) {
	if node == nil {
		return nil, nil, false
	}
	switch node.Type() {
	case "identifier":
		chains, tags, tracked := t.resolve(node.Content(t.src))
		return chains, tags, tracked
	case "attribute":
		return t.evalBaseSuffix(node)
	case "call":
		return t.evalCallRHS(node)
	case "boolean_operator":
		lc, lt, lok := t.evalRHS(node.ChildByFieldName("left"))
		rc, rt, rok := t.evalRHS(node.ChildByFieldName("right"))
		if !lok && !rok {
			return nil, nil, false
		}
		chains := append(append([][]string{}, lc...), rc...)
		tags := dedupStrings(append(append([]string{}, lt...), rt...))
		return chains, tags, true
	case "parenthesized_expression":
		return t.evalRHS(firstNamedChild(node))
	default:
		return nil, nil, false
	}
}

func (t *Tracker) evalCallRHS(node *sitter.Node) ([][]string, []string, bool) {
	fn := node.ChildByFieldName("function")
	if fn == nil {
		return nil, nil, false
	}
	if fn.Type() != "identifier" {
		return t.evalBaseSuffix(fn)
	}
	name := fn.Content(t.src)
	top := t.frames[len(t.frames)-1]
	if pc, ok := top.projectChains[name]; ok {
		// Tracked project wrapper or rebind: copy chains as-is, never
		// appending the callee's own name.
		tags := top.env[name]
		if len(tags) == 0 {
			tags = rootsOf(pc)
		}
		return pc, tags, true
	}
	if ic, ok := t.importChains[name]; ok {
		// Imported name: the chain already ends with the bound name, so it
		// is used unchanged (never duplicated).
		return ic, rootsOf(ic), true
	}
	return nil, nil, false
}

// evalBaseSuffix resolves an attribute expression, or a call whose callee is
// an attribute expression, by splitting its syntactic chain into a base
// name and a suffix, resolving the base, and appending the suffix.
func (t *Tracker) evalBaseSuffix(node *sitter.Node) ([][]string, []string, bool) {
	syn := extractChain(node, t.src)
	if len(syn) == 0 {
		return nil, nil, false
	}
	base, suffix := syn[0], syn[1:]
	chains, tags, tracked := t.resolve(base)
	if !tracked {
		return nil, nil, false
	}
	if len(chains) == 0 {
		return [][]string{append([]string{base}, suffix...)}, tags, true
	}
	out := make([][]string, len(chains))
	for i, c := range chains {
		out[i] = append(append([]string{}, c...), suffix...)
	}
	return out, tags, true
}

// --- expression level: emission ---

func (t *Tracker) walkExpr(node *sitter.Node) {
	if node == nil {
		return
	}
	switch node.Type() {
	case "call":
		t.handleCallExpr(node)
	case "attribute":
		t.handleAttributeExpr(node)
	case "boolean_operator":
		t.walkExpr(node.ChildByFieldName("left"))
		t.walkExpr(node.ChildByFieldName("right"))
	case "parenthesized_expression":
		t.walkExpr(firstNamedChild(node))
	case "keyword_argument":
		t.walkExpr(node.ChildByFieldName("value"))
	case "conditional_expression":
		t.walkExpr(node.ChildByFieldName("consequence"))
		t.walkExpr(node.ChildByFieldName("alternative"))
	default:
		// literals, subscripts, comprehensions: chains don't start here.
	}
}

func (t *Tracker) handleAttributeExpr(node *sitter.Node) {
	chains, tags, tracked := t.evalBaseSuffix(node)
	if tracked && len(chains) > 0 {
		chain := chains[0]
		t.emit(model.NodeAttribute, node, chain, chain[0], tags)
		return
	}
	syn := extractChain(node, t.src)
	if len(syn) > 0 && isBuiltinModule(syn[0]) {
		chain := append([]string{model.BuiltinPackage}, syn...)
		t.emit(model.NodeAttribute, node, chain, model.BuiltinPackage, []string{model.BuiltinPackage})
	}
}

func (t *Tracker) handleCallExpr(node *sitter.Node) {
	fn := node.ChildByFieldName("function")
	argsNode := node.ChildByFieldName("arguments")

	var chain, tags []string
	tracked := false

	if fn != nil && fn.Type() == "identifier" {
		name := fn.Content(t.src)
		top := t.frames[len(t.frames)-1]
		if pc, ok := top.projectChains[name]; ok && len(pc) > 0 {
			chain = pc[0]
			tags = top.env[name]
			if len(tags) == 0 {
				tags = rootsOf(pc)
			}
			tracked = true
		} else if ic, ok := t.importChains[name]; ok && len(ic) > 0 {
			chain, tags, tracked = ic[0], rootsOf(ic), true
		} else if isBuiltinFunction(name) {
			chain = []string{model.BuiltinPackage, name}
			tags = []string{model.BuiltinPackage}
			tracked = true
		}
	} else if fn != nil {
		if chains, tgs, ok := t.evalBaseSuffix(fn); ok && len(chains) > 0 {
			chain, tags, tracked = chains[0], tgs, true
		} else {
			syn := extractChain(fn, t.src)
			if len(syn) > 0 && isBuiltinModule(syn[0]) {
				chain = append([]string{model.BuiltinPackage}, syn...)
				tags = []string{model.BuiltinPackage}
				tracked = true
			}
		}
	}

	if !tracked {
		t.walkArguments(argsNode, 0, nil, "", nil)
		return
	}

	t.callCounter++
	callID := t.callCounter
	t.emitCall(node, chain, chain[0], tags, callID)
	t.walkArguments(argsNode, callID, chain, chain[0], tags)
}

func (t *Tracker) walkArguments(argsNode *sitter.Node, callID int, chain []string, pkg string, tags []string) {
	if argsNode == nil {
		return
	}
	pos := 0
	for i := 0; i < int(argsNode.NamedChildCount()); i++ {
		child := argsNode.NamedChild(i)
		switch child.Type() {
		case "keyword_argument":
			nameNode := child.ChildByFieldName("name")
			valueNode := child.ChildByFieldName("value")
			if callID != 0 && nameNode != nil {
				kw := nameNode.Content(t.src)
				t.emitArgLike(model.NodeKwarg, child, chain, pkg, tags, callID, nil, &kw, extractChain(valueNode, t.src))
			}
			t.walkExpr(valueNode)
		case "dictionary_splat":
			value := firstNamedChild(child)
			if callID != 0 {
				t.emitArgLike(model.NodeKwargDoubleStar, child, chain, pkg, tags, callID, nil, nil, extractChain(value, t.src))
			}
			t.walkExpr(value)
		case "list_splat":
			value := firstNamedChild(child)
			if callID != 0 {
				p := pos
				t.emitArgLike(model.NodeArgStarred, child, chain, pkg, tags, callID, &p, nil, extractChain(value, t.src))
			}
			pos++
			t.walkExpr(value)
		default:
			if callID != 0 {
				p := pos
				t.emitArgLike(model.NodeArg, child, chain, pkg, tags, callID, &p, nil, extractChain(child, t.src))
			}
			pos++
			t.walkExpr(child)
		}
	}
}

// --- record construction ---

func (t *Tracker) position(node *sitter.Node) (int, int) {
	pt := node.StartPoint()
	return int(pt.Row) + 1, int(pt.Column)
}

func (t *Tracker) codeLine(lineno int) string {
	if lineno < 1 || lineno > len(t.lines) {
		return ""
	}
	return strings.TrimSpace(t.lines[lineno-1])
}

func (t *Tracker) emit(nodeType model.NodeType, node *sitter.Node, chain []string, pkg string, tags []string) {
	t.appendRecord(nodeType, node, chain, pkg, tags, 0, nil, nil, nil, "")
}

func (t *Tracker) emitCall(node *sitter.Node, chain []string, pkg string, tags []string, callID int) {
	t.appendRecord(model.NodeCall, node, chain, pkg, tags, callID, nil, nil, nil, "")
}

func (t *Tracker) emitParam(node *sitter.Node, name string, chain []string, pkg string, tags []string) {
	t.appendRecord(model.NodeParam, node, chain, pkg, tags, 0, nil, nil, nil, name)
}

func (t *Tracker) emitArgLike(nodeType model.NodeType, node *sitter.Node, chain []string, pkg string, tags []string, callID int, argPos *int, kwName *string, exprChain []string) {
	t.appendRecord(nodeType, node, chain, pkg, tags, callID, argPos, kwName, exprChain, "")
}

func (t *Tracker) appendRecord(nodeType model.NodeType, node *sitter.Node, chain []string, pkg string, tags []string, callID int, argPos *int, kwName *string, exprChain []string, name string) {
	line, col := t.position(node)
	t.records = append(t.records, model.UsageRecord{
		File:      t.file,
		Lineno:    line,
		Col:       col,
		Type:      nodeType,
		Chain:     chain,
		Package:   pkg,
		Code:      t.codeLine(line),
		Tags:      dedupStrings(append(append([]string{}, tags...), pkg)),
		CallID:    callID,
		ArgPos:    argPos,
		KwName:    kwName,
		ExprChain: exprChain,
		Name:      name,
	})
}

func firstSegment(dotted string) string {
	if i := strings.IndexByte(dotted, '.'); i >= 0 {
		return dotted[:i]
	}
	return dotted
}
