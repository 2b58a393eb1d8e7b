package siut

import (
	sitter "github.com/smacker/go-tree-sitter"
)

// extractChain computes the purely syntactic dotted chain of a node: for
// `a.b.c` it is [a,b,c], for `a.b.c()` it is the same (the callee's chain),
// for a bare name `x` it is [x]. Chains only start at identifier nodes;
// anything rooted in a subscript, a call returning an anonymous value, a
// literal, or a comprehension yields nil.
func extractChain(node *sitter.Node, src []byte) []string {
	if node == nil {
		return nil
	}
	switch node.Type() {
	case "identifier":
		return []string{node.Content(src)}
	case "attribute":
		object := node.ChildByFieldName("object")
		attr := node.ChildByFieldName("attribute")
		base := extractChain(object, src)
		if base == nil || attr == nil {
			return nil
		}
		return append(append([]string{}, base...), attr.Content(src))
	case "call":
		return extractChain(node.ChildByFieldName("function"), src)
	case "parenthesized_expression":
		return extractChain(firstNamedChild(node), src)
	default:
		return nil
	}
}

func firstNamedChild(node *sitter.Node) *sitter.Node {
	if node == nil || node.NamedChildCount() == 0 {
		return nil
	}
	return node.NamedChild(0)
}

func dottedNameText(node *sitter.Node, src []byte) string {
	if node == nil {
		return ""
	}
	out := ""
	for i := 0; i < int(node.NamedChildCount()); i++ {
		if i > 0 {
			out += "."
		}
		out += node.NamedChild(i).Content(src)
	}
	if out == "" {
		return node.Content(src)
	}
	return out
}
