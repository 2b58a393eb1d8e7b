// Package origin classifies every top-level import name observed anywhere in
// a project as resolving to the project itself ("internal") or to a
// third-party/stdlib package ("external").
package origin

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/taintpilot/taintpilot/internal/model"
)

// Classifier holds the internal module set for one project root.
type Classifier struct {
	root     string
	internal map[string]bool
}

// New enumerates every top-level directory or first path segment of every
// .py file under root to build the internal module set (4.2 step 1).
func New(root string) (*Classifier, error) {
	internal := map[string]bool{}
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if e.IsDir() {
			internal[name] = true
			continue
		}
		if strings.HasSuffix(name, ".py") {
			internal[strings.TrimSuffix(name, ".py")] = true
		}
	}
	return &Classifier{root: root, internal: internal}, nil
}

// Classify decides internal/external for one top-level import name. relative
// marks a `from . import x` style import, which is always internal (4.2
// step 5) regardless of the resolution below.
func (c *Classifier) Classify(topName string, relative bool) bool {
	if relative {
		return true
	}
	if c.internal[topName] {
		return true
	}
	return c.resolvesUnderRoot(topName)
}

// resolvesUnderRoot emulates "resolve the module through the host's module
// resolver; if resolution returns a file located under the project root,
// classify internal" (4.2 step 4) by looking for a same-named module or
// package directory anywhere under the project root.
func (c *Classifier) resolvesUnderRoot(topName string) bool {
	found := false
	_ = filepath.WalkDir(c.root, func(path string, d os.DirEntry, err error) error {
		if err != nil || found {
			return nil
		}
		base := d.Name()
		if d.IsDir() {
			if base == topName {
				found = true
			}
			return nil
		}
		if strings.TrimSuffix(base, ".py") == topName {
			found = true
		}
		return nil
	})
	return found
}

// Result classifies every observed top-level import name from the project's
// usage records (whose Package field already carries the top-level name,
// except for built_in records, which are skipped: a builtin is neither
// internal nor external project code).
func (c *Classifier) Result(records []model.UsageRecord, relativeNames map[string]bool) (internalOrigin, externalOrigin model.Origin) {
	seen := map[string]bool{}
	var internalNames, externalNames []string
	for _, r := range records {
		top := r.Package
		if top == "" || top == model.BuiltinPackage || seen[top] {
			continue
		}
		seen[top] = true
		if c.Classify(top, relativeNames[top]) {
			internalNames = append(internalNames, top)
		} else {
			externalNames = append(externalNames, top)
		}
	}
	sort.Strings(internalNames)
	sort.Strings(externalNames)
	return model.Origin{Type: "internal", Imports: uniq(internalNames)},
		model.Origin{Type: "external", Imports: uniq(externalNames)}
}

// FilterExternal drops every record whose package was classified internal,
// leaving only usages of third-party and stdlib packages to feed the
// specification synthesizer.
func FilterExternal(records []model.UsageRecord, internalOrigin model.Origin) []model.UsageRecord {
	internal := map[string]bool{}
	for _, n := range internalOrigin.Imports {
		internal[n] = true
	}
	var out []model.UsageRecord
	for _, r := range records {
		if internal[r.Package] {
			continue
		}
		out = append(out, r)
	}
	return out
}

func uniq(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
