package siut

// frame holds one scope's bindings: env is variable name to the set of
// package tags that may reach it, projectChains is variable name to the
// list of dotted chains that name may represent. A function's frame is
// seeded from the module frame at entry (4.1 "Scope semantics"); nested
// functions likewise seed from the module frame, not their lexical parent.
type frame struct {
	env           map[string][]string
	projectChains map[string][][]string
}

func newFrame() *frame {
	return &frame{env: map[string][]string{}, projectChains: map[string][][]string{}}
}

func (f *frame) copy() *frame {
	nf := newFrame()
	for k, v := range f.env {
		nf.env[k] = append([]string{}, v...)
	}
	for k, v := range f.projectChains {
		chains := make([][]string, len(v))
		for i, c := range v {
			chains[i] = append([]string{}, c...)
		}
		nf.projectChains[k] = chains
	}
	return nf
}

func (f *frame) clear(name string) {
	delete(f.env, name)
	delete(f.projectChains, name)
}

func (f *frame) set(name string, tags []string, chains [][]string) {
	f.env[name] = dedupStrings(tags)
	f.projectChains[name] = chains
}

func dedupStrings(in []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func rootsOf(chains [][]string) []string {
	var tags []string
	for _, c := range chains {
		if len(c) > 0 {
			tags = append(tags, c[0])
		}
	}
	return dedupStrings(tags)
}

// resolve implements the tie-break rule (4.1): when a base name exists both
// in project_chains and import_chains, the project binding wins. It also
// implements the self-rooted-chain rule: when a project chain's root
// coincides with the base name itself, the effective chain used for
// suffixing is just [name], not the stored (longer) chain, so later
// concatenation doesn't duplicate the terminal token.
func (t *Tracker) resolve(name string) (chains [][]string, tags []string, tracked bool) {
	top := t.frames[len(t.frames)-1]
	if pc, ok := top.projectChains[name]; ok {
		effective := make([][]string, len(pc))
		for i, c := range pc {
			if len(c) > 0 && c[0] == name {
				effective[i] = []string{name}
			} else {
				effective[i] = c
			}
		}
		tg := top.env[name]
		if len(tg) == 0 {
			tg = rootsOf(effective)
		}
		return effective, tg, true
	}
	if tg, ok := top.env[name]; ok {
		return nil, tg, true
	}
	if ic, ok := t.importChains[name]; ok {
		return ic, rootsOf(ic), true
	}
	return nil, nil, false
}
