package epic

import (
	"regexp"
	"slices"
)

// binding points from a condition key back to one member of a reducer.
// A reducer with several conditions on the same key owns several bindings.
type binding struct {
	r      *reducer
	slot   int
	member int
}

// patternBucket holds the bindings of one wildcard key.
type patternBucket struct {
	source   string
	re       *regexp.Regexp
	bindings []binding
}

// registry indexes reducers (or listeners) by condition key.
//
// Exact keys keep bindings in registration order. Wildcard keys are kept
// in the order their first binding was registered, and all bindings of one
// key are visited before the next key.
type registry struct {
	exact    map[string][]binding
	patterns []*patternBucket
}

func newRegistry() *registry {
	return &registry{exact: make(map[string][]binding)}
}

func (g *registry) add(r *reducer) {
	for si, s := range r.slots {
		for mi, m := range s.members {
			b := binding{r: r, slot: si, member: mi}
			if m.pattern == nil {
				g.exact[m.typ] = append(g.exact[m.typ], b)
				continue
			}
			g.bucket(m).bindings = append(g.bucket(m).bindings, b)
		}
	}
}

func (g *registry) bucket(m *member) *patternBucket {
	for _, pb := range g.patterns {
		if pb.source == m.typ {
			return pb
		}
	}
	pb := &patternBucket{source: m.typ, re: m.pattern}
	g.patterns = append(g.patterns, pb)
	return pb
}

func (g *registry) remove(r *reducer) {
	owned := func(b binding) bool { return b.r == r }
	for key, bs := range g.exact {
		bs = slices.DeleteFunc(bs, owned)
		if len(bs) == 0 {
			delete(g.exact, key)
			continue
		}
		g.exact[key] = bs
	}
	for _, pb := range g.patterns {
		pb.bindings = slices.DeleteFunc(pb.bindings, owned)
	}
	g.patterns = slices.DeleteFunc(g.patterns, func(pb *patternBucket) bool {
		return len(pb.bindings) == 0
	})
}

// lookup returns a snapshot of the bindings interested in actionType:
// exact bindings first, then every matching wildcard bucket. Without
// patterns a wildcard key is a literal name and only matches itself.
func (g *registry) lookup(actionType string, withPatterns bool) []binding {
	out := slices.Clone(g.exact[actionType])
	for _, pb := range g.patterns {
		matched := pb.source == actionType
		if withPatterns {
			matched = pb.re.MatchString(actionType)
		}
		if matched {
			out = append(out, pb.bindings...)
		}
	}
	return out
}

// bound returns the distinct reducers registered under key, which may be
// an exact type or a wildcard source.
func (g *registry) bound(key string) []*reducer {
	var bs []binding
	if b, ok := g.exact[key]; ok {
		bs = b
	}
	for _, pb := range g.patterns {
		if pb.source == key {
			bs = append(bs, pb.bindings...)
		}
	}

	var out []*reducer
	for _, b := range bs {
		if !slices.Contains(out, b.r) {
			out = append(out, b.r)
		}
	}
	return out
}
