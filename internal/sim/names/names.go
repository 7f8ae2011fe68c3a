// Package names maps the object references used by plans onto scene handles.
package names

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/agnivade/levenshtein"

	"palbridge.ai/internal/sim/engine"
	"palbridge.ai/internal/sim/primerr"
)

// Stage records which lookup produced a match.
type Stage string

const (
	StageInstance Stage = "instance"
	StageAlias    Stage = "alias"
	StageExact    Stage = "exact"
	StageCategory Stage = "category"
)

var indexedRe = regexp.MustCompile(`^(.+)_(\d+)$`)

type Resolver struct {
	objects []engine.ObjectInfo
	byName  map[string]engine.ObjectInfo
	inst    map[string]string
	aliases map[string][]string
}

func NewResolver(objects []engine.ObjectInfo, inst map[string]string, aliases map[string][]string) *Resolver {
	r := &Resolver{
		objects: objects,
		byName:  make(map[string]engine.ObjectInfo, len(objects)),
		inst:    inst,
		aliases: aliases,
	}
	for _, o := range objects {
		if _, dup := r.byName[o.Name]; !dup {
			r.byName[o.Name] = o
		}
	}
	return r
}

// Resolve runs instance map, alias table, exact name and category match in
// that order; the first hit wins.
func (r *Resolver) Resolve(ref string) (engine.ObjectInfo, Stage, error) {
	if ref == "" {
		return engine.ObjectInfo{}, "", primerr.New(primerr.CodeMissingParameter, "resolve", "empty object reference")
	}
	if o, ok := r.viaInstance(ref); ok {
		return o, StageInstance, nil
	}
	if alias, ok := r.pickAlias(ref); ok {
		if o, ok := r.viaInstance(alias); ok {
			return o, StageAlias, nil
		}
		if o, ok := r.byName[alias]; ok {
			return o, StageAlias, nil
		}
	}
	if o, ok := r.byName[ref]; ok {
		return o, StageExact, nil
	}
	if o, ok := r.byCategory(Category(ref)); ok {
		return o, StageCategory, nil
	}
	err := primerr.New(primerr.CodeObjectNotFound, "resolve", "no object matches %q (category %q)", ref, Category(ref))
	if s := r.Suggest(ref, 3); len(s) > 0 {
		err.Msg += "; did you mean " + strings.Join(s, ", ") + "?"
	}
	return engine.ObjectInfo{}, "", err
}

func (r *Resolver) viaInstance(ref string) (engine.ObjectInfo, bool) {
	scene, ok := r.inst[ref]
	if !ok {
		return engine.ObjectInfo{}, false
	}
	o, ok := r.byName[scene]
	return o, ok
}

// pickAlias maps ref through the alias table. "name_N" selects the list entry
// ending in "_N", else entry N-1 clamped into range.
func (r *Resolver) pickAlias(ref string) (string, bool) {
	if len(r.aliases) == 0 {
		return "", false
	}
	if m := indexedRe.FindStringSubmatch(ref); m != nil {
		if list, ok := r.aliases[m[1]]; ok && len(list) > 0 {
			for _, c := range list {
				if strings.HasSuffix(c, "_"+m[2]) {
					return c, true
				}
			}
			n, _ := strconv.Atoi(m[2])
			idx := n - 1
			if idx < 0 {
				idx = 0
			}
			if idx > len(list)-1 {
				idx = len(list) - 1
			}
			return list[idx], true
		}
	}
	if list, ok := r.aliases[ref]; ok && len(list) > 0 {
		return list[0], true
	}
	return "", false
}

func (r *Resolver) byCategory(cat string) (engine.ObjectInfo, bool) {
	if cat == "" {
		return engine.ObjectInfo{}, false
	}
	for _, o := range r.objects {
		if o.Category != "" && strings.EqualFold(o.Category, cat) {
			return o, true
		}
	}
	return engine.ObjectInfo{}, false
}

// Category strips an instance suffix (_3, _*) and a taxonomy suffix
// (.n.01, .v.02) and collapses double underscores.
//
//	can__of__soda.n.01_1 -> can_of_soda
func Category(ref string) string {
	s := ref
	if i := strings.LastIndex(s, "_"); i >= 0 {
		tail := s[i+1:]
		if tail == "*" || isDigits(tail) {
			s = s[:i]
		}
	}
	if i := strings.Index(s, ".n."); i >= 0 {
		s = s[:i]
	} else if i := strings.Index(s, ".v."); i >= 0 {
		s = s[:i]
	}
	return strings.ReplaceAll(s, "__", "_")
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// FindContaining lists scene objects whose name contains pattern, case-insensitively.
func (r *Resolver) FindContaining(pattern string) []engine.ObjectInfo {
	p := strings.ToLower(pattern)
	var out []engine.ObjectInfo
	for _, o := range r.objects {
		if strings.Contains(strings.ToLower(o.Name), p) {
			out = append(out, o)
		}
	}
	return out
}

func (r *Resolver) Objects() []engine.ObjectInfo { return r.objects }

// Suggest returns up to n scene names close to ref by edit distance.
func (r *Resolver) Suggest(ref string, n int) []string {
	type cand struct {
		name string
		d    int
	}
	limit := len(ref) / 3
	if limit < 3 {
		limit = 3
	}
	var cs []cand
	lref := strings.ToLower(ref)
	for _, o := range r.objects {
		d := levenshtein.ComputeDistance(lref, strings.ToLower(o.Name))
		if c := Category(ref); o.Category != "" {
			if dc := levenshtein.ComputeDistance(strings.ToLower(c), strings.ToLower(o.Category)); dc < d {
				d = dc
			}
		}
		if d <= limit {
			cs = append(cs, cand{o.Name, d})
		}
	}
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].d != cs[j].d {
			return cs[i].d < cs[j].d
		}
		return cs[i].name < cs[j].name
	})
	out := make([]string, 0, n)
	for _, c := range cs {
		if len(out) == n {
			break
		}
		out = append(out, c.name)
	}
	return out
}

// MatchPattern reports whether a configured pattern refers to name.
// Patterns match by case-insensitive containment in either direction.
func MatchPattern(name, pattern string) bool {
	if pattern == "" {
		return false
	}
	n, p := strings.ToLower(name), strings.ToLower(pattern)
	return strings.Contains(n, p) || strings.Contains(p, n)
}

// IsStructural reports floor/wall/ceiling/ground style scene geometry.
func IsStructural(name string) bool {
	n := strings.ToLower(name)
	for _, s := range []string{"floor", "wall", "ceiling", "ground"} {
		if strings.Contains(n, s) {
			return true
		}
	}
	return false
}
