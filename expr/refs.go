package expr

import "sort"

// References statically extracts the set of context paths that the
// expression x reads.
//
// The query store uses this to decide which descriptors to re-resolve
// when a context field changes: filters are data, not code paths, so
// their dependencies have to be computed from the expression tree
// itself.  The returned paths are sorted and deduplicated.
func References(x interface{}) []string {
	seen := make(map[string]bool)
	collectRefs(x, seen)
	acc := make([]string, 0, len(seen))
	for p := range seen {
		acc = append(acc, p)
	}
	sort.Strings(acc)
	return acc
}

func collectRefs(x interface{}, seen map[string]bool) {
	switch vv := x.(type) {
	case string:
		if sc, path, is := RefShorthand(vv); is && sc == ScopeContext {
			seen[path] = true
		}
	case map[string]interface{}:
		if r, have := vv["ref"]; have {
			if path, is := r.(string); is {
				sc, _ := vv["scope"].(string)
				if sc == "" || sc == ScopeContext {
					seen[path] = true
				}
			}
			return
		}
		// Operator arguments (including switch case tables and
		// find where/return objects) may contain expressions,
		// so descend through everything.  Over-approximating
		// on literal objects is harmless here.
		for _, v := range vv {
			collectRefs(v, seen)
		}
	case []interface{}:
		for _, v := range vv {
			collectRefs(v, seen)
		}
	}
}
