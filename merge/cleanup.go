package merge

// CleanupIndices returns a copy of v with the "index" key removed from every
// map that is an element of a list.
func CleanupIndices(v any) any {
	switch x := v.(type) {
	case []any:
		ret := make([]any, 0, len(x))
		for _, elem := range x {
			if m, ok := elem.(map[string]any); ok {
				if _, has := m["index"]; has {
					c := make(map[string]any, len(m))
					for k, val := range m {
						if k != "index" {
							c[k] = val
						}
					}
					elem = c
				}
			}
			ret = append(ret, CleanupIndices(elem))
		}
		return ret
	case map[string]any:
		ret := make(map[string]any, len(x))
		for k, val := range x {
			ret[k] = CleanupIndices(val)
		}
		return ret
	}
	return v
}

// Copy returns a deep copy of the maps and lists in v.
func Copy(v any) any {
	return deepCopy(v)
}

func deepCopy(v any) any {
	switch x := v.(type) {
	case map[string]any:
		ret := make(map[string]any, len(x))
		for k, val := range x {
			ret[k] = deepCopy(val)
		}
		return ret
	case []any:
		ret := make([]any, len(x))
		for i, val := range x {
			ret[i] = deepCopy(val)
		}
		return ret
	}
	return v
}
