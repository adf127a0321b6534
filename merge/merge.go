// Package merge folds partial chat completion documents into one.
//
// Documents are the generic JSON shapes produced by decoding into any:
// map[string]any, []any, string, bool and numbers. Strings concatenate,
// scalars are overridden, maps merge key-wise and lists whose elements carry
// an "index" key merge element-wise by that index.
package merge

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	ErrNotDictElement    = errors.New("lists could be merged only if their elements are dictionaries")
	ErrMissingIndex      = errors.New("a list element must have 'index' field to identify position of the element in the list")
	ErrInconsistentList  = errors.New("all elements of a list must be either indexed or not indexed")
	ErrNonIndexedLists   = errors.New("cannot merge two non-indexed non-empty lists")
	ErrMixedIndexedLists = errors.New("cannot merge a non-indexed list with an indexed list")
	ErrNoChunks          = errors.New("at least one chunk must be provided")
)

// TypeError reports two values that have no merge rule between them.
type TypeError struct {
	Target string
	Source string
	Path   string
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("cannot merge '%s' with incoming '%s' at path %s", e.Target, e.Source, e.Path)
}

type path []any

func (p path) String() string {
	var b strings.Builder
	b.WriteString("$")
	for _, elem := range p {
		switch e := elem.(type) {
		case int:
			b.WriteString("[" + strconv.Itoa(e) + "]")
		default:
			b.WriteString("." + fmt.Sprint(e))
		}
	}
	return b.String()
}

// Merge left-folds chunks into the first one.
func Merge(chunks ...any) (any, error) {
	if len(chunks) == 0 {
		return nil, ErrNoChunks
	}
	ret := chunks[0]
	for _, c := range chunks[1:] {
		var err error
		ret, err = mergeRecursive(ret, c, nil)
		if err != nil {
			return nil, err
		}
	}
	return ret, nil
}

// Into merges source into target and returns the result. Maps and lists
// reachable from target may be updated in place; source is never mutated.
func Into(target, source any) (any, error) {
	return mergeRecursive(target, source, nil)
}

// Dicts merges source into target, which is allocated when nil.
func Dicts(target, source map[string]any) (map[string]any, error) {
	if target == nil {
		target = map[string]any{}
	}
	merged, err := mergeRecursive(target, source, nil)
	if err != nil {
		return nil, err
	}
	return merged.(map[string]any), nil
}

func mergeRecursive(target, source any, p path) (any, error) {
	if source == nil {
		return target, nil
	}

	if target == nil {
		switch source.(type) {
		case map[string]any:
			target = map[string]any{}
		case []any:
			target = []any{}
		default:
			return source, nil
		}
	}

	tk, sk := kindOf(target), kindOf(source)
	// Decoded JSON numbers are float64 while native chunks use int, so any
	// two numbers merge as an override.
	if tk.numeric() && sk.numeric() {
		return source, nil
	}
	if tk == sk {
		switch tk {
		case kindList:
			return mergeLists(target.([]any), source.([]any), p)
		case kindMap:
			return mergeDicts(target.(map[string]any), source.(map[string]any), p)
		case kindBool:
			return source, nil
		case kindString:
			return target.(string) + source.(string), nil
		}
	}

	return nil, &TypeError{Target: tk.String(), Source: sk.String(), Path: p.String()}
}

func mergeDicts(target, source map[string]any, p path) (map[string]any, error) {
	for key, value := range source {
		merged, err := mergeRecursive(target[key], value, append(p, key))
		if err != nil {
			return nil, err
		}
		target[key] = merged
	}
	return target, nil
}

func isIndexedList(xs []any) (bool, error) {
	if len(xs) == 0 {
		return false, nil
	}

	allIndexed, anyIndexed := true, false
	for _, elem := range xs {
		if m, ok := elem.(map[string]any); ok {
			if _, has := m["index"]; has {
				anyIndexed = true
				continue
			}
		}
		allIndexed = false
	}

	if anyIndexed && !allIndexed {
		return false, ErrInconsistentList
	}
	return allIndexed, nil
}

func mergeIndexedLists(target, source []any, p path) ([]any, error) {
	for _, elem := range source {
		m, ok := elem.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w at path %s", ErrNotDictElement, p)
		}
		index, ok := Index(m["index"])
		if !ok {
			return nil, fmt.Errorf("%w at path %s", ErrMissingIndex, p)
		}

		elemPath := append(p, index)
		if index < len(target) {
			merged, err := mergeRecursive(target[index], m, elemPath)
			if err != nil {
				return nil, err
			}
			target[index] = merged
			continue
		}

		for k := len(target); k < index; k++ {
			target = append(target, map[string]any{"index": k})
		}
		target = append(target, deepCopy(m))
	}
	return target, nil
}

func mergeLists(target, source []any, p path) ([]any, error) {
	targetIndexed, err := isIndexedList(target)
	if err != nil {
		return nil, fmt.Errorf("%w at path %s", err, p)
	}
	sourceIndexed, err := isIndexedList(source)
	if err != nil {
		return nil, fmt.Errorf("%w at path %s", err, p)
	}

	if len(source) == 0 {
		return target, nil
	}

	if len(target) == 0 {
		if sourceIndexed {
			return mergeIndexedLists(target, source, p)
		}
		return deepCopy(source).([]any), nil
	}

	if !targetIndexed && !sourceIndexed {
		return nil, fmt.Errorf("%w at path %s", ErrNonIndexedLists, p)
	}
	if !targetIndexed || !sourceIndexed {
		return nil, fmt.Errorf("%w at path %s", ErrMixedIndexedLists, p)
	}

	return mergeIndexedLists(target, source, p)
}

// Index reports v as a list position. Integral floats are accepted since
// decoded JSON numbers arrive as float64.
func Index(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, n >= 0
	case int8:
		return int(n), n >= 0
	case int16:
		return int(n), n >= 0
	case int32:
		return int(n), n >= 0
	case int64:
		return int(n), n >= 0
	case uint:
		return int(n), true
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		if n >= 0 && n == math.Trunc(n) {
			return int(n), true
		}
	case float32:
		if n >= 0 && float64(n) == math.Trunc(float64(n)) {
			return int(n), true
		}
	}
	return 0, false
}

type kind int

const (
	kindOther kind = iota
	kindString
	kindInt
	kindFloat
	kindBool
	kindMap
	kindList
)

func (k kind) numeric() bool {
	return k == kindInt || k == kindFloat
}

func (k kind) String() string {
	switch k {
	case kindString:
		return "str"
	case kindInt:
		return "int"
	case kindFloat:
		return "float"
	case kindBool:
		return "bool"
	case kindMap:
		return "dict"
	case kindList:
		return "list"
	}
	return "object"
}

func kindOf(v any) kind {
	switch v.(type) {
	case string:
		return kindString
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return kindInt
	case float32, float64:
		return kindFloat
	case bool:
		return kindBool
	case map[string]any:
		return kindMap
	case []any:
		return kindList
	}
	return kindOther
}
