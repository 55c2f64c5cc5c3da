package realtime

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// splitPath turns "sessions/abc/students/x%2Fy" into unescaped segments.
func splitPath(path string) ([]string, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	raw := strings.Split(path, "/")
	segs := make([]string, len(raw))
	for i, r := range raw {
		s, err := url.PathUnescape(r)
		if err != nil || s == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
		segs[i] = s
	}
	return segs, nil
}

func joinPath(segs []string) string {
	escaped := make([]string, len(segs))
	for i, s := range segs {
		escaped[i] = url.PathEscape(s)
	}
	return strings.Join(escaped, "/")
}

// normalize turns arbitrary Go values (structs, typed slices) into the plain
// JSON tree the stores keep, so merges see maps all the way down.
func normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("realtime: encode value: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("realtime: decode value: %w", err)
	}
	return out, nil
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = deepCopy(e)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = deepCopy(e)
		}
		return s
	default:
		return v
	}
}

func getAt(node any, segs []string) any {
	for _, seg := range segs {
		switch t := node.(type) {
		case map[string]any:
			node = t[seg]
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(t) {
				return nil
			}
			node = t[i]
		default:
			return nil
		}
	}
	return node
}

// setAt stores v under segs and returns the (possibly new) node. A nil v
// deletes; objects left empty by a delete are pruned as well.
func setAt(node any, segs []string, v any) (any, error) {
	if len(segs) == 0 {
		return v, nil
	}
	seg, rest := segs[0], segs[1:]

	if arr, ok := node.([]any); ok {
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 || i >= len(arr) {
			return nil, fmt.Errorf("%w: index %q", ErrNotContainer, seg)
		}
		child, err := setAt(arr[i], rest, v)
		if err != nil {
			return nil, err
		}
		arr[i] = child
		return arr, nil
	}

	m, ok := node.(map[string]any)
	if !ok {
		if node != nil {
			return nil, fmt.Errorf("%w: at %q", ErrNotContainer, seg)
		}
		if v == nil {
			return nil, nil
		}
		m = make(map[string]any)
	}

	child, err := setAt(m[seg], rest, v)
	if err != nil {
		return nil, err
	}
	if child == nil {
		delete(m, seg)
	} else {
		m[seg] = child
	}
	if len(m) == 0 {
		return nil, nil
	}
	return m, nil
}

// updateAt applies a field merge at base. Keys are applied in sorted order so
// the result does not depend on map iteration.
func updateAt(node any, base []string, fields map[string]any) (any, error) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		rel, err := splitPath(k)
		if err != nil {
			return nil, err
		}
		v, err := normalize(fields[k])
		if err != nil {
			return nil, err
		}
		full := make([]string, 0, len(base)+len(rel))
		full = append(append(full, base...), rel...)
		if node, err = setAt(node, full, v); err != nil {
			return nil, err
		}
	}
	return node, nil
}

// touchAt is updateAt that refuses to create the value at base.
func touchAt(node any, base []string, fields map[string]any) (any, error) {
	if getAt(node, base) == nil {
		return nil, ErrNotFound
	}
	return updateAt(node, base, fields)
}

// overlaps reports whether a change at one path can alter the value at the other.
func overlaps(a, b []string) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
