package matcher

import (
	"fmt"
	"sort"

	"github.com/rmax-ai/rolematch/pkg/graph"
)

// Backends disagree on scalar types: JSON transports yield float64 and []any,
// Bolt yields int64 and []any, the in-memory graph yields float64 and []any.

func column(row graph.Row, i int) (any, error) {
	if i >= len(row) {
		return nil, fmt.Errorf("row has %d columns, want at least %d", len(row), i+1)
	}
	return row[i], nil
}

func stringAt(row graph.Row, i int) (string, error) {
	v, err := column(row, i)
	if err != nil {
		return "", err
	}
	switch s := v.(type) {
	case string:
		return s, nil
	case nil:
		return "", nil
	}
	return "", fmt.Errorf("column %d: want string, got %T", i, v)
}

func stringsAt(row graph.Row, i int) ([]string, error) {
	v, err := column(row, i)
	if err != nil {
		return nil, err
	}
	var out []string
	switch list := v.(type) {
	case nil:
		return []string{}, nil
	case []string:
		out = append(out, list...)
	case []any:
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("column %d: want list of string, got element %T", i, item)
			}
			out = append(out, s)
		}
	default:
		return nil, fmt.Errorf("column %d: want list, got %T", i, v)
	}
	return uniqueSorted(out), nil
}

func floatAt(row graph.Row, i int) (*float64, error) {
	v, err := column(row, i)
	if err != nil {
		return nil, err
	}
	var f float64
	switch n := v.(type) {
	case nil:
		return nil, nil
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int64:
		f = float64(n)
	case int:
		f = float64(n)
	default:
		return nil, fmt.Errorf("column %d: want number, got %T", i, v)
	}
	return &f, nil
}

func propsAt(row graph.Row, i int) (map[string]string, error) {
	v, err := column(row, i)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	switch m := v.(type) {
	case nil:
	case map[string]any:
		for k, val := range m {
			out[k] = fmt.Sprint(val)
		}
	case map[string]string:
		for k, val := range m {
			out[k] = val
		}
	default:
		return nil, fmt.Errorf("column %d: want map, got %T", i, v)
	}
	return out, nil
}

func uniqueSorted(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// covers reports whether have contains every name in need.
func covers(have, need []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, s := range have {
		set[s] = struct{}{}
	}
	for _, s := range need {
		if _, ok := set[s]; !ok {
			return false
		}
	}
	return true
}
