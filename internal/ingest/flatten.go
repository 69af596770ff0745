package ingest

import (
	"sort"
	"strings"
)

// flatten turns a nested object into dotted-path numeric leaves, e.g.
// {"memory":{"heap":12}} becomes {"memory.heap":12}. Non-numeric leaves are skipped.
// The result is ordered by name.
func flatten(obj map[string]any) []namedValue {
	var out []namedValue
	walk(obj, "", &out)
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

type namedValue struct {
	name  string
	value float64
}

func walk(obj map[string]any, prefix string, out *[]namedValue) {
	for k, v := range obj {
		name := k
		if prefix != "" {
			name = strings.Join([]string{prefix, k}, ".")
		}
		switch val := v.(type) {
		case map[string]any:
			walk(val, name, out)
		case float64:
			*out = append(*out, namedValue{name: name, value: val})
		case int64:
			*out = append(*out, namedValue{name: name, value: float64(val)})
		}
	}
}
