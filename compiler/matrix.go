package compiler

import (
	"sort"
	"strings"
)

// expandMatrix returns the Cartesian product of dimensions as a list of
// dimension-value assignments, each rendered as a stable suffix
// "[k1=v1,k2=v2,...]" with keys in sorted order (§4.1 step 5).
func expandMatrix(dims map[string][]string) ([]map[string]string, error) {
	if len(dims) == 0 {
		return []map[string]string{nil}, nil
	}

	keys := make([]string, 0, len(dims))
	for k := range dims {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if len(dims[k]) == 0 {
			return nil, &CompileError{Kind: ErrEmptyMatrixDimension, Message: "matrix dimension " + k + " is empty"}
		}
	}

	combos := []map[string]string{{}}
	for _, k := range keys {
		var next []map[string]string
		for _, combo := range combos {
			for _, v := range dims[k] {
				c := make(map[string]string, len(combo)+1)
				for ek, ev := range combo {
					c[ek] = ev
				}
				c[k] = v
				next = append(next, c)
			}
		}
		combos = next
	}
	return combos, nil
}

// matrixSuffixName renders the instance name for one matrix combination,
// with dimension values sorted by key for determinism.
func matrixSuffixName(base string, values map[string]string) string {
	if len(values) == 0 {
		return base
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + values[k]
	}
	return base + "[" + strings.Join(parts, ",") + "]"
}
