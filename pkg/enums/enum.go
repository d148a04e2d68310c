package enums

import (
	"fmt"
	"slices"
)

// parse returns the member of set spelled exactly as value.
func parse[T ~string](kind, value string, set []T) (T, error) {
	if i := slices.Index(set, T(value)); i >= 0 {
		return set[i], nil
	}
	var zero T
	return zero, fmt.Errorf("invalid %s %q", kind, value)
}
