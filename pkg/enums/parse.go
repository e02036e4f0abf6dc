package enums

import (
	"fmt"
	"slices"
)

// parse matches value exactly against the known members of an enum.
func parse[T ~string](known []T, value, kind string) (T, error) {
	if i := slices.Index(known, T(value)); i >= 0 {
		return known[i], nil
	}
	return "", fmt.Errorf("invalid %s %q", kind, value)
}
