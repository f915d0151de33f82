// Package enums holds the string vocabularies persisted by the service.
package enums

import (
	"fmt"
	"slices"
)

// parse matches value exactly against known; kind names the vocabulary in
// the error.
func parse[T ~string](kind, value string, known []T) (T, error) {
	if i := slices.Index(known, T(value)); i >= 0 {
		return known[i], nil
	}
	var zero T
	return zero, fmt.Errorf("invalid %s %q", kind, value)
}
