// Package snapshot provides durable blob stores for index and category
// snapshots. Every Save is atomic: a name is either absent or complete.
package snapshot

import (
	"fmt"
	"slices"
	"strings"
)

// MaxNameLength bounds snapshot names.
const MaxNameLength = 200

func validateName(name string) error {
	if name == "" || len(name) > MaxNameLength {
		return fmt.Errorf("snapshot name must be 1-%d characters", MaxNameLength)
	}
	if strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("snapshot name %q must not contain path separators or start with '.'", name)
	}
	return nil
}

// newestFirst sorts names descending. Names embed a zero-padded timestamp
// after their prefix, so this is chronological.
func newestFirst(names []string) []string {
	slices.Sort(names)
	slices.Reverse(names)
	return names
}
