package results

import (
	"fmt"
	"strings"
)

// PathSeparator splits a merge path written as a single string,
// e.g. "md_results->structure7".
const PathSeparator = "->"

// Mode selects how a Write is applied to the store.
type Mode int

const (
	ModeReplace Mode = iota // Overwrite the value at a top-level key
	ModeMerge               // Write into nested objects, keeping sibling keys
)

func (m Mode) String() string {
	switch m {
	case ModeReplace:
		return "replace"
	case ModeMerge:
		return "merge"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Write is a single intended mutation of the store.
type Write struct {
	Mode  Mode
	Path  []string
	Value any
}

// Replace returns a write that sets store[key] = value.
func Replace(key string, value any) Write {
	return Write{Mode: ModeReplace, Path: []string{key}, Value: value}
}

// Merge returns a write into a nested namespace. The path is split on
// PathSeparator, so Merge("md_results->structure7", 0.42) leaves every other
// key under md_results untouched.
func Merge(path string, value any) Write {
	return MergePath(SplitPath(path), value)
}

// MergePath is Merge with the path already split into segments.
func MergePath(path []string, value any) Write {
	return Write{Mode: ModeMerge, Path: append([]string(nil), path...), Value: value}
}

// SplitPath splits a "a->b->c" path into its segments.
func SplitPath(path string) []string {
	return strings.Split(path, PathSeparator)
}

func (w Write) String() string {
	return fmt.Sprintf("%s %s", w.Mode, strings.Join(w.Path, PathSeparator))
}

func (w Write) validate() error {
	if len(w.Path) == 0 {
		return fmt.Errorf("empty path")
	}
	for _, seg := range w.Path {
		if seg == "" {
			return fmt.Errorf("empty path segment in %q", strings.Join(w.Path, PathSeparator))
		}
	}
	if w.Mode == ModeReplace && len(w.Path) != 1 {
		return fmt.Errorf("replace takes a single key, got %q", strings.Join(w.Path, PathSeparator))
	}
	if w.Mode != ModeReplace && w.Mode != ModeMerge {
		return fmt.Errorf("unknown write mode %d", int(w.Mode))
	}
	return nil
}
