package data

import "fmt"

// ValidationError reports malformed client input. Index is the position of
// the offending item in a batch, or -1 when the input was a single item.
type ValidationError struct {
	Index  int
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	prefix := ""
	if e.Index >= 0 {
		prefix = fmt.Sprintf("item %d: ", e.Index)
	}
	if e.Field == "" {
		return prefix + e.Reason
	}
	return fmt.Sprintf("%s%s: %s", prefix, e.Field, e.Reason)
}
