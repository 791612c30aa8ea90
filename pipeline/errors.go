package pipeline

import (
	"fmt"
	"strconv"
	"strings"
)

// ConfigError reports an invalid pipeline configuration. It is always
// raised before the first tree is processed.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "invalid configuration: " + e.Reason
}

// ValidationError reports rows of a tree that violate a validator's rule.
// Any validation failure aborts the whole run: later generators assume
// valid tree structure, so a bad tree cannot be skipped.
type ValidationError struct {
	Tree   int   // tree ordinal, -1 before the converter attaches it
	Rows   []int // offending row indices, nil when the rule is field-level
	Field  string
	Rule   string
	Reason string
}

func (e *ValidationError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "validation failed: field %q, rule %s", e.Field, e.Rule)
	if e.Tree >= 0 {
		fmt.Fprintf(&sb, ", tree %d", e.Tree)
	}
	if e.Reason != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Reason)
	}
	if len(e.Rows) > 0 {
		sb.WriteString(" (rows ")
		sb.WriteString(formatRows(e.Rows))
		sb.WriteString(")")
	}
	return sb.String()
}

// StructuralError reports a merger-hierarchy violation found while
// generating derived fields: a descendant cycle, zero or multiple roots,
// or an out-of-bounds descendant index.
type StructuralError struct {
	Tree   int // tree ordinal, -1 before the converter attaches it
	Reason string
}

func (e *StructuralError) Error() string {
	if e.Tree >= 0 {
		return fmt.Sprintf("corrupt tree %d: %s", e.Tree, e.Reason)
	}
	return "corrupt tree: " + e.Reason
}

const maxReportedRows = 20

func formatRows(rows []int) string {
	n := len(rows)
	shown := rows
	if n > maxReportedRows {
		shown = rows[:maxReportedRows]
	}
	parts := make([]string, len(shown))
	for i, r := range shown {
		parts[i] = strconv.Itoa(r)
	}
	s := strings.Join(parts, ", ")
	if n > maxReportedRows {
		s += fmt.Sprintf(", ... %d more", n-maxReportedRows)
	}
	return s
}
