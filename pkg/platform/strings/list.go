// Package strings holds helpers for list-valued settings.
package strings

import (
	"slices"
	"strings"
)

// SplitList splits a comma separated setting such as KAFKA_BROKERS or
// CORS_ORIGIN into its distinct, non-empty entries, first occurrence first.
//
//	SplitList(" a:9092, b:9092,,a:9092") // []string{"a:9092", "b:9092"}
func SplitList(v string) []string {
	var out []string
	for part := range strings.SplitSeq(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" || slices.Contains(out, part) {
			continue
		}
		out = append(out, part)
	}
	return out
}
