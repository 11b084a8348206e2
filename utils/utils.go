// Package utils provides utility functions for the application.
package utils

import "strings"

// SplitCSV flattens repeated and comma separated query values, dropping blanks.
func SplitCSV(values ...string) []string {
	var out []string
	for _, v := range values {
		for _, item := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(item); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}
