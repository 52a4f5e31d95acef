// Package caddyfile extracts routed hostnames from Caddyfile-style
// reverse-proxy configuration text.
package caddyfile

import (
	"regexp"
	"strings"
)

// hostPattern matches a syntactically plausible DNS name anchored at
// the start of a trimmed line: dotted labels ending in an alphabetic
// TLD of at least two characters.
var hostPattern = regexp.MustCompile(`^[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)

// Hostnames returns the de-duplicated routed hostnames declared by the
// configuration text, in first-seen order.
//
// A line contributes when, after trimming, it is non-empty, is not a
// comment, does not close a block, contains a dot, and opens a block
// somewhere on the line. Multi-host route lines ("a.com, b.com {")
// contribute only the leading hostname; secondary hosts on the same
// line are a known limitation of drift detection, not corrected here.
//
// Pure and deterministic; malformed input simply yields fewer matches.
func Hostnames(text string) []string {
	hosts := []string{}
	seen := make(map[string]bool)

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "}") {
			continue
		}
		if !strings.Contains(line, ".") || !strings.Contains(line, "{") {
			continue
		}
		host := hostPattern.FindString(line)
		if host == "" || seen[host] {
			continue
		}
		seen[host] = true
		hosts = append(hosts, host)
	}
	return hosts
}
