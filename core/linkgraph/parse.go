package linkgraph

import (
	"regexp"
	"strings"
)

// linkMarker matches [[target]] and [[target|anchor]] markers. An
// "entity:" prefix on the target addresses an entity by name instead of a
// document by title.
var linkMarker = regexp.MustCompile(`\[\[([^\[\]]+)\]\]`)

const entityPrefix = "entity:"

// ParsedLink is one link marker extracted from a document body.
type ParsedLink struct {
	Target   string // document title or entity name
	Anchor   string // display text, defaults to the target
	IsEntity bool
}

// ParseLinks extracts all link markers from a body in order of
// appearance. Duplicate targets are kept once.
func ParseLinks(body string) []ParsedLink {
	var links []ParsedLink
	seen := map[string]bool{}

	for _, m := range linkMarker.FindAllStringSubmatch(body, -1) {
		inner := strings.TrimSpace(m[1])
		anchor := inner
		if idx := strings.Index(inner, "|"); idx >= 0 {
			anchor = strings.TrimSpace(inner[idx+1:])
			inner = strings.TrimSpace(inner[:idx])
		}
		if inner == "" {
			continue
		}

		isEntity := false
		target := inner
		if strings.HasPrefix(strings.ToLower(inner), entityPrefix) {
			isEntity = true
			target = strings.TrimSpace(inner[len(entityPrefix):])
			if target == "" {
				continue
			}
			if anchor == m[1] || strings.HasPrefix(strings.ToLower(anchor), entityPrefix) {
				anchor = target
			}
		}

		key := normalizeAnchor(target)
		if isEntity {
			key = entityPrefix + key
		}
		if seen[key] {
			continue
		}
		seen[key] = true

		links = append(links, ParsedLink{
			Target:   target,
			Anchor:   anchor,
			IsEntity: isEntity,
		})
	}

	return links
}

// normalizeAnchor folds an anchor for stub matching.
func normalizeAnchor(anchor string) string {
	return strings.ToLower(strings.TrimSpace(anchor))
}
