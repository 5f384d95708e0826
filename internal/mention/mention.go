// Package mention parses structured mention tokens out of message
// bodies. Mentions are encoded inline as a constrained markdown-link
// grammar: [label](mention:type:id).
package mention

import (
	"fmt"
	"regexp"
	"strings"
)

// EntityType is the kind of entity a mention points at.
type EntityType string

const (
	EntityUser  EntityType = "user"
	EntityAgent EntityType = "agent"
	EntityTool  EntityType = "tool"
)

const maxIDLen = 64
const maxLabelLen = 64

// tokenRegex matches one mention token. Label is 1-64 characters
// excluding "]"; id is 1-64 characters from [A-Za-z0-9_.:-].
var tokenRegex = regexp.MustCompile(`\[([^\]]{1,64})\]\(mention:(user|agent|tool):([A-Za-z0-9_.:-]{1,64})\)`)

// idRegex validates ids passed to Token.
var idRegex = regexp.MustCompile(`^[A-Za-z0-9_.:-]{1,64}$`)

// IndexItem is one entry of a mention index: a distinct (type, id) pair
// with the number of times it occurs in the body.
type IndexItem struct {
	Type  EntityType `json:"type"`
	ID    string     `json:"id"`
	Count int        `json:"count"`
}

// Key returns the canonical "type:id" identity of the item.
func (i IndexItem) Key() string {
	return string(i.Type) + ":" + i.ID
}

// BuildIndex extracts every mention token from body, left to right, and
// collapses duplicates by (type, id) with an occurrence count. Items are
// ordered by first appearance.
func BuildIndex(body string) []IndexItem {
	matches := tokenRegex.FindAllStringSubmatch(body, -1)
	if len(matches) == 0 {
		return nil
	}

	index := make([]IndexItem, 0, len(matches))
	seen := make(map[string]int) // key -> position in index

	for _, m := range matches {
		typ, id := EntityType(m[2]), m[3]
		key := string(typ) + ":" + id
		if pos, ok := seen[key]; ok {
			index[pos].Count++
			continue
		}
		seen[key] = len(index)
		index = append(index, IndexItem{Type: typ, ID: id, Count: 1})
	}

	return index
}

// Diff computes the set difference between two indexes over their
// (type, id) keys. Added lists keys present in newIndex but not
// oldIndex; removed lists the inverse. Occurrence counts do not affect
// the diff.
func Diff(oldIndex, newIndex []IndexItem) (added, removed []string) {
	oldKeys := make(map[string]bool, len(oldIndex))
	for _, item := range oldIndex {
		oldKeys[item.Key()] = true
	}
	newKeys := make(map[string]bool, len(newIndex))
	for _, item := range newIndex {
		newKeys[item.Key()] = true
	}

	for _, item := range newIndex {
		if !oldKeys[item.Key()] {
			added = append(added, item.Key())
		}
	}
	for _, item := range oldIndex {
		if !newKeys[item.Key()] {
			removed = append(removed, item.Key())
		}
	}
	return added, removed
}

// Token encodes a mention back into the grammar. The label is sanitized
// (brackets and newlines stripped, truncated to 64 characters) so the
// result always round-trips through BuildIndex. An invalid type or id
// cannot be sanitized and is an error.
func Token(typ EntityType, id, label string) (string, error) {
	switch typ {
	case EntityUser, EntityAgent, EntityTool:
	default:
		return "", fmt.Errorf("mention: unknown entity type %q", typ)
	}
	if !idRegex.MatchString(id) {
		return "", fmt.Errorf("mention: invalid id %q", id)
	}

	label = sanitizeLabel(label)
	if label == "" {
		label = id
	}

	return fmt.Sprintf("[%s](mention:%s:%s)", label, typ, id), nil
}

// sanitizeLabel strips characters that would break the link grammar and
// truncates to the grammar's length limit.
func sanitizeLabel(label string) string {
	label = strings.Map(func(r rune) rune {
		switch r {
		case '[', ']', '\n', '\r':
			return -1
		}
		return r
	}, label)
	label = strings.TrimSpace(label)

	runes := []rune(label)
	if len(runes) > maxLabelLen {
		label = string(runes[:maxLabelLen])
	}
	return label
}
