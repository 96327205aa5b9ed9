package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Render returns the canonical text of doc: two-space indented JSON with
// sorted map keys, no HTML escaping and a trailing newline. The output depends
// only on the content of doc.
func Render(doc *Document) []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(canonicalCopy(doc)); err != nil {
		// canonicalCopy leaves only JSON-encodable values.
		panic(fmt.Sprintf("engine: render: %v", err))
	}
	return buf.Bytes()
}

// Drifted reports whether onDisk differs byte-for-byte from the canonical
// rendering of doc.
func Drifted(onDisk []byte, doc *Document) bool {
	return !bytes.Equal(onDisk, Render(doc))
}

// canonicalCopy replaces nil collections with empty ones and sanitizes the
// open mappings, so hand-built documents render the same as normalized ones.
func canonicalCopy(doc *Document) *Document {
	out := *doc
	out.Model = sanitizeMap(doc.Model)
	out.Sources = make(map[string]string, len(doc.Sources))
	for k, v := range doc.Sources {
		out.Sources[k] = v
	}
	out.Summary.StatusCount = nonNilCounts(doc.Summary.StatusCount)
	out.Summary.KindCount = nonNilCounts(doc.Summary.KindCount)

	out.WorkItems = make([]WorkItem, len(doc.WorkItems))
	for i, item := range doc.WorkItems {
		item.Detail = sanitizeMap(item.Detail)
		item.Links.DependsOnWorkItems = nonNil(item.Links.DependsOnWorkItems)
		item.Acceptance.Cmds = nonNil(item.Acceptance.Cmds)
		if item.Workflow != nil {
			wf := *item.Workflow
			wf.TriggerPaths = nonNil(wf.TriggerPaths)
			wf.RequiredDocs = nonNil(wf.RequiredDocs)
			item.Workflow = &wf
		}
		if item.LegacyAliases != nil {
			item.LegacyAliases = sanitize(item.LegacyAliases)
		}
		out.WorkItems[i] = item
	}
	return &out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilCounts[K comparable](m map[K]int) map[K]int {
	if m == nil {
		return map[K]int{}
	}
	return m
}
