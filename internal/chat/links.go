// internal/chat/links.go
package chat

// LinkedResult is the result matched to a tool use.
type LinkedResult struct {
	Content string
	IsError bool
	// Message is the index in the log of the message carrying the result.
	Message int
}

// ToolLinks pairs tool uses with their results. Treat it as read-only.
type ToolLinks struct {
	// Results is keyed by ToolUse id and only holds ids present in the log.
	Results map[string]LinkedResult
	// Linked holds the ToolResult references that matched a ToolUse.
	Linked map[string]struct{}
}

// ResolveToolLinks scans the whole log once. A result links only to a tool
// use that appears before it. When several results reference the same tool
// use, the last one wins. Results with no earlier tool use are orphans and
// are simply absent from both maps.
func ResolveToolLinks(msgs []ChatMessage) ToolLinks {
	links := ToolLinks{
		Results: make(map[string]LinkedResult),
		Linked:  make(map[string]struct{}),
	}
	seen := make(map[string]struct{})
	for i, m := range msgs {
		for _, b := range m.Content {
			switch b.Kind {
			case BlockToolUse:
				if b.ToolUseID != "" {
					seen[b.ToolUseID] = struct{}{}
				}
			case BlockToolResult:
				if _, ok := seen[b.ToolUseID]; !ok {
					continue
				}
				links.Results[b.ToolUseID] = LinkedResult{Content: b.Content, IsError: b.IsError, Message: i}
				links.Linked[b.ToolUseID] = struct{}{}
			}
		}
	}
	return links
}

// Result returns the result linked to a tool use.
func (t ToolLinks) Result(toolUseID string) (LinkedResult, bool) {
	r, ok := t.Results[toolUseID]
	return r, ok
}

// IsLinked reports whether a ToolResult reference was matched, meaning it is
// already shown inline with its tool use.
func (t ToolLinks) IsLinked(toolUseID string) bool {
	_, ok := t.Linked[toolUseID]
	return ok
}

// Pending lists tool use ids, in log order, that have no result yet.
func (t ToolLinks) Pending(msgs []ChatMessage) []string {
	var ids []string
	for _, m := range msgs {
		for _, b := range m.Content {
			if b.Kind != BlockToolUse {
				continue
			}
			if _, ok := t.Results[b.ToolUseID]; !ok {
				ids = append(ids, b.ToolUseID)
			}
		}
	}
	return ids
}
