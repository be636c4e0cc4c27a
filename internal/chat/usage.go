// internal/chat/usage.go
package chat

// UsageSummary aggregates usage over the messages that carry a record.
type UsageSummary struct {
	Usage
	// Messages counts the messages that contributed.
	Messages int
}

// AccumulateUsage sums usage across msgs. Messages without a usage record are
// left out entirely.
func AccumulateUsage(msgs []ChatMessage) UsageSummary {
	var s UsageSummary
	for _, m := range msgs {
		if m.Usage == nil {
			continue
		}
		s.Add(*m.Usage)
		s.Messages++
	}
	return s
}
