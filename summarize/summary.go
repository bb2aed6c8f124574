// Package summarize turns a merged transcript into a structured summary
// using an LLM completion endpoint. Model output is parsed strictly as
// JSON first, then leniently, then heuristically, so a chatty model
// never sinks the pipeline.
package summarize

// Section is one titled group of summary bullets.
type Section struct {
	Title   string   `json:"title"`
	Bullets []string `json:"bullets"`
}

// Summary is the structured summary artifact stored for a job.
type Summary struct {
	Sections     []Section `json:"sections"`
	Participants []string  `json:"participants,omitempty"`
	Decisions    []string  `json:"decisions,omitempty"`
	ActionItems  []string  `json:"action_items,omitempty"`
	Questions    []string  `json:"questions,omitempty"`

	// Raw preserves the model's verbatim output for debugging.
	Raw string `json:"raw,omitempty"`
}
