package timeline

import "strings"

// StepStatus is the display status of one timeline step.
type StepStatus string

const (
	StatusPending    StepStatus = "pending"
	StatusInProgress StepStatus = "in_progress"
	StatusCompleted  StepStatus = "completed"
	StatusFailed     StepStatus = "failed"
)

// Terminal reports whether a status can no longer change within a cycle.
func (s StepStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// StepDetails carries the optional expandable content of a step.
type StepDetails struct {
	Text   string `json:"text,omitempty"`
	Input  string `json:"input,omitempty"`
	Output string `json:"output,omitempty"`
}

// Step is one displayable projection unit. Multiple events may fold into a
// single step; steps are derived state and never persisted on their own.
type Step struct {
	ID      string       `json:"id"`
	Title   string       `json:"title"`
	Status  StepStatus   `json:"status"`
	Details *StepDetails `json:"details,omitempty"`
}

// InferStatus maps free-form state text from the protocol onto a step status.
// Substring matching is kept as-is for protocol compatibility even though it
// is fragile; all callers go through this single function.
func InferStatus(state string) StepStatus {
	s := strings.ToLower(state)
	switch {
	case strings.Contains(s, "fail"), strings.Contains(s, "error"):
		return StatusFailed
	case strings.Contains(s, "progress"):
		return StatusInProgress
	default:
		return StatusCompleted
	}
}

// HumanizeTitle turns a protocol identifier like "web_search" or
// "data-chart-spec" into a displayable title.
func HumanizeTitle(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "Working"
	}
	name = strings.ReplaceAll(name, "_", " ")
	name = strings.ReplaceAll(name, "-", " ")
	words := strings.Fields(name)
	if len(words) == 0 {
		return "Working"
	}
	first := []rune(words[0])
	words[0] = strings.ToUpper(string(first[0])) + string(first[1:])
	return strings.Join(words, " ")
}
