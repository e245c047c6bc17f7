package alerts

import (
	"strings"
	"time"

	"taskcycle/internal/task"
)

// Priority is the urgency an alert is delivered with
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Classifier derives an alert priority from a task
type Classifier struct {
	criticalKeywords []string
	// tasks due within this window are raised to high
	soon time.Duration
}

func NewClassifier() *Classifier {
	return &Classifier{
		criticalKeywords: []string{"urgent", "asap", "deadline", "critical", "important"},
		soon:             15 * time.Minute,
	}
}

// AddCriticalKeyword adds a word that marks a task critical
func (c *Classifier) AddCriticalKeyword(keyword string) {
	c.criticalKeywords = append(c.criticalKeywords, strings.ToLower(keyword))
}

// Classify uses the iCalendar priority scale (1 highest, 9 lowest, 0 unset)
// then raises tasks that mention a critical keyword or are due soon.
func (c *Classifier) Classify(t task.Task, due, now time.Time) Priority {
	var p Priority
	switch {
	case t.Priority >= 1 && t.Priority <= 4:
		p = PriorityHigh
	case t.Priority >= 6 && t.Priority <= 9:
		p = PriorityLow
	default:
		p = PriorityNormal
	}

	text := strings.ToLower(t.Title + " " + t.Description)
	for _, kw := range c.criticalKeywords {
		if strings.Contains(text, kw) {
			return PriorityCritical
		}
	}
	if t.Priority == 1 || due.Before(now) {
		return PriorityCritical
	}
	if due.Sub(now) <= c.soon && p < PriorityHigh {
		p = PriorityHigh
	}
	return p
}

// FilterByPriority keeps the requests at or above min
func FilterByPriority(requests []AlertRequest, min Priority) []AlertRequest {
	var filtered []AlertRequest
	for _, r := range requests {
		if r.Priority >= min {
			filtered = append(filtered, r)
		}
	}
	return filtered
}
