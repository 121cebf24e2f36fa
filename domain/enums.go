package domain

import (
	"fmt"

	"github.com/bytedance/sonic"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusTodo       Status = "TODO"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
)

// AllStatuses lists every status in display order.
var AllStatuses = []Status{StatusTodo, StatusInProgress, StatusCompleted}

func (s Status) Valid() bool {
	_, err := s.label()
	return err == nil
}

// Label returns the display text for s, or an empty string for unknown values.
func (s Status) Label() string {
	l, _ := s.label()
	return l
}

func (s Status) label() (string, error) {
	switch s {
	case StatusTodo:
		return "To Do", nil
	case StatusInProgress:
		return "In Progress", nil
	case StatusCompleted:
		return "Completed", nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, string(s))
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return err
	}
	v, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseStatus converts the wire value of a status.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, raw)
	}
	return s, nil
}

// Priority ranks tasks.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
)

var AllPriorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh}

func (p Priority) Valid() bool {
	_, err := p.label()
	return err == nil
}

func (p Priority) Label() string {
	l, _ := p.label()
	return l
}

func (p Priority) label() (string, error) {
	switch p {
	case PriorityLow:
		return "Low", nil
	case PriorityMedium:
		return "Medium", nil
	case PriorityHigh:
		return "High", nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPriority, string(p))
}

func (p *Priority) UnmarshalJSON(data []byte) error {
	var raw string
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return err
	}
	v, err := ParsePriority(raw)
	if err != nil {
		return err
	}
	*p = v
	return nil
}

func ParsePriority(raw string) (Priority, error) {
	p := Priority(raw)
	if !p.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownPriority, raw)
	}
	return p, nil
}

// Labels holds the display text derived from a task's enums.
type Labels struct {
	StatusLabel   string `json:"statusLabel"`
	PriorityLabel string `json:"priorityLabel"`
}

// DeriveLabels maps the task's status and priority to their display text.
// An out-of-range value means the record is corrupt and is reported as an error.
func DeriveLabels(t Task) (Labels, error) {
	sl, err := t.Status.label()
	if err != nil {
		return Labels{}, err
	}
	pl, err := t.Priority.label()
	if err != nil {
		return Labels{}, err
	}
	return Labels{StatusLabel: sl, PriorityLabel: pl}, nil
}
