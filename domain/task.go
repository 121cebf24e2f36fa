package domain

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/bytedance/sonic"
)

const (
	MaxTitleLength       = 255
	MaxDescriptionLength = 1000
)

// ID is the opaque identifier the remote service assigns to a task.
type ID string

// UnmarshalJSON accepts both string and numeric identifiers.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := sonic.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	if _, err := strconv.ParseInt(string(data), 10, 64); err != nil {
		return fmt.Errorf("invalid task id %s", data)
	}
	*id = ID(data)
	return nil
}

func (id ID) String() string { return string(id) }

// Task is the canonical task representation returned by the remote service.
type Task struct {
	ID          ID        `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Status      Status    `json:"status"`
	Priority    Priority  `json:"priority"`
	DueDate     Date      `json:"dueDate,omitempty"`
	CreatedAt   Timestamp `json:"createdAt"`
	UpdatedAt   Timestamp `json:"updatedAt"`
}

// Validate checks the invariants of a persisted task.
func (t Task) Validate() error {
	if t.ID == "" {
		return &ValidationError{Field: "id", Reason: "is required"}
	}
	if err := validateText(t.Title, t.Description); err != nil {
		return err
	}
	if !t.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, string(t.Status))
	}
	if !t.Priority.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownPriority, string(t.Priority))
	}
	if !t.CreatedAt.IsZero() && t.UpdatedAt.Before(t.CreatedAt.Time) {
		return &ValidationError{Field: "updatedAt", Reason: "precedes createdAt"}
	}
	return nil
}

// Draft is a task payload without server assigned fields.
type Draft struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Status      Status   `json:"status,omitempty"`
	Priority    Priority `json:"priority,omitempty"`
	DueDate     Date     `json:"dueDate,omitempty"`
}

// Normalize fills the defaults the service applies to new tasks.
func (d Draft) Normalize() Draft {
	if d.Status == "" {
		d.Status = StatusTodo
	}
	if d.Priority == "" {
		d.Priority = PriorityMedium
	}
	return d
}

// Validate checks the draft against the service's field rules.
func (d Draft) Validate() error {
	if err := validateText(d.Title, d.Description); err != nil {
		return err
	}
	if d.Status != "" && !d.Status.Valid() {
		return &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown value %q", string(d.Status))}
	}
	if d.Priority != "" && !d.Priority.Valid() {
		return &ValidationError{Field: "priority", Reason: fmt.Sprintf("unknown value %q", string(d.Priority))}
	}
	if !d.DueDate.IsZero() {
		if _, ok := d.DueDate.Parse(); !ok {
			return &ValidationError{Field: "dueDate", Reason: "must be yyyy-MM-dd"}
		}
	}
	return nil
}

func validateText(title, description string) error {
	if len(bytes.TrimSpace([]byte(title))) == 0 {
		return &ValidationError{Field: "title", Reason: "is required"}
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return &ValidationError{Field: "title", Reason: fmt.Sprintf("must be at most %d characters", MaxTitleLength)}
	}
	if utf8.RuneCountInString(description) > MaxDescriptionLength {
		return &ValidationError{Field: "description", Reason: fmt.Sprintf("must be at most %d characters", MaxDescriptionLength)}
	}
	return nil
}

// ValidationError reports a field that breaks a task rule.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Field + " " + e.Reason
}

var (
	ErrUnknownStatus   = errors.New("unknown task status")
	ErrUnknownPriority = errors.New("unknown task priority")
)

// Timestamp is a service-set instant. Zone-less values are read as UTC.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	var raw *string
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil || *raw == "" {
		ts.Time = time.Time{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, *raw); err == nil {
			ts.Time = t
			return nil
		}
	}
	return fmt.Errorf("invalid timestamp %q", *raw)
}

func (ts Timestamp) MarshalJSON() ([]byte, error) {
	if ts.IsZero() {
		return []byte("null"), nil
	}
	return sonic.Marshal(ts.UTC().Format(time.RFC3339Nano))
}
