// internal/models/task.go
package models

import (
	"strings"
	"time"
)

// TaskStatus defines the possible statuses for a task.
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusInProgress TaskStatus = "in-progress"
	StatusCompleted  TaskStatus = "completed"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityMedium TaskPriority = "medium"
	PriorityHigh   TaskPriority = "high"
)

func (p TaskPriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// MaxAttachments bounds the files accepted by a single create call.
const MaxAttachments = 5

// Task is the stored task record. Attachments are owned by the task and
// kept in upload order.
type Task struct {
	ID          string
	OwnerID     string
	Title       string
	Description string
	Status      TaskStatus
	Priority    TaskPriority
	DueDate     *time.Time
	Attachments []Attachment
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Attachment is a file bound to exactly one task.
type Attachment struct {
	ID           string
	StoredName   string
	OriginalName string
	StoragePath  string
	Size         int64
	MimeType     string
	CreatedAt    time.Time
}

// FindAttachment returns the index of the attachment with the given id, or -1.
func (t *Task) FindAttachment(id string) int {
	for i := range t.Attachments {
		if t.Attachments[i].ID == id {
			return i
		}
	}
	return -1
}

// WithoutAttachment returns a copy of the attachment list with id removed.
func (t *Task) WithoutAttachment(id string) []Attachment {
	out := make([]Attachment, 0, len(t.Attachments))
	for _, a := range t.Attachments {
		if a.ID != id {
			out = append(out, a)
		}
	}
	return out
}

// TaskFilter defines the available parameters for filtering tasks.
type TaskFilter struct {
	Status   *TaskStatus
	Priority *TaskPriority
	Search   string // case-insensitive substring over title OR description
}

type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

const DefaultSortBy = "createdAt"

type TaskSort struct {
	By    string
	Order SortOrder
}

// NewTaskSort applies the list defaults: createdAt, descending. Anything
// other than "asc" sorts descending.
func NewTaskSort(by, order string) TaskSort {
	s := TaskSort{By: strings.TrimSpace(by), Order: SortDesc}
	if s.By == "" {
		s.By = DefaultSortBy
	}
	if strings.EqualFold(strings.TrimSpace(order), string(SortAsc)) {
		s.Order = SortAsc
	}
	return s
}

// NewTask carries the creatable fields of a task.
type NewTask struct {
	Title       string
	Description string
	Status      TaskStatus
	Priority    TaskPriority
	DueDate     *time.Time
}

// TaskUpdate is the whitelist of mutable task fields. Nil pointers are left
// untouched; ClearDueDate removes the due date.
type TaskUpdate struct {
	Title        *string
	Description  *string
	Status       *TaskStatus
	Priority     *TaskPriority
	DueDate      *time.Time
	ClearDueDate bool
}

func (u TaskUpdate) Empty() bool {
	return u.Title == nil && u.Description == nil && u.Status == nil &&
		u.Priority == nil && u.DueDate == nil && !u.ClearDueDate
}

// Validate checks every provided field; it reports all problems at once.
func (u TaskUpdate) Validate() []FieldError {
	var errs []FieldError
	if u.Title != nil && strings.TrimSpace(*u.Title) == "" {
		errs = append(errs, FieldError{Param: "title", Msg: "Task title is required"})
	}
	if u.Status != nil && !u.Status.Valid() {
		errs = append(errs, FieldError{Param: "status", Msg: "Invalid status"})
	}
	if u.Priority != nil && !u.Priority.Valid() {
		errs = append(errs, FieldError{Param: "priority", Msg: "Invalid priority"})
	}
	return errs
}

// FieldError describes one rejected input field.
type FieldError struct {
	Param string `json:"param"`
	Msg   string `json:"msg"`
}
