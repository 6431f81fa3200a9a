package models

import "time"

// TaskResponse is the task shape returned across the service boundary.
type TaskResponse struct {
	ID          string               `json:"id"`
	Owner       string               `json:"user"`
	Title       string               `json:"title"`
	Description string               `json:"description"`
	Status      TaskStatus           `json:"status"`
	Priority    TaskPriority         `json:"priority"`
	DueDate     *time.Time           `json:"dueDate,omitempty"`
	Attachments []AttachmentResponse `json:"attachments"`
	CreatedAt   time.Time            `json:"createdAt"`
	UpdatedAt   time.Time            `json:"updatedAt"`
}

type AttachmentResponse struct {
	ID           string `json:"id"`
	Filename     string `json:"filename"`
	OriginalName string `json:"originalName"`
	Size         int64  `json:"size"`
	MimeType     string `json:"mimetype"`
}

func NewTaskResponse(t *Task) *TaskResponse {
	atts := make([]AttachmentResponse, 0, len(t.Attachments))
	for _, a := range t.Attachments {
		atts = append(atts, AttachmentResponse{
			ID:           a.ID,
			Filename:     a.StoredName,
			OriginalName: a.OriginalName,
			Size:         a.Size,
			MimeType:     a.MimeType,
		})
	}
	var due *time.Time
	if t.DueDate != nil {
		d := *t.DueDate
		due = &d
	}
	return &TaskResponse{
		ID:          t.ID,
		Owner:       t.OwnerID,
		Title:       t.Title,
		Description: t.Description,
		Status:      t.Status,
		Priority:    t.Priority,
		DueDate:     due,
		Attachments: atts,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

func NewTaskResponses(tasks []Task) []*TaskResponse {
	out := make([]*TaskResponse, 0, len(tasks))
	for i := range tasks {
		out = append(out, NewTaskResponse(&tasks[i]))
	}
	return out
}
