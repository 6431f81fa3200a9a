// internal/services/task_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strings"

	"taskflow/internal/models"
	"taskflow/internal/repositories"
	"taskflow/internal/storage"
)

// Upload is one file bound to a create call. Size is the declared size, or
// a negative value when unknown.
type Upload struct {
	OriginalName string
	MimeType     string
	Size         int64
	Content      io.Reader
}

// Download is an open attachment ready to be streamed. The caller closes File.
type Download struct {
	File         storage.File
	OriginalName string
	MimeType     string
	Size         int64
}

// TaskNotifier is told about task lifecycle events. Implementations must not
// block the request for long; failures are theirs to log.
type TaskNotifier interface {
	TaskCreated(ctx context.Context, task *models.Task)
	TaskDeleted(ctx context.Context, task *models.Task)
}

// TaskService defines the task and attachment operations, all scoped to an
// authenticated owner.
type TaskService interface {
	ListTasks(ctx context.Context, ownerID string, filter models.TaskFilter, sort models.TaskSort) ([]*models.TaskResponse, error)
	GetTask(ctx context.Context, ownerID, taskID string) (*models.TaskResponse, error)
	CreateTask(ctx context.Context, ownerID string, in models.NewTask, files []Upload) (*models.TaskResponse, error)
	UpdateTask(ctx context.Context, ownerID, taskID string, upd models.TaskUpdate) (*models.TaskResponse, error)
	DeleteTask(ctx context.Context, ownerID, taskID string) error

	DownloadAttachment(ctx context.Context, ownerID, taskID, attachmentID string) (*Download, error)
	DeleteAttachment(ctx context.Context, ownerID, taskID, attachmentID string) (*models.TaskResponse, error)
}

type taskService struct {
	repo        repositories.TaskRepository
	store       storage.AttachmentStore
	maxFileSize int64
	notifier    TaskNotifier
}

// NewTaskService creates a new instance of TaskService. maxFileSize <= 0
// disables the per-file limit; notifier may be nil.
func NewTaskService(repo repositories.TaskRepository, store storage.AttachmentStore, maxFileSize int64, notifier TaskNotifier) TaskService {
	return &taskService{repo: repo, store: store, maxFileSize: maxFileSize, notifier: notifier}
}

func (s *taskService) ListTasks(ctx context.Context, ownerID string, filter models.TaskFilter, sort models.TaskSort) ([]*models.TaskResponse, error) {
	tasks, err := s.repo.Find(ctx, ownerID, filter, sort)
	if err != nil {
		return nil, unexpected("Failed to list tasks", err)
	}
	return models.NewTaskResponses(tasks), nil
}

func (s *taskService) GetTask(ctx context.Context, ownerID, taskID string) (*models.TaskResponse, error) {
	task, err := s.ownedTask(ctx, ownerID, taskID, ErrForbidden)
	if err != nil {
		return nil, err
	}
	return models.NewTaskResponse(task), nil
}

func (s *taskService) CreateTask(ctx context.Context, ownerID string, in models.NewTask, files []Upload) (*models.TaskResponse, error) {
	if err := s.validateCreate(ownerID, &in, files); err != nil {
		return nil, err
	}

	// stage files first, commit metadata second
	staged := make([]models.Attachment, 0, len(files))
	for _, f := range files {
		att, err := s.stage(f)
		if err != nil {
			s.discard(staged)
			return nil, err
		}
		staged = append(staged, *att)
	}

	task := &models.Task{
		OwnerID:     ownerID,
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		Status:      in.Status,
		Priority:    in.Priority,
		DueDate:     in.DueDate,
		Attachments: staged,
	}
	if err := s.repo.Insert(ctx, task); err != nil {
		s.discard(staged)
		return nil, unexpected("Failed to create task", err)
	}

	if s.notifier != nil {
		s.notifier.TaskCreated(ctx, task)
	}
	return models.NewTaskResponse(task), nil
}

func (s *taskService) validateCreate(ownerID string, in *models.NewTask, files []Upload) error {
	var errs []models.FieldError
	if strings.TrimSpace(ownerID) == "" {
		errs = append(errs, models.FieldError{Param: "user", Msg: "Owner is required"})
	}
	if strings.TrimSpace(in.Title) == "" {
		errs = append(errs, models.FieldError{Param: "title", Msg: "Task title is required"})
	}
	if in.Status == "" {
		in.Status = models.StatusPending
	} else if !in.Status.Valid() {
		errs = append(errs, models.FieldError{Param: "status", Msg: "Invalid status"})
	}
	if in.Priority == "" {
		in.Priority = models.PriorityMedium
	} else if !in.Priority.Valid() {
		errs = append(errs, models.FieldError{Param: "priority", Msg: "Invalid priority"})
	}
	if len(files) > models.MaxAttachments {
		errs = append(errs, models.FieldError{
			Param: "attachments",
			Msg:   fmt.Sprintf("At most %d attachments are allowed", models.MaxAttachments),
		})
	}
	for _, f := range files {
		if f.Content == nil {
			errs = append(errs, models.FieldError{Param: "attachments", Msg: "Empty upload " + f.OriginalName})
			continue
		}
		if s.maxFileSize > 0 && f.Size > s.maxFileSize {
			errs = append(errs, models.FieldError{
				Param: "attachments",
				Msg:   fmt.Sprintf("File %s exceeds %d bytes", f.OriginalName, s.maxFileSize),
			})
		}
	}
	if len(errs) > 0 {
		return validationError(errs...)
	}
	return nil
}

// stage persists one upload and returns its attachment metadata.
func (s *taskService) stage(f Upload) (*models.Attachment, error) {
	name := strings.TrimSpace(filepath.Base(strings.ReplaceAll(f.OriginalName, `\`, "/")))
	if name == "" || name == "." || name == "/" {
		name = "file"
	}
	content := f.Content
	if s.maxFileSize > 0 {
		content = io.LimitReader(content, s.maxFileSize+1)
	}

	sf, err := s.store.Put(content, name)
	if err != nil {
		return nil, storageError("Failed to store attachment "+name, err)
	}
	if s.maxFileSize > 0 && sf.Size > s.maxFileSize {
		s.discard([]models.Attachment{{StoragePath: sf.StoragePath}})
		return nil, validationError(models.FieldError{
			Param: "attachments",
			Msg:   fmt.Sprintf("File %s exceeds %d bytes", name, s.maxFileSize),
		})
	}

	mimeType := strings.TrimSpace(f.MimeType)
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return &models.Attachment{
		StoredName:   sf.StoredName,
		OriginalName: name,
		StoragePath:  sf.StoragePath,
		Size:         sf.Size,
		MimeType:     mimeType,
	}, nil
}

// discard removes staged files after a failed create.
func (s *taskService) discard(staged []models.Attachment) {
	for _, a := range staged {
		if err := s.store.Delete(a.StoragePath); err != nil {
			log.Printf("[task][create][rollback][err] path=%s: %v", a.StoragePath, err)
		}
	}
}

func (s *taskService) UpdateTask(ctx context.Context, ownerID, taskID string, upd models.TaskUpdate) (*models.TaskResponse, error) {
	if _, err := s.ownedTask(ctx, ownerID, taskID, ErrForbiddenUpdate); err != nil {
		return nil, err
	}
	if errs := upd.Validate(); len(errs) > 0 {
		return nil, validationError(errs...)
	}

	updated, err := s.repo.UpdateFields(ctx, taskID, upd)
	if err != nil {
		var verr *repositories.ValidationError
		switch {
		case errors.As(err, &verr):
			return nil, validationError(verr.Fields...)
		case errors.Is(err, repositories.ErrNotFound):
			return nil, ErrTaskNotFound
		}
		return nil, unexpected("Failed to update task", err)
	}
	return models.NewTaskResponse(updated), nil
}

// DeleteTask removes attachment files best-effort, then the record. File
// cleanup failures are logged and never block the record removal.
func (s *taskService) DeleteTask(ctx context.Context, ownerID, taskID string) error {
	task, err := s.ownedTask(ctx, ownerID, taskID, ErrForbiddenDelete)
	if err != nil {
		return err
	}

	for _, a := range task.Attachments {
		exists, err := s.store.Exists(a.StoragePath)
		if err != nil {
			log.Printf("[task][delete][warn] task=%s attachment=%s stat: %v", task.ID, a.ID, err)
		} else if !exists {
			log.Printf("[task][delete][warn] task=%s attachment=%s already absent path=%s", task.ID, a.ID, a.StoragePath)
			continue
		}
		if err := s.store.Delete(a.StoragePath); err != nil {
			log.Printf("[task][delete][warn] task=%s attachment=%s remove: %v", task.ID, a.ID, err)
		}
	}

	if err := s.repo.Delete(ctx, task.ID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return ErrTaskNotFound
		}
		return unexpected("Failed to delete task", err)
	}

	if s.notifier != nil {
		s.notifier.TaskDeleted(ctx, task)
	}
	return nil
}

func (s *taskService) DownloadAttachment(ctx context.Context, ownerID, taskID, attachmentID string) (*Download, error) {
	_, att, err := s.ownedAttachment(ctx, ownerID, taskID, attachmentID)
	if err != nil {
		return nil, err
	}
	f, err := s.store.Open(att.StoragePath)
	if err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			return nil, ErrFileNotFound
		}
		return nil, storageError("Failed to open attachment", err)
	}
	return &Download{File: f, OriginalName: att.OriginalName, MimeType: att.MimeType, Size: att.Size}, nil
}

func (s *taskService) DeleteAttachment(ctx context.Context, ownerID, taskID, attachmentID string) (*models.TaskResponse, error) {
	task, att, err := s.ownedAttachment(ctx, ownerID, taskID, attachmentID)
	if err != nil {
		return nil, err
	}

	exists, err := s.store.Exists(att.StoragePath)
	if err != nil {
		return nil, storageError("Failed to check attachment file", err)
	}
	if exists {
		if err := s.store.Delete(att.StoragePath); err != nil {
			return nil, storageError("Failed to delete attachment file", err)
		}
	} else {
		log.Printf("[task][attachment][delete] task=%s attachment=%s file already absent", task.ID, att.ID)
	}

	updated, err := s.repo.RemoveAttachment(ctx, task.ID, att.ID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrAttachmentNotFound
		}
		return nil, unexpected("Failed to delete attachment", err)
	}
	return models.NewTaskResponse(updated), nil
}

// ownedTask loads the task and checks ownership, returning denied for a
// foreign task. Existence is always checked before ownership.
func (s *taskService) ownedTask(ctx context.Context, ownerID, taskID string, denied *Error) (*models.Task, error) {
	task, err := s.repo.FindByID(ctx, taskID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, unexpected("Failed to load task", err)
	}
	if task.OwnerID != ownerID {
		return nil, denied
	}
	return task, nil
}

func (s *taskService) ownedAttachment(ctx context.Context, ownerID, taskID, attachmentID string) (*models.Task, *models.Attachment, error) {
	task, err := s.ownedTask(ctx, ownerID, taskID, ErrForbidden)
	if err != nil {
		return nil, nil, err
	}
	i := task.FindAttachment(attachmentID)
	if i < 0 {
		return nil, nil, ErrAttachmentNotFound
	}
	return task, &task.Attachments[i], nil
}
