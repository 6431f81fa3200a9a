package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskflow/internal/models"
)

type TaskRepository interface {
	Find(ctx context.Context, ownerID string, filter models.TaskFilter, sort models.TaskSort) ([]models.Task, error)
	FindByID(ctx context.Context, id string) (*models.Task, error)
	Insert(ctx context.Context, task *models.Task) error
	UpdateFields(ctx context.Context, id string, upd models.TaskUpdate) (*models.Task, error)
	RemoveAttachment(ctx context.Context, taskID, attachmentID string) (*models.Task, error)
	Delete(ctx context.Context, id string) error
}

// ValidationError is returned by UpdateFields when a field value is rejected.
type ValidationError struct {
	Fields []models.FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, f.Param+": "+f.Msg)
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

type taskRepository struct {
	db  *DB
	now func() time.Time
}

func NewTaskRepository(db *DB) TaskRepository {
	return &taskRepository{db: db, now: utcNow}
}

const taskColumns = `id, owner_id, title, description, status, priority, due_date, created_at, updated_at`

var sortColumns = map[string][]string{
	"createdAt": {"created_at"},
	"updatedAt": {"updated_at"},
	"dueDate":   {"(due_date IS NULL)", "due_date"},
	"title":     {"title"},
	"status":    {"CASE status WHEN 'pending' THEN 0 WHEN 'in-progress' THEN 1 WHEN 'completed' THEN 2 ELSE 3 END"},
	"priority":  {"CASE priority WHEN 'low' THEN 0 WHEN 'medium' THEN 1 WHEN 'high' THEN 2 ELSE 3 END"},
}

// columns compared without case
var foldedSortColumns = map[string]bool{"title": true}

// orderBy renders the ORDER BY clause. Unknown fields fall back to
// createdAt; tasks without a due date always sort last.
func (r *taskRepository) orderBy(s models.TaskSort) (string, bool) {
	by := s.By
	cols, known := sortColumns[by]
	if !known {
		by = models.DefaultSortBy
		cols = sortColumns[by]
	}
	dir := "DESC"
	if s.Order == models.SortAsc {
		dir = "ASC"
	}
	parts := make([]string, 0, len(cols)+1)
	for _, c := range cols {
		if strings.HasSuffix(c, "IS NULL)") {
			parts = append(parts, c+" ASC")
			continue
		}
		if foldedSortColumns[by] {
			c = r.db.lower(c)
		}
		parts = append(parts, c+" "+dir)
	}
	parts = append(parts, "id ASC")
	return strings.Join(parts, ", "), known
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func (r *taskRepository) Find(ctx context.Context, ownerID string, filter models.TaskFilter, sort models.TaskSort) ([]models.Task, error) {
	q := strings.Builder{}
	q.WriteString("SELECT " + taskColumns + " FROM tasks WHERE owner_id = ?")
	args := []any{ownerID}

	if filter.Status != nil {
		q.WriteString(" AND status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.Priority != nil {
		q.WriteString(" AND priority = ?")
		args = append(args, string(*filter.Priority))
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		pattern := "%" + escapeLike(strings.ToLower(search)) + "%"
		q.WriteString(" AND (" + r.db.lower("title") + ` LIKE ? ESCAPE '\' OR ` + r.db.lower("description") + ` LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern)
	}

	order, known := r.orderBy(sort)
	if !known {
		log.Printf("[task][repo][warn] unknown sortBy=%q, using %s", sort.By, models.DefaultSortBy)
	}
	q.WriteString(" ORDER BY " + order)

	rows, err := r.db.QueryContext(ctx, r.db.rebind(q.String()), args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	if len(tasks) == 0 {
		return tasks, nil
	}

	ids := make([]string, len(tasks))
	for i := range tasks {
		ids[i] = tasks[i].ID
	}
	atts, err := r.loadAttachments(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range tasks {
		tasks[i].Attachments = atts[tasks[i].ID]
	}
	return tasks, nil
}

func (r *taskRepository) FindByID(ctx context.Context, id string) (*models.Task, error) {
	row := r.db.QueryRowContext(ctx, r.db.rebind("SELECT "+taskColumns+" FROM tasks WHERE id = ?"), id)
	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	atts, err := r.loadAttachments(ctx, []string{t.ID})
	if err != nil {
		return nil, err
	}
	t.Attachments = atts[t.ID]
	return t, nil
}

// Insert stores the task and its attachments in one transaction, assigning
// ids and timestamps.
func (r *taskRepository) Insert(ctx context.Context, task *models.Task) error {
	now := r.now()
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	task.Title = strings.TrimSpace(task.Title)
	task.CreatedAt = now
	task.UpdatedAt = now

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, r.db.rebind(`
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?)`),
		task.ID, task.OwnerID, task.Title, task.Description,
		string(task.Status), string(task.Priority), nullableTime(task.DueDate),
		task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert task %s: %w", task.ID, ErrDuplicate)
		}
		return fmt.Errorf("insert task: %w", err)
	}

	for i := range task.Attachments {
		a := &task.Attachments[i]
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		a.CreatedAt = now
		_, err = tx.ExecContext(ctx, r.db.rebind(`
			INSERT INTO task_attachments
				(id, task_id, sort_index, stored_name, original_name, storage_path, size, mime_type, created_at)
			VALUES (?,?,?,?,?,?,?,?,?)`),
			a.ID, task.ID, i, a.StoredName, a.OriginalName, a.StoragePath, a.Size, a.MimeType, a.CreatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("insert attachment %s: %w", a.StoragePath, ErrDuplicate)
			}
			return fmt.Errorf("insert attachment: %w", err)
		}
	}
	return tx.Commit()
}

// UpdateFields applies the whitelisted fields in a single statement after
// validating all of them.
func (r *taskRepository) UpdateFields(ctx context.Context, id string, upd models.TaskUpdate) (*models.Task, error) {
	if errs := upd.Validate(); len(errs) > 0 {
		return nil, &ValidationError{Fields: errs}
	}

	sets := []string{}
	args := []any{}
	if upd.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, strings.TrimSpace(*upd.Title))
	}
	if upd.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *upd.Description)
	}
	if upd.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*upd.Status))
	}
	if upd.Priority != nil {
		sets = append(sets, "priority = ?")
		args = append(args, string(*upd.Priority))
	}
	switch {
	case upd.ClearDueDate:
		sets = append(sets, "due_date = NULL")
	case upd.DueDate != nil:
		sets = append(sets, "due_date = ?")
		args = append(args, upd.DueDate.UTC())
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, r.now(), id)

	res, err := r.db.ExecContext(ctx,
		r.db.rebind("UPDATE tasks SET "+strings.Join(sets, ", ")+" WHERE id = ?"), args...)
	if err != nil {
		return nil, fmt.Errorf("update task %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if n == 0 {
		return nil, ErrNotFound
	}
	return r.FindByID(ctx, id)
}

func (r *taskRepository) RemoveAttachment(ctx context.Context, taskID, attachmentID string) (*models.Task, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		r.db.rebind(`DELETE FROM task_attachments WHERE task_id = ? AND id = ?`), taskID, attachmentID)
	if err != nil {
		return nil, fmt.Errorf("remove attachment %s: %w", attachmentID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if n == 0 {
		return nil, ErrNotFound
	}
	if _, err := tx.ExecContext(ctx,
		r.db.rebind(`UPDATE tasks SET updated_at = ? WHERE id = ?`), r.now(), taskID); err != nil {
		return nil, fmt.Errorf("touch task %s: %w", taskID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return r.FindByID(ctx, taskID)
}

func (r *taskRepository) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, r.db.rebind(`DELETE FROM task_attachments WHERE task_id = ?`), id); err != nil {
		return fmt.Errorf("delete attachments of %s: %w", id, err)
	}
	res, err := tx.ExecContext(ctx, r.db.rebind(`DELETE FROM tasks WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

func (r *taskRepository) loadAttachments(ctx context.Context, taskIDs []string) (map[string][]models.Attachment, error) {
	args := make([]any, len(taskIDs))
	for i, id := range taskIDs {
		args[i] = id
	}
	q := `SELECT task_id, id, stored_name, original_name, storage_path, size, mime_type, created_at
		FROM task_attachments WHERE task_id IN (` + placeholders(len(taskIDs)) + `)
		ORDER BY task_id, sort_index`
	rows, err := r.db.QueryContext(ctx, r.db.rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("load attachments: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]models.Attachment, len(taskIDs))
	for rows.Next() {
		var taskID string
		var a models.Attachment
		if err := rows.Scan(&taskID, &a.ID, &a.StoredName, &a.OriginalName,
			&a.StoragePath, &a.Size, &a.MimeType, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		a.CreatedAt = a.CreatedAt.UTC()
		out[taskID] = append(out[taskID], a)
	}
	return out, rows.Err()
}

// scanner abstracts sql.Row and sql.Rows for scanTask.
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(s scanner) (*models.Task, error) {
	var t models.Task
	var status, priority string
	var due sql.NullTime
	if err := s.Scan(&t.ID, &t.OwnerID, &t.Title, &t.Description, &status, &priority,
		&due, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Status = models.TaskStatus(status)
	t.Priority = models.TaskPriority(priority)
	t.DueDate = timeFromNull(due)
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return &t, nil
}
