package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"taskflow/internal/models"
	"taskflow/internal/repositories"
	"taskflow/internal/storage"
)

type fixture struct {
	svc   TaskService
	repo  repositories.TaskRepository
	store storage.AttachmentStore
}

func newFixture(t *testing.T, wrap func(storage.AttachmentStore) storage.AttachmentStore) *fixture {
	t.Helper()
	db, err := repositories.Open("sqlite", filepath.Join(t.TempDir(), "svc.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	var store storage.AttachmentStore = storage.NewFileStore(afero.NewMemMapFs())
	if wrap != nil {
		store = wrap(store)
	}
	repo := repositories.NewTaskRepository(db)
	return &fixture{svc: NewTaskService(repo, store, 1<<20, nil), repo: repo, store: store}
}

func upload(name, body string) Upload {
	return Upload{OriginalName: name, MimeType: "text/plain", Size: int64(len(body)), Content: strings.NewReader(body)}
}

// failingPutStore fails the failAt-th Put (1-based) and records every path it wrote.
type failingPutStore struct {
	storage.AttachmentStore
	failAt  int
	puts    int
	written []string
}

func (s *failingPutStore) Put(content io.Reader, name string) (*storage.StoredFile, error) {
	s.puts++
	if s.puts == s.failAt {
		return nil, errors.New("disk full")
	}
	sf, err := s.AttachmentStore.Put(content, name)
	if err == nil {
		s.written = append(s.written, sf.StoragePath)
	}
	return sf, err
}

type failingDeleteStore struct {
	storage.AttachmentStore
}

func (s *failingDeleteStore) Delete(string) error { return errors.New("permission denied") }

type failingInsertRepo struct {
	repositories.TaskRepository
}

func (r *failingInsertRepo) Insert(context.Context, *models.Task) error {
	return errors.New("connection reset")
}

func TestCreateAndGetRoundTrip(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	created, err := f.svc.CreateTask(ctx, "alice", models.NewTask{Title: "  Write report  ", Description: "quarterly"},
		[]Upload{upload("notes.txt", "hello"), upload("data.csv", "a,b")})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if created.Title != "Write report" {
		t.Fatalf("title = %q, want trimmed", created.Title)
	}
	if created.Status != models.StatusPending || created.Priority != models.PriorityMedium {
		t.Fatalf("defaults = %s/%s", created.Status, created.Priority)
	}
	if len(created.Attachments) != 2 {
		t.Fatalf("attachments = %d, want 2", len(created.Attachments))
	}

	got, err := f.svc.GetTask(ctx, "alice", created.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Title != created.Title || got.Description != "quarterly" || got.Owner != "alice" {
		t.Fatalf("got %+v", got)
	}
	if got.Attachments[0].OriginalName != "notes.txt" || got.Attachments[1].OriginalName != "data.csv" {
		t.Fatalf("attachment order = %+v", got.Attachments)
	}
	if got.Attachments[0].Size != 5 {
		t.Fatalf("size = %d, want 5", got.Attachments[0].Size)
	}
}

func TestListNeverReturnsOtherOwnersTasks(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if _, err := f.svc.CreateTask(ctx, "alice", models.NewTask{Title: "private"}, nil); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	list, err := f.svc.ListTasks(ctx, "bob", models.TaskFilter{}, models.NewTaskSort("", ""))
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("bob sees %d tasks", len(list))
	}
}

func TestNotFoundBeforeForbidden(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.GetTask(ctx, "bob", "00000000-0000-0000-0000-000000000000")
	if !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("missing task: err = %v, want not found", err)
	}

	task, err := f.svc.CreateTask(ctx, "alice", models.NewTask{Title: "mine"}, nil)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	_, err = f.svc.GetTask(ctx, "bob", task.ID)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("foreign task: err = %v, want forbidden", err)
	}
	if err := f.svc.DeleteTask(ctx, "bob", task.ID); !errors.Is(err, ErrForbiddenDelete) {
		t.Fatalf("DeleteTask: err = %v, want forbidden", err)
	}
	title := "stolen"
	if _, err := f.svc.UpdateTask(ctx, "bob", task.ID, models.TaskUpdate{Title: &title}); !errors.Is(err, ErrForbiddenUpdate) {
		t.Fatalf("UpdateTask: err = %v, want forbidden", err)
	}
}

func TestMissingTaskIsNotFoundForEveryOperation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	missing := "00000000-0000-0000-0000-000000000000"

	title := "x"
	if _, err := f.svc.UpdateTask(ctx, "bob", missing, models.TaskUpdate{Title: &title}); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("UpdateTask: err = %v, want not found", err)
	}
	if err := f.svc.DeleteTask(ctx, "bob", missing); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("DeleteTask: err = %v, want not found", err)
	}
	if _, err := f.svc.DownloadAttachment(ctx, "bob", missing, "a"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("DownloadAttachment: err = %v, want not found", err)
	}
	if _, err := f.svc.DeleteAttachment(ctx, "bob", missing, "a"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("DeleteAttachment: err = %v, want not found", err)
	}
}

func TestForeignAttachmentsAreForbidden(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	task, err := f.svc.CreateTask(ctx, "alice", models.NewTask{Title: "mine"}, []Upload{upload("a.txt", "secret")})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	att := task.Attachments[0]

	if _, err := f.svc.DownloadAttachment(ctx, "bob", task.ID, att.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("DownloadAttachment: err = %v, want forbidden", err)
	}
	if _, err := f.svc.DeleteAttachment(ctx, "bob", task.ID, att.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("DeleteAttachment: err = %v, want forbidden", err)
	}
	// ownership is checked before the attachment lookup
	if _, err := f.svc.DownloadAttachment(ctx, "bob", task.ID, "nope"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("unknown attachment on foreign task: err = %v, want forbidden", err)
	}

	got, err := f.svc.GetTask(ctx, "alice", task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if len(got.Attachments) != 1 {
		t.Fatalf("attachment removed by a stranger")
	}
}

func TestCreateRollsBackStagedFilesOnInsertFailure(t *testing.T) {
	var spy *failingPutStore
	f := newFixture(t, func(s storage.AttachmentStore) storage.AttachmentStore {
		spy = &failingPutStore{AttachmentStore: s}
		return spy
	})
	svc := NewTaskService(&failingInsertRepo{TaskRepository: f.repo}, f.store, 1<<20, nil)
	ctx := context.Background()

	_, err := svc.CreateTask(ctx, "alice", models.NewTask{Title: "t"},
		[]Upload{upload("a.txt", "a"), upload("b.txt", "b")})
	if KindOf(err) != KindUnexpected {
		t.Fatalf("err = %v, want unexpected", err)
	}
	if len(spy.written) != 2 {
		t.Fatalf("written = %d, want 2", len(spy.written))
	}
	for _, p := range spy.written {
		ok, err := f.store.Exists(p)
		if err != nil {
			t.Fatalf("Exists: %v", err)
		}
		if ok {
			t.Fatalf("staged file %s survived failed insert", p)
		}
	}
}

func TestCreateRejectsTooManyFilesWithoutWriting(t *testing.T) {
	var spy *failingPutStore
	f := newFixture(t, func(s storage.AttachmentStore) storage.AttachmentStore {
		spy = &failingPutStore{AttachmentStore: s}
		return spy
	})

	files := make([]Upload, models.MaxAttachments+1)
	for i := range files {
		files[i] = upload("f.txt", "x")
	}
	_, err := f.svc.CreateTask(context.Background(), "alice", models.NewTask{Title: "t"}, files)
	if KindOf(err) != KindValidation {
		t.Fatalf("err = %v, want validation", err)
	}
	if spy.puts != 0 {
		t.Fatalf("store received %d puts", spy.puts)
	}
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t, nil)
	cases := []struct {
		name  string
		owner string
		in    models.NewTask
	}{
		{"blank title", "alice", models.NewTask{Title: "   "}},
		{"no owner", "", models.NewTask{Title: "t"}},
		{"bad status", "alice", models.NewTask{Title: "t", Status: "done"}},
		{"bad priority", "alice", models.NewTask{Title: "t", Priority: "urgent"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.CreateTask(context.Background(), tc.owner, tc.in, nil)
			if KindOf(err) != KindValidation {
				t.Fatalf("err = %v, want validation", err)
			}
		})
	}
}

func TestCreateRollsBackStagedFilesOnPutFailure(t *testing.T) {
	var spy *failingPutStore
	f := newFixture(t, func(s storage.AttachmentStore) storage.AttachmentStore {
		spy = &failingPutStore{AttachmentStore: s, failAt: 3}
		return spy
	})
	ctx := context.Background()

	_, err := f.svc.CreateTask(ctx, "alice", models.NewTask{Title: "t"},
		[]Upload{upload("a.txt", "a"), upload("b.txt", "b"), upload("c.txt", "c")})
	if KindOf(err) != KindStorage {
		t.Fatalf("err = %v, want storage", err)
	}
	if len(spy.written) != 2 {
		t.Fatalf("written = %d, want 2", len(spy.written))
	}
	for _, p := range spy.written {
		ok, err := f.store.Exists(p)
		if err != nil {
			t.Fatalf("Exists: %v", err)
		}
		if ok {
			t.Fatalf("staged file %s survived rollback", p)
		}
	}
	list, err := f.svc.ListTasks(ctx, "alice", models.TaskFilter{}, models.NewTaskSort("", ""))
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("task persisted after failed create")
	}
}

func TestCreateRejectsOversizedContent(t *testing.T) {
	f := newFixture(t, nil)
	big := bytes.Repeat([]byte("x"), (1<<20)+1)
	// declared size unknown, so the limit is enforced while reading
	_, err := f.svc.CreateTask(context.Background(), "alice", models.NewTask{Title: "t"},
		[]Upload{{OriginalName: "big.bin", Size: -1, Content: bytes.NewReader(big)}})
	if KindOf(err) != KindValidation {
		t.Fatalf("err = %v, want validation", err)
	}
}

func TestUpdateStatusLeavesOtherFields(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	task, err := f.svc.CreateTask(ctx, "alice", models.NewTask{Title: "keep", Description: "desc", Priority: models.PriorityHigh},
		[]Upload{upload("a.txt", "a")})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	status := models.StatusCompleted
	updated, err := f.svc.UpdateTask(ctx, "alice", task.ID, models.TaskUpdate{Status: &status})
	if err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	if updated.Status != models.StatusCompleted {
		t.Fatalf("status = %s", updated.Status)
	}
	if updated.Title != "keep" || updated.Description != "desc" || updated.Priority != models.PriorityHigh {
		t.Fatalf("other fields changed: %+v", updated)
	}
	if len(updated.Attachments) != 1 {
		t.Fatalf("attachments = %d, want 1", len(updated.Attachments))
	}
	if !updated.CreatedAt.Equal(task.CreatedAt) {
		t.Fatalf("createdAt changed")
	}
}

func TestUpdateRejectsBlankTitle(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	task, err := f.svc.CreateTask(ctx, "alice", models.NewTask{Title: "orig"}, nil)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	blank := "  "
	if _, err := f.svc.UpdateTask(ctx, "alice", task.ID, models.TaskUpdate{Title: &blank}); KindOf(err) != KindValidation {
		t.Fatalf("err = %v, want validation", err)
	}
	got, _ := f.svc.GetTask(ctx, "alice", task.ID)
	if got.Title != "orig" {
		t.Fatalf("title = %q after rejected update", got.Title)
	}
}

func TestSearchMatchesTitleOrDescription(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	for _, in := range []models.NewTask{
		{Title: "Buy FOOD"},
		{Title: "other", Description: "seafood dinner"},
		{Title: "unrelated"},
	} {
		if _, err := f.svc.CreateTask(ctx, "alice", in, nil); err != nil {
			t.Fatalf("CreateTask: %v", err)
		}
	}
	list, err := f.svc.ListTasks(ctx, "alice", models.TaskFilter{Search: "foo"}, models.NewTaskSort("title", "asc"))
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(list) != 2 || list[0].Title != "Buy FOOD" || list[1].Title != "other" {
		t.Fatalf("search result = %+v", list)
	}
}

func TestDeleteTaskToleratesMissingFile(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	task, err := f.svc.CreateTask(ctx, "alice", models.NewTask{Title: "t"},
		[]Upload{upload("gone.txt", "a"), upload("kept.txt", "b")})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	stored, err := f.repo.FindByID(ctx, task.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if err := f.store.Delete(stored.Attachments[0].StoragePath); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if err := f.svc.DeleteTask(ctx, "alice", task.ID); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	if ok, _ := f.store.Exists(stored.Attachments[1].StoragePath); ok {
		t.Fatalf("surviving file was not removed")
	}
	if _, err := f.svc.GetTask(ctx, "alice", task.ID); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("GetTask after delete: %v", err)
	}
}

func TestDeleteAttachmentRemovesOnlyTarget(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	task, err := f.svc.CreateTask(ctx, "alice", models.NewTask{Title: "t"},
		[]Upload{upload("a.txt", "a"), upload("b.txt", "b"), upload("c.txt", "c")})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	stored, _ := f.repo.FindByID(ctx, task.ID)
	target := task.Attachments[1]

	updated, err := f.svc.DeleteAttachment(ctx, "alice", task.ID, target.ID)
	if err != nil {
		t.Fatalf("DeleteAttachment: %v", err)
	}
	if len(updated.Attachments) != 2 {
		t.Fatalf("attachments = %d, want 2", len(updated.Attachments))
	}
	if updated.Attachments[0].ID != task.Attachments[0].ID || updated.Attachments[1].ID != task.Attachments[2].ID {
		t.Fatalf("wrong survivors: %+v", updated.Attachments)
	}
	if ok, _ := f.store.Exists(stored.Attachments[1].StoragePath); ok {
		t.Fatalf("target file still exists")
	}
	for _, i := range []int{0, 2} {
		if ok, _ := f.store.Exists(stored.Attachments[i].StoragePath); !ok {
			t.Fatalf("sibling file %d removed", i)
		}
	}

	if _, err := f.svc.DeleteAttachment(ctx, "alice", task.ID, target.ID); !errors.Is(err, ErrAttachmentNotFound) {
		t.Fatalf("second delete: err = %v, want attachment not found", err)
	}
}

func TestDeleteAttachmentKeepsMetadataWhenFileDeleteFails(t *testing.T) {
	f := newFixture(t, func(s storage.AttachmentStore) storage.AttachmentStore {
		return &failingDeleteStore{AttachmentStore: s}
	})
	ctx := context.Background()

	task, err := f.svc.CreateTask(ctx, "alice", models.NewTask{Title: "t"}, []Upload{upload("a.txt", "a")})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	_, err = f.svc.DeleteAttachment(ctx, "alice", task.ID, task.Attachments[0].ID)
	if KindOf(err) != KindStorage {
		t.Fatalf("err = %v, want storage", err)
	}
	got, _ := f.svc.GetTask(ctx, "alice", task.ID)
	if len(got.Attachments) != 1 {
		t.Fatalf("metadata removed despite failed file delete")
	}
}

func TestDownloadAttachment(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	task, err := f.svc.CreateTask(ctx, "alice", models.NewTask{Title: "t"}, []Upload{upload("Report Final.txt", "payload")})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	att := task.Attachments[0]

	dl, err := f.svc.DownloadAttachment(ctx, "alice", task.ID, att.ID)
	if err != nil {
		t.Fatalf("DownloadAttachment: %v", err)
	}
	body, err := io.ReadAll(dl.File)
	dl.File.Close()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(body) != "payload" || dl.OriginalName != "Report Final.txt" || dl.MimeType != "text/plain" {
		t.Fatalf("download = %q %q %q", body, dl.OriginalName, dl.MimeType)
	}

	if _, err := f.svc.DownloadAttachment(ctx, "alice", task.ID, "nope"); !errors.Is(err, ErrAttachmentNotFound) {
		t.Fatalf("unknown attachment: err = %v", err)
	}

	stored, _ := f.repo.FindByID(ctx, task.ID)
	if err := f.store.Delete(stored.Attachments[0].StoragePath); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := f.svc.DownloadAttachment(ctx, "alice", task.ID, att.ID); !errors.Is(err, ErrFileNotFound) {
		t.Fatalf("missing file: err = %v, want file not found", err)
	}
}
