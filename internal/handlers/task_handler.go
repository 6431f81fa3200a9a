package handlers

import (
	"bytes"
	"io"
	"log"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"

	"taskflow/internal/models"
	"taskflow/internal/pdf"
	"taskflow/internal/services"
)

// multipart overhead allowance on top of the file payload
const formOverhead = 1 << 20

type TaskHandler struct {
	service services.TaskService
	users   services.UserService
	report  pdf.Generator

	maxBody int64
}

// NewTaskHandler wires the task endpoints. maxFileSize bounds a single
// attachment; the request body is capped at MaxAttachments of them.
func NewTaskHandler(service services.TaskService, users services.UserService, report pdf.Generator, maxFileSize int64) *TaskHandler {
	h := &TaskHandler{service: service, users: users, report: report}
	if maxFileSize > 0 {
		h.maxBody = maxFileSize*models.MaxAttachments + formOverhead
	}
	return h
}

type createTaskForm struct {
	Title       string `form:"title" json:"title"`
	Description string `form:"description" json:"description"`
	Status      string `form:"status" json:"status"`
	Priority    string `form:"priority" json:"priority"`
	DueDate     string `form:"dueDate" json:"dueDate"`
}

type updateTaskRequest struct {
	Title       *string              `json:"title"`
	Description *string              `json:"description"`
	Status      *models.TaskStatus   `json:"status"`
	Priority    *models.TaskPriority `json:"priority"`
	DueDate     *string              `json:"dueDate"` // "" снимает срок
}

func queryOptions(c *gin.Context) (models.TaskFilter, models.TaskSort) {
	var f models.TaskFilter
	if v := strings.TrimSpace(c.Query("status")); v != "" {
		st := models.TaskStatus(v)
		f.Status = &st
	}
	if v := strings.TrimSpace(c.Query("priority")); v != "" {
		p := models.TaskPriority(v)
		f.Priority = &p
	}
	f.Search = c.Query("search")
	return f, models.NewTaskSort(c.Query("sortBy"), c.Query("order"))
}

// @Summary      Список задач
// @Description  Задачи текущего пользователя с фильтрами и сортировкой
// @Tags         Tasks
// @Produce      json
// @Security     BearerAuth
// @Param        status    query  string  false  "pending | in-progress | completed"
// @Param        priority  query  string  false  "low | medium | high"
// @Param        search    query  string  false  "подстрока в title/description"
// @Param        sortBy    query  string  false  "createdAt | updatedAt | dueDate | title | status | priority"
// @Param        order     query  string  false  "asc | desc"
// @Success      200  {object}  map[string]interface{}
// @Failure      401  {object}  map[string]interface{}
// @Router       /api/tasks [get]
func (h *TaskHandler) List(c *gin.Context) {
	owner, ok := currentUser(c)
	if !ok {
		return
	}
	filter, sort := queryOptions(c)
	log.Printf("[task][list] call by owner=%s search=%q sortBy=%s order=%s", owner, filter.Search, sort.By, sort.Order)

	tasks, err := h.service.ListTasks(c.Request.Context(), owner, filter, sort)
	if err != nil {
		respondError(c, "[task][list]", err)
		return
	}
	log.Printf("[task][list][ok] count=%d", len(tasks))
	respondList(c, tasks)
}

// @Summary      Получить задачу
// @Tags         Tasks
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "ID задачи"
// @Success      200  {object}  map[string]interface{}
// @Failure      403  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]interface{}
// @Router       /api/tasks/{id} [get]
func (h *TaskHandler) GetByID(c *gin.Context) {
	owner, ok := currentUser(c)
	if !ok {
		return
	}
	id := c.Param("id")
	log.Printf("[task][get] call by owner=%s id=%s", owner, id)

	task, err := h.service.GetTask(c.Request.Context(), owner, id)
	if err != nil {
		respondError(c, "[task][get]", err)
		return
	}
	respond(c, http.StatusOK, task, "")
}

// @Summary      Создать задачу
// @Description  multipart/form-data; до 5 файлов в поле attachments
// @Tags         Tasks
// @Accept       multipart/form-data
// @Produce      json
// @Security     BearerAuth
// @Param        title        formData  string  true   "Заголовок"
// @Param        description  formData  string  false  "Описание"
// @Param        status       formData  string  false  "pending | in-progress | completed"
// @Param        priority     formData  string  false  "low | medium | high"
// @Param        dueDate      formData  string  false  "RFC3339 или YYYY-MM-DD"
// @Param        attachments  formData  file    false  "Вложения"
// @Success      201  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]interface{}
// @Router       /api/tasks [post]
func (h *TaskHandler) Create(c *gin.Context) {
	owner, ok := currentUser(c)
	if !ok {
		return
	}
	log.Printf("[task][create] call by owner=%s", owner)

	if h.maxBody > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBody)
	}
	var form createTaskForm
	if err := c.ShouldBind(&form); err != nil {
		bindFailed(c, "[task][create]", err)
		return
	}

	in := models.NewTask{
		Title:       form.Title,
		Description: form.Description,
		Status:      models.TaskStatus(strings.TrimSpace(form.Status)),
		Priority:    models.TaskPriority(strings.TrimSpace(form.Priority)),
	}
	if strings.TrimSpace(form.DueDate) != "" {
		due, err := parseDueDate(form.DueDate)
		if err != nil {
			log.Printf("[task][create][err] invalid dueDate=%q: %v", form.DueDate, err)
			fail(c, http.StatusBadRequest, dueDateError.Msg, dueDateError)
			return
		}
		in.DueDate = due
	}

	uploads, closeAll, err := openUploads(c.Request.MultipartForm)
	defer closeAll()
	if err != nil {
		log.Printf("[task][create][err] open uploads: %v", err)
		fail(c, http.StatusBadRequest, "Failed to read attachments")
		return
	}
	log.Printf("[task][create] payload title=%q status=%q priority=%q files=%d", in.Title, in.Status, in.Priority, len(uploads))

	task, err := h.service.CreateTask(c.Request.Context(), owner, in, uploads)
	if err != nil {
		respondError(c, "[task][create]", err)
		return
	}
	log.Printf("[task][create][ok] id=%s attachments=%d", task.ID, len(task.Attachments))
	respond(c, http.StatusCreated, task, "")
}

// openUploads opens every file of the attachments field. The returned func
// closes whatever was opened and is always safe to call.
func openUploads(form *multipart.Form) ([]services.Upload, func(), error) {
	var opened []multipart.File
	closeAll := func() {
		for _, f := range opened {
			f.Close()
		}
	}
	if form == nil {
		return nil, closeAll, nil
	}
	headers := form.File["attachments"]
	uploads := make([]services.Upload, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return nil, closeAll, err
		}
		opened = append(opened, f)

		mt, err := detectType(fh.Header.Get("Content-Type"), f)
		if err != nil {
			return nil, closeAll, err
		}
		uploads = append(uploads, services.Upload{
			OriginalName: fh.Filename,
			MimeType:     mt,
			Size:         fh.Size,
			Content:      f,
		})
	}
	return uploads, closeAll, nil
}

// detectType keeps the declared type unless it is missing or generic, in which
// case the content is sniffed and rewound.
func detectType(declared string, f io.ReadSeeker) (string, error) {
	declared = strings.TrimSpace(declared)
	if declared != "" && declared != "application/octet-stream" {
		return declared, nil
	}
	mt, err := mimetype.DetectReader(f)
	if err != nil {
		return "", err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	return mt.String(), nil
}

// @Summary      Обновить задачу
// @Tags         Tasks
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id    path  string             true  "ID задачи"
// @Param        task  body  updateTaskRequest  true  "Изменяемые поля"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]interface{}
// @Failure      403  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]interface{}
// @Router       /api/tasks/{id} [put]
func (h *TaskHandler) Update(c *gin.Context) {
	owner, ok := currentUser(c)
	if !ok {
		return
	}
	id := c.Param("id")
	log.Printf("[task][update] call by owner=%s id=%s", owner, id)

	var req updateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindFailed(c, "[task][update]", err)
		return
	}
	upd := models.TaskUpdate{
		Title:       req.Title,
		Description: req.Description,
		Status:      req.Status,
		Priority:    req.Priority,
	}
	if req.DueDate != nil {
		if strings.TrimSpace(*req.DueDate) == "" {
			upd.ClearDueDate = true
		} else {
			due, err := parseDueDate(*req.DueDate)
			if err != nil {
				log.Printf("[task][update][err] invalid dueDate=%q: %v", *req.DueDate, err)
				fail(c, http.StatusBadRequest, dueDateError.Msg, dueDateError)
				return
			}
			upd.DueDate = due
		}
	}

	task, err := h.service.UpdateTask(c.Request.Context(), owner, id, upd)
	if err != nil {
		respondError(c, "[task][update]", err)
		return
	}
	log.Printf("[task][update][ok] id=%s", task.ID)
	respond(c, http.StatusOK, task, "")
}

// @Summary      Удалить задачу
// @Tags         Tasks
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "ID задачи"
// @Success      200  {object}  map[string]interface{}
// @Failure      403  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]interface{}
// @Router       /api/tasks/{id} [delete]
func (h *TaskHandler) Delete(c *gin.Context) {
	owner, ok := currentUser(c)
	if !ok {
		return
	}
	id := c.Param("id")
	log.Printf("[task][delete] call by owner=%s id=%s", owner, id)

	if err := h.service.DeleteTask(c.Request.Context(), owner, id); err != nil {
		respondError(c, "[task][delete]", err)
		return
	}
	log.Printf("[task][delete][ok] id=%s", id)
	respond(c, http.StatusOK, gin.H{}, "Task deleted successfully")
}

// @Summary      Скачать вложение
// @Tags         Tasks
// @Produce      octet-stream
// @Security     BearerAuth
// @Param        id            path  string  true  "ID задачи"
// @Param        attachmentId  path  string  true  "ID вложения"
// @Success      200  {file}    file
// @Failure      404  {object}  map[string]interface{}
// @Router       /api/tasks/{id}/attachments/{attachmentId} [get]
func (h *TaskHandler) DownloadAttachment(c *gin.Context) {
	owner, ok := currentUser(c)
	if !ok {
		return
	}
	id, aid := c.Param("id"), c.Param("attachmentId")
	log.Printf("[task][attachment][download] call by owner=%s id=%s attachment=%s", owner, id, aid)

	dl, err := h.service.DownloadAttachment(c.Request.Context(), owner, id, aid)
	if err != nil {
		respondError(c, "[task][attachment][download]", err)
		return
	}
	defer dl.File.Close()

	modTime := time.Time{}
	if info, err := dl.File.Stat(); err == nil {
		modTime = info.ModTime()
	}
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": dl.OriginalName}))
	if dl.MimeType != "" {
		c.Header("Content-Type", dl.MimeType)
	}
	http.ServeContent(c.Writer, c.Request, dl.OriginalName, modTime, dl.File)
}

// @Summary      Удалить вложение
// @Tags         Tasks
// @Produce      json
// @Security     BearerAuth
// @Param        id            path  string  true  "ID задачи"
// @Param        attachmentId  path  string  true  "ID вложения"
// @Success      200  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]interface{}
// @Router       /api/tasks/{id}/attachments/{attachmentId} [delete]
func (h *TaskHandler) DeleteAttachment(c *gin.Context) {
	owner, ok := currentUser(c)
	if !ok {
		return
	}
	id, aid := c.Param("id"), c.Param("attachmentId")
	log.Printf("[task][attachment][delete] call by owner=%s id=%s attachment=%s", owner, id, aid)

	task, err := h.service.DeleteAttachment(c.Request.Context(), owner, id, aid)
	if err != nil {
		respondError(c, "[task][attachment][delete]", err)
		return
	}
	log.Printf("[task][attachment][delete][ok] id=%s left=%d", task.ID, len(task.Attachments))
	respond(c, http.StatusOK, task, "Attachment deleted successfully")
}

// @Summary      PDF-отчёт по задачам
// @Description  Те же фильтры и сортировка, что и у списка
// @Tags         Tasks
// @Produce      application/pdf
// @Security     BearerAuth
// @Success      200  {file}  file
// @Router       /api/tasks/report [get]
func (h *TaskHandler) Report(c *gin.Context) {
	owner, ok := currentUser(c)
	if !ok {
		return
	}
	filter, sort := queryOptions(c)
	log.Printf("[task][report] call by owner=%s", owner)

	tasks, err := h.service.ListTasks(c.Request.Context(), owner, filter, sort)
	if err != nil {
		respondError(c, "[task][report]", err)
		return
	}
	label := owner
	if h.users != nil {
		if u, err := h.users.Me(c.Request.Context(), owner); err == nil {
			label = u.Name + " <" + u.Email + ">"
		}
	}

	var buf bytes.Buffer
	if err := h.report.TaskReport(&buf, pdf.ReportData{Owner: label, Tasks: tasks, GeneratedAt: time.Now()}); err != nil {
		log.Printf("[task][report][err] render: %v", err)
		fail(c, http.StatusInternalServerError, "Failed to generate report")
		return
	}
	log.Printf("[task][report][ok] tasks=%d bytes=%d", len(tasks), buf.Len())
	c.Header("Content-Disposition", `attachment; filename="tasks-report.pdf"`)
	c.Data(http.StatusOK, "application/pdf", buf.Bytes())
}
