package handlers

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"taskflow/internal/middleware"
	"taskflow/internal/models"
	"taskflow/internal/services"
)

// envelope is the common response shape for every JSON endpoint.
type envelope struct {
	Success bool                `json:"success"`
	Count   *int                `json:"count,omitempty"`
	Data    interface{}         `json:"data,omitempty"`
	Message string              `json:"message,omitempty"`
	Errors  []models.FieldError `json:"errors,omitempty"`
}

func respond(c *gin.Context, status int, data interface{}, message string) {
	c.JSON(status, envelope{Success: true, Data: data, Message: message})
}

func respondList(c *gin.Context, data []*models.TaskResponse) {
	n := len(data)
	c.JSON(http.StatusOK, envelope{Success: true, Count: &n, Data: data})
}

func fail(c *gin.Context, status int, message string, fields ...models.FieldError) {
	c.AbortWithStatusJSON(status, envelope{Success: false, Message: message, Errors: fields})
}

// respondError maps the service error taxonomy onto HTTP. Internal details of
// storage and unexpected failures are logged and never sent.
func respondError(c *gin.Context, op string, err error) {
	var se *services.Error
	if !errors.As(err, &se) {
		log.Printf("%s[err] %v", op, err)
		fail(c, http.StatusInternalServerError, "Server error")
		return
	}
	switch se.Kind {
	case services.KindValidation:
		log.Printf("%s[invalid] %v", op, err)
		fail(c, http.StatusBadRequest, se.Message, se.Fields...)
	case services.KindNotFound:
		log.Printf("%s[not_found] %s", op, se.Message)
		fail(c, http.StatusNotFound, se.Message)
	case services.KindForbidden:
		log.Printf("%s[deny] %s", op, se.Message)
		fail(c, http.StatusForbidden, se.Message)
	case services.KindUnauthorized:
		log.Printf("%s[deny] %s", op, se.Message)
		fail(c, http.StatusUnauthorized, se.Message)
	default:
		log.Printf("%s[err] %v", op, err)
		fail(c, http.StatusInternalServerError, "Server error")
	}
}

// bindFailed answers a gin binding error with field-level messages when the
// validator produced them.
func bindFailed(c *gin.Context, op string, err error) {
	log.Printf("%s[bind][err] %v", op, err)
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		tooLarge := models.FieldError{
			Param: "attachments",
			Msg:   fmt.Sprintf("Upload exceeds %d bytes", mbe.Limit),
		}
		fail(c, http.StatusBadRequest, tooLarge.Msg, tooLarge)
		return
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		fail(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	fields := make([]models.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, models.FieldError{Param: jsonName(fe.Field()), Msg: fieldMessage(fe)})
	}
	msg := "Validation failed"
	if len(fields) == 1 {
		msg = fields[0].Msg
	}
	fail(c, http.StatusBadRequest, msg, fields...)
}

func fieldMessage(fe validator.FieldError) string {
	name := jsonName(fe.Field())
	switch fe.Tag() {
	case "required":
		return strings.ToUpper(name[:1]) + name[1:] + " is required"
	case "email":
		return "Please provide a valid email"
	case "min":
		return strings.ToUpper(name[:1]) + name[1:] + " must be at least " + fe.Param() + " characters"
	}
	return "Invalid " + name
}

// TelegramChatID -> telegramChatId
func jsonName(field string) string {
	if field == "" {
		return field
	}
	if strings.HasSuffix(field, "ID") {
		field = strings.TrimSuffix(field, "ID") + "Id"
	}
	return strings.ToLower(field[:1]) + field[1:]
}

func currentUser(c *gin.Context) (string, bool) {
	id, ok := middleware.UserID(c)
	if !ok {
		fail(c, http.StatusUnauthorized, "Not authorized, no token")
	}
	return id, ok
}

// parseDueDate accepts RFC3339 or a bare date (YYYY-MM-DD, midnight UTC).
func parseDueDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		t = t.UTC()
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

var dueDateError = models.FieldError{Param: "dueDate", Msg: "Invalid due date (RFC3339 or YYYY-MM-DD)"}
