package handlers

import (
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"taskflow/internal/models"
	"taskflow/internal/services"
)

type AuthHandler struct {
	userService services.UserService
}

func NewAuthHandler(userService services.UserService) *AuthHandler {
	return &AuthHandler{userService: userService}
}

// @Summary      Регистрация
// @Description  Создаёт пользователя и возвращает токен доступа
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        signup  body      models.SignupRequest  true  "Данные пользователя"
// @Success      201     {object}  map[string]interface{}
// @Failure      400     {object}  map[string]interface{}
// @Router       /api/auth/signup [post]
func (h *AuthHandler) Signup(c *gin.Context) {
	var req models.SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindFailed(c, "[auth][signup]", err)
		return
	}
	log.Printf("[auth][signup] attempt email=%q", strings.TrimSpace(req.Email))

	res, err := h.userService.Signup(c.Request.Context(), req)
	if err != nil {
		respondError(c, "[auth][signup]", err)
		return
	}
	log.Printf("[auth][signup][ok] id=%s", res.User.ID)
	respond(c, http.StatusCreated, res, "")
}

// @Summary      Вход в систему
// @Description  Аутентифицирует пользователя и возвращает токен доступа
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        login  body      models.LoginRequest  true  "Данные для входа"
// @Success      200    {object}  map[string]interface{}
// @Failure      400    {object}  map[string]interface{}
// @Failure      401    {object}  map[string]interface{}
// @Router       /api/auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindFailed(c, "[auth][login]", err)
		return
	}
	log.Printf("[auth][login] attempt email=%q", strings.TrimSpace(req.Email))

	res, err := h.userService.Login(c.Request.Context(), req)
	if err != nil {
		respondError(c, "[auth][login]", err)
		return
	}
	log.Printf("[auth][login][ok] id=%s", res.User.ID)
	respond(c, http.StatusOK, res, "")
}

// @Summary      Текущий пользователь
// @Tags         Auth
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  map[string]interface{}
// @Failure      401  {object}  map[string]interface{}
// @Router       /api/auth/me [get]
func (h *AuthHandler) Me(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	user, err := h.userService.Me(c.Request.Context(), userID)
	if err != nil {
		respondError(c, "[auth][me]", err)
		return
	}
	respond(c, http.StatusOK, user, "")
}

// @Summary      Обновить профиль
// @Description  name, email; telegramChatId принимает только 0 (отвязать Telegram)
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        profile  body      models.ProfileUpdate  true  "Изменяемые поля"
// @Success      200      {object}  map[string]interface{}
// @Failure      400      {object}  map[string]interface{}
// @Router       /api/auth/profile [put]
func (h *AuthHandler) UpdateProfile(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req models.ProfileUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		bindFailed(c, "[auth][profile]", err)
		return
	}
	log.Printf("[auth][profile] call by user=%s", userID)

	user, err := h.userService.UpdateProfile(c.Request.Context(), userID, req)
	if err != nil {
		respondError(c, "[auth][profile]", err)
		return
	}
	log.Printf("[auth][profile][ok] id=%s", user.ID)
	respond(c, http.StatusOK, user, "")
}
