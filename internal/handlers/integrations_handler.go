package handlers

import (
	"context"
	"crypto/subtle"
	"log"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gin-gonic/gin"

	"taskflow/internal/services"
)

// TelegramLinker is the part of the Telegram service the endpoints need.
type TelegramLinker interface {
	RequestLink(ctx context.Context, userID string) (*services.LinkCode, error)
	HandleUpdate(ctx context.Context, upd tgbotapi.Update)
}

type IntegrationsHandler struct {
	tg            TelegramLinker
	webhookSecret string
}

func NewIntegrationsHandler(tg TelegramLinker, webhookSecret string) *IntegrationsHandler {
	return &IntegrationsHandler{tg: tg, webhookSecret: webhookSecret}
}

// Webhook always answers 200 to Telegram, otherwise the update is redelivered.
func (h *IntegrationsHandler) Webhook(c *gin.Context) {
	if h.webhookSecret != "" {
		got := c.GetHeader("X-Telegram-Bot-Api-Secret-Token")
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.webhookSecret)) != 1 {
			log.Printf("[tg][webhook][deny] bad secret token")
			c.Status(http.StatusUnauthorized)
			return
		}
	}
	var upd tgbotapi.Update
	if err := c.ShouldBindJSON(&upd); err != nil {
		log.Printf("[tg][webhook][bind][err] %v", err)
		c.Status(http.StatusOK)
		return
	}
	h.tg.HandleUpdate(c.Request.Context(), upd)
	c.Status(http.StatusOK)
}

// @Summary      Код привязки Telegram
// @Description  Одноразовый код; отправьте боту /link <код>
// @Tags         Integrations
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  map[string]interface{}
// @Router       /api/integrations/telegram/link [post]
func (h *IntegrationsHandler) RequestTelegramLink(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	code, err := h.tg.RequestLink(c.Request.Context(), userID)
	if err != nil {
		respondError(c, "[tg][link]", err)
		return
	}
	log.Printf("[tg][link][ok] user=%s expires=%s", userID, code.ExpiresAt)
	respond(c, http.StatusOK, code, "Send /link <code> to the bot")
}
