package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"taskflow/internal/models"
	"taskflow/internal/repositories"
	"taskflow/internal/utils"
)

type messageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// LinkTTL bounds how long a Telegram link code stays usable.
const LinkTTL = 15 * time.Minute

// TelegramService links Telegram chats to accounts and notifies task owners
// who linked one.
type TelegramService struct {
	bot     messageSender
	botName string
	users   repositories.UserRepository
	links   repositories.TelegramLinkRepository
	tasks   repositories.TaskRepository
}

// LinkCode is handed to the user to send to the bot.
type LinkCode struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expiresAt"`
	URL       string    `json:"url,omitempty"`
}

func NewTelegramService(botToken string, users repositories.UserRepository, links repositories.TelegramLinkRepository, tasks repositories.TaskRepository) (*TelegramService, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	log.Printf("[tg] authorized as @%s", bot.Self.UserName)
	return &TelegramService{bot: bot, botName: bot.Self.UserName, users: users, links: links, tasks: tasks}, nil
}

// RequestLink issues a one-time code binding the caller's account to the chat
// that sends it to the bot.
func (t *TelegramService) RequestLink(ctx context.Context, userID string) (*LinkCode, error) {
	code, err := utils.NewLinkCode()
	if err != nil {
		return nil, unexpected("Failed to generate link code", err)
	}
	l, err := t.links.Create(ctx, userID, code, LinkTTL)
	if err != nil {
		return nil, unexpected("Failed to create link code", err)
	}
	out := &LinkCode{Code: l.Code, ExpiresAt: l.ExpiresAt}
	if t.botName != "" {
		out.URL = "https://t.me/" + t.botName + "?start=" + l.Code
	}
	return out, nil
}

// HandleUpdate processes one incoming bot update: /start [code] and /link code.
func (t *TelegramService) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	msg := upd.Message
	if msg == nil || msg.Chat == nil {
		return
	}
	chatID := msg.Chat.ID
	log.Printf("[tg][webhook] chat=%d text=%q", chatID, msg.Text)

	if !msg.IsCommand() {
		return
	}
	switch msg.Command() {
	case "start":
		if arg := strings.TrimSpace(msg.CommandArguments()); arg != "" {
			t.link(ctx, chatID, arg)
			return
		}
		t.reply(chatID, "Hi! To link your TaskFlow account send:\n<code>/link &lt;code&gt;</code>\nYou can get a code in your profile.")
	case "link":
		t.link(ctx, chatID, msg.CommandArguments())
	default:
		t.reply(chatID, "Unknown command. Use <code>/link &lt;code&gt;</code>.")
	}
}

func (t *TelegramService) link(ctx context.Context, chatID int64, raw string) {
	code, ok := utils.NormalizeLinkCode(raw)
	if !ok {
		t.reply(chatID, fmt.Sprintf("Invalid code format. Send exactly %d hex characters:\n<code>/link 0123456789ABCDEF0123456789ABCDEF</code>", utils.LinkCodeLen))
		return
	}
	l, err := t.links.UseByCode(ctx, code)
	if err != nil {
		if !errors.Is(err, repositories.ErrNotFound) {
			log.Printf("[tg][link][err] use code: %v", err)
		}
		t.reply(chatID, "The code is invalid or expired. Generate a new one in your profile.")
		return
	}
	user, err := t.users.GetByID(ctx, l.UserID)
	if err == nil {
		user.TelegramChatID = &chatID
		err = t.users.Update(ctx, user)
	}
	if err != nil {
		log.Printf("[tg][link][err] user=%s chat=%d: %v", l.UserID, chatID, err)
		t.reply(chatID, "Could not link the account, please try again later.")
		return
	}
	log.Printf("[tg][link][ok] user=%s chat=%d", l.UserID, chatID)
	t.reply(chatID, "Done! Your account is linked. You will get notifications about your tasks.")
	t.sendDigest(ctx, chatID, l.UserID)
}

// sendDigest lists the user's open tasks, nearest due date first.
func (t *TelegramService) sendDigest(ctx context.Context, chatID int64, userID string) {
	if t.tasks == nil {
		return
	}
	tasks, err := t.tasks.Find(ctx, userID, models.TaskFilter{}, models.TaskSort{By: "dueDate", Order: models.SortAsc})
	if err != nil {
		log.Printf("[tg][digest][err] user=%s: %v", userID, err)
		return
	}
	var b strings.Builder
	n := 0
	for i := range tasks {
		if tasks[i].Status == models.StatusCompleted {
			continue
		}
		if n == digestSize {
			break
		}
		n++
		due := ""
		if tasks[i].DueDate != nil {
			due = " (" + tasks[i].DueDate.Format("2006-01-02") + ")"
		}
		b.WriteString("• " + html.EscapeString(tasks[i].Title) + due + "\n")
	}
	if n == 0 {
		return
	}
	t.reply(chatID, "📋 Open tasks:\n"+b.String())
}

const digestSize = 5

func (t *TelegramService) reply(chatID int64, text string) {
	if err := t.SendMessage(chatID, text); err != nil {
		log.Printf("[tg][reply][err] %v", err)
	}
}

func (t *TelegramService) SendMessage(chatID int64, text string) error {
	if t == nil || t.bot == nil || chatID == 0 {
		return nil
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send to %d: %w", chatID, err)
	}
	return nil
}

func (t *TelegramService) TaskCreated(ctx context.Context, task *models.Task) {
	t.notifyOwner(ctx, task, "📌 New task")
}

func (t *TelegramService) TaskDeleted(ctx context.Context, task *models.Task) {
	t.notifyOwner(ctx, task, "🗑️ Task deleted")
}

func (t *TelegramService) notifyOwner(ctx context.Context, task *models.Task, prefix string) {
	if t == nil || t.users == nil || task == nil {
		return
	}
	chatID, ok, err := t.users.GetTelegramChatID(ctx, task.OwnerID)
	if err != nil {
		if !errors.Is(err, repositories.ErrNotFound) {
			log.Printf("[tg][notify][err] owner=%s: %v", task.OwnerID, err)
		}
		return
	}
	if !ok {
		return
	}
	if err := t.SendMessage(chatID, formatTask(prefix, task)); err != nil {
		log.Printf("[tg][notify][err] owner=%s task=%s: %v", task.OwnerID, task.ID, err)
	}
}

func formatTask(prefix string, t *models.Task) string {
	due := "—"
	if t.DueDate != nil {
		due = t.DueDate.Format("2006-01-02")
	}
	return prefix + "\n" +
		"• <b>" + html.EscapeString(t.Title) + "</b>\n" +
		"• Status: <code>" + string(t.Status) + "</code>\n" +
		"• Priority: <code>" + string(t.Priority) + "</code>\n" +
		"• Due: <code>" + due + "</code>\n" +
		fmt.Sprintf("• Attachments: <code>%d</code>", len(t.Attachments))
}
