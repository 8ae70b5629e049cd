package export

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"github.com/user/viral-detector-go/internal/config"
	"github.com/user/viral-detector-go/internal/model"
	"golang.org/x/time/rate"
)

// MessageSender defines the interface for sending Telegram messages
type MessageSender interface {
	SendMarkdown(chatID int64, text string) error
}

// BotSender wraps the Telegram Bot API for sending messages
type BotSender struct {
	api *tgbotapi.BotAPI
}

// NewBotSender creates a new Telegram sender with the given bot token
func NewBotSender(token string) (*BotSender, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot API: %w", err)
	}
	return &BotSender{api: api}, nil
}

// SendMarkdown sends a message with MarkdownV2 formatting to a chat
func (s *BotSender) SendMarkdown(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	msg.DisableWebPagePreview = true
	if _, err := s.api.Send(msg); err != nil {
		return fmt.Errorf("failed to send markdown message: %w", err)
	}
	return nil
}

// TelegramExporter posts a digest of the top rows to a chat. The
// destination is used as the digest title.
type TelegramExporter struct {
	sender  MessageSender
	chatID  int64
	topN    int
	limiter *rate.Limiter
}

// NewTelegramExporter creates a digest exporter
func NewTelegramExporter(sender MessageSender, cfg *config.TelegramConfig) *TelegramExporter {
	topN := cfg.TopN
	if topN <= 0 {
		topN = 10
	}
	return &TelegramExporter{
		sender: sender,
		chatID: cfg.ChatID,
		topN:   topN,
		// Telegram allows about one message per second per chat
		limiter: rate.NewLimiter(rate.Limit(1), 1),
	}
}

// Name returns the exporter name
func (e *TelegramExporter) Name() string {
	return "telegram"
}

// Export sends the digest messages for rows
func (e *TelegramExporter) Export(ctx context.Context, rows []*model.StoredVideo, destination string) error {
	top := rows
	if len(top) > e.topN {
		top = top[:e.topN]
	}

	messages := FormatDigest(destination, top, len(rows))
	for i, text := range messages {
		if err := e.limiter.Wait(ctx); err != nil {
			return &ExportError{Exporter: e.Name(), Destination: destination, Err: err}
		}
		if err := e.sender.SendMarkdown(e.chatID, text); err != nil {
			log.Error().Err(err).Int("part", i+1).Int64("chat_id", e.chatID).Msg("Failed to send digest")
			return &ExportError{Exporter: e.Name(), Destination: destination, Err: classifyTelegramError(err)}
		}
	}

	log.Info().Str("exporter", e.Name()).Int64("chat_id", e.chatID).Int("messages", len(messages)).Msg("Sent digest")
	return nil
}

func classifyTelegramError(err error) error {
	code := 0
	var perr *tgbotapi.Error
	var verr tgbotapi.Error
	switch {
	case errors.As(err, &perr):
		code = perr.Code
	case errors.As(err, &verr):
		code = verr.Code
	}

	switch {
	case code == http.StatusForbidden || code == http.StatusUnauthorized:
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	case code == http.StatusBadRequest && strings.Contains(strings.ToLower(err.Error()), "chat not found"):
		return fmt.Errorf("%w: %w", ErrDestinationNotFound, err)
	default:
		return fmt.Errorf("%w: %w", ErrDestinationUnreachable, err)
	}
}
