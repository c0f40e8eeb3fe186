package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"bluewatch/internal/config"
)

// TelegramSender pushes to a single chat. A per-address throttle keeps a
// device that flaps at the departure boundary from flooding the chat.
type TelegramSender struct {
	bot      *tgbotapi.BotAPI
	chatID   int64
	throttle time.Duration

	mu   sync.Mutex
	last map[string]time.Time
}

func NewTelegramSender(cfg config.TelegramConfig) (*TelegramSender, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return &TelegramSender{
		bot:      bot,
		chatID:   cfg.ChatID,
		throttle: cfg.Throttle,
		last:     make(map[string]time.Time),
	}, nil
}

func (s *TelegramSender) Name() string { return "telegram" }

func (s *TelegramSender) allow(address string) bool {
	if s.throttle <= 0 {
		return true
	}
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	if ts, ok := s.last[address]; ok && now.Sub(ts) < s.throttle {
		return false
	}
	s.last[address] = now
	return true
}

func (s *TelegramSender) Send(_ context.Context, n Notification) error {
	if !s.allow(n.Event.Address) {
		return nil
	}
	text := n.Body
	if n.Title != "" {
		text = n.Title + "\n" + n.Body
	}
	msg := tgbotapi.NewMessage(s.chatID, text)
	_, err := s.bot.Send(msg)
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	return nil
}
