package social

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TestMessage is sent by SendTest to confirm the destination is reachable.
const TestMessage = "🧪 *Test Message* 🧪\n\nThis is a test message from the Twitter-to-Telegram relay. If you're seeing this, the service is properly configured."

// TelegramClient delivers messages through the Telegram Bot API. The bot is
// created on first use because construction calls getMe.
type TelegramClient struct {
	token    string
	endpoint string
	logger   *slog.Logger
	client   *http.Client

	mu  sync.Mutex
	bot *tgbotapi.BotAPI
}

// NewTelegramClient creates a new Telegram client. endpoint is a bot API url
// format with placeholders for the token and method.
func NewTelegramClient(token, endpoint string, logger *slog.Logger) *TelegramClient {
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	return &TelegramClient{
		token:    token,
		endpoint: endpoint,
		logger:   logger,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// contextClient binds every Bot API request to a caller's context so the
// relay cycle deadline bounds delivery.
type contextClient struct {
	ctx    context.Context
	client *http.Client
}

func (c contextClient) Do(req *http.Request) (*http.Response, error) {
	return c.client.Do(req.WithContext(c.ctx))
}

func (c *TelegramClient) botAPI(ctx context.Context, destination string) (*tgbotapi.BotAPI, error) {
	if strings.TrimSpace(destination) == "" {
		return nil, fmt.Errorf("telegram destination is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.bot != nil {
		return c.bot, nil
	}

	bot, err := tgbotapi.NewBotAPIWithClient(c.token, c.endpoint, contextClient{ctx: ctx, client: c.client})
	if err != nil {
		return nil, fmt.Errorf("initialize telegram bot: %w", err)
	}
	c.logger.Info("telegram bot authorized", "username", bot.Self.UserName)
	c.bot = bot
	return bot, nil
}

// send delivers msg through a shallow copy of the shared bot whose requests
// carry ctx.
func (c *TelegramClient) send(ctx context.Context, destination string, msg tgbotapi.Chattable) error {
	shared, err := c.botAPI(ctx, destination)
	if err != nil {
		return err
	}
	bot := *shared
	bot.Client = contextClient{ctx: ctx, client: c.client}

	_, err = bot.Send(msg)
	return err
}

// SendText sends a Markdown message with web previews enabled.
func (c *TelegramClient) SendText(ctx context.Context, destination, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var msg tgbotapi.MessageConfig
	if chatID, ok := numericChatID(destination); ok {
		msg = tgbotapi.NewMessage(chatID, text)
	} else {
		msg = tgbotapi.NewMessageToChannel(channelUsername(destination), text)
	}
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.DisableWebPagePreview = false

	if err := c.send(ctx, destination, msg); err != nil {
		return fmt.Errorf("send message to %s: %w", destination, err)
	}
	return nil
}

// SendPhoto sends a photo by url.
func (c *TelegramClient) SendPhoto(ctx context.Context, destination, photoURL string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	file := tgbotapi.FileURL(photoURL)
	var photo tgbotapi.PhotoConfig
	if chatID, ok := numericChatID(destination); ok {
		photo = tgbotapi.NewPhoto(chatID, file)
	} else {
		photo = tgbotapi.NewPhotoToChannel(channelUsername(destination), file)
	}

	if err := c.send(ctx, destination, photo); err != nil {
		return fmt.Errorf("send photo to %s: %w", destination, err)
	}
	return nil
}

// SendTest sends TestMessage to destination.
func (c *TelegramClient) SendTest(ctx context.Context, destination string) error {
	return c.SendText(ctx, destination, TestMessage)
}

// numericChatID parses ids such as -1001234567890.
func numericChatID(destination string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(destination), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func channelUsername(destination string) string {
	destination = strings.TrimSpace(destination)
	if strings.HasPrefix(destination, "@") {
		return destination
	}
	return "@" + destination
}
