// Package telegram implements the Telegram Bot gateway using long
// polling or webhook mode.
//
// Security:
//   - Bot token from TELEGRAM_BOT_TOKEN env var, never logged or stored in config
//   - Optional user allowlist; empty list means the bot is open
//   - Webhook path derived from bot token hash (prevents unauthorized POSTs)
//   - Per-user rate limiting
//   - Affordance clicks authorized through the interaction gate
package telegram

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/kitmatheinfo/latexfogel/internal/answers"
	"github.com/kitmatheinfo/latexfogel/internal/correlate"
	"github.com/kitmatheinfo/latexfogel/internal/gateway"
	"github.com/kitmatheinfo/latexfogel/internal/interaction"
	"github.com/kitmatheinfo/latexfogel/internal/observability"
	"github.com/kitmatheinfo/latexfogel/internal/ratelimit"
	"github.com/kitmatheinfo/latexfogel/internal/render"
)

const (
	defaultPollTimeout = 30
	maxUpdateSize      = 1 << 20 // photos stay outbound, updates are text
	defaultAPIBase     = "https://api.telegram.org"
)

// Config configures the Telegram gateway.
type Config struct {
	BotToken     string  // From TELEGRAM_BOT_TOKEN env var.
	WebhookURL   string  // If set, webhook mode. If empty, long polling.
	ListenAddr   string  // For webhook mode.
	AllowedUsers []int64 // Empty = open to everyone.
	PollTimeout  int     // Long poll timeout in seconds. 0 = 30s default.
}

// Gateway is the Telegram frontend. It routes render commands to the
// per-role renderers, question commands to the answers client, and
// affordance clicks through the authorization gate.
type Gateway struct {
	config    Config
	renderers map[render.Role]render.Renderer
	answers   *answers.Client // nil = question commands disabled
	cache     *correlate.Cache
	gate      *interaction.Gate
	limiter   *ratelimit.Limiter
	metrics   *observability.Metrics
	logger    *slog.Logger

	httpClient *http.Client
	apiBase    string       // overridable in tests
	server     *http.Server // nil in polling mode
	cancel     context.CancelFunc
	allowed    map[int64]bool
}

var _ gateway.Gateway = (*Gateway)(nil)

// NewGateway creates a Telegram gateway.
func NewGateway(cfg Config, renderers map[render.Role]render.Renderer, ans *answers.Client, cache *correlate.Cache, gate *interaction.Gate, limiter *ratelimit.Limiter, metrics *observability.Metrics, logger *slog.Logger) *Gateway {
	allowed := make(map[int64]bool, len(cfg.AllowedUsers))
	for _, uid := range cfg.AllowedUsers {
		allowed[uid] = true
	}
	return &Gateway{
		config:    cfg,
		renderers: renderers,
		answers:   ans,
		cache:     cache,
		gate:      gate,
		limiter:   limiter,
		metrics:   metrics,
		logger:    logger.With("component", "telegram"),
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.pollTimeout()+10) * time.Second,
		},
		apiBase: defaultAPIBase,
		allowed: allowed,
	}
}

// Start launches the gateway in webhook or long-polling mode and blocks.
func (g *Gateway) Start(ctx context.Context) error {
	ctx, g.cancel = context.WithCancel(ctx)

	if g.config.WebhookURL != "" {
		return g.startWebhook(ctx)
	}
	return g.startPolling(ctx)
}

// Stop gracefully shuts down the gateway.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.cancel != nil {
		g.cancel()
	}
	if g.server != nil {
		g.logger.Info("stopping webhook server")
		return g.server.Shutdown(ctx)
	}
	g.logger.Info("stopping poller")
	return nil
}

// --- Long Polling ---

func (g *Gateway) startPolling(ctx context.Context) error {
	g.logger.Info("starting long polling", slog.Int("timeout", g.config.pollTimeout()))

	var offset int64
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		updates, err := g.getUpdates(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			g.logger.Error("getUpdates failed", slog.String("error", err.Error()))
			time.Sleep(2 * time.Second)
			continue
		}

		for _, u := range updates {
			// One task per update, so a 15-second render never stalls
			// the poll loop or other users. Webhook mode gets the same
			// behavior from net/http's per-request goroutines.
			go g.processUpdate(ctx, &u)
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
		}
	}
}

func (g *Gateway) getUpdates(ctx context.Context, offset int64) ([]Update, error) {
	result, err := g.call(ctx, "getUpdates", map[string]any{
		"offset":          offset,
		"timeout":         g.config.pollTimeout(),
		"allowed_updates": []string{"message", "edited_message", "callback_query"},
	})
	if err != nil {
		return nil, err
	}

	var updates []Update
	if err := json.Unmarshal(result, &updates); err != nil {
		return nil, fmt.Errorf("decoding updates: %w", err)
	}
	return updates, nil
}

// --- Webhook ---

func (g *Gateway) startWebhook(ctx context.Context) error {
	// A hash of the bot token as the path keeps strangers from POSTing
	// fabricated updates.
	secretPath := "/" + g.webhookSecret()

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+secretPath, g.handleWebhook)

	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("starting webhook", slog.String("addr", g.config.ListenAddr))

	err := g.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (g *Gateway) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var update Update
	if err := json.NewDecoder(io.LimitReader(r.Body, maxUpdateSize)).Decode(&update); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	g.processUpdate(r.Context(), &update)
	w.WriteHeader(http.StatusOK)
}

func (g *Gateway) webhookSecret() string {
	h := sha256.Sum256([]byte(g.config.BotToken))
	return hex.EncodeToString(h[:16])
}

// --- Telegram API ---

// call invokes a Bot API method and returns the raw result payload.
func (g *Gateway) call(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.apiURL(method), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	return g.doAPI(method, req)
}

// sendPhoto uploads a PNG as multipart form data. Returns the sent
// message so its id can be correlated.
func (g *Gateway) sendPhoto(ctx context.Context, chatID int64, png []byte, replyTo int, markup *InlineKeyboardMarkup) (*Message, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	_ = mw.WriteField("chat_id", strconv.FormatInt(chatID, 10))
	if replyTo != 0 {
		_ = mw.WriteField("reply_to_message_id", strconv.Itoa(replyTo))
	}
	if markup != nil {
		data, err := json.Marshal(markup)
		if err != nil {
			return nil, err
		}
		_ = mw.WriteField("reply_markup", string(data))
	}
	fw, err := mw.CreateFormFile("photo", "render.png")
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(png); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.apiURL("sendPhoto"), &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	result, err := g.doAPI("sendPhoto", req)
	if err != nil {
		return nil, err
	}
	var msg Message
	if err := json.Unmarshal(result, &msg); err != nil {
		return nil, fmt.Errorf("decoding sent photo message: %w", err)
	}
	return &msg, nil
}

func (g *Gateway) doAPI(method string, req *http.Request) (json.RawMessage, error) {
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram %s: %w", method, err)
	}
	defer resp.Body.Close()

	var apiResp struct {
		OK          bool            `json:"ok"`
		Result      json.RawMessage `json:"result"`
		Description string          `json:"description"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxUpdateSize)).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("telegram %s: decoding response: %w", method, err)
	}
	if !apiResp.OK {
		return nil, fmt.Errorf("telegram %s: %s", method, apiResp.Description)
	}
	return apiResp.Result, nil
}

// sendText sends an HTML-formatted text message, replying to replyTo when
// non-zero.
func (g *Gateway) sendText(ctx context.Context, chatID int64, html string, replyTo int) (*Message, error) {
	params := map[string]any{
		"chat_id":                  chatID,
		"text":                     html,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	}
	if replyTo != 0 {
		params["reply_to_message_id"] = replyTo
	}
	result, err := g.call(ctx, "sendMessage", params)
	if err != nil {
		return nil, err
	}
	var msg Message
	if err := json.Unmarshal(result, &msg); err != nil {
		return nil, fmt.Errorf("decoding sent message: %w", err)
	}
	return &msg, nil
}

// deleteMessage removes a message. Failures are logged, not returned:
// the message may already be gone.
func (g *Gateway) deleteMessage(ctx context.Context, ref correlate.MessageRef) {
	_, err := g.call(ctx, "deleteMessage", map[string]any{
		"chat_id":    ref.ChatID,
		"message_id": ref.MessageID,
	})
	if err != nil {
		g.logger.Debug("deleteMessage failed",
			slog.String("message", ref.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (g *Gateway) answerCallback(ctx context.Context, callbackID, text string) {
	if _, err := g.call(ctx, "answerCallbackQuery", map[string]any{
		"callback_query_id": callbackID,
		"text":              text,
	}); err != nil {
		g.logger.Debug("answerCallbackQuery failed", slog.String("error", err.Error()))
	}
}

func (g *Gateway) apiURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", g.apiBase, g.config.BotToken, method)
}

// --- Types ---

// Update represents a Telegram Bot API update.
type Update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *Message       `json:"message,omitempty"`
	EditedMessage *Message       `json:"edited_message,omitempty"`
	CallbackQuery *CallbackQuery `json:"callback_query,omitempty"`
}

// Message represents a Telegram message.
type Message struct {
	MessageID int    `json:"message_id"`
	From      *User  `json:"from,omitempty"`
	Chat      Chat   `json:"chat"`
	Text      string `json:"text"`
}

// Ref is the message's cache key.
func (m *Message) Ref() correlate.MessageRef {
	return correlate.MessageRef{ChatID: m.Chat.ID, MessageID: m.MessageID}
}

// CallbackQuery represents an inline keyboard button press.
type CallbackQuery struct {
	ID      string   `json:"id"`
	From    *User    `json:"from"`
	Message *Message `json:"message,omitempty"`
	Data    string   `json:"data"`
}

// User represents a Telegram user.
type User struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	Username  string `json:"username"`
}

// Chat represents a Telegram chat.
type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// InlineKeyboardMarkup represents inline keyboard buttons.
type InlineKeyboardMarkup struct {
	InlineKeyboard [][]InlineKeyboardButton `json:"inline_keyboard"`
}

// InlineKeyboardButton represents a single inline keyboard button.
type InlineKeyboardButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

// --- Helpers ---

func (c Config) pollTimeout() int {
	if c.PollTimeout > 0 {
		return c.PollTimeout
	}
	return defaultPollTimeout
}
