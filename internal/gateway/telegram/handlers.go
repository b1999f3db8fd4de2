package telegram

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/kitmatheinfo/latexfogel/internal/answers"
	"github.com/kitmatheinfo/latexfogel/internal/correlate"
	"github.com/kitmatheinfo/latexfogel/internal/interaction"
	"github.com/kitmatheinfo/latexfogel/internal/ratelimit"
	"github.com/kitmatheinfo/latexfogel/internal/render"
)

// maxErrorLen bounds engine output echoed back into chat. Telegram caps
// messages at 4096 bytes; leave room for the surrounding markup.
const maxErrorLen = 3500

const usageText = "<b>latexfogel</b> renders math to images.\n\n" +
	"/tex <i>source</i> — render LaTeX\n" +
	"/typst <i>source</i> — render Typst\n" +
	"/wa <i>query</i> — full Wolfram|Alpha answer\n" +
	"/ask <i>query</i> — short Wolfram|Alpha answer\n\n" +
	"Edit your message to rerender it."

func (g *Gateway) processUpdate(ctx context.Context, update *Update) {
	switch {
	case update.CallbackQuery != nil:
		g.handleCallback(ctx, update.CallbackQuery)
	case update.EditedMessage != nil:
		g.handleMessage(ctx, update.EditedMessage, true)
	case update.Message != nil:
		g.handleMessage(ctx, update.Message, false)
	}
}

func (g *Gateway) handleMessage(ctx context.Context, msg *Message, edited bool) {
	if msg.From == nil || msg.Text == "" {
		return
	}

	userID := msg.From.ID
	chatID := msg.Chat.ID

	if len(g.allowed) > 0 && !g.allowed[userID] {
		g.logger.Warn("user not in allowlist", slog.Int64("user_id", userID))
		return
	}

	command, payload := parseCommand(msg.Text)
	if command == "" {
		return
	}

	switch command {
	case "start", "help":
		_, _ = g.sendText(ctx, chatID, usageText, 0)
		return
	case "tex", "typst", "wa", "ask":
	default:
		return
	}

	if payload == "" {
		_, _ = g.sendText(ctx, chatID, "Give me something to work with: /"+command+" <i>input</i>", msg.MessageID)
		return
	}

	if err := g.limiter.Allow(userID); err != nil {
		if errors.Is(err, ratelimit.ErrRateLimited) {
			g.logger.Warn("user rate limited", slog.Int64("user_id", userID))
			_, _ = g.sendText(ctx, chatID, "Slow down a little. Try again in a minute.", msg.MessageID)
		}
		return
	}

	switch command {
	case "tex":
		g.renderAndReply(ctx, msg, edited, render.RoleLaTeX, payload)
	case "typst":
		g.renderAndReply(ctx, msg, edited, render.RoleTypst, payload)
	case "wa":
		g.handleFullAnswer(ctx, msg, payload)
	case "ask":
		g.handleShortAnswer(ctx, msg, payload)
	}
}

// renderAndReply runs one render job and posts the result, superseding an
// earlier response when the request message was edited.
func (g *Gateway) renderAndReply(ctx context.Context, msg *Message, edited bool, role render.Role, source string) {
	renderer, ok := g.renderers[role]
	if !ok {
		return
	}

	requestRef := msg.Ref()
	chatID := msg.Chat.ID

	if edited {
		// Best effort: the old response may already be deleted.
		if prior, ok := g.cache.PriorResponse(requestRef); ok {
			g.deleteMessage(ctx, prior)
			g.cache.DropResponse(requestRef)
		}
	}

	outcome, err := renderer.Render(ctx, render.Request{
		Source:        source,
		Mode:          render.ModeNormal,
		CorrelationID: correlate.CorrelationID(requestRef),
	})
	if err != nil {
		g.replyRenderError(ctx, msg, err)
		return
	}

	owner := msg.From.ID
	keyboard := g.affordances(owner, outcome.Overflow)

	sent, err := g.sendPhoto(ctx, chatID, outcome.Image, msg.MessageID, keyboard)
	if err != nil {
		g.logger.Error("failed to send rendered image",
			slog.String("request", requestRef.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	responseRef := sent.Ref()
	g.cache.RegisterResponse(requestRef, responseRef)
	if outcome.Overflow {
		g.cache.RegisterWiden(responseRef, correlate.WidenEntry{
			Owner:   owner,
			Request: requestRef,
			Source:  source,
			Role:    role,
		})
	}
}

// replyRenderError presents a render failure. Engine output goes back
// verbatim; infrastructure detail stays in the logs.
func (g *Gateway) replyRenderError(ctx context.Context, msg *Message, err error) {
	var engErr *render.EngineError
	if errors.As(err, &engErr) {
		text := "That didn't compile:\n<pre>" + escapeHTML(trimForChat(engErr.Message, maxErrorLen)) + "</pre>"
		_, _ = g.sendText(ctx, msg.Chat.ID, text, msg.MessageID)
		return
	}

	g.logger.Error("render failed",
		slog.String("request", msg.Ref().String()),
		slog.String("error", err.Error()),
	)
	_, _ = g.sendText(ctx, msg.Chat.ID, "Something went wrong on my end. Try again later.", msg.MessageID)
}

// affordances builds the inline keyboard under a rendered response.
func (g *Gateway) affordances(owner int64, overflow bool) *InlineKeyboardMarkup {
	row := []InlineKeyboardButton{
		{Text: "\U0001F5D1 Delete", CallbackData: interaction.Action{Kind: interaction.KindDelete, Owner: owner}.Encode()},
	}
	if overflow {
		row = append(row, InlineKeyboardButton{
			Text:         "↔️ Widen",
			CallbackData: interaction.Action{Kind: interaction.KindWiden, Owner: owner}.Encode(),
		})
	}
	return &InlineKeyboardMarkup{InlineKeyboard: [][]InlineKeyboardButton{row}}
}

// --- Question answering ---

func (g *Gateway) handleShortAnswer(ctx context.Context, msg *Message, query string) {
	if g.answers == nil {
		_, _ = g.sendText(ctx, msg.Chat.ID, "Question answering is not configured.", msg.MessageID)
		return
	}

	answer, err := g.answers.ShortAnswer(ctx, query)
	if err != nil {
		g.logger.Error("short answer failed", slog.String("error", err.Error()))
		_, _ = g.sendText(ctx, msg.Chat.ID, "Couldn't reach Wolfram|Alpha. Try again later.", msg.MessageID)
		return
	}
	_, _ = g.sendText(ctx, msg.Chat.ID, escapeHTML(answer), msg.MessageID)
}

func (g *Gateway) handleFullAnswer(ctx context.Context, msg *Message, query string) {
	if g.answers == nil {
		_, _ = g.sendText(ctx, msg.Chat.ID, "Question answering is not configured.", msg.MessageID)
		return
	}

	composite, err := g.answers.SimpleQuery(ctx, query)
	if err != nil {
		g.logger.Error("simple query failed", slog.String("error", err.Error()))
		_, _ = g.sendText(ctx, msg.Chat.ID, "Couldn't reach Wolfram|Alpha. Try again later.", msg.MessageID)
		return
	}

	slices, err := answers.SliceImage(composite)
	if err != nil {
		g.logger.Error("slicing answer image failed", slog.String("error", err.Error()))
		_, _ = g.sendText(ctx, msg.Chat.ID, "Wolfram|Alpha sent something I can't display.", msg.MessageID)
		return
	}

	keyboard := g.affordances(msg.From.ID, false)
	for _, group := range answers.GroupImages(slices, answers.MaxGroupHeight) {
		png, err := answers.EncodePNG(group)
		if err != nil {
			g.logger.Error("encoding answer image failed", slog.String("error", err.Error()))
			continue
		}
		if _, err := g.sendPhoto(ctx, msg.Chat.ID, png, msg.MessageID, keyboard); err != nil {
			g.logger.Error("sending answer image failed", slog.String("error", err.Error()))
			return
		}
	}
}

// --- Affordance clicks ---

func (g *Gateway) handleCallback(ctx context.Context, cb *CallbackQuery) {
	if cb.From == nil || cb.Data == "" {
		return
	}

	action, err := interaction.ParseAction(cb.Data)
	if err != nil {
		g.logger.Warn("unparseable callback data", slog.String("data", cb.Data))
		g.answerCallback(ctx, cb.ID, "Unknown action.")
		return
	}

	kind := string(action.Kind)
	if err := g.gate.Authorize(cb.From.ID, action); err != nil {
		g.metrics.ObserveAction(kind, "denied")
		g.answerCallback(ctx, cb.ID, "Only the original author can do that.")
		return
	}

	if cb.Message == nil {
		// Telegram drops the message from very old callbacks.
		g.metrics.ObserveAction(kind, "stale")
		g.answerCallback(ctx, cb.ID, "This message is too old.")
		return
	}
	responseRef := cb.Message.Ref()

	switch action.Kind {
	case interaction.KindDelete:
		g.deleteMessage(ctx, responseRef)
		g.cache.DropWiden(responseRef)
		g.metrics.ObserveAction(kind, "ok")
		g.answerCallback(ctx, cb.ID, "Deleted.")

	case interaction.KindWiden:
		g.handleWiden(ctx, cb, responseRef)
	}
}

// handleWiden rerenders a response at full width, replacing the original
// message. The wide rendition only offers deletion.
func (g *Gateway) handleWiden(ctx context.Context, cb *CallbackQuery, responseRef correlate.MessageRef) {
	entry, ok := g.cache.WidenInfo(responseRef)
	if !ok {
		g.metrics.ObserveAction("w", "unknown")
		g.answerCallback(ctx, cb.ID, interaction.ErrUnknownCorrelation.Error()+".")
		return
	}

	renderer, ok := g.renderers[entry.Role]
	if !ok {
		g.answerCallback(ctx, cb.ID, "This renderer is not available.")
		return
	}

	outcome, err := renderer.Render(ctx, render.Request{
		Source:        entry.Source,
		Mode:          render.ModeWide,
		CorrelationID: correlate.CorrelationID(responseRef),
	})
	if err != nil {
		// The source compiled once already, so failures here are
		// almost always infrastructure.
		g.logger.Error("widen render failed",
			slog.String("response", responseRef.String()),
			slog.String("error", err.Error()),
		)
		g.metrics.ObserveAction("w", "error")
		g.answerCallback(ctx, cb.ID, "Widening failed. Try again later.")
		return
	}

	keyboard := g.affordances(entry.Owner, false)
	sent, err := g.sendPhoto(ctx, responseRef.ChatID, outcome.Image, 0, keyboard)
	if err != nil {
		g.logger.Error("failed to send widened image", slog.String("error", err.Error()))
		g.answerCallback(ctx, cb.ID, "Widening failed. Try again later.")
		return
	}

	// The wide rendition is now the live response for the request, so a
	// later edit supersedes it rather than the message being replaced here.
	g.cache.RegisterResponse(entry.Request, sent.Ref())
	g.deleteMessage(ctx, responseRef)
	g.cache.DropWiden(responseRef)
	g.metrics.ObserveAction("w", "ok")
	g.answerCallback(ctx, cb.ID, "Widened.")
}

// --- Helpers ---

// parseCommand splits a message into its bot command and payload.
// "/tex@SomeBot \frac{1}{2}" yields ("tex", "\frac{1}{2}"). Non-command
// messages yield an empty command.
func parseCommand(text string) (command, payload string) {
	if !strings.HasPrefix(text, "/") {
		return "", ""
	}
	head, rest, _ := strings.Cut(text[1:], " ")
	if before, after, found := strings.Cut(head, "\n"); found {
		// Payload may start on the next line.
		head = before
		rest = after + " " + rest
	}
	if at := strings.IndexByte(head, '@'); at >= 0 {
		head = head[:at]
	}
	return head, strings.TrimSpace(rest)
}

// trimForChat truncates long engine output for inline display.
func trimForChat(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max] + "\n… (truncated)"
}

// escapeHTML escapes characters that are special in Telegram's HTML
// parse mode.
func escapeHTML(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}
