package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/smartclass/backend/internal/apperr"
	"github.com/smartclass/backend/internal/chatbot"
	"github.com/smartclass/backend/pkg/logger"
)

// WebSocketHandler serves chatbot asks over a socket and streams the answer word by word.
type WebSocketHandler struct {
	engine     ChatEngine
	askTimeout time.Duration
}

func NewWebSocketHandler(engine ChatEngine, askTimeout time.Duration) *WebSocketHandler {
	if askTimeout == 0 {
		askTimeout = 2 * time.Minute
	}
	return &WebSocketHandler{
		engine:     engine,
		askTimeout: askTimeout,
	}
}

type wsMessage struct {
	Type     string `json:"type"`
	Question string `json:"question"`
	ClassID  string `json:"class_id"`
	UserID   string `json:"user_id"`
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var msg wsMessage
		if err := c.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("Failed to read WebSocket message", zap.Error(err))
			}
			return
		}

		if msg.Type != "ask" {
			h.sendError(c, apperr.InvalidInput("unsupported message type"))
			continue
		}

		if err := h.streamAnswer(c, msg); err != nil {
			logger.Warn("Failed to stream answer", zap.Error(err))
			return
		}
	}
}

func (h *WebSocketHandler) streamAnswer(c *websocket.Conn, msg wsMessage) error {
	ctx, cancel := context.WithTimeout(context.Background(), h.askTimeout)
	defer cancel()

	if err := h.send(c, "status", "Searching class materials..."); err != nil {
		return err
	}

	resp, err := h.engine.Ask(ctx, chatbot.AskRequest{
		Question: msg.Question,
		ClassID:  msg.ClassID,
		UserID:   msg.UserID,
	})
	if err != nil {
		return h.sendError(c, err)
	}

	words := splitIntoWords(resp.Answer)
	for i, word := range words {
		if i < len(words)-1 && word != "\n" {
			word += " "
		}
		if err := h.send(c, "chunk", word); err != nil {
			return err
		}
	}

	return c.WriteJSON(map[string]interface{}{
		"type":       "complete",
		"answer":     resp.Answer,
		"documents":  resp.Documents,
		"session_id": resp.SessionID,
	})
}

func (h *WebSocketHandler) send(c *websocket.Conn, msgType, content string) error {
	return c.WriteJSON(map[string]interface{}{
		"type":    msgType,
		"content": content,
	})
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, err error) error {
	return c.WriteJSON(map[string]interface{}{
		"type":  "error",
		"error": apperr.DetailOf(err),
		"kind":  apperr.KindOf(err),
	})
}

// splitIntoWords splits on spaces and keeps each newline as its own element.
func splitIntoWords(text string) []string {
	words := []string{}
	for i, line := range strings.Split(text, "\n") {
		if i > 0 {
			words = append(words, "\n")
		}
		words = append(words, strings.Fields(line)...)
	}
	return words
}
