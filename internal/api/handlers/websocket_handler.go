package handlers

import (
	"context"
	"strings"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/fisioflow/backend/internal/orchestrator"
	"github.com/fisioflow/backend/internal/storage/models"
	"github.com/fisioflow/backend/pkg/logger"
)

type WebSocketHandler struct {
	orch *orchestrator.Orchestrator
}

func NewWebSocketHandler(orch *orchestrator.Orchestrator) *WebSocketHandler {
	return &WebSocketHandler{
		orch: orch,
	}
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	// Resolutions run under a context tied to the connection, so an
	// in-flight cascade is cancelled once the client is gone.
	ctx, cancel := context.WithCancel(context.Background())

	defer func() {
		cancel()
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var msg struct {
			Type      string `json:"type"`
			Content   string `json:"content"`
			UserID    string `json:"user_id"`
			PatientID string `json:"patient_id"`
			Category  string `json:"category"`
			Priority  string `json:"priority"`
		}

		err := c.ReadJSON(&msg)
		if err != nil {
			logger.Error("Failed to read WebSocket message", zap.Error(err))
			break
		}

		if msg.Type != "query" {
			continue
		}

		logger.Info("Processing WebSocket query", zap.String("user_id", msg.UserID))

		qctx := models.QueryContext{
			UserID:    msg.UserID,
			PatientID: msg.PatientID,
			Category:  models.ParseCategory(msg.Category),
			Priority:  msg.Priority,
		}

		err = h.streamResponse(ctx, c, msg.Content, qctx)
		if err != nil {
			logger.Error("Failed to stream response", zap.Error(err))
			h.sendError(c, "Failed to process query")
		}
	}
}

func (h *WebSocketHandler) streamResponse(ctx context.Context, c *websocket.Conn, queryText string, qctx models.QueryContext) error {
	h.sendChunk(c, "status", "Processando sua pergunta...")

	answer, err := h.orch.Resolve(ctx, queryText, qctx)
	if err != nil {
		return err
	}

	// The cascade answers as a whole, so streaming is simulated by
	// chunking the finished text word by word.
	words := strings.Fields(answer.Response)
	for i, word := range words {
		chunk := word
		if i < len(words)-1 {
			chunk += " "
		}

		if err := h.sendChunk(c, "chunk", chunk); err != nil {
			return err
		}
	}

	return h.sendComplete(c, answer)
}

func (h *WebSocketHandler) sendChunk(c *websocket.Conn, msgType, content string) error {
	msg := map[string]interface{}{
		"type":    msgType,
		"content": content,
	}

	return c.WriteJSON(msg)
}

func (h *WebSocketHandler) sendComplete(c *websocket.Conn, answer *orchestrator.Answer) error {
	msg := map[string]interface{}{
		"type":               "complete",
		"message_id":         answer.LogID,
		"source":             answer.Source,
		"confidence":         answer.Confidence,
		"processing_time_ms": answer.ProcessingTimeMs,
	}

	return c.WriteJSON(msg)
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) {
	msg := map[string]interface{}{
		"type":  "error",
		"error": errorMsg,
	}

	c.WriteJSON(msg)
}
