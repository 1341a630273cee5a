package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"codetapasya-backend/internal/httpapi"
	"codetapasya-backend/internal/sse"
	"codetapasya-backend/internal/usecase"
)

var newCorrelationID = uuid.NewString

// ChatHandler serves the chat contract behind API Gateway proxy events.
type ChatHandler struct {
	chat   httpapi.Chatter
	tokens httpapi.TokenVerifier
	logger *zap.Logger
}

func NewChatHandler(chat httpapi.Chatter, tokens httpapi.TokenVerifier, logger *zap.Logger) (*ChatHandler, error) {
	if chat == nil {
		return nil, errors.New("handler: chat use case must not be nil")
	}
	if tokens == nil {
		return nil, errors.New("handler: token verifier must not be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatHandler{chat: chat, tokens: tokens, logger: logger}, nil
}

func (h *ChatHandler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := correlationID(event.Headers)
	logger := h.logger.With(zap.String("correlation_id", correlationID))

	if event.HTTPMethod == http.MethodOptions {
		return respond(http.StatusOK, correlationID, ""), nil
	}

	subjectID, err := httpapi.Authorize(ctx, h.tokens, header(event.Headers, "Authorization"))
	if err != nil {
		logger.Info("request rejected", zap.Error(err))
		return errorResponse(err, correlationID), nil
	}

	var req httpapi.ChatRequest
	if err := json.Unmarshal([]byte(event.Body), &req); err != nil {
		return jsonResponse(http.StatusBadRequest, correlationID,
			httpapi.ErrorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "invalid_json"}), nil
	}

	out, err := h.chat.Chat(ctx, req.Input(subjectID))
	if err != nil {
		logger.Info("chat rejected", zap.Error(err))
		return errorResponse(err, correlationID), nil
	}

	if req.Stream {
		resp := respond(http.StatusOK, correlationID, sse.Body(out.Text))
		resp.Headers["Content-Type"] = sse.ContentType
		resp.Headers["Cache-Control"] = "no-cache"
		resp.Headers["X-Conversation-Id"] = out.ConversationID
		return resp, nil
	}
	return jsonResponse(http.StatusOK, correlationID, httpapi.NewChatResponse(out)), nil
}

func correlationID(headers map[string]string) string {
	if id := strings.TrimSpace(header(headers, httpapi.CorrelationHeader)); id != "" {
		return id
	}
	return newCorrelationID()
}

// header looks up name case-insensitively.
func header(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func corsHeaders() map[string]string {
	return map[string]string{
		"Access-Control-Allow-Origin":  "*",
		"Access-Control-Allow-Methods": "POST,OPTIONS",
		"Access-Control-Allow-Headers": "Content-Type,Authorization",
	}
}

func respond(status int, correlationID, body string) events.APIGatewayProxyResponse {
	headers := corsHeaders()
	headers[httpapi.CorrelationHeader] = correlationID
	return events.APIGatewayProxyResponse{StatusCode: status, Headers: headers, Body: body}
}

func jsonResponse(status int, correlationID string, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	resp := respond(status, correlationID, string(body))
	resp.Headers["Content-Type"] = "application/json"
	return resp
}

func errorResponse(err error, correlationID string) events.APIGatewayProxyResponse {
	status, body := httpapi.StatusFor(err)
	return jsonResponse(status, correlationID, body)
}
