package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"codetapasya-backend/internal/sse"
	"codetapasya-backend/internal/usecase"
)

const maxBodyBytes = 1 << 20

type Chatter interface {
	Chat(ctx context.Context, in usecase.ChatInput) (usecase.ChatOutput, error)
}

type PaymentVerifier interface {
	Verify(ctx context.Context, in usecase.PaymentInput) (usecase.PaymentOutput, error)
}

type Deps struct {
	Chat           Chatter
	Payments       PaymentVerifier
	Tokens         TokenVerifier
	AllowedOrigins []string
	Logger         *zap.Logger
}

type api struct {
	chat     Chatter
	payments PaymentVerifier
	logger   *zap.Logger
}

// NewRouter builds the HTTP surface. Payments is optional; without it the
// payment route is not mounted.
func NewRouter(d Deps) (http.Handler, error) {
	if d.Chat == nil {
		return nil, errors.New("httpapi: chat use case must not be nil")
	}
	if d.Tokens == nil {
		return nil, errors.New("httpapi: token verifier must not be nil")
	}
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &api{chat: d.Chat, payments: d.Payments, logger: logger}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(Correlation)
	r.Use(CORS(d.AllowedOrigins))

	r.Get("/health", a.health)

	r.Group(func(r chi.Router) {
		r.Use(Authenticate(d.Tokens, logger))
		r.Post("/chat", a.handleChat)
		r.Post("/chat/stream", a.handleChatStream)
		if d.Payments != nil {
			r.Post("/payments/verify", a.handlePayment)
		}
	})
	return r, nil
}

func (a *api) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *api) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if !decodeBody(w, r, &req) {
		return
	}
	out, err := a.chat.Chat(r.Context(), req.Input(SubjectFromContext(r.Context())))
	if err != nil {
		a.logger.Info("chat rejected", zap.Error(err))
		writeError(w, err)
		return
	}
	if req.Stream {
		a.stream(w, out)
		return
	}
	writeJSON(w, http.StatusOK, NewChatResponse(out))
}

func (a *api) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if !decodeBody(w, r, &req) {
		return
	}
	out, err := a.chat.Chat(r.Context(), req.Input(SubjectFromContext(r.Context())))
	if err != nil {
		a.logger.Info("chat rejected", zap.Error(err))
		writeError(w, err)
		return
	}
	a.stream(w, out)
}

func (a *api) stream(w http.ResponseWriter, out usecase.ChatOutput) {
	sse.SetHeaders(w.Header())
	w.Header().Set("X-Conversation-Id", out.ConversationID)
	w.WriteHeader(http.StatusOK)

	var flush func()
	if f, ok := w.(http.Flusher); ok {
		flush = f.Flush
	}
	if err := sse.Write(w, flush, out.Text); err != nil {
		a.logger.Warn("stream write failed", zap.String("conversation_id", out.ConversationID), zap.Error(err))
	}
}

func (a *api) handlePayment(w http.ResponseWriter, r *http.Request) {
	var req PaymentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	out, err := a.payments.Verify(r.Context(), req.Input(SubjectFromContext(r.Context())))
	if err != nil {
		a.logger.Info("payment rejected", zap.Error(err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, NewPaymentResponse(out))
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "unreadable_body"})
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "invalid_json"})
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, err error) {
	status, body := StatusFor(err)
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
