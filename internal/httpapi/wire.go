// Package httpapi exposes the chat and payment use cases over HTTP and
// holds the JSON contract shared with the Lambda handlers.
package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"codetapasya-backend/internal/usecase"
)

type ChatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id"`
	ChatID         string `json:"chat_id"`
	Language       string `json:"language"`
	Stream         bool   `json:"stream"`
}

func (r ChatRequest) Input(subjectID string) usecase.ChatInput {
	convID := strings.TrimSpace(r.ConversationID)
	if convID == "" {
		convID = strings.TrimSpace(r.ChatID)
	}
	return usecase.ChatInput{
		SubjectID:      subjectID,
		Message:        r.Message,
		Language:       r.Language,
		ConversationID: convID,
	}
}

// ChatResponse carries the reply under both "text" and the legacy "reply" key.
type ChatResponse struct {
	Text           string `json:"text"`
	Reply          string `json:"reply"`
	ConversationID string `json:"conversationId"`
	Intent         string `json:"intent"`
}

func NewChatResponse(out usecase.ChatOutput) ChatResponse {
	return ChatResponse{
		Text:           out.Text,
		Reply:          out.Text,
		ConversationID: out.ConversationID,
		Intent:         string(out.Intent),
	}
}

type PaymentRequest struct {
	PaymentID      string `json:"razorpay_payment_id"`
	OrderID        string `json:"razorpay_order_id"`
	Signature      string `json:"razorpay_signature"`
	PaymentType    string `json:"payment_type"`
	Plan           string `json:"plan"`
	Amount         int    `json:"amount"`
	Email          string `json:"email"`
	Duration       string `json:"duration"`
	TeamSize       int    `json:"team_size"`
	RegistrationID string `json:"registration_id"`
}

func (r PaymentRequest) Input(subjectID string) usecase.PaymentInput {
	paymentType := strings.TrimSpace(r.PaymentType)
	if paymentType == "" {
		paymentType = usecase.PaymentTypeSubscription
	}
	return usecase.PaymentInput{
		SubjectID:      subjectID,
		PaymentID:      strings.TrimSpace(r.PaymentID),
		OrderID:        strings.TrimSpace(r.OrderID),
		Signature:      strings.TrimSpace(r.Signature),
		PaymentType:    paymentType,
		Plan:           r.Plan,
		Amount:         r.Amount,
		Email:          r.Email,
		Duration:       r.Duration,
		TeamSize:       r.TeamSize,
		RegistrationID: r.RegistrationID,
	}
}

type PaymentResponse struct {
	Success         bool   `json:"success"`
	PaymentVerified bool   `json:"payment_verified"`
	PaymentType     string `json:"payment_type"`
	Plan            string `json:"plan,omitempty"`
	Amount          int    `json:"amount"`
	Email           string `json:"email,omitempty"`
	Duration        string `json:"duration,omitempty"`
	TeamSize        int    `json:"team_size,omitempty"`
	RegistrationID  string `json:"registration_id,omitempty"`
	PaymentID       string `json:"payment_id"`
	OrderID         string `json:"order_id"`
	UserID          string `json:"user_id"`
}

func NewPaymentResponse(out usecase.PaymentOutput) PaymentResponse {
	return PaymentResponse{
		Success:         true,
		PaymentVerified: true,
		PaymentType:     out.PaymentType,
		Plan:            out.Plan,
		Amount:          out.Amount,
		Email:           out.Email,
		Duration:        out.Duration,
		TeamSize:        out.TeamSize,
		RegistrationID:  out.RegistrationID,
		PaymentID:       out.PaymentID,
		OrderID:         out.OrderID,
		UserID:          out.SubjectID,
	}
}

type ErrorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// StatusFor maps an error returned by a use case to an HTTP status and body.
// Errors that are not *usecase.Error are reported as internal.
func StatusFor(err error) (int, ErrorResponse) {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		return http.StatusInternalServerError, ErrorResponse{Error: string(usecase.ErrorInternal)}
	}
	resp := ErrorResponse{Error: string(ucErr.Code), Reason: ucErr.Reason}
	switch ucErr.Code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest, resp
	case usecase.ErrorUnauthorized:
		return http.StatusUnauthorized, resp
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests, resp
	case usecase.ErrorUpstream:
		return http.StatusBadGateway, resp
	default:
		return http.StatusInternalServerError, resp
	}
}
