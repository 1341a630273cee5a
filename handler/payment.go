package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"codetapasya-backend/internal/httpapi"
	"codetapasya-backend/internal/usecase"
)

// PaymentHandler verifies checkout payments behind API Gateway.
type PaymentHandler struct {
	payments httpapi.PaymentVerifier
	tokens   httpapi.TokenVerifier
	logger   *zap.Logger
}

func NewPaymentHandler(payments httpapi.PaymentVerifier, tokens httpapi.TokenVerifier, logger *zap.Logger) (*PaymentHandler, error) {
	if payments == nil {
		return nil, errors.New("handler: payment use case must not be nil")
	}
	if tokens == nil {
		return nil, errors.New("handler: token verifier must not be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentHandler{payments: payments, tokens: tokens, logger: logger}, nil
}

func (h *PaymentHandler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := correlationID(event.Headers)
	logger := h.logger.With(zap.String("correlation_id", correlationID))

	switch event.HTTPMethod {
	case http.MethodOptions:
		return respond(http.StatusOK, correlationID, ""), nil
	case http.MethodPost:
	default:
		return jsonResponse(http.StatusMethodNotAllowed, correlationID,
			httpapi.ErrorResponse{Error: "Method not allowed"}), nil
	}

	subjectID, err := httpapi.Authorize(ctx, h.tokens, header(event.Headers, "Authorization"))
	if err != nil {
		logger.Info("request rejected", zap.Error(err))
		return errorResponse(err, correlationID), nil
	}

	var req httpapi.PaymentRequest
	if err := json.Unmarshal([]byte(event.Body), &req); err != nil {
		return jsonResponse(http.StatusBadRequest, correlationID,
			httpapi.ErrorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "invalid_json"}), nil
	}

	out, err := h.payments.Verify(ctx, req.Input(subjectID))
	if err != nil {
		logger.Info("payment rejected", zap.Error(err))
		return errorResponse(err, correlationID), nil
	}
	logger.Info("payment verified",
		zap.String("subject_id", out.SubjectID),
		zap.String("payment_type", out.PaymentType),
		zap.String("order_id", out.OrderID))
	return jsonResponse(http.StatusOK, correlationID, httpapi.NewPaymentResponse(out)), nil
}
