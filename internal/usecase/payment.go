package usecase

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
)

const (
	PaymentTypeSubscription = "subscription"
	PaymentTypeHackathon    = "hackathon"
)

// Amounts are in paise.
var (
	subscriptionAmounts = map[string]int{
		"one-day":   1000,
		"weekly":    4900,
		"monthly":   9900,
		"six-month": 44900,
		"yearly":    79900,
	}
	hackathonAmounts = map[int]int{
		1: 19900,
		2: 54900,
		3: 54900,
		4: 69900,
	}
)

type SignatureVerifier interface {
	VerifySignature(ctx context.Context, orderID, paymentID, signature string) (bool, error)
}

type PaymentInput struct {
	SubjectID      string
	PaymentID      string
	OrderID        string
	Signature      string
	PaymentType    string
	Plan           string
	Amount         int
	Email          string
	Duration       string
	TeamSize       int
	RegistrationID string
}

type PaymentOutput struct {
	PaymentType    string
	PaymentID      string
	OrderID        string
	SubjectID      string
	Amount         int
	Plan           string
	Email          string
	Duration       string
	TeamSize       int
	RegistrationID string
}

type PaymentService struct {
	verifier SignatureVerifier
	logger   *zap.Logger
}

func NewPaymentService(v SignatureVerifier, logger *zap.Logger) (*PaymentService, error) {
	if v == nil {
		return nil, errors.New("usecase: signature verifier must not be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentService{verifier: v, logger: logger}, nil
}

// Verify checks the gateway signature and the amount charged for the plan
// or team size.
func (s *PaymentService) Verify(ctx context.Context, in PaymentInput) (PaymentOutput, error) {
	if strings.TrimSpace(in.SubjectID) == "" {
		return PaymentOutput{}, newError(ErrorUnauthorized, "missing_subject", nil)
	}
	if in.PaymentID == "" || in.OrderID == "" || in.Signature == "" {
		return PaymentOutput{}, newError(ErrorInvalidInput, "missing_payment_data", nil)
	}

	ok, err := s.verifier.VerifySignature(ctx, in.OrderID, in.PaymentID, in.Signature)
	if err != nil {
		return PaymentOutput{}, newError(ErrorInternal, "signature_secret_error", err)
	}
	if !ok {
		s.logger.Warn("payment signature mismatch", zap.String("subject_id", in.SubjectID), zap.String("order_id", in.OrderID))
		return PaymentOutput{}, newError(ErrorInvalidInput, "invalid_signature", nil)
	}

	out := PaymentOutput{
		PaymentID: in.PaymentID,
		OrderID:   in.OrderID,
		SubjectID: in.SubjectID,
		Amount:    in.Amount,
	}
	if in.PaymentType == PaymentTypeHackathon {
		teamSize := in.TeamSize
		if teamSize == 0 {
			teamSize = 1
		}
		if strings.TrimSpace(in.RegistrationID) == "" {
			return PaymentOutput{}, newError(ErrorInvalidInput, "missing_registration_id", nil)
		}
		expected, known := hackathonAmounts[teamSize]
		if !known || in.Amount != expected {
			return PaymentOutput{}, newError(ErrorInvalidInput, "invalid_amount", nil)
		}
		out.PaymentType = PaymentTypeHackathon
		out.TeamSize = teamSize
		out.RegistrationID = in.RegistrationID
		return out, nil
	}

	if expected, known := subscriptionAmounts[in.Plan]; known && in.Amount != expected {
		return PaymentOutput{}, newError(ErrorInvalidInput, "invalid_amount", nil)
	}
	out.PaymentType = PaymentTypeSubscription
	out.Plan = in.Plan
	out.Email = in.Email
	out.Duration = in.Duration
	return out, nil
}
