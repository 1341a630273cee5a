package razorpay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// SecretSource yields the Razorpay key secret.
// *paramstore.Secret satisfies this interface.
type SecretSource interface {
	Value(ctx context.Context) (string, error)
}

// Verifier checks checkout signatures returned by Razorpay.
type Verifier struct {
	secret SecretSource
}

func NewVerifier(secret SecretSource) (*Verifier, error) {
	if secret == nil {
		return nil, errors.New("razorpay: secret source must not be nil")
	}
	return &Verifier{secret: secret}, nil
}

// VerifySignature reports whether signature is the hex HMAC-SHA256 of
// "orderID|paymentID" under the key secret. An error means the secret
// could not be loaded.
func (v *Verifier) VerifySignature(ctx context.Context, orderID, paymentID, signature string) (bool, error) {
	key, err := v.secret.Value(ctx)
	if err != nil {
		return false, fmt.Errorf("razorpay: load key secret: %w", err)
	}
	if key == "" {
		return false, errors.New("razorpay: key secret is empty")
	}
	expected := Sign(key, orderID, paymentID)
	got := strings.ToLower(strings.TrimSpace(signature))
	return hmac.Equal([]byte(expected), []byte(got)), nil
}

// Sign computes the checkout signature for an order/payment pair.
func Sign(key, orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}
