package paramstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ssmAPI is the minimal AWS SSM interface required by Client.
// *ssm.Client from aws-sdk-go-v2 satisfies this interface.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Getter is the interface that wraps GetParameter.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// Client reads decrypted parameters stored under a common prefix.
type Client struct {
	api    ssmAPI
	prefix string
}

// New creates a Client. prefix is prepended to relative parameter names.
func New(api ssmAPI, prefix string) (*Client, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	return &Client{api: api, prefix: strings.TrimRight(strings.TrimSpace(prefix), "/")}, nil
}

// GetParameter reads name. Names without a leading slash are resolved under
// the client prefix.
func (c *Client) GetParameter(ctx context.Context, name string) (string, error) {
	if c.api == nil {
		return "", errors.New("paramstore: client not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("paramstore: name is required")
	}
	if !strings.HasPrefix(name, "/") && c.prefix != "" {
		name = c.prefix + "/" + name
	}

	out, err := c.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("paramstore: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", errors.New("paramstore: parameter missing value")
	}
	return *out.Parameter.Value, nil
}

// tokenPayload is the JSON shape used for secrets, e.g. {"token":"..."}.
type tokenPayload struct {
	Token string `json:"token"`
}

// Secret is a lazily loaded credential. A static value, typically taken from
// the environment, wins over the parameter store. A successful lookup is
// cached for the life of the process; failures are retried on the next call.
type Secret struct {
	getter Getter
	name   string
	static string

	mu     sync.Mutex
	loaded bool
	value  string
}

func NewSecret(getter Getter, name, static string) *Secret {
	return &Secret{getter: getter, name: strings.TrimSpace(name), static: strings.TrimSpace(static)}
}

func (s *Secret) Value(ctx context.Context) (string, error) {
	if s.static != "" {
		return s.static, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return s.value, nil
	}
	if s.getter == nil {
		return "", fmt.Errorf("paramstore: no source for secret %q", s.name)
	}
	if s.name == "" {
		return "", errors.New("paramstore: secret name is empty")
	}

	raw, err := s.getter.GetParameter(ctx, s.name)
	if err != nil {
		return "", fmt.Errorf("paramstore: fetch secret %q: %w", s.name, err)
	}
	value, err := decodeSecret(raw)
	if err != nil {
		return "", fmt.Errorf("paramstore: secret %q: %w", s.name, err)
	}
	s.value = value
	s.loaded = true
	return value, nil
}

// decodeSecret accepts either a {"token": "..."} document or a bare value.
func decodeSecret(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "{") {
		var tp tokenPayload
		if err := json.Unmarshal([]byte(raw), &tp); err != nil {
			return "", fmt.Errorf("unmarshal token JSON: %w", err)
		}
		raw = strings.TrimSpace(tp.Token)
	}
	if raw == "" {
		return "", errors.New("token is empty")
	}
	return raw, nil
}
