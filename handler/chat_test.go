package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"codetapasya-backend/internal/domain"
	"codetapasya-backend/internal/httpapi"
	"codetapasya-backend/internal/usecase"
)

type stubChat struct {
	out usecase.ChatOutput
	err error
	in  usecase.ChatInput
}

func (s *stubChat) Chat(_ context.Context, in usecase.ChatInput) (usecase.ChatOutput, error) {
	s.in = in
	return s.out, s.err
}

type stubTokens struct{}

func (stubTokens) Verify(_ context.Context, token string) (string, error) {
	if token == "good-token" {
		return "u1", nil
	}
	return "", errors.New("token expired")
}

func makeEvent(body string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodPost,
		Path:       "/chat",
		Headers: map[string]string{
			"Content-Type":  "application/json",
			"Authorization": "Bearer good-token",
		},
		Body: body,
	}
}

func parseBody[T any](t *testing.T, body string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(body), &v))
	return v
}

func TestNewChatHandler_ValidatesDependencies(t *testing.T) {
	_, err := NewChatHandler(nil, stubTokens{}, nil)
	require.Error(t, err)
	_, err = NewChatHandler(&stubChat{}, nil, nil)
	require.Error(t, err)
}

func TestChatHandle_HappyPath(t *testing.T) {
	uc := &stubChat{out: usecase.ChatOutput{Text: "hello", ConversationID: "conv-1", Intent: domain.IntentFirstGreeting}}
	h, err := NewChatHandler(uc, stubTokens{}, nil)
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(`{"message":"hi","conversation_id":"conv-1","language":"te"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, usecase.ChatInput{SubjectID: "u1", Message: "hi", Language: "te", ConversationID: "conv-1"}, uc.in)

	out := parseBody[httpapi.ChatResponse](t, resp.Body)
	require.Equal(t, "hello", out.Text)
	require.Equal(t, "conv-1", out.ConversationID)
	require.Equal(t, "first_greeting", out.Intent)
	require.NotEmpty(t, resp.Headers["X-Correlation-Id"])
	require.Equal(t, "*", resp.Headers["Access-Control-Allow-Origin"])
}

func TestChatHandle_Stream(t *testing.T) {
	uc := &stubChat{out: usecase.ChatOutput{Text: "a b c d", ConversationID: "conv-1"}}
	h, err := NewChatHandler(uc, stubTokens{}, nil)
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(`{"message":"hi","stream":true}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Headers["Content-Type"])
	require.Equal(t, "data: {\"text\": \"a b c \"}\n\ndata: {\"text\": \"d\"}\n\ndata: {\"done\": true}\n\n", resp.Body)
}

func TestChatHandle_InvalidBody(t *testing.T) {
	h, err := NewChatHandler(&stubChat{}, stubTokens{}, nil)
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(`not-json`))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	out := parseBody[httpapi.ErrorResponse](t, resp.Body)
	require.Equal(t, string(usecase.ErrorInvalidInput), out.Error)
}

func TestChatHandle_Unauthorized(t *testing.T) {
	uc := &stubChat{}
	h, err := NewChatHandler(uc, stubTokens{}, nil)
	require.NoError(t, err)

	for _, auth := range []string{"", "Bearer bad-token", "Token good-token"} {
		event := makeEvent(`{"message":"hi"}`)
		event.Headers["Authorization"] = auth
		resp, err := h.Handle(context.Background(), event)
		require.NoError(t, err)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode, auth)
	}
	require.Empty(t, uc.in.SubjectID)
}

func TestChatHandle_MapsUseCaseErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "invalid input", err: &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "empty_message"}, status: http.StatusBadRequest, code: string(usecase.ErrorInvalidInput)},
		{name: "unauthorized", err: &usecase.Error{Code: usecase.ErrorUnauthorized, Reason: "missing_subject"}, status: http.StatusUnauthorized, code: string(usecase.ErrorUnauthorized)},
		{name: "rate limited", err: &usecase.Error{Code: usecase.ErrorRateLimited, Reason: "rate_limited"}, status: http.StatusTooManyRequests, code: string(usecase.ErrorRateLimited)},
		{name: "upstream", err: &usecase.Error{Code: usecase.ErrorUpstream, Reason: "upstream_error"}, status: http.StatusBadGateway, code: string(usecase.ErrorUpstream)},
		{name: "internal", err: &usecase.Error{Code: usecase.ErrorInternal, Reason: "store_error"}, status: http.StatusInternalServerError, code: string(usecase.ErrorInternal)},
		{name: "unexpected", err: errors.New("boom"), status: http.StatusInternalServerError, code: string(usecase.ErrorInternal)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, err := NewChatHandler(&stubChat{err: tc.err}, stubTokens{}, nil)
			require.NoError(t, err)

			resp, err := h.Handle(context.Background(), makeEvent(`{"message":"hi"}`))
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)

			out := parseBody[httpapi.ErrorResponse](t, resp.Body)
			require.Equal(t, tc.code, out.Error)
		})
	}
}

func TestChatHandle_UsesProvidedCorrelationID_CaseInsensitive(t *testing.T) {
	h, err := NewChatHandler(&stubChat{out: usecase.ChatOutput{Text: "ok"}}, stubTokens{}, nil)
	require.NoError(t, err)

	event := makeEvent(`{"message":"hi"}`)
	event.Headers["x-correlation-id"] = "corr-123"
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, "corr-123", resp.Headers["X-Correlation-Id"])
}

func TestChatHandle_GeneratesCorrelationID(t *testing.T) {
	orig := newCorrelationID
	t.Cleanup(func() { newCorrelationID = orig })
	newCorrelationID = func() string { return "generated-1" }

	h, err := NewChatHandler(&stubChat{}, stubTokens{}, nil)
	require.NoError(t, err)
	resp, err := h.Handle(context.Background(), makeEvent(`{"message":"hi"}`))
	require.NoError(t, err)
	require.Equal(t, "generated-1", resp.Headers["X-Correlation-Id"])
}
