package capability

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "ensemble/internal/errors"
)

func fastModel(t *testing.T, endpoint string) *ChatClient {
	t.Helper()
	client, err := NewChatClient(ModelConfig{Endpoint: endpoint, Token: "secret-token", Name: "glm-4.5", Temperature: 0.7}, nil)
	require.NoError(t, err)
	client.SetRetryConfig(apperrors.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond})
	return client
}

func TestGenerateSendsChatRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "glm-4.5", req.Model)
		assert.False(t, req.Stream)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "solve it", req.Messages[1].Content)
		assert.InDelta(t, 0.7, req.Temperature, 1e-9)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"answer"}}]}`))
	}))
	defer srv.Close()

	out, err := fastModel(t, srv.URL).Generate(context.Background(), Prompt{System: "be brief", User: "solve it"})
	require.NoError(t, err)
	assert.Equal(t, "answer", out)
}

func TestGenerateRetriesEmptyAndServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
		case 2:
			_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"  "}}]}`))
		default:
			_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"third time"}}]}`))
		}
	}))
	defer srv.Close()

	out, err := fastModel(t, srv.URL).Generate(context.Background(), Prompt{User: "x"})
	require.NoError(t, err)
	assert.Equal(t, "third time", out)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGenerateDoesNotRetryAuthErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := fastModel(t, srv.URL).Generate(context.Background(), Prompt{User: "x"})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestNewChatClientValidates(t *testing.T) {
	_, err := NewChatClient(ModelConfig{Name: "m"}, nil)
	assert.Error(t, err)
	_, err = NewChatClient(ModelConfig{Endpoint: "http://x"}, nil)
	assert.Error(t, err)
}
