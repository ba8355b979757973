package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(handler http.HandlerFunc) (*Client, *httptest.Server) {
	server := httptest.NewServer(handler)
	client := NewClient(server.URL, "test-key", "test-model", "be helpful")
	return client, server
}

func TestCompleteReturnsCleanedAnswer(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("unexpected messages %+v", req.Messages)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": "  **Answer:** 42  "}},
			},
		})
	})
	defer server.Close()

	answer, err := client.Complete(context.Background(), "what is the answer")
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if answer != "Answer: 42" {
		t.Fatalf("expected cleaned answer, got %q", answer)
	}
}

func TestCompleteEmptyAnswer(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": "   "}},
			},
		})
	})
	defer server.Close()

	_, err := client.Complete(context.Background(), "prompt")
	if !errors.Is(err, ErrEmptyAnswer) {
		t.Fatalf("expected ErrEmptyAnswer, got %v", err)
	}
}

func TestCompleteUpstreamError(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{"message": "rate limited"},
		})
	})
	defer server.Close()

	_, err := client.Complete(context.Background(), "prompt")
	if err == nil {
		t.Fatal("expected error for upstream failure")
	}
}

func TestCompleteNonJSONResponse(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html>bad gateway</html>"))
	})
	defer server.Close()

	_, err := client.Complete(context.Background(), "prompt")
	if err == nil {
		t.Fatal("expected error for non-JSON response")
	}
}
