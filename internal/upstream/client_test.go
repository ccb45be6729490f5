package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestChatCompletionSuccess(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"hi"}}]}`))
	}))
	defer srv.Close()

	c := NewClient("test-key", srv.URL, 5*time.Second)
	resp, err := c.ChatCompletion(context.Background(), map[string]any{"model": "gpt-4o-mini"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotAuth != "Bearer test-key" {
		t.Errorf("expected bearer auth header, got %q", gotAuth)
	}
	if gotPath != "/v1/chat/completions" {
		t.Errorf("expected chat completions path, got %q", gotPath)
	}
	if gotBody["model"] != "gpt-4o-mini" {
		t.Errorf("request body not forwarded, got %v", gotBody)
	}
	if _, ok := resp["choices"]; !ok {
		t.Errorf("response not decoded, got %v", resp)
	}
}

func TestResponsesPath(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"output_text":"ok"}`))
	}))
	defer srv.Close()

	c := NewClient("k", srv.URL, 5*time.Second)
	if _, err := c.Responses(context.Background(), map[string]any{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPath != "/v1/responses" {
		t.Errorf("expected responses path, got %q", gotPath)
	}
}

func TestNon2xxCarriesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer srv.Close()

	c := NewClient("k", srv.URL, 5*time.Second)
	_, err := c.ChatCompletion(context.Background(), map[string]any{})

	var upErr *Error
	if !errors.As(err, &upErr) {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if upErr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("expected status 429, got %d", upErr.StatusCode)
	}
	if upErr.Body != `{"error":{"message":"rate limited"}}` {
		t.Errorf("expected error body retained, got %q", upErr.Body)
	}
}

func TestMalformedResponseBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	c := NewClient("k", srv.URL, 5*time.Second)
	if _, err := c.ChatCompletion(context.Background(), map[string]any{}); err == nil {
		t.Fatal("expected decode error for malformed body")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"server status", &Error{StatusCode: 503}, "server"},
		{"client status", &Error{StatusCode: 400}, "client"},
		{"deadline", context.DeadlineExceeded, "timeout"},
		{"canceled", context.Canceled, "canceled"},
		{"other", errors.New("weird"), "other"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}
