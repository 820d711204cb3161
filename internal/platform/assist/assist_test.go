package assist

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/medmitra/medmitra/internal/platform/apperr"
)

func TestComplete_NotConfigured(t *testing.T) {
	c := New("", "", "m")
	if c.Enabled() {
		t.Fatal("expected disabled client")
	}
	_, err := c.Complete(context.Background(), "", nil)
	if !errors.Is(err, apperr.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestCompletionsURL(t *testing.T) {
	if got := completionsURL("https://api.example.com/v1/"); got != "https://api.example.com/v1/chat/completions" {
		t.Errorf("unexpected url %s", got)
	}
	if got := completionsURL("http://llm/v1/chat/completions"); got != "http://llm/v1/chat/completions" {
		t.Errorf("unexpected url %s", got)
	}
}

func TestComplete_SendsConversation(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Errorf("missing bearer key")
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  Consider a CBC.  "}}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "key", "test-model")
	reply, err := c.Complete(context.Background(), "You are a clinical assistant.", []Message{
		{Role: RoleUser, Content: "fever for 3 days"},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if reply != "Consider a CBC." {
		t.Errorf("unexpected reply %q", reply)
	}
	if got.Model != "test-model" || len(got.Messages) != 2 || got.Messages[0].Role != RoleSystem {
		t.Errorf("unexpected request %+v", got)
	}
}

func TestComplete_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "", "m", WithRetryDelays(time.Millisecond, time.Millisecond))
	reply, err := c.Complete(context.Background(), "", []Message{{Role: RoleUser, Content: "hi"}})
	if err != nil || reply != "ok" {
		t.Fatalf("expected ok after retries, got %q %v", reply, err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestComplete_ClientErrorNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad model"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "", "m", WithRetryDelays(time.Millisecond))
	_, err := c.Complete(context.Background(), "", nil)
	if !errors.Is(err, apperr.ErrUnavailable) || !strings.Contains(err.Error(), "bad model") {
		t.Errorf("unexpected error %v", err)
	}
	if calls != 1 {
		t.Errorf("expected a single call, got %d", calls)
	}
}
