package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestNotify_Disabled_NoRequestSent(t *testing.T) {
	var called int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&called, 1)
	}))
	defer server.Close()

	n := New(server.URL, false)
	n.Notify(context.Background(), Event{Type: "phase_start", Repo: "acme/widgets"})

	if atomic.LoadInt32(&called) != 0 {
		t.Fatal("expected no request when disabled")
	}
}

func TestNotify_Enabled_PostsEvent(t *testing.T) {
	done := make(chan struct{}, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		w.WriteHeader(http.StatusOK)
		done <- struct{}{}
	}))
	defer server.Close()

	n := New(server.URL, true)
	n.Notify(context.Background(), Event{Type: "phase_start", Repo: "acme/widgets", Issue: 5, Phase: "implement"})

	select {
	case <-done:
	default:
		t.Fatal("expected webhook to be called synchronously")
	}
}

func TestNotify_FailureDoesNotPanic(t *testing.T) {
	n := New("http://127.0.0.1:0", true)
	n.Notify(context.Background(), Event{Type: "phase_start"})
}
