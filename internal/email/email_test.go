package email

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestSendUnconfigured(t *testing.T) {
	c := NewClient("", "noreply@example.com")
	if err := c.Send(context.Background(), "to@example.com", "Subject", "<p>hi</p>", "hi"); err == nil {
		t.Error("expected error for unconfigured client")
	}
}

func TestSendSuccess(t *testing.T) {
	var got outboundEmail
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Postmark-Server-Token") != "token123" {
			t.Errorf("missing server token header")
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient("token123", "noreply@example.com", WithAPIURL(srv.URL))
	err := c.Send(context.Background(), "to@example.com", "Subject", "<p>hi</p>", "hi")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if got.To != "to@example.com" || got.Subject != "Subject" {
		t.Errorf("payload = %+v, want to/subject filled", got)
	}
}

func TestSendRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient("token", "noreply@example.com", WithAPIURL(srv.URL))
	if err := c.Send(context.Background(), "to@example.com", "S", "<p>b</p>", "b"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestSendDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := NewClient("token", "noreply@example.com", WithAPIURL(srv.URL))
	if err := c.Send(context.Background(), "to@example.com", "S", "<p>b</p>", "b"); err == nil {
		t.Fatal("expected error for 4xx response")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 (no retry on 4xx)", calls.Load())
	}
}
