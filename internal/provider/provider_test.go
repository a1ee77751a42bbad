package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/acteon-dev/acteon/internal/action"
)

func TestWebhookProviderExecuteSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Acteon-Action-Id") == "" {
			t.Error("expected action id header")
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewWebhookProvider("webhook", srv.URL, nil)
	act := action.New("ns", "tenant", "webhook", "notify", []byte(`{"x":1}`))

	res, err := p.Execute(context.Background(), act)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatal("expected success")
	}
}

func TestWebhookProviderServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewWebhookProvider("webhook", srv.URL, nil)
	act := action.New("ns", "tenant", "webhook", "notify", []byte(`{}`))

	res, err := p.Execute(context.Background(), act)
	if err == nil {
		t.Fatal("expected error")
	}
	if !res.Retryable {
		t.Fatal("expected retryable result on 500")
	}
}

func TestRegistryGetUnknownProvider(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Get("nonexistent"); err == nil {
		t.Fatal("expected ErrUnknownProvider")
	}
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	p := NewWebhookProvider("webhook", "http://example.invalid", nil)
	r.Register(p)

	got, err := r.Get("webhook")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name() != "webhook" {
		t.Fatalf("want webhook got %s", got.Name())
	}
}
