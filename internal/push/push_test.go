package push

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestIsValidToken(t *testing.T) {
	c := NewClient("", time.Second)

	valid := []string{
		"ExponentPushToken[xxxxxxxxxxxxxxxxxxxxxx]",
		"ExpoPushToken[abc123]",
	}
	for _, tok := range valid {
		if !c.IsValidToken(tok) {
			t.Errorf("IsValidToken(%q) = false, want true", tok)
		}
	}

	invalid := []string{
		"",
		"garbage",
		"ExponentPushToken[]",
		"ExponentPushToken[has space]",
		"exponentpushtoken[abc]",
		"ExponentPushToken[abc",
		"prefixExponentPushToken[abc]",
	}
	for _, tok := range invalid {
		if c.IsValidToken(tok) {
			t.Errorf("IsValidToken(%q) = true, want false", tok)
		}
	}
}

func TestSendBatch_PostsBatchAndDecodesReceipts(t *testing.T) {
	var got []Notification
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{
				{"status": "ok", "id": "r1"},
				{"status": "error", "message": "DeviceNotRegistered"},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	batch := []Notification{
		{To: "ExponentPushToken[a]", Title: "General · Ada", Body: "hello"},
		{To: "ExponentPushToken[b]", Title: "General · Ada", Body: "hello"},
	}
	receipts, err := c.SendBatch(context.Background(), batch)
	if err != nil {
		t.Fatalf("SendBatch: %v", err)
	}

	if len(got) != 2 || got[0].To != "ExponentPushToken[a]" || got[0].Body != "hello" {
		t.Fatalf("gateway saw %+v", got)
	}
	if len(receipts) != 2 {
		t.Fatalf("receipts = %d, want 2", len(receipts))
	}
	if !receipts[0].OK() || receipts[0].ID != "r1" {
		t.Fatalf("receipt[0] = %+v", receipts[0])
	}
	if receipts[1].OK() || receipts[1].Message != "DeviceNotRegistered" {
		t.Fatalf("receipt[1] = %+v", receipts[1])
	}
}

func TestSendBatch_EmptyBatchNoRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("gateway must not be called for an empty batch")
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	receipts, err := c.SendBatch(context.Background(), nil)
	if err != nil || receipts != nil {
		t.Fatalf("SendBatch(nil) = %v, %v", receipts, err)
	}
}

func TestSendBatch_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	_, err := c.SendBatch(context.Background(), []Notification{{To: "ExponentPushToken[a]"}})
	if err == nil {
		t.Fatal("expected error on 502")
	}
}

func TestSendBatch_GatewayErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"errors": []map[string]string{
				{"code": "PUSH_TOO_MANY_EXPERIENCE_IDS", "message": "mixed projects"},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	_, err := c.SendBatch(context.Background(), []Notification{{To: "ExponentPushToken[a]"}})
	if err == nil {
		t.Fatal("expected error from gateway error envelope")
	}
}

func TestSendBatch_ContextCancellation(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	c := NewClient(srv.URL, 10*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.SendBatch(ctx, []Notification{{To: "ExponentPushToken[a]"}})
	if err == nil {
		t.Fatal("expected error after context deadline")
	}
}
