package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClient_Capture(t *testing.T) {
	var gotKey, gotAuth string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/holds", r.URL.Path)
		gotKey = r.Header.Get("Idempotency-Key")
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]string{"hold_id": "hold-42"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "secret", 5*time.Second)
	holdID, err := client.Capture(context.Background(), "tok-1", 500000, "escrow-fund-abc")

	assert.NoError(t, err)
	assert.Equal(t, "hold-42", holdID)
	assert.Equal(t, "escrow-fund-abc", gotKey)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "tok-1", gotBody["token"])
	assert.Equal(t, float64(500000), gotBody["amount"])
}

func TestClient_Release(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/releases", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]string{"receipt_id": "rcpt-7"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "secret", 5*time.Second)
	receiptID, err := client.Release(context.Background(), "hold-42", 300000, "escrow-release-xyz")

	assert.NoError(t, err)
	assert.Equal(t, "rcpt-7", receiptID)
}

func TestClient_Refund_ProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "hold already settled"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "secret", 5*time.Second)
	_, err := client.Refund(context.Background(), "hold-42", 100, "match-refund-abc")

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "hold already settled")
	assert.Contains(t, err.Error(), "422")
}

func TestClient_Capture_BadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", time.Second)
	_, err := client.Capture(context.Background(), "tok", 1, "key")
	assert.Error(t, err)
}

func TestClient_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Capture(ctx, "tok", 1, "key")
	assert.Error(t, err)
}
