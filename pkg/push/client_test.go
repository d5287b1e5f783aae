package push

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Send_Topic(t *testing.T) {
	var got sendRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key=test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		json.NewEncoder(w).Encode(sendResponse{MessageID: "msg-123"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", time.Second)

	id, err := c.Send(context.Background(), Message{
		Topic: "promotions",
		Title: "Promo",
		Body:  "20% off",
		Data:  map[string]interface{}{"sku": "A1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "msg-123", id)
	assert.Equal(t, "/topics/promotions", got.To)
	assert.Empty(t, got.RegistrationIDs)
	assert.Equal(t, "Promo", got.Notification.Title)
}

func TestClient_Send_Tokens(t *testing.T) {
	var got sendRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(sendResponse{MessageID: "msg-456"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", time.Second)

	id, err := c.Send(context.Background(), Message{
		Tokens: []string{"tok-1", "tok-2"},
		Title:  "Hello",
		Body:   "World",
	})
	require.NoError(t, err)
	assert.Equal(t, "msg-456", id)
	assert.Empty(t, got.To)
	assert.Equal(t, []string{"tok-1", "tok-2"}, got.RegistrationIDs)
}

func TestClient_Send_ProviderStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", time.Second)

	_, err := c.Send(context.Background(), Message{Topic: "t", Title: "a", Body: "b"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "push provider error")
}

func TestClient_Send_ProviderReportedError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(sendResponse{Error: "InvalidRegistration"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", time.Second)

	_, err := c.Send(context.Background(), Message{Tokens: []string{"tok"}, Title: "a", Body: "b"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "InvalidRegistration")
}

func TestClient_Send_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		json.NewEncoder(w).Encode(sendResponse{MessageID: "late"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", 20*time.Millisecond)

	_, err := c.Send(context.Background(), Message{Topic: "t", Title: "a", Body: "b"})
	assert.Error(t, err)
}
