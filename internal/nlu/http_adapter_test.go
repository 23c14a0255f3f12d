package nlu

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

func TestHTTPAdapter_Recognize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/recognize", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req httpRecognizeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "book a flight", req.Text)

		resp := httpRecognizeResponse{
			TopIntent: &Candidate{Name: "book_flight", Confidence: 0.92},
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	a := NewHTTPAdapter(srv.URL, "test-key", time.Second)
	res, err := a.Recognize(context.Background(), "book a flight", []string{"book_flight"}, RecognitionContext{})
	require.NoError(t, err)
	require.NotNil(t, res.TopIntent)
	assert.Equal(t, "book_flight", res.TopIntent.Name)
	assert.InDelta(t, 0.92, res.TopIntent.Confidence, 0.001)
}

func TestHTTPAdapter_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := NewHTTPAdapter(srv.URL, "", time.Second)
	_, err := a.Recognize(context.Background(), "hello", nil, RecognitionContext{})
	assert.Error(t, err)
}
