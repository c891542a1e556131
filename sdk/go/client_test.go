package civicsdk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitCompletionDecodesRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v0/reports/r1/completion", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		if body["latitude"].(float64) > 30 {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"error":{"code":"gps_verification_failed","message":"you are 600 meters away (max allowed: 500 meters)","details":{"distance_meters":600}}}`))
			return
		}
		_, _ = w.Write([]byte(`{"accepted":true,"distance_meters":12,"threshold_meters":500,"report":{"id":"r1","status":"completed"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	_, err := c.SubmitCompletion(context.Background(), "r1", 31, 77, "")
	require.Error(t, err)
	assert.True(t, IsGPSRejection(err))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.EqualValues(t, 600, apiErr.Details["distance_meters"])

	done, err := c.SubmitCompletion(context.Background(), "r1", 29.6, 77, "photo")
	require.NoError(t, err)
	assert.True(t, done.Accepted)
	assert.Equal(t, "completed", done.Report.Status)
}

func TestListReportsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v0/reports", r.URL.Path)
		assert.Equal(t, "assigned", r.URL.Query().Get("status"))
		assert.Equal(t, "w1", r.URL.Query().Get("worker_id"))
		_, _ = w.Write([]byte(`{"items":[{"id":"r1","status":"assigned"}]}`))
	}))
	defer srv.Close()

	items, err := New(srv.URL, "").ListReports(context.Background(), "assigned", "w1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "r1", items[0].ID)
}
