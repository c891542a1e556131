package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"civicops/internal/config"
	"civicops/internal/db"
	"civicops/internal/domain"
	"civicops/internal/engine"
	"civicops/internal/events"
	"civicops/internal/geo"
	"civicops/internal/jobs"
	"civicops/internal/lock"
	"civicops/internal/migrate"
)

const (
	testSecret = "test-secret"
	siteLat    = 29.6857
	siteLon    = 76.9905
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
}

type serverOption func(*Config)

func newTestServer(t *testing.T, opts ...serverOption) *testServer {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))

	e := engine.New(conn, config.Default(), zap.NewNop())
	e.Now = func() time.Time { return time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC) }
	cfg := Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testSecret, AllowLegacyActorHeader: true},
		Logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	handler, err := New(cfg)
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &testServer{URL: srv.URL, Engine: e, client: srv.Client()}
}

func (s *testServer) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for _, w := range []domain.Worker{
		{ID: "w-roads", Name: "Roads crew", District: "Karnal", Department: domain.DeptRoads, Active: true, DailyCap: 3, CreatedAt: "2024-01-01T00:00:00Z"},
		{ID: "w-roads-2", Name: "Second crew", District: "Karnal", Department: domain.DeptRoads, Active: true, DailyCap: 3, CreatedAt: "2024-01-01T00:00:00Z"},
	} {
		require.NoError(t, s.Engine.Repo.UpsertWorker(ctx, w))
	}
	require.NoError(t, s.Engine.Repo.InsertReport(ctx, domain.Report{
		ID: "r1", Title: "Pothole on GT road", ProblemType: domain.Pothole, District: "Karnal",
		Latitude: siteLat, Longitude: siteLon, ReporterID: "citizen-1", CreatedAt: "2024-03-01T09:00:00Z",
	}))
}

func token(t *testing.T, subject string, roles ...string) map[string]string {
	t.Helper()
	tok, err := SignToken(testSecret, subject, roles, time.Hour)
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + tok}
}

func legacy(actor, roles string) map[string]string {
	return map[string]string{"X-Actor-Id": actor, "X-Actor-Roles": roles}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func decodeError(t *testing.T, data []byte) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(data, &env), string(data))
	return env
}

func TestHealthIsPublic(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var health HealthResponse
	require.NoError(t, json.Unmarshal(data, &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 1, health.SchemaVersion)
}

func TestRequestsWithoutCredentialsAreRejected(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/reports", nil, nil)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "unauthorized", decodeError(t, data).Error.Code)

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/reports", nil, map[string]string{"Authorization": "Bearer garbage"})
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "invalid_credentials", decodeError(t, data).Error.Code)
}

func TestAssignCompleteVerifyFlow(t *testing.T) {
	srv := newTestServer(t)
	srv.seed(t)
	admin := token(t, "ops-admin", "admin")
	worker := token(t, "w-roads", "worker")

	res, data := doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/admin/assignment/run", nil, admin)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var tick engine.TickResult
	require.NoError(t, json.Unmarshal(data, &tick))
	require.Len(t, tick.Assigned, 1)
	assert.Equal(t, "w-roads", tick.Assigned[0].WorkerID)

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/reports?worker_id=w-roads", nil, worker)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var list ReportList
	require.NoError(t, json.Unmarshal(data, &list))
	require.Len(t, list.Items, 1)
	assert.Equal(t, domain.StatusAssigned, list.Items[0].Status)

	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/reports/r1/completion", map[string]any{
		"latitude":        geo.OffsetNorth(siteLat, 600),
		"longitude":       siteLon,
		"proof_photo_ref": "photo-1",
	}, worker)
	require.Equal(t, http.StatusUnprocessableEntity, res.StatusCode, string(data))
	refused := decodeError(t, data)
	assert.Equal(t, "gps_verification_failed", refused.Error.Code)
	assert.Equal(t, "you are 600 meters away (max allowed: 500 meters)", refused.Error.Message)
	assert.InDelta(t, 600, refused.Error.Details["distance_meters"], 1)
	assert.EqualValues(t, 500, refused.Error.Details["threshold_meters"])

	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/reports/r1/completion", map[string]any{
		"latitude":        geo.OffsetNorth(siteLat, 200),
		"longitude":       siteLon,
		"proof_photo_ref": "photo-2",
	}, worker)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var done CompletionResponse
	require.NoError(t, json.Unmarshal(data, &done))
	assert.True(t, done.Accepted)
	assert.Equal(t, domain.StatusCompleted, done.Report.Status)

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/reports/r1/transitions/pending", nil, worker)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var check TransitionResponse
	require.NoError(t, json.Unmarshal(data, &check))
	assert.False(t, check.Allowed)
	assert.Equal(t, domain.StatusCompleted, check.From)

	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/reports/r1/verify", nil, legacy("someone-else", "citizen"))
	require.Equal(t, http.StatusForbidden, res.StatusCode, string(data))

	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/reports/r1/verify", nil, legacy("citizen-1", "citizen"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var verified domain.Report
	require.NoError(t, json.Unmarshal(data, &verified))
	assert.Equal(t, domain.StatusVerified, verified.Status)

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/events?entity_id=r1", nil, admin)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var page paginatedEvents
	require.NoError(t, json.Unmarshal(data, &page))
	var types []string
	for _, evt := range page.Items {
		types = append(types, evt.Type)
	}
	assert.Equal(t, []string{events.ReportVerified, events.ReportCompleted, events.ReportCompletionRefused, events.ReportAssigned}, types)

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/reports/r1/assignments", nil, admin)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var history AssignmentList
	require.NoError(t, json.Unmarshal(data, &history))
	require.Len(t, history.Items, 1)
}

func TestCompletionAuthorization(t *testing.T) {
	srv := newTestServer(t)
	srv.seed(t)
	_, err := srv.Engine.AssignPending(context.Background(), "scheduler")
	require.NoError(t, err)
	claim := map[string]any{"latitude": siteLat, "longitude": siteLon}

	res, data := doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/reports/r1/completion", claim, token(t, "citizen-1", "citizen"))
	require.Equal(t, http.StatusForbidden, res.StatusCode, string(data))
	assert.Equal(t, "forbidden", decodeError(t, data).Error.Code)

	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/reports/r1/completion", claim, token(t, "w-roads-2", "worker"))
	require.Equal(t, http.StatusForbidden, res.StatusCode, string(data))
	assert.Equal(t, "not_assignee", decodeError(t, data).Error.Code)

	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/reports/missing/completion", claim, token(t, "w-roads", "worker"))
	require.Equal(t, http.StatusNotFound, res.StatusCode, string(data))

	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/reports/r1/completion",
		map[string]any{"latitude": 91, "longitude": siteLon}, token(t, "w-roads", "worker"))
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
}

func TestCompletionRateLimit(t *testing.T) {
	srv := newTestServer(t, func(c *Config) { c.CompletionRatePerMinute = 1 })
	srv.seed(t)
	worker := token(t, "w-roads", "worker")
	claim := map[string]any{"latitude": siteLat, "longitude": siteLon}

	res, data := doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/reports/r1/completion", claim, worker)
	require.Equal(t, http.StatusConflict, res.StatusCode, string(data))
	assert.Equal(t, "not_assigned", decodeError(t, data).Error.Code)

	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/reports/r1/completion", claim, worker)
	require.Equal(t, http.StatusTooManyRequests, res.StatusCode, string(data))
	assert.Equal(t, "rate_limited", decodeError(t, data).Error.Code)
}

func TestAdminEndpointsRequireAdmin(t *testing.T) {
	srv := newTestServer(t)
	res, _ := doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/admin/assignment/run", nil, token(t, "w-roads", "worker"))
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	res, _ = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/reports/r1/reject", map[string]any{"reason": "duplicate"}, token(t, "w-roads", "worker"))
	assert.Equal(t, http.StatusForbidden, res.StatusCode)

	res, data := doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/admin/daily-reset", nil, token(t, "ops-admin", "admin"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var reset engine.ResetResult
	require.NoError(t, json.Unmarshal(data, &reset))
	assert.Equal(t, "2024-03-01", reset.Day)
}

func TestManualTickConflictsWithRunningTick(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.Set("civicops:assignment-tick", "held-by-another-process")
	shared := lock.NewRedis(mr.Addr(), "civicops:assignment-tick", time.Minute)
	t.Cleanup(func() { shared.Close() })

	var scheduler *jobs.Scheduler
	srv := newTestServer(t, func(c *Config) {
		scheduler = jobs.NewScheduler(c.Engine, time.Minute, shared, zap.NewNop())
		c.Scheduler = scheduler
	})
	res, data := doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/admin/assignment/run", nil, token(t, "ops-admin", "admin"))
	require.Equal(t, http.StatusConflict, res.StatusCode, string(data))
	assert.Equal(t, "tick_running", decodeError(t, data).Error.Code)
	assert.False(t, scheduler.Running())
}

func TestWebhookDeliversNewEvents(t *testing.T) {
	srv := newTestServer(t)
	srv.seed(t)

	var (
		mu       sync.Mutex
		received []string
		secrets  []string
	)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body webhookEvent
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		received = append(received, r.Header.Get("X-Civicops-Event"))
		secrets = append(secrets, r.Header.Get("X-Civicops-Secret"))
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(hook.Close)

	ctx := context.Background()
	d := NewWebhookDispatcher(srv.Engine.Repo, []config.WebhookConfig{
		{URL: hook.URL, Events: []string{events.ReportAssigned}, Secret: "s3cret"},
	}, zap.NewNop())
	require.NotNil(t, d)
	require.NoError(t, d.Prime(ctx))

	_, err := srv.Engine.AssignPending(ctx, "scheduler")
	require.NoError(t, err)
	d.DispatchAll(ctx)
	d.DispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{events.ReportAssigned}, received)
	assert.Equal(t, []string{"s3cret"}, secrets)
}

func TestWebhookDispatcherSurvivesFailedStartup(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	var delivered atomic.Int32
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		delivered.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(hook.Close)

	e := engine.New(conn, config.Default(), zap.NewNop())
	e.Now = func() time.Time { return time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC) }
	d := NewWebhookDispatcher(e.Repo, []config.WebhookConfig{
		{URL: hook.URL, Events: []string{events.ReportAssigned}},
	}, zap.NewNop())
	require.NotNil(t, d)
	d.Interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	// the events table does not exist yet, so priming keeps failing
	time.Sleep(50 * time.Millisecond)
	select {
	case err := <-done:
		t.Fatalf("dispatcher stopped on startup failure: %v", err)
	default:
	}
	assert.False(t, d.isPrimed())

	require.NoError(t, migrate.Migrate(conn))
	require.Eventually(t, d.isPrimed, 2*time.Second, 10*time.Millisecond)

	ctxBg := context.Background()
	require.NoError(t, e.Repo.UpsertWorker(ctxBg, domain.Worker{ID: "w1", District: "Karnal", Department: domain.DeptRoads, Active: true, DailyCap: 3, CreatedAt: "2024-01-01T00:00:00Z"}))
	require.NoError(t, e.Repo.InsertReport(ctxBg, domain.Report{ID: "r1", Title: "pothole", ProblemType: domain.Pothole, District: "Karnal", Latitude: siteLat, Longitude: siteLon, CreatedAt: "2024-03-01T09:00:00Z"}))
	_, err = e.AssignPending(ctxBg, "scheduler")
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return delivered.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestWebhookDispatcherDisabledWithoutHooks(t *testing.T) {
	off := false
	assert.Nil(t, NewWebhookDispatcher(newTestServer(t).Engine.Repo, []config.WebhookConfig{{URL: "http://x", Enabled: &off}}, nil))
}
