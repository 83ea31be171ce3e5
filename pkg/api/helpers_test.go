package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/governor/pkg/bus"
	"github.com/codeready-toolchain/governor/pkg/config"
	"github.com/codeready-toolchain/governor/pkg/events"
	"github.com/codeready-toolchain/governor/pkg/models"
	"github.com/codeready-toolchain/governor/pkg/services"
	"github.com/codeready-toolchain/governor/pkg/store"
	"github.com/codeready-toolchain/governor/pkg/tracker"
)

const testToken = "worker-secret"

// testServer wires a full Server over the in-memory store so tests drive the
// real route table end to end. The dispatch service is kept around to seed
// queued work the way the evaluator would.
type testServer struct {
	*Server
	dispatch *services.DispatchService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	t.Setenv("GOVERNOR_WORKER_TOKEN", testToken)

	st := store.NewMemoryStore()
	t.Cleanup(func() { _ = st.Close() })

	cfg := &config.Config{
		Governor: config.DefaultGovernorConfig(),
		Server:   config.DefaultServerConfig(),
	}
	cfg.Governor.Projects = []string{"alpha"}

	logger := slog.Default()
	eventBus := bus.New()
	t.Cleanup(eventBus.Close)

	dispatch := services.NewDispatchService(st, cfg.Governor, nil, logger)
	srv, err := NewServer(
		cfg,
		st,
		services.NewWorkerService(st, logger),
		services.NewSessionService(st, cfg.Governor, dispatch, nil, nil, logger),
		services.NewPromptService(st, nil, logger),
		services.NewStatsService(st, nil),
		tracker.Normalizer{},
		eventBus,
		events.NewConnectionManager(cfg.Server.WSWriteTimeout),
		logger,
	)
	require.NoError(t, err)

	return &testServer{Server: srv, dispatch: dispatch}
}

// request performs one HTTP request against the full route table with the
// worker bearer token attached.
func (ts *testServer) request(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return ts.requestWithAuth(t, method, path, body, "Bearer "+testToken)
}

// requestWithAuth is request with an explicit Authorization header value.
// Empty sends no header at all.
func (ts *testServer) requestWithAuth(t *testing.T, method, path string, body any, auth string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	ts.echo.ServeHTTP(rec, req)
	return rec
}

// decode unmarshals the recorded response body.
func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

func (ts *testServer) registerWorker(t *testing.T, projects ...string) *models.WorkerRecord {
	t.Helper()
	rec := ts.request(t, http.MethodPost, "/workers/register", services.RegisterInput{
		Hostname: "worker.test",
		Capacity: 2,
		Projects: projects,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	return decode[*models.WorkerRecord](t, rec)
}

// dispatchWork queues work for a fresh issue in the given status and returns
// the session id, mirroring what the evaluator does on a status event.
func (ts *testServer) dispatchWork(t *testing.T, issueNum string, status models.IssueStatus, w models.WorkType) string {
	t.Helper()
	issue := &models.Issue{
		ID:          "issue-" + issueNum,
		Identifier:  "ENG-" + issueNum,
		Title:       "Issue " + issueNum,
		Status:      status,
		ProjectName: "alpha",
		CreatedAt:   time.Now().UnixMilli(),
	}
	res, err := ts.dispatch.Dispatch(context.Background(), services.DispatchInput{
		Issue:    issue,
		WorkType: w,
		Prompt:   "work on " + issue.Identifier,
		Priority: ts.cfg.Governor.PriorityFor(w),
	})
	require.NoError(t, err)
	require.True(t, res.Dispatched)
	return res.SessionID
}

// claimSession claims the queued session for the worker over HTTP and
// requires success.
func (ts *testServer) claimSession(t *testing.T, sessionID, workerID string) *models.ClaimResult {
	t.Helper()
	rec := ts.request(t, http.MethodPost, "/sessions/"+sessionID+"/claim", ClaimRequest{WorkerID: workerID})
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[*models.ClaimResult](t, rec)
	require.True(t, res.Claimed)
	return res
}

// reportStatus posts a status update for the session as the worker.
func (ts *testServer) reportStatus(t *testing.T, sessionID, workerID string, status models.SessionStatus) *models.SessionRecord {
	t.Helper()
	rec := ts.request(t, http.MethodPost, "/sessions/"+sessionID+"/status", models.SessionStatusUpdate{
		WorkerID: workerID,
		Status:   status,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	return decode[*models.SessionRecord](t, rec)
}

// drainEvent pops and acks one envelope from the bus, failing if none
// arrives promptly.
func (ts *testServer) drainEvent(t *testing.T) *models.EventEnvelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	env, err := ts.eventBus.Next(ctx)
	require.NoError(t, err)
	ts.eventBus.Ack(env.ID)
	return env
}
