package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/procura/internal/authorization"
	"github.com/smallbiznis/procura/internal/clock"
	"github.com/smallbiznis/procura/internal/guard"
	jobdomain "github.com/smallbiznis/procura/internal/job/domain"
	negotiationdomain "github.com/smallbiznis/procura/internal/negotiation/domain"
	orgdomain "github.com/smallbiznis/procura/internal/organization/domain"
	"github.com/smallbiznis/procura/internal/quota"
	"github.com/smallbiznis/procura/internal/ratelimit"
	webhookdomain "github.com/smallbiznis/procura/internal/webhook/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testOrg   snowflake.ID = 10
	otherOrg  snowflake.ID = 11
	testUser  snowflake.ID = 21
	otherUser snowflake.ID = 99
)

type fakeOrgRepo struct {
	orgdomain.Repository
}

func (fakeOrgRepo) FindMemberRole(_ context.Context, orgID, userID snowflake.ID) (string, error) {
	if orgID == testOrg && userID == testUser {
		return orgdomain.RoleMember, nil
	}
	return "", orgdomain.ErrNotMember
}

type fakeAuthz struct {
	denied map[string]bool
}

func (f fakeAuthz) Authorize(_ context.Context, _ string, _ snowflake.ID, _ string, action string) error {
	if f.denied[action] {
		return authorization.ErrForbidden
	}
	return nil
}

type fakeJobs struct {
	jobdomain.Service
	jobs      map[snowflake.ID]*jobdomain.SearchJob
	submitErr error
	submitted []jobdomain.SubmitRequest
}

func (f *fakeJobs) Submit(_ context.Context, req jobdomain.SubmitRequest) (*jobdomain.SearchJob, error) {
	f.submitted = append(f.submitted, req)
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return &jobdomain.SearchJob{ID: 1000, OrgID: req.OrgID, UserID: req.UserID, QueryText: req.Query, Status: jobdomain.StatusPending}, nil
}

func (f *fakeJobs) Get(_ context.Context, id snowflake.ID) (*jobdomain.SearchJob, error) {
	job, ok := f.jobs[id]
	if !ok {
		return nil, jobdomain.ErrNotFound
	}
	return job, nil
}

func (f *fakeJobs) Cancel(_ context.Context, id snowflake.ID, _ *snowflake.ID) (*jobdomain.SearchJob, error) {
	job := *f.jobs[id]
	job.Status = jobdomain.StatusCancelled
	return &job, nil
}

type fakeNegotiations struct {
	negotiationdomain.Service
	n *negotiationdomain.Negotiation
}

func (f *fakeNegotiations) Get(context.Context, snowflake.ID) (*negotiationdomain.Negotiation, error) {
	return f.n, nil
}

func (f *fakeNegotiations) Approve(context.Context, snowflake.ID, snowflake.ID) (*negotiationdomain.Negotiation, error) {
	return nil, &guard.InvalidTransitionError{Entity: "negotiation", Current: "draft", Requested: "sent"}
}

type fakeWebhooks struct {
	webhookdomain.Service
	seen      map[string]*webhookdomain.WebhookEvent
	processed []snowflake.ID
}

func (f *fakeWebhooks) Ingest(_ context.Context, req webhookdomain.IngestRequest) (*webhookdomain.WebhookEvent, webhookdomain.Outcome, error) {
	key := req.Source + "/" + req.ExternalID
	if ev, ok := f.seen[key]; ok {
		return ev, webhookdomain.OutcomeDuplicate, nil
	}
	ev := &webhookdomain.WebhookEvent{ID: snowflake.ID(500 + len(f.seen)), Source: req.Source, ExternalID: req.ExternalID, EventType: req.EventType}
	f.seen[key] = ev
	return ev, webhookdomain.OutcomeAccepted, nil
}

func (f *fakeWebhooks) Process(_ context.Context, id snowflake.ID) (*webhookdomain.WebhookEvent, error) {
	f.processed = append(f.processed, id)
	for _, ev := range f.seen {
		if ev.ID == id {
			ev.Processed = true
			return ev, nil
		}
	}
	return nil, webhookdomain.ErrNotFound
}

type fixture struct {
	server       *Server
	engine       *gin.Engine
	jobs         *fakeJobs
	negotiations *fakeNegotiations
	webhooks     *fakeWebhooks
	authz        fakeAuthz
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &fixture{
		jobs: &fakeJobs{jobs: map[snowflake.ID]*jobdomain.SearchJob{
			1: {ID: 1, OrgID: testOrg, Status: jobdomain.StatusRunning},
			2: {ID: 2, OrgID: otherOrg, Status: jobdomain.StatusRunning},
		}},
		negotiations: &fakeNegotiations{n: &negotiationdomain.Negotiation{ID: 7, OrgID: testOrg, Status: negotiationdomain.StatusDraft}},
		webhooks:     &fakeWebhooks{seen: map[string]*webhookdomain.WebhookEvent{}},
		authz:        fakeAuthz{denied: map[string]bool{}},
	}
	engine := NewEngine(zap.NewNop())
	s := NewServer(ServerParams{
		Gin:            engine,
		Log:            zap.NewNop(),
		Clock:          clock.NewFakeClock(time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)),
		OrgRepo:        fakeOrgRepo{},
		AuthzSvc:       f.authz,
		JobSvc:         f.jobs,
		NegotiationSvc: f.negotiations,
		WebhookSvc:     f.webhooks,
	})
	s.RegisterRoutes()
	f.server = s
	f.engine = engine
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any, user, org snowflake.ID) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != 0 {
		req.Header.Set(HeaderUser, user.String())
	}
	if org != 0 {
		req.Header.Set(HeaderOrg, org.String())
	}
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &out)
	}
	return rec, out
}

func errorType(body map[string]any) string {
	errObj, _ := body["error"].(map[string]any)
	typ, _ := errObj["type"].(string)
	return typ
}

func TestIdentity(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		user   snowflake.ID
		org    snowflake.ID
		status int
	}{
		{"missing user", 0, testOrg, http.StatusUnauthorized},
		{"missing org", testUser, 0, http.StatusBadRequest},
		{"not a member", otherUser, testOrg, http.StatusForbidden},
		{"member", testUser, testOrg, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := f.do(t, http.MethodGet, "/api/v1/jobs/1", nil, tt.user, tt.org)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestSubmitJob(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, http.MethodPost, "/api/v1/jobs", map[string]any{"query": "usb-c cables", "priority": 5}, testUser, testOrg)
	require.Equal(t, http.StatusAccepted, rec.Code)
	data := body["data"].(map[string]any)
	assert.Equal(t, "pending", data["status"])
	require.Len(t, f.jobs.submitted, 1)
	assert.Equal(t, testOrg, f.jobs.submitted[0].OrgID)
	assert.Equal(t, testUser, f.jobs.submitted[0].UserID)
	assert.Equal(t, 5, f.jobs.submitted[0].Priority)
}

func TestSubmitJobErrors(t *testing.T) {
	tests := []struct {
		name      string
		body      map[string]any
		submitErr error
		status    int
		errType   string
	}{
		{"missing query", map[string]any{"priority": 1}, nil, http.StatusBadRequest, "validation_error"},
		{"priority out of range", map[string]any{"query": "x", "priority": 11}, nil, http.StatusBadRequest, "validation_error"},
		{"quota", map[string]any{"query": "x"}, fmt.Errorf("concurrent limit: %w", quota.ErrQuotaExceeded), http.StatusTooManyRequests, "quota_exceeded"},
		{"budget", map[string]any{"query": "x"}, quota.ErrBudgetExceeded, http.StatusTooManyRequests, "budget_exceeded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.jobs.submitErr = tt.submitErr
			rec, body := f.do(t, http.MethodPost, "/api/v1/jobs", tt.body, testUser, testOrg)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.errType, errorType(body))
		})
	}
}

func TestOtherOrganizationsJobIsHidden(t *testing.T) {
	f := newFixture(t)
	rec, _ := f.do(t, http.MethodGet, "/api/v1/jobs/2", nil, testUser, testOrg)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/api/v1/jobs/not-an-id", nil, testUser, testOrg)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelJobRequiresPermission(t *testing.T) {
	f := newFixture(t)
	rec, body := f.do(t, http.MethodPost, "/api/v1/jobs/1/cancel", nil, testUser, testOrg)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cancelled", body["data"].(map[string]any)["status"])

	f.authz.denied[authorization.ActionSearchJobCancel] = true
	rec, body = f.do(t, http.MethodPost, "/api/v1/jobs/1/cancel", nil, testUser, testOrg)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", errorType(body))
}

func TestInvalidTransitionIsConflict(t *testing.T) {
	f := newFixture(t)
	rec, body := f.do(t, http.MethodPost, "/api/v1/negotiations/7/approve", nil, testUser, testOrg)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", errorType(body))
}

func TestWebhookIngress(t *testing.T) {
	f := newFixture(t)
	payload := map[string]any{
		"id":   "msg-1",
		"type": webhookdomain.EventEmailReceived,
		"data": map[string]any{"thread_id": "thread-1", "text": "we can do 450"},
	}

	rec, body := f.do(t, http.MethodPost, "/api/v1/webhooks/gmail", payload, 0, 0)
	require.Equal(t, http.StatusAccepted, rec.Code)
	data := body["data"].(map[string]any)
	assert.Equal(t, "accepted", data["outcome"])
	assert.Equal(t, true, data["processed"])

	rec, body = f.do(t, http.MethodPost, "/api/v1/webhooks/gmail", payload, 0, 0)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "duplicate", body["data"].(map[string]any)["outcome"])
	assert.Len(t, f.webhooks.processed, 1)

	rec, _ = f.do(t, http.MethodPost, "/api/v1/webhooks/gmail", map[string]any{"id": "msg-2"}, 0, 0)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookIngressRateLimit(t *testing.T) {
	f := newFixture(t)
	limiter, err := ratelimit.NewIngressLimiter(ratelimit.IngressConfig{Enabled: true, PerSecond: 0.001, Burst: 1}, ratelimit.NewLocalBucket(), zap.NewNop())
	require.NoError(t, err)
	f.server.ingressLimiter = limiter

	payload := func(id string) map[string]any {
		return map[string]any{"id": id, "type": webhookdomain.EventEmailReceived, "data": map[string]any{"thread_id": "t"}}
	}
	rec, _ := f.do(t, http.MethodPost, "/api/v1/webhooks/gmail", payload("a"), 0, 0)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec, body := f.do(t, http.MethodPost, "/api/v1/webhooks/gmail", payload("b"), 0, 0)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limited", errorType(body))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}
