package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/procura/internal/audit/domain"
	auditrepository "github.com/smallbiznis/procura/internal/audit/repository"
	auditservice "github.com/smallbiznis/procura/internal/audit/service"
	"github.com/smallbiznis/procura/internal/clock"
	"github.com/smallbiznis/procura/internal/config"
	"github.com/smallbiznis/procura/internal/entitylock"
	negotiationdomain "github.com/smallbiznis/procura/internal/negotiation/domain"
	notificationdomain "github.com/smallbiznis/procura/internal/notification/domain"
	"github.com/smallbiznis/procura/internal/webhook/domain"
	"github.com/smallbiznis/procura/internal/webhook/repository"
	"github.com/smallbiznis/procura/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// fakeNegotiations serves the two calls inbound email routing makes.
type fakeNegotiations struct {
	negotiationdomain.Service

	mu       sync.Mutex
	byThread map[string]*negotiationdomain.Negotiation
	replyErr error
	replies  []negotiationdomain.Reply
}

func (f *fakeNegotiations) FindByThread(_ context.Context, threadID string) (*negotiationdomain.Negotiation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.byThread[threadID]
	if !ok {
		return nil, negotiationdomain.ErrNotFound
	}
	cp := *n
	return &cp, nil
}

func (f *fakeNegotiations) RecordVendorReply(_ context.Context, id snowflake.ID, reply negotiationdomain.Reply) (*negotiationdomain.Negotiation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replyErr != nil {
		return nil, f.replyErr
	}
	for _, n := range f.byThread {
		if n.ID == id {
			f.replies = append(f.replies, reply)
			n.Status = negotiationdomain.StatusVendorReplied
			n.CurrentOfferPrice = reply.OfferPrice
			cp := *n
			return &cp, nil
		}
	}
	return nil, negotiationdomain.ErrNotFound
}

type recordingSink struct {
	mu   sync.Mutex
	msgs []notificationdomain.Message
}

func (r *recordingSink) Notify(_ context.Context, msg notificationdomain.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

type fixture struct {
	db           *gorm.DB
	svc          domain.Service
	clock        *clock.FakeClock
	negotiations *fakeNegotiations
	sink         *recordingSink
}

func newFixture(t *testing.T, cfg config.WorkflowConfig) *fixture {
	t.Helper()
	db := dbtest.Open(t, &domain.WebhookEvent{}, &auditdomain.AuditLog{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fc := clock.NewFakeClock(time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC))
	log := zap.NewNop()

	negotiations := &fakeNegotiations{byThread: map[string]*negotiationdomain.Negotiation{
		"thread-1": {ID: 501, OrgID: 10, UserID: 22, Status: negotiationdomain.StatusSent},
	}}
	sink := &recordingSink{}
	svc := NewService(Params{
		DB:           db,
		Log:          log,
		GenID:        node,
		Clock:        fc,
		Repo:         repository.NewRepository(db),
		Negotiations: negotiations,
		Locker:       entitylock.NewLocalLocker(),
		Workflow:     config.NewStaticWorkflowConfig(cfg),
		Notifier:     sink,
		Audit: auditservice.NewService(auditservice.Params{
			DB: db, Log: log, GenID: node, Clock: fc, Repo: auditrepository.Provide(),
		}),
	})
	return &fixture{db: db, svc: svc, clock: fc, negotiations: negotiations, sink: sink}
}

func replyRequest(externalID, thread string) domain.IngestRequest {
	return domain.IngestRequest{
		Source:     domain.SourceGmail,
		ExternalID: externalID,
		EventType:  domain.EventEmailReceived,
		Payload: map[string]any{
			"thread_id":   thread,
			"message_id":  externalID,
			"from":        "sales@acme.example",
			"text":        "We can do 450.",
			"offer_price": "450",
		},
		Headers: map[string]string{
			"Authorization": "Bearer secret-token-1234",
			"Content-Type":  "application/json",
		},
	}
}

func TestDuplicateDeliveryAppliesOnce(t *testing.T) {
	f := newFixture(t, config.DefaultWorkflowConfig())
	ctx := context.Background()

	first, outcome, err := f.svc.Ingest(ctx, replyRequest("msg-1", "thread-1"))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeAccepted, outcome)
	assert.Equal(t, 0, first.ProcessingAttempts)

	second, outcome, err := f.svc.Ingest(ctx, replyRequest("msg-1", "thread-1"))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDuplicate, outcome)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, second.ProcessingAttempts)

	var rows int64
	require.NoError(t, f.db.Model(&domain.WebhookEvent{}).Count(&rows).Error)
	assert.EqualValues(t, 1, rows)

	for i := 0; i < 2; i++ {
		ev, err := f.svc.Process(ctx, first.ID)
		require.NoError(t, err)
		assert.True(t, ev.Processed)
		require.NotNil(t, ev.NegotiationID)
		assert.Equal(t, snowflake.ID(501), *ev.NegotiationID)
	}
	require.Len(t, f.negotiations.replies, 1)
	reply := f.negotiations.replies[0]
	assert.Equal(t, "We can do 450.", reply.Content)
	require.NotNil(t, reply.OfferPrice)
	assert.True(t, reply.OfferPrice.Equal(decimal.NewFromInt(450)))

	// A redelivery after processing leaves the settled event alone.
	_, outcome, err = f.svc.Ingest(ctx, replyRequest("msg-1", "thread-1"))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDuplicate, outcome)
	_, err = f.svc.Process(ctx, first.ID)
	require.NoError(t, err)
	assert.Len(t, f.negotiations.replies, 1)
}

func TestIngestMasksHeaders(t *testing.T) {
	f := newFixture(t, config.DefaultWorkflowConfig())

	ev, _, err := f.svc.Ingest(context.Background(), replyRequest("msg-2", "thread-1"))
	require.NoError(t, err)
	assert.Equal(t, "Bearer ****1234", ev.Headers["authorization"])
	assert.Equal(t, "application/json", ev.Headers["content-type"])
}

func TestIngestValidation(t *testing.T) {
	f := newFixture(t, config.DefaultWorkflowConfig())

	tests := []struct {
		name   string
		mutate func(*domain.IngestRequest)
	}{
		{name: "unknown source", mutate: func(r *domain.IngestRequest) { r.Source = "fax" }},
		{name: "missing external id", mutate: func(r *domain.IngestRequest) { r.ExternalID = "  " }},
		{name: "missing event type", mutate: func(r *domain.IngestRequest) { r.EventType = "" }},
		{name: "missing payload", mutate: func(r *domain.IngestRequest) { r.Payload = nil }},
		{name: "bad ip", mutate: func(r *domain.IngestRequest) { r.IPAddress = "not-an-ip" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := replyRequest("msg-v", "thread-1")
			tt.mutate(&req)
			_, _, err := f.svc.Ingest(context.Background(), req)
			assert.ErrorIs(t, err, domain.ErrInvalidEvent)
		})
	}
}

func TestUnmatchedReplyRetriesThenFailsPermanently(t *testing.T) {
	cfg := config.DefaultWorkflowConfig()
	cfg.WebhookMaxAttempts = 3
	f := newFixture(t, cfg)
	ctx := context.Background()

	ev, _, err := f.svc.Ingest(ctx, replyRequest("msg-3", "thread-unknown"))
	require.NoError(t, err)

	ev, err = f.svc.Process(ctx, ev.ID)
	require.NoError(t, err)
	assert.False(t, ev.Processed)
	assert.False(t, ev.FailedPermanently)
	assert.Equal(t, 1, ev.ProcessingAttempts)
	require.NotNil(t, ev.ProcessingError)
	assert.Contains(t, *ev.ProcessingError, domain.ErrNoMatch.Error())
	require.NotNil(t, ev.NextAttemptAt)
	assert.Equal(t, f.clock.Now().Add(30*time.Second), *ev.NextAttemptAt)

	due, err := f.svc.ListDue(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	// Not yet due: processing is a no-op.
	ev, err = f.svc.Process(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, ev.ProcessingAttempts)

	for attempt := 2; attempt <= 3; attempt++ {
		f.clock.Advance(time.Hour)
		due, err = f.svc.ListDue(ctx, 10)
		require.NoError(t, err)
		require.Len(t, due, 1)
		ev, err = f.svc.Process(ctx, ev.ID)
		require.NoError(t, err)
		assert.Equal(t, attempt, ev.ProcessingAttempts)
	}
	assert.True(t, ev.FailedPermanently)
	assert.False(t, ev.Processed)
	assert.Nil(t, ev.NextAttemptAt)

	f.clock.Advance(time.Hour)
	due, err = f.svc.ListDue(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestUnsupportedEventFailsImmediately(t *testing.T) {
	f := newFixture(t, config.DefaultWorkflowConfig())
	ctx := context.Background()

	ev, _, err := f.svc.Ingest(ctx, domain.IngestRequest{
		Source:     domain.SourceStripe,
		ExternalID: "evt_1",
		EventType:  domain.EventPaymentSucceeded,
		Payload:    map[string]any{"amount": 1200},
	})
	require.NoError(t, err)

	ev, err = f.svc.Process(ctx, ev.ID)
	require.NoError(t, err)
	assert.True(t, ev.FailedPermanently)
	assert.Equal(t, 1, ev.ProcessingAttempts)
	require.NotNil(t, ev.ProcessingError)
	assert.Contains(t, *ev.ProcessingError, domain.ErrUnsupportedEvent.Error())
}

func TestLateReplyToClosedNegotiationIsHarmless(t *testing.T) {
	f := newFixture(t, config.DefaultWorkflowConfig())
	ctx := context.Background()
	f.negotiations.byThread["thread-1"].Status = negotiationdomain.StatusAccepted

	ev, _, err := f.svc.Ingest(ctx, replyRequest("msg-4", "thread-1"))
	require.NoError(t, err)
	ev, err = f.svc.Process(ctx, ev.ID)
	require.NoError(t, err)
	assert.True(t, ev.Processed)
	assert.Empty(t, f.negotiations.replies)
}

func TestMatchedFailureIsAudited(t *testing.T) {
	cfg := config.DefaultWorkflowConfig()
	cfg.WebhookMaxAttempts = 1
	f := newFixture(t, cfg)
	ctx := context.Background()
	f.negotiations.replyErr = errors.New("database unavailable")

	ev, _, err := f.svc.Ingest(ctx, replyRequest("msg-5", "thread-1"))
	require.NoError(t, err)
	ev, err = f.svc.Process(ctx, ev.ID)
	require.NoError(t, err)
	assert.True(t, ev.FailedPermanently)
	require.NotNil(t, ev.NegotiationID)

	var entries []auditdomain.AuditLog
	require.NoError(t, f.db.Where("action = ?", auditdomain.ActionWebhookFailed).Find(&entries).Error)
	require.Len(t, entries, 1)
	assert.Equal(t, snowflake.ID(10), entries[0].OrgID)
	assert.False(t, entries[0].Success)

	require.Len(t, f.sink.msgs, 1)
	assert.Equal(t, notificationdomain.TypeSystemAlert, f.sink.msgs[0].Type)
	assert.Equal(t, snowflake.ID(22), f.sink.msgs[0].UserID)
}
