package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/procura/internal/clock"
	jobdomain "github.com/smallbiznis/procura/internal/job/domain"
	negotiationdomain "github.com/smallbiznis/procura/internal/negotiation/domain"
	webhookdomain "github.com/smallbiznis/procura/internal/webhook/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type calls struct {
	mu  sync.Mutex
	ids map[string][]snowflake.ID
}

func (c *calls) add(name string, id snowflake.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ids == nil {
		c.ids = map[string][]snowflake.ID{}
	}
	c.ids[name] = append(c.ids[name], id)
}

func (c *calls) get(name string) []snowflake.ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]snowflake.ID(nil), c.ids[name]...)
}

type fakeJobs struct {
	jobdomain.Service
	calls    *calls
	pending  []jobdomain.SearchJob
	runnable []jobdomain.SearchJob
	advance  func(id snowflake.ID) error
}

func (f *fakeJobs) ClaimPending(_ context.Context, limit int) ([]jobdomain.SearchJob, error) {
	f.calls.add("claim", snowflake.ID(limit))
	return f.pending, nil
}

func (f *fakeJobs) ListRunnable(context.Context, int) ([]jobdomain.SearchJob, error) {
	return f.runnable, nil
}

func (f *fakeJobs) Start(_ context.Context, id snowflake.ID) (*jobdomain.SearchJob, error) {
	f.calls.add("start", id)
	return &jobdomain.SearchJob{ID: id}, nil
}

func (f *fakeJobs) Advance(_ context.Context, id snowflake.ID) (*jobdomain.SearchJob, error) {
	f.calls.add("advance", id)
	if f.advance != nil {
		if err := f.advance(id); err != nil {
			return nil, err
		}
	}
	return &jobdomain.SearchJob{ID: id}, nil
}

type fakeNegotiations struct {
	negotiationdomain.Service
	calls *calls
	due   []negotiationdomain.Negotiation
	tick  func(id snowflake.ID) error
}

func (f *fakeNegotiations) ListDue(context.Context, int) ([]negotiationdomain.Negotiation, error) {
	return f.due, nil
}

func (f *fakeNegotiations) Tick(_ context.Context, id snowflake.ID) (*negotiationdomain.Negotiation, error) {
	f.calls.add("tick", id)
	if f.tick != nil {
		if err := f.tick(id); err != nil {
			return nil, err
		}
	}
	return &negotiationdomain.Negotiation{ID: id}, nil
}

type fakeWebhooks struct {
	webhookdomain.Service
	calls *calls
	due   []webhookdomain.WebhookEvent
}

func (f *fakeWebhooks) ListDue(context.Context, int) ([]webhookdomain.WebhookEvent, error) {
	return f.due, nil
}

func (f *fakeWebhooks) Process(_ context.Context, id snowflake.ID) (*webhookdomain.WebhookEvent, error) {
	f.calls.add("process", id)
	return &webhookdomain.WebhookEvent{ID: id}, nil
}

type fixture struct {
	calls        *calls
	jobs         *fakeJobs
	negotiations *fakeNegotiations
	webhooks     *fakeWebhooks
}

func newFixture() *fixture {
	c := &calls{}
	return &fixture{
		calls:        c,
		jobs:         &fakeJobs{calls: c},
		negotiations: &fakeNegotiations{calls: c},
		webhooks:     &fakeWebhooks{calls: c},
	}
}

func (f *fixture) orchestrator(t *testing.T, cfg Config) *Orchestrator {
	t.Helper()
	o, err := New(Params{
		Log:          zap.NewNop(),
		Clock:        clock.NewFakeClock(time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)),
		Jobs:         f.jobs,
		Negotiations: f.negotiations,
		Webhooks:     f.webhooks,
		Config:       cfg,
	})
	require.NoError(t, err)
	return o
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRunOnceDrivesEveryStateMachine(t *testing.T) {
	f := newFixture()
	f.jobs.pending = []jobdomain.SearchJob{{ID: 1}, {ID: 2}}
	f.jobs.runnable = []jobdomain.SearchJob{
		{ID: 1, OrgID: 10, Status: jobdomain.StatusQueued},
		{ID: 3, OrgID: 10, Status: jobdomain.StatusRunning},
	}
	f.negotiations.due = []negotiationdomain.Negotiation{{ID: 20, OrgID: 10}, {ID: 21, OrgID: 10}}
	f.webhooks.due = []webhookdomain.WebhookEvent{{ID: 30}}

	o := f.orchestrator(t, Config{BatchSize: 7})
	require.NoError(t, o.RunOnce(context.Background()))

	assert.Equal(t, []snowflake.ID{7}, f.calls.get("claim"))
	assert.Equal(t, []snowflake.ID{1}, f.calls.get("start"))
	assert.Equal(t, []snowflake.ID{3}, f.calls.get("advance"))
	assert.ElementsMatch(t, []snowflake.ID{20, 21}, f.calls.get("tick"))
	assert.Equal(t, []snowflake.ID{30}, f.calls.get("process"))
}

func TestRunOnceDefersBusyAndJoinsFailures(t *testing.T) {
	f := newFixture()
	boom := errors.New("boom")
	f.jobs.runnable = []jobdomain.SearchJob{{ID: 3, Status: jobdomain.StatusRunning}}
	f.jobs.advance = func(snowflake.ID) error { return jobdomain.ErrJobBusy }
	f.negotiations.due = []negotiationdomain.Negotiation{{ID: 20, OrgID: 10}, {ID: 21, OrgID: 10}}
	f.negotiations.tick = func(id snowflake.ID) error {
		if id == 20 {
			return boom
		}
		return nil
	}
	f.webhooks.due = []webhookdomain.WebhookEvent{{ID: 30}}

	err := f.orchestrator(t, Config{}).RunOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, jobdomain.ErrJobBusy)
	assert.ElementsMatch(t, []snowflake.ID{20, 21}, f.calls.get("tick"))
	assert.Equal(t, []snowflake.ID{30}, f.calls.get("process"))
}

func TestEnabledJobsFilter(t *testing.T) {
	f := newFixture()
	f.jobs.pending = []jobdomain.SearchJob{{ID: 1}}
	f.negotiations.due = []negotiationdomain.Negotiation{{ID: 20}}
	f.webhooks.due = []webhookdomain.WebhookEvent{{ID: 30}}

	o := f.orchestrator(t, Config{EnabledJobs: []string{"TICK_NEGOTIATIONS"}})
	require.NoError(t, o.RunOnce(context.Background()))

	assert.Empty(t, f.calls.get("claim"))
	assert.Empty(t, f.calls.get("process"))
	assert.Equal(t, []snowflake.ID{20}, f.calls.get("tick"))
}

func TestWorkersBoundConcurrency(t *testing.T) {
	f := newFixture()
	for i := 1; i <= 8; i++ {
		f.jobs.runnable = append(f.jobs.runnable, jobdomain.SearchJob{ID: snowflake.ID(i), Status: jobdomain.StatusRunning})
	}
	var inFlight, peak atomic.Int32
	f.jobs.advance = func(snowflake.ID) error {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return nil
	}

	o := f.orchestrator(t, Config{Workers: 2, EnabledJobs: []string{jobRunJobs}})
	require.NoError(t, o.RunOnce(context.Background()))

	assert.Len(t, f.calls.get("advance"), 8)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestStartRunsImmediatelyAndStopIsIdempotent(t *testing.T) {
	f := newFixture()
	f.jobs.pending = []jobdomain.SearchJob{{ID: 1}}

	o := f.orchestrator(t, Config{RunInterval: time.Hour, BatchSize: 3})
	require.NoError(t, o.Start(context.Background()))
	require.NoError(t, o.Start(context.Background()))

	require.Eventually(t, func() bool {
		return len(f.calls.get("claim")) == 1
	}, 5*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, o.Stop(ctx))
	require.NoError(t, o.Stop(ctx))
	assert.Equal(t, []snowflake.ID{3}, f.calls.get("claim"))
}

func TestCanceledPassStopsEarly(t *testing.T) {
	f := newFixture()
	f.negotiations.due = []negotiationdomain.Negotiation{{ID: 20}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := f.orchestrator(t, Config{}).RunOnce(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.calls.get("tick"))
}
