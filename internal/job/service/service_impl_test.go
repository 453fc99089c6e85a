package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/procura/internal/agent"
	auditdomain "github.com/smallbiznis/procura/internal/audit/domain"
	auditrepository "github.com/smallbiznis/procura/internal/audit/repository"
	auditservice "github.com/smallbiznis/procura/internal/audit/service"
	"github.com/smallbiznis/procura/internal/clock"
	"github.com/smallbiznis/procura/internal/config"
	"github.com/smallbiznis/procura/internal/entitylock"
	"github.com/smallbiznis/procura/internal/job/domain"
	"github.com/smallbiznis/procura/internal/job/repository"
	notificationdomain "github.com/smallbiznis/procura/internal/notification/domain"
	orgdomain "github.com/smallbiznis/procura/internal/organization/domain"
	orgrepository "github.com/smallbiznis/procura/internal/organization/repository"
	productdomain "github.com/smallbiznis/procura/internal/product/domain"
	productrepository "github.com/smallbiznis/procura/internal/product/repository"
	"github.com/smallbiznis/procura/internal/quota"
	supplierdomain "github.com/smallbiznis/procura/internal/supplier/domain"
	supplierrepository "github.com/smallbiznis/procura/internal/supplier/repository"
	supplierservice "github.com/smallbiznis/procura/internal/supplier/service"
	"github.com/smallbiznis/procura/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testOrg  = snowflake.ID(5001)
	testUser = snowflake.ID(7001)
)

type recordingSink struct {
	mu   sync.Mutex
	msgs []notificationdomain.Message
}

func (r *recordingSink) Notify(_ context.Context, msg notificationdomain.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recordingSink) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.msgs))
	for _, m := range r.msgs {
		out = append(out, m.Type)
	}
	return out
}

type fakeAgents struct {
	scrape  func(ctx context.Context, vendor supplierdomain.Vendor, q agent.ScrapeQuery) (*agent.ScrapeResult, error)
	extract func(ctx context.Context, url string) (*agent.ExtractResult, error)
	vectors atomic.Int64
}

func (f *fakeAgents) Scrape(ctx context.Context, vendor supplierdomain.Vendor, q agent.ScrapeQuery) (*agent.ScrapeResult, error) {
	return f.scrape(ctx, vendor, q)
}

func (f *fakeAgents) Extract(ctx context.Context, url string) (*agent.ExtractResult, error) {
	if f.extract != nil {
		return f.extract(ctx, url)
	}
	brand := "Acme"
	return &agent.ExtractResult{
		Fields: agent.ProductFields{Brand: &brand, Specs: map[string]any{"url": url}},
		Usage:  agent.Usage{CostUSD: decimal.RequireFromString("0.01")},
	}, nil
}

func (f *fakeAgents) Embed(_ context.Context, _ string) (*agent.Embedding, error) {
	n := f.vectors.Add(1)
	return &agent.Embedding{VectorID: fmt.Sprintf("vec-%d", n), Model: "test-embed"}, nil
}

type fixture struct {
	db       *gorm.DB
	svc      domain.Service
	clock    *clock.FakeClock
	node     *snowflake.Node
	quota    *quota.Tracker
	orgRepo  orgdomain.Repository
	vendors  supplierdomain.Service
	audit    auditdomain.Service
	products productdomain.Repository
	sink     *recordingSink
	agents   *fakeAgents
}

func newFixture(t *testing.T, mutate func(*orgdomain.OrganizationSettings)) *fixture {
	t.Helper()
	db := dbtest.Open(t,
		&domain.SearchJob{},
		&domain.AgentLog{},
		&productdomain.Product{},
		&supplierdomain.Vendor{},
		&orgdomain.OrganizationSettings{},
		&auditdomain.AuditLog{},
	)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fc := clock.NewFakeClock(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))
	log := zap.NewNop()

	orgRepo := orgrepository.NewRepository(db)
	settings := orgdomain.DefaultSettings(testOrg, fc.Now())
	if mutate != nil {
		mutate(&settings)
	}
	require.NoError(t, orgRepo.CreateSettings(context.Background(), &settings))

	f := &fixture{
		db:      db,
		clock:   fc,
		node:    node,
		orgRepo: orgRepo,
		vendors: supplierservice.New(supplierservice.Params{
			DB:   db, Log: log, GenID: node, Clock: fc,
			Repo: supplierrepository.Provide(), OrgRepo: orgRepo,
		}),
		audit: auditservice.NewService(auditservice.Params{
			DB: db, Log: log, GenID: node, Clock: fc, Repo: auditrepository.Provide(),
		}),
		products: productrepository.Provide(),
		sink:     &recordingSink{},
		agents:   &fakeAgents{},
	}
	f.svc, f.quota = f.newService()
	return f
}

// newService builds a job service with its own quota tracker and locker
// over the fixture's database, the way a second process would see it.
func (f *fixture) newService() (domain.Service, *quota.Tracker) {
	log := zap.NewNop()
	repo := repository.NewRepository(f.db)
	tracker := quota.New(quota.Params{DB: f.db, OrgRepo: f.orgRepo, Jobs: repo, Clock: f.clock, Log: log})
	svc := NewService(Params{
		DB:        f.db,
		Log:       log,
		GenID:     f.node,
		Clock:     f.clock,
		Repo:      repo,
		Products:  f.products,
		Vendors:   f.vendors,
		OrgRepo:   f.orgRepo,
		Quota:     tracker,
		Locker:    entitylock.NewLocalLocker(),
		Workflow:  config.NewStaticWorkflowConfig(config.DefaultWorkflowConfig()),
		Scraper:   f.agents,
		Extractor: f.agents,
		Embedder:  f.agents,
		Notifier:  f.sink,
		Audit:     f.audit,
	})
	return svc, tracker
}

func (f *fixture) active(t *testing.T) int {
	t.Helper()
	n, err := f.quota.Active(context.Background(), testOrg)
	require.NoError(t, err)
	return n
}

func (f *fixture) vendor(t *testing.T, name string) *supplierdomain.Vendor {
	t.Helper()
	v, err := f.vendors.Create(context.Background(), supplierdomain.CreateRequest{Name: name, Domain: name + ".example"})
	require.NoError(t, err)
	return v
}

// started submits a job and moves it to running.
func (f *fixture) started(t *testing.T) *domain.SearchJob {
	t.Helper()
	ctx := context.Background()
	job, err := f.svc.Submit(ctx, domain.SubmitRequest{OrgID: testOrg, UserID: testUser, Query: "usb-c hub"})
	require.NoError(t, err)
	_, err = f.svc.ClaimPending(ctx, 10)
	require.NoError(t, err)
	job, err = f.svc.Start(ctx, job.ID)
	require.NoError(t, err)
	return job
}

func candidates(n int, cost string) func(context.Context, supplierdomain.Vendor, agent.ScrapeQuery) (*agent.ScrapeResult, error) {
	return func(_ context.Context, v supplierdomain.Vendor, _ agent.ScrapeQuery) (*agent.ScrapeResult, error) {
		res := &agent.ScrapeResult{Usage: agent.Usage{CostUSD: decimal.RequireFromString(cost)}}
		for i := 0; i < n; i++ {
			shot := fmt.Sprintf("https://shots.example/%s/%d.png", v.Slug, i)
			res.Candidates = append(res.Candidates, agent.ProductCandidate{
				Title:              fmt.Sprintf("Hub %d", i),
				URL:                fmt.Sprintf("https://%s/p/%d", v.Domain, i),
				Price:              decimal.NewFromInt(int64(20 + i)),
				AvailabilityStatus: "in_stock",
				IsAvailable:        true,
				ScreenshotURL:      &shot,
			})
		}
		return res, nil
	}
}

func TestSearchJobRunsToCompletion(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.vendor(t, "alpha")
	f.vendor(t, "beta")
	f.agents.scrape = candidates(2, "0.10")

	job := f.started(t)
	require.Equal(t, domain.StatusRunning, job.Status)
	require.Equal(t, 4, job.TotalSteps)
	assert.Equal(t, 1, f.active(t))

	stored, err := f.svc.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, stored.Status)
	assert.Equal(t, 4, stored.TotalSteps)
	assert.NotNil(t, stored.StartedAt)

	progress := []int{job.ProgressPercentage}
	for i := 0; i < job.TotalSteps; i++ {
		job, err := f.svc.Advance(ctx, job.ID)
		require.NoError(t, err)
		progress = append(progress, job.ProgressPercentage)
	}
	assert.IsNonDecreasing(t, progress)

	done, err := f.svc.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, done.Status)
	assert.Equal(t, 100, done.ProgressPercentage)
	assert.Equal(t, 4, done.ProductsFoundCount)
	assert.Equal(t, 2, done.VendorsSearchedCount)
	assert.True(t, done.ActualCostUSD.Equal(decimal.RequireFromString("0.24")), done.ActualCostUSD.String())
	require.NotNil(t, done.CompletedAt)

	products, err := f.products.ListByJob(ctx, f.db, job.ID)
	require.NoError(t, err)
	require.Len(t, products, 4)
	for _, p := range products {
		assert.NotNil(t, p.ExtractedAt)
		assert.NotNil(t, p.VectorID)
		assert.Len(t, p.PriceHistory, 1)
	}

	report, err := f.svc.Progress(ctx, job.ID, 0)
	require.NoError(t, err)
	require.Len(t, report.Logs, 5)
	for i, l := range report.Logs {
		assert.Equal(t, i+1, l.StepNumber)
	}
	assert.Equal(t, "plan_created", report.Logs[0].Action)

	tail, err := f.svc.Progress(ctx, job.ID, 3)
	require.NoError(t, err)
	assert.Len(t, tail.Logs, 2)

	settings, err := f.orgRepo.FindSettings(ctx, testOrg)
	require.NoError(t, err)
	assert.True(t, settings.CurrentSpendThisMonth.Equal(decimal.RequireFromString("0.24")))
	assert.Equal(t, 1, settings.CurrentSearchesThisMonth)
	assert.Equal(t, 0, f.active(t))
	assert.Equal(t, []string{notificationdomain.TypeJobCompleted}, f.sink.types())
}

func TestSearchJobFailsAfterMaxRetries(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.vendor(t, "alpha")
	var calls atomic.Int32
	f.agents.scrape = func(context.Context, supplierdomain.Vendor, agent.ScrapeQuery) (*agent.ScrapeResult, error) {
		calls.Add(1)
		return nil, agent.Retryable(agent.CapabilityScrape, errors.New("upstream 503"))
	}

	job := f.started(t)
	require.Equal(t, 3, job.MaxRetries)

	job, err := f.svc.Advance(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, job.Status)
	assert.Equal(t, 1, job.RetryCount)
	require.NotNil(t, job.NextAttemptAt)

	// not yet due
	job, err = f.svc.Advance(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, job.RetryCount)
	assert.Equal(t, int32(1), calls.Load())

	for i := 0; i < 2; i++ {
		f.clock.Advance(time.Hour)
		job, err = f.svc.Advance(ctx, job.ID)
		require.NoError(t, err)
	}
	assert.Equal(t, domain.StatusFailed, job.Status)
	assert.Equal(t, 3, job.RetryCount)
	require.NotNil(t, job.ErrorMessage)
	assert.Contains(t, *job.ErrorMessage, "upstream 503")
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 0, f.active(t))
	assert.Equal(t, []string{notificationdomain.TypeJobFailed}, f.sink.types())

	f.clock.Advance(time.Hour)
	job, err = f.svc.Advance(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, job.Status)
	assert.Equal(t, int32(3), calls.Load())
}

func TestSearchJobFatalErrorFailsImmediately(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.vendor(t, "alpha")
	f.agents.scrape = func(context.Context, supplierdomain.Vendor, agent.ScrapeQuery) (*agent.ScrapeResult, error) {
		return nil, agent.Fatal(agent.CapabilityScrape, errors.New("vendor blocked us"))
	}

	job := f.started(t)
	job, err := f.svc.Advance(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, job.Status)
	assert.Equal(t, 0, job.RetryCount)
}

func TestCancelDuringStepDiscardsResult(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.vendor(t, "alpha")

	job := f.started(t)
	scrape := candidates(3, "0.50")
	f.agents.scrape = func(ctx context.Context, v supplierdomain.Vendor, q agent.ScrapeQuery) (*agent.ScrapeResult, error) {
		_, err := f.svc.Cancel(ctx, job.ID, nil)
		require.NoError(t, err)
		return scrape(ctx, v, q)
	}

	got, err := f.svc.Advance(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, got.Status)
	assert.Equal(t, 0, got.StepIndex)

	count, err := f.products.CountByJob(ctx, f.db, job.ID)
	require.NoError(t, err)
	assert.Zero(t, count)

	settings, err := f.orgRepo.FindSettings(ctx, testOrg)
	require.NoError(t, err)
	assert.True(t, settings.CurrentSpendThisMonth.Equal(decimal.RequireFromString("0.5")))
	assert.Equal(t, []string{notificationdomain.TypeJobCancelled}, f.sink.types())

	again, err := f.svc.Cancel(ctx, job.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, again.Status)
	assert.Len(t, f.sink.types(), 1)
}

func TestBudgetExceededFailsJob(t *testing.T) {
	f := newFixture(t, func(s *orgdomain.OrganizationSettings) {
		s.MonthlyBudgetUSD = decimal.NewFromInt(1)
	})
	ctx := context.Background()
	f.vendor(t, "alpha")
	f.agents.scrape = candidates(2, "5")

	job := f.started(t)
	job, err := f.svc.Advance(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.Contains(t, *job.ErrorMessage, quota.ErrBudgetExceeded.Error())

	settings, err := f.orgRepo.FindSettings(ctx, testOrg)
	require.NoError(t, err)
	assert.True(t, settings.CurrentSpendThisMonth.IsZero())
	count, err := f.products.CountByJob(ctx, f.db, job.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestStartWithoutEligibleVendorsFails(t *testing.T) {
	f := newFixture(t, nil)

	job := f.started(t)
	assert.Equal(t, domain.StatusFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.Equal(t, domain.ErrNoEligibleVendor.Error(), *job.ErrorMessage)
	assert.Equal(t, 0, f.active(t))

	stored, err := f.svc.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, stored.Status)
	require.NotNil(t, stored.ErrorMessage)
	assert.Equal(t, []string{notificationdomain.TypeJobFailed}, f.sink.types())
}

func TestSubmitEnforcesQuota(t *testing.T) {
	f := newFixture(t, func(s *orgdomain.OrganizationSettings) { s.MaxConcurrentJobs = 1 })
	ctx := context.Background()

	first, err := f.svc.Submit(ctx, domain.SubmitRequest{OrgID: testOrg, UserID: testUser, Query: "desk"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, first.Status)

	_, err = f.svc.Submit(ctx, domain.SubmitRequest{OrgID: testOrg, UserID: testUser, Query: "chair"})
	require.ErrorIs(t, err, quota.ErrQuotaExceeded)
	assert.Equal(t, []string{notificationdomain.TypeSystemAlert}, f.sink.types())

	_, err = f.svc.Cancel(ctx, first.ID, nil)
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, domain.SubmitRequest{OrgID: testOrg, UserID: testUser, Query: "chair"})
	require.NoError(t, err)
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t, nil)
	negative := -1

	tests := []struct {
		name string
		req  domain.SubmitRequest
		want error
	}{
		{"missing org", domain.SubmitRequest{UserID: testUser, Query: "x"}, domain.ErrInvalidOrg},
		{"missing user", domain.SubmitRequest{OrgID: testOrg, Query: "x"}, domain.ErrInvalidUser},
		{"blank query", domain.SubmitRequest{OrgID: testOrg, UserID: testUser, Query: "  "}, domain.ErrInvalidQuery},
		{"priority too high", domain.SubmitRequest{OrgID: testOrg, UserID: testUser, Query: "x", Priority: 11}, domain.ErrInvalidPriority},
		{"negative retries", domain.SubmitRequest{OrgID: testOrg, UserID: testUser, Query: "x", MaxRetries: &negative}, domain.ErrInvalidRetries},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Submit(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestClaimPendingHonoursPriority(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	low, err := f.svc.Submit(ctx, domain.SubmitRequest{OrgID: testOrg, UserID: testUser, Query: "a", Priority: 1})
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	high, err := f.svc.Submit(ctx, domain.SubmitRequest{OrgID: testOrg, UserID: testUser, Query: "b", Priority: 5})
	require.NoError(t, err)

	claimed, err := f.svc.ClaimPending(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, high.ID, claimed[0].ID)
	assert.Equal(t, domain.StatusQueued, claimed[0].Status)

	claimed, err = f.svc.ClaimPending(ctx, 5)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, low.ID, claimed[0].ID)

	assert.Equal(t, 2, f.active(t))
}

func TestSlotFreedByWorkerProcessIsVisibleToAPI(t *testing.T) {
	f := newFixture(t, func(s *orgdomain.OrganizationSettings) { s.MaxConcurrentJobs = 1 })
	ctx := context.Background()
	f.vendor(t, "alpha")
	f.agents.scrape = candidates(1, "0.10")
	worker, _ := f.newService()

	job, err := f.svc.Submit(ctx, domain.SubmitRequest{OrgID: testOrg, UserID: testUser, Query: "monitor arm"})
	require.NoError(t, err)

	_, err = worker.ClaimPending(ctx, 10)
	require.NoError(t, err)
	job, err = worker.Start(ctx, job.ID)
	require.NoError(t, err)
	for i := 0; i < 10 && job.Status == domain.StatusRunning; i++ {
		job, err = worker.Advance(ctx, job.ID)
		require.NoError(t, err)
	}
	require.Equal(t, domain.StatusCompleted, job.Status)
	assert.Equal(t, 0, f.active(t))

	_, err = f.svc.Submit(ctx, domain.SubmitRequest{OrgID: testOrg, UserID: testUser, Query: "desk lamp"})
	require.NoError(t, err)
	assert.Equal(t, 1, f.active(t))
}
