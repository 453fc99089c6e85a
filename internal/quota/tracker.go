// Package quota enforces per-organization monthly search, spend, and
// concurrency limits.
package quota

import (
	"context"
	"fmt"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/procura/internal/clock"
	obsmetrics "github.com/smallbiznis/procura/internal/observability/metrics"
	orgdomain "github.com/smallbiznis/procura/internal/organization/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Reservation is the concurrency slot a job holds while it is unfinished.
// The slot is the job row itself: it frees when the job commits a terminal
// status, in whichever process runs it.
type Reservation struct {
	OrgID snowflake.ID
	JobID snowflake.ID
}

// ActiveCounter counts an organization's unfinished jobs through tx.
type ActiveCounter interface {
	CountActive(ctx context.Context, tx *gorm.DB, orgID snowflake.ID) (int, error)
}

// CreateFunc persists the reserved work inside the reserving transaction.
type CreateFunc func(tx *gorm.DB, settings *orgdomain.OrganizationSettings) error

// Usage is a point-in-time view of an organization's quota.
type Usage struct {
	OrgID               snowflake.ID    `json:"org_id"`
	SearchesThisMonth   int             `json:"searches_this_month"`
	MaxSearchesPerMonth int             `json:"max_searches_per_month"`
	ConcurrentJobs      int             `json:"concurrent_jobs"`
	MaxConcurrentJobs   int             `json:"max_concurrent_jobs"`
	SpendThisMonth      decimal.Decimal `json:"spend_this_month"`
	MonthlyBudgetUSD    decimal.Decimal `json:"monthly_budget_usd"`
}

type Params struct {
	fx.In

	DB      *gorm.DB
	OrgRepo orgdomain.Repository
	Jobs    ActiveCounter
	Clock   clock.Clock
	Log     *zap.Logger
}

// Tracker serializes quota checks per organization: an in-process mutex,
// then the settings row lock for other processes. Searches and spend live
// on the settings row; concurrent jobs are counted from the job table under
// that lock.
type Tracker struct {
	db      *gorm.DB
	orgRepo orgdomain.Repository
	jobs    ActiveCounter
	clock   clock.Clock
	log     *zap.Logger

	mu       sync.Mutex
	orgLocks map[snowflake.ID]*sync.Mutex
}

func New(p Params) *Tracker {
	return &Tracker{
		db:       p.DB,
		orgRepo:  p.OrgRepo,
		jobs:     p.Jobs,
		clock:    p.Clock,
		log:      p.Log.Named("quota.tracker"),
		orgLocks: make(map[snowflake.ID]*sync.Mutex),
	}
}

// Reserve checks the monthly search count, the concurrency limit and the
// remaining budget, then counts one search and calls create in the same
// transaction. create must insert the job in an active status so the next
// Reserve sees it. Nothing is counted when any check or create fails.
func (t *Tracker) Reserve(ctx context.Context, orgID, jobID snowflake.ID, estimate decimal.Decimal, create CreateFunc) (*Reservation, error) {
	if estimate.IsNegative() {
		return nil, ErrInvalidAmount
	}

	lock := t.orgLock(orgID)
	lock.Lock()
	defer lock.Unlock()

	err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := t.orgRepo.WithTx(tx)
		settings, err := repo.LockSettings(ctx, orgID)
		if err != nil {
			return err
		}
		settings.RollOver(t.clock.Now())

		if settings.CurrentSearchesThisMonth >= settings.MaxSearchesPerMonth {
			return t.deny(ReasonMonthlySearches, "%d of %d searches used this month",
				settings.CurrentSearchesThisMonth, settings.MaxSearchesPerMonth)
		}
		running, err := t.jobs.CountActive(ctx, tx, orgID)
		if err != nil {
			return fmt.Errorf("count active jobs: %w", err)
		}
		if running >= settings.MaxConcurrentJobs {
			return t.deny(ReasonConcurrentJobs, "%d of %d concurrent jobs running",
				running, settings.MaxConcurrentJobs)
		}
		if settings.CurrentSpendThisMonth.Add(estimate).GreaterThan(settings.MonthlyBudgetUSD) {
			return t.deny(ReasonMonthlyBudget, "estimated cost %s exceeds remaining budget",
				estimate.StringFixed(2))
		}

		settings.CurrentSearchesThisMonth++
		settings.UpdatedAt = t.clock.Now()
		if err := repo.SaveUsage(ctx, settings); err != nil {
			return err
		}
		if create == nil {
			return nil
		}
		return create(tx, settings)
	})
	if err != nil {
		return nil, err
	}
	return &Reservation{OrgID: orgID, JobID: jobID}, nil
}

// RecordSpend adds amount to the organization's monthly spend using the
// caller's transaction. It returns ErrBudgetExceeded and records nothing
// when the budget would be exceeded, so the caller can fail the job within
// the same transaction.
func (t *Tracker) RecordSpend(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrInvalidAmount
	}
	if amount.IsZero() {
		return nil
	}

	repo := t.orgRepo.WithTx(tx)
	settings, err := repo.LockSettings(ctx, orgID)
	if err != nil {
		return err
	}
	now := t.clock.Now()
	settings.RollOver(now)

	next := settings.CurrentSpendThisMonth.Add(amount)
	if next.GreaterThan(settings.MonthlyBudgetUSD) {
		obsmetrics.Workflow().IncQuotaDenied(ReasonMonthlyBudget)
		return fmt.Errorf("%w: spend %s would exceed budget %s", ErrBudgetExceeded,
			next.StringFixed(2), settings.MonthlyBudgetUSD.StringFixed(2))
	}
	settings.CurrentSpendThisMonth = next
	settings.UpdatedAt = now
	return repo.SaveUsage(ctx, settings)
}

// Usage reports current counters, applying a pending monthly reset first.
func (t *Tracker) Usage(ctx context.Context, orgID snowflake.ID) (*Usage, error) {
	var usage *Usage
	err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := t.orgRepo.WithTx(tx)
		settings, err := repo.LockSettings(ctx, orgID)
		if err != nil {
			return err
		}
		if settings.RollOver(t.clock.Now()) {
			if err := repo.SaveUsage(ctx, settings); err != nil {
				return err
			}
		}
		usage = &Usage{
			OrgID:               orgID,
			SearchesThisMonth:   settings.CurrentSearchesThisMonth,
			MaxSearchesPerMonth: settings.MaxSearchesPerMonth,
			MaxConcurrentJobs:   settings.MaxConcurrentJobs,
			SpendThisMonth:      settings.CurrentSpendThisMonth,
			MonthlyBudgetUSD:    settings.MonthlyBudgetUSD,
		}
		usage.ConcurrentJobs, err = t.jobs.CountActive(ctx, tx, orgID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return usage, nil
}

// Active returns the number of concurrency slots held by an organization.
func (t *Tracker) Active(ctx context.Context, orgID snowflake.ID) (int, error) {
	return t.jobs.CountActive(ctx, t.db.WithContext(ctx), orgID)
}

func (t *Tracker) deny(reason, format string, args ...any) error {
	obsmetrics.Workflow().IncQuotaDenied(reason)
	detail := fmt.Sprintf(format, args...)
	t.log.Debug("quota denied", zap.String("reason", reason), zap.String("detail", detail))
	return fmt.Errorf("%w: %s: %s", ErrQuotaExceeded, reason, detail)
}

func (t *Tracker) orgLock(orgID snowflake.ID) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	lock, ok := t.orgLocks[orgID]
	if !ok {
		lock = &sync.Mutex{}
		t.orgLocks[orgID] = lock
	}
	return lock
}
