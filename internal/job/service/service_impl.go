package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/procura/internal/agent"
	auditdomain "github.com/smallbiznis/procura/internal/audit/domain"
	"github.com/smallbiznis/procura/internal/clock"
	"github.com/smallbiznis/procura/internal/config"
	"github.com/smallbiznis/procura/internal/entitylock"
	"github.com/smallbiznis/procura/internal/entityref"
	"github.com/smallbiznis/procura/internal/job/domain"
	notificationdomain "github.com/smallbiznis/procura/internal/notification/domain"
	obsmetrics "github.com/smallbiznis/procura/internal/observability/metrics"
	orgdomain "github.com/smallbiznis/procura/internal/organization/domain"
	productdomain "github.com/smallbiznis/procura/internal/product/domain"
	"github.com/smallbiznis/procura/internal/quota"
	supplierdomain "github.com/smallbiznis/procura/internal/supplier/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	minPriority = 1
	maxPriority = 10
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Repo      domain.Repository
	Products  productdomain.Repository
	Vendors   supplierdomain.Service
	OrgRepo   orgdomain.Repository
	Quota     *quota.Tracker
	Locker    entitylock.Locker
	Workflow  *config.WorkflowConfigHolder
	Scraper   agent.Scraper
	Extractor agent.Extractor
	Embedder  agent.Embedder
	Notifier  notificationdomain.Sink
	Audit     auditdomain.Service
	Metrics   *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	repo      domain.Repository
	products  productdomain.Repository
	vendors   supplierdomain.Service
	orgRepo   orgdomain.Repository
	quota     *quota.Tracker
	locker    entitylock.Locker
	workflow  *config.WorkflowConfigHolder
	scraper   agent.Scraper
	extractor agent.Extractor
	embedder  agent.Embedder
	notifier  notificationdomain.Sink
	audit     auditdomain.Service
	metrics   *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("job.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		repo:      p.Repo,
		products:  p.Products,
		vendors:   p.Vendors,
		orgRepo:   p.OrgRepo,
		quota:     p.Quota,
		locker:    p.Locker,
		workflow:  p.Workflow,
		scraper:   p.Scraper,
		extractor: p.Extractor,
		embedder:  p.Embedder,
		notifier:  p.Notifier,
		audit:     p.Audit,
		metrics:   p.Metrics,
	}
}

func (s *Service) Submit(ctx context.Context, req domain.SubmitRequest) (*domain.SearchJob, error) {
	query := strings.TrimSpace(req.Query)
	switch {
	case req.OrgID == 0:
		return nil, domain.ErrInvalidOrg
	case req.UserID == 0:
		return nil, domain.ErrInvalidUser
	case query == "":
		return nil, domain.ErrInvalidQuery
	case req.MaxRetries != nil && *req.MaxRetries < 0:
		return nil, domain.ErrInvalidRetries
	}
	priority := req.Priority
	if priority == 0 {
		priority = minPriority
	}
	if priority < minPriority || priority > maxPriority {
		return nil, domain.ErrInvalidPriority
	}

	now := s.clock.Now()
	job := &domain.SearchJob{
		ID:               s.genID.Generate(),
		OrgID:            req.OrgID,
		UserID:           req.UserID,
		QueryText:        query,
		Filters:          datatypes.JSONMap(req.Filters),
		Status:           domain.StatusPending,
		Priority:         priority,
		EstimatedCostUSD: req.EstimatedCostUSD,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	_, err := s.quota.Reserve(ctx, req.OrgID, job.ID, req.EstimatedCostUSD, func(tx *gorm.DB, settings *orgdomain.OrganizationSettings) error {
		job.MaxRetries = settings.MaxRetries
		if req.MaxRetries != nil {
			job.MaxRetries = *req.MaxRetries
		}
		if err := s.repo.WithTx(tx).Create(ctx, job); err != nil {
			return err
		}
		userID := req.UserID
		return s.audit.RecordTx(ctx, tx, auditdomain.Entry{
			OrgID:   req.OrgID,
			ActorID: &userID,
			Action:  auditdomain.ActionJobSubmitted,
			Target:  entityref.SearchJob(job.ID),
			Metadata: map[string]any{
				"query":    query,
				"priority": priority,
			},
		})
	})
	if err != nil {
		if errors.Is(err, quota.ErrQuotaExceeded) {
			s.notifier.Notify(ctx, notificationdomain.Message{
				OrgID:    req.OrgID,
				UserID:   req.UserID,
				Type:     notificationdomain.TypeSystemAlert,
				Title:    "Search not started",
				Message:  err.Error(),
				Priority: notificationdomain.PriorityHigh,
			})
		}
		return nil, err
	}

	obsmetrics.Workflow().IncTransition(string(entityref.KindSearchJob), "", string(domain.StatusPending))
	s.metrics.RecordJobSubmitted(ctx, job.OrgID.String())
	s.log.Info("search job submitted",
		zap.String("job_id", job.ID.String()),
		zap.String("org_id", job.OrgID.String()),
		zap.Int("priority", job.Priority),
	)
	return job, nil
}

func (s *Service) ClaimPending(ctx context.Context, limit int) ([]domain.SearchJob, error) {
	if limit <= 0 {
		limit = 1
	}
	var claimed []domain.SearchJob
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		jobs, err := repo.LockPending(ctx, limit)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		for i := range jobs {
			if err := s.transition(&jobs[i], domain.StatusQueued, now); err != nil {
				return err
			}
			if err := repo.Save(ctx, &jobs[i]); err != nil {
				return err
			}
		}
		claimed = jobs
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (s *Service) Start(ctx context.Context, id snowflake.ID) (*domain.SearchJob, error) {
	unlock, err := s.lockJob(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	job, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.StatusQueued {
		return job, nil
	}

	vendors, err := s.vendors.Eligible(ctx, job.OrgID)
	if err != nil {
		return nil, err
	}
	plan := buildPlan(vendors)

	job, terminated, err := s.mutate(ctx, id, func(repo domain.Repository, job *domain.SearchJob, now time.Time) (bool, error) {
		if job.Status != domain.StatusQueued {
			return false, nil
		}
		if err := s.transition(job, domain.StatusRunning, now); err != nil {
			return false, err
		}
		job.StartedAt = &now

		if len(vendors) == 0 {
			s.fail(job, domain.ErrNoEligibleVendor.Error(), now)
			if err := repo.Save(ctx, job); err != nil {
				return false, err
			}
			return true, repo.AppendLog(ctx, s.newLog(job, "orchestrator", "plan_failed", domain.LogLevelError, nil, map[string]any{
				"error": domain.ErrNoEligibleVendor.Error(),
			}))
		}

		job.Plan = plan
		job.TotalSteps = len(plan)
		job.StepIndex = 0
		label := plan[0].Label()
		job.CurrentStep = &label

		if err := repo.Save(ctx, job); err != nil {
			return false, err
		}

		names := make([]string, 0, len(vendors))
		for _, v := range vendors {
			names = append(names, v.Name)
		}
		return true, repo.AppendLog(ctx, s.newLog(job, "orchestrator", "plan_created", domain.LogLevelInfo, nil, map[string]any{
			"total_steps": len(plan),
			"vendors":     names,
		}))
	})
	if err != nil {
		return nil, err
	}
	if terminated {
		s.finalize(ctx, job)
	}
	return job, nil
}

// buildPlan scrapes every vendor, then extracts and indexes what was found.
func buildPlan(vendors []supplierdomain.Vendor) []domain.Step {
	if len(vendors) == 0 {
		return nil
	}
	plan := make([]domain.Step, 0, len(vendors)+2)
	for _, v := range vendors {
		plan = append(plan, domain.Step{Kind: domain.StepScrape, VendorID: v.ID, VendorName: v.Name})
	}
	return append(plan, domain.Step{Kind: domain.StepExtract}, domain.Step{Kind: domain.StepEmbed})
}

func (s *Service) Advance(ctx context.Context, id snowflake.ID) (*domain.SearchJob, error) {
	unlock, err := s.lockJob(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	job, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !job.Due(s.clock.Now()) {
		return job, nil
	}

	stepIndex := job.StepIndex
	step, ok := job.CurrentPlanStep()
	var (
		outcome *stepOutcome
		stepErr error
	)
	started := time.Now()
	if ok {
		outcome, stepErr = s.runStep(ctx, job, step)
	} else {
		stepErr = agent.Fatal("plan", fmt.Errorf("no step at index %d of %d", job.StepIndex, len(job.Plan)))
	}
	elapsed := time.Since(started)

	// Shutdown interrupted the step; leave it for the next run.
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	job, terminated, err := s.mutate(ctx, id, func(repo domain.Repository, job *domain.SearchJob, now time.Time) (bool, error) {
		if job.Status != domain.StatusRunning || job.StepIndex != stepIndex {
			return false, s.discard(ctx, repo, job, outcome)
		}
		if stepErr != nil {
			return s.applyFailure(ctx, repo, job, step, stepErr, elapsed, now)
		}
		return s.applySuccess(ctx, repo, job, step, outcome, elapsed, now)
	})

	var perr *persistError
	if errors.As(err, &perr) {
		s.log.Warn("failed to persist step result",
			zap.String("job_id", id.String()),
			zap.String("step", string(step.Kind)),
			zap.Error(perr.err),
		)
		stepErr = perr.classify(step)
		job, terminated, err = s.mutate(ctx, id, func(repo domain.Repository, job *domain.SearchJob, now time.Time) (bool, error) {
			if job.Status != domain.StatusRunning || job.StepIndex != stepIndex {
				return false, nil
			}
			return s.applyFailure(ctx, repo, job, step, stepErr, elapsed, now)
		})
	}
	if err != nil {
		return nil, err
	}

	if outcome != nil && stepErr == nil {
		for _, msg := range outcome.notices {
			s.notifier.Notify(ctx, msg)
		}
	}
	if terminated {
		s.finalize(ctx, job)
	}
	return job, nil
}

// discard drops the result of a step that finished after the job was
// cancelled or moved on. The money is still spent.
func (s *Service) discard(ctx context.Context, repo domain.Repository, job *domain.SearchJob, outcome *stepOutcome) error {
	s.log.Info("discarding step result",
		zap.String("job_id", job.ID.String()),
		zap.String("status", string(job.Status)),
	)
	if outcome == nil || !outcome.cost.IsPositive() {
		return nil
	}
	err := s.quota.RecordSpend(ctx, repo.Tx(), job.OrgID, outcome.cost)
	if errors.Is(err, quota.ErrBudgetExceeded) {
		return nil
	}
	return err
}

func (s *Service) applyFailure(ctx context.Context, repo domain.Repository, job *domain.SearchJob, step domain.Step, stepErr error, elapsed time.Duration, now time.Time) (bool, error) {
	msg := stepErr.Error()
	level := domain.LogLevelWarning
	terminated := false

	if agent.IsFatal(stepErr) {
		s.fail(job, msg, now)
		level = domain.LogLevelError
		terminated = true
	} else {
		if job.RetryCount < job.MaxRetries {
			job.RetryCount++
		}
		if job.RetryCount >= job.MaxRetries {
			s.fail(job, fmt.Sprintf("retries exhausted after %d attempts: %s", job.RetryCount, msg), now)
			level = domain.LogLevelError
			terminated = true
		} else {
			if err := s.transition(job, domain.StatusRunning, now); err != nil {
				return false, err
			}
			next := now.Add(s.workflow.Get().RetryDelay(job.RetryCount - 1))
			job.NextAttemptAt = &next
			job.ErrorMessage = &msg
		}
	}

	log := s.newLog(job, agentName(step), string(step.Kind)+"_failed", level, &elapsed, map[string]any{
		"error":       msg,
		"retry_count": job.RetryCount,
		"max_retries": job.MaxRetries,
	})
	if err := repo.AppendLog(ctx, log); err != nil {
		return false, err
	}
	return terminated, repo.Save(ctx, job)
}

func (s *Service) applySuccess(ctx context.Context, repo domain.Repository, job *domain.SearchJob, step domain.Step, outcome *stepOutcome, elapsed time.Duration, now time.Time) (bool, error) {
	tx := repo.Tx()
	if err := s.quota.RecordSpend(ctx, tx, job.OrgID, outcome.cost); err != nil {
		if !errors.Is(err, quota.ErrBudgetExceeded) {
			return false, err
		}
		s.fail(job, err.Error(), now)
		log := s.newLog(job, agentName(step), "budget_exceeded", domain.LogLevelError, &elapsed, map[string]any{
			"cost_usd": outcome.cost.String(),
		})
		if err := repo.AppendLog(ctx, log); err != nil {
			return false, err
		}
		return true, repo.Save(ctx, job)
	}

	if outcome.apply != nil {
		if err := outcome.apply(ctx, tx, job, now); err != nil {
			return false, &persistError{err: err}
		}
	}

	job.ActualCostUSD = job.ActualCostUSD.Add(outcome.cost)
	job.VendorsSearchedCount += outcome.vendorsSearched
	job.StepIndex++
	job.NextAttemptAt = nil
	job.ErrorMessage = nil
	job.UpdatedAt = now

	terminated := false
	progress := 100
	if job.TotalSteps > 0 {
		progress = job.StepIndex * 100 / job.TotalSteps
	}
	if next, ok := job.CurrentPlanStep(); ok {
		label := next.Label()
		job.CurrentStep = &label
	} else {
		if err := s.transition(job, domain.StatusCompleted, now); err != nil {
			return false, err
		}
		progress = 100
		label := "completed"
		job.CurrentStep = &label
		terminated = true
	}
	if progress > job.ProgressPercentage {
		job.ProgressPercentage = progress
	}

	metadata := outcome.metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata["cost_usd"] = outcome.cost.String()
	log := s.newLog(job, agentName(step), string(step.Kind)+"_completed", domain.LogLevelInfo, &elapsed, metadata)
	if err := repo.AppendLog(ctx, log); err != nil {
		return false, err
	}
	return terminated, repo.Save(ctx, job)
}

func (s *Service) Cancel(ctx context.Context, id snowflake.ID, actorID *snowflake.ID) (*domain.SearchJob, error) {
	job, terminated, err := s.mutate(ctx, id, func(repo domain.Repository, job *domain.SearchJob, now time.Time) (bool, error) {
		if job.Status.Terminal() {
			return false, nil
		}
		from := job.Status
		if err := s.transition(job, domain.StatusCancelled, now); err != nil {
			return false, err
		}
		msg := "cancelled"
		job.ErrorMessage = &msg
		if err := repo.AppendLog(ctx, s.newLog(job, "orchestrator", "cancelled", domain.LogLevelWarning, nil, map[string]any{
			"from": string(from),
		})); err != nil {
			return false, err
		}
		if err := repo.Save(ctx, job); err != nil {
			return false, err
		}
		return true, s.audit.RecordTx(ctx, repo.Tx(), auditdomain.Entry{
			OrgID:   job.OrgID,
			ActorID: actorID,
			Action:  auditdomain.ActionJobCancelled,
			Target:  entityref.SearchJob(job.ID),
			Changes: map[string]any{"status": map[string]any{"from": string(from), "to": string(job.Status)}},
		})
	})
	if err != nil {
		return nil, err
	}
	if terminated {
		s.finalize(ctx, job)
	}
	return job, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.SearchJob, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *Service) List(ctx context.Context, filter domain.ListFilter) ([]domain.SearchJob, error) {
	if filter.OrgID == 0 {
		return nil, domain.ErrInvalidOrg
	}
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	return s.repo.List(ctx, filter)
}

func (s *Service) Progress(ctx context.Context, id snowflake.ID, afterStep int) (*domain.Progress, error) {
	job, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	logs, err := s.repo.ListLogs(ctx, id, afterStep, 0)
	if err != nil {
		return nil, err
	}
	return &domain.Progress{
		JobID:              job.ID,
		Status:             job.Status,
		ProgressPercentage: job.ProgressPercentage,
		CurrentStep:        job.CurrentStep,
		StepsCompleted:     job.StepIndex,
		TotalSteps:         job.TotalSteps,
		ProductsFound:      job.ProductsFoundCount,
		ActualCostUSD:      job.ActualCostUSD,
		ErrorMessage:       job.ErrorMessage,
		Logs:               logs,
	}, nil
}

func (s *Service) ListRunnable(ctx context.Context, limit int) ([]domain.SearchJob, error) {
	return s.repo.ListRunnable(ctx, s.clock.Now(), limit)
}

type mutateFunc func(repo domain.Repository, job *domain.SearchJob, now time.Time) (bool, error)

// mutate runs fn against the row-locked job inside one transaction. The
// returned flag is fn's report that the job reached a terminal state.
func (s *Service) mutate(ctx context.Context, id snowflake.ID, fn mutateFunc) (*domain.SearchJob, bool, error) {
	var (
		job        *domain.SearchJob
		terminated bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := repo.LockByID(ctx, id)
		if err != nil {
			return err
		}
		done, err := fn(repo, current, s.clock.Now())
		if err != nil {
			return err
		}
		job, terminated = current, done && current.Status.Terminal()
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return job, terminated, nil
}

func (s *Service) transition(job *domain.SearchJob, to domain.Status, now time.Time) error {
	if err := domain.Transitions.Ensure(job.Status, to); err != nil {
		return err
	}
	obsmetrics.Workflow().IncTransition(string(entityref.KindSearchJob), string(job.Status), string(to))
	job.Status = to
	job.UpdatedAt = now
	if to.Terminal() {
		job.CompletedAt = &now
		job.NextAttemptAt = nil
	}
	return nil
}

func (s *Service) fail(job *domain.SearchJob, msg string, now time.Time) {
	if err := s.transition(job, domain.StatusFailed, now); err != nil {
		s.log.Error("failed to fail search job", zap.String("job_id", job.ID.String()), zap.Error(err))
		return
	}
	job.ErrorMessage = &msg
}

func (s *Service) newLog(job *domain.SearchJob, agentName, action, level string, elapsed *time.Duration, metadata map[string]any) *domain.AgentLog {
	log := &domain.AgentLog{
		ID:          s.genID.Generate(),
		SearchJobID: job.ID,
		AgentName:   agentName,
		Action:      action,
		LogLevel:    level,
		Metadata:    datatypes.JSONMap(metadata),
		CreatedAt:   s.clock.Now(),
	}
	if elapsed != nil {
		ms := elapsed.Milliseconds()
		log.DurationMS = &ms
	}
	return log
}

func (s *Service) lockJob(ctx context.Context, id snowflake.ID) (entitylock.Unlock, error) {
	unlock, err := s.locker.TryLock(ctx, entitylock.Key(string(entityref.KindSearchJob), id))
	if errors.Is(err, entitylock.ErrNotAcquired) {
		return nil, fmt.Errorf("%w: %s", domain.ErrJobBusy, id)
	}
	return unlock, err
}

func agentName(step domain.Step) string {
	switch step.Kind {
	case domain.StepScrape:
		return "scraper_agent"
	case domain.StepExtract:
		return "extraction_agent"
	case domain.StepEmbed:
		return "embedding_agent"
	default:
		return "orchestrator"
	}
}
