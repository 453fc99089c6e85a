package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/procura/internal/job/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) domain.Repository {
	return &repository{db: tx}
}

func (r *repository) Tx() *gorm.DB {
	return r.db
}

func (r *repository) Create(ctx context.Context, job *domain.SearchJob) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *repository) FindByID(ctx context.Context, id snowflake.ID) (*domain.SearchJob, error) {
	return r.find(r.db.WithContext(ctx), id)
}

func (r *repository) LockByID(ctx context.Context, id snowflake.ID) (*domain.SearchJob, error) {
	return r.find(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), id)
}

func (r *repository) find(db *gorm.DB, id snowflake.ID) (*domain.SearchJob, error) {
	var job domain.SearchJob
	err := db.First(&job, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *repository) Save(ctx context.Context, job *domain.SearchJob) error {
	expected := job.Version
	job.Version = expected + 1
	res := r.db.WithContext(ctx).
		Model(&domain.SearchJob{}).
		Where("id = ? AND version = ?", job.ID, expected).
		Select("*").
		Omit("id", "created_at").
		Updates(job)
	if res.Error != nil {
		job.Version = expected
		return res.Error
	}
	if res.RowsAffected == 0 {
		job.Version = expected
		return domain.ErrConcurrentUpdate
	}
	return nil
}

func (r *repository) LockPending(ctx context.Context, limit int) ([]domain.SearchJob, error) {
	var jobs []domain.SearchJob
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("status = ?", domain.StatusPending).
		Order("priority DESC").
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

func (r *repository) ListRunnable(ctx context.Context, now time.Time, limit int) ([]domain.SearchJob, error) {
	var jobs []domain.SearchJob
	err := r.db.WithContext(ctx).
		Where("status = ? OR (status = ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?))",
			domain.StatusQueued, domain.StatusRunning, now).
		Order("priority DESC").
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

func (r *repository) CountActive(ctx context.Context, tx *gorm.DB, orgID snowflake.ID) (int, error) {
	var n int64
	err := tx.WithContext(ctx).
		Model(&domain.SearchJob{}).
		Where("org_id = ? AND status IN ?", orgID, domain.ActiveStatuses).
		Count(&n).Error
	return int(n), err
}

func (r *repository) List(ctx context.Context, filter domain.ListFilter) ([]domain.SearchJob, error) {
	query := r.db.WithContext(ctx).Where("org_id = ?", filter.OrgID)
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	var jobs []domain.SearchJob
	err := query.Order("created_at DESC").Order("id DESC").Find(&jobs).Error
	return jobs, err
}

// AppendLog numbers the entry after the job's latest log. Callers hold the
// job row lock, so numbers cannot collide.
func (r *repository) AppendLog(ctx context.Context, log *domain.AgentLog) error {
	var last int
	err := r.db.WithContext(ctx).
		Model(&domain.AgentLog{}).
		Where("search_job_id = ?", log.SearchJobID).
		Select("COALESCE(MAX(step_number), 0)").
		Row().
		Scan(&last)
	if err != nil {
		return err
	}
	log.StepNumber = last + 1
	return r.db.WithContext(ctx).Create(log).Error
}

func (r *repository) ListLogs(ctx context.Context, jobID snowflake.ID, afterStep int, limit int) ([]domain.AgentLog, error) {
	query := r.db.WithContext(ctx).
		Where("search_job_id = ? AND step_number > ?", jobID, afterStep).
		Order("step_number ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var logs []domain.AgentLog
	err := query.Find(&logs).Error
	return logs, err
}
