package quota

import "errors"

var (
	ErrQuotaExceeded  = errors.New("quota_exceeded")
	ErrBudgetExceeded = errors.New("budget_exceeded")
	ErrInvalidAmount  = errors.New("invalid_amount")
)

// Denial reasons, also used as metric labels.
const (
	ReasonMonthlySearches = "monthly_searches"
	ReasonConcurrentJobs  = "concurrent_jobs"
	ReasonMonthlyBudget   = "monthly_budget"
)
