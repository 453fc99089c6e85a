package domain

import "github.com/smallbiznis/procura/internal/guard"

type Status string

const (
	StatusPending   Status = "pending"
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Transitions is the search job state graph. running -> running is the
// retry edge taken after a transient step failure.
var Transitions = guard.NewTable("search_job", map[Status][]Status{
	StatusPending: {StatusQueued, StatusCancelled},
	StatusQueued:  {StatusRunning, StatusCancelled},
	StatusRunning: {StatusRunning, StatusCompleted, StatusFailed, StatusCancelled},
})

func (s Status) Terminal() bool {
	return Transitions.Terminal(s)
}

// ActiveStatuses are the states that hold a concurrency reservation.
var ActiveStatuses = []Status{StatusPending, StatusQueued, StatusRunning}
