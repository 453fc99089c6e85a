package domain

import "github.com/smallbiznis/procura/internal/guard"

type Status string

const (
	StatusDraft           Status = "draft"
	StatusPendingApproval Status = "pending_approval"
	StatusSent            Status = "sent"
	StatusVendorReplied   Status = "vendor_replied"
	StatusAccepted        Status = "accepted"
	StatusRejected        Status = "rejected"
	StatusExpired         Status = "expired"
)

// Transitions is the negotiation state graph. draft -> sent is only taken
// when no approval is required; vendor_replied -> vendor_replied records a
// further offer in the same thread.
var Transitions = guard.NewTable("negotiation", map[Status][]Status{
	StatusDraft:           {StatusPendingApproval, StatusSent, StatusExpired},
	StatusPendingApproval: {StatusSent, StatusExpired},
	StatusSent:            {StatusVendorReplied, StatusRejected, StatusExpired},
	StatusVendorReplied:   {StatusVendorReplied, StatusAccepted, StatusRejected, StatusExpired},
})

func (s Status) Terminal() bool {
	return Transitions.Terminal(s)
}

// OpenStatuses are the states the orchestrator polls.
var OpenStatuses = []Status{StatusDraft, StatusPendingApproval, StatusSent, StatusVendorReplied}
