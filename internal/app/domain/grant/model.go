// Package grant holds the shipyard ledger model: funding rounds ("ships"),
// applications, allocations, distribution runs and verified fundings.
package grant

import (
	"fmt"
	"strings"
	"time"
)

// DefaultDurationDays applies when a round is created without a duration.
const DefaultDurationDays = 30

// RoundStatus is the lifecycle state of a round.
type RoundStatus string

const (
	RoundOpen         RoundStatus = "open"
	RoundClosed       RoundStatus = "closed"
	RoundDistributing RoundStatus = "distributing"
	RoundCompleted    RoundStatus = "completed"
)

// ParseRoundStatus normalises a status filter value.
func ParseRoundStatus(raw string) (RoundStatus, error) {
	switch s := RoundStatus(strings.ToLower(strings.TrimSpace(raw))); s {
	case RoundOpen, RoundClosed, RoundDistributing, RoundCompleted:
		return s, nil
	default:
		return "", fmt.Errorf("unknown round status %q", raw)
	}
}

// Round is a time-boxed grant funding cycle.
type Round struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Description  string      `json:"description,omitempty"`
	Approver     Address     `json:"approver"`
	Criteria     []string    `json:"criteria"`
	Budget       Amount      `json:"budget"`
	Allocated    Amount      `json:"allocated"`
	Distributed  Amount      `json:"distributed"`
	NetPaid      Amount      `json:"net_paid"`
	FeesRetained Amount      `json:"fees_retained"`
	StartTime    time.Time   `json:"start_time"`
	EndTime      time.Time   `json:"end_time"`
	Status       RoundStatus `json:"status"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Remaining returns the budget not yet reserved by allocations.
func (r Round) Remaining() Amount {
	rem, err := r.Budget.Sub(r.Allocated)
	if err != nil {
		return 0
	}
	return rem
}

// EffectiveStatus is the status a reader should observe at now. An open round
// whose end time has passed reads as closed; every other status is sticky.
func EffectiveStatus(r Round, now time.Time) RoundStatus {
	if r.Status == RoundOpen && now.After(r.EndTime) {
		return RoundClosed
	}
	return r.Status
}

// SettledStatus is the status after a distribution run updated the totals.
func SettledStatus(r Round) RoundStatus {
	if r.Distributed >= r.Allocated {
		return RoundCompleted
	}
	return RoundDistributing
}

// ApplicationStatus is the decision state of an application.
type ApplicationStatus string

const (
	ApplicationPending  ApplicationStatus = "pending"
	ApplicationApproved ApplicationStatus = "approved"
	ApplicationRejected ApplicationStatus = "rejected"
)

// ParseApplicationStatus normalises a status filter value.
func ParseApplicationStatus(raw string) (ApplicationStatus, error) {
	switch s := ApplicationStatus(strings.ToLower(strings.TrimSpace(raw))); s {
	case ApplicationPending, ApplicationApproved, ApplicationRejected:
		return s, nil
	default:
		return "", fmt.Errorf("unknown application status %q", raw)
	}
}

// Application is a request for funding submitted to a round.
type Application struct {
	ID              string            `json:"id"`
	RoundID         string            `json:"round_id"`
	Applicant       Address           `json:"applicant"`
	ProjectName     string            `json:"project_name"`
	Description     string            `json:"description,omitempty"`
	RequestedAmount Amount            `json:"requested_amount"`
	Links           []string          `json:"links,omitempty"`
	Status          ApplicationStatus `json:"status"`
	AllocatedAmount Amount            `json:"allocated_amount"`
	DecidedAt       *time.Time        `json:"decided_at,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

// Decided reports whether the application already received a decision.
func (a Application) Decided() bool {
	return a.Status != ApplicationPending
}

// Allocation is an approver's reservation of round budget for an application.
// AwaitingConfirmation is set while a broadcast payment has an unknown
// outcome; PaymentReference then names that transfer.
type Allocation struct {
	ID                   string     `json:"id"`
	RoundID              string     `json:"round_id"`
	ApplicationID        string     `json:"application_id"`
	Recipient            Address    `json:"recipient"`
	Amount               Amount     `json:"amount"`
	Distributed          bool       `json:"distributed"`
	DistributedAt        *time.Time `json:"distributed_at,omitempty"`
	AwaitingConfirmation bool       `json:"awaiting_confirmation,omitempty"`
	PaymentReference     string     `json:"payment_reference,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
}

// Payable reports whether a distribution run should attempt this allocation.
func (a Allocation) Payable() bool {
	return !a.Distributed && !a.AwaitingConfirmation && a.Amount > 0
}

// Payout is the outcome of one payment attempt inside a distribution run.
// Unconfirmed payouts were broadcast but not seen on chain; Reconciled ones
// settle a transfer sent by an earlier run.
type Payout struct {
	AllocationID     string  `json:"allocation_id"`
	ApplicationID    string  `json:"application_id"`
	Recipient        Address `json:"recipient"`
	Gross            Amount  `json:"gross"`
	Fee              Amount  `json:"fee"`
	Net              Amount  `json:"net"`
	Success          bool    `json:"success"`
	Unconfirmed      bool    `json:"unconfirmed,omitempty"`
	Reconciled       bool    `json:"reconciled,omitempty"`
	PaymentReference string  `json:"payment_reference,omitempty"`
	Error            string  `json:"error,omitempty"`
}

// Distribution is the append-only record of one distribution run.
type Distribution struct {
	ID          string    `json:"id"`
	RoundID     string    `json:"round_id"`
	TotalGross  Amount    `json:"total_gross"`
	TotalFee    Amount    `json:"total_fee"`
	TotalNet    Amount    `json:"total_net"`
	GrossPaid   Amount    `json:"gross_paid"`
	NetPaid     Amount    `json:"net_paid"`
	Succeeded   int       `json:"succeeded"`
	Failed      int       `json:"failed"`
	Unconfirmed int       `json:"unconfirmed"`
	Payouts     []Payout  `json:"payouts"`
	CreatedAt   time.Time `json:"created_at"`
}

// Add appends a payout and folds it into the run totals.
func (d *Distribution) Add(p Payout) {
	d.Payouts = append(d.Payouts, p)
	d.TotalGross += p.Gross
	d.TotalFee += p.Fee
	d.TotalNet += p.Net
	switch {
	case p.Success:
		d.Succeeded++
		d.GrossPaid += p.Gross
		d.NetPaid += p.Net
	case p.Unconfirmed:
		d.Unconfirmed++
	default:
		d.Failed++
	}
}

// Partial reports whether at least one payout in the run did not settle.
func (d Distribution) Partial() bool {
	return d.Failed > 0 || d.Unconfirmed > 0
}

// Funding records a verified on-chain transfer credited to a round.
type Funding struct {
	TxHash    string        `json:"tx_hash"`
	RoundID   string        `json:"round_id"`
	Amount    Amount        `json:"amount"`
	Status    FundingStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
}

// FundingStatus tracks a funding claim from submission to credit.
type FundingStatus string

const (
	FundingPending  FundingStatus = "pending"
	FundingCredited FundingStatus = "credited"
)
