package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// JobStatus tracks a dispatch job through its lifecycle.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusDelivered JobStatus = "delivered"
	JobStatusAbandoned JobStatus = "abandoned"
)

// PaidConversion is the fact fanned out to tracking sinks after a charge is
// confirmed paid.
type PaidConversion struct {
	TransactionID string
	SubscriberID  string
	Tier          string
	Provider      string
	AmountCents   int64
	Currency      string
	UTMSource     string
	UTMCampaign   string
	PaidAt        time.Time
}

// DispatchJob is one sink's pending delivery of a paid conversion. The unique
// (transaction_id, sink) pair makes re-dispatching the same conversion a
// no-op.
type DispatchJob struct {
	ID            snowflake.ID `gorm:"primaryKey"`
	TransactionID string       `gorm:"uniqueIndex:uq_dispatch_jobs_tx_sink"`
	Sink          string       `gorm:"uniqueIndex:uq_dispatch_jobs_tx_sink"`
	SubscriberID  string
	Tier          string
	Provider      string
	AmountCents   int64
	Currency      string
	UTMSource     string
	UTMCampaign   string
	PaidAt        time.Time
	Status        JobStatus `gorm:"default:pending"`
	Attempts      int
	NextRunAt     time.Time
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (DispatchJob) TableName() string { return "dispatch_jobs" }

// Conversion reconstructs the fanned-out fact from a stored job.
func (j *DispatchJob) Conversion() *PaidConversion {
	return &PaidConversion{
		TransactionID: j.TransactionID,
		SubscriberID:  j.SubscriberID,
		Tier:          j.Tier,
		Provider:      j.Provider,
		AmountCents:   j.AmountCents,
		Currency:      j.Currency,
		UTMSource:     j.UTMSource,
		UTMCampaign:   j.UTMCampaign,
		PaidAt:        j.PaidAt,
	}
}
