package models

import "time"

// PairMessage is the queue payload asking a worker to run one job for one
// organization. Attempt starts at 1.
type PairMessage struct {
	JobID          string `json:"job_id"`
	OrganizationID string `json:"organization_id"`
	Attempt        int    `json:"attempt"`
}

// DeadLetter is a pair message that exhausted its attempts.
type DeadLetter struct {
	PairMessage
	LastError string    `json:"last_error"`
	FailedAt  time.Time `json:"failed_at"`
}
