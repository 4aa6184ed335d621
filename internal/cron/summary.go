package cron

// Result is the outcome of one pair. ExecutionID, Metadata and DurationMs are
// only reported for verbose runs.
type Result struct {
	JobID                string         `json:"jobId"`
	JobName              string         `json:"jobName"`
	OrganizationID       string         `json:"organizationId"`
	Success              bool           `json:"success"`
	NotificationsCreated int            `json:"notificationsCreated"`
	Error                string         `json:"error,omitempty"`
	ExecutionID          string         `json:"executionId,omitempty"`
	Metadata             map[string]any `json:"metadata,omitempty"`
	DurationMs           *int64         `json:"durationMs,omitempty"`
}

func (r Result) brief() Result {
	r.ExecutionID = ""
	r.Metadata = nil
	r.DurationMs = nil
	return r
}

// Summary aggregates the results of one run.
type Summary struct {
	TotalJobs          int      `json:"totalJobs"`
	SuccessfulJobs     int      `json:"successfulJobs"`
	FailedJobs         int      `json:"failedJobs"`
	TotalNotifications int      `json:"totalNotifications"`
	Results            []Result `json:"results"`
}

// Summarize counts results. Failed results contribute no notifications.
func Summarize(results []Result) Summary {
	s := Summary{TotalJobs: len(results), Results: results}
	if s.Results == nil {
		s.Results = []Result{}
	}
	for _, r := range results {
		if !r.Success {
			s.FailedJobs++
			continue
		}
		s.SuccessfulJobs++
		s.TotalNotifications += r.NotificationsCreated
	}
	return s
}
