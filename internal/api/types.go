package api

import (
	"time"

	"github.com/peedubyah/tradebot/internal/domain"
)

type AddJobRequest struct {
	ID string `json:"id"`

	// Schedule is a five-field cron expression. Interval may be given
	// instead: one of hourly, daily, weekly.
	Schedule string `json:"schedule,omitempty"`
	Interval string `json:"interval,omitempty"`

	Filter domain.SearchFilter `json:"filter"`
}

type RemoveJobRequest struct {
	ID string `json:"id"`
}

type UpdateJobRequest struct {
	ID       string `json:"id"`
	Schedule string `json:"schedule,omitempty"`
	Interval string `json:"interval,omitempty"`

	Filter domain.SearchFilter `json:"filter"`
}

type RunNowRequest struct {
	Filter domain.SearchFilter `json:"filter"`
}

type JobStatusResponse struct {
	ID           string `json:"id"`
	Schedule     string `json:"schedule"`
	NextFireTime string `json:"next_fire_time"`
}

type ListJobsResponse struct {
	Jobs []JobStatusResponse `json:"jobs"`
}

type RunNowResponse struct {
	Found     int `json:"found"`
	New       int `json:"new"`
	Captured  int `json:"captured"`
	Delivered int `json:"delivered"`
}

type StatusResponse struct {
	Status string `json:"status"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
