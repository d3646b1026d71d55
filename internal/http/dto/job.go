package dto

import (
	"time"

	"github.com/cesargomez89/catalogsync/internal/domain"
)

type Progress struct {
	Processed int     `json:"processed"`
	Total     int     `json:"total"`
	Percent   float64 `json:"percent"`
}

type JobResponse struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Game        string         `json:"game"`
	SetID       string         `json:"set_id,omitempty"`
	Status      string         `json:"status"`
	Progress    Progress       `json:"progress"`
	RetryCount  int            `json:"retry_count"`
	MaxRetries  int            `json:"max_retries"`
	Results     domain.JSONMap `json:"results,omitempty"`
	Metrics     domain.JSONMap `json:"metrics,omitempty"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   string         `json:"created_at"`
	StartedAt   string         `json:"started_at,omitempty"`
	CompletedAt string         `json:"completed_at,omitempty"`
	UpdatedAt   string         `json:"updated_at"`
}

func NewJobResponse(j *domain.SyncJob) JobResponse {
	resp := JobResponse{
		ID:         j.ID,
		Type:       string(j.Type),
		Game:       j.Game,
		SetID:      j.SetID,
		Status:     string(j.Status),
		Progress:   Progress{Processed: j.Processed, Total: j.Total},
		RetryCount: j.RetryCount,
		MaxRetries: j.MaxRetries,
		Results:    j.Results,
		Metrics:    j.Metrics,
		CreatedAt:  j.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  j.UpdatedAt.Format(time.RFC3339),
	}
	if j.Total > 0 {
		resp.Progress.Percent = float64(j.Processed) * 100 / float64(j.Total)
	}
	if j.Error != nil {
		resp.Error = *j.Error
	}
	if j.StartedAt != nil {
		resp.StartedAt = j.StartedAt.Format(time.RFC3339)
	}
	if j.CompletedAt != nil {
		resp.CompletedAt = j.CompletedAt.Format(time.RFC3339)
	}
	return resp
}

func NewJobResponses(jobs []*domain.SyncJob) []JobResponse {
	out := make([]JobResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, NewJobResponse(j))
	}
	return out
}
