package dto

import (
	"errors"
	"testing"
	"time"

	"github.com/cesargomez89/catalogsync/internal/domain"
)

func TestValidationError_Error(t *testing.T) {
	err := ValidationError{Field: "games", Message: "cannot be blank"}
	if err.Error() != "games: cannot be blank" {
		t.Errorf("Error() = %q, want %q", err.Error(), "games: cannot be blank")
	}
}

func TestToMapAndResponse(t *testing.T) {
	errs := []ValidationError{
		{Field: "game", Message: "cannot be blank"},
		{Field: "mode", Message: "must be a valid value"},
	}
	m := ToMap(errs)
	if len(m) != 2 || m["game"] != "cannot be blank" {
		t.Errorf("ToMap() = %v", m)
	}
	expected := "game: cannot be blank; mode: must be a valid value"
	if resp := ToResponse(errs); resp != expected {
		t.Errorf("ToResponse() = %q, want %q", resp, expected)
	}
}

func TestRebuildRequest_Validate(t *testing.T) {
	tests := []struct {
		name      string
		req       RebuildRequest
		wantField string
	}{
		{"valid single", RebuildRequest{Games: []string{"pokemon"}}, ""},
		{"valid parallel", RebuildRequest{Games: []string{"pokemon", "mtg"}, Mode: "parallel"}, ""},
		{"missing games", RebuildRequest{}, "games"},
		{"unknown game", RebuildRequest{Games: []string{"pokemon", "chess"}}, "games.1"},
		{"duplicate game", RebuildRequest{Games: []string{"mtg", "mtg"}}, "games"},
		{"bad mode", RebuildRequest{Games: []string{"mtg"}, Mode: "eventually"}, "mode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantField == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error on %s", tt.wantField)
			}
			if _, ok := ToMap(FromValidation(err))[tt.wantField]; !ok {
				t.Errorf("Expected error on %s, got %v", tt.wantField, ToMap(FromValidation(err)))
			}
		})
	}
}

func TestDrainRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     DrainRequest
		wantErr bool
	}{
		{"defaults", DrainRequest{}, false},
		{"full", DrainRequest{Mode: "full", MaxConcurrency: 3, MaxBatches: 1, BatchSize: 5}, false},
		{"incremental", DrainRequest{Mode: "incremental"}, false},
		{"bad mode", DrainRequest{Mode: "partial"}, true},
		{"too many workers", DrainRequest{MaxConcurrency: 100}, true},
		{"negative batch", DrainRequest{BatchSize: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEnqueueRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     EnqueueRequest
		wantErr bool
	}{
		{"all sets", EnqueueRequest{Game: "pokemon", Mode: "full"}, false},
		{"some sets", EnqueueRequest{Game: "pokemon", Mode: "incremental", Sets: []string{"base1"}}, false},
		{"missing game", EnqueueRequest{Mode: "full"}, true},
		{"unknown game", EnqueueRequest{Game: "chess", Mode: "full"}, true},
		{"missing mode", EnqueueRequest{Game: "mtg"}, true},
		{"blank set id", EnqueueRequest{Game: "mtg", Mode: "full", Sets: []string{""}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFromValidation_PlainError(t *testing.T) {
	errs := FromValidation(errors.New("unexpected EOF"))
	if len(errs) != 1 || errs[0].Field != "body" {
		t.Errorf("Expected a single body error, got %v", errs)
	}
}

func TestNewJobResponse(t *testing.T) {
	started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	msg := "provider down"
	job := &domain.SyncJob{
		ID:        "job-1",
		Type:      domain.JobTypeCards,
		Game:      "pokemon",
		SetID:     "base1",
		Status:    domain.JobStatusFailed,
		Processed: 25,
		Total:     100,
		Error:     &msg,
		CreatedAt: started,
		StartedAt: &started,
		UpdatedAt: started,
	}

	resp := NewJobResponse(job)
	if resp.Progress.Percent != 25 {
		t.Errorf("Expected 25%%, got %v", resp.Progress.Percent)
	}
	if resp.Error != msg {
		t.Errorf("Expected error %q, got %q", msg, resp.Error)
	}
	if resp.StartedAt != "2024-05-01T10:00:00Z" {
		t.Errorf("Expected RFC3339 started_at, got %q", resp.StartedAt)
	}
	if resp.CompletedAt != "" {
		t.Errorf("Expected empty completed_at, got %q", resp.CompletedAt)
	}
}
