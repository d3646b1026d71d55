package dto

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/cesargomez89/catalogsync/internal/domain"
)

const maxEnqueueSets = 500

type RebuildRequest struct {
	Games []string `json:"games"`
	Mode  string   `json:"mode"`
	Force bool     `json:"force"`
}

func (r RebuildRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Games,
			validation.Required,
			validation.By(uniqueStrings),
			validation.Each(validation.By(supportedGame)),
		),
		validation.Field(&r.Mode, validation.In("sequential", "parallel")),
	)
}

type DrainRequest struct {
	Mode           string `json:"mode"`
	MaxConcurrency int    `json:"maxConcurrency"`
	MaxBatches     int    `json:"maxBatches"`
	BatchSize      int    `json:"batchSize"`
}

func (r DrainRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Mode, validation.In(string(domain.QueueModeFull), string(domain.QueueModeIncremental))),
		validation.Field(&r.MaxConcurrency, validation.Min(1), validation.Max(20)),
		validation.Field(&r.MaxBatches, validation.Min(1), validation.Max(1000)),
		validation.Field(&r.BatchSize, validation.Min(1), validation.Max(100)),
	)
}

type EnqueueRequest struct {
	Game string   `json:"game"`
	Mode string   `json:"mode"`
	Sets []string `json:"sets"`
}

func (r EnqueueRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Game, validation.Required, validation.By(supportedGame)),
		validation.Field(&r.Mode, validation.Required, validation.In(string(domain.QueueModeFull), string(domain.QueueModeIncremental))),
		validation.Field(&r.Sets, validation.Length(0, maxEnqueueSets), validation.Each(validation.Required)),
	)
}
