package app

import "sync"

type EventType string

const (
	EventStart               EventType = "START"
	EventImportPhase         EventType = "IMPORT_PHASE"
	EventFixBadWritesSummary EventType = "FIX_BAD_WRITES_SUMMARY"
	EventValidate            EventType = "VALIDATE"
	EventReadyToSwap         EventType = "READY_TO_SWAP"
	EventSwapDone            EventType = "SWAP_DONE"
	EventError               EventType = "ERROR"
	EventComplete            EventType = "COMPLETE"
)

// Event is one progress notification of a rebuild run.
type Event struct {
	Type    EventType `json:"type"`
	Game    string    `json:"game,omitempty"`
	Step    string    `json:"step,omitempty"`
	Message string    `json:"message"`
	Data    any       `json:"data,omitempty"`
}

type EmitFunc func(Event)

// serialize makes emit safe to call from several goroutines.
func serialize(emit EmitFunc) EmitFunc {
	if emit == nil {
		return func(Event) {}
	}
	var mu sync.Mutex
	return func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		emit(e)
	}
}
