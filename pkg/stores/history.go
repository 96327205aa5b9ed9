package stores

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/workitems/backlog/pkg/engine"
	"github.com/workitems/backlog/pkg/telemetry"
)

// HashDocument returns the hex SHA256 of rendered document bytes.
func HashDocument(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// NewActionRun converts an executor outcome into a history record. result may
// be nil when the command never started.
func NewActionRun(token, workItemID string, result *engine.ActionResult, runErr error) *ActionRun {
	run := &ActionRun{
		Token:      token,
		WorkItemID: workItemID,
		ExitCode:   -1,
		Command:    []string{},
	}

	if result != nil {
		run.OK = result.OK
		run.ExitCode = result.ExitCode
		run.Command = result.Command
		run.Stdout = result.Stdout
		run.Stderr = result.Stderr
		run.StartedAt = result.StartedAt
		run.EndedAt = result.EndedAt
	}

	if runErr != nil {
		msg := runErr.Error()
		run.Error = &msg
		run.OK = false
	}

	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	return run
}

// EventSink returns a subscriber that appends published events to store.
// Failures are logged; publishing never fails because of the store.
func EventSink(ctx context.Context, store Store, logger zerolog.Logger) telemetry.EventSubscriber {
	log := logger.With().Str("component", "event-sink").Logger()

	return func(e telemetry.Event) {
		event := &Event{
			EventID:   e.ID,
			Type:      e.Type,
			Source:    e.Source,
			Level:     EventLevel(e.Level),
			Message:   e.Message,
			Timestamp: e.Timestamp,
		}
		if e.WorkItemID != "" {
			id := e.WorkItemID
			event.WorkItemID = &id
		}
		if len(e.Data) > 0 {
			if data, err := json.Marshal(e.Data); err == nil {
				details := string(data)
				event.Details = &details
			}
		}

		if err := store.AppendEvent(ctx, event); err != nil {
			log.Warn().Err(err).Str("event_type", e.Type).Msg("Failed to persist event")
		}
	}
}
