package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a notable occurrence in a backlog command.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// WorkItemID is the associated work item, if applicable.
	WorkItemID string `json:"work_item_id,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// Event types.
const (
	EventTypeBuildCompleted   = "build.completed"
	EventTypeCheckFailed      = "check.failed"
	EventTypeDriftDetected    = "drift.detected"
	EventTypeValidationFailed = "validation.failed"
	EventTypeActionExecuted   = "action.executed"
	EventTypePolicyWarning    = "policy.warning"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber receives published events.
type EventSubscriber func(event Event)

// EventFilter reports whether a subscriber wants event.
type EventFilter func(event Event) bool

type subscription struct {
	fn     EventSubscriber
	filter EventFilter
}

// EventPublisher fans events out to subscribers, either inline or from a
// background goroutine when EnableAsync is set.
type EventPublisher struct {
	config EventsConfig

	mu      sync.RWMutex
	subs    []subscription
	stopped bool

	queue chan Event
	stop  chan struct{}
	done  chan struct{}
}

// NewEventPublisher creates a publisher. A disabled publisher accepts and
// drops every event.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	ep := &EventPublisher{config: cfg}
	if cfg.Enabled && cfg.EnableAsync {
		ep.queue = make(chan Event, cfg.BufferSize)
		ep.stop = make(chan struct{})
		ep.done = make(chan struct{})
		go ep.loop()
	}
	return ep, nil
}

// Publish stamps event and hands it to subscribers. In synchronous mode every
// subscriber has run when Publish returns.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if ep.queue == nil {
		ep.deliver(event)
		return nil
	}

	ep.mu.RLock()
	defer ep.mu.RUnlock()
	if ep.stopped {
		return fmt.Errorf("event publisher stopped, dropped %s", event.Type)
	}
	select {
	case ep.queue <- event:
		return nil
	default:
		return fmt.Errorf("event queue full, dropped %s", event.Type)
	}
}

// PublishBuildCompleted publishes a build completed event.
func (ep *EventPublisher) PublishBuildCompleted(path string, workItems int, changed bool) error {
	return ep.Publish(Event{
		Type:    EventTypeBuildCompleted,
		Source:  "build",
		Message: fmt.Sprintf("Backlog %s built with %d work item(s)", path, workItems),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"path":       path,
			"work_items": workItems,
			"changed":    changed,
		},
	})
}

// PublishCheckFailed publishes a check failure event.
func (ep *EventPublisher) PublishCheckFailed(path, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeCheckFailed,
		Source:  "check",
		Message: fmt.Sprintf("Backlog %s failed check: %s", path, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"path":   path,
			"reason": reason,
		},
	})
}

// PublishDriftDetected publishes a drift detected event.
func (ep *EventPublisher) PublishDriftDetected(path string, missing bool) error {
	return ep.Publish(Event{
		Type:    EventTypeDriftDetected,
		Source:  "check",
		Message: fmt.Sprintf("Backlog %s is not canonical", path),
		Level:   EventLevelWarning,
		Data: map[string]interface{}{
			"path":    path,
			"missing": missing,
		},
	})
}

// PublishValidationFailed publishes a validation failure event.
func (ep *EventPublisher) PublishValidationFailed(violations int, categories map[string]int) error {
	data := map[string]interface{}{
		"violations": violations,
	}
	for category, n := range categories {
		data["category."+category] = n
	}
	return ep.Publish(Event{
		Type:    EventTypeValidationFailed,
		Source:  "validator",
		Message: fmt.Sprintf("Backlog validation failed with %d violation(s)", violations),
		Level:   EventLevelError,
		Data:    data,
	})
}

// PublishActionExecuted publishes an action execution event.
func (ep *EventPublisher) PublishActionExecuted(workItemID, token string, ok bool, exitCode int, duration time.Duration) error {
	level := EventLevelInfo
	if !ok {
		level = EventLevelError
	}
	return ep.Publish(Event{
		Type:       EventTypeActionExecuted,
		Source:     "executor",
		WorkItemID: workItemID,
		Message:    fmt.Sprintf("Action %s exited with code %d", token, exitCode),
		Level:      level,
		Data: map[string]interface{}{
			"token":     token,
			"ok":        ok,
			"exit_code": exitCode,
			"duration":  duration.Seconds(),
		},
	})
}

// PublishPolicyWarning publishes a policy advisory event.
func (ep *EventPublisher) PublishPolicyWarning(workItemID, rule, message string) error {
	return ep.Publish(Event{
		Type:       EventTypePolicyWarning,
		Source:     "policy",
		WorkItemID: workItemID,
		Message:    message,
		Level:      EventLevelWarning,
		Data: map[string]interface{}{
			"rule": rule,
		},
	})
}

// Subscribe registers fn. A nil filter receives every event.
func (ep *EventPublisher) Subscribe(fn EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	ep.subs = append(ep.subs, subscription{fn: fn, filter: filter})
	ep.mu.Unlock()
}

func (ep *EventPublisher) loop() {
	defer close(ep.done)
	for {
		select {
		case event := <-ep.queue:
			ep.deliver(event)
		case <-ep.stop:
			for {
				select {
				case event := <-ep.queue:
					ep.deliver(event)
				default:
					return
				}
			}
		}
	}
}

// deliver calls subscribers in registration order.
func (ep *EventPublisher) deliver(event Event) {
	ep.mu.RLock()
	subs := append([]subscription(nil), ep.subs...)
	ep.mu.RUnlock()

	for _, sub := range subs {
		if sub.filter == nil || sub.filter(event) {
			sub.fn(event)
		}
	}
}

// Shutdown stops accepting events and waits for queued ones to be delivered.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if ep.queue == nil {
		return nil
	}

	ep.mu.Lock()
	if !ep.stopped {
		ep.stopped = true
		close(ep.stop)
	}
	ep.mu.Unlock()

	select {
	case <-ep.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown: %w", ctx.Err())
	}
}

var eventLevels = map[string]int{
	EventLevelInfo:    0,
	EventLevelWarning: 1,
	EventLevelError:   2,
}

// FilterByLevel passes events at minLevel or above.
func FilterByLevel(minLevel string) EventFilter {
	floor := eventLevels[minLevel]
	return func(event Event) bool {
		return eventLevels[event.Level] >= floor
	}
}

// FilterByType passes events of the given types.
func FilterByType(types ...string) EventFilter {
	return func(event Event) bool {
		for _, t := range types {
			if event.Type == t {
				return true
			}
		}
		return false
	}
}

// FilterByWorkItem passes events about one work item.
func FilterByWorkItem(workItemID string) EventFilter {
	return func(event Event) bool {
		return event.WorkItemID == workItemID
	}
}
