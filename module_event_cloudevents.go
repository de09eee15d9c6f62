package modhub

import (
	"fmt"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// CloudEvent types emitted for bus events.
const (
	CloudEventTypeModuleLoaded       = "com.modhub.module.loaded"
	CloudEventTypeModuleStateChanged = "com.modhub.module.state_changed"
	CloudEventTypeModuleError        = "com.modhub.module.error"
	CloudEventTypeModuleUnloaded     = "com.modhub.module.unloaded"
	CloudEventTypeModuleDeleted      = "com.modhub.module.deleted"
	CloudEventTypeData               = "com.modhub.data"
)

var moduleCloudEventTypes = map[ModuleEventType]string{
	EventLoaded:       CloudEventTypeModuleLoaded,
	EventStateChanged: CloudEventTypeModuleStateChanged,
	EventError:        CloudEventTypeModuleError,
	EventUnloaded:     CloudEventTypeModuleUnloaded,
	EventDeleted:      CloudEventTypeModuleDeleted,
}

// CloudEvent is an alias for the CloudEvents Event type for convenience
type CloudEvent = cloudevents.Event

// ModuleEventPayload is the JSON data carried by module CloudEvents.
type ModuleEventPayload struct {
	ModuleID   string `json:"moduleId"`
	ModuleName string `json:"moduleName,omitempty"`
	ModuleType string `json:"moduleType,omitempty"`
	State      string `json:"state,omitempty"`
	Error      string `json:"error,omitempty"`
	Replay     bool   `json:"replay,omitempty"`
}

// NewCloudEvent creates a new CloudEvent with the specified parameters.
func NewCloudEvent(eventType, source string, data any, metadata map[string]any) cloudevents.Event {
	event := cloudevents.NewEvent()

	event.SetID(generateEventID())
	event.SetSource(source)
	event.SetType(eventType)
	event.SetTime(time.Now())
	event.SetSpecVersion(cloudevents.VersionV1)

	if data != nil {
		_ = event.SetData(cloudevents.ApplicationJSON, data)
	}

	for key, value := range metadata {
		event.SetExtension(key, value)
	}

	return event
}

// generateEventID generates a time-ordered UUIDv7, falling back to v4.
func generateEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}

// ValidateCloudEvent reports whether the event is a valid CloudEvent.
func ValidateCloudEvent(event cloudevents.Event) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("CloudEvent validation failed: %w", err)
	}
	return nil
}

// ToCloudEvent converts a bus event into a CloudEvent. Module events carry a
// ModuleEventPayload; data events carry their data as is, with the topic in
// the "topic" extension.
func ToCloudEvent(e Event) (cloudevents.Event, error) {
	var event cloudevents.Event

	switch t := e.(type) {
	case *ModuleEvent:
		eventType, ok := moduleCloudEventTypes[t.Type]
		if !ok {
			return event, fmt.Errorf("unsupported module event type %q", t.Type)
		}
		payload := ModuleEventPayload{ModuleID: t.ModuleID, Replay: t.Replay}
		if t.Module != nil {
			payload.ModuleName = t.Module.Name()
			if cfg := t.Module.Configuration(); cfg != nil {
				payload.ModuleType = cfg.ModuleType
			}
		}
		if t.Type == EventStateChanged {
			payload.State = t.NewState.String()
		}
		if t.Err != nil {
			payload.Error = t.Err.Error()
		}
		event = NewCloudEvent(eventType, "/modhub/modules/"+t.ModuleID, payload, nil)
	case *DataEvent:
		event = NewCloudEvent(CloudEventTypeData, "/modhub/modules/"+t.Producer, t.Data, nil)
		if t.Topic != "" {
			event.SetExtension("topic", t.Topic)
		}
	default:
		return event, fmt.Errorf("unsupported event %T", e)
	}

	event.SetTime(e.EventTime())
	if err := ValidateCloudEvent(event); err != nil {
		return event, err
	}
	return event, nil
}
