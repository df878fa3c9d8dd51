package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind identifies an event type on the channel.
type Kind string

// Lifecycle events emitted locally by the connection manager.
const (
	KindConnect          Kind = "connect"
	KindDisconnect       Kind = "disconnect"
	KindConnectError     Kind = "connect_error"
	KindReconnectAttempt Kind = "reconnect_attempt"
	KindReconnect        Kind = "reconnect"
	KindReconnectFailed  Kind = "reconnect_failed"
	KindStatusUpdate     Kind = "status_update"
)

// Data events carried over the wire.
const (
	KindMessage          Kind = "message"
	KindSensorUpdate     Kind = "sensor_update"
	KindRoomUpdate       Kind = "room_update"
	KindAutomationUpdate Kind = "automation_update"
	KindAnalysisProgress Kind = "analysis_progress"
	KindNotification     Kind = "notification"
	KindError            Kind = "error"
	KindPing             Kind = "ping"
)

// Event is a tagged union of an event kind and its payload.
//
// Payload holds the typed struct for known kinds (see below), a
// json.RawMessage for unknown wire events, or nil when the event
// carries no data.
type Event struct {
	Kind    Kind
	Payload any
	At      time.Time
}

// SensorUpdate reports a new reading from a grow-room sensor.
type SensorUpdate struct {
	RoomID   string    `json:"room_id"`
	SensorID string    `json:"sensor_id"`
	Metric   string    `json:"metric"`
	Value    float64   `json:"value"`
	Unit     string    `json:"unit,omitempty"`
	ReadAt   time.Time `json:"read_at,omitempty"`
}

// RoomUpdate reports a change to a grow room's configuration or stage.
type RoomUpdate struct {
	RoomID string `json:"room_id"`
	Name   string `json:"name,omitempty"`
	Stage  string `json:"stage,omitempty"`
}

// AutomationUpdate reports an automation rule firing or changing state.
type AutomationUpdate struct {
	RuleID string `json:"rule_id"`
	Action string `json:"action,omitempty"`
	State  string `json:"state,omitempty"`
}

// AnalysisProgress reports progress of a server-side analysis job.
type AnalysisProgress struct {
	Progress float64 `json:"progress"`
	Message  string  `json:"message,omitempty"`
}

// Notification is a user-facing message pushed by the server or raised
// locally by the connection manager.
type Notification struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Level   string `json:"level,omitempty"`
}

// DisconnectInfo describes why the connection dropped.
type DisconnectInfo struct {
	Reason          string `json:"reason,omitempty"`
	ServerInitiated bool   `json:"server_initiated,omitempty"`
}

// AttemptInfo carries the reconnect attempt number (1-based).
type AttemptInfo struct {
	Attempt int `json:"attempt"`
}

// ErrorMessage carries a server-pushed error event.
type ErrorMessage struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// frame is the wire representation of an event.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// EncodeFrame serializes an event kind and payload to wire format.
func EncodeFrame(kind Kind, payload any) ([]byte, error) {
	f := frame{Event: string(kind)}

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", kind, err)
		}
		f.Data = data
	}

	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("marshal frame: %w", err)
	}
	return data, nil
}

// ParseFrame decodes a wire frame into an Event. Known kinds get typed
// payloads; unknown kinds keep the raw JSON data.
func ParseFrame(data []byte) (Event, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Event{}, fmt.Errorf("parse frame: %w", err)
	}
	if f.Event == "" {
		return Event{}, fmt.Errorf("frame missing event name")
	}

	ev := Event{Kind: Kind(f.Event), At: time.Now()}

	var payload any
	switch ev.Kind {
	case KindSensorUpdate:
		payload = &SensorUpdate{}
	case KindRoomUpdate:
		payload = &RoomUpdate{}
	case KindAutomationUpdate:
		payload = &AutomationUpdate{}
	case KindAnalysisProgress:
		payload = &AnalysisProgress{}
	case KindNotification:
		payload = &Notification{}
	case KindDisconnect:
		payload = &DisconnectInfo{}
	case KindError:
		payload = &ErrorMessage{}
	case KindPing, KindMessage:
		// ping carries no payload; message data stays raw
	default:
	}

	if payload != nil && len(f.Data) > 0 {
		if err := json.Unmarshal(f.Data, payload); err != nil {
			return Event{}, fmt.Errorf("parse %s payload: %w", ev.Kind, err)
		}
		ev.Payload = payload
		return ev, nil
	}

	if len(f.Data) > 0 {
		ev.Payload = f.Data
	}
	return ev, nil
}
