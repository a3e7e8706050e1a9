package pkg

import "time"

// EventType identifies a decision core event
type EventType string

const (
	EventNetworkSelected   EventType = "network_selected"
	EventSelectionSkipped  EventType = "selection_skipped"
	EventBssidBlocked      EventType = "bssid_blocked"
	EventBssidUnblocked    EventType = "bssid_unblocked"
	EventDenyListPushed    EventType = "deny_list_pushed"
	EventDataStall         EventType = "data_stall"
	EventThroughputDrop    EventType = "throughput_drop"
	EventValidationSuccess EventType = "validation_success"
	EventValidationFailure EventType = "validation_failure"
)

// Event is a single decision core event handed to the telemetry sink and
// telemetry store. Events are values; receivers must not mutate them.
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Ssid      string                 `json:"ssid,omitempty"`
	Bssid     string                 `json:"bssid,omitempty"`
	Reason    string                 `json:"reason,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}
