package command

import "time"

// Request is one operator-issued desired configuration for a device,
// queued until the device next checks in.
type Request struct {
	ID              string         `json:"id"`
	DeviceID        string         `json:"device_id"`
	RequestedConfig map[string]any `json:"requested_config"`

	// Priority orders pending requests; higher is delivered first.
	Priority int    `json:"priority"`
	Status   Status `json:"status"`

	// Command is the vendor command text, set when the request is sent.
	Command *string `json:"command,omitempty"`

	// Error records why the request failed.
	Error *string `json:"error,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	SentAt     *time.Time `json:"sent_at,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}
