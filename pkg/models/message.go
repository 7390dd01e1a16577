package models

import (
	"encoding/json"
	"strings"
)

// Team identifies the faction a message belongs to.
type Team string

const (
	TeamNone        Team = "none"
	TeamResistance  Team = "resistance"
	TeamEnlightened Team = "enlightened"
	TeamMachina     Team = "machina"
)

// ParseTeam maps a wire team string onto a known Team. Unknown values fall
// back to TeamNone so a new server-side faction never aborts ingestion.
func ParseTeam(s string) Team {
	switch Team(strings.ToLower(strings.TrimSpace(s))) {
	case TeamResistance:
		return TeamResistance
	case TeamEnlightened:
		return TeamEnlightened
	case TeamMachina:
		return TeamMachina
	default:
		return TeamNone
	}
}

// Message is one comm feed entry. Messages are immutable once stored; the
// engine never edits or deletes them in place.
type Message struct {
	ID            string `json:"id"`
	TimestampMs   int64  `json:"timestamp_ms"`
	AutoGenerated bool   `json:"auto_generated"`
	Public        bool   `json:"public"`
	Secure        bool   `json:"secure"`
	Alert         bool   `json:"alert"`
	Narrowcast    bool   `json:"narrowcast"`
	Team          Team   `json:"team"`
	// SenderName is empty for pure system messages.
	SenderName string `json:"sender_name,omitempty"`
	// Markup is the structured entity list of the message body. It is kept
	// opaque here; rendering is the presentation layer's concern.
	Markup json.RawMessage `json:"markup,omitempty"`
	// Text is the plain-text projection of the markup, when the server
	// provides one.
	Text string `json:"text,omitempty"`
}
