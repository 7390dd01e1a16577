// Package feed defines the wire types exchanged with the remote comm
// endpoint and the transport client used to fetch and send messages. All
// dynamic wire shapes are converted to typed records here, at the boundary;
// everything past this package works with strongly typed values.
package feed

import (
	"context"
	"encoding/json"
	"fmt"

	"commsync/pkg/models"
)

// BatchEntry is one feed entry as returned by the remote endpoint: a
// [id, timestampMs, payload] tuple. The payload is kept raw until ingestion
// parses it into a models.Message.
type BatchEntry struct {
	ID          string
	TimestampMs int64
	Payload     json.RawMessage
}

// UnmarshalJSON decodes the wire tuple form.
func (e *BatchEntry) UnmarshalJSON(b []byte) error {
	var tup []json.RawMessage
	if err := json.Unmarshal(b, &tup); err != nil {
		return fmt.Errorf("entry is not a tuple: %w", err)
	}
	if len(tup) < 2 {
		return fmt.Errorf("entry tuple has %d elements, need at least 2", len(tup))
	}
	if err := json.Unmarshal(tup[0], &e.ID); err != nil {
		return fmt.Errorf("entry id: %w", err)
	}
	if err := json.Unmarshal(tup[1], &e.TimestampMs); err != nil {
		return fmt.Errorf("entry timestamp: %w", err)
	}
	if len(tup) > 2 {
		e.Payload = tup[2]
	}
	return nil
}

// MarshalJSON re-encodes the tuple form, mainly for hook payloads and tests.
func (e BatchEntry) MarshalJSON() ([]byte, error) {
	payload := e.Payload
	if payload == nil {
		payload = json.RawMessage("null")
	}
	return json.Marshal([]any{e.ID, e.TimestampMs, payload})
}

// entryPayload is the decoded third tuple element.
type entryPayload struct {
	Text       string          `json:"text"`
	Team       string          `json:"team"`
	Sender     string          `json:"sender"`
	Auto       bool            `json:"auto"`
	Public     bool            `json:"public"`
	Secure     bool            `json:"secure"`
	Alert      bool            `json:"alert"`
	Narrowcast bool            `json:"narrowcast"`
	Markup     json.RawMessage `json:"markup"`
}

// Message parses the entry into the internal message model. An entry with an
// empty id or an unparseable payload is malformed; callers skip such entries
// rather than aborting the batch.
func (e BatchEntry) Message() (models.Message, error) {
	var m models.Message
	if e.ID == "" {
		return m, fmt.Errorf("entry has empty id")
	}
	var p entryPayload
	if len(e.Payload) > 0 {
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return m, fmt.Errorf("entry %s payload: %w", e.ID, err)
		}
	}
	return models.Message{
		ID:            e.ID,
		TimestampMs:   e.TimestampMs,
		AutoGenerated: p.Auto,
		Public:        p.Public,
		Secure:        p.Secure,
		Alert:         p.Alert,
		Narrowcast:    p.Narrowcast,
		Team:          models.ParseTeam(p.Team),
		SenderName:    p.Sender,
		Markup:        p.Markup,
		Text:          p.Text,
	}, nil
}

// Result is a successful fetch response. The presence of the result field is
// what distinguishes success from a transport/server failure.
type Result struct {
	Result []BatchEntry `json:"result"`
}

// FetchParams are the outbound request parameters for one page fetch.
// Timestamp bounds of -1 mean unbounded; coordinates are fixed-point
// microdegrees.
type FetchParams struct {
	Channel        string `json:"channel"`
	MinLatE6       int64  `json:"minLatE6"`
	MinLngE6       int64  `json:"minLngE6"`
	MaxLatE6       int64  `json:"maxLatE6"`
	MaxLngE6       int64  `json:"maxLngE6"`
	MinTimestampMs int64  `json:"minTimestampMs"`
	MaxTimestampMs int64  `json:"maxTimestampMs"`
	// ContinuationID disambiguates pagination boundaries when several
	// entries share a timestamp.
	ContinuationID string `json:"continuationId,omitempty"`
	// Ascending requests explicit oldest-first ordering; required for
	// gap-free catch-up after an idle period.
	Ascending bool `json:"ascending"`
}

// SendParams carry a free-text message to the remote endpoint.
type SendParams struct {
	Channel string `json:"channel"`
	Text    string `json:"text"`
	LatE6   int64  `json:"latE6"`
	LngE6   int64  `json:"lngE6"`
}

// Client is the transport used by the orchestrator. Implementations only
// distinguish success from failure; timeouts are their own concern.
type Client interface {
	Fetch(ctx context.Context, p FetchParams) (*Result, error)
	Send(ctx context.Context, p SendParams) error
}

// TransportError is returned when the remote endpoint answered with a
// non-success status or an unusable body.
type TransportError struct {
	Status  int
	Message string
}

func (e *TransportError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("feed transport %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("feed transport %d", e.Status)
}
