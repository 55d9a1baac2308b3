// Package event defines the normalized log event record that flows through
// the ingestion pipeline, recent-logs cache, memory buffer, and backend
// adaptors.
package event

import (
	"encoding/base32"
	"encoding/json"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"
)

// idEncoding is base32hex (RFC 4648) lowercase without padding — the same
// convention the teacher uses for chunk IDs: a UUIDv7 string representation
// that stays lexicographically sortable by creation time.
var idEncoding = base32.HexEncoding.WithPadding(base32.NoPadding)

// ID uniquely identifies a LogEvent. It is a UUIDv7 (16 bytes); its string
// form is a 26-char lowercase base32hex string.
type ID [16]byte

// NewID creates an ID from a fresh UUIDv7. UUIDv7 embeds a millisecond
// timestamp, so IDs are monotonically increasing per process — this is the
// "monotonic ids per source" choice DESIGN.md records for the open question
// on event-id vs ingested-at ordering.
func NewID() ID {
	return ID(uuid.Must(uuid.NewV7()))
}

func (id ID) String() string {
	return strings.ToLower(idEncoding.EncodeToString(id[:]))
}

func (id ID) IsZero() bool {
	return id == ID{}
}

// SourceToken is the 128-bit opaque token identifying a Source, per spec
// §3. Also a UUIDv7 so tokens are creation-ordered without a central
// counter.
type SourceToken [16]byte

// NewSourceToken creates a fresh, time-ordered SourceToken.
func NewSourceToken() SourceToken {
	return SourceToken(uuid.Must(uuid.NewV7()))
}

func (t SourceToken) String() string {
	return strings.ToLower(idEncoding.EncodeToString(t[:]))
}

func (t SourceToken) IsZero() bool {
	return t == SourceToken{}
}

// ParseSourceToken parses a 26-char lowercase base32hex token string.
func ParseSourceToken(s string) (SourceToken, error) {
	if len(s) != 26 {
		return SourceToken{}, fmt.Errorf("event: invalid source token length %d (want 26)", len(s))
	}
	decoded, err := idEncoding.DecodeString(strings.ToUpper(s))
	if err != nil {
		return SourceToken{}, fmt.Errorf("event: invalid source token: %w", err)
	}
	var tok SourceToken
	copy(tok[:], decoded)
	return tok, nil
}

// bodyMessageKey / bodyLegacyMessageKey / bodyTimestampKey / bodyIDKey are
// the body fields normalization touches. bodyTimestampKey and bodyIDKey let
// the recent-logs cache and cluster aggregator sort/merge purely off the
// body map (spec §4.8: "sort by body.timestamp ascending") without reaching
// into the LogEvent struct.
const (
	bodyMessageKey       = "event_message"
	bodyLegacyMessageKey = "message"
	bodyTimestampKey     = "timestamp"
	bodyIDKey            = "id"
	bodyMetadataKey      = "metadata"
	bodySystemMarkerKey  = "is_system_log_event?"
)

// LogEvent is a normalized event record, per spec §3.
type LogEvent struct {
	ID          ID
	SourceToken SourceToken
	IngestedAt  time.Time
	Body        map[string]any
	Params      map[string]any
}

// Normalize builds a LogEvent from a raw, caller-supplied mapping.
//
// Rules (spec §4.6 step 1):
//   - if "message" is present and "event_message" absent, rename message ->
//     event_message
//   - "metadata" is preserved verbatim, scalar or nested, never coerced
//   - id, source_token and ingested_at are assigned fresh
//
// Normalization is total: it never errors, matching §7's "normalization is
// total" propagation policy — malformed or missing fields just produce a
// sparser body.
func Normalize(raw map[string]any, sourceToken SourceToken, now time.Time) LogEvent {
	id := NewID()

	body := make(map[string]any, len(raw)+2)
	maps.Copy(body, raw)

	if msg, hasMsg := body[bodyLegacyMessageKey]; hasMsg {
		if _, hasEventMsg := body[bodyMessageKey]; !hasEventMsg {
			body[bodyMessageKey] = msg
		}
		delete(body, bodyLegacyMessageKey)
	}

	body[bodyIDKey] = id.String()
	body[bodyTimestampKey] = now.UnixMilli()

	params := make(map[string]any, len(raw))
	maps.Copy(params, raw)

	return LogEvent{
		ID:          id,
		SourceToken: sourceToken,
		IngestedAt:  now,
		Body:        body,
		Params:      params,
	}
}

// IsSystem reports whether params marks this as a synthetic, internally
// generated event (e.g. the recent-logs cache's boot marker), per the
// "is_system_log_event?" debugging field named in spec §3.
func (e LogEvent) IsSystem() bool {
	v, ok := e.Params[bodySystemMarkerKey]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Message returns body.event_message, or "" if absent.
func (e LogEvent) Message() string {
	s, _ := e.Body[bodyMessageKey].(string)
	return s
}

// Timestamp returns body.timestamp (unix milliseconds), the field C8 sorts
// merged cluster results by.
func (e LogEvent) Timestamp() int64 {
	switch v := e.Body[bodyTimestampKey].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	default:
		return 0
	}
}

// SystemEvent constructs a synthetic event carrying the system marker, used
// by the recent-logs cache's boot notice (spec §4.2).
func SystemEvent(sourceToken SourceToken, message string, now time.Time) LogEvent {
	e := Normalize(map[string]any{bodyMessageKey: message}, sourceToken, now)
	e.Params[bodySystemMarkerKey] = true
	e.Body[bodySystemMarkerKey] = true
	return e
}

// wireLogEvent is LogEvent's JSON wire shape, used by the cluster
// aggregator's HTTP+JSON peer transport (spec §4.8) and the live-tail feed
// endpoint. Params is intentionally omitted: it is ingest-time-only
// bookkeeping, never part of a source's read path.
type wireLogEvent struct {
	ID          string         `json:"id"`
	SourceToken string         `json:"source_token"`
	IngestedAt  time.Time      `json:"ingested_at"`
	Body        map[string]any `json:"body"`
}

// MarshalJSON encodes e for the cluster peer transport and feed responses.
func (e LogEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireLogEvent{
		ID:          e.ID.String(),
		SourceToken: e.SourceToken.String(),
		IngestedAt:  e.IngestedAt,
		Body:        e.Body,
	})
}

// UnmarshalJSON decodes a LogEvent received from a peer node.
func (e *LogEvent) UnmarshalJSON(data []byte) error {
	var w wireLogEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	id, err := parseID(w.ID)
	if err != nil {
		return fmt.Errorf("event: unmarshal id: %w", err)
	}
	tok, err := ParseSourceToken(w.SourceToken)
	if err != nil {
		return fmt.Errorf("event: unmarshal source_token: %w", err)
	}

	e.ID = id
	e.SourceToken = tok
	e.IngestedAt = w.IngestedAt
	e.Body = w.Body
	e.Params = nil
	return nil
}

// parseID parses a 26-char lowercase base32hex ID string, the same
// encoding ParseSourceToken uses.
func parseID(s string) (ID, error) {
	if len(s) != 26 {
		return ID{}, fmt.Errorf("event: invalid id length %d (want 26)", len(s))
	}
	decoded, err := idEncoding.DecodeString(strings.ToUpper(s))
	if err != nil {
		return ID{}, fmt.Errorf("event: invalid id: %w", err)
	}
	var id ID
	copy(id[:], decoded)
	return id, nil
}
