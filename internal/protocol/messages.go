package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/kolabdoc/collabedit/internal/ot"
	"github.com/kolabdoc/collabedit/internal/presence"
)

// Envelope is the fixed-field WebSocket wire envelope of spec §6:
//
//	{ "type": <string>, "from": <userId>, "data": <object>,
//	  "timestamp": <ms>, "messageId": <opaque string> }
//
// data is left as a RawMessage so the controller can dispatch on Type
// before committing to a payload shape, the same two-pass approach the
// teacher's ClientMsg.UnmarshalJSON used for its own tagged union.
type Envelope struct {
	Type      MessageType     `json:"type"`
	From      string          `json:"from"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
	MessageID string          `json:"messageId"`
}

// DecodeData unmarshals the envelope's Data field into dst.
func (e Envelope) DecodeData(dst any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("protocol: empty data for message type %s", e.Type)
	}
	return json.Unmarshal(e.Data, dst)
}

// NewEnvelope builds an outbound envelope, marshaling payload into Data.
func NewEnvelope(typ MessageType, from string, payload any, timestamp int64, messageID string) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("protocol: marshal %s payload: %w", typ, err)
	}
	return Envelope{Type: typ, From: from, Data: data, Timestamp: timestamp, MessageID: messageID}, nil
}

// WireAttributes mirrors ot.Attributes for the wire; both are pointer-bag
// structs so omitted fields round-trip as "unset" rather than zero-value.
type WireAttributes = ot.Attributes

// WireOperation is the JSON rendering of ot.Operation (spec §3's four-case
// tagged variant, flattened to one struct with a discriminating Kind
// field rather than the teacher's Rust-style per-variant message type —
// the richer attribute/metadata surface here doesn't fit one-field-per-
// variant as cleanly as the teacher's Insert/Delete/Retain ops did).
type WireOperation struct {
	Kind           string            `json:"kind"`
	Position       int               `json:"position"`
	Content        string            `json:"content,omitempty"`
	Attributes     *WireAttributes   `json:"attributes,omitempty"`
	Length         int               `json:"length,omitempty"`
	DeletedContent string            `json:"deletedContent,omitempty"`
	OldAttributes  *WireAttributes   `json:"oldAttributes,omitempty"`
	Metadata       WireMetadata      `json:"metadata"`
}

// WireMetadata is the JSON rendering of ot.Metadata.
type WireMetadata struct {
	OperationID       string          `json:"operationId"`
	UserID            string          `json:"userId"`
	SessionID         string          `json:"sessionId"`
	Timestamp         int64           `json:"timestamp"`
	VectorClock       map[string]int64 `json:"vectorClock"`
	DocumentVersion   int             `json:"documentVersion"`
	ParentOperationID string          `json:"parentOperationId,omitempty"`
}

var kindToWire = map[ot.Kind]string{
	ot.KindInsert: "insert",
	ot.KindDelete: "delete",
	ot.KindRetain: "retain",
	ot.KindFormat: "format",
}

var wireToKind = map[string]ot.Kind{
	"insert": ot.KindInsert,
	"delete": ot.KindDelete,
	"retain": ot.KindRetain,
	"format": ot.KindFormat,
}

// ToWireOperation converts the internal Operation model to its wire form.
func ToWireOperation(op ot.Operation) WireOperation {
	return WireOperation{
		Kind:           kindToWire[op.Kind],
		Position:       op.Position,
		Content:        op.Content,
		Attributes:     op.Attributes,
		Length:         op.Length,
		DeletedContent: op.DeletedContent,
		OldAttributes:  op.OldAttributes,
		Metadata: WireMetadata{
			OperationID:       op.Metadata.OperationID,
			UserID:            op.Metadata.UserID,
			SessionID:         op.Metadata.SessionID,
			Timestamp:         op.Metadata.Timestamp,
			VectorClock:       map[string]int64(op.Metadata.VectorClock),
			DocumentVersion:   op.Metadata.DocumentVersion,
			ParentOperationID: op.Metadata.ParentOperationID,
		},
	}
}

// FromWireOperation converts a wire operation back to the internal model.
// It does not itself validate the result — callers run it through
// ot.Validate, matching spec §4.4 step 3.
func FromWireOperation(w WireOperation) (ot.Operation, error) {
	kind, ok := wireToKind[w.Kind]
	if !ok {
		return ot.Operation{}, fmt.Errorf("protocol: unknown operation kind %q", w.Kind)
	}
	return ot.Operation{
		Kind:           kind,
		Position:       w.Position,
		Content:        w.Content,
		Attributes:     w.Attributes,
		Length:         w.Length,
		DeletedContent: w.DeletedContent,
		OldAttributes:  w.OldAttributes,
		Metadata: ot.Metadata{
			OperationID:       w.Metadata.OperationID,
			UserID:            w.Metadata.UserID,
			SessionID:         w.Metadata.SessionID,
			Timestamp:         w.Metadata.Timestamp,
			VectorClock:       ot.VectorClock(w.Metadata.VectorClock),
			DocumentVersion:   w.Metadata.DocumentVersion,
			ParentOperationID: w.Metadata.ParentOperationID,
		},
	}, nil
}

// --- Inbound payloads ---

// OperationPayload is the "data" shape for an inbound/outbound "operation"
// message.
type OperationPayload struct {
	Operation WireOperation `json:"operation"`
}

// CursorPayload is the "data" shape for an inbound "cursor" message.
type CursorPayload struct {
	Position  int              `json:"position"`
	Selection *WireSelection   `json:"selection,omitempty"`
}

// WireSelection mirrors presence.Selection.
type WireSelection struct {
	Start     int    `json:"start"`
	End       int    `json:"end"`
	Direction string `json:"direction,omitempty"`
}

// SelectionPayload is the "data" shape for an inbound "selection" message
// (spec §6: "treated as cursor update").
type SelectionPayload struct {
	Start     int    `json:"start"`
	End       int    `json:"end"`
	Direction string `json:"direction,omitempty"`
}

// PresencePayload is the "data" shape for an inbound "presence" message.
type PresencePayload struct {
	Status string `json:"status"` // active|idle|away
}

// --- Outbound payloads ---

// DocumentResponsePayload is the "data" shape for an outbound
// "document_response" message: current state plus recent history.
type DocumentResponsePayload struct {
	DocumentState    WireDocumentState `json:"documentState"`
	OperationHistory []WireOperation   `json:"operationHistory"`
}

// WireDocumentState is the JSON rendering of ot.DocumentState.
type WireDocumentState struct {
	ID           string             `json:"id"`
	Content      string             `json:"content"`
	Version      int                `json:"version"`
	Checksum     string             `json:"checksum"`
	LastModified int64              `json:"lastModified"`
	Formatting   map[string]*WireAttributes `json:"formatting,omitempty"`
	Title        string             `json:"title,omitempty"`
	Language     string             `json:"language,omitempty"`
}

// ToWireDocumentState converts the internal DocumentState to its wire
// form, re-keying the sparse formatting map to strings since JSON object
// keys must be strings.
func ToWireDocumentState(d *ot.DocumentState) WireDocumentState {
	formatting := make(map[string]*WireAttributes, len(d.Formatting))
	for pos, attrs := range d.Formatting {
		formatting[fmt.Sprintf("%d", pos)] = attrs
	}
	return WireDocumentState{
		ID:           d.ID,
		Content:      d.Content,
		Version:      d.Version,
		Checksum:     d.Checksum,
		LastModified: d.LastModified,
		Formatting:   formatting,
		Title:        d.Metadata.Title,
		Language:     d.Metadata.Language,
	}
}

// ConflictNotificationPayload is the "data" shape for an outbound
// "conflict_notification" message.
type ConflictNotificationPayload struct {
	ConflictID string `json:"conflictId"`
	Annotation string `json:"annotation,omitempty"`
	Strategy   string `json:"strategy,omitempty"`
}

// ErrorPayload is the "data" shape for an outbound "error" message.
type ErrorPayload struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// ParticipantPayload is the "data" shape for participant_joined/left.
type ParticipantPayload struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Role     string `json:"role"`
	Color    string `json:"color"`
}

// CursorBroadcastPayload is the outbound analogue of CursorPayload,
// identifying whose cursor moved.
type CursorBroadcastPayload struct {
	UserID    string         `json:"userId"`
	Position  int            `json:"position"`
	Selection *WireSelection `json:"selection,omitempty"`
}

// ToWireCursor converts a presence.CursorPosition to its broadcast form.
func ToWireCursor(c presence.CursorPosition) CursorBroadcastPayload {
	var sel *WireSelection
	if c.Selection != nil {
		sel = &WireSelection{Start: c.Selection.Start, End: c.Selection.End, Direction: c.Selection.Direction}
	}
	return CursorBroadcastPayload{UserID: c.UserID, Position: c.Position, Selection: sel}
}

// TypingPayload is the outbound "data" shape for typing_updated.
type TypingPayload struct {
	UserID    string `json:"userId"`
	IsTyping  bool   `json:"isTyping"`
}

// StatusPayload is the outbound "data" shape for status_changed.
type StatusPayload struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
}

// ViewportPayload is the outbound "data" shape for viewport_updated.
type ViewportPayload struct {
	UserID string `json:"userId"`
	Start  int    `json:"start"`
	End    int    `json:"end"`
}

// FollowPayload is the outbound "data" shape for user_follow.
type FollowPayload struct {
	FollowerID string `json:"followerId"`
	LeaderID   string `json:"leaderId"`
}

// OTPPayload is the supplemental OTP-gate broadcast (SPEC_FULL §12).
type OTPPayload struct {
	OTP      string `json:"otp"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// LanguagePayload is the supplemental document-language broadcast
// (SPEC_FULL §12).
type LanguagePayload struct {
	Language string `json:"language"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// DocumentSavedPayload announces a successful auto-save (spec §5).
type DocumentSavedPayload struct {
	DocumentID string `json:"documentId"`
	Version    int    `json:"version"`
}
