// Package protocol defines the WebSocket message envelope and payload
// shapes between client and collaboration controller (spec §6).
package protocol

// MessageType enumerates the inbound/outbound message "type" field.
type MessageType string

// Inbound message types (spec §6 table).
const (
	TypeOperation        MessageType = "operation"
	TypeCursor           MessageType = "cursor"
	TypeSelection        MessageType = "selection"
	TypePresence         MessageType = "presence"
	TypeDocumentRequest  MessageType = "document_request"
	TypeUndo             MessageType = "undo"
	TypeRedo             MessageType = "redo"
)

// Outbound-only message types (spec §6).
const (
	TypeDocumentResponse    MessageType = "document_response"
	TypeConflictNotification MessageType = "conflict_notification"
	TypeError               MessageType = "error"
	TypeParticipantJoined   MessageType = "participant_joined"
	TypeParticipantLeft     MessageType = "participant_left"
	TypeTypingUpdated       MessageType = "typing_updated"
	TypeStatusChanged       MessageType = "status_changed"
	TypeViewportUpdated     MessageType = "viewport_updated"
	TypeUserFollow          MessageType = "user_follow"
	TypeOTP                 MessageType = "otp"
	TypeLanguage            MessageType = "language"
	TypeDocumentSaved       MessageType = "document_saved"
)

// SystemUserID marks operations generated by the server itself (initial
// content load, system-issued undo rebases), mirroring the teacher's
// reserved sentinel user id but as a string since the rest of this
// repository's identifiers are opaque strings, not uint64 counters.
const SystemUserID = "system"
