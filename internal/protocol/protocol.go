// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package protocol defines the messages exchanged between the remote store
// and the server.
//
// A request is an Envelope {id, act, payload}; the server answers every
// request with exactly one Reply carrying the same id and act. Unsolicited
// server messages (the connection greeting) carry no id.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pdiddy/marcalink/pkg/types"
)

// Action names.
const (
	ActOpenProject      = "open_project"
	ActGetActiveProject = "get_active_project"
	ActSaveProject      = "save_project"
	ActLoadProject      = "load_project"
	ActListProjects     = "list_projects"
	ActDeleteProject    = "delete_project"
	ActArchiveProject   = "archive_project"
	ActSavePaper        = "save_paper"
	ActLoadPaper        = "load_paper"
	ActDeletePaper      = "delete_paper"
	ActListPapers       = "list_papers"
	ActStorageGet       = "storage_get"
	ActStorageSet       = "storage_set"

	// Server-originated acts.
	ActConnected = "connected"
	ActError     = "error"
	ActUnknown   = "unknown"
)

// Actions lists every request action the server handles.
var Actions = []string{
	ActOpenProject, ActGetActiveProject, ActSaveProject, ActLoadProject,
	ActListProjects, ActDeleteProject, ActArchiveProject, ActSavePaper,
	ActLoadPaper, ActDeletePaper, ActListPapers, ActStorageGet, ActStorageSet,
}

// Protocol error messages.
const (
	MsgInvalidJSON  = "Invalid JSON"
	MsgMissingAct   = "Missing act attribute"
	MsgUnknownAct   = "Unknown act"
	MsgNoResponse   = "No response from server"
	MsgConnected    = "Connection established"
	MsgMissingID    = "Missing project ID. Please provide an ID with variable 'projectID'."
	MsgInvalidID    = "Invalid project ID. Use only letters, numbers, dots, underscores, and hyphens."
	MsgEmptyID      = "Project ID cannot be empty."
	MsgMissingPaper = "Missing paper ID. Please provide an ID with variable 'paperId'."
	MsgInvalidPaper = "Invalid paper ID. Use only letters, numbers, dots, underscores, and hyphens."
)

// Envelope is a client request.
type Envelope struct {
	ID      string          `json:"id,omitempty"`
	Act     string          `json:"act"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Reply is a server message.
type Reply struct {
	ID      string          `json:"id,omitempty"`
	Act     string          `json:"act"`
	Status  types.Status    `json:"status"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Message string          `json:"message,omitempty"`
	Kind    types.ErrorKind `json:"kind,omitempty"`
}

// Err converts an error reply into a *types.Error. It returns nil for an
// ok reply.
func (r Reply) Err() error {
	if r.Status == types.StatusOK {
		return nil
	}
	kind := r.Kind
	if kind == "" {
		kind = types.KindBackend
	}
	msg := r.Message
	if msg == "" {
		msg = fmt.Sprintf("%s failed", r.Act)
	}
	return types.NewError(kind, r.Act, msg)
}

// NewEnvelope encodes payload into a request. A nil payload is sent as {}.
func NewEnvelope(id, act string, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{ID: id, Act: act, Payload: json.RawMessage("{}")}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encoding %s payload: %w", act, err)
	}
	return Envelope{ID: id, Act: act, Payload: raw}, nil
}

// OKReply builds a success reply.
func OKReply(id, act string, payload json.RawMessage) Reply {
	return Reply{ID: id, Act: act, Status: types.StatusOK, Payload: payload}
}

// ErrorReply builds an error reply from err.
func ErrorReply(id, act string, err error) Reply {
	return Reply{
		ID:      id,
		Act:     act,
		Status:  types.StatusError,
		Message: types.MessageOf(err),
		Kind:    types.KindOf(err),
	}
}

// --- payloads ---

// ProjectRef names a project. ProjectID is left untyped so a missing or
// non-string value can be reported rather than rejected by the decoder.
type ProjectRef struct {
	ProjectID any `json:"projectID"`
}

// SaveProject is the save_project payload.
type SaveProject struct {
	ProjectID any            `json:"projectID"`
	Data      types.Document `json:"data"`
}

// PaperRef names a paper of the active project.
type PaperRef struct {
	PaperID any `json:"paperId"`
}

// SavePaper is the save_paper payload.
type SavePaper struct {
	PaperID   any            `json:"paperId"`
	ProjectID string         `json:"projectID,omitempty"`
	Data      types.Document `json:"data"`
}

// Keys is the storage_get payload.
type Keys struct {
	Keys []string `json:"keys"`
}

// Items is the storage_set payload.
type Items struct {
	Items map[string]any `json:"items"`
}

// Data wraps a document reply. A nil Data is encoded as null.
type Data struct {
	Data any `json:"data"`
}

// Message wraps a confirmation reply.
type Message struct {
	Message string `json:"message"`
}

// --- identifier validation ---

// ValidateProjectID checks presence, trims, rejects empty values, and
// enforces the identifier character class. It returns the trimmed id.
func ValidateProjectID(op string, v any) (string, error) {
	return validateID(op, v, MsgMissingID, MsgInvalidID)
}

// ValidatePaperID applies the project id rules to a paper id, which also
// becomes a file name.
func ValidatePaperID(op string, v any) (string, error) {
	return validateID(op, v, MsgMissingPaper, MsgInvalidPaper)
}

func validateID(op string, v any, missing, invalid string) (string, error) {
	s, ok := v.(string)
	if v == nil || (ok && s == "") {
		return "", types.NewError(types.KindValidation, op, missing)
	}
	if !ok {
		return "", types.NewError(types.KindValidation, op, invalid)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", types.NewError(types.KindValidation, op, MsgEmptyID)
	}
	if !types.ValidID(s) {
		return "", types.NewError(types.KindValidation, op, invalid)
	}
	return s, nil
}
