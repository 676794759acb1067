package rpc

import (
	"encoding/json"
	"fmt"

	"ChatStream/internal/search"
	"ChatStream/internal/session"
	"ChatStream/internal/store"
)

// JSON-RPC 2.0 protocol types for the chat session API

const Version = "2.0"

// Request represents a JSON-RPC 2.0 request
type Request struct {
	JSONRPC string          `json:"jsonrpc"` // Always "2.0"
	ID      int64           `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response represents a JSON-RPC 2.0 response
type Response struct {
	JSONRPC string          `json:"jsonrpc"` // Always "2.0"
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Notification represents a JSON-RPC 2.0 notification (no id, no reply)
type Notification struct {
	JSONRPC string          `json:"jsonrpc"` // Always "2.0"
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// envelope is any inbound message before it is told apart
type envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error represents a JSON-RPC 2.0 error
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// Standard and application error codes
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	CodeNotFound        = -32004
	CodeBusy            = -32005
	CodeEmptyPrompt     = -32006
	CodeNoActiveSession = -32007
	CodeInvalidTarget   = -32008
)

// Chat session methods
const (
	MethodSessionCreate     = "session.create"
	MethodSessionSelect     = "session.select"
	MethodSessionDelete     = "session.delete"
	MethodSessionClear      = "session.clear"
	MethodSessionList       = "session.list"
	MethodPromptSubmit      = "prompt.submit"
	MethodMessageRegenerate = "message.regenerate"
	MethodGenerationStop    = "generation.stop"
	MethodSearchPeople      = "search.people"
	MethodSearchSuggestions = "search.suggestions"

	NotificationStateChanged = "state.changed"
)

// SessionParams identifies a session
type SessionParams struct {
	ID string `json:"id"`
}

// PromptParams represents parameters for prompt.submit
type PromptParams struct {
	Text string `json:"text"`
}

// RegenerateParams represents parameters for message.regenerate
type RegenerateParams struct {
	MessageID string `json:"messageId"`
}

// StopParams represents parameters for generation.stop. An empty session id
// selects the active session.
type StopParams struct {
	SessionID string `json:"sessionId,omitempty"`
}

// SearchParams represents parameters for the search methods
type SearchParams struct {
	Query string `json:"q"`
}

// SessionResult carries one session
type SessionResult struct {
	Session session.ChatSession `json:"session"`
}

// AcceptedResult acknowledges a generation; progress arrives as state.changed
type AcceptedResult struct {
	SessionID  string          `json:"sessionId"`
	ResponseID string          `json:"responseId"`
	Prompt     session.Message `json:"prompt"`
}

// StoppedResult reports whether a generation was running
type StoppedResult struct {
	Stopped bool `json:"stopped"`
}

// OKResult is the result of methods with nothing to return
type OKResult struct {
	OK bool `json:"ok"`
}

// PeopleResult represents result from search.people
type PeopleResult struct {
	Results []search.Person `json:"results"`
}

// SuggestionsResult represents result from search.suggestions
type SuggestionsResult struct {
	Results []string `json:"results"`
}

// StateParams is the payload of state.changed
type StateParams = store.Snapshot

// NewResponse builds a success response
func NewResponse(id int64, result any) (Response, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return Response{}, fmt.Errorf("failed to marshal result: %w", err)
	}
	return Response{JSONRPC: Version, ID: id, Result: data}, nil
}

// NewErrorResponse builds an error response
func NewErrorResponse(id int64, code int, message string) Response {
	return Response{JSONRPC: Version, ID: id, Error: &Error{Code: code, Message: message}}
}

// NewNotification builds a notification
func NewNotification(method string, params any) (Notification, error) {
	data, err := json.Marshal(params)
	if err != nil {
		return Notification{}, fmt.Errorf("failed to marshal params: %w", err)
	}
	return Notification{JSONRPC: Version, Method: method, Params: data}, nil
}
