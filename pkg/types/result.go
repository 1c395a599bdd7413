// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// Status is the outcome field of a Result or wire reply.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// Result is the uniform outcome of a storage facade operation. Ordinary
// failures (not found, not connected, invalid id) are reported here rather
// than as Go errors.
type Result struct {
	Status  Status    `json:"status"`
	Data    any       `json:"data,omitempty"`
	Message string    `json:"message,omitempty"`
	Kind    ErrorKind `json:"kind,omitempty"`
}

// OK returns a successful Result carrying data.
func OK(data any) Result {
	return Result{Status: StatusOK, Data: data}
}

// OKMessage returns a successful Result carrying a message.
func OKMessage(msg string) Result {
	return Result{Status: StatusOK, Message: msg}
}

// Fail converts err into an error Result.
func Fail(err error) Result {
	return Result{Status: StatusError, Message: MessageOf(err), Kind: KindOf(err)}
}

// ResultOf builds a Result from a (value, error) pair.
func ResultOf(data any, err error) Result {
	if err != nil {
		return Fail(err)
	}
	return OK(data)
}

// IsOK reports whether the result succeeded.
func (r Result) IsOK() bool {
	return r.Status == StatusOK
}
