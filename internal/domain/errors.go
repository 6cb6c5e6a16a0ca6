package domain

import (
	"errors"
	"fmt"
)

var (
	ErrConfiguration = errors.New("configuration error")
	ErrConnection    = errors.New("gateway connection error")
	ErrCallTimeout   = errors.New("gateway call timed out")
	ErrUpload        = errors.New("snapshot upload failed")
	ErrNoSnapshot    = errors.New("snapshot not found")
)

// CallError is a response frame that arrived with ok=false.
type CallError struct {
	Method  string
	Code    string
	Message string
}

func (e *CallError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "call failed"
	}
	if e.Code != "" {
		return fmt.Sprintf("gateway %s: %s (%s)", e.Method, msg, e.Code)
	}
	return fmt.Sprintf("gateway %s: %s", e.Method, msg)
}
