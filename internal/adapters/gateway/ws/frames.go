package ws

import (
	"encoding/json"
	"strings"

	"github.com/bnema/clawstat/internal/domain"
)

const (
	frameTypeRequest  = "req"
	frameTypeResponse = "res"
)

type Request struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params"`
}

type Response struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	OK      bool            `json:"ok"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ResponseError  `json:"error,omitempty"`
}

type ResponseError struct {
	Code    json.RawMessage `json:"code,omitempty"`
	Message string          `json:"message"`
}

func (r Response) callError(method string) *domain.CallError {
	callErr := &domain.CallError{Method: method}
	if r.Error != nil {
		callErr.Message = r.Error.Message
		callErr.Code = strings.Trim(string(r.Error.Code), `"`)
	}
	return callErr
}

// ErrorMessage returns the gateway's message for a failed response, or
// fallback when it sent none.
func (r Response) ErrorMessage(fallback string) string {
	if r.Error != nil && strings.TrimSpace(r.Error.Message) != "" {
		return r.Error.Message
	}
	return fallback
}
