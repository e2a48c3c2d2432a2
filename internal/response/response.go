// Package response defines the envelope every translation endpoint returns.
package response

import (
	"encoding/json"
	"net/http"
)

// Kind is the machine-readable outcome of a request.
type Kind string

const (
	Success           Kind = "SUCCESS"
	IDOrSrcMissing    Kind = "ID_OR_SRC_MISSING"
	InvalidAPIRequest Kind = "INVALID_API_REQUEST"
	RateLimited       Kind = "RATE_LIMITED"
	SystemErr         Kind = "SYSTEM_ERR"
	ServerModelErr    Kind = "SERVER_MODEL_ERR"
)

var statuses = map[Kind]Status{
	Success:           {Kind: Success, Code: 200, Message: "request successful"},
	IDOrSrcMissing:    {Kind: IDOrSrcMissing, Code: 400, Message: "either id or src missing for some inputs in the request"},
	InvalidAPIRequest: {Kind: InvalidAPIRequest, Code: 400, Message: "invalid api request, either incorrect format or empty request"},
	RateLimited:       {Kind: RateLimited, Code: 429, Message: "too many requests, retry later"},
	SystemErr:         {Kind: SystemErr, Code: 500, Message: "something went wrong on our end, please try again later"},
	ServerModelErr:    {Kind: ServerModelErr, Code: 500, Message: "model server error"},
}

// Status describes the outcome carried by an Envelope.
type Status struct {
	Kind    Kind   `json:"kind"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	Why     string `json:"why,omitempty"`
}

// OK reports whether the status is a success.
func (s Status) OK() bool {
	return s.Kind == Success
}

// Envelope wraps every translation response body.
type Envelope struct {
	Status Status      `json:"status"`
	Data   interface{} `json:"data"`
}

// StatusFor returns the stock status for kind. Unknown kinds map to
// SYSTEM_ERR.
func StatusFor(kind Kind) Status {
	if s, ok := statuses[kind]; ok {
		return s
	}
	return statuses[SystemErr]
}

// New builds an envelope of the given kind.
func New(kind Kind, data interface{}) *Envelope {
	return &Envelope{Status: StatusFor(kind), Data: data}
}

// WithWhy attaches a diagnostic detail.
func (e *Envelope) WithWhy(why string) *Envelope {
	e.Status.Why = why
	return e
}

// WithMessage overrides the human-readable message.
func (e *Envelope) WithMessage(msg string) *Envelope {
	e.Status.Message = msg
	return e
}

// OK builds a SUCCESS envelope.
func OK(data interface{}) *Envelope {
	return New(Success, data)
}

// WriteJSON writes the envelope with a fixed HTTP status. Translation
// endpoints always use 200; callers inspect the envelope status.
func WriteJSON(w http.ResponseWriter, httpStatus int, env *Envelope) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	return json.NewEncoder(w).Encode(env)
}
