package api

import "encoding/json"

// Envelope is the response wrapper the e-Bridge backend puts around every
// payload. The body is nested twice: the outer layer is added by the HTTP
// transport, the inner one by the application controllers.
type Envelope struct {
	Success    bool         `json:"success"`
	StatusCode int          `json:"statusCode"`
	Data       EnvelopeData `json:"data"`
}

// EnvelopeData is the inner application-level wrapper.
type EnvelopeData struct {
	StatusCode int             `json:"statusCode"`
	Message    string          `json:"message"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// Payload returns the innermost data block, or nil when the endpoint
// returned no body (login and logout respond with an empty payload).
func (e *Envelope) Payload() json.RawMessage {
	if len(e.Data.Data) == 0 || string(e.Data.Data) == "null" {
		return nil
	}
	return e.Data.Data
}
