package schemas

import (
	"fmt"

	json "github.com/json-iterator/go"
)

// -- Run Request --

// DefaultDelayMs is the inter-value delay used when a request does not specify one.
const DefaultDelayMs = 250

// RunRequest is the payload of a RUN command. It is immutable once sent and is
// consumed exactly once by the bulk orchestrator.
type RunRequest struct {
	Sections     Sections `json:"sections"`
	DelayMs      int      `json:"delayMs"`
	SkipExisting bool     `json:"skipExisting"`
	StopOnError  bool     `json:"stopOnError"`
}

// NewRunRequest builds a request with default options.
func NewRunRequest(sections Sections) RunRequest {
	req := RunRequest{
		Sections:     NewSections(),
		DelayMs:      DefaultDelayMs,
		SkipExisting: true,
	}
	for _, k := range FieldOrder {
		for _, v := range sections[k] {
			req.Sections.Add(k, v)
		}
	}
	return req
}

// rawRunRequest mirrors RunRequest with optional fields so absent values can be defaulted.
type rawRunRequest struct {
	Sections     map[string][]string `json:"sections"`
	DelayMs      *int                `json:"delayMs"`
	SkipExisting *bool               `json:"skipExisting"`
	StopOnError  *bool               `json:"stopOnError"`
}

// UnmarshalJSON decodes a request, applying defaults for absent options and
// de-duplicating each section case-insensitively.
func (r *RunRequest) UnmarshalJSON(data []byte) error {
	var raw rawRunRequest
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := RunRequest{Sections: NewSections(), DelayMs: DefaultDelayMs, SkipExisting: true}
	for name, values := range raw.Sections {
		key, err := ParseFieldKey(name)
		if err != nil {
			return err
		}
		for _, v := range values {
			out.Sections.Add(key, v)
		}
	}
	if raw.DelayMs != nil {
		out.DelayMs = *raw.DelayMs
	}
	if raw.SkipExisting != nil {
		out.SkipExisting = *raw.SkipExisting
	}
	if raw.StopOnError != nil {
		out.StopOnError = *raw.StopOnError
	}
	if err := out.Validate(); err != nil {
		return err
	}
	*r = out
	return nil
}

// Validate checks option ranges.
func (r RunRequest) Validate() error {
	if r.DelayMs < 0 {
		return fmt.Errorf("delayMs must be non-negative, got %d", r.DelayMs)
	}
	return nil
}

// DecodeRunRequest parses a JSON encoded RunRequest.
func DecodeRunRequest(data []byte) (RunRequest, error) {
	var req RunRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return RunRequest{}, fmt.Errorf("failed to decode run request: %w", err)
	}
	return req, nil
}

// -- Commands --

// CommandType enumerates the messages the panel can send to the page controller.
type CommandType string

const (
	CommandRun    CommandType = "RUN"
	CommandStop   CommandType = "STOP"
	CommandStatus CommandType = "STATUS"
)

// Command is the envelope sent from the panel to the controller.
type Command struct {
	ID      string      `json:"id"`
	Type    CommandType `json:"type"`
	Payload *RunRequest `json:"payload,omitempty"`
}

// Reply answers a Command. CorrelationID matches Command.ID.
type Reply struct {
	CorrelationID string      `json:"correlationId"`
	Accepted      bool        `json:"accepted"`
	Token         uint64      `json:"token"`
	RunID         string      `json:"runId,omitempty"`
	Running       bool        `json:"running"`
	Error         string      `json:"error,omitempty"`
	Summary       *RunSummary `json:"summary,omitempty"`
}
