package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// FindRequest is the body of POST /api/find.
type FindRequest struct {
	Query       string  `json:"query"`
	URL         *string `json:"url"`
	Interactive bool    `json:"interactive"`
	Evaluate    bool    `json:"evaluate"`
}

// BulkRequest is the body of POST /api/bulk.
type BulkRequest struct {
	Names []string `json:"names"`
	Query string   `json:"query"`
}

// FindResult is a decoded single-query answer. Fields the backend omits are
// left at their zero values.
type FindResult struct {
	Text string
	URLs []string
	// Confidence is the evaluator score on the backend's 0-100 scale, or nil
	// when no usable evaluation came back.
	Confidence *float64
}

// BulkResult is a decoded bulk search answer.
type BulkResult struct {
	Message  string
	Filepath string
}

// UploadResult is a decoded upload answer. Companies is set only when the
// backend recognised the file as a company list.
type UploadResult struct {
	Message   string
	Companies []string
}

type envelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func (e envelope) outcome() envelope { return e }

type outcomer interface {
	outcome() envelope
}

type findResponse struct {
	envelope
	Results *struct {
		Text       string   `json:"text"`
		URLs       []string `json:"urls"`
		Evaluation *struct {
			Confidence score `json:"confidence"`
		} `json:"evaluation"`
	} `json:"results"`
}

type bulkResponse struct {
	envelope
	Message  string `json:"message"`
	Filepath string `json:"filepath"`
}

type savedSearchesResponse struct {
	envelope
	Searches []string `json:"searches"`
}

type uploadResponse struct {
	envelope
	Message   string   `json:"message"`
	Companies []string `json:"companies"`
}

// score tolerates numbers, numeric strings and null. Anything else decodes
// as "no score" instead of failing the whole response.
type score struct {
	value float64
	valid bool
}

func (s *score) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*s = score{}
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		*s = score{value: f, valid: true}
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(str), 64); err == nil {
			*s = score{value: f, valid: true}
			return nil
		}
	}
	*s = score{}
	return nil
}

func (r *findResponse) result() *FindResult {
	out := &FindResult{}
	if r.Results == nil {
		return out
	}
	out.Text = r.Results.Text
	out.URLs = r.Results.URLs
	if ev := r.Results.Evaluation; ev != nil && ev.Confidence.valid {
		v := ev.Confidence.value
		out.Confidence = &v
	}
	return out
}

// Error is a failure reported by the backend: either a success:false
// envelope or an HTTP error status without a readable body.
type Error struct {
	Op      string
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Status >= 400 && e.Message == "" {
		return fmt.Sprintf("%s: server returned %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// TransportError means the request never produced a response: connection
// refused, timeout, cancellation.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: backend not reachable (%v)", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
