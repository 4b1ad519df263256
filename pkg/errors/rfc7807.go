// Package errors renders API failures as RFC 7807 Problem Details.
package errors

import (
	"encoding/json"
	"net/http"
)

const (
	typeBase = "https://orderexec.dev/problems/"

	TypeValidationError    = typeBase + "validation-error"
	TypeNotFound           = typeBase + "not-found"
	TypeConflict           = typeBase + "conflict"
	TypeInternalError      = typeBase + "internal-error"
	TypeInvalidOrder       = typeBase + "invalid-order"
	TypeOrderNotFound      = typeBase + "order-not-found"
	TypeInvalidTransition  = typeBase + "invalid-transition"
	TypeServiceUnavailable = typeBase + "service-unavailable"
)

const (
	TitleValidationError    = "Validation Error"
	TitleNotFound           = "Not Found"
	TitleConflict           = "Conflict"
	TitleInternalError      = "Internal Server Error"
	TitleInvalidOrder       = "Invalid Order"
	TitleOrderNotFound      = "Order Not Found"
	TitleInvalidTransition  = "Invalid State Transition"
	TitleServiceUnavailable = "Service Unavailable"
)

// ValidationError represents a validation error for RFC 7807
type ValidationError struct {
	Field   string      `json:"field"`
	Value   interface{} `json:"value,omitempty"`
	Message string      `json:"message"`
	Code    string      `json:"code,omitempty"`
}

// ProblemDetails represents an RFC 7807 Problem Details response
type ProblemDetails struct {
	Type     string                 `json:"type"`
	Title    string                 `json:"title"`
	Status   int                    `json:"status"`
	Detail   string                 `json:"detail,omitempty"`
	Instance string                 `json:"instance,omitempty"`
	TraceID  string                 `json:"trace_id,omitempty"`
	Errors   []ValidationError      `json:"errors,omitempty"`
	Extra    map[string]interface{} `json:"-"`
}

// Error implements the error interface
func (p *ProblemDetails) Error() string {
	return p.Detail
}

// WithTraceID adds a trace ID to the problem details
func (p *ProblemDetails) WithTraceID(traceID string) *ProblemDetails {
	p.TraceID = traceID
	return p
}

// WithValidationErrors adds validation errors to the problem details
func (p *ProblemDetails) WithValidationErrors(errors []ValidationError) *ProblemDetails {
	p.Errors = errors
	return p
}

// WithExtra adds a field serialized at the top level.
func (p *ProblemDetails) WithExtra(key string, value interface{}) *ProblemDetails {
	if p.Extra == nil {
		p.Extra = make(map[string]interface{})
	}
	p.Extra[key] = value
	return p
}

// MarshalJSON flattens Extra into the top-level object.
func (p *ProblemDetails) MarshalJSON() ([]byte, error) {
	result := make(map[string]interface{}, 7+len(p.Extra))
	for k, v := range p.Extra {
		result[k] = v
	}
	result["type"] = p.Type
	result["title"] = p.Title
	result["status"] = p.Status
	if p.Detail != "" {
		result["detail"] = p.Detail
	}
	if p.Instance != "" {
		result["instance"] = p.Instance
	}
	if p.TraceID != "" {
		result["trace_id"] = p.TraceID
	}
	if len(p.Errors) > 0 {
		result["errors"] = p.Errors
	}
	return json.Marshal(result)
}

// NewProblemDetails creates a generic problem details with all fields
func NewProblemDetails(problemType, title string, status int, detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:     problemType,
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	}
}

func NewValidationError(detail, instance string) *ProblemDetails {
	return NewProblemDetails(TypeValidationError, TitleValidationError, http.StatusBadRequest, detail, instance)
}

func NewNotFoundError(detail, instance string) *ProblemDetails {
	return NewProblemDetails(TypeNotFound, TitleNotFound, http.StatusNotFound, detail, instance)
}

func NewConflictError(detail, instance string) *ProblemDetails {
	return NewProblemDetails(TypeConflict, TitleConflict, http.StatusConflict, detail, instance)
}

func NewInternalError(detail, instance string) *ProblemDetails {
	return NewProblemDetails(TypeInternalError, TitleInternalError, http.StatusInternalServerError, detail, instance)
}

// NewInvalidOrderError is returned when an order fails intake validation.
func NewInvalidOrderError(detail, instance string) *ProblemDetails {
	return NewProblemDetails(TypeInvalidOrder, TitleInvalidOrder, http.StatusBadRequest, detail, instance)
}

func NewOrderNotFoundError(detail, instance string) *ProblemDetails {
	return NewProblemDetails(TypeOrderNotFound, TitleOrderNotFound, http.StatusNotFound, detail, instance)
}

// NewInvalidTransitionError is returned when a lifecycle operation is not
// allowed from the order's current status.
func NewInvalidTransitionError(detail, instance string) *ProblemDetails {
	return NewProblemDetails(TypeInvalidTransition, TitleInvalidTransition, http.StatusConflict, detail, instance)
}

func NewServiceUnavailableError(detail, instance string) *ProblemDetails {
	return NewProblemDetails(TypeServiceUnavailable, TitleServiceUnavailable, http.StatusServiceUnavailable, detail, instance)
}
