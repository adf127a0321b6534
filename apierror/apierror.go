// Package apierror defines the errors a deployment reports to its clients
// and their OpenAI-style wire envelope.
package apierror

import (
	"errors"
	"fmt"
	"net/http"
)

// RuntimeErrorMessage is what clients see for failures that must not leak
// internal detail.
const RuntimeErrorMessage = "Error during processing the request"

const (
	TypeRuntime            = "runtime_error"
	TypeInvalidRequest     = "invalid_request_error"
	TypeInternalServer     = "internal_server_error"
	CodeDeploymentNotFound = "DeploymentNotFound"
	CodeEndpointNotFound   = "endpoint_not_found"
	CodeCannotTruncate     = "cannot_fit_into_max_prompt_tokens"
)

// ErrContractViolation marks misuse of the response API by a deployment.
var ErrContractViolation = errors.New("contract violation")

// Error is an error with an HTTP status and a client-visible body.
type Error struct {
	Message        string
	StatusCode     int
	Type           string
	Param          string
	Code           string
	DisplayMessage string

	cause error
}

type Option func(*Error)

func WithParam(param string) Option {
	return func(e *Error) { e.Param = param }
}

func WithCode(code string) Option {
	return func(e *Error) { e.Code = code }
}

func WithDisplayMessage(msg string) Option {
	return func(e *Error) { e.DisplayMessage = msg }
}

func WithType(typ string) Option {
	return func(e *Error) { e.Type = typ }
}

// WithCause records the underlying error. It is reachable through
// errors.Is/As but never serialized.
func WithCause(err error) Option {
	return func(e *Error) { e.cause = err }
}

// New builds an error with the runtime_error type unless overridden.
func New(status int, message string, opts ...Option) *Error {
	e := &Error{
		Message:    message,
		StatusCode: status,
		Type:       TypeRuntime,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Body is the "error" object of the wire envelope.
type Body struct {
	Message        string `json:"message"`
	Type           string `json:"type,omitempty"`
	Param          string `json:"param,omitempty"`
	Code           string `json:"code,omitempty"`
	DisplayMessage string `json:"display_message,omitempty"`
}

// Envelope is the JSON document returned for failed requests.
type Envelope struct {
	Error Body `json:"error"`
}

func (e *Error) Envelope() Envelope {
	return Envelope{Error: Body{
		Message:        e.Message,
		Type:           e.Type,
		Param:          e.Param,
		Code:           e.Code,
		DisplayMessage: e.DisplayMessage,
	}}
}

// JSON renders the envelope as a generic document, the form streamed as the
// final chunk of a failed response.
func (e *Error) JSON() map[string]any {
	body := map[string]any{"message": e.Message}
	for key, value := range map[string]string{
		"type":            e.Type,
		"param":           e.Param,
		"code":            e.Code,
		"display_message": e.DisplayMessage,
	} {
		if value != "" {
			body[key] = value
		}
	}
	return map[string]any{"error": body}
}

// From returns err as a client-facing error. Errors outside the taxonomy
// become an opaque runtime error; callers log the original.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return RuntimeServer(RuntimeErrorMessage, WithCause(err))
}

// IsClassified reports whether err already belongs to the taxonomy.
func IsClassified(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr)
}

func ResourceNotFound(message string, opts ...Option) *Error {
	return New(http.StatusNotFound, message, opts...)
}

func DeploymentNotFound(message string, opts ...Option) *Error {
	return New(http.StatusNotFound, message, append([]Option{WithCode(CodeDeploymentNotFound)}, opts...)...)
}

func EndpointNotFound(endpoint string) *Error {
	return New(http.StatusNotFound,
		fmt.Sprintf("The deployment doesn't implement '%s' endpoint.", endpoint),
		WithCode(CodeEndpointNotFound))
}

func RequestValidation(message string, opts ...Option) *Error {
	return New(http.StatusUnprocessableEntity, message, append([]Option{WithType(TypeInvalidRequest)}, opts...)...)
}

func InvalidRequest(message string, opts ...Option) *Error {
	return New(http.StatusBadRequest, message, append([]Option{WithType(TypeInvalidRequest)}, opts...)...)
}

func CannotTruncatePrompt(message string, opts ...Option) *Error {
	return New(http.StatusBadRequest, message, append([]Option{
		WithType(TypeInvalidRequest),
		WithCode(CodeCannotTruncate),
		WithParam("max_prompt_tokens"),
	}, opts...)...)
}

func RuntimeServer(message string, opts ...Option) *Error {
	return New(http.StatusInternalServerError, message, opts...)
}

func InternalServer(message string, opts ...Option) *Error {
	return New(http.StatusInternalServerError, message, append([]Option{WithType(TypeInternalServer)}, opts...)...)
}

// ContractViolation reports misuse of the response API. Clients only see
// the generic runtime message; the reason stays in the cause.
func ContractViolation(reason string) *Error {
	return RuntimeServer(RuntimeErrorMessage, WithCause(fmt.Errorf("%w: %s", ErrContractViolation, reason)))
}
