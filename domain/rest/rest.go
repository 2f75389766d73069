// Package rest provides the request and response values exchanged with the
// REST resource layer when it is dispatched in-process.
package rest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/xwp/wp-customize-rest-resources/domain/resource"
)

// Headers understood by the REST layer and the editor.
const (
	// HeaderEditContext marks responses whose resources may be edited.
	HeaderEditContext = "X-Customize-Rest-Resources-Context"

	// HeaderMethodOverride tunnels PUT, PATCH and OPTIONS through POST.
	HeaderMethodOverride = "X-HTTP-Method-Override"

	// EditContext is the value of HeaderEditContext and of the context
	// query argument for edit-context requests.
	EditContext = "edit"

	ContentTypeJSON = "application/json"
)

// Error codes of the error envelope.
const (
	CodeNoRoute       = "rest_no_route"
	CodeInvalidParam  = "rest_invalid_param"
	CodeInvalidJSON   = "rest_invalid_json"
	CodeInvalidID     = "rest_invalid_id"
	CodeMethodInvalid = "rest_method_not_allowed"
	CodeInternal      = "rest_internal_error"
)

// Request is a REST request dispatched without HTTP.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// NewRequest creates a request for a route path such as "/wp/v2/posts/4".
func NewRequest(method, path string) *Request {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return &Request{
		Method: strings.ToUpper(method),
		Path:   path,
		Query:  url.Values{},
		Header: http.Header{},
	}
}

// SetJSON encodes v as the request body.
func (r *Request) SetJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode request body: %w", err)
	}
	r.Body = data
	r.Header.Set("Content-Type", ContentTypeJSON)
	return nil
}

// IsEditContext reports whether the request asks for the edit context.
func (r *Request) IsEditContext() bool {
	return r.Query.Get("context") == EditContext
}

// Response is the result of a dispatched request. Data holds the decoded
// JSON payload: a resource.Resource, a []resource.Resource, an *Error or
// any other JSON-encodable document.
type Response struct {
	Status int
	Header http.Header
	Data   any
}

// NewResponse creates a response with an empty header.
func NewResponse(status int, data any) *Response {
	return &Response{Status: status, Header: http.Header{}, Data: data}
}

// IsError reports whether the response carries an error status.
func (r *Response) IsError() bool {
	return r.Status >= http.StatusBadRequest
}

// Err returns the error envelope of an error response, or nil.
func (r *Response) Err() *Error {
	if !r.IsError() {
		return nil
	}
	if e, ok := r.Data.(*Error); ok {
		return e
	}
	return &Error{Code: CodeInternal, Message: http.StatusText(r.Status), Data: ErrorData{Status: r.Status}}
}

// Resource returns the single resource of the response.
func (r *Response) Resource() (resource.Resource, bool) {
	switch v := r.Data.(type) {
	case resource.Resource:
		return v, true
	case map[string]any:
		return resource.Resource(v), true
	}
	return nil, false
}

// Decode converts the payload into v through its JSON encoding.
func (r *Response) Decode(v any) error {
	data, err := json.Marshal(r.Data)
	if err != nil {
		return fmt.Errorf("encode response data: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}

// Error is the error envelope: {code, message, data: {status, params}}.
type Error struct {
	Code    string    `json:"code"`
	Message string    `json:"message"`
	Data    ErrorData `json:"data"`
}

// ErrorData carries the status and per-parameter messages of an error.
type ErrorData struct {
	Status int               `json:"status"`
	Params map[string]string `json:"params,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

// NewError builds an error response.
func NewError(status int, code, message string) *Response {
	return NewResponse(status, &Error{Code: code, Message: message, Data: ErrorData{Status: status}})
}
