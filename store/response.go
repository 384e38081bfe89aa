package store

import (
	"fmt"
	"net/http"
)

// Response is the envelope returned by every Store operation.
//
// Exactly one payload channel is meaningful per status class:
//   - 2xx: Data
//   - 207: Data holds []OperationResult (bulk writes) or []ReadResult (GetMany)
//   - 422: Errors, with Message
//   - other 4xx: Message
type Response struct {
	Status    int                `json:"status"`
	Data      any                `json:"data,omitempty"`
	Message   string             `json:"message,omitempty"`
	Errors    []*ValidationError `json:"errors,omitempty"`
	Substatus any                `json:"substatus,omitempty"`
}

// OperationResult is the outcome of one operation in a bulk write.
type OperationResult struct {
	ID           string `json:"id,omitempty"`
	StatusCode   int    `json:"statusCode"`
	SubStatus    string `json:"subStatus,omitempty"`
	ResourceBody Item   `json:"resourceBody,omitempty"`
}

// ReadResult is the outcome of reading one id in GetMany.
type ReadResult struct {
	ID     string `json:"id"`
	Status int    `json:"status"`
	Data   Item   `json:"data,omitempty"`
}

// CountResult is the payload of Count.
type CountResult struct {
	Count int `json:"count"`
}

const validationMessage = "Validation Error: See 'errors' property for more information."

func validationFailed(errs []*ValidationError) *Response {
	return &Response{
		Status:  http.StatusUnprocessableEntity,
		Message: validationMessage,
		Errors:  errs,
	}
}

func badRequest(format string, args ...any) *Response {
	return &Response{
		Status:  http.StatusBadRequest,
		Message: fmt.Sprintf(format, args...),
	}
}

// Item returns Data as a single item, or nil.
func (r *Response) Item() Item {
	item, _ := r.Data.(Item)
	return item
}

// Items returns Data as a list of items, or nil.
func (r *Response) Items() []Item {
	items, _ := r.Data.([]Item)
	return items
}

// Results returns the per-operation outcomes of a 207 bulk write, or nil.
func (r *Response) Results() []OperationResult {
	results, _ := r.Data.([]OperationResult)
	return results
}

// Reads returns the per-id outcomes of GetMany, or nil.
func (r *Response) Reads() []ReadResult {
	reads, _ := r.Data.([]ReadResult)
	return reads
}

// Err maps the response status to the error taxonomy.
// It returns nil for uniform success.
func (r *Response) Err() error {
	switch r.Status {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
		return nil
	case http.StatusMultiStatus:
		return ErrPartialFailure
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", ErrBadRequest, r.Message)
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", ErrConflict, r.Message)
	case http.StatusUnprocessableEntity:
		if len(r.Errors) > 0 {
			return r.Errors[0]
		}
		return ErrValidation
	default:
		return fmt.Errorf("database: status %d: %s", r.Status, r.Message)
	}
}
