package store

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/digitallinguistics/database/internal/chunk"
)

// OperationType is the kind of a bulk operation.
type OperationType string

const (
	OperationCreate OperationType = "Create"
	OperationRead   OperationType = "Read"
	OperationUpsert OperationType = "Upsert"
	OperationDelete OperationType = "Delete"
)

// Operation is one unit of work in a bulk request, scoped to one partition.
type Operation struct {
	OperationType OperationType
	ID            string
	PartitionKey  string
	ResourceBody  Item
}

// Cancellation reason codes reported by TransactWriteItems, plus DuplicateItem
// for keys repeated within one chunk.
const (
	reasonNone                   = "None"
	reasonConditionalCheckFailed = "ConditionalCheckFailed"
	reasonDuplicateItem          = "DuplicateItem"
)

// AddMany validates and creates items in one partition of a container.
//
// Items are written in chunks of at most BulkLimit, each chunk atomically.
// Chunks run in order; the first chunk that does not succeed uniformly ends the
// call with 207 and that chunk's per-item results. Earlier chunks stay written.
// Full success yields 201 with the created items.
func (s *Store) AddMany(ctx context.Context, container Container, partitionKey string, items []Item) (*Response, error) {
	resp, err := s.executeBatch(ctx, "add_many", container, partitionKey, OperationCreate, items)
	return s.finish("add_many", resp, err)
}

// UpsertMany validates and creates or replaces items in one partition of a
// container. It chunks like AddMany; full success yields 200.
func (s *Store) UpsertMany(ctx context.Context, container Container, partitionKey string, items []Item) (*Response, error) {
	resp, err := s.executeBatch(ctx, "upsert_many", container, partitionKey, OperationUpsert, items)
	return s.finish("upsert_many", resp, err)
}

func (s *Store) executeBatch(ctx context.Context, operation string, container Container, partitionKey string, opType OperationType, items []Item) (*Response, error) {
	if res := s.validateAll(items); !res.Valid {
		return validationFailed(res.Errors), nil
	}
	if !container.valid() {
		return badRequest("Unknown container %q.", container.String()), nil
	}

	ops := make([]Operation, len(items))
	for i, item := range items {
		if resp := s.checkRoute(container, item); resp != nil {
			return resp, nil
		}
		body := withID(item)
		if pv, _ := partitionValue(container, body); pv != partitionKey {
			return badRequest("Item %s has partition key %q, but the batch partition key is %q.",
				body.ID(), pv, partitionKey), nil
		}
		ops[i] = Operation{
			OperationType: opType,
			ID:            body.ID(),
			PartitionKey:  partitionKey,
			ResourceBody:  body,
		}
	}

	return s.runChunks(ctx, operation, container, opType, ops)
}

// runChunks dispatches ops in order, one chunk at a time.
func (s *Store) runChunks(ctx context.Context, operation string, container Container, opType OperationType, ops []Operation) (*Response, error) {
	state := newBatchState(len(ops))
	chunks := chunk.Split(ops, s.config.BulkLimit)

	for i, group := range chunks {
		s.logger.Debug("dispatching chunk",
			"operation", operation,
			"container", container.String(),
			"chunk", i+1,
			"chunks", len(chunks),
			"size", len(group),
		)
		s.metrics.chunk(operation)

		results, err := s.dispatch(ctx, container, group)
		if err != nil {
			return nil, err
		}
		if !state.accept(results) {
			s.logger.Warn("bulk operation partially failed",
				"operation", operation,
				"container", container.String(),
				"chunk", i+1,
				"substatus", state.substatus,
			)
			break
		}
	}

	return state.response(successStatus(opType)), nil
}

// dispatch sends one chunk as a single transaction and returns one result per
// operation, in order. Only store failures unrelated to individual items are
// returned as errors.
func (s *Store) dispatch(ctx context.Context, container Container, ops []Operation) ([]OperationResult, error) {
	// A transaction cannot touch the same item twice.
	if results := duplicateResults(ops); results != nil {
		return results, nil
	}

	table := aws.String(s.table(container))
	items := make([]types.TransactWriteItem, len(ops))
	for i, op := range ops {
		switch op.OperationType {
		case OperationCreate, OperationUpsert:
			raw, err := marshalItem(op.ResourceBody, op.PartitionKey)
			if err != nil {
				return nil, err
			}
			put := &types.Put{TableName: table, Item: raw}
			if op.OperationType == OperationCreate {
				put.ConditionExpression = aws.String("attribute_not_exists(#id)")
				put.ExpressionAttributeNames = map[string]string{"#id": idAttr}
			}
			items[i] = types.TransactWriteItem{Put: put}
		case OperationDelete:
			items[i] = types.TransactWriteItem{Delete: &types.Delete{
				TableName: table,
				Key:       key(op.PartitionKey, op.ID),
			}}
		default:
			return nil, fmt.Errorf("%w: %s operations cannot be written", ErrBadRequest, op.OperationType)
		}
	}

	_, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	if err != nil {
		var txErr *types.TransactionCanceledException
		if errors.As(err, &txErr) {
			return cancellationResults(ops, txErr.CancellationReasons), nil
		}
		return nil, err
	}

	results := make([]OperationResult, len(ops))
	for i, op := range ops {
		results[i] = OperationResult{
			ID:           op.ID,
			StatusCode:   successStatus(op.OperationType),
			ResourceBody: op.ResourceBody,
		}
	}
	return results, nil
}

// duplicateResults returns per-item results for a chunk that repeats a key,
// or nil if every key is distinct.
func duplicateResults(ops []Operation) []OperationResult {
	seen := make(map[string]bool, len(ops))
	dup := false
	for _, op := range ops {
		if seen[op.ID] {
			dup = true
			break
		}
		seen[op.ID] = true
	}
	if !dup {
		return nil
	}

	clear(seen)
	results := make([]OperationResult, len(ops))
	for i, op := range ops {
		if seen[op.ID] {
			results[i] = OperationResult{ID: op.ID, StatusCode: http.StatusConflict, SubStatus: reasonDuplicateItem}
		} else {
			results[i] = OperationResult{ID: op.ID, StatusCode: http.StatusFailedDependency, SubStatus: reasonNone}
		}
		seen[op.ID] = true
	}
	return results
}

// cancellationResults maps transaction cancellation reasons to per-item results.
func cancellationResults(ops []Operation, reasons []types.CancellationReason) []OperationResult {
	results := make([]OperationResult, len(ops))
	for i, op := range ops {
		code := reasonNone
		if i < len(reasons) && reasons[i].Code != nil {
			code = *reasons[i].Code
		}
		results[i] = OperationResult{
			ID:         op.ID,
			StatusCode: reasonStatus(code),
			SubStatus:  code,
		}
	}
	return results
}

// reasonStatus maps a cancellation reason code to an HTTP status.
// Operations that did not fail themselves report 424 (failed dependency).
func reasonStatus(code string) int {
	switch code {
	case reasonNone, "":
		return http.StatusFailedDependency
	case reasonConditionalCheckFailed, reasonDuplicateItem, "TransactionConflict":
		return http.StatusConflict
	case "ThrottlingError", "ProvisionedThroughputExceeded", "RequestLimitExceeded":
		return http.StatusTooManyRequests
	case "ValidationError", "ItemCollectionSizeLimitExceeded":
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func successStatus(t OperationType) int {
	if t == OperationCreate {
		return http.StatusCreated
	}
	return http.StatusOK
}

// batchPhase is the state of a bulk call: accumulating chunk results until the
// chunks run out, or returned at the first chunk with a failed item.
type batchPhase int

const (
	phaseAccumulating batchPhase = iota
	phaseReturned
)

type batchState struct {
	phase     batchPhase
	bodies    []Item
	results   []OperationResult
	substatus string
}

func newBatchState(n int) *batchState {
	return &batchState{bodies: make([]Item, 0, n)}
}

// accept folds one chunk's results into the state and reports whether the
// call should continue with the next chunk.
func (b *batchState) accept(results []OperationResult) bool {
	if b.phase == phaseReturned {
		return false
	}
	for _, r := range results {
		if r.StatusCode >= http.StatusMultipleChoices {
			b.phase = phaseReturned
			b.results = results
			b.substatus = firstFailure(results)
			return false
		}
	}
	for _, r := range results {
		b.bodies = append(b.bodies, r.ResourceBody)
	}
	return true
}

func (b *batchState) response(success int) *Response {
	if b.phase == phaseReturned {
		return &Response{
			Status:    http.StatusMultiStatus,
			Data:      b.results,
			Substatus: b.substatus,
		}
	}
	return &Response{Status: success, Data: b.bodies}
}

func firstFailure(results []OperationResult) string {
	for _, r := range results {
		if r.StatusCode >= http.StatusMultipleChoices && r.SubStatus != reasonNone {
			return r.SubStatus
		}
	}
	return ""
}
