package store

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/digitallinguistics/database/schema"
)

// Store mediates between database items and the two DynamoDB tables backing
// the data and metadata containers.
type Store struct {
	client    API
	config    Config
	registry  *Registry
	validator Validator
	logger    *slog.Logger
	metrics   *metrics
}

// New creates a Store that validates items against the embedded schemas.
func New(client API, config Config) *Store {
	return NewWithValidator(client, config, schema.Default())
}

// NewWithValidator creates a Store with a custom schema validator.
func NewWithValidator(client API, config Config, validator Validator) *Store {
	config.validate()
	return &Store{
		client:    client,
		config:    config,
		registry:  config.Registry,
		validator: validator,
		logger:    config.Logger,
		metrics:   newMetrics(config.Registerer),
	}
}

// Registry returns the store's type table.
func (s *Store) Registry() *Registry {
	return s.registry
}

// BulkLimit returns the maximum number of operations per physical bulk request.
func (s *Store) BulkLimit() int {
	return s.config.BulkLimit
}

// table returns the DynamoDB table backing a container.
func (s *Store) table(c Container) string {
	switch c {
	case Data:
		return s.config.DataTable
	case Metadata:
		return s.config.MetadataTable
	default:
		return ""
	}
}

// checkRoute rejects unknown containers and items addressed to the wrong one.
// The item must already have passed validation.
func (s *Store) checkRoute(c Container, item Item) *Response {
	if !c.valid() {
		return badRequest("Unknown container %q.", c.String())
	}
	if routed, _ := s.registry.Container(item.Type()); routed != c {
		return badRequest("Items of type %s belong in the '%s' container.", item.Type(), routed)
	}
	return nil
}

// finish records the outcome of an operation.
// Store failures are returned unmodified.
func (s *Store) finish(operation string, resp *Response, err error) (*Response, error) {
	if err != nil {
		status := StatusOf(err)
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			s.logger.Warn("store request failed",
				"operation", operation,
				"code", apiErr.ErrorCode(),
				"status", status,
			)
		} else {
			s.logger.Warn("store request failed",
				"operation", operation,
				"error", err,
			)
		}
		s.metrics.observe(operation, status)
		return nil, err
	}
	s.metrics.observe(operation, resp.Status)
	return resp, nil
}

// AddOne validates and creates a single item. The item gets an id if it has none.
// An existing item with the same id in the same partition yields 409.
func (s *Store) AddOne(ctx context.Context, container Container, item Item) (*Response, error) {
	resp, err := s.addOne(ctx, container, item)
	return s.finish("add_one", resp, err)
}

func (s *Store) addOne(ctx context.Context, container Container, item Item) (*Response, error) {
	if res := s.Validate(item); !res.Valid {
		return validationFailed(res.Errors), nil
	}
	if resp := s.checkRoute(container, item); resp != nil {
		return resp, nil
	}

	body := withID(item)
	pk, _ := partitionValue(container, body)
	raw, err := marshalItem(body, pk)
	if err != nil {
		return nil, err
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(s.table(container)),
		Item:                     raw,
		ConditionExpression:      aws.String("attribute_not_exists(#id)"),
		ExpressionAttributeNames: map[string]string{"#id": idAttr},
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return &Response{
				Status:  http.StatusConflict,
				Message: "Item with ID " + body.ID() + " already exists.",
			}, nil
		}
		return nil, err
	}

	return &Response{Status: http.StatusCreated, Data: body}, nil
}

// GetOne reads a single item by partition key and id.
// A missing item yields 404 with no data; it is not an error.
func (s *Store) GetOne(ctx context.Context, container Container, partitionKey, id string) (*Response, error) {
	resp, err := s.getOne(ctx, container, partitionKey, id)
	return s.finish("get_one", resp, err)
}

func (s *Store) getOne(ctx context.Context, container Container, partitionKey, id string) (*Response, error) {
	if !container.valid() {
		return badRequest("Unknown container %q.", container.String()), nil
	}

	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table(container)),
		Key:            key(partitionKey, id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if result.Item == nil {
		return &Response{Status: http.StatusNotFound}, nil
	}

	item, err := unmarshalItem(result.Item)
	if err != nil {
		return nil, err
	}
	return &Response{Status: http.StatusOK, Data: item}, nil
}

// UpsertOne validates and creates or replaces a single item.
func (s *Store) UpsertOne(ctx context.Context, container Container, item Item) (*Response, error) {
	resp, err := s.upsertOne(ctx, container, item)
	return s.finish("upsert_one", resp, err)
}

func (s *Store) upsertOne(ctx context.Context, container Container, item Item) (*Response, error) {
	if res := s.Validate(item); !res.Valid {
		return validationFailed(res.Errors), nil
	}
	if resp := s.checkRoute(container, item); resp != nil {
		return resp, nil
	}

	body := withID(item)
	pk, _ := partitionValue(container, body)
	raw, err := marshalItem(body, pk)
	if err != nil {
		return nil, err
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table(container)),
		Item:      raw,
	})
	if err != nil {
		return nil, err
	}

	return &Response{Status: http.StatusOK, Data: body}, nil
}

// GetMany reads up to BulkLimit items from one partition in a single bulk request.
//
// Every requested id gets exactly one ReadResult, in request order: 200 with
// data, or 404 without. The response status is always 207. More than BulkLimit
// ids yields 400 without touching the store.
func (s *Store) GetMany(ctx context.Context, container Container, partitionKey string, ids []string) (*Response, error) {
	resp, err := s.getMany(ctx, container, partitionKey, ids)
	return s.finish("get_many", resp, err)
}

func (s *Store) getMany(ctx context.Context, container Container, partitionKey string, ids []string) (*Response, error) {
	if len(ids) > s.config.BulkLimit {
		return badRequest("You can only retrieve %d items at a time.", s.config.BulkLimit), nil
	}
	if !container.valid() {
		return badRequest("Unknown container %q.", container.String()), nil
	}

	operations := make([]Operation, len(ids))
	for i, id := range ids {
		operations[i] = Operation{OperationType: OperationRead, ID: id, PartitionKey: partitionKey}
	}

	// BatchGetItem rejects duplicate keys; each distinct id is requested once.
	table := s.table(container)
	seen := make(map[string]bool, len(ids))
	keys := make([]map[string]types.AttributeValue, 0, len(ids))
	for _, op := range operations {
		if seen[op.ID] {
			continue
		}
		seen[op.ID] = true
		keys = append(keys, key(op.PartitionKey, op.ID))
	}

	found := make(map[string]Item, len(keys))
	request := map[string]types.KeysAndAttributes{}
	if len(keys) > 0 {
		request[table] = types.KeysAndAttributes{Keys: keys, ConsistentRead: aws.Bool(true)}
	}

	// Drain keys the store left unprocessed; they are part of this request.
	for len(request) > 0 {
		s.metrics.chunk("get_many")
		out, err := s.client.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{RequestItems: request})
		if err != nil {
			return nil, err
		}
		for _, raw := range out.Responses[table] {
			item, err := unmarshalItem(raw)
			if err != nil {
				return nil, err
			}
			found[item.ID()] = item
		}
		request = out.UnprocessedKeys
	}

	results := make([]ReadResult, len(operations))
	for i, op := range operations {
		if item, ok := found[op.ID]; ok {
			results[i] = ReadResult{ID: op.ID, Status: http.StatusOK, Data: item}
		} else {
			results[i] = ReadResult{ID: op.ID, Status: http.StatusNotFound}
		}
	}

	return &Response{Status: http.StatusMultiStatus, Data: results}, nil
}

// DeleteOne removes a single item. A missing item yields 404.
func (s *Store) DeleteOne(ctx context.Context, container Container, partitionKey, id string) (*Response, error) {
	resp, err := s.deleteOne(ctx, container, partitionKey, id)
	return s.finish("delete_one", resp, err)
}

func (s *Store) deleteOne(ctx context.Context, container Container, partitionKey, id string) (*Response, error) {
	if !container.valid() {
		return badRequest("Unknown container %q.", container.String()), nil
	}

	out, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    aws.String(s.table(container)),
		Key:          key(partitionKey, id),
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return nil, err
	}
	if len(out.Attributes) == 0 {
		return &Response{Status: http.StatusNotFound}, nil
	}
	return &Response{Status: http.StatusNoContent}, nil
}
