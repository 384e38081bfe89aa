package store

import (
	"context"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"golang.org/x/sync/errgroup"
)

// Helpers for seeding and resetting development and test databases.

// SeedOne creates a single item. Unlike AddOne it reports an invalid item as
// an error.
func (s *Store) SeedOne(ctx context.Context, container Container, item Item) (*Response, error) {
	if res := s.Validate(item); !res.Valid {
		return nil, res.Errors[0]
	}
	return s.AddOne(ctx, container, item)
}

// SeedMany creates count copies of item, each with a fresh id, in chunked
// creates against the item's own partition. An invalid item is an error.
func (s *Store) SeedMany(ctx context.Context, container Container, count int, item Item) (*Response, error) {
	if res := s.Validate(item); !res.Valid {
		return nil, res.Errors[0]
	}
	if resp := s.checkRoute(container, item); resp != nil {
		return resp, nil
	}

	template := make(Item, len(item))
	for k, v := range item {
		if k != idAttr {
			template[k] = v
		}
	}
	partitionKey, _ := partitionValue(container, template)

	ops := make([]Operation, count)
	for i := range ops {
		body := withID(template)
		ops[i] = Operation{
			OperationType: OperationCreate,
			ID:            body.ID(),
			PartitionKey:  partitionKey,
			ResourceBody:  body,
		}
	}

	resp, err := s.runChunks(ctx, "seed_many", container, OperationCreate, ops)
	return s.finish("seed_many", resp, err)
}

// ClearPartition deletes every item in one partition of a container.
// On success Data is a CountResult with the number of items deleted.
func (s *Store) ClearPartition(ctx context.Context, container Container, partitionKey string) (*Response, error) {
	resp, err := s.clearPartition(ctx, container, partitionKey)
	return s.finish("clear_partition", resp, err)
}

func (s *Store) clearPartition(ctx context.Context, container Container, partitionKey string) (*Response, error) {
	if !container.valid() {
		return badRequest("Unknown container %q.", container.String()), nil
	}

	var ops []Operation
	paginator := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:                 aws.String(s.table(container)),
		KeyConditionExpression:    aws.String("#pk = :pk"),
		ProjectionExpression:      aws.String("#pk, #id"),
		ExpressionAttributeNames:  map[string]string{"#pk": partitionAttr, "#id": idAttr},
		ExpressionAttributeValues: map[string]types.AttributeValue{":pk": stringValue(partitionKey)},
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range page.Items {
			ops = append(ops, deleteOperation(raw))
		}
	}

	return s.deleteAll(ctx, "clear_partition", container, ops)
}

// ClearContainer deletes every item in a container.
func (s *Store) ClearContainer(ctx context.Context, container Container) (*Response, error) {
	resp, err := s.clearContainer(ctx, container)
	return s.finish("clear_container", resp, err)
}

func (s *Store) clearContainer(ctx context.Context, container Container) (*Response, error) {
	if !container.valid() {
		return badRequest("Unknown container %q.", container.String()), nil
	}

	// Transactions may span partitions, but deletes are grouped per partition
	// so a failure reports against one partition's items.
	var order []string
	byPartition := map[string][]Operation{}
	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName:                aws.String(s.table(container)),
		ProjectionExpression:     aws.String("#pk, #id"),
		ExpressionAttributeNames: map[string]string{"#pk": partitionAttr, "#id": idAttr},
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range page.Items {
			op := deleteOperation(raw)
			if _, ok := byPartition[op.PartitionKey]; !ok {
				order = append(order, op.PartitionKey)
			}
			byPartition[op.PartitionKey] = append(byPartition[op.PartitionKey], op)
		}
	}

	deleted := 0
	for _, pk := range order {
		resp, err := s.deleteAll(ctx, "clear_container", container, byPartition[pk])
		if err != nil {
			return nil, err
		}
		if resp.Status != http.StatusOK {
			return resp, nil
		}
		deleted += resp.Data.(CountResult).Count
	}

	s.logger.Info("container cleared", "container", container.String(), "deleted", deleted)
	return &Response{Status: http.StatusOK, Data: CountResult{Count: deleted}}, nil
}

// Clear deletes every item from both containers.
func (s *Store) Clear(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range []Container{Data, Metadata} {
		c := c
		g.Go(func() error {
			resp, err := s.ClearContainer(gctx, c)
			if err != nil {
				return err
			}
			return resp.Err()
		})
	}
	return g.Wait()
}

func (s *Store) deleteAll(ctx context.Context, operation string, container Container, ops []Operation) (*Response, error) {
	resp, err := s.runChunks(ctx, operation, container, OperationDelete, ops)
	if err != nil {
		return nil, err
	}
	if resp.Status == http.StatusOK {
		resp.Data = CountResult{Count: len(ops)}
	}
	return resp, nil
}

func deleteOperation(raw map[string]types.AttributeValue) Operation {
	return Operation{
		OperationType: OperationDelete,
		ID:            stringAttr(raw, idAttr),
		PartitionKey:  stringAttr(raw, partitionAttr),
	}
}
