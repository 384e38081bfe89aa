// Package dynamotest provides an in-memory DynamoDB for unit tests.
//
// The Fake implements the item, batch, transaction, query and scan calls the
// store makes, against tables keyed by a "pk" hash key and an "id" range key.
// It enforces the limits and validations of the real service that the store
// depends on: 100 items per transaction or batch read, one operation per item
// per transaction, and no unused expression attribute names or values.
package dynamotest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

const (
	hashKey  = "pk"
	rangeKey = "id"

	// MaxItems is the service limit for TransactWriteItems and BatchGetItem.
	MaxItems = 100

	// DefaultPageSize is the number of items evaluated per Query or Scan page.
	DefaultPageSize = 25
)

// Fake is an in-memory DynamoDB. It is safe for concurrent use.
type Fake struct {
	mu sync.Mutex

	tables map[string]map[string]map[string]types.AttributeValue

	// PageSize is the number of items evaluated per Query or Scan page.
	PageSize int

	// UnprocessedRounds is the number of BatchGetItem calls that will return
	// half of their keys as unprocessed.
	UnprocessedRounds int

	calls         map[string]int
	transactSizes []int
	failures      map[string]error
}

// New creates a Fake with the named tables.
func New(tables ...string) *Fake {
	f := &Fake{
		tables:   make(map[string]map[string]map[string]types.AttributeValue, len(tables)),
		PageSize: DefaultPageSize,
		calls:    map[string]int{},
		failures: map[string]error{},
	}
	for _, t := range tables {
		f.tables[t] = map[string]map[string]types.AttributeValue{}
	}
	return f
}

// FailNext makes the next call to operation (e.g. "PutItem") return err.
func (f *Fake) FailNext(operation string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[operation] = err
}

// Calls returns the number of times operation has been called.
func (f *Fake) Calls(operation string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[operation]
}

// TransactSizes returns the number of items in each TransactWriteItems call,
// in call order.
func (f *Fake) TransactSizes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.transactSizes...)
}

// Len returns the number of items in a table.
func (f *Fake) Len(table string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tables[table])
}

// Items returns copies of every item in a table, sorted by key.
func (f *Fake) Items(table string) []map[string]types.AttributeValue {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.tables[table]
	out := make([]map[string]types.AttributeValue, 0, len(t))
	for _, k := range sortedKeys(t) {
		out = append(out, clone(t[k]))
	}
	return out
}

// begin records a call and returns any injected failure. f.mu must be held.
func (f *Fake) begin(operation string) error {
	f.calls[operation]++
	if err, ok := f.failures[operation]; ok {
		delete(f.failures, operation)
		return err
	}
	return nil
}

func (f *Fake) table(name *string) (map[string]map[string]types.AttributeValue, error) {
	t, ok := f.tables[aws.ToString(name)]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("Requested resource not found: " + aws.ToString(name))}
	}
	return t, nil
}

// GetItem implements the DynamoDB GetItem call.
func (f *Fake) GetItem(_ context.Context, params *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("GetItem"); err != nil {
		return nil, err
	}
	t, err := f.table(params.TableName)
	if err != nil {
		return nil, err
	}
	k, err := itemKey(params.Key)
	if err != nil {
		return nil, err
	}
	out := &dynamodb.GetItemOutput{}
	if item, ok := t[k]; ok {
		out.Item = clone(item)
	}
	return out, nil
}

// PutItem implements the DynamoDB PutItem call, including condition expressions.
func (f *Fake) PutItem(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("PutItem"); err != nil {
		return nil, err
	}
	t, err := f.table(params.TableName)
	if err != nil {
		return nil, err
	}
	k, err := itemKey(params.Item)
	if err != nil {
		return nil, err
	}
	if err := checkPlaceholders(params.ExpressionAttributeNames, params.ExpressionAttributeValues, params.ConditionExpression); err != nil {
		return nil, err
	}
	ok, err := condition(params.ConditionExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues, t[k])
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
	}
	t[k] = clone(params.Item)
	return &dynamodb.PutItemOutput{}, nil
}

// DeleteItem implements the DynamoDB DeleteItem call.
func (f *Fake) DeleteItem(_ context.Context, params *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("DeleteItem"); err != nil {
		return nil, err
	}
	t, err := f.table(params.TableName)
	if err != nil {
		return nil, err
	}
	k, err := itemKey(params.Key)
	if err != nil {
		return nil, err
	}
	out := &dynamodb.DeleteItemOutput{}
	if old, ok := t[k]; ok {
		if params.ReturnValues == types.ReturnValueAllOld {
			out.Attributes = old
		}
		delete(t, k)
	}
	return out, nil
}

// BatchGetItem implements the DynamoDB BatchGetItem call.
func (f *Fake) BatchGetItem(_ context.Context, params *dynamodb.BatchGetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("BatchGetItem"); err != nil {
		return nil, err
	}

	total := 0
	for _, ka := range params.RequestItems {
		total += len(ka.Keys)
	}
	if total == 0 {
		return nil, validation("1 validation error detected: Value at 'requestItems' failed to satisfy constraint")
	}
	if total > MaxItems {
		return nil, validation("Too many items requested for the BatchGetItem call")
	}

	out := &dynamodb.BatchGetItemOutput{
		Responses:       map[string][]map[string]types.AttributeValue{},
		UnprocessedKeys: map[string]types.KeysAndAttributes{},
	}
	partial := f.UnprocessedRounds > 0
	if partial {
		f.UnprocessedRounds--
	}

	for name, ka := range params.RequestItems {
		t, err := f.table(aws.String(name))
		if err != nil {
			return nil, err
		}
		seen := map[string]bool{}
		keys := ka.Keys
		if partial && len(keys) > 1 {
			half := len(keys) / 2
			out.UnprocessedKeys[name] = types.KeysAndAttributes{Keys: keys[half:], ConsistentRead: ka.ConsistentRead}
			keys = keys[:half]
		}
		for _, key := range ka.Keys {
			k, err := itemKey(key)
			if err != nil {
				return nil, err
			}
			if seen[k] {
				return nil, validation("Provided list of item keys contains duplicates")
			}
			seen[k] = true
		}
		for _, key := range keys {
			k, _ := itemKey(key)
			if item, ok := t[k]; ok {
				out.Responses[name] = append(out.Responses[name], clone(item))
			}
		}
	}
	return out, nil
}

// TransactWriteItems implements the DynamoDB TransactWriteItems call. Puts and
// deletes are applied all-or-nothing; a failed condition cancels the
// transaction with one reason per item.
func (f *Fake) TransactWriteItems(_ context.Context, params *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("TransactWriteItems"); err != nil {
		return nil, err
	}

	n := len(params.TransactItems)
	if n == 0 || n > MaxItems {
		return nil, validation(fmt.Sprintf("Member must have length less than or equal to %d, got %d", MaxItems, n))
	}

	type write struct {
		table map[string]map[string]types.AttributeValue
		key   string
		item  map[string]types.AttributeValue // nil deletes
	}
	writes := make([]write, n)
	reasons := make([]types.CancellationReason, n)
	cancelled := false
	seen := map[string]bool{}

	for i, ti := range params.TransactItems {
		var (
			tableName *string
			keyAttrs  map[string]types.AttributeValue
			item      map[string]types.AttributeValue
			cond      *string
			names     map[string]string
			values    map[string]types.AttributeValue
		)
		switch {
		case ti.Put != nil:
			tableName, keyAttrs, item = ti.Put.TableName, ti.Put.Item, ti.Put.Item
			cond, names, values = ti.Put.ConditionExpression, ti.Put.ExpressionAttributeNames, ti.Put.ExpressionAttributeValues
		case ti.Delete != nil:
			tableName, keyAttrs = ti.Delete.TableName, ti.Delete.Key
			cond, names, values = ti.Delete.ConditionExpression, ti.Delete.ExpressionAttributeNames, ti.Delete.ExpressionAttributeValues
		default:
			return nil, validation("only Put and Delete are supported")
		}

		t, err := f.table(tableName)
		if err != nil {
			return nil, err
		}
		k, err := itemKey(keyAttrs)
		if err != nil {
			return nil, err
		}
		if seen[aws.ToString(tableName)+"|"+k] {
			return nil, validation("Transaction request cannot include multiple operations on one item")
		}
		seen[aws.ToString(tableName)+"|"+k] = true
		if err := checkPlaceholders(names, values, cond); err != nil {
			return nil, err
		}

		ok, err := condition(cond, names, values, t[k])
		if err != nil {
			return nil, err
		}
		if ok {
			reasons[i] = types.CancellationReason{Code: aws.String("None")}
		} else {
			cancelled = true
			reasons[i] = types.CancellationReason{
				Code:    aws.String("ConditionalCheckFailed"),
				Message: aws.String("The conditional request failed"),
			}
		}
		writes[i] = write{table: t, key: k, item: item}
	}

	f.transactSizes = append(f.transactSizes, n)

	if cancelled {
		codes := make([]string, n)
		for i, r := range reasons {
			codes[i] = aws.ToString(r.Code)
		}
		return nil, &types.TransactionCanceledException{
			Message:             aws.String("Transaction cancelled, please refer cancellation reasons for specific reasons [" + strings.Join(codes, ", ") + "]"),
			CancellationReasons: reasons,
		}
	}

	for _, w := range writes {
		if w.item == nil {
			delete(w.table, w.key)
		} else {
			w.table[w.key] = clone(w.item)
		}
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

// Query implements the DynamoDB Query call. The key condition is evaluated
// like a filter over the whole table.
func (f *Fake) Query(_ context.Context, params *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("Query"); err != nil {
		return nil, err
	}
	if params.KeyConditionExpression == nil {
		return nil, validation("Either the KeyConditions or KeyConditionExpression parameter must be specified")
	}

	p, err := f.page(pageRequest{
		table:      params.TableName,
		key:        params.KeyConditionExpression,
		filter:     params.FilterExpression,
		projection: params.ProjectionExpression,
		names:      params.ExpressionAttributeNames,
		values:     params.ExpressionAttributeValues,
		start:      params.ExclusiveStartKey,
		count:      params.Select == types.SelectCount,
	})
	if err != nil {
		return nil, err
	}
	return &dynamodb.QueryOutput{
		Items:            p.items,
		Count:            p.count,
		ScannedCount:     p.scanned,
		LastEvaluatedKey: p.last,
	}, nil
}

// Scan implements the DynamoDB Scan call.
func (f *Fake) Scan(_ context.Context, params *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("Scan"); err != nil {
		return nil, err
	}

	p, err := f.page(pageRequest{
		table:      params.TableName,
		filter:     params.FilterExpression,
		projection: params.ProjectionExpression,
		names:      params.ExpressionAttributeNames,
		values:     params.ExpressionAttributeValues,
		start:      params.ExclusiveStartKey,
		count:      params.Select == types.SelectCount,
	})
	if err != nil {
		return nil, err
	}
	return &dynamodb.ScanOutput{
		Items:            p.items,
		Count:            p.count,
		ScannedCount:     p.scanned,
		LastEvaluatedKey: p.last,
	}, nil
}

type pageRequest struct {
	table      *string
	key        *string
	filter     *string
	projection *string
	names      map[string]string
	values     map[string]types.AttributeValue
	start      map[string]types.AttributeValue
	count      bool
}

type pageResult struct {
	items   []map[string]types.AttributeValue
	count   int32
	scanned int32
	last    map[string]types.AttributeValue
}

// page evaluates one page of up to PageSize items in key order, starting after
// the exclusive start key. Filters apply after the page is read.
func (f *Fake) page(req pageRequest) (pageResult, error) {
	t, err := f.table(req.table)
	if err != nil {
		return pageResult{}, err
	}
	if err := checkPlaceholders(req.names, req.values, req.key, req.filter, req.projection); err != nil {
		return pageResult{}, err
	}

	var candidates []string
	for _, k := range sortedKeys(t) {
		ok, err := condition(req.key, req.names, req.values, t[k])
		if err != nil {
			return pageResult{}, err
		}
		if ok {
			candidates = append(candidates, k)
		}
	}

	if req.start != nil {
		startKey, err := itemKey(req.start)
		if err != nil {
			return pageResult{}, err
		}
		i := sort.SearchStrings(candidates, startKey)
		if i < len(candidates) && candidates[i] == startKey {
			i++
		}
		candidates = candidates[i:]
	}

	size := f.PageSize
	if size < 1 {
		size = DefaultPageSize
	}

	var res pageResult
	if len(candidates) > size {
		last := t[candidates[size-1]]
		res.last = map[string]types.AttributeValue{hashKey: last[hashKey], rangeKey: last[rangeKey]}
		candidates = candidates[:size]
	}
	res.scanned = int32(len(candidates))

	projected, err := projection(req.projection, req.names)
	if err != nil {
		return pageResult{}, err
	}
	for _, k := range candidates {
		ok, err := condition(req.filter, req.names, req.values, t[k])
		if err != nil {
			return pageResult{}, err
		}
		if !ok {
			continue
		}
		res.count++
		if !req.count {
			res.items = append(res.items, project(t[k], projected))
		}
	}
	return res, nil
}

// condition evaluates an optional expression; an absent expression holds.
func condition(expr *string, names map[string]string, values map[string]types.AttributeValue, item map[string]types.AttributeValue) (bool, error) {
	if expr == nil || *expr == "" {
		return true, nil
	}
	ok, err := evaluate(*expr, names, values, item)
	if err != nil {
		return false, validation("Invalid expression: " + err.Error())
	}
	return ok, nil
}

// checkPlaceholders rejects expression attribute names and values that no
// expression uses.
func checkPlaceholders(names map[string]string, values map[string]types.AttributeValue, exprs ...*string) error {
	used, err := placeholders(exprs...)
	if err != nil {
		return validation("Invalid expression: " + err.Error())
	}
	for name := range names {
		if !used[name] {
			return validation("Value provided in ExpressionAttributeNames unused in expressions: keys: {" + name + "}")
		}
	}
	for value := range values {
		if !used[value] {
			return validation("Value provided in ExpressionAttributeValues unused in expressions: keys: {" + value + "}")
		}
	}
	return nil
}

// projection resolves a top-level projection expression to attribute names.
func projection(expr *string, names map[string]string) ([]string, error) {
	if expr == nil || *expr == "" {
		return nil, nil
	}
	var attrs []string
	for _, part := range strings.Split(*expr, ",") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(part, "#") {
			name, ok := names[part]
			if !ok {
				return nil, validation("Invalid ProjectionExpression: name " + part + " is not defined")
			}
			part = name
		}
		attrs = append(attrs, part)
	}
	return attrs, nil
}

func project(item map[string]types.AttributeValue, attrs []string) map[string]types.AttributeValue {
	if attrs == nil {
		return clone(item)
	}
	out := make(map[string]types.AttributeValue, len(attrs))
	for _, a := range attrs {
		if v, ok := item[a]; ok {
			out[a] = v
		}
	}
	return out
}

// itemKey returns the sortable storage key for an item or primary key.
func itemKey(attrs map[string]types.AttributeValue) (string, error) {
	pk, ok1 := attrs[hashKey].(*types.AttributeValueMemberS)
	id, ok2 := attrs[rangeKey].(*types.AttributeValueMemberS)
	if !ok1 || !ok2 {
		return "", validation("One of the required keys was not given a value")
	}
	return pk.Value + "\x00" + id.Value, nil
}

func sortedKeys(t map[string]map[string]types.AttributeValue) []string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func clone(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

func validation(msg string) error {
	return &smithy.GenericAPIError{Code: "ValidationException", Message: msg}
}
