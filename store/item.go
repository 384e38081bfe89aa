package store

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
)

// Attribute names written by the store and stripped on read.
const (
	partitionAttr  = "pk"
	idAttr         = "id"
	projectIDsAttr = "_project_ids"
)

// PK represents a DynamoDB primary key.
type PK map[string]types.AttributeValue

// key returns the primary key for an item in either container.
func key(partitionKey, id string) PK {
	return PK{
		partitionAttr: &types.AttributeValueMemberS{Value: partitionKey},
		idAttr:        &types.AttributeValueMemberS{Value: id},
	}
}

// Item is a semi-structured database document.
// Every item has a "type" discriminator and an "id".
type Item map[string]any

// Type returns the item's "type" property, or "" if absent or not a string.
func (i Item) Type() string {
	s, _ := i["type"].(string)
	return s
}

// ID returns the item's "id" property, or "" if absent or not a string.
func (i Item) ID() string {
	s, _ := i[idAttr].(string)
	return s
}

// LanguageID returns the item's "language.id" property.
func (i Item) LanguageID() (string, bool) {
	return lookupString(i, "language", "id")
}

// lookupString walks nested maps along path and returns the string at the end.
func lookupString(v any, path ...string) (string, bool) {
	for _, field := range path {
		switch m := v.(type) {
		case Item:
			v = m[field]
		case map[string]any:
			v = m[field]
		case map[string]string:
			s, ok := m[field]
			if !ok {
				return "", false
			}
			v = s
		default:
			return "", false
		}
	}
	s, ok := v.(string)
	return s, ok
}

// partitionValue returns the partition key value an item is stored under.
func partitionValue(container Container, item Item) (string, bool) {
	switch container {
	case Data:
		return item.LanguageID()
	case Metadata:
		t := item.Type()
		return t, t != ""
	default:
		return "", false
	}
}

// projectIDs extracts the ids of the item's embedded "projects" collection.
func projectIDs(item Item) []string {
	var list []any
	switch p := item["projects"].(type) {
	case []any:
		list = p
	case []map[string]any:
		for _, m := range p {
			list = append(list, m)
		}
	case []Item:
		for _, m := range p {
			list = append(list, m)
		}
	default:
		return nil
	}

	var ids []string
	for _, project := range list {
		if id, ok := lookupString(project, "id"); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// withID returns a shallow copy of item with an id assigned if it has none.
func withID(item Item) Item {
	body := make(Item, len(item)+1)
	for k, v := range item {
		body[k] = v
	}
	if body.ID() == "" {
		body[idAttr] = uuid.NewString()
	}
	return body
}

// marshalItem converts an item to its stored form under partitionKey.
func marshalItem(item Item, partitionKey string) (map[string]types.AttributeValue, error) {
	raw, err := attributevalue.MarshalMap(map[string]any(item))
	if err != nil {
		return nil, fmt.Errorf("marshal item %s: %w", item.ID(), err)
	}

	raw[partitionAttr] = &types.AttributeValueMemberS{Value: partitionKey}
	delete(raw, projectIDsAttr)
	if ids := projectIDs(item); len(ids) > 0 {
		list := make([]types.AttributeValue, len(ids))
		for i, id := range ids {
			list[i] = &types.AttributeValueMemberS{Value: id}
		}
		raw[projectIDsAttr] = &types.AttributeValueMemberL{Value: list}
	}

	return raw, nil
}

// unmarshalItem converts a stored DynamoDB item back to an Item.
func unmarshalItem(raw map[string]types.AttributeValue) (Item, error) {
	var m map[string]any
	if err := attributevalue.UnmarshalMap(raw, &m); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	if m == nil {
		m = map[string]any{}
	}
	delete(m, partitionAttr)
	delete(m, projectIDsAttr)
	return Item(m), nil
}

// stringAttr extracts a string attribute from a raw DynamoDB item.
func stringAttr(raw map[string]types.AttributeValue, name string) string {
	if v, ok := raw[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}
