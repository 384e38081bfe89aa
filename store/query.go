package store

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// query is a filtered read over one container. Caller values are only ever
// bound as expression attribute values; attribute names always go through
// placeholders, since several (type, public, language) are reserved words.
type query struct {
	container    Container
	keyCondition string
	filters      []string
	names        map[string]string
	values       map[string]types.AttributeValue
}

// newQuery starts a query for items of one type. The type predicate is always
// present; in the metadata container it is also the key condition.
func (s *Store) newQuery(itemType string) (*query, error) {
	container, ok := s.registry.Container(itemType)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, itemType)
	}

	q := &query{
		container: container,
		names:     map[string]string{"#type": "type"},
		values:    map[string]types.AttributeValue{":type": stringValue(itemType)},
	}
	q.where("#type = :type")
	if container == Metadata {
		q.names["#pk"] = partitionAttr
		q.keyCondition = "#pk = :type"
	}
	return q, nil
}

func (q *query) where(expr string) {
	q.filters = append(q.filters, expr)
}

// withLanguage keeps items whose language.id matches. In the data container the
// language is the partition key, so the read becomes a single-partition Query.
func (q *query) withLanguage(language string) *query {
	if language == "" {
		return q
	}
	q.values[":language"] = stringValue(language)
	if q.container == Data {
		q.names["#pk"] = partitionAttr
		q.keyCondition = "#pk = :language"
		return q
	}
	q.names["#language"] = "language"
	q.names["#languageId"] = "id"
	q.where("#language.#languageId = :language")
	return q
}

// withProject keeps items whose embedded projects include project.
func (q *query) withProject(project string) *query {
	if project == "" {
		return q
	}
	q.names["#projectIds"] = projectIDsAttr
	q.values[":project"] = stringValue(project)
	q.where("contains(#projectIds, :project)")
	return q
}

// withPermissions keeps items on which user holds an explicit role.
func (q *query) withPermissions(user string) *query {
	if user == "" {
		return q
	}
	q.values[":permissions"] = stringValue(user)
	q.where("(" + q.roles(":permissions") + ")")
	return q
}

// withPublic keeps only public items when public is set.
func (q *query) withPublic(public bool) *query {
	if !public {
		return q
	}
	return q.withPublicOnly()
}

func (q *query) withPublicOnly() *query {
	q.where(q.public() + " = :true")
	return q
}

// withUser keeps items user can view: public ones and those on which the user
// holds a role.
func (q *query) withUser(user string) *query {
	if user == "" {
		return q
	}
	q.values[":user"] = stringValue(user)
	q.where("(" + q.public() + " = :true OR " + q.roles(":user") + ")")
	return q
}

func (q *query) public() string {
	q.names["#permissions"] = "permissions"
	q.names["#public"] = "public"
	q.values[":true"] = &types.AttributeValueMemberBOOL{Value: true}
	return "#permissions.#public"
}

// roles returns a disjunction testing whether the value bound to placeholder
// appears in any permission role.
func (q *query) roles(placeholder string) string {
	q.names["#permissions"] = "permissions"
	roles := []string{"admins", "editors", "viewers"}
	checks := make([]string, len(roles))
	for i, role := range roles {
		q.names["#"+role] = role
		checks[i] = fmt.Sprintf("contains(#permissions.#%s, %s)", role, placeholder)
	}
	return strings.Join(checks, " OR ")
}

func (q *query) filterExpression() *string {
	if len(q.filters) == 0 {
		return nil
	}
	return aws.String(strings.Join(q.filters, " AND "))
}

// pages runs the query to exhaustion, passing each page to visit.
func (s *Store) pages(ctx context.Context, q *query, sel types.Select, visit func(items []map[string]types.AttributeValue, count int32)) error {
	table := aws.String(s.table(q.container))

	if q.keyCondition != "" {
		paginator := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
			TableName:                 table,
			KeyConditionExpression:    aws.String(q.keyCondition),
			FilterExpression:          q.filterExpression(),
			ExpressionAttributeNames:  q.names,
			ExpressionAttributeValues: q.values,
			Select:                    sel,
		})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return err
			}
			visit(page.Items, page.Count)
		}
		return nil
	}

	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName:                 table,
		FilterExpression:          q.filterExpression(),
		ExpressionAttributeNames:  q.names,
		ExpressionAttributeValues: q.values,
		Select:                    sel,
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return err
		}
		visit(page.Items, page.Count)
	}
	return nil
}

// list returns every item matching q.
func (s *Store) list(ctx context.Context, q *query) (*Response, error) {
	items := []Item{}
	var decodeErr error
	err := s.pages(ctx, q, "", func(page []map[string]types.AttributeValue, _ int32) {
		for _, raw := range page {
			if decodeErr != nil {
				return
			}
			item, err := unmarshalItem(raw)
			if err != nil {
				decodeErr = err
				return
			}
			items = append(items, item)
		}
	})
	if err != nil {
		return nil, err
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	return &Response{Status: http.StatusOK, Data: items}, nil
}

// CountOptions filters Count.
type CountOptions struct {
	// Language restricts the count to items whose language.id matches.
	Language string

	// Project restricts the count to items whose embedded projects include this id.
	Project string
}

// Count returns the number of items of a type. An unknown type yields 400.
func (s *Store) Count(ctx context.Context, itemType string, opts CountOptions) (*Response, error) {
	resp, err := s.count(ctx, itemType, opts)
	return s.finish("count", resp, err)
}

func (s *Store) count(ctx context.Context, itemType string, opts CountOptions) (*Response, error) {
	q, err := s.newQuery(itemType)
	if err != nil {
		return badRequest("Cannot count items of unknown type %q.", itemType), nil
	}
	q.withLanguage(opts.Language).withProject(opts.Project)

	total := 0
	err = s.pages(ctx, q, types.SelectCount, func(_ []map[string]types.AttributeValue, count int32) {
		total += int(count)
	})
	if err != nil {
		return nil, err
	}
	return &Response{Status: http.StatusOK, Data: CountResult{Count: total}}, nil
}

func stringValue(s string) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: s}
}
