package store_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitallinguistics/database/internal/dynamotest"
	"github.com/digitallinguistics/database/schema"
	"github.com/digitallinguistics/database/store"
)

var _ store.API = (*dynamotest.Fake)(nil)

// --- fixtures ---

func newStore(t *testing.T, configure ...func(*store.Config)) (*store.Store, *dynamotest.Fake) {
	t.Helper()
	fake := dynamotest.New("data", "metadata")
	cfg := store.DefaultConfig()
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	for _, fn := range configure {
		fn(&cfg)
	}
	return store.New(fake, cfg), fake
}

func withBulkLimit(n int) func(*store.Config) {
	return func(c *store.Config) { c.BulkLimit = n }
}

func embedded(ids ...string) []any {
	list := make([]any, len(ids))
	for i, id := range ids {
		list[i] = map[string]any{"id": id}
	}
	return list
}

func lexeme(language string, projects ...string) store.Item {
	item := store.Item{
		"type":     "Lexeme",
		"language": map[string]any{"id": language},
		"lemma":    map[string]any{"ctm": "kap"},
	}
	if len(projects) > 0 {
		item["projects"] = embedded(projects...)
	}
	return item
}

func lexemes(n int, language string) []store.Item {
	items := make([]store.Item, n)
	for i := range items {
		items[i] = lexeme(language)
		items[i]["id"] = fmt.Sprintf("lex-%03d", i)
	}
	return items
}

func project(name string) store.Item {
	return store.Item{
		"type": "Project",
		"name": map[string]any{"eng": name},
	}
}

func language(name string, permissions map[string]any, projects ...string) store.Item {
	item := store.Item{
		"type":        "Language",
		"name":        map[string]any{"eng": name},
		"permissions": permissions,
	}
	if len(projects) > 0 {
		item["projects"] = embedded(projects...)
	}
	return item
}

// --- validation gate ---

func TestValidate_MissingType(t *testing.T) {
	s, _ := newStore(t)

	for _, item := range []store.Item{{}, {"type": 42}, {"type": "Bundle"}} {
		res := s.Validate(item)
		require.False(t, res.Valid)
		require.Len(t, res.Errors, 1)
		assert.Equal(t, "type", res.Errors[0].Property)
		assert.Equal(t, "Database items require a valid 'type' property.", res.Errors[0].Message)
		assert.Equal(t, item, res.Errors[0].Cause)
		assert.ErrorIs(t, res.Errors[0], store.ErrValidation)
	}
}

func TestValidate_MissingLanguageID(t *testing.T) {
	s, _ := newStore(t)

	for _, item := range []store.Item{
		{"type": "Lexeme"},
		{"type": "Text", "language": map[string]any{"id": 3}},
		{"type": "Lexeme", "language": "lang1"},
	} {
		res := s.Validate(item)
		require.False(t, res.Valid)
		require.Len(t, res.Errors, 1)
		assert.Equal(t, "language.id", res.Errors[0].Property)
		assert.Equal(t, "Items in the 'data' container require a 'language.id' property.", res.Errors[0].Message)
	}
}

func TestValidate_SchemaViolation(t *testing.T) {
	s, _ := newStore(t)

	res := s.Validate(store.Item{"type": "Project"})
	require.False(t, res.Valid)
	require.NotEmpty(t, res.Errors)
	assert.Equal(t, "name", res.Errors[0].Property)
}

func TestValidate_UsesDatabaseSchema(t *testing.T) {
	s, _ := newStore(t)

	// The general Language schema says nothing about permissions.
	res := s.Validate(language("Chitimacha", map[string]any{"public": "yes"}))
	require.False(t, res.Valid)
	assert.Equal(t, "/permissions/public", res.Errors[0].InstancePath)

	assert.True(t, s.Validate(language("Chitimacha", map[string]any{"public": true})).Valid)
	assert.True(t, s.Validate(lexeme("lang1")).Valid)
}

type failingValidator struct{ err error }

func (v failingValidator) Validate(string, any) ([]schema.Violation, error) {
	return nil, v.err
}

func TestValidate_ValidatorError(t *testing.T) {
	cfg := store.DefaultConfig()
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	s := store.NewWithValidator(dynamotest.New("data", "metadata"), cfg, failingValidator{err: schema.ErrUnknownSchema})

	res := s.Validate(project("Grammar"))
	require.False(t, res.Valid)
	assert.Contains(t, res.Errors[0].Message, "unknown schema")
	assert.Equal(t, schema.ID("Project"), res.Errors[0].Params["schema"])
}

// --- single-item operations ---

func TestAddOne(t *testing.T) {
	ctx := context.Background()
	s, fake := newStore(t)

	item := project("Grammar")
	resp, err := s.AddOne(ctx, store.Metadata, item)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.Status)

	created := resp.Item()
	require.NotNil(t, created)
	assert.NotEmpty(t, created.ID())
	assert.NotContains(t, item, "id", "AddOne should not mutate its argument")
	assert.Equal(t, 1, fake.Len("metadata"))

	got, err := s.GetOne(ctx, store.Metadata, "Project", created.ID())
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, got.Status)
	assert.Equal(t, created.ID(), got.Item().ID())
	assert.Equal(t, map[string]any{"eng": "Grammar"}, got.Item()["name"])
	assert.NotContains(t, got.Item(), "pk")
}

func TestAddOne_Conflict(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	first := project("First")
	first["id"] = "p1"
	second := project("Second")
	second["id"] = "p1"

	resp, err := s.AddOne(ctx, store.Metadata, first)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.Status)

	resp, err = s.AddOne(ctx, store.Metadata, second)
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.Status)
	assert.Equal(t, "Item with ID p1 already exists.", resp.Message)
	assert.Nil(t, resp.Data)
	assert.ErrorIs(t, resp.Err(), store.ErrConflict)

	got, err := s.GetOne(ctx, store.Metadata, "Project", "p1")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"eng": "First"}, got.Item()["name"])
}

func TestAddOne_InvalidItemIsNotWritten(t *testing.T) {
	s, fake := newStore(t)

	resp, err := s.AddOne(context.Background(), store.Data, store.Item{"type": "Lexeme"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Status)
	assert.Equal(t, "Validation Error: See 'errors' property for more information.", resp.Message)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, "language.id", resp.Errors[0].Property)
	assert.Zero(t, fake.Calls("PutItem"))
}

func TestAddOne_WrongContainer(t *testing.T) {
	s, fake := newStore(t)

	resp, err := s.AddOne(context.Background(), store.Metadata, lexeme("lang1"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.Status)
	assert.Equal(t, "Items of type Lexeme belong in the 'data' container.", resp.Message)
	assert.Zero(t, fake.Calls("PutItem"))
}

func TestGetOne_Missing(t *testing.T) {
	s, _ := newStore(t)

	resp, err := s.GetOne(context.Background(), store.Data, "lang1", "nope")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.Status)
	assert.Nil(t, resp.Data)
	assert.ErrorIs(t, resp.Err(), store.ErrNotFound)
}

func TestGetOne_ScopedToPartition(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	resp, err := s.AddOne(ctx, store.Data, lexeme("lang1"))
	require.NoError(t, err)
	id := resp.Item().ID()

	got, err := s.GetOne(ctx, store.Data, "lang2", id)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, got.Status)
}

func TestUpsertOne(t *testing.T) {
	ctx := context.Background()
	s, fake := newStore(t)

	item := project("Draft")
	item["id"] = "p1"
	resp, err := s.UpsertOne(ctx, store.Metadata, item)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)

	item["name"] = map[string]any{"eng": "Final"}
	resp, err = s.UpsertOne(ctx, store.Metadata, item)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)

	got, err := s.GetOne(ctx, store.Metadata, "Project", "p1")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"eng": "Final"}, got.Item()["name"])
	assert.Equal(t, 1, fake.Len("metadata"))
}

func TestUpsertOne_MissingType(t *testing.T) {
	s, fake := newStore(t)

	resp, err := s.UpsertOne(context.Background(), store.Metadata, store.Item{"name": map[string]any{"eng": "x"}})
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Status)
	assert.Equal(t, "type", resp.Errors[0].Property)
	assert.Zero(t, fake.Calls("PutItem"))
	assert.Zero(t, fake.Len("metadata"))
}

func TestGetMany_TooManyIDs(t *testing.T) {
	s, fake := newStore(t)

	ids := make([]string, store.MaxBulkLimit+1)
	for i := range ids {
		ids[i] = fmt.Sprint(i)
	}

	resp, err := s.GetMany(context.Background(), store.Data, "lang1", ids)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.Status)
	assert.Equal(t, "You can only retrieve 100 items at a time.", resp.Message)
	assert.Nil(t, resp.Data)
	assert.Zero(t, fake.Calls("BatchGetItem"))
}

func TestGetMany_MissingID(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	resp, err := s.AddMany(ctx, store.Data, "lang1", lexemes(2, "lang1"))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.Status)

	resp, err = s.GetMany(ctx, store.Data, "lang1", []string{"lex-001", "missing", "lex-000"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusMultiStatus, resp.Status)

	reads := resp.Reads()
	require.Len(t, reads, 3)
	assert.Equal(t, store.ReadResult{ID: "missing", Status: http.StatusNotFound}, reads[1])
	assert.Equal(t, "lex-001", reads[0].ID)
	assert.Equal(t, http.StatusOK, reads[0].Status)
	assert.Equal(t, "lex-001", reads[0].Data.ID())
	assert.Equal(t, "lex-000", reads[2].Data.ID())
}

func TestGetMany_DrainsUnprocessedKeys(t *testing.T) {
	ctx := context.Background()
	s, fake := newStore(t)

	_, err := s.AddMany(ctx, store.Data, "lang1", lexemes(10, "lang1"))
	require.NoError(t, err)

	ids := make([]string, 10)
	for i := range ids {
		ids[i] = fmt.Sprintf("lex-%03d", i)
	}
	fake.UnprocessedRounds = 2

	resp, err := s.GetMany(ctx, store.Data, "lang1", ids)
	require.NoError(t, err)
	for _, r := range resp.Reads() {
		assert.Equal(t, http.StatusOK, r.Status, r.ID)
	}
	assert.Equal(t, 3, fake.Calls("BatchGetItem"))
}

func TestGetMany_RepeatedIDs(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	_, err := s.AddMany(ctx, store.Data, "lang1", lexemes(1, "lang1"))
	require.NoError(t, err)

	resp, err := s.GetMany(ctx, store.Data, "lang1", []string{"lex-000", "lex-000"})
	require.NoError(t, err)
	require.Len(t, resp.Reads(), 2)
	for _, r := range resp.Reads() {
		assert.Equal(t, http.StatusOK, r.Status)
	}
}

func TestGetMany_Empty(t *testing.T) {
	s, fake := newStore(t)

	resp, err := s.GetMany(context.Background(), store.Data, "lang1", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusMultiStatus, resp.Status)
	assert.Empty(t, resp.Reads())
	assert.Zero(t, fake.Calls("BatchGetItem"))
}

func TestDeleteOne(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	resp, err := s.AddOne(ctx, store.Data, lexeme("lang1"))
	require.NoError(t, err)
	id := resp.Item().ID()

	resp, err = s.DeleteOne(ctx, store.Data, "lang1", id)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.Status)

	resp, err = s.DeleteOne(ctx, store.Data, "lang1", id)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.Status)
}

func TestUnknownContainer(t *testing.T) {
	s, _ := newStore(t)

	resp, err := s.GetOne(context.Background(), store.Container(7), "x", "y")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.Status)
}

// --- store failures ---

func TestStoreFailureIsReturnedUnmodified(t *testing.T) {
	s, fake := newStore(t)

	apiErr := &smithy.GenericAPIError{Code: "InternalServerError", Message: "boom"}
	fake.FailNext("PutItem", apiErr)

	resp, err := s.AddOne(context.Background(), store.Metadata, project("Grammar"))
	assert.Nil(t, resp)
	assert.Same(t, apiErr, err)
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusOK, store.StatusOf(nil))
	assert.Equal(t, http.StatusInternalServerError, store.StatusOf(errors.New("boom")))

	withStatus := &smithyhttp.ResponseError{
		Response: &smithyhttp.Response{Response: &http.Response{StatusCode: http.StatusServiceUnavailable}},
		Err:      errors.New("unavailable"),
	}
	assert.Equal(t, http.StatusServiceUnavailable, store.StatusOf(fmt.Errorf("get item: %w", withStatus)))
}

// --- response envelope ---

func TestResponse_Err(t *testing.T) {
	tests := []struct {
		resp *store.Response
		want error
	}{
		{&store.Response{Status: http.StatusOK}, nil},
		{&store.Response{Status: http.StatusCreated}, nil},
		{&store.Response{Status: http.StatusNoContent}, nil},
		{&store.Response{Status: http.StatusMultiStatus}, store.ErrPartialFailure},
		{&store.Response{Status: http.StatusBadRequest, Message: "bad"}, store.ErrBadRequest},
		{&store.Response{Status: http.StatusNotFound}, store.ErrNotFound},
		{&store.Response{Status: http.StatusConflict}, store.ErrConflict},
		{&store.Response{Status: http.StatusUnprocessableEntity}, store.ErrValidation},
		{&store.Response{Status: http.StatusUnprocessableEntity, Errors: []*store.ValidationError{{Message: "x"}}}, store.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.resp.Status), func(t *testing.T) {
			err := tt.resp.Err()
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

// --- metrics ---

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metric:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue metric
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestMetrics(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	s, _ := newStore(t, withBulkLimit(10), func(c *store.Config) { c.Registerer = reg })

	_, err := s.AddMany(ctx, store.Data, "lang1", lexemes(25, "lang1"))
	require.NoError(t, err)
	_, err = s.GetOne(ctx, store.Data, "lang1", "missing")
	require.NoError(t, err)

	assert.Equal(t, 1.0, counterValue(t, reg, "dlx_database_operations_total", map[string]string{"operation": "add_many", "status": "201"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "dlx_database_operations_total", map[string]string{"operation": "get_one", "status": "404"}))
	assert.Equal(t, 3.0, counterValue(t, reg, "dlx_database_batch_chunks_total", map[string]string{"operation": "add_many"}))

	// A second store on the same registry shares the collectors.
	s2, _ := newStore(t, func(c *store.Config) { c.Registerer = reg })
	_, err = s2.GetOne(ctx, store.Data, "lang1", "missing")
	require.NoError(t, err)
	assert.Equal(t, 2.0, counterValue(t, reg, "dlx_database_operations_total", map[string]string{"operation": "get_one", "status": "404"}))
}

func TestDefaultConfig(t *testing.T) {
	cfg := store.DefaultConfig()

	assert.Equal(t, "data", cfg.DataTable)
	assert.Equal(t, "metadata", cfg.MetadataTable)
	assert.Equal(t, store.MaxBulkLimit, cfg.BulkLimit)
	assert.NotNil(t, cfg.Registry)

	s := store.New(nil, store.Config{BulkLimit: 1000})
	assert.Equal(t, store.MaxBulkLimit, s.BulkLimit())
	assert.NotNil(t, s.Registry())
}
