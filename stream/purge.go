// Package stream provides DynamoDB Streams handlers for the metadata table.
package stream

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"

	"github.com/digitallinguistics/database/store"
)

// Purger deletes every item stored under one partition of a container.
// *store.Store satisfies it.
type Purger interface {
	ClearPartition(ctx context.Context, container store.Container, partitionKey string) (*store.Response, error)
}

// Handler removes the data partition of a language once the language
// itself is deleted from the metadata container.
type Handler struct {
	purger Purger
	logger *slog.Logger
}

// NewHandler creates a new stream handler.
func NewHandler(p Purger, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		purger: p,
		logger: logger,
	}
}

// HandleLanguagePurge processes metadata stream events and clears the data
// partition of every removed Language.
// This function is designed to be used as an AWS Lambda handler.
func (h *Handler) HandleLanguagePurge(ctx context.Context, event events.DynamoDBEvent) error {
	for _, record := range event.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process record",
				"eventID", record.EventID,
				"error", err,
			)
			return err
		}
	}
	return nil
}

func (h *Handler) processRecord(ctx context.Context, record events.DynamoDBEventRecord) error {
	if record.EventName != string(events.DynamoDBOperationTypeRemove) {
		return nil
	}

	// KEYS_ONLY streams carry no old image. Metadata items are partitioned
	// by type, so the key alone identifies a language.
	image := record.Change.OldImage
	itemType := getStringAttr(image, "type")
	if itemType == "" {
		itemType = getStringAttr(record.Change.Keys, "pk")
	}
	if itemType != store.TypeLanguage {
		return nil
	}

	languageID := getStringAttr(record.Change.Keys, "id")
	if languageID == "" {
		languageID = getStringAttr(image, "id")
	}
	if languageID == "" {
		h.logger.Warn("removed language has no id", "eventID", record.EventID)
		return nil
	}

	h.logger.Info("purging language data",
		"language", languageID,
		"projects", getStringListAttr(image, "_project_ids"),
	)

	resp, err := h.purger.ClearPartition(ctx, store.Data, languageID)
	if err != nil {
		return fmt.Errorf("clear partition %s: %w", languageID, err)
	}
	if err := resp.Err(); err != nil {
		return fmt.Errorf("clear partition %s: %w", languageID, err)
	}

	deleted := 0
	if c, ok := resp.Data.(store.CountResult); ok {
		deleted = c.Count
	}
	h.logger.Info("language data purged",
		"language", languageID,
		"deleted", deleted,
	)
	return nil
}

// getStringAttr extracts a string attribute from a DynamoDB stream image.
func getStringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeString {
		return v.String()
	}
	return ""
}

// getStringListAttr extracts a string list attribute from a DynamoDB stream image.
func getStringListAttr(image map[string]events.DynamoDBAttributeValue, key string) []string {
	v, ok := image[key]
	if !ok {
		return nil
	}
	switch v.DataType() {
	case events.DataTypeList:
		var result []string
		for _, item := range v.List() {
			if item.DataType() == events.DataTypeString {
				result = append(result, item.String())
			}
		}
		return result
	case events.DataTypeStringSet:
		return v.StringSet()
	}
	return nil
}
