// Package stream provides DynamoDB Streams handlers that keep the table
// consistent after deletes.
//
// Devices refer to their place by id. When a Place item is removed, every
// device still pointing at it is moved to the fallback place so no device is
// left referring to a place that no longer exists.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jacentio/homeapi/internal/keys"
	"github.com/jacentio/homeapi/store"
)

const (
	// DefaultFallbackPlace receives the devices of a removed place.
	DefaultFallbackPlace = "unknown"

	// scanPageSize is the page size used to walk the device collection.
	scanPageSize = 100

	eventRemove = "REMOVE"
)

// Store is the subset of store.Store used by the handler.
type Store interface {
	QueryByPartition(ctx context.Context, pk string, token store.Token, pageSize int32) (store.Page, error)
	PutItem(ctx context.Context, e store.Entity) error
}

// Handler processes DynamoDB stream events for place removal.
type Handler struct {
	store    Store
	fallback string
	logger   *slog.Logger
	now      func() time.Time
}

// NewHandler creates a new stream handler. An empty fallback uses
// DefaultFallbackPlace.
func NewHandler(s Store, fallback string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if fallback == "" {
		fallback = DefaultFallbackPlace
	}
	return &Handler{
		store:    s,
		fallback: fallback,
		logger:   logger,
		now:      time.Now,
	}
}

// HandlePlaceRemoval processes a batch of stream records. It is designed to be
// used as an AWS Lambda handler; returning an error makes Lambda retry the batch.
func (h *Handler) HandlePlaceRemoval(ctx context.Context, event events.DynamoDBEvent) error {
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
	if record.EventName != eventRemove {
		return nil
	}

	key, ok := streamKey(record.Change.Keys)
	if !ok {
		return nil
	}
	kind, id, err := keys.Decode(key.PK, key.SK)
	if err != nil {
		h.logger.Debug("ignoring unrecognised key", "pk", key.PK, "sk", key.SK)
		return nil
	}

	switch kind {
	case keys.KindPlace:
		if id == h.fallback {
			return nil
		}
		return h.reassignDevices(ctx, id)
	case keys.KindAPIKey:
		// TTL removals arrive with the expiry still on the old image.
		if ttl := getNumberAttr(record.Change.OldImage, store.AttrTTL); ttl != 0 {
			h.logger.Info("expired api key removed",
				"name", getStringAttr(record.Change.OldImage, "name"),
				"ttl", ttl,
			)
		}
	}
	return nil
}

// reassignDevices moves every device at place to the fallback place. Devices
// already moved are skipped, so a retried batch is harmless.
func (h *Handler) reassignDevices(ctx context.Context, place string) error {
	h.logger.Info("processing place removal", "place", place, "fallback", h.fallback)

	moved := 0
	var token store.Token
	for {
		page, err := h.store.QueryByPartition(ctx, keys.DevicePartition, token, scanPageSize)
		if err != nil {
			return fmt.Errorf("query devices: %w", err)
		}
		for _, item := range page.Items {
			d, ok := item.(*store.Device)
			if !ok || d.Place != place {
				continue
			}
			d.Place = h.fallback
			now := h.now().UTC()
			d.UpdatedAt = &now
			if err := h.store.PutItem(ctx, d); err != nil {
				return fmt.Errorf("reassign device %s: %w", d.ID, err)
			}
			moved++
		}
		if page.Next == nil {
			break
		}
		token = page.Next
	}

	h.logger.Info("place removal completed",
		"place", place,
		"devicesMoved", moved,
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

// getNumberAttr extracts a number attribute from a DynamoDB stream image.
func getNumberAttr(image map[string]events.DynamoDBAttributeValue, key string) int64 {
	if v, ok := image[key]; ok {
		if v.DataType() == events.DataTypeNumber {
			n, _ := strconv.ParseInt(v.Number(), 10, 64)
			return n
		}
	}
	return 0
}

// streamKey converts the key of a stream record to a table key. It reports
// false unless both pk and sk are present as strings.
func streamKey(image map[string]events.DynamoDBAttributeValue) (keys.Key, bool) {
	pk := getStringAttr(image, "pk")
	sk := getStringAttr(image, "sk")
	if pk == "" || sk == "" {
		return keys.Key{}, false
	}
	return keys.Key{PK: pk, SK: sk}, true
}
