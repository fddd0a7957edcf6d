package stream_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/homeapi/store"
	"github.com/jacentio/homeapi/store/storetest"
	"github.com/jacentio/homeapi/stream"
)

func newStore(t *testing.T) (*store.Store, *storetest.Client) {
	t.Helper()
	client := storetest.NewClient()
	client.AddIndex("user_email-index", "user_email")
	cfg := store.DefaultConfig()
	cfg.RetryBaseDelay = time.Millisecond
	return store.New(client, cfg), client
}

func putDevice(t *testing.T, s *store.Store, id, place string) {
	t.Helper()
	if err := s.PutItem(context.Background(), &store.Device{ID: id, Name: id, Place: place}); err != nil {
		t.Fatalf("put device %s: %v", id, err)
	}
}

func placeRemoved(id string) events.DynamoDBEventRecord {
	return events.DynamoDBEventRecord{
		EventID:   "evt-" + id,
		EventName: "REMOVE",
		Change: events.DynamoDBStreamRecord{
			Keys: map[string]events.DynamoDBAttributeValue{
				"pk": events.NewStringAttribute("PLACE"),
				"sk": events.NewStringAttribute(id),
			},
			OldImage: map[string]events.DynamoDBAttributeValue{
				"pk":   events.NewStringAttribute("PLACE"),
				"sk":   events.NewStringAttribute(id),
				"name": events.NewStringAttribute(id),
			},
		},
	}
}

func TestNewHandler(t *testing.T) {
	h := stream.NewHandler(nil, "", nil)
	if h == nil {
		t.Fatal("expected non-nil Handler")
	}
}

// Ensure *store.Store satisfies the handler's store interface.
var _ stream.Store = (*store.Store)(nil)

func TestHandlePlaceRemoval_ReassignsDevices(t *testing.T) {
	s, _ := newStore(t)
	putDevice(t, s, "fridge", "kitchen")
	putDevice(t, s, "kettle", "kitchen")
	putDevice(t, s, "tv", "lounge")

	h := stream.NewHandler(s, "", nil)
	err := h.HandlePlaceRemoval(context.Background(), events.DynamoDBEvent{
		Records: []events.DynamoDBEventRecord{placeRemoved("kitchen")},
	})
	if err != nil {
		t.Fatalf("HandlePlaceRemoval() error: %v", err)
	}

	for _, id := range []string{"fridge", "kettle"} {
		d, err := s.GetDevice(context.Background(), id)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		if d.Place != stream.DefaultFallbackPlace {
			t.Errorf("expected %s at %q, got %q", id, stream.DefaultFallbackPlace, d.Place)
		}
		if d.UpdatedAt == nil {
			t.Errorf("expected %s to have updatedAt set", id)
		}
	}

	tv, err := s.GetDevice(context.Background(), "tv")
	if err != nil {
		t.Fatalf("get tv: %v", err)
	}
	if tv.Place != "lounge" {
		t.Errorf("expected tv to stay in lounge, got %q", tv.Place)
	}
	if tv.UpdatedAt != nil {
		t.Error("expected tv to be untouched")
	}
}

func TestHandlePlaceRemoval_CustomFallback(t *testing.T) {
	s, _ := newStore(t)
	putDevice(t, s, "lamp", "attic")

	h := stream.NewHandler(s, "storage", nil)
	if err := h.HandlePlaceRemoval(context.Background(), events.DynamoDBEvent{
		Records: []events.DynamoDBEventRecord{placeRemoved("attic")},
	}); err != nil {
		t.Fatalf("HandlePlaceRemoval() error: %v", err)
	}

	d, err := s.GetDevice(context.Background(), "lamp")
	if err != nil {
		t.Fatalf("get lamp: %v", err)
	}
	if d.Place != "storage" {
		t.Errorf("expected lamp in storage, got %q", d.Place)
	}
}

func TestHandlePlaceRemoval_SpansPages(t *testing.T) {
	s, client := newStore(t)
	client.MaxPageItems = 7
	for i := 0; i < 250; i++ {
		place := "garage"
		if i%2 == 0 {
			place = "shed"
		}
		putDevice(t, s, fmt.Sprintf("device-%03d", i), place)
	}

	h := stream.NewHandler(s, "", nil)
	if err := h.HandlePlaceRemoval(context.Background(), events.DynamoDBEvent{
		Records: []events.DynamoDBEventRecord{placeRemoved("shed")},
	}); err != nil {
		t.Fatalf("HandlePlaceRemoval() error: %v", err)
	}

	counts := map[string]int{}
	var token store.Token
	for {
		page, err := s.QueryByPartition(context.Background(), "DEVICE", token, 100)
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		for _, item := range page.Items {
			counts[item.(*store.Device).Place]++
		}
		if page.Next == nil {
			break
		}
		token = page.Next
	}

	if counts["shed"] != 0 {
		t.Errorf("expected no devices left in shed, got %d", counts["shed"])
	}
	if counts[stream.DefaultFallbackPlace] != 125 {
		t.Errorf("expected 125 devices moved, got %d", counts[stream.DefaultFallbackPlace])
	}
	if counts["garage"] != 125 {
		t.Errorf("expected 125 devices in garage, got %d", counts["garage"])
	}
}

func TestHandlePlaceRemoval_Idempotent(t *testing.T) {
	s, client := newStore(t)
	putDevice(t, s, "fridge", "kitchen")

	h := stream.NewHandler(s, "", nil)
	event := events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{placeRemoved("kitchen")}}
	if err := h.HandlePlaceRemoval(context.Background(), event); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	puts := client.Calls(storetest.OpPutItem)

	if err := h.HandlePlaceRemoval(context.Background(), event); err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	if got := client.Calls(storetest.OpPutItem); got != puts {
		t.Errorf("expected no writes on redelivery, got %d extra", got-puts)
	}
}

func TestHandlePlaceRemoval_StorageErrorRetriesBatch(t *testing.T) {
	s, client := newStore(t)
	putDevice(t, s, "fridge", "kitchen")

	throttled := &types.ProvisionedThroughputExceededException{}
	client.Fail(storetest.OpQuery, throttled, throttled, throttled, throttled)

	h := stream.NewHandler(s, "", nil)
	err := h.HandlePlaceRemoval(context.Background(), events.DynamoDBEvent{
		Records: []events.DynamoDBEventRecord{placeRemoved("kitchen")},
	})
	if err == nil {
		t.Fatal("expected error so the batch is retried")
	}
	if !errors.Is(err, store.ErrStorage) {
		t.Errorf("expected ErrStorage, got %v", err)
	}
}

func TestHandlePlaceRemoval_IgnoresOtherRecords(t *testing.T) {
	s, client := newStore(t)
	putDevice(t, s, "fridge", "kitchen")

	deviceRemoved := placeRemoved("fridge")
	deviceRemoved.Change.Keys["pk"] = events.NewStringAttribute("DEVICE")

	inserted := placeRemoved("kitchen")
	inserted.EventName = "INSERT"

	h := stream.NewHandler(s, "", nil)
	if err := h.HandlePlaceRemoval(context.Background(), events.DynamoDBEvent{
		Records: []events.DynamoDBEventRecord{deviceRemoved, inserted, placeRemoved(stream.DefaultFallbackPlace)},
	}); err != nil {
		t.Fatalf("HandlePlaceRemoval() error: %v", err)
	}
	if got := client.Calls(storetest.OpQuery); got != 0 {
		t.Errorf("expected no queries, got %d", got)
	}
}
