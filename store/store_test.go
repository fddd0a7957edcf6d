package store_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/homeapi/internal/keys"
	"github.com/jacentio/homeapi/store"
	"github.com/jacentio/homeapi/store/storetest"
)

func newStore(t *testing.T) (*store.Store, *storetest.Client) {
	t.Helper()
	client := storetest.NewClient()
	client.AddIndex("user_email-index", "user_email")
	cfg := store.DefaultConfig()
	cfg.RetryBaseDelay = time.Millisecond
	return store.New(client, cfg), client
}

func apiKey(material, owner, name string) *store.APIKey {
	return &store.APIKey{
		Hash:       keys.HashAPIKey(material),
		OwnerEmail: owner,
		Name:       name,
		CreatedAt:  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// --- GetItem Tests ---

func TestGetItem_Missing(t *testing.T) {
	st, _ := newStore(t)

	e, err := st.GetItem(context.Background(), keys.KindDevice, "nope")
	if err != nil {
		t.Fatalf("expected no error for missing item, got %v", err)
	}
	if e != nil {
		t.Errorf("expected nil entity, got %+v", e)
	}
}

func TestGetItem_InvalidIdentifier(t *testing.T) {
	st, client := newStore(t)

	_, err := st.GetItem(context.Background(), keys.KindAPIKey, "not-a-hash")
	if !errors.Is(err, keys.ErrMalformedKey) {
		t.Errorf("expected ErrMalformedKey, got %v", err)
	}
	if client.Calls(storetest.OpGetItem) != 0 {
		t.Error("expected no request for an invalid identifier")
	}
}

func TestPutGet_Device(t *testing.T) {
	st, _ := newStore(t)
	ctx := context.Background()
	updated := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	want := &store.Device{
		ID:        "fridge",
		Name:      "Fridge",
		Place:     "Kitchen",
		Metadata:  map[string]string{"firmware": "1.2.3"},
		UpdatedAt: &updated,
	}
	if err := st.PutItem(ctx, want); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := st.GetDevice(ctx, "fridge")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("expected device, got nil")
	}
	if got.Name != "Fridge" || got.Place != "Kitchen" {
		t.Errorf("expected Fridge at Kitchen, got %s at %s", got.Name, got.Place)
	}
	if got.Metadata["firmware"] != "1.2.3" {
		t.Errorf("expected firmware '1.2.3', got %q", got.Metadata["firmware"])
	}
	if got.UpdatedAt == nil || !got.UpdatedAt.Equal(updated) {
		t.Errorf("expected updated_at %v, got %v", updated, got.UpdatedAt)
	}
}

func TestPutItem_DeviceOverwrites(t *testing.T) {
	st, _ := newStore(t)
	ctx := context.Background()

	if err := st.PutItem(ctx, &store.Device{ID: "fridge", Place: "Kitchen"}); err != nil {
		t.Fatalf("first put: %v", err)
	}
	if err := st.PutItem(ctx, &store.Device{ID: "fridge", Place: "Garage"}); err != nil {
		t.Fatalf("second put: %v", err)
	}

	got, err := st.GetDevice(ctx, "fridge")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Place != "Garage" {
		t.Errorf("expected place 'Garage', got %q", got.Place)
	}
}

func TestGetItem_CorruptRecord(t *testing.T) {
	st, client := newStore(t)
	client.Put(map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: "PLACE"},
		"sk": &types.AttributeValueMemberS{Value: "attic"},
	})

	_, err := st.GetPlace(context.Background(), "attic")
	if !errors.Is(err, store.ErrCorruptRecord) {
		t.Errorf("expected ErrCorruptRecord, got %v", err)
	}
}

// --- API Key Tests ---

func TestPutItem_APIKeyDuplicate(t *testing.T) {
	st, _ := newStore(t)
	ctx := context.Background()

	if err := st.PutItem(ctx, apiKey("material", "a@example.com", "first")); err != nil {
		t.Fatalf("first put: %v", err)
	}
	err := st.PutItem(ctx, apiKey("material", "b@example.com", "second"))
	if !errors.Is(err, store.ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}

	got, err := st.GetAPIKey(ctx, keys.HashAPIKey("material"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.OwnerEmail != "a@example.com" {
		t.Errorf("expected original owner to be kept, got %q", got.OwnerEmail)
	}
}

func TestPutItem_APIKeyStoresOwnerIndexAttribute(t *testing.T) {
	st, client := newStore(t)
	k := apiKey("material", "a@example.com", "CI key")

	if err := st.PutItem(context.Background(), k); err != nil {
		t.Fatalf("put: %v", err)
	}

	item := client.Item(k.Hash, "APIKEY")
	if item == nil {
		t.Fatal("expected item to be stored under hash/APIKEY")
	}
	owner, ok := item["user_email"].(*types.AttributeValueMemberS)
	if !ok || owner.Value != "a@example.com" {
		t.Errorf("expected user_email 'a@example.com', got %v", item["user_email"])
	}
	for attr := range item {
		if attr == "key" || attr == "plaintext" {
			t.Errorf("unexpected attribute %q", attr)
		}
	}
}

func TestTouchAPIKey(t *testing.T) {
	st, _ := newStore(t)
	ctx := context.Background()
	k := apiKey("material", "a@example.com", "CI key")
	if err := st.PutItem(ctx, k); err != nil {
		t.Fatalf("put: %v", err)
	}

	at := time.Date(2025, 6, 1, 8, 30, 0, 0, time.UTC)
	if err := st.TouchAPIKey(ctx, k.Hash, at); err != nil {
		t.Fatalf("touch: %v", err)
	}

	got, err := st.GetAPIKey(ctx, k.Hash)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.LastUsedAt == nil || !got.LastUsedAt.Equal(at) {
		t.Errorf("expected last_used_at %v, got %v", at, got.LastUsedAt)
	}
	if got.Name != "CI key" {
		t.Errorf("expected other attributes untouched, got name %q", got.Name)
	}
}

func TestTouchAPIKey_DeletedKey(t *testing.T) {
	st, client := newStore(t)
	hash := keys.HashAPIKey("gone")

	if err := st.TouchAPIKey(context.Background(), hash, time.Now()); err != nil {
		t.Fatalf("expected no error touching a deleted key, got %v", err)
	}
	if client.Len() != 0 {
		t.Error("expected touch not to recreate a deleted key")
	}
}

// --- DeleteItem Tests ---

func TestDeleteItem(t *testing.T) {
	st, _ := newStore(t)
	ctx := context.Background()

	if err := st.PutItem(ctx, &store.Place{ID: "kitchen", Name: "Kitchen"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := st.DeleteItem(ctx, keys.KindPlace, "kitchen"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	got, err := st.GetPlace(ctx, "kitchen")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Errorf("expected place to be gone, got %+v", got)
	}
}

func TestDeleteItem_Idempotent(t *testing.T) {
	st, _ := newStore(t)

	if err := st.DeleteItem(context.Background(), keys.KindDevice, "never-existed"); err != nil {
		t.Errorf("expected deleting a missing device to succeed, got %v", err)
	}
}

// --- Query Tests ---

func seedDevices(t *testing.T, st *store.Store, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		d := &store.Device{ID: fmt.Sprintf("dev-%02d", i), Place: "Kitchen"}
		if err := st.PutItem(context.Background(), d); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func TestQueryByPartition_Pages(t *testing.T) {
	st, _ := newStore(t)
	ctx := context.Background()
	seedDevices(t, st, 5)
	if err := st.PutItem(ctx, &store.Place{ID: "kitchen", Name: "Kitchen"}); err != nil {
		t.Fatalf("put place: %v", err)
	}

	var ids []string
	var token store.Token
	pages := 0
	for {
		page, err := st.QueryByPartition(ctx, keys.DevicePartition, token, 2)
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		pages++
		if len(page.Items) != len(page.Cursors) {
			t.Fatalf("expected a cursor per item, got %d items and %d cursors", len(page.Items), len(page.Cursors))
		}
		for _, e := range page.Items {
			ids = append(ids, e.Identifier())
		}
		if page.Next == nil {
			break
		}
		token = page.Next
	}

	if pages != 3 {
		t.Errorf("expected 3 pages, got %d", pages)
	}
	want := []string{"dev-00", "dev-01", "dev-02", "dev-03", "dev-04"}
	if fmt.Sprint(ids) != fmt.Sprint(want) {
		t.Errorf("expected %v, got %v", want, ids)
	}
}

func TestQueryByPartition_NoNextOnExactFit(t *testing.T) {
	st, _ := newStore(t)
	seedDevices(t, st, 4)

	page, err := st.QueryByPartition(context.Background(), keys.DevicePartition, nil, 4)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(page.Items) != 4 {
		t.Errorf("expected 4 items, got %d", len(page.Items))
	}
	if page.Next != nil {
		t.Errorf("expected no continuation token when nothing remains, got %s", page.Next)
	}
}

func TestQueryByPartition_ShortStorePages(t *testing.T) {
	st, client := newStore(t)
	client.MaxPageItems = 1
	seedDevices(t, st, 3)

	page, err := st.QueryByPartition(context.Background(), keys.DevicePartition, nil, 2)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(page.Items) != 2 {
		t.Errorf("expected 2 items, got %d", len(page.Items))
	}
	if page.Next == nil {
		t.Error("expected continuation token")
	}
}

func TestQueryByPartition_SameCursorSamePage(t *testing.T) {
	st, _ := newStore(t)
	ctx := context.Background()
	seedDevices(t, st, 5)

	first, err := st.QueryByPartition(ctx, keys.DevicePartition, nil, 2)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	a, err := st.QueryByPartition(ctx, keys.DevicePartition, first.Next, 2)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	b, err := st.QueryByPartition(ctx, keys.DevicePartition, first.Next, 2)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if a.Items[0].Identifier() != b.Items[0].Identifier() || string(a.Next) != string(b.Next) {
		t.Error("expected repeated page fetch to return the same page")
	}
}

func TestQueryByPartition_ForeignToken(t *testing.T) {
	st, _ := newStore(t)
	ctx := context.Background()
	seedDevices(t, st, 3)
	for _, id := range []string{"a", "b", "c"} {
		if err := st.PutItem(ctx, &store.Place{ID: id, Name: id}); err != nil {
			t.Fatalf("put place: %v", err)
		}
	}

	places, err := st.QueryByPartition(ctx, keys.PlacePartition, nil, 1)
	if err != nil {
		t.Fatalf("query: %v", err)
	}

	_, err = st.QueryByPartition(ctx, keys.DevicePartition, places.Next, 1)
	if !errors.Is(err, store.ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestQueryByPartition_CorruptItemFailsPage(t *testing.T) {
	st, client := newStore(t)
	seedDevices(t, st, 1)
	client.Put(map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: "DEVICE"},
		"sk": &types.AttributeValueMemberS{Value: "zz-broken"},
	})

	_, err := st.QueryByPartition(context.Background(), keys.DevicePartition, nil, 10)
	if !errors.Is(err, store.ErrCorruptRecord) {
		t.Errorf("expected ErrCorruptRecord, got %v", err)
	}
}

func TestQueryByPartition_InvalidPageSize(t *testing.T) {
	st, _ := newStore(t)

	if _, err := st.QueryByPartition(context.Background(), keys.DevicePartition, nil, 0); err == nil {
		t.Error("expected error for zero page size")
	}
}

func TestQueryByIndex_ScopedToOwner(t *testing.T) {
	st, _ := newStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := st.PutItem(ctx, apiKey(fmt.Sprintf("a-%d", i), "a@example.com", fmt.Sprintf("a%d", i))); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	if err := st.PutItem(ctx, apiKey("b-0", "b@example.com", "b0")); err != nil {
		t.Fatalf("put: %v", err)
	}

	var names []string
	var token store.Token
	for {
		page, err := st.QueryByIndex(ctx, "user_email-index", "a@example.com", token, 2)
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		for _, e := range page.Items {
			k := e.(*store.APIKey)
			if k.OwnerEmail != "a@example.com" {
				t.Errorf("expected only a@example.com keys, got %q", k.OwnerEmail)
			}
			names = append(names, k.Name)
		}
		if page.Next == nil {
			break
		}
		token = page.Next
	}
	if len(names) != 3 {
		t.Errorf("expected 3 keys, got %v", names)
	}
}

func TestQueryByIndex_TokenFromOtherOwner(t *testing.T) {
	st, _ := newStore(t)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := st.PutItem(ctx, apiKey(fmt.Sprintf("b-%d", i), "b@example.com", "b")); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	page, err := st.QueryByIndex(ctx, "user_email-index", "b@example.com", nil, 1)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	_, err = st.QueryByIndex(ctx, "user_email-index", "a@example.com", page.Next, 1)
	if !errors.Is(err, store.ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestQueryByIndex_Unknown(t *testing.T) {
	st, _ := newStore(t)

	_, err := st.QueryByIndex(context.Background(), "nope-index", "x", nil, 1)
	if !errors.Is(err, store.ErrUnknownIndex) {
		t.Errorf("expected ErrUnknownIndex, got %v", err)
	}
}

// --- Failure Tests ---

func TestGetItem_RetriesThrottling(t *testing.T) {
	st, client := newStore(t)
	client.Fail(storetest.OpGetItem,
		&types.ProvisionedThroughputExceededException{Message: aws.String("slow down")},
		&types.ProvisionedThroughputExceededException{Message: aws.String("slow down")},
	)

	_, err := st.GetItem(context.Background(), keys.KindDevice, "fridge")
	if err != nil {
		t.Fatalf("expected retries to succeed, got %v", err)
	}
	if n := client.Calls(storetest.OpGetItem); n != 3 {
		t.Errorf("expected 3 calls, got %d", n)
	}
}

func TestPutItem_StorageError(t *testing.T) {
	st, client := newStore(t)
	throttle := &types.RequestLimitExceeded{Message: aws.String("limit")}
	client.Fail(storetest.OpPutItem, throttle, throttle, throttle, throttle)

	err := st.PutItem(context.Background(), &store.Place{ID: "kitchen", Name: "Kitchen"})
	if !errors.Is(err, store.ErrStorage) {
		t.Errorf("expected ErrStorage, got %v", err)
	}
	if n := client.Calls(storetest.OpPutItem); n != 4 {
		t.Errorf("expected 4 calls, got %d", n)
	}
}
