package remo_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jacentio/homeapi/internal/keys"
	"github.com/jacentio/homeapi/internal/remo"
	"github.com/jacentio/homeapi/store"
	"github.com/jacentio/homeapi/store/storetest"
)

const devicesJSON = `[
  {
    "id": "8c5b1b2e-0a11-4d6e-9a3c-1f2e3d4c5b6a",
    "name": "Living Remo",
    "firmware_version": "Remo/1.0.62-gabbf5bd",
    "newest_events": {
      "hu": {"val": 48, "created_at": "2025-06-01T10:00:00Z"},
      "il": {"val": 120.5, "created_at": "2025-06-01T10:05:00Z"},
      "mo": {"val": 1, "created_at": "2025-06-01T09:00:00Z"},
      "te": {"val": 23.4, "created_at": "2025-06-01T10:02:00Z"}
    }
  },
  {
    "id": "1d2e3f40-5a6b-4c7d-8e9f-a0b1c2d3e4f5",
    "name": "Bedroom Remo mini",
    "firmware_version": "Remo-mini/1.0.62",
    "newest_events": {
      "te": {"val": 19, "created_at": "2025-06-01T08:00:00Z"}
    }
  },
  {
    "id": "f0e1d2c3-b4a5-4968-8776-655443322110",
    "name": "Silent Remo",
    "newest_events": {}
  }
]`

const livingID = "8c5b1b2e-0a11-4d6e-9a3c-1f2e3d4c5b6a"
const bedroomID = "1d2e3f40-5a6b-4c7d-8e9f-a0b1c2d3e4f5"

// newAPI serves devicesJSON and records the Authorization header of each call.
func newAPI(t *testing.T, status int) (*httptest.Server, *atomic.Value, *atomic.Int32) {
	t.Helper()
	var authHeader atomic.Value
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/1/devices" {
			http.NotFound(w, r)
			return
		}
		authHeader.Store(r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status == http.StatusOK {
			//nolint:errcheck
			w.Write([]byte(devicesJSON))
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &authHeader, &calls
}

func newClient(t *testing.T, baseURL string) *remo.Client {
	t.Helper()
	c, err := remo.NewClient(remo.Config{Token: "remo-token", BaseURL: baseURL, Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("NewClient() error: %v", err)
	}
	return c
}

func newStore(t *testing.T) *store.Store {
	t.Helper()
	cfg := store.DefaultConfig()
	cfg.RetryBaseDelay = time.Millisecond
	return store.New(storetest.NewClient(), cfg)
}

// --- Client Tests ---

func TestNewClient_RequiresToken(t *testing.T) {
	_, err := remo.NewClient(remo.Config{})
	if !errors.Is(err, remo.ErrNoToken) {
		t.Errorf("expected ErrNoToken, got %v", err)
	}
}

func TestClient_Devices(t *testing.T) {
	srv, authHeader, _ := newAPI(t, http.StatusOK)
	c := newClient(t, srv.URL)

	devices, err := c.Devices(context.Background())
	if err != nil {
		t.Fatalf("Devices() error: %v", err)
	}
	if got := authHeader.Load(); got != "Bearer remo-token" {
		t.Errorf("expected bearer token, got %v", got)
	}
	if len(devices) != 3 {
		t.Fatalf("expected 3 devices, got %d", len(devices))
	}

	d := devices[0]
	if d.ID != livingID || d.Name != "Living Remo" {
		t.Errorf("unexpected device %+v", d)
	}
	if d.NewestEvents.Temperature == nil || d.NewestEvents.Temperature.Val != 23.4 {
		t.Errorf("expected temperature 23.4, got %+v", d.NewestEvents.Temperature)
	}
	if devices[1].NewestEvents.Humidity != nil {
		t.Error("expected missing humidity sensor to be nil")
	}
}

func TestClient_DevicesErrorStatus(t *testing.T) {
	srv, _, calls := newAPI(t, http.StatusUnauthorized)
	c := newClient(t, srv.URL)

	if _, err := c.Devices(context.Background()); err == nil {
		t.Fatal("expected error for 401")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("expected client errors not to be retried, got %d calls", got)
	}
}

func TestClient_DevicesRetriesServerErrors(t *testing.T) {
	srv, _, calls := newAPI(t, http.StatusBadGateway)
	c := newClient(t, srv.URL)

	if _, err := c.Devices(context.Background()); err == nil {
		t.Fatal("expected error for 502")
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

// --- NewestEvents Tests ---

func TestNewestEvents_Latest(t *testing.T) {
	early := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	late := early.Add(time.Hour)

	tests := []struct {
		name   string
		events remo.NewestEvents
		want   *time.Time
	}{
		{"none", remo.NewestEvents{}, nil},
		{"single", remo.NewestEvents{Motion: &remo.Event{CreatedAt: early}}, &early},
		{"max of several", remo.NewestEvents{
			Humidity:    &remo.Event{CreatedAt: early},
			Temperature: &remo.Event{CreatedAt: late},
		}, &late},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.events.Latest()
			switch {
			case tt.want == nil && got != nil:
				t.Errorf("expected nil, got %v", got)
			case tt.want != nil && (got == nil || !got.Equal(*tt.want)):
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

// --- Importer Tests ---

func TestImport_CreatesUnknownDevices(t *testing.T) {
	srv, _, _ := newAPI(t, http.StatusOK)
	st := newStore(t)
	imp := remo.NewImporter(newClient(t, srv.URL), st, "", nil)

	res, err := imp.Import(context.Background())
	if err != nil {
		t.Fatalf("Import() error: %v", err)
	}
	if res.Created != 2 || res.Skipped != 1 || res.Updated != 0 {
		t.Errorf("unexpected result %+v", res)
	}

	d, err := st.GetDevice(context.Background(), livingID)
	if err != nil {
		t.Fatalf("get device: %v", err)
	}
	if d.Place != remo.DefaultPlace {
		t.Errorf("expected place %q, got %q", remo.DefaultPlace, d.Place)
	}
	if d.Name != "Living Remo" {
		t.Errorf("expected remote name, got %q", d.Name)
	}
	want := map[string]string{
		remo.MetaFirmware:        "Remo/1.0.62-gabbf5bd",
		remo.MetaTemperature:     "23.4",
		remo.MetaHumidity:        "48",
		remo.MetaIlluminance:     "120.5",
		remo.MetaMotion:          "1",
		remo.MetaSensorUpdatedAt: "2025-06-01T10:05:00Z",
	}
	for k, v := range want {
		if d.Metadata[k] != v {
			t.Errorf("expected metadata %s=%q, got %q", k, v, d.Metadata[k])
		}
	}

	mini, err := st.GetDevice(context.Background(), bedroomID)
	if err != nil {
		t.Fatalf("get device: %v", err)
	}
	if _, ok := mini.Metadata[remo.MetaHumidity]; ok {
		t.Error("expected no humidity for a device without the sensor")
	}
}

func TestImport_KeepsUserEdits(t *testing.T) {
	srv, _, _ := newAPI(t, http.StatusOK)
	st := newStore(t)
	ctx := context.Background()

	if err := st.PutItem(ctx, &store.Device{
		ID:       livingID,
		Name:     "Lounge sensor",
		Place:    "lounge",
		Metadata: map[string]string{"owner": "me", remo.MetaTemperature: "1"},
	}); err != nil {
		t.Fatalf("put device: %v", err)
	}

	imp := remo.NewImporter(newClient(t, srv.URL), st, "hallway", nil)
	res, err := imp.Import(ctx)
	if err != nil {
		t.Fatalf("Import() error: %v", err)
	}
	if res.Updated != 1 || res.Created != 1 {
		t.Errorf("unexpected result %+v", res)
	}

	d, err := st.GetDevice(ctx, livingID)
	if err != nil {
		t.Fatalf("get device: %v", err)
	}
	if d.Name != "Lounge sensor" || d.Place != "lounge" {
		t.Errorf("expected name and place kept, got %q at %q", d.Name, d.Place)
	}
	if d.Metadata["owner"] != "me" {
		t.Error("expected unrelated metadata to be kept")
	}
	if d.Metadata[remo.MetaTemperature] != "23.4" {
		t.Errorf("expected temperature refreshed, got %q", d.Metadata[remo.MetaTemperature])
	}

	mini, err := st.GetDevice(ctx, bedroomID)
	if err != nil {
		t.Fatalf("get device: %v", err)
	}
	if mini.Place != "hallway" {
		t.Errorf("expected configured place, got %q", mini.Place)
	}
}

func getCondition(t *testing.T, st *store.Store, device string, at time.Time) *store.PlaceCondition {
	t.Helper()
	e, err := st.GetItem(context.Background(), keys.KindPlaceCondition, keys.SeriesID(device, at))
	if err != nil {
		t.Fatalf("get condition: %v", err)
	}
	c, ok := e.(*store.PlaceCondition)
	if !ok {
		t.Fatalf("expected a place condition for %s at %s, got %T", device, at, e)
	}
	return c
}

func decimalValue(d *store.Decimal) string {
	if d == nil {
		return "<nil>"
	}
	return string(*d)
}

func TestImport_WritesPlaceConditions(t *testing.T) {
	srv, _, _ := newAPI(t, http.StatusOK)
	st := newStore(t)
	imp := remo.NewImporter(newClient(t, srv.URL), st, "", nil)

	res, err := imp.Import(context.Background())
	if err != nil {
		t.Fatalf("Import() error: %v", err)
	}
	if res.Conditions != 2 {
		t.Errorf("expected 2 conditions, got %d", res.Conditions)
	}

	c := getCondition(t, st, livingID, time.Date(2025, 6, 1, 10, 5, 0, 0, time.UTC))
	if c.Place != remo.DefaultPlace {
		t.Errorf("expected place %q, got %q", remo.DefaultPlace, c.Place)
	}
	readings := map[string]string{
		"temperature": decimalValue(c.Temperature),
		"humidity":    decimalValue(c.Humidity),
		"illuminance": decimalValue(c.Illuminance),
		"motion":      decimalValue(c.Motion),
	}
	want := map[string]string{"temperature": "23.4", "humidity": "48", "illuminance": "120.5", "motion": "1"}
	for k, v := range want {
		if readings[k] != v {
			t.Errorf("expected %s %s, got %s", k, v, readings[k])
		}
	}

	mini := getCondition(t, st, bedroomID, time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC))
	if mini.Humidity != nil || decimalValue(mini.Temperature) != "19" {
		t.Errorf("expected temperature only, got %+v", mini)
	}
}

func TestImport_ConditionUsesCurrentPlace(t *testing.T) {
	srv, _, _ := newAPI(t, http.StatusOK)
	st := newStore(t)
	ctx := context.Background()
	if err := st.PutItem(ctx, &store.Device{ID: livingID, Name: "Lounge sensor", Place: "lounge"}); err != nil {
		t.Fatalf("put device: %v", err)
	}

	if _, err := remo.NewImporter(newClient(t, srv.URL), st, "", nil).Import(ctx); err != nil {
		t.Fatalf("Import() error: %v", err)
	}
	c := getCondition(t, st, livingID, time.Date(2025, 6, 1, 10, 5, 0, 0, time.UTC))
	if c.Place != "lounge" {
		t.Errorf("expected condition at lounge, got %q", c.Place)
	}
}

func TestImport_DeviceWithoutSeriesKey(t *testing.T) {
	at := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	st := newStore(t)
	imp := remo.NewImporter(staticSource{
		{ID: "remo:1", NewestEvents: remo.NewestEvents{Temperature: &remo.Event{Val: 20, CreatedAt: at}}},
	}, st, "", nil)

	res, err := imp.Import(context.Background())
	if err != nil {
		t.Fatalf("Import() error: %v", err)
	}
	if res.Created != 1 || res.Conditions != 0 {
		t.Errorf("expected device created without a condition, got %+v", res)
	}
}

func TestImport_SecondRunUnchanged(t *testing.T) {
	srv, _, _ := newAPI(t, http.StatusOK)
	st := newStore(t)
	imp := remo.NewImporter(newClient(t, srv.URL), st, "", nil)

	if _, err := imp.Import(context.Background()); err != nil {
		t.Fatalf("first Import() error: %v", err)
	}
	res, err := imp.Import(context.Background())
	if err != nil {
		t.Fatalf("second Import() error: %v", err)
	}
	if res.Unchanged != 2 || res.Created != 0 || res.Updated != 0 {
		t.Errorf("expected all unchanged, got %+v", res)
	}
	if res.Conditions != 2 {
		t.Errorf("expected conditions rewritten, got %d", res.Conditions)
	}
}

type failingSource struct{ err error }

func (f failingSource) Devices(context.Context) ([]remo.Device, error) { return nil, f.err }

type staticSource []remo.Device

func (s staticSource) Devices(context.Context) ([]remo.Device, error) { return s, nil }

func TestImport_SourceError(t *testing.T) {
	boom := errors.New("unreachable")
	imp := remo.NewImporter(failingSource{err: boom}, newStore(t), "", nil)

	if _, err := imp.Import(context.Background()); !errors.Is(err, boom) {
		t.Errorf("expected source error, got %v", err)
	}
}

func TestImport_SkipsUnusableIDs(t *testing.T) {
	at := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	imp := remo.NewImporter(staticSource{
		{ID: "", NewestEvents: remo.NewestEvents{Temperature: &remo.Event{Val: 20, CreatedAt: at}}},
	}, newStore(t), "", nil)

	res, err := imp.Import(context.Background())
	if err != nil {
		t.Fatalf("Import() error: %v", err)
	}
	if res.Skipped != 1 || res.Created != 0 {
		t.Errorf("unexpected result %+v", res)
	}
}
