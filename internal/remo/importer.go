package remo

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jacentio/homeapi/internal/keys"
	"github.com/jacentio/homeapi/store"
)

// DefaultPlace receives devices seen for the first time.
const DefaultPlace = "unknown"

// Metadata keys written by the importer.
const (
	MetaFirmware        = "firmware_version"
	MetaTemperature     = "temperature"
	MetaHumidity        = "humidity"
	MetaIlluminance     = "illuminance"
	MetaMotion          = "motion"
	MetaSensorUpdatedAt = "sensor_updated_at"
)

const scanPageSize = 100

// Source lists remote devices. *Client implements it.
type Source interface {
	Devices(ctx context.Context) ([]Device, error)
}

// Store is the subset of store.Store used by the importer.
type Store interface {
	QueryByPartition(ctx context.Context, pk string, token store.Token, pageSize int32) (store.Page, error)
	PutItem(ctx context.Context, e store.Entity) error
}

var _ Store = (*store.Store)(nil)

// Result counts what one import did.
type Result struct {
	Created    int
	Updated    int
	Unchanged  int
	Skipped    int
	Conditions int
}

// Importer copies remote devices into the store.
type Importer struct {
	source Source
	store  Store
	place  string
	logger *slog.Logger
	now    func() time.Time
}

// NewImporter creates an importer. An empty place uses DefaultPlace.
func NewImporter(source Source, s Store, place string, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	if place == "" {
		place = DefaultPlace
	}
	return &Importer{
		source: source,
		store:  s,
		place:  place,
		logger: logger,
		now:    time.Now,
	}
}

// Import fetches the remote devices and writes new or changed ones, then
// records a PlaceCondition with each device's latest readings at the device's
// current place. Devices that never reported a reading are skipped. A
// device's name and place are only set when it is created; later imports
// leave user edits alone.
func (i *Importer) Import(ctx context.Context) (Result, error) {
	var res Result

	remote, err := i.source.Devices(ctx)
	if err != nil {
		return res, err
	}
	local, err := i.loadDevices(ctx)
	if err != nil {
		return res, err
	}

	for _, rd := range remote {
		latest := rd.NewestEvents.Latest()
		if latest == nil {
			res.Skipped++
			continue
		}
		if !keys.Valid(keys.KindDevice, rd.ID) {
			i.logger.Warn("skipping remote device with unusable id", "id", rd.ID)
			res.Skipped++
			continue
		}

		d, known := local[rd.ID]
		if !known {
			d = &store.Device{ID: rd.ID, Name: rd.Name, Place: i.place}
		}
		renamed := false
		if d.Name == "" && rd.Name != "" {
			d.Name = rd.Name
			renamed = true
		}

		if err := i.saveDevice(ctx, d, known, renamed, rd, *latest, &res); err != nil {
			return res, err
		}

		c := conditionFor(d, rd, *latest)
		if !keys.Valid(keys.KindPlaceCondition, c.Identifier()) {
			i.logger.Warn("device id cannot key readings", "id", d.ID)
			continue
		}
		if err := i.store.PutItem(ctx, c); err != nil {
			return res, fmt.Errorf("save condition for %s: %w", d.ID, err)
		}
		res.Conditions++
	}

	i.logger.Info("nature remo import completed",
		"created", res.Created,
		"updated", res.Updated,
		"unchanged", res.Unchanged,
		"skipped", res.Skipped,
		"conditions", res.Conditions,
	)
	return res, nil
}

// saveDevice writes d when it is new or its readings changed.
func (i *Importer) saveDevice(ctx context.Context, d *store.Device, known, renamed bool, rd Device, latest time.Time, res *Result) error {
	meta := metadataFor(d.Metadata, rd, latest)
	if known && !renamed && maps.Equal(meta, d.Metadata) {
		res.Unchanged++
		return nil
	}
	d.Metadata = meta
	now := i.now().UTC()
	d.UpdatedAt = &now

	if err := i.store.PutItem(ctx, d); err != nil {
		return fmt.Errorf("save device %s: %w", d.ID, err)
	}
	if known {
		res.Updated++
	} else {
		res.Created++
		i.logger.Info("created device from nature remo", "id", d.ID, "place", d.Place)
	}
	return nil
}

func (i *Importer) loadDevices(ctx context.Context) (map[string]*store.Device, error) {
	devices := make(map[string]*store.Device)
	var token store.Token
	for {
		page, err := i.store.QueryByPartition(ctx, keys.DevicePartition, token, scanPageSize)
		if err != nil {
			return nil, fmt.Errorf("load devices: %w", err)
		}
		for _, item := range page.Items {
			if d, ok := item.(*store.Device); ok {
				devices[d.ID] = d
			}
		}
		if page.Next == nil {
			return devices, nil
		}
		token = page.Next
	}
}

// metadataFor returns current with the remote readings applied. Keys the
// importer does not own are kept.
func metadataFor(current map[string]string, rd Device, latest time.Time) map[string]string {
	meta := make(map[string]string, len(current)+6)
	maps.Copy(meta, current)

	if rd.FirmwareVersion != "" {
		meta[MetaFirmware] = rd.FirmwareVersion
	}
	setReading(meta, MetaTemperature, rd.NewestEvents.Temperature)
	setReading(meta, MetaHumidity, rd.NewestEvents.Humidity)
	setReading(meta, MetaIlluminance, rd.NewestEvents.Illuminance)
	setReading(meta, MetaMotion, rd.NewestEvents.Motion)
	meta[MetaSensorUpdatedAt] = latest.UTC().Format(time.RFC3339)
	return meta
}

// conditionFor builds the reading for the device's newest sensor events.
func conditionFor(d *store.Device, rd Device, latest time.Time) *store.PlaceCondition {
	return &store.PlaceCondition{
		Device:      d.ID,
		Timestamp:   latest.UTC().Truncate(time.Second),
		Place:       d.Place,
		Temperature: eventDecimal(rd.NewestEvents.Temperature),
		Humidity:    eventDecimal(rd.NewestEvents.Humidity),
		Illuminance: eventDecimal(rd.NewestEvents.Illuminance),
		Motion:      eventDecimal(rd.NewestEvents.Motion),
	}
}

func eventDecimal(e *Event) *store.Decimal {
	if e == nil || math.IsNaN(e.Val) || math.IsInf(e.Val, 0) {
		return nil
	}
	d := store.Decimal(decimal.NewFromFloat(e.Val).String())
	return &d
}

func setReading(meta map[string]string, key string, e *Event) {
	if e == nil {
		return
	}
	meta[key] = strconv.FormatFloat(e.Val, 'f', -1, 64)
}
