// Package keys maps typed entities onto the single table's partition/sort key pairs.
//
// It is the only place that knows the per-kind key shape:
//
//	Device            pk=DEVICE        sk=<id>
//	Place             pk=PLACE         sk=<id>
//	User              pk=USER          sk=<email>
//	ApiKey            pk=<sha256 hex>  sk=APIKEY
//	Electricity       pk=<device id>   sk=TS#<timestamp>
//	FinalElectricity  pk=<device id>   sk=FIN#TS#<timestamp>
//	PlaceCondition    pk=<device id>   sk=COND#TS#<timestamp>
//
// Readings are time series under their device's id. Their timestamps are UTC
// with second precision in a fixed-width layout, so sort key order is time order.
//
// External identifiers are a base64 encoding of "Kind:pk:sk".
package keys

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

var (
	// ErrMalformedKey is returned when a pk/sk pair matches no known key shape.
	ErrMalformedKey = errors.New("homeapi: malformed key")

	// ErrInvalidIdentifier is returned when an external identifier cannot be decoded.
	ErrInvalidIdentifier = errors.New("homeapi: invalid identifier")
)

// Kind names an entity type stored in the table.
type Kind string

const (
	KindDevice           Kind = "Device"
	KindPlace            Kind = "Place"
	KindUser             Kind = "User"
	KindAPIKey           Kind = "ApiKey"
	KindElectricity      Kind = "Electricity"
	KindFinalElectricity Kind = "FinalElectricity"
	KindPlaceCondition   Kind = "PlaceCondition"
)

// Partition and sort key markers.
const (
	DevicePartition = "DEVICE"
	PlacePartition  = "PLACE"
	UserPartition   = "USER"
	APIKeySortKey   = "APIKEY"

	ElectricityPrefix      = "TS#"
	FinalElectricityPrefix = "FIN#TS#"
	PlaceConditionPrefix   = "COND#TS#"
)

// TimestampLayout formats reading timestamps in sort keys and identifiers.
const TimestampLayout = "2006-01-02T15:04:05Z"

// seriesSep separates the device id from the timestamp in a reading identifier.
const seriesSep = "#"

// seriesKinds lists reading kinds, longest prefix first.
var seriesKinds = []Kind{KindFinalElectricity, KindPlaceCondition, KindElectricity}

// hashLen is the length of a hex-encoded sha256 digest.
const hashLen = sha256.Size * 2

// Key is a primary key of the table.
type Key struct {
	PK string
	SK string
}

// Encode returns the primary key for an entity of the given kind.
func Encode(kind Kind, id string) Key {
	switch kind {
	case KindDevice:
		return Key{PK: DevicePartition, SK: id}
	case KindPlace:
		return Key{PK: PlacePartition, SK: id}
	case KindUser:
		return Key{PK: UserPartition, SK: id}
	case KindAPIKey:
		return Key{PK: id, SK: APIKeySortKey}
	case KindElectricity, KindFinalElectricity, KindPlaceCondition:
		prefix, _ := SeriesPrefix(kind)
		device, ts := splitSeries(id)
		return Key{PK: device, SK: prefix + ts}
	default:
		return Key{PK: string(kind), SK: id}
	}
}

// Decode recovers the kind and identifier from a primary key.
func Decode(pk, sk string) (Kind, string, error) {
	switch {
	case pk == DevicePartition && sk != "":
		return KindDevice, sk, nil
	case pk == PlacePartition && sk != "":
		return KindPlace, sk, nil
	case pk == UserPartition && sk != "":
		return KindUser, sk, nil
	case sk == APIKeySortKey && IsHash(pk):
		return KindAPIKey, pk, nil
	}

	if !validSeriesDevice(pk) {
		return "", "", ErrMalformedKey
	}
	for _, kind := range seriesKinds {
		prefix, _ := SeriesPrefix(kind)
		ts, ok := strings.CutPrefix(sk, prefix)
		if !ok {
			continue
		}
		if _, err := ParseTimestamp(ts); err != nil {
			return "", "", ErrMalformedKey
		}
		return kind, pk + seriesSep + ts, nil
	}
	return "", "", ErrMalformedKey
}

// SeriesPrefix returns the sort key prefix of a reading kind.
func SeriesPrefix(kind Kind) (string, bool) {
	switch kind {
	case KindElectricity:
		return ElectricityPrefix, true
	case KindFinalElectricity:
		return FinalElectricityPrefix, true
	case KindPlaceCondition:
		return PlaceConditionPrefix, true
	}
	return "", false
}

// SeriesID returns the identifier of the reading a device took at the given time.
func SeriesID(device string, at time.Time) string {
	return device + seriesSep + FormatTimestamp(at)
}

// ParseSeriesID splits a reading identifier into device id and timestamp.
func ParseSeriesID(id string) (string, time.Time, error) {
	device, ts := splitSeries(id)
	if !validSeriesDevice(device) {
		return "", time.Time{}, ErrMalformedKey
	}
	at, err := ParseTimestamp(ts)
	if err != nil {
		return "", time.Time{}, ErrMalformedKey
	}
	return device, at, nil
}

// SeriesSortKey returns the sort key of a reading taken at the given time.
func SeriesSortKey(kind Kind, at time.Time) string {
	prefix, _ := SeriesPrefix(kind)
	return prefix + FormatTimestamp(at)
}

// FormatTimestamp renders t in TimestampLayout, truncated to the second.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses a TimestampLayout value. Other renderings of the same
// instant are rejected so that a timestamp has exactly one sort key.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(TimestampLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	if t.Format(TimestampLayout) != s {
		return time.Time{}, ErrMalformedKey
	}
	return t, nil
}

func splitSeries(id string) (string, string) {
	i := strings.LastIndex(id, seriesSep)
	if i < 0 {
		return id, ""
	}
	return id[:i], id[i+len(seriesSep):]
}

// validSeriesDevice reports whether readings can be keyed under device. Fixed
// partitions are reserved and ":" would break external identifiers.
func validSeriesDevice(device string) bool {
	switch device {
	case "", DevicePartition, PlacePartition, UserPartition:
		return false
	}
	return !strings.Contains(device, ":")
}

// Valid reports whether (kind, id) is a pair Encode produces a decodable key for.
func Valid(kind Kind, id string) bool {
	k := Encode(kind, id)
	got, gotID, err := Decode(k.PK, k.SK)
	return err == nil && got == kind && gotID == id
}

// GlobalID returns the opaque identifier exposed to API clients.
func GlobalID(kind Kind, id string) string {
	k := Encode(kind, id)
	return base64.RawStdEncoding.EncodeToString([]byte(string(kind) + ":" + k.PK + ":" + k.SK))
}

// ParseGlobalID reverses GlobalID. Identifiers that were not produced by GlobalID
// fail with ErrInvalidIdentifier.
func ParseGlobalID(gid string) (Kind, string, error) {
	raw, err := base64.RawStdEncoding.DecodeString(gid)
	if err != nil {
		return "", "", ErrInvalidIdentifier
	}
	parts := strings.SplitN(string(raw), ":", 3)
	if len(parts) != 3 {
		return "", "", ErrInvalidIdentifier
	}
	kind, id, err := Decode(parts[1], parts[2])
	if err != nil || string(kind) != parts[0] {
		return "", "", ErrInvalidIdentifier
	}
	return kind, id, nil
}

// HashAPIKey computes the one-way identifier of API key material.
func HashAPIKey(material string) string {
	h := sha256.Sum256([]byte(material))
	return hex.EncodeToString(h[:])
}

// IsHash reports whether s looks like a HashAPIKey result.
func IsHash(s string) bool {
	if len(s) != hashLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
