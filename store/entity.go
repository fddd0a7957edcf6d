package store

import (
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"

	"github.com/jacentio/homeapi/internal/keys"
)

// Entity is one of the item kinds kept in the table: *Device, *Place, *User,
// *APIKey, *Electricity, *FinalElectricity or *PlaceCondition.
type Entity interface {
	// Kind returns the entity kind used by the key scheme.
	Kind() keys.Kind

	// Identifier returns the kind-local identifier: device id, place id, email,
	// key hash, or keys.SeriesID for readings.
	Identifier() string

	entity()
}

// Device is a household device. Devices are shared and have no owner.
type Device struct {
	ID        string
	Name      string
	Place     string
	Metadata  map[string]string
	UpdatedAt *time.Time
}

func (d *Device) Kind() keys.Kind    { return keys.KindDevice }
func (d *Device) Identifier() string { return d.ID }
func (*Device) entity()              {}

// Place is a room or area devices are located in.
type Place struct {
	ID   string
	Name string
}

func (p *Place) Kind() keys.Kind    { return keys.KindPlace }
func (p *Place) Identifier() string { return p.ID }
func (*Place) entity()              {}

// User is a registered account.
type User struct {
	Email string
}

func (u *User) Kind() keys.Kind    { return keys.KindUser }
func (u *User) Identifier() string { return u.Email }
func (*User) entity()              {}

// APIKey is the stored half of an issued API key. The plaintext key is never
// stored; Hash is the sha256 of it.
type APIKey struct {
	Hash       string
	OwnerEmail string
	Name       string
	CreatedAt  time.Time
	LastUsedAt *time.Time
	ExpiresAt  *time.Time
}

func (k *APIKey) Kind() keys.Kind    { return keys.KindAPIKey }
func (k *APIKey) Identifier() string { return k.Hash }
func (*APIKey) entity()              {}

// Expired reports whether the key has an expiry at or before now.
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && !k.ExpiresAt.After(now)
}

// Decimal is an exact decimal number kept as a DynamoDB number.
type Decimal = attributevalue.Number

// Electricity is a smart meter reading.
type Electricity struct {
	Device         string
	Timestamp      time.Time
	Place          string
	CumulativeKWhP *Decimal
	CumulativeKWhN *Decimal
	CurrentW       *int64
}

func (e *Electricity) Kind() keys.Kind    { return keys.KindElectricity }
func (e *Electricity) Identifier() string { return keys.SeriesID(e.Device, e.Timestamp) }
func (*Electricity) entity()              {}

// FinalElectricity is a settled meter reading.
type FinalElectricity struct {
	Device         string
	Timestamp      time.Time
	Place          string
	CumulativeKWhP Decimal
	CumulativeKWhN Decimal
}

func (e *FinalElectricity) Kind() keys.Kind    { return keys.KindFinalElectricity }
func (e *FinalElectricity) Identifier() string { return keys.SeriesID(e.Device, e.Timestamp) }
func (*FinalElectricity) entity()              {}

// PlaceCondition is an environment sensor reading taken by a device.
type PlaceCondition struct {
	Device      string
	Timestamp   time.Time
	Place       string
	Temperature *Decimal
	Humidity    *Decimal
	Illuminance *Decimal
	Motion      *Decimal
}

func (c *PlaceCondition) Kind() keys.Kind    { return keys.KindPlaceCondition }
func (c *PlaceCondition) Identifier() string { return keys.SeriesID(c.Device, c.Timestamp) }
func (*PlaceCondition) entity()              {}

// Item attribute names.
const (
	attrPK         = "pk"
	attrSK         = "sk"
	attrName       = "name"
	attrPlace      = "place"
	attrCreatedAt  = "created_at"
	attrLastUsedAt = "last_used_at"
)

type deviceRecord struct {
	PK        string            `dynamodbav:"pk"`
	SK        string            `dynamodbav:"sk"`
	Name      string            `dynamodbav:"name,omitempty"`
	Place     string            `dynamodbav:"place"`
	Metadata  map[string]string `dynamodbav:"metadata,omitempty"`
	UpdatedAt *time.Time        `dynamodbav:"updated_at,omitempty"`
}

type placeRecord struct {
	PK   string `dynamodbav:"pk"`
	SK   string `dynamodbav:"sk"`
	Name string `dynamodbav:"name"`
}

// apiKeyRecord has no static tag for the owner attribute; its name comes from
// Config.APIKeyIndexAttr.
type apiKeyRecord struct {
	PK         string     `dynamodbav:"pk"`
	SK         string     `dynamodbav:"sk"`
	Name       string     `dynamodbav:"name"`
	CreatedAt  time.Time  `dynamodbav:"created_at"`
	LastUsedAt *time.Time `dynamodbav:"last_used_at,omitempty"`
	ExpiresAt  *time.Time `dynamodbav:"expires_at,omitempty"`
	TTL        int64      `dynamodbav:"ttl,omitempty"`
}

type userRecord struct {
	PK string `dynamodbav:"pk"`
	SK string `dynamodbav:"sk"`
}

type electricityRecord struct {
	PK             string   `dynamodbav:"pk"`
	SK             string   `dynamodbav:"sk"`
	Place          string   `dynamodbav:"place,omitempty"`
	CumulativeKWhP *Decimal `dynamodbav:"cumulative_kwh_p,omitempty"`
	CumulativeKWhN *Decimal `dynamodbav:"cumulative_kwh_n,omitempty"`
	CurrentW       *int64   `dynamodbav:"current_w,omitempty"`
}

type finalElectricityRecord struct {
	PK             string  `dynamodbav:"pk"`
	SK             string  `dynamodbav:"sk"`
	Place          string  `dynamodbav:"place,omitempty"`
	CumulativeKWhP Decimal `dynamodbav:"cumulative_kwh_p,omitempty"`
	CumulativeKWhN Decimal `dynamodbav:"cumulative_kwh_n,omitempty"`
}

type placeConditionRecord struct {
	PK          string   `dynamodbav:"pk"`
	SK          string   `dynamodbav:"sk"`
	Place       string   `dynamodbav:"place,omitempty"`
	Temperature *Decimal `dynamodbav:"temperature,omitempty"`
	Humidity    *Decimal `dynamodbav:"humidity,omitempty"`
	Illuminance *Decimal `dynamodbav:"illuminance,omitempty"`
	Motion      *Decimal `dynamodbav:"motion,omitempty"`
}
