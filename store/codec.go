package store

import (
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/homeapi/internal/keys"
)

// encodeEntity converts an entity into its item representation.
func (s *Store) encodeEntity(e Entity) (map[string]types.AttributeValue, error) {
	k := keys.Encode(e.Kind(), e.Identifier())

	var record any
	switch v := e.(type) {
	case *Device:
		record = deviceRecord{
			PK:        k.PK,
			SK:        k.SK,
			Name:      v.Name,
			Place:     v.Place,
			Metadata:  v.Metadata,
			UpdatedAt: utc(v.UpdatedAt),
		}
	case *Place:
		record = placeRecord{PK: k.PK, SK: k.SK, Name: v.Name}
	case *User:
		record = userRecord{PK: k.PK, SK: k.SK}
	case *Electricity:
		record = electricityRecord{
			PK:             k.PK,
			SK:             k.SK,
			Place:          v.Place,
			CumulativeKWhP: v.CumulativeKWhP,
			CumulativeKWhN: v.CumulativeKWhN,
			CurrentW:       v.CurrentW,
		}
	case *FinalElectricity:
		record = finalElectricityRecord{
			PK:             k.PK,
			SK:             k.SK,
			Place:          v.Place,
			CumulativeKWhP: v.CumulativeKWhP,
			CumulativeKWhN: v.CumulativeKWhN,
		}
	case *PlaceCondition:
		record = placeConditionRecord{
			PK:          k.PK,
			SK:          k.SK,
			Place:       v.Place,
			Temperature: v.Temperature,
			Humidity:    v.Humidity,
			Illuminance: v.Illuminance,
			Motion:      v.Motion,
		}
	case *APIKey:
		record = apiKeyRecord{
			PK:         k.PK,
			SK:         k.SK,
			Name:       v.Name,
			CreatedAt:  v.CreatedAt.UTC(),
			LastUsedAt: utc(v.LastUsedAt),
			ExpiresAt:  utc(v.ExpiresAt),
			TTL:        expiryTTL(v.ExpiresAt, s.config.ExpiredKeyRetention),
		}
	default:
		return nil, fmt.Errorf("encode: unsupported entity %T", e)
	}

	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", e.Kind(), err)
	}
	if v, ok := e.(*APIKey); ok {
		item[s.config.APIKeyIndexAttr] = &types.AttributeValueMemberS{Value: v.OwnerEmail}
	}
	return item, nil
}

// decodeItem converts a stored item back into an entity. Anything that does not
// fit one of the entity shapes is reported as ErrCorruptRecord.
func (s *Store) decodeItem(item map[string]types.AttributeValue) (Entity, error) {
	pk, okPK := stringAttr(item, attrPK)
	sk, okSK := stringAttr(item, attrSK)
	if !okPK || !okSK {
		return nil, fmt.Errorf("%w: missing key attributes", ErrCorruptRecord)
	}
	kind, id, err := keys.Decode(pk, sk)
	if err != nil {
		return nil, fmt.Errorf("%w: %s/%s: %v", ErrCorruptRecord, pk, sk, err)
	}

	switch kind {
	case keys.KindDevice:
		if err := requireAttrs(item, attrPlace); err != nil {
			return nil, err
		}
		var r deviceRecord
		if err := attributevalue.UnmarshalMap(item, &r); err != nil {
			return nil, fmt.Errorf("%w: device %s: %v", ErrCorruptRecord, id, err)
		}
		return &Device{ID: id, Name: r.Name, Place: r.Place, Metadata: r.Metadata, UpdatedAt: r.UpdatedAt}, nil

	case keys.KindPlace:
		if err := requireAttrs(item, attrName); err != nil {
			return nil, err
		}
		var r placeRecord
		if err := attributevalue.UnmarshalMap(item, &r); err != nil {
			return nil, fmt.Errorf("%w: place %s: %v", ErrCorruptRecord, id, err)
		}
		return &Place{ID: id, Name: r.Name}, nil

	case keys.KindAPIKey:
		if err := requireAttrs(item, attrName, attrCreatedAt); err != nil {
			return nil, err
		}
		owner, ok := stringAttr(item, s.config.APIKeyIndexAttr)
		if !ok || owner == "" {
			return nil, fmt.Errorf("%w: api key without owner", ErrCorruptRecord)
		}
		var r apiKeyRecord
		if err := attributevalue.UnmarshalMap(item, &r); err != nil {
			return nil, fmt.Errorf("%w: api key: %v", ErrCorruptRecord, err)
		}
		return &APIKey{
			Hash:       id,
			OwnerEmail: owner,
			Name:       r.Name,
			CreatedAt:  r.CreatedAt,
			LastUsedAt: r.LastUsedAt,
			ExpiresAt:  r.ExpiresAt,
		}, nil

	case keys.KindUser:
		return &User{Email: id}, nil

	case keys.KindElectricity, keys.KindFinalElectricity, keys.KindPlaceCondition:
		return decodeReading(kind, id, item)
	}

	return nil, fmt.Errorf("%w: unknown kind %q", ErrCorruptRecord, kind)
}

// decodeReading decodes one of the time series kinds. Missing settled
// values on a FinalElectricity read as zero.
func decodeReading(kind keys.Kind, id string, item map[string]types.AttributeValue) (Entity, error) {
	device, at, err := keys.ParseSeriesID(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrCorruptRecord, kind, id, err)
	}

	switch kind {
	case keys.KindElectricity:
		var r electricityRecord
		if err := attributevalue.UnmarshalMap(item, &r); err != nil {
			return nil, fmt.Errorf("%w: electricity %s: %v", ErrCorruptRecord, id, err)
		}
		return &Electricity{
			Device:         device,
			Timestamp:      at,
			Place:          r.Place,
			CumulativeKWhP: r.CumulativeKWhP,
			CumulativeKWhN: r.CumulativeKWhN,
			CurrentW:       r.CurrentW,
		}, nil

	case keys.KindFinalElectricity:
		var r finalElectricityRecord
		if err := attributevalue.UnmarshalMap(item, &r); err != nil {
			return nil, fmt.Errorf("%w: final electricity %s: %v", ErrCorruptRecord, id, err)
		}
		return &FinalElectricity{
			Device:         device,
			Timestamp:      at,
			Place:          r.Place,
			CumulativeKWhP: zeroIfEmpty(r.CumulativeKWhP),
			CumulativeKWhN: zeroIfEmpty(r.CumulativeKWhN),
		}, nil

	default:
		var r placeConditionRecord
		if err := attributevalue.UnmarshalMap(item, &r); err != nil {
			return nil, fmt.Errorf("%w: place condition %s: %v", ErrCorruptRecord, id, err)
		}
		return &PlaceCondition{
			Device:      device,
			Timestamp:   at,
			Place:       r.Place,
			Temperature: r.Temperature,
			Humidity:    r.Humidity,
			Illuminance: r.Illuminance,
			Motion:      r.Motion,
		}, nil
	}
}

func zeroIfEmpty(d Decimal) Decimal {
	if d == "" {
		return "0"
	}
	return d
}

func stringAttr(item map[string]types.AttributeValue, name string) (string, bool) {
	v, ok := item[name].(*types.AttributeValueMemberS)
	if !ok {
		return "", false
	}
	return v.Value, true
}

func requireAttrs(item map[string]types.AttributeValue, names ...string) error {
	for _, name := range names {
		if _, ok := item[name]; !ok {
			return fmt.Errorf("%w: missing attribute %q", ErrCorruptRecord, name)
		}
	}
	return nil
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
