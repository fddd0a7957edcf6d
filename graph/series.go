package graph

import (
	"context"
	"time"

	graphql "github.com/graph-gophers/graphql-go"
	"github.com/shopspring/decimal"

	"github.com/jacentio/homeapi/internal/keys"
	"github.com/jacentio/homeapi/store"
)

// maxDecimalLen bounds the canonical form of a decimal input. DynamoDB keeps
// 38 significant digits.
const maxDecimalLen = 40

var (
	seriesFloor   = time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC)
	seriesCeiling = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)
)

// seriesArgs are the arguments of a reading connection. After and Before are
// RFC 3339 timestamps bounding the window, both exclusive. Edge cursors are
// timestamps, so an endCursor can be passed back as after.
type seriesArgs struct {
	Device string
	After  *string
	Before *string
	First  *int32
	Last   *int32
}

type electricityInput struct {
	Device         string
	Timestamp      graphql.Time
	Place          *string
	CumulativeKWhP *string
	CumulativeKWhN *string
	CurrentW       *int32
}

type finalElectricityInput struct {
	Device         string
	Timestamp      graphql.Time
	Place          *string
	CumulativeKWhP *string
	CumulativeKWhN *string
}

type placeConditionInput struct {
	Device      string
	Timestamp   graphql.Time
	Place       *string
	Temperature *string
	Humidity    *string
	Illuminance *string
	Motion      *string
}

// --- Queries ---

func (r *Resolver) Electricity(ctx context.Context, args seriesArgs) (*connection[*electricityResolver], error) {
	page, reverse, err := r.series(ctx, "electricity", keys.KindElectricity, args)
	if err != nil {
		return nil, err
	}
	return seriesConnection(page, reverse, func(e *store.Electricity) (*electricityResolver, time.Time) {
		return &electricityResolver{e}, e.Timestamp
	}), nil
}

func (r *Resolver) FinalElectricity(ctx context.Context, args seriesArgs) (*connection[*finalElectricityResolver], error) {
	page, reverse, err := r.series(ctx, "finalElectricity", keys.KindFinalElectricity, args)
	if err != nil {
		return nil, err
	}
	return seriesConnection(page, reverse, func(e *store.FinalElectricity) (*finalElectricityResolver, time.Time) {
		return &finalElectricityResolver{e}, e.Timestamp
	}), nil
}

func (r *Resolver) PlaceConditions(ctx context.Context, args seriesArgs) (*connection[*placeConditionResolver], error) {
	page, reverse, err := r.series(ctx, "placeConditions", keys.KindPlaceCondition, args)
	if err != nil {
		return nil, err
	}
	return seriesConnection(page, reverse, func(c *store.PlaceCondition) (*placeConditionResolver, time.Time) {
		return &placeConditionResolver{c}, c.Timestamp
	}), nil
}

// series reads one page of a device's readings of kind inside the window
// given by args. It reports whether the page was read newest first.
func (r *Resolver) series(ctx context.Context, op string, kind keys.Kind, args seriesArgs) (store.Page, bool, error) {
	if !keys.Valid(kind, keys.SeriesID(args.Device, seriesFloor)) {
		return store.Page{}, false, badInput("invalid device id")
	}
	if args.First != nil && args.Last != nil {
		return store.Page{}, false, badInput("first and last cannot be combined")
	}
	size, reverse := r.defaultSize, args.Last != nil
	count := args.First
	if reverse {
		count = args.Last
	}
	if count != nil {
		if *count < 1 {
			return store.Page{}, false, badInput("page size must be at least 1")
		}
		size = min(*count, r.maxSize)
	}

	from, to := seriesFloor, seriesCeiling
	if args.After != nil {
		t, err := parseTimestamp("after", *args.After)
		if err != nil {
			return store.Page{}, false, err
		}
		from = later(from, t.Truncate(time.Second).Add(time.Second))
	}
	if args.Before != nil {
		t, err := parseTimestamp("before", *args.Before)
		if err != nil {
			return store.Page{}, false, err
		}
		to = earlier(to, t.Add(-time.Nanosecond).Truncate(time.Second))
	}
	if from.After(to) {
		return store.Page{}, reverse, nil
	}

	page, err := r.store.Query(ctx, args.Device, store.QueryOptions{
		PageSize: size,
		Reverse:  reverse,
		Range: &store.SortRange{
			From: keys.SeriesSortKey(kind, from),
			To:   keys.SeriesSortKey(kind, to),
		},
	})
	if err != nil {
		return store.Page{}, false, toError(ctx, r.logger, op, err)
	}
	return page, reverse, nil
}

// seriesConnection builds a reading connection whose cursors are the reading
// timestamps. More readings in the read direction set hasNextPage on a
// forward page and hasPreviousPage on a backward one.
func seriesConnection[E store.Entity, T any](page store.Page, reverse bool, wrap func(E) (T, time.Time)) *connection[T] {
	cursors := make([]string, len(page.Items))
	for i, item := range page.Items {
		if e, ok := item.(E); ok {
			_, at := wrap(e)
			cursors[i] = keys.FormatTimestamp(at)
		}
	}
	more := page.Next != nil
	return buildConnection(page.Items, cursors, reverse, reverse && more, !reverse && more, func(e E) T {
		node, _ := wrap(e)
		return node
	})
}

// --- Mutations ---

func (r *Resolver) PutElectricity(ctx context.Context, args struct{ Input electricityInput }) (*electricityResolver, error) {
	e, err := args.Input.reading()
	if err != nil {
		return nil, err
	}
	if err := r.putReading(ctx, "putElectricity", e); err != nil {
		return nil, err
	}
	return &electricityResolver{e}, nil
}

func (r *Resolver) PutFinalElectricity(ctx context.Context, args struct{ Input finalElectricityInput }) (*finalElectricityResolver, error) {
	e, err := args.Input.reading()
	if err != nil {
		return nil, err
	}
	if e.CumulativeKWhP == "" {
		e.CumulativeKWhP = "0"
	}
	if e.CumulativeKWhN == "" {
		e.CumulativeKWhN = "0"
	}
	if err := r.putReading(ctx, "putFinalElectricity", e); err != nil {
		return nil, err
	}
	return &finalElectricityResolver{e}, nil
}

func (r *Resolver) PutPlaceCondition(ctx context.Context, args struct{ Input placeConditionInput }) (*placeConditionResolver, error) {
	c, err := args.Input.reading()
	if err != nil {
		return nil, err
	}
	if err := r.putReading(ctx, "putPlaceCondition", c); err != nil {
		return nil, err
	}
	return &placeConditionResolver{c}, nil
}

func (r *Resolver) UpdateElectricity(ctx context.Context, args struct{ Input electricityInput }) (*electricityResolver, error) {
	in, err := args.Input.reading()
	if err != nil {
		return nil, err
	}
	e, err := r.updateReading(ctx, "updateElectricity", in)
	if err != nil {
		return nil, err
	}
	return &electricityResolver{e.(*store.Electricity)}, nil
}

func (r *Resolver) UpdateFinalElectricity(ctx context.Context, args struct{ Input finalElectricityInput }) (*finalElectricityResolver, error) {
	in, err := args.Input.reading()
	if err != nil {
		return nil, err
	}
	e, err := r.updateReading(ctx, "updateFinalElectricity", in)
	if err != nil {
		return nil, err
	}
	return &finalElectricityResolver{e.(*store.FinalElectricity)}, nil
}

func (r *Resolver) UpdatePlaceCondition(ctx context.Context, args struct{ Input placeConditionInput }) (*placeConditionResolver, error) {
	in, err := args.Input.reading()
	if err != nil {
		return nil, err
	}
	e, err := r.updateReading(ctx, "updatePlaceCondition", in)
	if err != nil {
		return nil, err
	}
	return &placeConditionResolver{e.(*store.PlaceCondition)}, nil
}

func (r *Resolver) putReading(ctx context.Context, op string, e store.Entity) error {
	caller, err := r.writer(ctx, op)
	if err != nil {
		return err
	}
	if err := r.store.PutItem(ctx, e); err != nil {
		return toError(ctx, r.logger, op, err)
	}
	r.logger.DebugContext(ctx, "reading saved", "op", op, "id", e.Identifier(), "by", caller.Email)
	return nil
}

// updateReading sets the given fields of an existing reading. A reading that
// does not exist is NOT_FOUND.
func (r *Resolver) updateReading(ctx context.Context, op string, in store.Entity) (store.Entity, error) {
	caller, err := r.writer(ctx, op)
	if err != nil {
		return nil, err
	}
	e, err := r.store.UpdateItem(ctx, in)
	if err != nil {
		return nil, toError(ctx, r.logger, op, err)
	}
	if e == nil || e.Kind() != in.Kind() {
		return nil, toError(ctx, r.logger, op, errNotFound)
	}
	r.logger.DebugContext(ctx, "reading updated", "op", op, "id", e.Identifier(), "by", caller.Email)
	return e, nil
}

// readingNode resolves node() for a reading id.
func (r *Resolver) readingNode(ctx context.Context, kind keys.Kind, id string) (*nodeResolver, error) {
	e, err := r.store.GetItem(ctx, kind, id)
	if err != nil {
		return nil, toError(ctx, r.logger, "node", err)
	}
	switch v := e.(type) {
	case *store.Electricity:
		return &nodeResolver{&electricityResolver{v}}, nil
	case *store.FinalElectricity:
		return &nodeResolver{&finalElectricityResolver{v}}, nil
	case *store.PlaceCondition:
		return &nodeResolver{&placeConditionResolver{v}}, nil
	}
	return nil, nil
}

// --- Input conversion ---

func (in electricityInput) reading() (*store.Electricity, error) {
	device, at, err := readingKey(keys.KindElectricity, in.Device, in.Timestamp)
	if err != nil {
		return nil, err
	}
	e := &store.Electricity{Device: device, Timestamp: at, Place: optionalString(in.Place)}
	if e.CumulativeKWhP, err = parseDecimal("cumulativeKwhP", in.CumulativeKWhP); err != nil {
		return nil, err
	}
	if e.CumulativeKWhN, err = parseDecimal("cumulativeKwhN", in.CumulativeKWhN); err != nil {
		return nil, err
	}
	if in.CurrentW != nil {
		w := int64(*in.CurrentW)
		e.CurrentW = &w
	}
	return e, nil
}

func (in finalElectricityInput) reading() (*store.FinalElectricity, error) {
	device, at, err := readingKey(keys.KindFinalElectricity, in.Device, in.Timestamp)
	if err != nil {
		return nil, err
	}
	e := &store.FinalElectricity{Device: device, Timestamp: at, Place: optionalString(in.Place)}
	p, err := parseDecimal("cumulativeKwhP", in.CumulativeKWhP)
	if err != nil {
		return nil, err
	}
	n, err := parseDecimal("cumulativeKwhN", in.CumulativeKWhN)
	if err != nil {
		return nil, err
	}
	if p != nil {
		e.CumulativeKWhP = *p
	}
	if n != nil {
		e.CumulativeKWhN = *n
	}
	return e, nil
}

func (in placeConditionInput) reading() (*store.PlaceCondition, error) {
	device, at, err := readingKey(keys.KindPlaceCondition, in.Device, in.Timestamp)
	if err != nil {
		return nil, err
	}
	c := &store.PlaceCondition{Device: device, Timestamp: at, Place: optionalString(in.Place)}
	fields := []struct {
		name string
		in   *string
		out  **store.Decimal
	}{
		{"temperature", in.Temperature, &c.Temperature},
		{"humidity", in.Humidity, &c.Humidity},
		{"illuminance", in.Illuminance, &c.Illuminance},
		{"motion", in.Motion, &c.Motion},
	}
	for _, f := range fields {
		if *f.out, err = parseDecimal(f.name, f.in); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// readingKey validates the device and timestamp of a reading. Timestamps are
// kept to the second, so fractional seconds are rejected rather than dropped.
func readingKey(kind keys.Kind, device string, ts graphql.Time) (string, time.Time, error) {
	at := ts.Time.UTC()
	if !at.Equal(at.Truncate(time.Second)) {
		return "", time.Time{}, badInput("timestamp must be a whole second")
	}
	if at.Before(seriesFloor) || at.After(seriesCeiling) {
		return "", time.Time{}, badInput("timestamp out of range")
	}
	if !keys.Valid(kind, keys.SeriesID(device, at)) {
		return "", time.Time{}, badInput("invalid device id")
	}
	return device, at, nil
}

// parseDecimal validates a decimal input and returns its canonical form.
func parseDecimal(field string, s *string) (*store.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, badInput(field + " must be a decimal number")
	}
	out := store.Decimal(d.String())
	if len(out) > maxDecimalLen {
		return nil, badInput(field + " has too many digits")
	}
	return &out, nil
}

func parseTimestamp(field, s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, badInput(field + " must be an RFC 3339 timestamp")
	}
	return t.UTC(), nil
}

func optionalString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func later(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

func earlier(a, b time.Time) time.Time {
	if b.Before(a) {
		return b
	}
	return a
}

// --- Reading resolvers ---

type electricityResolver struct{ e *store.Electricity }

func (r *electricityResolver) ID() graphql.ID {
	return graphql.ID(keys.GlobalID(keys.KindElectricity, r.e.Identifier()))
}

func (r *electricityResolver) Device() string          { return r.e.Device }
func (r *electricityResolver) Timestamp() graphql.Time { return graphql.Time{Time: r.e.Timestamp} }
func (r *electricityResolver) Place() string           { return r.e.Place }
func (r *electricityResolver) CumulativeKWhP() *string { return decimalString(r.e.CumulativeKWhP) }
func (r *electricityResolver) CumulativeKWhN() *string { return decimalString(r.e.CumulativeKWhN) }

func (r *electricityResolver) CurrentW() *string {
	if r.e.CurrentW == nil {
		return nil
	}
	s := decimal.NewFromInt(*r.e.CurrentW).String()
	return &s
}

type finalElectricityResolver struct{ e *store.FinalElectricity }

func (r *finalElectricityResolver) ID() graphql.ID {
	return graphql.ID(keys.GlobalID(keys.KindFinalElectricity, r.e.Identifier()))
}

func (r *finalElectricityResolver) Device() string          { return r.e.Device }
func (r *finalElectricityResolver) Timestamp() graphql.Time { return graphql.Time{Time: r.e.Timestamp} }
func (r *finalElectricityResolver) Place() string           { return r.e.Place }
func (r *finalElectricityResolver) CumulativeKWhP() string  { return string(r.e.CumulativeKWhP) }
func (r *finalElectricityResolver) CumulativeKWhN() string  { return string(r.e.CumulativeKWhN) }

type placeConditionResolver struct{ c *store.PlaceCondition }

func (r *placeConditionResolver) ID() graphql.ID {
	return graphql.ID(keys.GlobalID(keys.KindPlaceCondition, r.c.Identifier()))
}

func (r *placeConditionResolver) Device() string          { return r.c.Device }
func (r *placeConditionResolver) Timestamp() graphql.Time { return graphql.Time{Time: r.c.Timestamp} }
func (r *placeConditionResolver) Place() string           { return r.c.Place }
func (r *placeConditionResolver) Temperature() *string    { return decimalString(r.c.Temperature) }
func (r *placeConditionResolver) Humidity() *string       { return decimalString(r.c.Humidity) }
func (r *placeConditionResolver) Illuminance() *string    { return decimalString(r.c.Illuminance) }
func (r *placeConditionResolver) Motion() *string         { return decimalString(r.c.Motion) }

func decimalString(d *store.Decimal) *string {
	if d == nil {
		return nil
	}
	s := string(*d)
	return &s
}
