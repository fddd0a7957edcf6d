package graph

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	graphql "github.com/graph-gophers/graphql-go"

	"github.com/jacentio/homeapi/auth"
	"github.com/jacentio/homeapi/internal/cursor"
	"github.com/jacentio/homeapi/internal/keys"
	"github.com/jacentio/homeapi/store"
)

// Resolver is the root resolver for queries and mutations.
type Resolver struct {
	store       Store
	auth        Authenticator
	logger      *slog.Logger
	policy      WritePolicy
	defaultSize int32
	maxSize     int32
	fallback    string
	now         func() time.Time
}

type idArgs struct {
	ID graphql.ID
}

type connectionArgs struct {
	First  *int32
	After  *string
	Last   *int32
	Before *string
}

// pageRequest is a validated connectionArgs. Backward pages read in reverse
// from before. bounded is set when the page starts at a cursor, so items exist
// on the other side of it.
type pageRequest struct {
	size    int32
	token   store.Token
	reverse bool
	bounded bool
}

type metadataEntryInput struct {
	Key   string
	Value string
}

type createDeviceInput struct {
	ID       *string
	Name     *string
	Place    string
	Metadata *[]metadataEntryInput
}

type updateDeviceInput struct {
	ID       graphql.ID
	Name     *string
	Place    *string
	Metadata *[]metadataEntryInput
}

type createPlaceInput struct {
	ID   *string
	Name string
}

type updatePlaceInput struct {
	ID   graphql.ID
	Name string
}

// --- Queries ---

func (r *Resolver) Node(ctx context.Context, args idArgs) (*nodeResolver, error) {
	kind, id, err := keys.ParseGlobalID(string(args.ID))
	if err != nil {
		return nil, toError(ctx, r.logger, "node", err)
	}

	switch kind {
	case keys.KindDevice:
		d, err := r.device(ctx, id)
		if err != nil || d == nil {
			return nil, err
		}
		return &nodeResolver{d}, nil
	case keys.KindPlace:
		p, err := r.place(ctx, id)
		if err != nil || p == nil {
			return nil, err
		}
		return &nodeResolver{p}, nil
	case keys.KindAPIKey:
		k, err := r.ownedAPIKey(ctx, id)
		if err != nil || k == nil {
			return nil, err
		}
		return &nodeResolver{k}, nil
	case keys.KindElectricity, keys.KindFinalElectricity, keys.KindPlaceCondition:
		return r.readingNode(ctx, kind, id)
	default:
		return nil, badInput("id does not refer to a node")
	}
}

func (r *Resolver) Device(ctx context.Context, args idArgs) (*deviceResolver, error) {
	id, err := parseID(args.ID, keys.KindDevice)
	if err != nil {
		return nil, err
	}
	return r.device(ctx, id)
}

func (r *Resolver) Place(ctx context.Context, args idArgs) (*placeResolver, error) {
	id, err := parseID(args.ID, keys.KindPlace)
	if err != nil {
		return nil, err
	}
	return r.place(ctx, id)
}

func (r *Resolver) Devices(ctx context.Context, args connectionArgs) (*connection[*deviceResolver], error) {
	page, req, err := r.partitionPage(ctx, "devices", keys.DevicePartition, args)
	if err != nil {
		return nil, err
	}
	return newConnection(page, req, func(d *store.Device) *deviceResolver { return &deviceResolver{d} }), nil
}

func (r *Resolver) Places(ctx context.Context, args connectionArgs) (*connection[*placeResolver], error) {
	page, req, err := r.partitionPage(ctx, "places", keys.PlacePartition, args)
	if err != nil {
		return nil, err
	}
	return newConnection(page, req, func(p *store.Place) *placeResolver { return &placeResolver{p} }), nil
}

// APIKeys lists the caller's keys. The owner index is only paged forward.
func (r *Resolver) APIKeys(ctx context.Context, args connectionArgs) (*connection[*apiKeyResolver], error) {
	caller, err := identityFrom(ctx)
	if err != nil {
		return nil, toError(ctx, r.logger, "apiKeys", err)
	}
	req, err := r.pageArgs(args)
	if err != nil {
		return nil, toError(ctx, r.logger, "apiKeys", err)
	}
	page, err := r.auth.ListAPIKeys(ctx, caller.Email, req.token, req.size)
	if err != nil {
		return nil, toError(ctx, r.logger, "apiKeys", err)
	}
	return newConnection(page, req, func(k *store.APIKey) *apiKeyResolver { return &apiKeyResolver{k} }), nil
}

// Viewer returns the caller, or null for anonymous requests.
func (r *Resolver) Viewer(ctx context.Context) (*viewerResolver, error) {
	caller, err := identityFrom(ctx)
	if errors.Is(err, auth.ErrUnauthenticated) {
		return nil, nil
	}
	if err != nil {
		return nil, toError(ctx, r.logger, "viewer", err)
	}
	return &viewerResolver{caller}, nil
}

// --- API key mutations ---

func (r *Resolver) CreateAPIKey(ctx context.Context, args struct {
	Name      string
	ExpiresAt *graphql.Time
}) (*createAPIKeyPayload, error) {
	caller, err := identityFrom(ctx)
	if err != nil {
		return nil, toError(ctx, r.logger, "createApiKey", err)
	}
	if caller.Provenance != auth.ProvenanceOAuth {
		return nil, &Error{Code: CodeForbidden, Message: "api keys can only be created after signing in with Google"}
	}

	var expiresAt *time.Time
	if args.ExpiresAt != nil {
		t := args.ExpiresAt.Time.UTC()
		expiresAt = &t
	}
	k, secret, err := r.auth.IssueAPIKey(ctx, caller.Email, args.Name, expiresAt)
	if err != nil {
		return nil, toError(ctx, r.logger, "createApiKey", err)
	}
	return &createAPIKeyPayload{key: &apiKeyResolver{k}, secret: secret}, nil
}

func (r *Resolver) DeleteAPIKey(ctx context.Context, args idArgs) (*deletePayload, error) {
	caller, err := identityFrom(ctx)
	if err != nil {
		return nil, toError(ctx, r.logger, "deleteApiKey", err)
	}
	hash, err := parseID(args.ID, keys.KindAPIKey)
	if err != nil {
		return nil, err
	}
	if err := r.auth.DeleteAPIKey(ctx, hash, caller.Email); err != nil {
		return nil, toError(ctx, r.logger, "deleteApiKey", err)
	}
	return &deletePayload{success: true}, nil
}

// --- Device mutations ---

func (r *Resolver) CreateDevice(ctx context.Context, args struct{ Input createDeviceInput }) (*deviceResolver, error) {
	caller, err := r.writer(ctx, "createDevice")
	if err != nil {
		return nil, err
	}
	in := args.Input

	id, err := newEntityID(keys.KindDevice, in.ID)
	if err != nil {
		return nil, err
	}
	place, err := r.devicePlace(ctx, "createDevice", in.Place)
	if err != nil {
		return nil, err
	}
	d := &store.Device{ID: id, Place: place}
	if in.Name != nil {
		d.Name = strings.TrimSpace(*in.Name)
	}
	if in.Metadata != nil {
		if d.Metadata, err = metadataMap(*in.Metadata); err != nil {
			return nil, err
		}
	}
	return r.saveDevice(ctx, "createDevice", caller, d)
}

func (r *Resolver) UpdateDevice(ctx context.Context, args struct{ Input updateDeviceInput }) (*deviceResolver, error) {
	caller, err := r.writer(ctx, "updateDevice")
	if err != nil {
		return nil, err
	}
	in := args.Input

	id, err := parseID(in.ID, keys.KindDevice)
	if err != nil {
		return nil, err
	}
	e, err := r.store.GetItem(ctx, keys.KindDevice, id)
	if err != nil {
		return nil, toError(ctx, r.logger, "updateDevice", err)
	}
	d, ok := e.(*store.Device)
	if !ok {
		return nil, toError(ctx, r.logger, "updateDevice", errNotFound)
	}

	if in.Name != nil {
		d.Name = strings.TrimSpace(*in.Name)
	}
	if in.Place != nil {
		if d.Place, err = r.devicePlace(ctx, "updateDevice", *in.Place); err != nil {
			return nil, err
		}
	}
	if in.Metadata != nil {
		if d.Metadata, err = metadataMap(*in.Metadata); err != nil {
			return nil, err
		}
	}
	return r.saveDevice(ctx, "updateDevice", caller, d)
}

func (r *Resolver) DeleteDevice(ctx context.Context, args idArgs) (*deletePayload, error) {
	return r.deleteEntity(ctx, "deleteDevice", keys.KindDevice, args.ID)
}

// --- Place mutations ---

func (r *Resolver) CreatePlace(ctx context.Context, args struct{ Input createPlaceInput }) (*placeResolver, error) {
	caller, err := r.writer(ctx, "createPlace")
	if err != nil {
		return nil, err
	}
	id, err := newEntityID(keys.KindPlace, args.Input.ID)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(args.Input.Name)
	if name == "" {
		return nil, badInput("name is required")
	}
	return r.savePlace(ctx, "createPlace", caller, &store.Place{ID: id, Name: name})
}

func (r *Resolver) UpdatePlace(ctx context.Context, args struct{ Input updatePlaceInput }) (*placeResolver, error) {
	caller, err := r.writer(ctx, "updatePlace")
	if err != nil {
		return nil, err
	}
	id, err := parseID(args.Input.ID, keys.KindPlace)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(args.Input.Name)
	if name == "" {
		return nil, badInput("name is required")
	}

	e, err := r.store.GetItem(ctx, keys.KindPlace, id)
	if err != nil {
		return nil, toError(ctx, r.logger, "updatePlace", err)
	}
	p, ok := e.(*store.Place)
	if !ok {
		return nil, toError(ctx, r.logger, "updatePlace", errNotFound)
	}
	p.Name = name
	return r.savePlace(ctx, "updatePlace", caller, p)
}

func (r *Resolver) DeletePlace(ctx context.Context, args idArgs) (*deletePayload, error) {
	return r.deleteEntity(ctx, "deletePlace", keys.KindPlace, args.ID)
}

// --- helpers ---

func (r *Resolver) device(ctx context.Context, id string) (*deviceResolver, error) {
	e, err := r.store.GetItem(ctx, keys.KindDevice, id)
	if err != nil {
		return nil, toError(ctx, r.logger, "device", err)
	}
	d, ok := e.(*store.Device)
	if !ok {
		return nil, nil
	}
	return &deviceResolver{d}, nil
}

func (r *Resolver) place(ctx context.Context, id string) (*placeResolver, error) {
	e, err := r.store.GetItem(ctx, keys.KindPlace, id)
	if err != nil {
		return nil, toError(ctx, r.logger, "place", err)
	}
	p, ok := e.(*store.Place)
	if !ok {
		return nil, nil
	}
	return &placeResolver{p}, nil
}

// ownedAPIKey returns the caller's key with the given hash. Keys that do not
// exist or belong to someone else resolve to nil.
func (r *Resolver) ownedAPIKey(ctx context.Context, hash string) (*apiKeyResolver, error) {
	caller, err := identityFrom(ctx)
	if err != nil {
		return nil, toError(ctx, r.logger, "node", err)
	}
	k, err := r.auth.APIKey(ctx, hash, caller.Email)
	if errors.Is(err, auth.ErrNotFound) || errors.Is(err, auth.ErrForbidden) {
		return nil, nil
	}
	if err != nil {
		return nil, toError(ctx, r.logger, "node", err)
	}
	return &apiKeyResolver{k}, nil
}

func (r *Resolver) partitionPage(ctx context.Context, op, pk string, args connectionArgs) (store.Page, pageRequest, error) {
	req, err := r.pageArgs(args)
	if err != nil {
		return store.Page{}, req, toError(ctx, r.logger, op, err)
	}
	page, err := r.store.Query(ctx, pk, store.QueryOptions{
		Token:    req.token,
		PageSize: req.size,
		Reverse:  req.reverse,
	})
	if err != nil {
		return store.Page{}, req, toError(ctx, r.logger, op, err)
	}
	return page, req, nil
}

func (r *Resolver) pageArgs(args connectionArgs) (pageRequest, error) {
	if args.First != nil && args.Last != nil {
		return pageRequest{}, badInput("first and last cannot be combined")
	}
	if args.After != nil && args.Before != nil {
		return pageRequest{}, badInput("after and before cannot be combined")
	}

	req := pageRequest{size: r.defaultSize}
	count, from := args.First, args.After
	if args.Last != nil || args.Before != nil {
		req.reverse = true
		count, from = args.Last, args.Before
	}
	if count != nil {
		if *count < 1 {
			return pageRequest{}, badInput("page size must be at least 1")
		}
		req.size = min(*count, r.maxSize)
	}
	if from == nil {
		return req, nil
	}
	token, err := cursor.Decode(*from)
	if err != nil {
		return pageRequest{}, err
	}
	req.token = store.Token(token)
	req.bounded = true
	return req, nil
}

// devicePlace validates the place id given for a device. It must name an
// existing Place or be the fallback place.
func (r *Resolver) devicePlace(ctx context.Context, op, place string) (string, error) {
	place = strings.TrimSpace(place)
	if place == "" {
		return "", badInput("place is required")
	}
	if place == r.fallback {
		return place, nil
	}
	if !keys.Valid(keys.KindPlace, place) {
		return "", badInput("invalid place id")
	}
	e, err := r.store.GetItem(ctx, keys.KindPlace, place)
	if err != nil {
		return "", toError(ctx, r.logger, op, err)
	}
	if e == nil {
		return "", badInput("place " + place + " does not exist")
	}
	return place, nil
}

// writer returns the caller if the write policy lets them change devices and places.
func (r *Resolver) writer(ctx context.Context, op string) (*auth.Identity, error) {
	caller, err := identityFrom(ctx)
	if err != nil {
		return nil, toError(ctx, r.logger, op, err)
	}
	if !r.policy.CanWrite(caller) {
		return nil, toError(ctx, r.logger, op, auth.ErrForbidden)
	}
	return caller, nil
}

func (r *Resolver) saveDevice(ctx context.Context, op string, caller *auth.Identity, d *store.Device) (*deviceResolver, error) {
	now := r.now().UTC()
	d.UpdatedAt = &now
	if err := r.store.PutItem(ctx, d); err != nil {
		return nil, toError(ctx, r.logger, op, err)
	}
	r.logger.InfoContext(ctx, "device saved", "op", op, "device", d.ID, "place", d.Place, "by", caller.Email)
	return &deviceResolver{d}, nil
}

func (r *Resolver) savePlace(ctx context.Context, op string, caller *auth.Identity, p *store.Place) (*placeResolver, error) {
	if err := r.store.PutItem(ctx, p); err != nil {
		return nil, toError(ctx, r.logger, op, err)
	}
	r.logger.InfoContext(ctx, "place saved", "op", op, "place", p.ID, "by", caller.Email)
	return &placeResolver{p}, nil
}

// deleteEntity removes a device or place. Deleting a missing entity succeeds.
func (r *Resolver) deleteEntity(ctx context.Context, op string, kind keys.Kind, gid graphql.ID) (*deletePayload, error) {
	caller, err := r.writer(ctx, op)
	if err != nil {
		return nil, err
	}
	id, err := parseID(gid, kind)
	if err != nil {
		return nil, err
	}
	if err := r.store.DeleteItem(ctx, kind, id); err != nil {
		return nil, toError(ctx, r.logger, op, err)
	}
	r.logger.InfoContext(ctx, "entity deleted", "op", op, "kind", kind, "id", id, "by", caller.Email)
	return &deletePayload{success: true}, nil
}

// parseID decodes an external id that must refer to an entity of kind.
func parseID(gid graphql.ID, kind keys.Kind) (string, error) {
	got, id, err := keys.ParseGlobalID(string(gid))
	if err != nil {
		return "", &Error{Code: CodeBadUserInput, Message: "invalid id", err: err}
	}
	if got != kind {
		return "", badInput("id does not refer to a " + string(kind))
	}
	return id, nil
}

// newEntityID returns the client-chosen id, or a generated one when absent.
func newEntityID(kind keys.Kind, requested *string) (string, error) {
	if requested == nil {
		return uuid.NewString(), nil
	}
	id := strings.TrimSpace(*requested)
	if !keys.Valid(kind, id) {
		return "", badInput("invalid " + strings.ToLower(string(kind)) + " id")
	}
	return id, nil
}

func metadataMap(entries []metadataEntryInput) (map[string]string, error) {
	m := make(map[string]string, len(entries))
	for _, e := range entries {
		if e.Key == "" {
			return nil, badInput("metadata keys cannot be empty")
		}
		m[e.Key] = e.Value
	}
	return m, nil
}
