package graph

import (
	"sort"
	"time"

	graphql "github.com/graph-gophers/graphql-go"

	"github.com/jacentio/homeapi/auth"
	"github.com/jacentio/homeapi/internal/cursor"
	"github.com/jacentio/homeapi/internal/keys"
	"github.com/jacentio/homeapi/store"
)

type nodeResolver struct {
	node interface{ ID() graphql.ID }
}

func (n *nodeResolver) ID() graphql.ID { return n.node.ID() }

func (n *nodeResolver) ToDevice() (*deviceResolver, bool) {
	d, ok := n.node.(*deviceResolver)
	return d, ok
}

func (n *nodeResolver) ToPlace() (*placeResolver, bool) {
	p, ok := n.node.(*placeResolver)
	return p, ok
}

func (n *nodeResolver) ToAPIKey() (*apiKeyResolver, bool) {
	k, ok := n.node.(*apiKeyResolver)
	return k, ok
}

func (n *nodeResolver) ToElectricity() (*electricityResolver, bool) {
	e, ok := n.node.(*electricityResolver)
	return e, ok
}

func (n *nodeResolver) ToFinalElectricity() (*finalElectricityResolver, bool) {
	e, ok := n.node.(*finalElectricityResolver)
	return e, ok
}

func (n *nodeResolver) ToPlaceCondition() (*placeConditionResolver, bool) {
	c, ok := n.node.(*placeConditionResolver)
	return c, ok
}

type deviceResolver struct{ d *store.Device }

func (r *deviceResolver) ID() graphql.ID {
	return graphql.ID(keys.GlobalID(keys.KindDevice, r.d.ID))
}

func (r *deviceResolver) Name() string  { return r.d.Name }
func (r *deviceResolver) Place() string { return r.d.Place }

func (r *deviceResolver) Metadata() []*metadataEntry {
	out := make([]*metadataEntry, 0, len(r.d.Metadata))
	for k, v := range r.d.Metadata {
		out = append(out, &metadataEntry{key: k, value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out
}

func (r *deviceResolver) UpdatedAt() *graphql.Time { return optionalTime(r.d.UpdatedAt) }

type metadataEntry struct{ key, value string }

func (m *metadataEntry) Key() string   { return m.key }
func (m *metadataEntry) Value() string { return m.value }

type placeResolver struct{ p *store.Place }

func (r *placeResolver) ID() graphql.ID {
	return graphql.ID(keys.GlobalID(keys.KindPlace, r.p.ID))
}

func (r *placeResolver) Name() string { return r.p.Name }

// apiKeyResolver exposes key metadata. The owner and hash are not fields.
type apiKeyResolver struct{ k *store.APIKey }

func (r *apiKeyResolver) ID() graphql.ID {
	return graphql.ID(keys.GlobalID(keys.KindAPIKey, r.k.Hash))
}

func (r *apiKeyResolver) Name() string              { return r.k.Name }
func (r *apiKeyResolver) CreatedAt() graphql.Time   { return graphql.Time{Time: r.k.CreatedAt} }
func (r *apiKeyResolver) LastUsedAt() *graphql.Time { return optionalTime(r.k.LastUsedAt) }
func (r *apiKeyResolver) ExpiresAt() *graphql.Time  { return optionalTime(r.k.ExpiresAt) }

type viewerResolver struct{ id *auth.Identity }

func (r *viewerResolver) Email() string { return r.id.Email }

func (r *viewerResolver) Provenance() string {
	if r.id.Provenance == auth.ProvenanceAPIKey {
		return "API_KEY"
	}
	return "OAUTH"
}

type createAPIKeyPayload struct {
	key    *apiKeyResolver
	secret string
}

func (p *createAPIKeyPayload) APIKey() *apiKeyResolver { return p.key }
func (p *createAPIKeyPayload) Key() string             { return p.secret }

type deletePayload struct{ success bool }

func (p *deletePayload) Success() bool { return p.success }

type pageInfo struct {
	hasNext     bool
	hasPrevious bool
	startCursor *string
	endCursor   *string
}

func (p *pageInfo) HasNextPage() bool     { return p.hasNext }
func (p *pageInfo) HasPreviousPage() bool { return p.hasPrevious }
func (p *pageInfo) StartCursor() *string  { return p.startCursor }
func (p *pageInfo) EndCursor() *string    { return p.endCursor }

type edge[T any] struct {
	cursor string
	node   T
}

func (e *edge[T]) Cursor() string { return e.cursor }
func (e *edge[T]) Node() T        { return e.node }

type connection[T any] struct {
	edges []*edge[T]
	info  *pageInfo
}

func (c *connection[T]) Edges() []*edge[T]   { return c.edges }
func (c *connection[T]) PageInfo() *pageInfo { return c.info }

// newConnection converts a store page, re-encoding each item's token as an
// opaque cursor. A backward page is read in descending order and flipped so
// edges are always in ascending order.
func newConnection[E store.Entity, T any](page store.Page, req pageRequest, wrap func(E) T) *connection[T] {
	cursors := make([]string, len(page.Cursors))
	for i, t := range page.Cursors {
		cursors[i] = cursor.Encode(t)
	}
	more := page.Next != nil
	if req.reverse {
		return buildConnection(page.Items, cursors, true, more, req.bounded, wrap)
	}
	return buildConnection(page.Items, cursors, false, req.bounded, more, wrap)
}

// buildConnection wraps items of type E as edges. Items of any other type are
// skipped.
func buildConnection[E store.Entity, T any](items []store.Entity, cursors []string, reverse, hasPrevious, hasNext bool, wrap func(E) T) *connection[T] {
	c := &connection[T]{
		edges: []*edge[T]{},
		info:  &pageInfo{hasNext: hasNext, hasPrevious: hasPrevious},
	}
	for i := range items {
		j := i
		if reverse {
			j = len(items) - 1 - i
		}
		e, ok := items[j].(E)
		if !ok {
			continue
		}
		c.edges = append(c.edges, &edge[T]{cursor: cursors[j], node: wrap(e)})
	}
	if n := len(c.edges); n > 0 {
		start, end := c.edges[0].cursor, c.edges[n-1].cursor
		c.info.startCursor = &start
		c.info.endCursor = &end
	}
	return c
}

func optionalTime(t *time.Time) *graphql.Time {
	if t == nil {
		return nil
	}
	return &graphql.Time{Time: *t}
}
