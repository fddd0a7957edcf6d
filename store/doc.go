// Package store is the data access layer over the single DynamoDB table that
// holds every homeapi entity.
//
// # Entities
//
// [Entity] is a closed set of kinds: [*Device], [*Place], [*APIKey], [*User]
// and the device readings [*Electricity], [*FinalElectricity] and
// [*PlaceCondition]. Readings live in their device's partition, keyed by a
// per-series prefix and the reading's timestamp. Keys come from the internal keys package; callers pass a kind and an
// identifier and never see attribute maps.
//
//	st := store.New(dynamodbClient, store.DefaultConfig())
//	dev, err := st.GetDevice(ctx, "fridge") // nil, nil when missing
//
// # Writes
//
// Devices and places are upserted. API keys are created with a condition on
// the hash not existing, so a collision surfaces as [ErrDuplicateKey]. Deletes
// are idempotent. [Store.UpdateItem] changes only the attributes a reading
// sets and reports a missing reading as nil.
//
// # Pagination
//
// [Store.QueryByPartition] and [Store.QueryByIndex] return a [Page] of at most
// pageSize items in sort key order. Page.Next is a [Token] that resumes after
// the last item, nil when nothing remains. A token is bound to the partition
// (or index value) it came from; using it elsewhere fails with [ErrInvalidToken].
//
// [Store.Query] adds a sort key range and descending order, which is how one
// reading series is read over a time window:
//
//	page, err := st.Query(ctx, "meter", store.QueryOptions{
//		PageSize: 50,
//		Range:    &store.SortRange{From: from, To: to},
//		Reverse:  true,
//	})
//
// # Errors
//
//   - [ErrStorage] - request failed after retrying throttling and server errors
//   - [ErrCorruptRecord] - stored item does not decode into an entity
//   - [ErrDuplicateKey] - API key hash already exists
//   - [ErrInvalidToken] - continuation token does not belong to the query
//   - [ErrUnknownIndex] - index is not configured
package store
