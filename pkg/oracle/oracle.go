// Package oracle documents the external oracle conversion contract
// (spec.md §6) that the engine depends on but never implements itself:
// converting either a Pyth-v2 price account or a Pyth Pull PriceUpdateV2
// into (price_e6, publish_slot), applying invert/unit_scale and enforcing
// max_staleness_slots/conf_filter_bps. The engine's operations always
// receive an already-converted price_e6; this package exists only to give
// that boundary a concrete Go type instead of a bare uint64 floating
// through call signatures, and to carry the byte-offset documentation
// recovered from the original program (out of scope to re-implement here —
// spec.md §1 lists "oracle parsing" among the external collaborators).
package oracle

import "github.com/hyperslab/percolator/pkg/identity"

// Price is the collaborator's converted output: a price_e6 and the slot it
// was published at, ready for the engine to consume directly.
type Price struct {
	PriceE6     uint64
	PublishSlot uint64
}

// Feed is the conversion contract boundary. A real implementation reads a
// Pyth-v2 account (fields at offsets 20/176/184/200 for expo/price/conf/
// pub_slot, per _examples/original_source/src/percolator.rs's
// read_pyth_price_e6) or a Pull PriceUpdateV2, and must itself enforce
// max_staleness_slots and conf_filter_bps before returning — the engine
// trusts whatever Price it is handed.
type Feed interface {
	Convert(nowSlot uint64) (Price, error)
}

// HyperpFeedID is the all-zero feed_id that signals Hyperp mode (spec.md
// §6): no external feed, an admin-pushed authority price stored on-slab.
var HyperpFeedID identity.ID

// IsHyperpFeed reports whether feedID signals Hyperp mode.
func IsHyperpFeed(feedID identity.ID) bool {
	return feedID == HyperpFeedID
}
