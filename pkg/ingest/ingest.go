// Package ingest merges fetched comm batches into a channel's store. The
// merge is idempotent: entries are deduplicated by id, so retried or
// overlapping pages never produce duplicates, and re-ingesting a batch is a
// no-op.
package ingest

import (
	"commsync/pkg/feed"
	"commsync/pkg/logger"
	"commsync/pkg/store"
)

// Result summarizes one Apply call.
type Result struct {
	// Added counts previously-unseen entries inserted into the store.
	Added int
	// Duplicates counts entries skipped because their id was already stored.
	Duplicates int
	// Malformed counts entries skipped because they could not be parsed.
	Malformed int
	// OlderAdded reports whether any previously-unseen message was inserted
	// at the head of the display order. The presentation layer uses it to
	// pick its scroll-preservation strategy.
	OlderAdded bool
}

// Apply merges batch into the channel state. olderRequest and ascending are
// the direction flags of the request that produced the batch; the batch's
// own ordering follows ascending, never an inference from the request type
// (catch-up fetches after an idle gap are newer-page requests that return
// ascending batches).
//
// The caller must hold the registry's write lock (store.Registry.Mutate).
func Apply(c *store.ChannelState, batch []feed.BatchEntry, olderRequest, ascending bool) Result {
	// Watermark semantics depend on the incoming evidence, not on what is
	// already stored, so the tracker runs against the pre-ingestion state.
	c.UpdateWatermarks(batch, olderRequest, ascending)

	var res Result
	if len(batch) == 0 {
		return res
	}

	var newIDs []string
	for _, entry := range batch {
		if _, seen := c.Messages[entry.ID]; seen {
			res.Duplicates++
			continue
		}
		msg, err := entry.Message()
		if err != nil {
			// per-entry skip keeps the idempotent merge intact for the rest
			// of the batch
			logger.Warn("ingest_entry_malformed", "channel", c.ID, "id", entry.ID, "error", err)
			res.Malformed++
			continue
		}
		c.Messages[msg.ID] = msg
		newIDs = append(newIDs, msg.ID)
		res.Added++
	}
	if len(newIDs) == 0 {
		return res
	}

	if ascending {
		// chronologically increasing batch extends the ascending tail
		c.Order = append(c.Order, newIDs...)
	} else {
		// a descending batch is prepended entry by entry, which lands the
		// ids at the head in ascending order overall
		front := make([]string, 0, len(newIDs)+len(c.Order))
		for i := len(newIDs) - 1; i >= 0; i-- {
			front = append(front, newIDs[i])
		}
		c.Order = append(front, c.Order...)
		res.OlderAdded = true
	}
	return res
}
