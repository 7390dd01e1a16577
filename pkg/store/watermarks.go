package store

import "commsync/pkg/feed"

// UpdateWatermarks advances the oldest/newest pointers from a fetched batch.
// olderRequest tells whether the request that produced the batch extended
// history backwards; ascending tells whether the batch itself is sorted
// oldest-first. An empty batch is a no-op.
//
// A watermark only moves in the direction implied by the request that
// produced the evidence: on a timestamp tie the update is committed only
// when the request direction matches, so a reordered response returning the
// same boundary message cannot flap the watermark id back and forth.
func (c *ChannelState) UpdateWatermarks(batch []feed.BatchEntry, olderRequest, ascending bool) {
	if len(batch) == 0 {
		return
	}
	newest := batch[0]
	oldest := batch[len(batch)-1]
	if ascending {
		newest, oldest = oldest, newest
	}

	if c.OldestTimestampMs == EmptyWatermark || oldest.TimestampMs <= c.OldestTimestampMs {
		if olderRequest || oldest.TimestampMs != c.OldestTimestampMs {
			c.OldestTimestampMs = oldest.TimestampMs
			c.OldestID = oldest.ID
		}
	}
	if c.NewestTimestampMs == EmptyWatermark || newest.TimestampMs >= c.NewestTimestampMs {
		if !olderRequest || newest.TimestampMs != c.NewestTimestampMs {
			c.NewestTimestampMs = newest.TimestampMs
			c.NewestID = newest.ID
		}
	}
}
