package store

import (
	"testing"

	"commsync/pkg/feed"
)

func entry(id string, ts int64) feed.BatchEntry {
	return feed.BatchEntry{ID: id, TimestampMs: ts}
}

func freshState() *ChannelState {
	return newChannelState(ChannelSpec{ID: "all", ViewportScoped: true})
}

func TestWatermarksEmptyBatchIsNoop(t *testing.T) {
	c := freshState()
	c.UpdateWatermarks(nil, false, false)
	if c.OldestTimestampMs != EmptyWatermark || c.NewestTimestampMs != EmptyWatermark {
		t.Fatalf("empty batch moved watermarks")
	}
}

func TestWatermarksFirstBatchAdoptsBothEnds(t *testing.T) {
	c := freshState()
	// descending batch: newest first
	c.UpdateWatermarks([]feed.BatchEntry{entry("c", 300), entry("b", 200), entry("a", 100)}, false, false)
	if c.OldestTimestampMs != 100 || c.OldestID != "a" {
		t.Fatalf("oldest = %d/%s", c.OldestTimestampMs, c.OldestID)
	}
	if c.NewestTimestampMs != 300 || c.NewestID != "c" {
		t.Fatalf("newest = %d/%s", c.NewestTimestampMs, c.NewestID)
	}
}

func TestWatermarksAscendingBatchSwapsEnds(t *testing.T) {
	c := freshState()
	c.UpdateWatermarks([]feed.BatchEntry{entry("a", 100), entry("b", 200)}, false, true)
	if c.OldestTimestampMs != 100 || c.OldestID != "a" {
		t.Fatalf("oldest = %d/%s", c.OldestTimestampMs, c.OldestID)
	}
	if c.NewestTimestampMs != 200 || c.NewestID != "b" {
		t.Fatalf("newest = %d/%s", c.NewestTimestampMs, c.NewestID)
	}
}

func TestWatermarksOlderPageOnlyExtendsBackwards(t *testing.T) {
	c := freshState()
	c.UpdateWatermarks([]feed.BatchEntry{entry("c", 300), entry("b", 200)}, false, false)
	c.UpdateWatermarks([]feed.BatchEntry{entry("b", 200), entry("a", 100)}, true, false)
	if c.OldestTimestampMs != 100 || c.OldestID != "a" {
		t.Fatalf("older page did not extend oldest: %d/%s", c.OldestTimestampMs, c.OldestID)
	}
	// the older page's newest entry (ts 200) must not pull newest back
	if c.NewestTimestampMs != 300 || c.NewestID != "c" {
		t.Fatalf("older page moved newest: %d/%s", c.NewestTimestampMs, c.NewestID)
	}
}

func TestWatermarksNewerPageOnlyExtendsForwards(t *testing.T) {
	c := freshState()
	c.UpdateWatermarks([]feed.BatchEntry{entry("b", 200), entry("a", 100)}, false, false)
	c.UpdateWatermarks([]feed.BatchEntry{entry("b", 200), entry("c", 300)}, false, true)
	if c.NewestTimestampMs != 300 || c.NewestID != "c" {
		t.Fatalf("newer page did not extend newest: %d/%s", c.NewestTimestampMs, c.NewestID)
	}
	if c.OldestTimestampMs != 100 || c.OldestID != "a" {
		t.Fatalf("newer page moved oldest: %d/%s", c.OldestTimestampMs, c.OldestID)
	}
}

func TestWatermarksTieDoesNotFlapAcrossDirections(t *testing.T) {
	c := freshState()
	c.UpdateWatermarks([]feed.BatchEntry{entry("b", 200), entry("a", 100)}, false, false)

	// a newer-page response whose boundary entry shares the oldest timestamp
	// but has a different id must not rewrite the oldest pointer
	c.UpdateWatermarks([]feed.BatchEntry{entry("x", 100)}, false, false)
	if c.OldestID != "a" {
		t.Fatalf("tie on newer request rewrote oldest id to %s", c.OldestID)
	}

	// the matching direction commits the tie
	c.UpdateWatermarks([]feed.BatchEntry{entry("x", 100)}, true, false)
	if c.OldestID != "x" {
		t.Fatalf("tie on older request did not commit, oldest id %s", c.OldestID)
	}

	// symmetric case for the newest pointer
	c.UpdateWatermarks([]feed.BatchEntry{entry("y", 200)}, true, false)
	if c.NewestID != "b" {
		t.Fatalf("tie on older request rewrote newest id to %s", c.NewestID)
	}
	c.UpdateWatermarks([]feed.BatchEntry{entry("y", 200)}, false, false)
	if c.NewestID != "y" {
		t.Fatalf("tie on newer request did not commit, newest id %s", c.NewestID)
	}
}
