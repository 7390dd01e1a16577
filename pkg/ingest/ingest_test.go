package ingest

import (
	"encoding/json"
	"fmt"
	"testing"

	"commsync/pkg/feed"
	"commsync/pkg/store"
)

func entry(id string, ts int64) feed.BatchEntry {
	payload := fmt.Sprintf(`{"text":"msg %s","team":"resistance","sender":"agent"}`, id)
	return feed.BatchEntry{ID: id, TimestampMs: ts, Payload: json.RawMessage(payload)}
}

func newState() *store.ChannelState {
	reg := store.NewRegistry([]store.ChannelSpec{{ID: "all", ViewportScoped: true}})
	var c *store.ChannelState
	_ = reg.Mutate("all", func(s *store.ChannelState) { c = s })
	return c
}

func orderIDs(c *store.ChannelState) []string {
	return append([]string(nil), c.Order...)
}

func TestApplyFirstDescendingBatch(t *testing.T) {
	c := newState()
	// feed returns newest first on an unconstrained fetch
	res := Apply(c, []feed.BatchEntry{entry("m3", 300), entry("m2", 200), entry("m1", 100)}, false, false)
	if res.Added != 3 || res.Duplicates != 0 || res.Malformed != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	got := orderIDs(c)
	if len(got) != 3 || got[0] != "m1" || got[1] != "m2" || got[2] != "m3" {
		t.Fatalf("display order wrong: %v", got)
	}
	if c.OldestID != "m1" || c.NewestID != "m3" {
		t.Fatalf("watermarks wrong: %s/%s", c.OldestID, c.NewestID)
	}
	if !res.OlderAdded {
		t.Fatalf("descending insert did not report OlderAdded")
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	c := newState()
	batch := []feed.BatchEntry{entry("m2", 200), entry("m1", 100)}
	Apply(c, batch, false, false)
	res := Apply(c, batch, false, false)
	if res.Added != 0 || res.Duplicates != 2 {
		t.Fatalf("re-ingesting same batch: %+v", res)
	}
	if c.Len() != 2 {
		t.Fatalf("duplicate ingest changed store size: %d", c.Len())
	}
	if got := orderIDs(c); got[0] != "m1" || got[1] != "m2" {
		t.Fatalf("duplicate ingest reordered store: %v", got)
	}
}

func TestApplyAscendingCatchUpAppendsTail(t *testing.T) {
	c := newState()
	Apply(c, []feed.BatchEntry{entry("m2", 200), entry("m1", 100)}, false, false)

	// catch-up page overlaps at the boundary entry
	res := Apply(c, []feed.BatchEntry{entry("m2", 200), entry("m3", 300), entry("m4", 400)}, false, true)
	if res.Added != 2 || res.Duplicates != 1 {
		t.Fatalf("catch-up result: %+v", res)
	}
	if res.OlderAdded {
		t.Fatalf("tail append reported OlderAdded")
	}
	got := orderIDs(c)
	want := []string{"m1", "m2", "m3", "m4"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order after catch-up: %v", got)
		}
	}
	if c.NewestID != "m4" || c.NewestTimestampMs != 400 {
		t.Fatalf("newest watermark: %s/%d", c.NewestID, c.NewestTimestampMs)
	}
}

func TestApplyOlderPagePrependsAndDedups(t *testing.T) {
	c := newState()
	Apply(c, []feed.BatchEntry{entry("m3", 300), entry("m2", 200)}, false, false)

	// older page overlaps at m2 and brings two earlier entries, one of them
	// sharing a timestamp boundary
	res := Apply(c, []feed.BatchEntry{entry("m2", 200), entry("m1", 100), entry("m0", 50)}, true, false)
	if res.Added != 2 || res.Duplicates != 1 {
		t.Fatalf("older page result: %+v", res)
	}
	if !res.OlderAdded {
		t.Fatalf("older page did not report OlderAdded")
	}
	got := orderIDs(c)
	want := []string{"m0", "m1", "m2", "m3"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order after older page: %v", got)
		}
	}
	if c.OldestID != "m0" || c.OldestTimestampMs != 50 {
		t.Fatalf("oldest watermark: %s/%d", c.OldestID, c.OldestTimestampMs)
	}
	if c.NewestID != "m3" {
		t.Fatalf("older page moved newest to %s", c.NewestID)
	}
}

func TestApplyEmptyBatch(t *testing.T) {
	c := newState()
	Apply(c, []feed.BatchEntry{entry("m1", 100)}, false, false)
	res := Apply(c, nil, false, false)
	if res.Added != 0 || res.Duplicates != 0 || res.Malformed != 0 || res.OlderAdded {
		t.Fatalf("empty batch result: %+v", res)
	}
	if c.Len() != 1 {
		t.Fatalf("empty batch changed store")
	}
}

func TestApplySkipsMalformedEntries(t *testing.T) {
	c := newState()
	bad := feed.BatchEntry{ID: "bad", TimestampMs: 150, Payload: json.RawMessage(`"not an object"`)}
	noID := feed.BatchEntry{ID: "", TimestampMs: 160}
	res := Apply(c, []feed.BatchEntry{entry("m2", 200), bad, noID, entry("m1", 100)}, false, false)
	if res.Added != 2 || res.Malformed != 2 {
		t.Fatalf("malformed handling: %+v", res)
	}
	got := orderIDs(c)
	if len(got) != 2 || got[0] != "m1" || got[1] != "m2" {
		t.Fatalf("order with malformed entries skipped: %v", got)
	}
}

func TestApplyWatermarksMoveEvenWhenAllDuplicate(t *testing.T) {
	c := newState()
	Apply(c, []feed.BatchEntry{entry("m2", 200), entry("m1", 100)}, false, false)

	// simulate a post-reset state that still has the messages but lost its
	// watermarks: watermark updates run against the incoming evidence, not
	// the stored set
	c.OldestTimestampMs, c.OldestID = store.EmptyWatermark, ""
	c.NewestTimestampMs, c.NewestID = store.EmptyWatermark, ""

	res := Apply(c, []feed.BatchEntry{entry("m2", 200), entry("m1", 100)}, false, false)
	if res.Added != 0 || res.Duplicates != 2 {
		t.Fatalf("duplicate batch: %+v", res)
	}
	if c.OldestID != "m1" || c.NewestID != "m2" {
		t.Fatalf("watermarks not updated from duplicate batch: %s/%s", c.OldestID, c.NewestID)
	}
}
