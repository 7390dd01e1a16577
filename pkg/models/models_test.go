package models

import "testing"

func TestParseTeam(t *testing.T) {
	cases := map[string]Team{
		"resistance":  TeamResistance,
		"enlightened": TeamEnlightened,
		"machina":     TeamMachina,
		"none":        TeamNone,
		"":            TeamNone,
		"martians":    TeamNone,
	}
	for in, want := range cases {
		if got := ParseTeam(in); got != want {
			t.Fatalf("ParseTeam(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBoundsPadAndContains(t *testing.T) {
	b := Bounds{MinLat: 0, MinLng: 0, MaxLat: 10, MaxLng: 20}
	p := b.Pad(0.1)
	if p.MinLat != -1 || p.MaxLat != 11 || p.MinLng != -2 || p.MaxLng != 22 {
		t.Fatalf("padded = %+v", p)
	}
	if !p.Contains(b) {
		t.Fatalf("padded box must contain the original")
	}
	if b.Contains(p) {
		t.Fatalf("original must not contain the padded box")
	}
	if !b.Contains(b) {
		t.Fatalf("a box contains itself")
	}
}

func TestBoundsCenter(t *testing.T) {
	b := Bounds{MinLat: 10, MinLng: 20, MaxLat: 30, MaxLng: 40}
	lat, lng := b.Center()
	if lat != 20 || lng != 30 {
		t.Fatalf("center = %v/%v", lat, lng)
	}
}

func TestE6Rounding(t *testing.T) {
	cases := map[float64]int64{
		0:          0,
		1.5:        1500000,
		-1.5:       -1500000,
		0.0000004:  0,
		0.0000006:  1,
		-0.0000006: -1,
	}
	for in, want := range cases {
		if got := E6(in); got != want {
			t.Fatalf("E6(%v) = %d, want %d", in, got, want)
		}
	}
}
