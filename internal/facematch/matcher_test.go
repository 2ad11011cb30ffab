package facematch

import (
	"math"
	"testing"
)

func TestMatcher_FindBestMatch(t *testing.T) {
	labeled := []LabeledDescriptor{
		{Label: "alice", Descriptor: descriptorAt(0)},
		{Label: "bob", Descriptor: descriptorAt(1)},
		{Label: "carol", Descriptor: descriptorAt(3)},
	}
	m := NewMatcher(labeled, 0.6)

	tests := []struct {
		name         string
		query        Descriptor
		wantLabel    string
		wantDistance float64
	}{
		{"exact match", descriptorAt(0), "alice", 0},
		{"within tolerance", descriptorAt(1.4), "bob", 0.4},
		{"at tolerance is unknown", descriptorAt(3.6), "unknown", 0.6},
		{"beyond tolerance reports nearest distance", descriptorAt(2), "unknown", 1},
		{"far away", descriptorAt(10), "unknown", 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.FindBestMatch(tt.query)
			if got.Label != tt.wantLabel {
				t.Errorf("label = %q, want %q", got.Label, tt.wantLabel)
			}
			if math.Abs(got.Distance-tt.wantDistance) > 1e-5 {
				t.Errorf("distance = %v, want %v", got.Distance, tt.wantDistance)
			}
		})
	}
}

func TestMatcher_TiesKeepInputOrder(t *testing.T) {
	m := NewMatcher([]LabeledDescriptor{
		{Label: "first", Descriptor: descriptorAt(1)},
		{Label: "second", Descriptor: descriptorAt(1)},
		{Label: "third", Descriptor: descriptorAt(-1)},
	}, 2)

	for range 10 {
		if got := m.FindBestMatch(descriptorAt(0)); got.Label != "first" {
			t.Fatalf("expected first minimum to win, got %q", got.Label)
		}
	}
}

func TestMatcher_EmptySet(t *testing.T) {
	m := NewMatcher(nil, 0.6)
	got := m.FindBestMatch(descriptorAt(0))
	if got.IsKnown() {
		t.Errorf("expected unknown, got %q", got.Label)
	}
	if !math.IsInf(got.Distance, 1) {
		t.Errorf("expected +Inf distance, got %v", got.Distance)
	}
	if m.Len() != 0 {
		t.Errorf("expected empty matcher, got %d", m.Len())
	}
}

func TestMatcher_DefaultTolerance(t *testing.T) {
	m := NewMatcher(nil, 0)
	if m.Tolerance() != 0.6 {
		t.Errorf("expected default tolerance 0.6, got %v", m.Tolerance())
	}
}

func TestMatcher_CopiesLabeledSet(t *testing.T) {
	labeled := []LabeledDescriptor{{Label: "alice", Descriptor: descriptorAt(0)}}
	m := NewMatcher(labeled, 0.6)
	labeled[0].Label = "mallory"

	if got := m.FindBestMatch(descriptorAt(0)); got.Label != "alice" {
		t.Errorf("matcher changed after caller mutated input: %q", got.Label)
	}
}
