package domain

import "testing"

func TestSectionKey(t *testing.T) {
	tests := []struct {
		n        int
		expected string
	}{
		{0, "part_0"},
		{9, "part_9"},
		{16, "part_16"},
	}
	for _, tt := range tests {
		if got := SectionKey(tt.n); got != tt.expected {
			t.Errorf("SectionKey(%d) = %q, want %q", tt.n, got, tt.expected)
		}
	}
}

func TestNewEmptySectionMap(t *testing.T) {
	m := NewEmptySectionMap()
	if len(m) != 17 {
		t.Fatalf("expected 17 keys, got %d", len(m))
	}
	for i := 0; i <= 16; i++ {
		key := SectionKey(i)
		v, ok := m[key]
		if !ok {
			t.Errorf("missing key %q", key)
		}
		if v != "" {
			t.Errorf("key %q: expected empty value, got %q", key, v)
		}
	}
}

func TestFixedServiceTags(t *testing.T) {
	expected := []ServiceTag{ServiceAILegal, ServiceAIEconom, ServiceSBAI, ServiceContractExtractor}
	if len(FixedServiceTags) != len(expected) {
		t.Fatalf("expected %d tags, got %d", len(expected), len(FixedServiceTags))
	}
	for i, tag := range expected {
		if FixedServiceTags[i] != tag {
			t.Errorf("FixedServiceTags[%d] = %q, want %q", i, FixedServiceTags[i], tag)
		}
	}
}

func TestNewAggregationState(t *testing.T) {
	s := NewAggregationState("task-1")
	if s.TaskID != "task-1" {
		t.Errorf("TaskID = %q, want %q", s.TaskID, "task-1")
	}
	if len(s.Expected) != 0 || len(s.Received) != 0 {
		t.Errorf("expected empty Expected/Received maps, got %+v / %+v", s.Expected, s.Received)
	}
}

func TestAggregationStateMergeDefaultsFixedKeys(t *testing.T) {
	s := NewAggregationState("task-1")
	got := s.Merge()
	if len(got) != len(FixedServiceTags) {
		t.Fatalf("expected %d keys, got %d", len(FixedServiceTags), len(got))
	}
	for _, tag := range FixedServiceTags {
		v, ok := got[tag].(map[string]any)
		if !ok {
			t.Errorf("tag %q: expected empty object default, got %#v", tag, got[tag])
			continue
		}
		if len(v) != 0 {
			t.Errorf("tag %q: expected empty default object, got %+v", tag, v)
		}
	}
}

func TestAggregationStateMergeOverlaysReceived(t *testing.T) {
	s := NewAggregationState("task-1")
	s.Received[ServiceAILegal] = map[string]any{"summary": "ok"}
	s.Received[ServiceTag("extra_service")] = map[string]any{"note": "outside the fixed four"}

	got := s.Merge()

	legal, ok := got[ServiceAILegal].(map[string]any)
	if !ok || legal["summary"] != "ok" {
		t.Errorf("expected ai_legal entry to carry received payload, got %#v", got[ServiceAILegal])
	}
	extra, ok := got[ServiceTag("extra_service")].(map[string]any)
	if !ok || extra["note"] != "outside the fixed four" {
		t.Errorf("expected a service tag outside the fixed four to survive Merge, got %#v", got[ServiceTag("extra_service")])
	}
	for _, tag := range []ServiceTag{ServiceAIEconom, ServiceSBAI, ServiceContractExtractor} {
		v, ok := got[tag].(map[string]any)
		if !ok || len(v) != 0 {
			t.Errorf("tag %q: expected untouched default, got %#v", tag, got[tag])
		}
	}
}

func TestErrorTaxonomyDistinctSentinels(t *testing.T) {
	sentinels := []error{
		ErrInvalidArgument, ErrNotFound, ErrConflict, ErrRateLimited,
		ErrUpstreamTimeout, ErrUpstreamRateLimit, ErrSchemaInvalid, ErrInternal,
	}
	for i, a := range sentinels {
		for j, b := range sentinels {
			if i != j && a == b {
				t.Errorf("sentinel %d and %d compare equal: %v", i, j, a)
			}
		}
	}
}
