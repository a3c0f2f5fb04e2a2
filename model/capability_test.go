package model

import "testing"

func TestCapabilitySet_has(t *testing.T) {
	cs := CapabilitySet{
		"modals:edit":  true,
		"records:*":    true,
		"preview:view": true,
	}

	tests := []struct {
		cap  string
		want bool
	}{
		{"modals:edit", true},
		{"modals:delete", false},
		{"records:pastperformance:view", true},
		{"records:keypersonnel:edit", true},
		{"preview:view", true},
		{"preview:admin", false},
	}
	for _, tt := range tests {
		if got := cs.Has(tt.cap); got != tt.want {
			t.Errorf("Has(%q) = %v, want %v", tt.cap, got, tt.want)
		}
	}
}

func TestCapabilitySet_global_wildcard(t *testing.T) {
	cs := CapabilitySet{"*": true}
	if !cs.Has("anything:at:all") {
		t.Error("global wildcard should match everything")
	}
}

func TestCapabilitySet_has_all_and_any(t *testing.T) {
	cs := CapabilitySet{"modals:edit": true, "modals:view": true}

	if !cs.HasAll("modals:edit", "modals:view") {
		t.Error("HasAll should succeed when all present")
	}
	if cs.HasAll("modals:edit", "modals:delete") {
		t.Error("HasAll should fail when one missing")
	}
	if !cs.HasAny("modals:delete", "modals:view") {
		t.Error("HasAny should succeed when one present")
	}
	if cs.HasAny("modals:delete", "modals:publish") {
		t.Error("HasAny should fail when none present")
	}
}

func TestCapabilitySet_no_prefix_match_without_wildcard(t *testing.T) {
	cs := CapabilitySet{"modals:edit": true}
	if cs.Has("modals:edit:drafts") {
		t.Error("exact capability must not match longer capability")
	}
}
