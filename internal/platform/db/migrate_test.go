package db

import (
	"testing"
	"time"
)

func TestPending_FiltersAppliedAndKeepsOrder(t *testing.T) {
	steps := []Step{
		{Version: 1, Name: "users"},
		{Version: 2, Name: "doctor_profiles"},
		{Version: 3, Name: "admin_profiles"},
	}
	applied := map[int]time.Time{2: time.Now()}

	got := pending(steps, applied)
	if len(got) != 2 {
		t.Fatalf("pending returned %d steps, want 2", len(got))
	}
	if got[0].Version != 1 || got[1].Version != 3 {
		t.Fatalf("pending order = %d, %d; want 1, 3", got[0].Version, got[1].Version)
	}
}

func TestPending_NothingApplied(t *testing.T) {
	got := pending(Steps, nil)
	if len(got) != len(Steps) {
		t.Fatalf("pending returned %d steps, want %d", len(got), len(Steps))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Version <= got[i-1].Version {
			t.Fatalf("steps out of order at index %d", i)
		}
	}
}

func TestSteps_HaveUniqueVersions(t *testing.T) {
	seen := map[int]string{}
	for _, step := range Steps {
		if prev, ok := seen[step.Version]; ok {
			t.Fatalf("version %d used by both %s and %s", step.Version, prev, step.Name)
		}
		seen[step.Version] = step.Name
	}
}
