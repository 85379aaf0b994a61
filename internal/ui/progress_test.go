package ui

import (
	"strings"
	"testing"

	"qcheck/internal/driver"
)

func TestProgressModelTracksUnits(t *testing.T) {
	events := make(chan driver.Event)
	m := NewProgressModel("checking prog.qir.yaml", []string{"bell", "teleport"}, events).(*progressModel)

	m.apply(driver.Event{Stage: driver.StageCheck})
	m.apply(driver.Event{Unit: "bell", Stage: driver.StageCheck, Status: driver.StatusAccepted})
	m.apply(driver.Event{Unit: "teleport", Stage: driver.StageCheck, Status: driver.StatusRejected, Errors: 2})
	m.apply(driver.Event{Unit: "unknown", Status: driver.StatusWorking})

	view := m.View()
	for _, want := range []string{"(check)", "ok", "2 error(s)", "teleport"} {
		if !strings.Contains(view, want) {
			t.Fatalf("view misses %q:\n%s", want, view)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("abcdefgh", 6); got != "abc..." {
		t.Fatalf("truncate = %q", got)
	}
	if got := truncate("обработка", 7); got != "обра..." {
		t.Fatalf("truncate = %q", got)
	}
	if got := truncate("abc", 6); got != "abc" {
		t.Fatalf("truncate = %q", got)
	}
}
