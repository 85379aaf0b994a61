package trace

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestLevelFiltersScopes(t *testing.T) {
	if LevelPhase.ShouldEmit(ScopeUnit) {
		t.Fatalf("phase level must drop unit spans")
	}
	if !LevelUnit.ShouldEmit(ScopeUnit) || LevelUnit.ShouldEmit(ScopeNode) {
		t.Fatalf("unit level emits up to unit scope")
	}
	if lvl, err := ParseLevel("UNIT"); err != nil || lvl != LevelUnit {
		t.Fatalf("ParseLevel = %v, %v", lvl, err)
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("expected an error for an unknown level")
	}
}

func TestStreamNDJSON(t *testing.T) {
	var buf bytes.Buffer
	tr, err := New(Config{Level: LevelUnit, Mode: ModeStream, Format: FormatNDJSON, Output: &buf})
	if err != nil {
		t.Fatal(err)
	}
	ctx := WithTracer(context.Background(), tr)
	outer := Begin(FromContext(ctx), ScopePhase, "check", 0)
	ctx = WithSpan(ctx, outer)
	inner := Begin(FromContext(ctx), ScopeUnit, "unit:bell", ParentID(ctx))
	inner.WithExtra("errors", "1").End("rejected")
	Begin(FromContext(ctx), ScopeNode, "dropped", ParentID(ctx)).End("")
	outer.End("")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected 4 events, got %d:\n%s", len(lines), buf.String())
	}
	var ev struct {
		Kind     string            `json:"kind"`
		Name     string            `json:"name"`
		ParentID uint64            `json:"parent_id"`
		Extra    map[string]string `json:"extra"`
	}
	if err := json.Unmarshal([]byte(lines[2]), &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Kind != "end" || ev.Name != "unit:bell" || ev.ParentID != outer.ID() || ev.Extra["errors"] != "1" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestRingKeepsNewest(t *testing.T) {
	r := NewRingTracer(2, LevelDebug)
	for _, name := range []string{"a", "b", "c"} {
		r.Emit(&Event{Kind: KindPoint, Scope: ScopeDriver, Name: name})
	}
	snap := r.Snapshot()
	if len(snap) != 2 || snap[0].Name != "b" || snap[1].Name != "c" {
		t.Fatalf("snapshot = %+v", snap)
	}
	var buf bytes.Buffer
	if err := r.Dump(&buf, FormatText); err != nil || !strings.Contains(buf.String(), "\u2022 c") {
		t.Fatalf("dump = %q, %v", buf.String(), err)
	}
}

func TestOffIsNop(t *testing.T) {
	tr, err := New(Config{Level: LevelOff})
	if err != nil || tr.Enabled() {
		t.Fatalf("expected the nop tracer")
	}
	if d := Begin(tr, ScopeDriver, "x", 0).End(""); d != 0 {
		t.Fatalf("inert span should report zero duration")
	}
}
