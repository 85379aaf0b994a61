package driver

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qcheck/internal/diag"
	"qcheck/internal/ir"
	"qcheck/internal/observ"
)

func sampleProgram() *ir.Program {
	b := ir.NewBuilder().StandardOps()
	b.Unit("bell").Alloc("a", "b").Gate("h", "a").Ctrl("cx", []string{"a"}, "b").MeasureJoint("a", "b")
	b.Unit("leak").Alloc("q")
	b.Unit("moved").Alloc("q").Move("q", "r").Measure("q").Measure("r")
	for _, name := range []string{"w1", "w2", "w3", "w4", "w5"} {
		b.Unit(name).Alloc("q").Gate("h", "q").Measure("q")
	}
	return b.Program()
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) OnEvent(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) final(unit string) Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var last Event
	for _, e := range s.events {
		if e.Unit == unit {
			last = e
		}
	}
	return last
}

func TestCheckProgramOrdersDiagnosticsByUnit(t *testing.T) {
	res, err := CheckProgram(context.Background(), sampleProgram(), Options{Jobs: 4})
	require.NoError(t, err)
	require.Len(t, res.Units, 8)
	assert.False(t, res.Accepted())
	assert.Equal(t, []diag.Code{diag.UnconsumedLinearResource, diag.UseAfterMove}, res.Bag.Codes())
	assert.Equal(t, "leak", res.Bag.Items()[0].Unit)
	assert.True(t, res.Units[0].Result.Accepted)
	assert.False(t, res.Units[1].Result.Accepted)
}

func TestCheckProgramIsScheduleIndependent(t *testing.T) {
	serial, err := CheckProgram(context.Background(), sampleProgram(), Options{Jobs: 1})
	require.NoError(t, err)
	for range 5 {
		parallel, err := CheckProgram(context.Background(), sampleProgram(), Options{Jobs: 8})
		require.NoError(t, err)
		require.Equal(t, serial.Bag.Len(), parallel.Bag.Len())
		for i, d := range serial.Bag.Items() {
			assert.True(t, d.Equal(parallel.Bag.Items()[i]), "diagnostic %d differs", i)
		}
		for i := range serial.Units {
			assert.Equal(t, serial.Units[i].Result, parallel.Units[i].Result)
		}
	}
}

func TestCheckProgramReportsProgress(t *testing.T) {
	sink := &recordingSink{}
	timer := observ.NewTimer()
	_, err := CheckProgram(context.Background(), sampleProgram(), Options{Jobs: 2, Progress: sink, Timer: timer})
	require.NoError(t, err)

	assert.Equal(t, StatusAccepted, sink.final("bell").Status)
	leak := sink.final("leak")
	assert.Equal(t, StatusRejected, leak.Status)
	assert.Equal(t, 1, leak.Errors)

	names := map[string]bool{}
	for _, p := range timer.Report().Phases {
		names[p.Name] = true
	}
	assert.True(t, names["signatures"] && names["check"] && names["check/bell"])
}

func TestCheckProgramHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := CheckProgram(ctx, sampleProgram(), Options{Jobs: 2})
	require.ErrorIs(t, err, context.Canceled)
}

func TestCacheRoundTrip(t *testing.T) {
	cache, err := OpenDiskCacheAt(t.TempDir())
	require.NoError(t, err)

	first, err := CheckProgram(context.Background(), sampleProgram(), Options{Cache: cache, Events: true})
	require.NoError(t, err)
	for _, u := range first.Units {
		assert.False(t, u.Cached)
	}

	second, err := CheckProgram(context.Background(), sampleProgram(), Options{Cache: cache, Events: true})
	require.NoError(t, err)
	for i, u := range second.Units {
		assert.True(t, u.Cached, "unit %s", u.Result.Unit)
		assert.Equal(t, first.Units[i].Result.Accepted, u.Result.Accepted)
		assert.Equal(t, first.Units[i].Result.Annotations.Resources, u.Result.Annotations.Resources)
		assert.Equal(t, len(first.Units[i].Result.Annotations.Events), len(u.Result.Annotations.Events))
	}
	assert.Equal(t, first.Bag.Codes(), second.Bag.Codes())

	third, err := CheckProgram(context.Background(), sampleProgram(), Options{Cache: cache})
	require.NoError(t, err)
	assert.False(t, third.Units[0].Cached, "the events flag is part of the key")

	require.NoError(t, cache.DropAll())
	var payload CachedUnit
	key, err := UnitDigest(&sampleProgram().Units[0], "", false)
	require.NoError(t, err)
	hit, err := cache.Get(key, &payload)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestUnitDigestTracksContent(t *testing.T) {
	a := sampleProgram()
	b := sampleProgram()
	da, err := UnitDigest(&a.Units[0], "sigs", false)
	require.NoError(t, err)
	db, err := UnitDigest(&b.Units[0], "sigs", false)
	require.NoError(t, err)
	assert.Equal(t, da, db)

	dc, err := UnitDigest(&b.Units[0], "other sigs", false)
	require.NoError(t, err)
	assert.NotEqual(t, da, dc)

	b.Units[0].Body[0].Span.Start = 10
	dd, err := UnitDigest(&b.Units[0], "sigs", false)
	require.NoError(t, err)
	assert.NotEqual(t, da, dd)
}

const leakYAML = `version: 1.1.0
ops:
  - {name: h, self_inverse: true}
units:
  - name: leak
    body:
      - {op: alloc, results: [q]}
      - {op: gate, name: h, args: [q]}
`

func TestDiagnoseFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "leak.qir.yaml")
	require.NoError(t, os.WriteFile(path, []byte(leakYAML), 0o600))

	res, err := Diagnose(context.Background(), path, Options{})
	require.NoError(t, err)
	require.NotNil(t, res.Program)
	assert.Equal(t, path, res.Path)
	assert.Equal(t, []diag.Code{diag.UnconsumedLinearResource}, res.Bag.Codes())
	assert.NotNil(t, res.Files().Get(res.Bag.Items()[0].Primary.File))
}

func TestDiagnoseLoadFailures(t *testing.T) {
	dir := t.TempDir()
	broken := filepath.Join(dir, "broken.qir.yaml")
	require.NoError(t, os.WriteFile(broken, []byte("units: [[["), 0o600))
	future := filepath.Join(dir, "future.qir.yaml")
	require.NoError(t, os.WriteFile(future, []byte("version: 9.0.0\nunits:\n  - {name: main, body: []}\n"), 0o600))

	cases := []struct {
		path string
		code diag.Code
	}{
		{broken, diag.IRLoadError},
		{future, diag.IRVersionUnsupported},
		{filepath.Join(dir, "missing.qir.yaml"), diag.IOReadError},
	}
	for _, tc := range cases {
		t.Run(filepath.Base(tc.path), func(t *testing.T) {
			res, err := Diagnose(context.Background(), tc.path, Options{})
			require.NoError(t, err)
			assert.Nil(t, res.Program)
			assert.False(t, res.Accepted())
			assert.Equal(t, []diag.Code{tc.code}, res.Bag.Codes())
			assert.Equal(t, tc.path, res.Bag.Items()[0].Unit)
		})
	}
}

func TestWatchRerunsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prog.qir.yaml")
	require.NoError(t, os.WriteFile(path, []byte(leakYAML), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runs := make(chan []string, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, []string{path}, 20*time.Millisecond, func(changed []string) { runs <- changed })
	}()

	select {
	case changed := <-runs:
		assert.Empty(t, changed)
	case <-time.After(5 * time.Second):
		t.Fatal("initial run did not happen")
	}

	require.NoError(t, os.WriteFile(filepath.Join(dir, "unrelated.txt"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(path, []byte(leakYAML+"\n"), 0o600))
	select {
	case changed := <-runs:
		abs, _ := filepath.Abs(path)
		assert.Equal(t, []string{abs}, changed)
	case <-time.After(5 * time.Second):
		t.Fatal("write did not trigger a run")
	}

	cancel()
	require.NoError(t, <-done)
}

func TestAnnotatedDocumentReloads(t *testing.T) {
	res, err := CheckProgram(context.Background(), sampleProgram(), Options{Events: true})
	require.NoError(t, err)
	doc := Annotate(res)
	require.Len(t, doc.Results, 8)
	assert.False(t, doc.Accepted)
	assert.NotNil(t, doc.Results[0].Annotations, "accepted units keep annotations")
	assert.Nil(t, doc.Results[1].Annotations, "rejected units drop them")
	assert.NotNil(t, res.Units[1].Result.Annotations, "the run result is untouched")
	require.Len(t, doc.Diagnostics, 2)

	for _, format := range []ir.Format{ir.FormatYAML, ir.FormatJSON, ir.FormatMsgpack} {
		data, err := ir.Marshal(doc, format)
		require.NoError(t, err, format.String())
		p, err := ir.Decode(data, format, "annotated", ir.LoadOptions{})
		require.NoError(t, err, format.String())
		assert.Len(t, p.Units, 8)
	}
}
