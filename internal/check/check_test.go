package check

import (
	"strings"
	"testing"

	"qcheck/internal/diag"
	"qcheck/internal/ir"
)

// runCheck builds the signature table and checks every unit of p into one bag.
func runCheck(t *testing.T, p *ir.Program) (*diag.Bag, map[string]*Result) {
	t.Helper()
	bag := diag.NewBag(0)
	rep := diag.BagReporter{Bag: bag}
	sigs := BuildSignatures(p, rep)
	results := make(map[string]*Result, len(p.Units))
	for i := range p.Units {
		u := &p.Units[i]
		results[u.Name] = CheckUnit(u, Options{Reporter: rep, Signatures: sigs, Events: true})
	}
	return bag, results
}

func hasCode(bag *diag.Bag, code diag.Code) bool {
	if bag == nil {
		return false
	}
	for _, item := range bag.Items() {
		if item.Code == code {
			return true
		}
	}
	return false
}

func diagCodes(bag *diag.Bag) []diag.Code {
	if bag == nil {
		return nil
	}
	codes := make([]diag.Code, 0, len(bag.Items()))
	for _, item := range bag.Items() {
		codes = append(codes, item.Code)
	}
	return codes
}

func expectCodes(t *testing.T, bag *diag.Bag, want ...diag.Code) {
	t.Helper()
	got := diagCodes(bag)
	if len(got) != len(want) {
		t.Fatalf("expected codes %v, got %v\n%s", want, got, summary(bag))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected codes %v, got %v\n%s", want, got, summary(bag))
		}
	}
}

func summary(bag *diag.Bag) string {
	var sb strings.Builder
	for _, d := range bag.Items() {
		sb.WriteString(d.Code.ID())
		sb.WriteString(": ")
		sb.WriteString(d.Message)
		sb.WriteString("\n")
	}
	return sb.String()
}

func record(t *testing.T, res *Result, name string) ResourceRecord {
	t.Helper()
	for _, r := range res.Annotations.Resources {
		if r.Name == name {
			return r
		}
	}
	t.Fatalf("no resource record named %q", name)
	return ResourceRecord{}
}

func TestUseAfterMove(t *testing.T) {
	b := ir.NewBuilder().StandardOps()
	b.Unit("main").Alloc("q").Move("q", "q2").Measure("q").Measure("q2")
	bag, _ := runCheck(t, b.Program())
	expectCodes(t, bag, diag.UseAfterMove)
	if got := bag.Items()[0].Subject.Binding; got != "q" {
		t.Fatalf("expected diagnostic on q, got %q", got)
	}
}

func TestUnconsumedAtScopeEnd(t *testing.T) {
	b := ir.NewBuilder().StandardOps()
	b.Unit("main").Alloc("q")
	bag, results := runCheck(t, b.Program())
	expectCodes(t, bag, diag.UnconsumedLinearResource)
	d := bag.Items()[0]
	if d.Subject.Binding != "q" || len(d.Notes) != 1 || d.Notes[0].Msg != "scope ends here" {
		t.Fatalf("unexpected diagnostic %+v", d)
	}
	if results["main"].Accepted {
		t.Fatalf("unit should be rejected")
	}
}

func TestBellPairPartialMeasurement(t *testing.T) {
	b := ir.NewBuilder().StandardOps()
	b.Unit("bell").Results(1).
		Alloc("a", "b").
		Gate("h", "a").
		Ctrl("cx", []string{"a"}, "b").
		Measure("a").
		Return("b")
	bag, _ := runCheck(t, b.Program())
	expectCodes(t, bag, diag.EntanglementViolation)
	if msg := bag.Items()[0].Message; !strings.Contains(msg, `"b"`) {
		t.Fatalf("expected message to name the live partner, got %q", msg)
	}
}

func TestTeleportationPasses(t *testing.T) {
	b := ir.NewBuilder().StandardOps()
	b.Unit("teleport").Param("msg", ir.ParamOwned).Results(1).
		Alloc("a", "b").
		Gate("h", "a").
		Ctrl("cx", []string{"a"}, "b").
		Ctrl("cx", []string{"msg"}, "a").
		Gate("h", "msg").
		MeasureJoint("msg", "a").
		If("m_a", func(b *ir.Body) { b.Gate("x", "b") }, nil).
		If("m_msg", func(b *ir.Body) { b.Gate("z", "b") }, nil).
		Return("b")
	bag, results := runCheck(t, b.Program())
	expectCodes(t, bag)

	res := results["teleport"]
	if !res.Accepted {
		t.Fatalf("teleport should pass")
	}
	ann := res.Annotations
	if len(ann.Merges) != 2 {
		t.Fatalf("expected two merges, got %+v", ann.Merges)
	}
	if ann.Merges[0].Class != ann.Merges[1].Class {
		t.Fatalf("class identity should follow the first merge: %+v", ann.Merges)
	}
	if len(ann.Splits) != 1 {
		t.Fatalf("expected one split at the measurement, got %+v", ann.Splits)
	}
	split := ann.Splits[0]
	if len(split.Removed) != 2 || len(split.Remaining) != 1 {
		t.Fatalf("unexpected split %+v", split)
	}
	if r := record(t, res, "b"); r.Status != StatusEscaped || split.Remaining[0] != r.ID {
		t.Fatalf("target should escape and remain after the split, got %+v", r)
	}
	if r := record(t, res, "msg"); r.Status != StatusConsumed || r.Origin != OriginParam {
		t.Fatalf("unexpected message record %+v", r)
	}
}

func TestBranchConsumptionMismatch(t *testing.T) {
	b := ir.NewBuilder().StandardOps()
	b.Unit("main").
		Alloc("q").
		If("cond", func(b *ir.Body) { b.Measure("q") }, nil)
	bag, _ := runCheck(t, b.Program())
	expectCodes(t, bag, diag.BranchConsumptionMismatch)
	d := bag.Items()[0]
	if d.Subject.Binding != "q" {
		t.Fatalf("expected q, got %q", d.Subject.Binding)
	}
	if !strings.Contains(d.Message, `arm "else"`) {
		t.Fatalf("message should name the else arm: %q", d.Message)
	}
}

func TestAncillaWithoutInverse(t *testing.T) {
	b := ir.NewBuilder().StandardOps().Op(ir.OpDecl{Name: "oracle"})
	b.Unit("main").
		Ancilla("a").
		Gate("h", "a").
		Gate("t", "a").
		Gate("oracle", "a").
		Discard("a")
	bag, results := runCheck(t, b.Program())
	expectCodes(t, bag, diag.NoKnownInverse)
	if len(results["main"].Annotations.Uncomputations) != 0 {
		t.Fatalf("failed plan must not be annotated")
	}
}

func TestAncillaUncomputedInReverse(t *testing.T) {
	b := ir.NewBuilder().StandardOps().
		Op(ir.OpDecl{Name: "oracle", Inverse: "oracle_dg"}).
		Op(ir.OpDecl{Name: "oracle_dg", Inverse: "oracle"})
	b.Unit("main").
		Ancilla("a").
		Gate("h", "a").
		Gate("t", "a").
		Gate("oracle", "a").
		Discard("a")
	bag, results := runCheck(t, b.Program())
	expectCodes(t, bag)

	un := results["main"].Annotations.Uncomputations
	if len(un) != 1 {
		t.Fatalf("expected one uncomputation, got %+v", un)
	}
	var ops []string
	for _, s := range un[0].Steps {
		ops = append(ops, s.Op)
	}
	if strings.Join(ops, ",") != "oracle_dg,tdg,h" {
		t.Fatalf("unexpected inverse sequence %v", ops)
	}
	if un[0].Auto || un[0].Names[0] != "a" {
		t.Fatalf("unexpected release %+v", un[0])
	}
	if r := record(t, results["main"], "a"); r.Status != StatusDiscarded || !r.Ancilla {
		t.Fatalf("unexpected ancilla record %+v", r)
	}
}

func TestUnknownBinding(t *testing.T) {
	b := ir.NewBuilder().StandardOps()
	b.Unit("main").Gate("h", "nope")
	bag, _ := runCheck(t, b.Program())
	expectCodes(t, bag, diag.UnknownBinding)
}

func TestUndeclaredOperation(t *testing.T) {
	b := ir.NewBuilder().StandardOps()
	b.Unit("main").Alloc("q").Gate("frobnicate", "q").Measure("q")
	bag, _ := runCheck(t, b.Program())
	expectCodes(t, bag, diag.UnknownOperation)
}

func TestDoubleConsumeInOneNode(t *testing.T) {
	b := ir.NewBuilder().StandardOps()
	b.Unit("main").Alloc("q").Measure("q", "q")
	bag, _ := runCheck(t, b.Program())
	expectCodes(t, bag, diag.DoubleConsume)
}

func TestUseAfterConsume(t *testing.T) {
	b := ir.NewBuilder().StandardOps()
	b.Unit("main").Alloc("q").Measure("q").Gate("h", "q")
	bag, _ := runCheck(t, b.Program())
	expectCodes(t, bag, diag.UseAfterConsume)
	if n := bag.Items()[0].Notes; len(n) != 1 || n[0].Msg != "consumed here" {
		t.Fatalf("expected a note at the consumption, got %+v", n)
	}
}

func TestRenamedOutputKeepsIdentity(t *testing.T) {
	b := ir.NewBuilder().StandardOps()
	b.Unit("main").
		Alloc("q").
		Apply("h", ir.Effects{Produces: []ir.Output{{Name: "q2", From: "q"}}}).
		Measure("q2")
	bag, results := runCheck(t, b.Program())
	expectCodes(t, bag)
	if n := len(results["main"].Annotations.Resources); n != 1 {
		t.Fatalf("threading must not mint a resource, got %d records", n)
	}

	b = ir.NewBuilder().StandardOps()
	b.Unit("main").
		Alloc("q").
		Apply("h", ir.Effects{Produces: []ir.Output{{Name: "q2", From: "q"}}}).
		Measure("q").
		Measure("q2")
	bag, _ = runCheck(t, b.Program())
	expectCodes(t, bag, diag.UseAfterMove)
}

func TestFreshOutputIsNewResource(t *testing.T) {
	b := ir.NewBuilder().StandardOps().Op(ir.OpDecl{Name: "split2", Entangling: true})
	b.Unit("main").
		Alloc("q").
		Apply("split2", ir.Effects{
			Consumes: []string{"q"},
			Produces: []ir.Output{{Name: "l"}, {Name: "r"}},
		}).
		MeasureJoint("l", "r")
	bag, results := runCheck(t, b.Program())
	expectCodes(t, bag)
	res := results["main"]
	if n := len(res.Annotations.Resources); n != 3 {
		t.Fatalf("expected three resources, got %+v", res.Annotations.Resources)
	}
	if r := record(t, res, "l"); r.Origin != OriginProduced {
		t.Fatalf("unexpected origin %v", r.Origin)
	}
}

func TestEarlyReturnChecksEveryFrame(t *testing.T) {
	b := ir.NewBuilder().StandardOps()
	b.Unit("early").Param("q", ir.ParamOwned).Result("q").
		Alloc("t").
		If("c", func(b *ir.Body) {
			b.Block(func(b *ir.Body) {
				b.Alloc("u")
				b.Return("q")
			})
		}, func(b *ir.Body) {
			b.Measure("t")
		}).
		Return("q")
	bag, _ := runCheck(t, b.Program())
	expectCodes(t, bag, diag.UnconsumedLinearResource, diag.UnconsumedLinearResource)
	names := map[string]bool{}
	for _, d := range bag.Items() {
		names[d.Subject.Binding] = true
	}
	if !names["u"] || !names["t"] {
		t.Fatalf("expected u and t to be reported, got %v", names)
	}
}

func TestReturnArityMismatch(t *testing.T) {
	b := ir.NewBuilder().StandardOps()
	b.Unit("main").Results(2).Alloc("q").Return("q")
	bag, _ := runCheck(t, b.Program())
	expectCodes(t, bag, diag.SignatureMismatch)
}

func TestMissingReturn(t *testing.T) {
	b := ir.NewBuilder().StandardOps()
	b.Unit("main").Results(1).Alloc("q").Measure("q")
	bag, _ := runCheck(t, b.Program())
	expectCodes(t, bag, diag.SignatureMismatch)
}

func TestReturnLeavesEntangledPartner(t *testing.T) {
	b := ir.NewBuilder().StandardOps()
	b.Unit("main").Results(1).
		Alloc("a", "b").
		Ctrl("cx", []string{"a"}, "b").
		Return("b")
	bag, _ := runCheck(t, b.Program())
	// a is also never consumed.
	expectCodes(t, bag, diag.EntanglementViolation, diag.UnconsumedLinearResource)
}

func TestReturnWholeClass(t *testing.T) {
	b := ir.NewBuilder().StandardOps()
	b.Unit("main").Results(2).
		Alloc("a", "b").
		Ctrl("cx", []string{"a"}, "b").
		Return("a", "b")
	bag, results := runCheck(t, b.Program())
	expectCodes(t, bag)
	if cls := results["main"].Annotations.Classes; len(cls) != 1 || len(cls[0].Members) != 2 {
		t.Fatalf("expected the pair as one class, got %+v", cls)
	}
}

func TestIdempotentRecheck(t *testing.T) {
	b := ir.NewBuilder().StandardOps().Op(ir.OpDecl{Name: "oracle"})
	b.Unit("main").Param("p", ir.ParamOwned).
		Alloc("q", "r").
		Ctrl("cx", []string{"q"}, "r").
		Measure("q").
		Move("p", "p2").
		Measure("p").
		If("c", func(b *ir.Body) { b.Measure("r") }, nil).
		Ancilla("a").
		Gate("oracle", "a")
	p := b.Program()

	first, firstRes := runCheck(t, p)
	second, secondRes := runCheck(t, p)
	if first.Len() == 0 {
		t.Fatalf("expected diagnostics")
	}
	if diag.FormatShortDiagnostics(first.Items(), nil, true) != diag.FormatShortDiagnostics(second.Items(), nil, true) {
		t.Fatalf("re-check differs:\n%s\nvs\n%s", summary(first), summary(second))
	}
	if len(firstRes["main"].Annotations.Events) != len(secondRes["main"].Annotations.Events) {
		t.Fatalf("event traces differ")
	}
}

func TestUnitsCheckIndependently(t *testing.T) {
	b := ir.NewBuilder().StandardOps()
	b.Unit("bad").Alloc("q")
	b.Unit("good").Alloc("q").Measure("q")
	bag, results := runCheck(t, b.Program())
	expectCodes(t, bag, diag.UnconsumedLinearResource)
	if results["bad"].Accepted || !results["good"].Accepted {
		t.Fatalf("unexpected acceptance: bad=%v good=%v", results["bad"].Accepted, results["good"].Accepted)
	}
	if bag.Items()[0].Unit != "bad" {
		t.Fatalf("diagnostic should carry its unit, got %q", bag.Items()[0].Unit)
	}
}

func TestEventsRecordOwnershipTrace(t *testing.T) {
	b := ir.NewBuilder().StandardOps()
	b.Unit("main").Alloc("q").Gate("h", "q").Measure("q")
	_, results := runCheck(t, b.Program())
	var kinds []string
	for _, ev := range results["main"].Annotations.Events {
		kinds = append(kinds, ev.Kind.String())
	}
	want := "scope_enter,allocate,apply,consume,scope_exit"
	if got := strings.Join(kinds, ","); got != want {
		t.Fatalf("events = %s, want %s", got, want)
	}
}

func TestDisentangleWholeClass(t *testing.T) {
	b := ir.NewBuilder().StandardOps()
	b.Unit("main").
		Alloc("a", "b").
		Gate("h", "a").
		Ctrl("cx", []string{"a"}, "b").
		Disentangle("cx", "a", "b").
		Measure("a").
		Measure("b")
	bag, results := runCheck(t, b.Program())
	expectCodes(t, bag)

	a, bq := record(t, results["main"], "a"), record(t, results["main"], "b")
	var split *SplitRecord
	for i, s := range results["main"].Annotations.Splits {
		if s.Node == 4 {
			split = &results["main"].Annotations.Splits[i]
		}
	}
	if split == nil {
		t.Fatalf("no split recorded at the disentangling node: %+v", results["main"].Annotations.Splits)
	}
	if split.Class == NoClass || len(split.Removed) != 2 || split.Removed[0] != a.ID || split.Removed[1] != bq.ID {
		t.Fatalf("unexpected split %+v", *split)
	}
}

func TestDisentanglePartOfClass(t *testing.T) {
	b := ir.NewBuilder().StandardOps()
	b.Unit("ghz").
		Alloc("a", "b", "c").
		Gate("h", "a").
		Ctrl("cx", []string{"a"}, "b").
		Ctrl("cx", []string{"b"}, "c").
		Disentangle("cx", "a", "b").
		MeasureJoint("a", "b", "c")
	bag, _ := runCheck(t, b.Program())
	expectCodes(t, bag, diag.IllegalSplit)
	if d := bag.Items()[0]; !strings.Contains(d.Message, `"c"`) {
		t.Fatalf("message should list the whole class: %q", d.Message)
	}
}
