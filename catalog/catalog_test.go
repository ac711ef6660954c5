package catalog

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/wudi/pagekit/document"
	"github.com/wudi/pagekit/internal/pdftest"
)

func load(t *testing.T, name string, pages int) *document.Document {
	t.Helper()
	doc, err := document.NewLoader(document.Config{}).Load(context.Background(), name, pdftest.Uniform(name, pages))
	if err != nil {
		t.Fatalf("load %s: %v", name, err)
	}
	return doc
}

// key renders an entry as "<document name>p<index>" for readable diffs.
func keys(c *Catalog) []string {
	var out []string
	for _, ref := range c.Entries() {
		doc, _ := c.Document(ref.DocumentID)
		out = append(out, doc.Name()+"p"+string(rune('0'+ref.PageIndex)))
	}
	return out
}

func scenarioA(t *testing.T) (*Catalog, []RefID, []RefID) {
	t.Helper()
	c := New()
	d1, d2 := load(t, "D1", 3), load(t, "D2", 3)
	ids1, err := c.AddAllPages(d1)
	if err != nil {
		t.Fatal(err)
	}
	ids2, err := c.AddAllPages(d2)
	if err != nil {
		t.Fatal(err)
	}
	d1.Release()
	d2.Release()
	return c, ids1, ids2
}

func TestAddAllPagesKeepsInsertionOrder(t *testing.T) {
	c, _, _ := scenarioA(t)
	want := []string{"D1p0", "D1p1", "D1p2", "D2p0", "D2p1", "D2p2"}
	if diff := cmp.Diff(want, keys(c)); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
	if c.SelectedCount() != 6 {
		t.Fatalf("selected = %d, want all", c.SelectedCount())
	}
	if err := c.Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestMove(t *testing.T) {
	c, _, ids2 := scenarioA(t)
	if err := c.Move(ids2[0], 0); err != nil {
		t.Fatal(err)
	}
	want := []string{"D2p0", "D1p0", "D1p1", "D1p2", "D2p1", "D2p2"}
	if diff := cmp.Diff(want, keys(c)); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}

	// same move again is a no-op
	before := c.Entries()
	if err := c.Move(ids2[0], 0); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(before, c.Entries()); diff != "" {
		t.Fatalf("second move changed state:\n%s", diff)
	}
}

func TestMoveClampsAndRejectsUnknown(t *testing.T) {
	c, ids1, _ := scenarioA(t)
	if err := c.Move(ids1[0], 100); err != nil {
		t.Fatal(err)
	}
	if c.IndexOf(ids1[0]) != c.Len()-1 {
		t.Fatalf("index = %d", c.IndexOf(ids1[0]))
	}
	if err := c.Move(ids1[0], -5); err != nil {
		t.Fatal(err)
	}
	if c.IndexOf(ids1[0]) != 0 {
		t.Fatalf("index = %d", c.IndexOf(ids1[0]))
	}
	if err := c.Move(RefID(999), 0); !errors.Is(err, ErrUnknownPageRef) {
		t.Fatalf("expected ErrUnknownPageRef, got %v", err)
	}
}

func TestSelectionDoesNotReorder(t *testing.T) {
	c, ids1, ids2 := scenarioA(t)
	order := keys(c)
	c.DeselectAll()
	if err := c.SetSelection(ids1[1], true); err != nil {
		t.Fatal(err)
	}
	if err := c.SetSelection(ids2[0], true); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(order, keys(c)); diff != "" {
		t.Fatalf("selection changed order:\n%s", diff)
	}
	var got []RefID
	for _, ref := range c.Selected() {
		got = append(got, ref.ID)
	}
	if diff := cmp.Diff([]RefID{ids1[1], ids2[0]}, got); diff != "" {
		t.Fatalf("selected mismatch:\n%s", diff)
	}

	on, err := c.Toggle(ids1[1])
	if err != nil || on {
		t.Fatalf("toggle: on=%v err=%v", on, err)
	}
	c.SelectAll()
	if c.SelectedCount() != c.Len() {
		t.Fatalf("select all left %d unselected", c.Len()-c.SelectedCount())
	}
	if _, err := c.Toggle(RefID(42)); !errors.Is(err, ErrUnknownPageRef) {
		t.Fatalf("toggle unknown: %v", err)
	}
	if err := c.SetSelection(RefID(42), true); !errors.Is(err, ErrUnknownPageRef) {
		t.Fatalf("select unknown: %v", err)
	}
}

func TestIdentitySurvivesReorder(t *testing.T) {
	c, ids1, ids2 := scenarioA(t)
	x, y := ids2[2], ids1[0]
	if err := c.Move(x, c.IndexOf(y)); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Toggle(y); err != nil {
		t.Fatal(err)
	}
	refX, _ := c.Get(x)
	refY, _ := c.Get(y)
	if !refX.Selected || refY.Selected {
		t.Fatalf("selection attached to the wrong entry: x=%+v y=%+v", refX, refY)
	}
	if refX.PageIndex != 2 || refY.PageIndex != 0 {
		t.Fatalf("page indices changed: x=%+v y=%+v", refX, refY)
	}
	if c.IndexOf(x) != 0 || c.IndexOf(y) != 1 {
		t.Fatalf("positions x=%d y=%d", c.IndexOf(x), c.IndexOf(y))
	}
}

func TestRemoveEvictsLastReference(t *testing.T) {
	c := New()
	d1, d2 := load(t, "D1", 1), load(t, "D2", 2)
	var evicted []string
	c.OnEvict = func(doc *document.Document) { evicted = append(evicted, doc.Name()) }

	ids1, _ := c.AddAllPages(d1)
	ids2, _ := c.AddAllPages(d2)
	d1.Release()
	d2.Release()

	if err := c.Remove(ids2[0]); err != nil {
		t.Fatal(err)
	}
	if d2.Released() || len(evicted) != 0 {
		t.Fatalf("D2 evicted while a page still references it")
	}
	if err := c.Remove(ids1[0]); err != nil {
		t.Fatal(err)
	}
	if !d1.Released() {
		t.Fatalf("D1 bytes kept after its only page was removed")
	}
	if got := c.PagesOf(d1.ID()); len(got) != 0 {
		t.Fatalf("PagesOf evicted document = %v", got)
	}
	if _, ok := c.Document(d1.ID()); ok {
		t.Fatalf("evicted document still tracked")
	}
	if diff := cmp.Diff([]string{"D1"}, evicted); diff != "" {
		t.Fatalf("evict hook:\n%s", diff)
	}
	if err := c.Remove(ids1[0]); !errors.Is(err, ErrUnknownPageRef) {
		t.Fatalf("second remove: %v", err)
	}
	if err := c.Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestIDsAreNeverReused(t *testing.T) {
	c := New()
	d := load(t, "D", 1)
	defer d.Release()
	first, _ := c.AddAllPages(d)
	if err := c.Remove(first[0]); err != nil {
		t.Fatal(err)
	}
	// the document was evicted with its last page; a fresh load is needed
	d2 := load(t, "D", 1)
	defer d2.Release()
	second, err := c.AddAllPages(d2)
	if err != nil {
		t.Fatal(err)
	}
	if second[0] == first[0] {
		t.Fatalf("id %v reused", first[0])
	}
}

func TestAddPagesValidatesIndices(t *testing.T) {
	c := New()
	d := load(t, "D", 3)
	defer d.Release()
	if _, err := c.AddPages(d, []int{0, 3}); !errors.Is(err, document.ErrPageIndex) {
		t.Fatalf("expected ErrPageIndex, got %v", err)
	}
	if c.Len() != 0 {
		t.Fatalf("partial add left %d entries", c.Len())
	}
	ids, err := c.AddPages(d, []int{2, 0})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"Dp2", "Dp0"}, keys(c)); diff != "" || len(ids) != 2 {
		t.Fatalf("subset add:\n%s", diff)
	}
}

func TestAddReleasedDocumentFails(t *testing.T) {
	d := load(t, "D", 1)
	d.Release()
	if _, err := New().AddAllPages(d); !errors.Is(err, document.ErrReleased) {
		t.Fatalf("expected ErrReleased, got %v", err)
	}
}

func TestMoveBlock(t *testing.T) {
	c, ids1, _ := scenarioA(t)
	d3 := load(t, "D3", 2)
	c.AddAllPages(d3)
	d3.Release()
	// interleave: deselect one page inside the block to check flags survive
	c.SetSelection(ids1[1], false)

	d1 := c.Documents()[0]
	if err := c.MoveBlock(d1.ID(), 100); err != nil {
		t.Fatal(err)
	}
	want := []string{"D2p0", "D2p1", "D2p2", "D3p0", "D3p1", "D1p0", "D1p1", "D1p2"}
	if diff := cmp.Diff(want, keys(c)); diff != "" {
		t.Fatalf("block to end (-want +got):\n%s", diff)
	}
	if err := c.MoveBlock(d3.ID(), 0); err != nil {
		t.Fatal(err)
	}
	want = []string{"D3p0", "D3p1", "D2p0", "D2p1", "D2p2", "D1p0", "D1p1", "D1p2"}
	if diff := cmp.Diff(want, keys(c)); diff != "" {
		t.Fatalf("block to front (-want +got):\n%s", diff)
	}
	if ref, _ := c.Get(ids1[1]); ref.Selected {
		t.Fatalf("selection lost while moving the block")
	}
	if err := c.MoveBlock(document.ID("nope"), 0); !errors.Is(err, ErrUnknownDocument) {
		t.Fatalf("unknown document: %v", err)
	}
}

func TestResetReleasesDocuments(t *testing.T) {
	c := New()
	d := load(t, "D", 2)
	c.AddAllPages(d)
	d.Release()
	c.Reset()
	if c.Len() != 0 || !d.Released() {
		t.Fatalf("reset left len=%d released=%v", c.Len(), d.Released())
	}
}

// TestMoveMatchesSliceModel checks random moves against a plain slice.
func TestMoveMatchesSliceModel(t *testing.T) {
	c, ids1, ids2 := scenarioA(t)
	model := append(append([]RefID(nil), ids1...), ids2...)
	rng := rand.New(rand.NewSource(7))
	for step := 0; step < 200; step++ {
		id := model[rng.Intn(len(model))]
		to := rng.Intn(len(model)+4) - 2
		if err := c.Move(id, to); err != nil {
			t.Fatal(err)
		}
		model = modelMove(model, id, to)

		var got []RefID
		for _, ref := range c.Entries() {
			got = append(got, ref.ID)
		}
		if diff := cmp.Diff(model, got); diff != "" {
			t.Fatalf("step %d move(%v,%d):\n%s", step, id, to, diff)
		}
	}
	if err := c.Validate(); err != nil {
		t.Fatal(err)
	}
}

func modelMove(order []RefID, id RefID, to int) []RefID {
	var rest []RefID
	for _, v := range order {
		if v != id {
			rest = append(rest, v)
		}
	}
	to = max(0, min(to, len(order)-1))
	out := append([]RefID(nil), rest[:to]...)
	out = append(out, id)
	return append(out, rest[to:]...)
}

func TestCloneIsIndependent(t *testing.T) {
	c, ids1, _ := scenarioA(t)
	c.SetSelection(ids1[2], false)
	clone, err := c.Clone()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(keys(c), keys(clone)); diff != "" {
		t.Fatalf("clone order:\n%s", diff)
	}
	if clone.SelectedCount() != 5 {
		t.Fatalf("clone selected = %d", clone.SelectedCount())
	}
	docs := c.Documents()
	c.Reset()
	if docs[0].Released() {
		t.Fatalf("reset of the original released a document the clone uses")
	}
	clone.Reset()
	if !docs[0].Released() || !docs[1].Released() {
		t.Fatalf("documents kept after both catalogs reset")
	}
}
