package pipeline

import (
	"context"
	"testing"

	"github.com/dimfeld/perceive/internal/batch"
	"github.com/dimfeld/perceive/internal/source"
)

// stubScanner returns a canned ReadResult and optionally rewrites content.
type stubScanner struct {
	result  source.ReadResult
	content string
}

func (s *stubScanner) Scan(ctx context.Context, sender *batch.Sender[source.Item]) error {
	return nil
}

func (s *stubScanner) Read(ctx context.Context, existing *source.Item, strategy source.CompareStrategy, item *source.Item) (source.ReadResult, error) {
	if s.content != "" {
		item.Content = s.content
	}
	return s.result, nil
}

func (s *stubScanner) Reprocess(ctx context.Context, item *source.Item) (source.ReadResult, error) {
	return source.ReadUnchanged, nil
}

func (s *stubScanner) LatestProcessVersion() int { return 1 }

func readOne(t *testing.T, scanner source.Scanner, strategy source.CompareStrategy, si source.ScanItem) []source.ScanItem {
	t.Helper()
	return processReaderBatch(context.Background(), scanner, strategy, []source.ScanItem{si})
}

func TestReaderForwardsUnchangedWithoutReading(t *testing.T) {
	si := source.ScanItem{Item: source.NewItem(1, "a"), State: source.StateUnchanged}
	// A scanner whose Read reports Omit would drop the item; Unchanged items
	// must bypass Read entirely.
	out := readOne(t, &stubScanner{result: source.ReadOmit}, source.MTimeAndContent, si)
	if len(out) != 1 || out[0].State != source.StateUnchanged {
		t.Fatalf("expected the unchanged item forwarded untouched, got %+v", out)
	}
}

func TestReaderDropsNewItemThatReadsBackUnchanged(t *testing.T) {
	si := source.ScanItem{Item: source.NewItem(1, "a"), State: source.StateNew}
	out := readOne(t, &stubScanner{result: source.ReadUnchanged}, source.MTimeAndContent, si)
	if len(out) != 0 {
		t.Fatalf("expected a new-but-ignorable item to be dropped, got %+v", out)
	}
}

func TestReaderDropsOmittedItems(t *testing.T) {
	si := source.ScanItem{Item: source.NewItem(1, "a"), State: source.StateChanged}
	out := readOne(t, &stubScanner{result: source.ReadOmit}, source.MTimeAndContent, si)
	if len(out) != 0 {
		t.Fatalf("expected an omitted item to be dropped, got %+v", out)
	}
}

func TestReaderUpgradesFoundByContentComparison(t *testing.T) {
	existing := source.Item{ID: 7, Content: "old text"}

	si := source.ScanItem{Item: source.Item{ID: 7, ExternalID: "a"}, State: source.StateFound, Existing: &existing}
	out := readOne(t, &stubScanner{result: source.ReadFound, content: "new text"}, source.MTimeAndContent, si)
	if len(out) != 1 || out[0].State != source.StateChanged {
		t.Fatalf("expected differing content to upgrade Found to Changed, got %+v", out)
	}

	si = source.ScanItem{Item: source.Item{ID: 7, ExternalID: "a"}, State: source.StateFound, Existing: &existing}
	out = readOne(t, &stubScanner{result: source.ReadFound, content: "old text"}, source.MTimeAndContent, si)
	if len(out) != 1 || out[0].State != source.StateUnchanged {
		t.Fatalf("expected equal content to downgrade Found to Unchanged, got %+v", out)
	}
}

func TestReaderKeepsFoundWhenStrategySkipsContent(t *testing.T) {
	existing := source.Item{ID: 7, Content: "old text"}
	si := source.ScanItem{Item: source.Item{ID: 7, ExternalID: "a"}, State: source.StateFound, Existing: &existing}
	out := readOne(t, &stubScanner{result: source.ReadFound, content: "new text"}, source.MTime, si)
	if len(out) != 1 || out[0].State != source.StateFound {
		t.Fatalf("expected Found preserved when the strategy ignores content, got %+v", out)
	}
}
