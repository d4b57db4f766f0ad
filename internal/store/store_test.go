package store

import (
	"context"
	"database/sql"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestCreateAndGetSource(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	id, err := st.CreateSource(ctx, SourceRow{
		Name:            "docs",
		Location:        "/tmp/d",
		ConfigJSON:      `{"kind":"fs"}`,
		CompareStrategy: "mtime_and_content",
		StatusJSON:      `{"state":"new"}`,
	})
	if err != nil {
		t.Fatalf("CreateSource: %v", err)
	}

	row, err := st.GetSourceByName(ctx, "docs")
	if err != nil {
		t.Fatalf("GetSourceByName: %v", err)
	}
	if row == nil {
		t.Fatal("expected source row, got nil")
	}
	if row.ID != id || row.IndexVersion != 0 {
		t.Fatalf("unexpected row: %+v", row)
	}

	if missing, err := st.GetSourceByName(ctx, "nope"); err != nil || missing != nil {
		t.Fatalf("expected (nil, nil) for missing source, got (%v, %v)", missing, err)
	}
}

func TestBeginScanIncrementsIndexVersion(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	id, err := st.CreateSource(ctx, SourceRow{Name: "s", Location: "/x", ConfigJSON: "{}", CompareStrategy: "force", StatusJSON: "{}"})
	if err != nil {
		t.Fatalf("CreateSource: %v", err)
	}

	v1, err := st.BeginScan(ctx, id, `{"state":"indexing"}`)
	if err != nil {
		t.Fatalf("BeginScan: %v", err)
	}
	if v1 != 1 {
		t.Fatalf("expected first index_version 1, got %d", v1)
	}

	if err := st.EndScan(ctx, id, `{"state":"ready"}`, 1000); err != nil {
		t.Fatalf("EndScan: %v", err)
	}

	v2, err := st.BeginScan(ctx, id, `{"state":"indexing"}`)
	if err != nil {
		t.Fatalf("BeginScan: %v", err)
	}
	if v2 != 2 {
		t.Fatalf("expected second index_version 2, got %d", v2)
	}
}

func TestWriterTxInsertUpdateAndEmbedding(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	sourceID, err := st.CreateSource(ctx, SourceRow{Name: "s", Location: "/x", ConfigJSON: "{}", CompareStrategy: "force", StatusJSON: "{}"})
	if err != nil {
		t.Fatalf("CreateSource: %v", err)
	}

	tx, err := st.NewWriterTx(ctx)
	if err != nil {
		t.Fatalf("NewWriterTx: %v", err)
	}

	fields := ItemFields{
		Version:        1,
		Hash:           "abc",
		Content:        "hello world",
		ProcessVersion: 1,
		Name:           sql.NullString{String: "Hello", Valid: true},
		LastAccessed:   sql.NullInt64{Int64: 100, Valid: true},
	}
	itemID, err := tx.InsertNew(ctx, sourceID, "/tmp/a.md", fields)
	if err != nil {
		t.Fatalf("InsertNew: %v", err)
	}

	embedding := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	if err := tx.UpsertEmbedding(ctx, itemID, 1, 0, 0, embedding); err != nil {
		t.Fatalf("UpsertEmbedding: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	existing, err := st.LookupExisting(ctx, sourceID, []string{"/tmp/a.md"}, true, 0, 0)
	if err != nil {
		t.Fatalf("LookupExisting: %v", err)
	}
	row, ok := existing["/tmp/a.md"]
	if !ok {
		t.Fatal("expected to find the inserted item")
	}
	if row.ID != itemID || !row.HasEmbedding || !row.Content.Valid || row.Content.String != "hello world" {
		t.Fatalf("unexpected existing row: %+v", row)
	}

	rows, err := st.ItemsForIndex(ctx, 0, 0)
	if err != nil {
		t.Fatalf("ItemsForIndex: %v", err)
	}
	if len(rows) != 1 || rows[0].ItemID != itemID || rows[0].SourceID != sourceID {
		t.Fatalf("unexpected index rows: %+v", rows)
	}

	// A second transaction marking the item Unchanged must leave content and
	// hash untouched, only bumping version and last_accessed.
	tx2, err := st.NewWriterTx(ctx)
	if err != nil {
		t.Fatalf("NewWriterTx: %v", err)
	}
	if err := tx2.UpdateUnchanged(ctx, itemID, 2, 200); err != nil {
		t.Fatalf("UpdateUnchanged: %v", err)
	}
	if err := tx2.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	existing, err = st.LookupExisting(ctx, sourceID, []string{"/tmp/a.md"}, true, 0, 0)
	if err != nil {
		t.Fatalf("LookupExisting after unchanged update: %v", err)
	}
	row = existing["/tmp/a.md"]
	if row.Hash != "abc" || row.Content.String != "hello world" {
		t.Fatalf("expected content/hash unchanged, got %+v", row)
	}
}

func TestHiddenItemsExcludedFromIndexAndRetrieval(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	sourceID, err := st.CreateSource(ctx, SourceRow{Name: "s", Location: "/x", ConfigJSON: "{}", CompareStrategy: "force", StatusJSON: "{}"})
	if err != nil {
		t.Fatalf("CreateSource: %v", err)
	}

	tx, err := st.NewWriterTx(ctx)
	if err != nil {
		t.Fatalf("NewWriterTx: %v", err)
	}
	itemID, err := tx.InsertNew(ctx, sourceID, "/tmp/a.md", ItemFields{Version: 1, Content: "hello"})
	if err != nil {
		t.Fatalf("InsertNew: %v", err)
	}
	if err := tx.UpsertEmbedding(ctx, itemID, 1, 0, 0, []byte{0, 0, 0, 0}); err != nil {
		t.Fatalf("UpsertEmbedding: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if err := st.SetHidden(ctx, itemID, sql.NullInt64{Int64: 500, Valid: true}); err != nil {
		t.Fatalf("SetHidden: %v", err)
	}

	hiddenIDs, err := st.HiddenItemIDs(ctx)
	if err != nil {
		t.Fatalf("HiddenItemIDs: %v", err)
	}
	if len(hiddenIDs) != 1 || hiddenIDs[0] != itemID {
		t.Fatalf("expected item %d to be hidden, got %v", itemID, hiddenIDs)
	}

	rows, err := st.ItemsForIndex(ctx, 0, 0)
	if err != nil {
		t.Fatalf("ItemsForIndex: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected hidden item excluded from index rows, got %+v", rows)
	}

	got, err := st.GetItemsByID(ctx, []int64{itemID})
	if err != nil {
		t.Fatalf("GetItemsByID: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected hidden item excluded from retrieval, got %+v", got)
	}

	if err := st.SetHidden(ctx, itemID, sql.NullInt64{}); err != nil {
		t.Fatalf("SetHidden clear: %v", err)
	}
	got, err = st.GetItemsByID(ctx, []int64{itemID})
	if err != nil {
		t.Fatalf("GetItemsByID after unhide: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected item visible again after unhide, got %+v", got)
	}
}

func TestItemsNeedingReprocessPagesByID(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	sourceID, err := st.CreateSource(ctx, SourceRow{Name: "s", Location: "/x", ConfigJSON: "{}", CompareStrategy: "force", StatusJSON: "{}"})
	if err != nil {
		t.Fatalf("CreateSource: %v", err)
	}

	tx, err := st.NewWriterTx(ctx)
	if err != nil {
		t.Fatalf("NewWriterTx: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := tx.InsertNew(ctx, sourceID, string(rune('a'+i)), ItemFields{Version: 1, ProcessVersion: 0}); err != nil {
			t.Fatalf("InsertNew: %v", err)
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	page1, err := st.ItemsNeedingReprocess(ctx, sourceID, 1, 2, 0)
	if err != nil {
		t.Fatalf("ItemsNeedingReprocess: %v", err)
	}
	if len(page1) != 2 {
		t.Fatalf("expected a page of 2, got %d", len(page1))
	}

	page2, err := st.ItemsNeedingReprocess(ctx, sourceID, 1, 2, page1[len(page1)-1].ID)
	if err != nil {
		t.Fatalf("ItemsNeedingReprocess page 2: %v", err)
	}
	if len(page2) != 1 {
		t.Fatalf("expected a final page of 1, got %d", len(page2))
	}
}
