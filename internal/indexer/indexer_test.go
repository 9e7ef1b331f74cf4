package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"unicode/utf8"

	"github.com/ziadkadry99/ragpipe/internal/chunker"
	"github.com/ziadkadry99/ragpipe/internal/db"
	"github.com/ziadkadry99/ragpipe/internal/embeddings"
	"github.com/ziadkadry99/ragpipe/internal/extract"
	"github.com/ziadkadry99/ragpipe/internal/rag"
	"github.com/ziadkadry99/ragpipe/internal/sources"
	"github.com/ziadkadry99/ragpipe/internal/vectordb"
)

const testDims = 64

// --- Mock Embedders ---

type failingEmbedder struct {
	calls atomic.Int64
}

func (f *failingEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	f.calls.Add(1)
	return nil, rag.EmbeddingErr("embed", false, errors.New("quota exhausted"))
}
func (f *failingEmbedder) Dimensions() int { return testDims }
func (f *failingEmbedder) Name() string    { return "failing" }

// shortEmbedder returns vectors one element shorter than it advertises.
type shortEmbedder struct{}

func (shortEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = make([]float32, testDims-1)
		out[i][0] = 1
	}
	return out, nil
}
func (shortEmbedder) Dimensions() int { return testDims }
func (shortEmbedder) Name() string    { return "short" }

// --- Helpers ---

type fixture struct {
	ix     *Indexer
	index  *vectordb.ChromemStore
	ledger *sources.Store
}

func newFixture(t *testing.T, size, overlap int, opts Options) *fixture {
	t.Helper()
	return newFixtureWith(t, size, overlap, embeddings.NewLocalEmbedder(testDims), opts)
}

func newFixtureWith(t *testing.T, size, overlap int, emb embeddings.Embedder, opts Options) *fixture {
	t.Helper()

	c, err := chunker.New(size, overlap)
	if err != nil {
		t.Fatalf("chunker.New: %v", err)
	}
	index, err := vectordb.NewChromemStore(vectordb.ChromemOptions{})
	if err != nil {
		t.Fatalf("NewChromemStore: %v", err)
	}
	if err := index.EnsureSchema(context.Background(), testDims); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	d, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	ledger := sources.NewStore(d)

	ix := New(c, emb, index, extract.Default(), opts)
	ix.SetLedger(ledger)
	return &fixture{ix: ix, index: index, ledger: ledger}
}

func (f *fixture) count(t *testing.T) int {
	t.Helper()
	st, err := f.index.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	return st.DocumentCount
}

func writeFile(t *testing.T, dir, rel, content string) string {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// --- Ingest ---

func TestIngest_EndToEnd(t *testing.T) {
	f := newFixture(t, 60, 10, Options{})
	ctx := context.Background()

	text := strings.Repeat("Alpha beta gamma. ", 50)
	res := f.ix.Ingest(ctx, rag.Document{Text: text, Source: "doc1"})
	if !res.Success {
		t.Fatalf("Ingest failed: %s", res.Error)
	}
	if res.ChunkCount <= 1 {
		t.Fatalf("expected multiple chunks, got %d", res.ChunkCount)
	}
	if len(res.ChunkIDs) != res.ChunkCount {
		t.Errorf("ChunkIDs = %d, want %d", len(res.ChunkIDs), res.ChunkCount)
	}
	if got := f.count(t); got != res.ChunkCount {
		t.Errorf("index holds %d entries, want %d", got, res.ChunkCount)
	}

	vec, _ := embeddings.NewLocalEmbedder(testDims).Embed(ctx, []string{"beta"})
	hits, err := f.index.Search(ctx, vec[0], res.ChunkCount, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, h := range hits {
		if n := utf8.RuneCountInString(h.Text); n > 60 {
			t.Errorf("chunk %s has %d characters", h.ID, n)
		}
		for _, key := range []string{"source", "chunk_index", "total_chunks", "char_start", "char_end", "run_id", "ingested_at"} {
			if _, ok := h.Metadata[key]; !ok {
				t.Errorf("chunk %s missing metadata %q", h.ID, key)
			}
		}
		if h.Metadata["source"] != "doc1" {
			t.Errorf("source = %v, want doc1", h.Metadata["source"])
		}
	}
}

func TestIngest_CallerMetadataCopied(t *testing.T) {
	f := newFixture(t, 100, 10, Options{})
	ctx := context.Background()

	res := f.ix.Ingest(ctx, rag.Document{
		Text:     "Metadata travels with every chunk.",
		Source:   "meta",
		Metadata: map[string]any{"author": "ops", "source": "spoofed"},
	})
	if !res.Success {
		t.Fatalf("Ingest failed: %s", res.Error)
	}

	vec, _ := embeddings.NewLocalEmbedder(testDims).Embed(ctx, []string{"metadata"})
	hits, err := f.index.Search(ctx, vec[0], 1, map[string]string{"source": "meta"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
	if hits[0].Metadata["author"] != "ops" {
		t.Errorf("author = %v, want ops", hits[0].Metadata["author"])
	}
}

func TestIngest_Idempotent(t *testing.T) {
	f := newFixture(t, 60, 10, Options{IDPolicy: rag.IDDeterministic})
	ctx := context.Background()
	doc := rag.Document{Text: strings.Repeat("Alpha beta gamma. ", 50), Source: "doc1"}

	first := f.ix.Ingest(ctx, doc)
	countAfterFirst := f.count(t)
	second := f.ix.Ingest(ctx, doc)

	if !first.Success || !second.Success {
		t.Fatalf("ingest failed: %q / %q", first.Error, second.Error)
	}
	if strings.Join(first.ChunkIDs, ",") != strings.Join(second.ChunkIDs, ",") {
		t.Error("re-ingestion produced different chunk ids")
	}
	if got := f.count(t); got != countAfterFirst {
		t.Errorf("document count changed from %d to %d", countAfterFirst, got)
	}
}

func TestIngest_RandomPolicyAddsGeneration(t *testing.T) {
	f := newFixture(t, 60, 10, Options{IDPolicy: rag.IDRandom})
	ctx := context.Background()
	doc := rag.Document{Text: strings.Repeat("Alpha beta gamma. ", 10), Source: "doc1"}

	first := f.ix.Ingest(ctx, doc)
	second := f.ix.Ingest(ctx, doc)
	if first.ChunkIDs[0] == second.ChunkIDs[0] {
		t.Error("random policy should produce new ids per run")
	}
	if got := f.count(t); got != first.ChunkCount+second.ChunkCount {
		t.Errorf("count = %d, want %d", got, first.ChunkCount+second.ChunkCount)
	}
}

func TestIngest_ShrinkingDocumentRemovesStaleChunks(t *testing.T) {
	f := newFixture(t, 60, 10, Options{})
	ctx := context.Background()

	long := f.ix.Ingest(ctx, rag.Document{Text: strings.Repeat("Alpha beta gamma. ", 50), Source: "doc1"})
	short := f.ix.Ingest(ctx, rag.Document{Text: "Alpha beta gamma.", Source: "doc1"})
	if !long.Success || !short.Success {
		t.Fatalf("ingest failed: %q / %q", long.Error, short.Error)
	}
	if short.ChunkCount != 1 {
		t.Fatalf("expected 1 chunk, got %d", short.ChunkCount)
	}
	if got := f.count(t); got != 1 {
		t.Errorf("stale chunks left behind: count = %d, want 1", got)
	}

	src, err := f.ledger.Get(ctx, "doc1")
	if err != nil {
		t.Fatalf("ledger Get: %v", err)
	}
	if src.ChunkCount != 1 {
		t.Errorf("ledger chunk count = %d, want 1", src.ChunkCount)
	}
}

func TestIngest_NoContent(t *testing.T) {
	f := newFixture(t, 60, 10, Options{})

	res := f.ix.Ingest(context.Background(), rag.Document{Text: " \n\t ", Source: "blank"})
	if res.Success {
		t.Fatal("expected failure for empty document")
	}
	if !errors.Is(res.Err, rag.ErrNoContent) {
		t.Errorf("expected ErrNoContent, got %v", res.Err)
	}
	if res.Error != "no content" {
		t.Errorf("Error = %q, want %q", res.Error, "no content")
	}
}

func TestIngest_MissingSource(t *testing.T) {
	f := newFixture(t, 60, 10, Options{})
	res := f.ix.Ingest(context.Background(), rag.Document{Text: "text"})
	if res.Success || !rag.IsKind(res.Err, rag.KindConfiguration) {
		t.Errorf("expected configuration failure, got %+v", res)
	}
}

func TestIngest_EmbeddingFailure(t *testing.T) {
	emb := &failingEmbedder{}
	f := newFixtureWith(t, 60, 10, emb, Options{})

	res := f.ix.Ingest(context.Background(), rag.Document{Text: "some text", Source: "doc"})
	if res.Success {
		t.Fatal("expected failure")
	}
	if !rag.IsKind(res.Err, rag.KindEmbedding) {
		t.Errorf("expected embedding error, got %v", res.Err)
	}
	if f.count(t) != 0 {
		t.Error("nothing should be indexed after an embedding failure")
	}
}

func TestIngest_DimensionMismatch(t *testing.T) {
	f := newFixtureWith(t, 60, 10, shortEmbedder{}, Options{})

	res := f.ix.Ingest(context.Background(), rag.Document{Text: "some text", Source: "doc"})
	if res.Success {
		t.Fatal("expected failure")
	}
	if !errors.Is(res.Err, rag.ErrDimensionMismatch) {
		t.Errorf("expected dimension mismatch, got %v", res.Err)
	}
}

// --- Batches ---

func TestIngestMany_OrderAndProgress(t *testing.T) {
	f := newFixture(t, 60, 10, Options{Concurrency: 4})

	var docs []rag.Document
	for i := 0; i < 12; i++ {
		docs = append(docs, rag.Document{
			Text:   fmt.Sprintf("Document number %d talks about topic %d at length.", i, i),
			Source: fmt.Sprintf("doc-%02d", i),
		})
	}
	docs[5].Text = ""

	var calls atomic.Int64
	f.ix.SetProgressFunc(func(processed, total int, current string) {
		calls.Add(1)
		if total != 12 {
			t.Errorf("total = %d, want 12", total)
		}
	})

	res := f.ix.IngestMany(context.Background(), docs)
	if res.TotalFiles != 12 || res.Successful != 11 || res.Failed != 1 {
		t.Fatalf("unexpected counters: %+v", res)
	}
	for i, r := range res.Results {
		if want := fmt.Sprintf("doc-%02d", i); r.Source != want {
			t.Errorf("result %d source = %s, want %s", i, r.Source, want)
		}
	}
	if res.Results[5].Success {
		t.Error("empty document should fail")
	}
	if calls.Load() != 12 {
		t.Errorf("progress called %d times, want 12", calls.Load())
	}

	runs, err := f.ledger.ListRuns(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].Successful != 11 || runs[0].Failed != 1 {
		t.Errorf("unexpected run record: %+v", runs)
	}
}

func TestIngestMany_Cancelled(t *testing.T) {
	f := newFixture(t, 60, 10, Options{Concurrency: 2})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	docs := []rag.Document{
		{Text: "one", Source: "a"},
		{Text: "two", Source: "b"},
		{Text: "three", Source: "c"},
	}
	res := f.ix.IngestMany(ctx, docs)
	if res.Failed != 3 {
		t.Fatalf("expected all items to fail, got %+v", res)
	}
	for _, r := range res.Results {
		if !errors.Is(r.Err, context.Canceled) {
			t.Errorf("%s: expected context.Canceled, got %v", r.Source, r.Err)
		}
	}
	if f.count(t) != 0 {
		t.Error("nothing should be indexed after cancellation")
	}
}

func TestIngestFiles_Isolation(t *testing.T) {
	f := newFixture(t, 200, 20, Options{Concurrency: 3})
	dir := t.TempDir()

	paths := []string{
		writeFile(t, dir, "a.txt", "First document about retrieval."),
		writeFile(t, dir, "b.csv", "x,y,z"),
		writeFile(t, dir, "c.md", "# Third\n\nA markdown document."),
	}

	res := f.ix.IngestFiles(context.Background(), paths, []string{"", "", "third"})
	if res.TotalFiles != 3 || res.Successful != 2 || res.Failed != 1 {
		t.Fatalf("unexpected counters: %+v", res)
	}
	if res.Results[0].Source != "a.txt" {
		t.Errorf("default source = %q, want a.txt", res.Results[0].Source)
	}
	if !rag.IsKind(res.Results[1].Err, rag.KindExtraction) {
		t.Errorf("expected extraction error, got %v", res.Results[1].Err)
	}
	if res.Results[1].FilePath == "" {
		t.Error("failed result should carry the file path")
	}
	if res.Results[2].Source != "third" {
		t.Errorf("explicit source = %q, want third", res.Results[2].Source)
	}
}

func TestIngestFiles_DuplicateBaseNames(t *testing.T) {
	f := newFixture(t, 40, 5, Options{Concurrency: 2})
	dir := t.TempDir()
	ctx := context.Background()

	paths := []string{
		writeFile(t, dir, "one/README.md", strings.Repeat("The first readme describes alpha. ", 10)),
		writeFile(t, dir, "two/README.md", strings.Repeat("The second readme covers beta. ", 10)),
	}

	res := f.ix.IngestFiles(ctx, paths, nil)
	if res.Successful != 1 || res.Failed != 1 {
		t.Fatalf("unexpected counters: %+v", res)
	}
	if !res.Results[0].Success {
		t.Errorf("first file should be ingested: %s", res.Results[0].Error)
	}
	if !errors.Is(res.Results[1].Err, rag.ErrDuplicateSource) {
		t.Errorf("expected ErrDuplicateSource, got %v", res.Results[1].Err)
	}

	if got := f.count(t); got != res.Results[0].ChunkCount {
		t.Errorf("index holds %d chunks, want %d from the first file only", got, res.Results[0].ChunkCount)
	}
	src, err := f.ledger.Get(ctx, "README.md")
	if err != nil {
		t.Fatalf("ledger Get: %v", err)
	}
	if src.FilePath != paths[0] {
		t.Errorf("ledger file path = %q, want %q", src.FilePath, paths[0])
	}

	named := f.ix.IngestFiles(ctx, paths, []string{"readme-one", "readme-two"})
	if named.Failed != 0 {
		t.Errorf("distinct source names should both succeed: %+v", named)
	}
}

func TestIngestFileAs_RecordsDisplayPath(t *testing.T) {
	f := newFixture(t, 200, 20, Options{})
	ctx := context.Background()
	staged := writeFile(t, t.TempDir(), "upload-123.md", "# Notes\n\nStaged upload content.")

	res := f.ix.IngestFileAs(ctx, staged, "notes.md", "", nil)
	if !res.Success {
		t.Fatalf("IngestFileAs failed: %s", res.Error)
	}
	if res.Source != "notes.md" || res.FilePath != "notes.md" {
		t.Errorf("unexpected result: source=%q file_path=%q", res.Source, res.FilePath)
	}

	src, err := f.ledger.Get(ctx, "notes.md")
	if err != nil {
		t.Fatalf("ledger Get: %v", err)
	}
	if src.FilePath != "notes.md" {
		t.Errorf("ledger file path = %q, want notes.md", src.FilePath)
	}

	query := make([]float32, testDims)
	query[0] = 1
	hits, err := f.index.Search(ctx, query, 1, map[string]string{"source": "notes.md"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].Metadata["file_path"] != "notes.md" {
		t.Errorf("chunk metadata should carry the display path, got %+v", hits)
	}
}

// --- Removal ---

func TestRemoveSource(t *testing.T) {
	f := newFixture(t, 60, 10, Options{})
	ctx := context.Background()

	a := f.ix.Ingest(ctx, rag.Document{Text: strings.Repeat("Alpha beta gamma. ", 20), Source: "a"})
	b := f.ix.Ingest(ctx, rag.Document{Text: strings.Repeat("Delta epsilon. ", 20), Source: "b"})
	before := f.count(t)

	res := f.ix.RemoveSource(ctx, "a")
	if !res.Success {
		t.Fatalf("RemoveSource failed: %s", res.Error)
	}
	if res.Deleted != a.ChunkCount {
		t.Errorf("Deleted = %d, want %d", res.Deleted, a.ChunkCount)
	}
	if got := f.count(t); got != before-a.ChunkCount || got != b.ChunkCount {
		t.Errorf("count = %d, want %d", got, b.ChunkCount)
	}
	if _, err := f.ledger.Get(ctx, "a"); !errors.Is(err, sources.ErrNotFound) {
		t.Errorf("ledger should forget source a, got %v", err)
	}

	again := f.ix.RemoveSource(ctx, "a")
	if !again.Success || again.Deleted != 0 {
		t.Errorf("removing a missing source: %+v", again)
	}
}

// --- Directories ---

func TestIngestDirectory(t *testing.T) {
	f := newFixture(t, 200, 20, Options{Concurrency: 2, Exclude: []string{"drafts/**"}})
	dir := t.TempDir()
	writeFile(t, dir, "guide.md", "# Guide\n\nHow to use the system.")
	writeFile(t, dir, "nested/faq.txt", "Frequently asked questions.")
	writeFile(t, dir, "drafts/wip.txt", "Not ready.")
	writeFile(t, dir, "main.go", "package main")

	res, err := f.ix.IngestDirectory(context.Background(), dir)
	if err != nil {
		t.Fatalf("IngestDirectory: %v", err)
	}
	if res.TotalFiles != 2 || res.Successful != 2 {
		t.Fatalf("unexpected result: %+v", res.BatchIngestResult)
	}
	got := []string{res.Results[0].Source, res.Results[1].Source}
	if strings.Join(got, ",") != "guide.md,nested/faq.txt" {
		t.Errorf("sources = %v", got)
	}

	if _, err := f.ix.IngestDirectory(context.Background(), filepath.Join(dir, "missing")); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestSync(t *testing.T) {
	f := newFixture(t, 200, 20, Options{})
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, dir, "keep.txt", "This file does not change.")
	writeFile(t, dir, "edit.txt", "Original content.")
	gone := writeFile(t, dir, "gone.txt", "This file will be deleted.")

	first, err := f.ix.Sync(ctx, dir)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if first.Ingested.Successful != 3 || first.Unchanged != 0 {
		t.Fatalf("first sync: %+v", first)
	}

	writeFile(t, dir, "edit.txt", "Edited content that differs.")
	writeFile(t, dir, "new.txt", "A brand new file.")
	if err := os.Remove(gone); err != nil {
		t.Fatal(err)
	}

	second, err := f.ix.Sync(ctx, dir)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if second.Unchanged != 1 {
		t.Errorf("Unchanged = %d, want 1", second.Unchanged)
	}
	if second.Ingested.Successful != 2 {
		t.Errorf("Ingested = %d, want 2", second.Ingested.Successful)
	}
	if len(second.Removed) != 1 || second.Removed[0].Source != "gone.txt" || !second.Removed[0].Success {
		t.Errorf("Removed = %+v", second.Removed)
	}

	list, err := f.ledger.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 3 {
		t.Errorf("ledger has %d sources, want 3", len(list))
	}
	if got := f.count(t); got != 3 {
		t.Errorf("index holds %d entries, want 3", got)
	}
}

func TestSync_RequiresLedger(t *testing.T) {
	c, _ := chunker.New(100, 10)
	index, _ := vectordb.NewChromemStore(vectordb.ChromemOptions{})
	ix := New(c, embeddings.NewLocalEmbedder(testDims), index, extract.Default(), Options{})

	if _, err := ix.Sync(context.Background(), t.TempDir()); !rag.IsKind(err, rag.KindConfiguration) {
		t.Errorf("expected configuration error, got %v", err)
	}
}
