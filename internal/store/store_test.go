package store

import (
	"context"
	"encoding/json"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func doc(id, body string) Document {
	return Document{ID: id, Body: json.RawMessage(body)}
}

func ids(docs []Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}

func TestFetchAll_OrderedByID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.InsertMany(ctx, "evidence", []Document{
		doc("c", `{"n":3}`), doc("a", `{"n":1}`), doc("b", `{"n":2}`),
	}); err != nil {
		t.Fatal(err)
	}

	docs, err := s.FetchAll(ctx, "evidence")
	if err != nil {
		t.Fatal(err)
	}
	got := ids(docs)
	want := []string{"a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, got)
		}
	}
}

func TestAppendAll_KeepsExistingAndSkipsDuplicates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.AppendAll(ctx, "evidence", []Document{doc("a", `{"v":"old"}`)}); err != nil {
		t.Fatal(err)
	}
	// "a" already exists; the stored body must survive the second append.
	if err := s.AppendAll(ctx, "evidence", []Document{
		doc("a", `{"v":"new"}`), doc("b", `{"v":"fresh"}`),
	}); err != nil {
		t.Fatal(err)
	}

	docs, err := s.FetchAll(ctx, "evidence")
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}
	if string(docs[0].Body) != `{"v":"old"}` {
		t.Errorf("append must not overwrite, got %s", docs[0].Body)
	}
}

func TestUpsertMany_Replaces(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.UpsertMany(ctx, "prompts", []Document{doc("p", `{"trials":1}`)}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertMany(ctx, "prompts", []Document{doc("p", `{"trials":2}`)}); err != nil {
		t.Fatal(err)
	}

	docs, err := s.FetchAll(ctx, "prompts")
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 || string(docs[0].Body) != `{"trials":2}` {
		t.Errorf("expected the replaced body, got %v", docs)
	}
}

func TestInsertMany_DuplicateFailsAndRollsBack(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.InsertMany(ctx, "evidence", []Document{doc("a", `{}`)}); err != nil {
		t.Fatal(err)
	}
	err := s.InsertMany(ctx, "evidence", []Document{doc("b", `{}`), doc("a", `{}`)})
	if err == nil {
		t.Fatal("expected duplicate id to fail")
	}

	docs, err := s.FetchAll(ctx, "evidence")
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 {
		t.Errorf("failed batch must roll back entirely, got %d documents", len(docs))
	}
}

func TestReplaceAll_SwapsCollection(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.InsertMany(ctx, "evidence", []Document{doc("old1", `{}`), doc("old2", `{}`)}); err != nil {
		t.Fatal(err)
	}
	if err := s.ReplaceAll(ctx, "evidence", []Document{doc("new", `{}`)}); err != nil {
		t.Fatal(err)
	}

	docs, err := s.FetchAll(ctx, "evidence")
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 || docs[0].ID != "new" {
		t.Errorf("expected only the replacement document, got %v", ids(docs))
	}
}

func TestCollectionsAreIsolated(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.InsertMany(ctx, "evidence", []Document{doc("shared", `{"from":"evidence"}`)}); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertMany(ctx, "invalid", []Document{doc("shared", `{"from":"invalid"}`)}); err != nil {
		t.Fatal(err)
	}
	if err := s.Clear(ctx, "invalid"); err != nil {
		t.Fatal(err)
	}

	docs, err := s.FetchAll(ctx, "evidence")
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 {
		t.Errorf("clearing one collection must not touch another, got %d", len(docs))
	}
	empty, err := s.FetchAll(ctx, "invalid")
	if err != nil {
		t.Fatal(err)
	}
	if len(empty) != 0 {
		t.Errorf("expected cleared collection to be empty, got %d", len(empty))
	}
}

func TestMarshal(t *testing.T) {
	d, err := Marshal("id1", map[string]int{"n": 1})
	if err != nil {
		t.Fatal(err)
	}
	if d.ID != "id1" || string(d.Body) != `{"n":1}` {
		t.Errorf("unexpected document: %+v", d)
	}
	if _, err := Marshal("bad", func() {}); err == nil {
		t.Error("expected marshal failure for unsupported type")
	}
}
