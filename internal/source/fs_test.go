package source

import "testing"

func TestSplitFrontMatterNone(t *testing.T) {
	body, _, ok := splitFrontMatter("hello world")
	if ok {
		t.Fatalf("expected no front matter")
	}
	if body != "hello world" {
		t.Fatalf("got %q", body)
	}
}

func TestSplitFrontMatterPresent(t *testing.T) {
	text := "---\ntitle: My Post\nauthor: Jane\ndescription: A thing\n---\nbody text here\n"
	body, fm, ok := splitFrontMatter(text)
	if !ok {
		t.Fatalf("expected front matter to be detected")
	}
	if fm.Title != "My Post" || fm.Author != "Jane" || fm.Description != "A thing" {
		t.Fatalf("unexpected front matter: %+v", fm)
	}
	if body != "body text here\n" {
		t.Fatalf("unexpected body: %q", body)
	}
}

func TestSplitFrontMatterUnterminatedFenceIsNotFrontMatter(t *testing.T) {
	text := "---\ntitle: Oops\nno closing fence"
	body, _, ok := splitFrontMatter(text)
	if ok {
		t.Fatalf("expected unterminated fence to not be treated as front matter")
	}
	if body != text {
		t.Fatalf("expected body unchanged, got %q", body)
	}
}

func TestFsScannerMatchesEmptyGlobs(t *testing.T) {
	s := NewFsScanner("/tmp", nil)
	if !s.matches("anything/at/all.txt") {
		t.Fatalf("expected empty glob set to match everything")
	}
}

func TestFsScannerMatchesGlob(t *testing.T) {
	s := NewFsScanner("/tmp", []string{"**/*.md"})
	if !s.matches("docs/a.md") {
		t.Fatalf("expected docs/a.md to match **/*.md")
	}
	if s.matches("docs/a.txt") {
		t.Fatalf("expected docs/a.txt not to match **/*.md")
	}
}
