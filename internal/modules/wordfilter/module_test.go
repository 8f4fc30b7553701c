package wordfilter

import (
	"context"
	"testing"

	"groupwarden/internal/storage"
)

func newTestFilter(t *testing.T) *Filter {
	t.Helper()
	store, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return New(store)
}

func TestWholeTokenMatch(t *testing.T) {
	filter := newTestFilter(t)
	ctx := context.Background()

	if err := filter.AddWord(ctx, 1, "spamword"); err != nil {
		t.Fatalf("add word: %v", err)
	}

	word, ok, err := filter.Match(ctx, 1, "this contains spamword right here")
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if !ok || word != "spamword" {
		t.Fatalf("expected whole-word match, got %q ok=%t", word, ok)
	}

	_, ok, err = filter.Match(ctx, 1, "unspamwordlike is a different token")
	if err != nil {
		t.Fatalf("match substring: %v", err)
	}
	if ok {
		t.Fatalf("substring of a longer word must not match")
	}
}

func TestCaseAndDiacriticFolding(t *testing.T) {
	filter := newTestFilter(t)
	ctx := context.Background()

	if err := filter.AddWord(ctx, 1, "Scam"); err != nil {
		t.Fatalf("add word: %v", err)
	}

	word, ok, err := filter.Match(ctx, 1, "total SCÁM offer")
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if !ok || word != "scam" {
		t.Fatalf("expected folded match, got %q ok=%t", word, ok)
	}
}

func TestRemoveWord(t *testing.T) {
	filter := newTestFilter(t)
	ctx := context.Background()

	if err := filter.AddWord(ctx, 1, "banned"); err != nil {
		t.Fatalf("add: %v", err)
	}
	removed, err := filter.RemoveWord(ctx, 1, "banned")
	if err != nil || !removed {
		t.Fatalf("expected removal, got removed=%t err=%v", removed, err)
	}
	removed, err = filter.RemoveWord(ctx, 1, "banned")
	if err != nil {
		t.Fatalf("second remove: %v", err)
	}
	if removed {
		t.Fatalf("second remove must report absence")
	}

	if _, ok, _ := filter.Match(ctx, 1, "banned"); ok {
		t.Fatalf("removed word must not match")
	}
}

func TestLinkHostMatch(t *testing.T) {
	filter := newTestFilter(t)
	ctx := context.Background()

	if err := filter.AddWord(ctx, 1, "t.me"); err != nil {
		t.Fatalf("add host: %v", err)
	}

	word, ok, err := filter.Match(ctx, 1, "join https://t.me/freecoins today")
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if !ok || word != "t.me" {
		t.Fatalf("expected host match, got %q ok=%t", word, ok)
	}

	if _, ok, _ := filter.Match(ctx, 1, "the tome of knowledge"); ok {
		t.Fatalf("host entry must not match plain tokens")
	}
}

func TestSeedDefaults(t *testing.T) {
	filter := newTestFilter(t)
	ctx := context.Background()

	if err := filter.SeedDefaults(ctx, 1); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := filter.SeedDefaults(ctx, 1); err != nil {
		t.Fatalf("second seed: %v", err)
	}

	words, err := filter.Words(ctx, 1)
	if err != nil {
		t.Fatalf("words: %v", err)
	}
	if len(words) != len(defaultWords) {
		t.Fatalf("seeded %d words, want %d", len(words), len(defaultWords))
	}
	if _, ok, _ := filter.Match(ctx, 1, "free casino night"); !ok {
		t.Fatalf("seeded word must match")
	}
}

func TestGroupsDoNotShareSets(t *testing.T) {
	filter := newTestFilter(t)
	ctx := context.Background()

	if err := filter.AddWord(ctx, 1, "crypto"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, ok, _ := filter.Match(ctx, 2, "crypto talk"); ok {
		t.Fatalf("word sets are per group")
	}
}
