// Package wordfilter matches messages against a group's banned-word set.
// Matching is token based: case and diacritics are folded, and a banned
// word only matches as a whole token, never as a substring of a longer
// word. Entries that look like domains match the punycoded hosts of any
// links in the message instead.
package wordfilter

import (
	"context"
	"strings"
	"sync"
	"unicode"

	"groupwarden/internal/storage"
	"groupwarden/internal/utils"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

type Filter struct {
	mu    sync.RWMutex
	store *storage.Store
	sets  map[int64]map[string]struct{}
}

func New(store *storage.Store) *Filter {
	return &Filter{store: store, sets: make(map[int64]map[string]struct{})}
}

// Match reports the first banned word found in the text. The rule set is
// snapshot at call start: concurrent add/remove operations never affect a
// classification already in flight.
func (f *Filter) Match(ctx context.Context, groupID int64, text string) (string, bool, error) {
	set, err := f.snapshot(ctx, groupID)
	if err != nil {
		return "", false, err
	}
	if len(set) == 0 {
		return "", false, nil
	}

	for _, token := range tokenize(text) {
		if _, ok := set[token]; ok {
			return token, true, nil
		}
	}

	// entries like "t.me" never survive tokenization, so link hosts are
	// matched separately against the set
	for _, link := range utils.ExtractURLs(text) {
		host, err := utils.NormalizeHost(link)
		if err != nil {
			continue
		}
		if _, ok := set[host]; ok {
			return host, true, nil
		}
	}
	return "", false, nil
}

func (f *Filter) AddWord(ctx context.Context, groupID int64, word string) error {
	normalized := normalizeWord(word)
	if normalized == "" {
		return nil
	}
	if err := f.store.AddBannedWord(ctx, groupID, normalized); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if set, ok := f.sets[groupID]; ok {
		next := make(map[string]struct{}, len(set)+1)
		for w := range set {
			next[w] = struct{}{}
		}
		next[normalized] = struct{}{}
		f.sets[groupID] = next
	}
	return nil
}

// RemoveWord reports whether the word was in the set.
func (f *Filter) RemoveWord(ctx context.Context, groupID int64, word string) (bool, error) {
	normalized := normalizeWord(word)
	removed, err := f.store.RemoveBannedWord(ctx, groupID, normalized)
	if err != nil {
		return false, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if set, ok := f.sets[groupID]; ok {
		next := make(map[string]struct{}, len(set))
		for w := range set {
			if w != normalized {
				next[w] = struct{}{}
			}
		}
		f.sets[groupID] = next
	}
	return removed, nil
}

func (f *Filter) Words(ctx context.Context, groupID int64) ([]string, error) {
	return f.store.ListBannedWords(ctx, groupID)
}

// Token words plus link hosts; multi-word phrases cannot match and are
// not seeded.
var defaultWords = []string{"spam", "scam", "fake", "porn", "xxx", "adult", "casino", "gambling", "t.me", "telegram.me"}

// SeedDefaults installs the stock banned-word list. Idempotent; meant
// for a group's first contact, before admins have curated their own.
func (f *Filter) SeedDefaults(ctx context.Context, groupID int64) error {
	for _, word := range defaultWords {
		if err := f.AddWord(ctx, groupID, word); err != nil {
			return err
		}
	}
	return nil
}

// snapshot returns the group's current set. Sets are replaced wholesale
// on mutation, never mutated in place, so a returned map is safe to read
// without the lock.
func (f *Filter) snapshot(ctx context.Context, groupID int64) (map[string]struct{}, error) {
	f.mu.RLock()
	set, ok := f.sets[groupID]
	f.mu.RUnlock()
	if ok {
		return set, nil
	}

	words, err := f.store.ListBannedWords(ctx, groupID)
	if err != nil {
		return nil, err
	}
	set = make(map[string]struct{}, len(words))
	for _, word := range words {
		set[normalizeWord(word)] = struct{}{}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.sets[groupID]; ok {
		return existing, nil
	}
	f.sets[groupID] = set
	return set, nil
}

var foldTransform = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

func normalizeWord(word string) string {
	folded, _, err := transform.String(foldTransform, strings.ToLower(strings.TrimSpace(word)))
	if err != nil {
		return strings.ToLower(strings.TrimSpace(word))
	}
	return folded
}

func splitTokenRune(c rune) bool {
	return !unicode.IsLetter(c) && !unicode.IsNumber(c)
}

func tokenize(text string) []string {
	folded, _, err := transform.String(foldTransform, strings.ToLower(text))
	if err != nil {
		folded = strings.ToLower(text)
	}
	return strings.FieldsFunc(folded, splitTokenRune)
}
