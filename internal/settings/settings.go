// Package settings holds per-group feature flags. Every other component
// is gated on these flags; reads are hot, writes are rare admin toggles.
package settings

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"groupwarden/internal/storage"
)

// ErrDenied is returned when the actor's role may not change settings.
var ErrDenied = errors.New("settings: permission denied")

// Role is the chat-level role of an actor as reported by the transport.
type Role string

const (
	RoleMember  Role = "member"
	RoleAdmin   Role = "group_admin"
	RoleCreator Role = "group_creator"
)

func (r Role) Operator() bool {
	return r == RoleAdmin || r == RoleCreator
}

const (
	FeatureAutoResponses      = "auto_responses"
	FeatureMediaDownloads     = "media_downloads"
	FeatureTranslation        = "translation"
	FeatureCryptoUpdates      = "crypto_updates"
	FeatureAccessibility      = "accessibility_features"
	FeatureVoiceTranscription = "voice_transcription"
	FeatureSpamProtection     = "spam_protection"
	FeatureWordFiltering      = "word_filtering"
	FeatureMemberScreening    = "new_member_screening"
	FeatureAutoModeration     = "auto_moderation"
	FeatureWelcomeMessages    = "welcome_messages"
)

func Defaults() map[string]bool {
	return map[string]bool{
		FeatureAutoResponses:      true,
		FeatureMediaDownloads:     true,
		FeatureTranslation:        true,
		FeatureCryptoUpdates:      false,
		FeatureAccessibility:      true,
		FeatureVoiceTranscription: true,
		FeatureSpamProtection:     false,
		FeatureWordFiltering:      false,
		FeatureMemberScreening:    false,
		FeatureAutoModeration:     false,
		FeatureWelcomeMessages:    false,
	}
}

func KnownFeature(feature string) bool {
	_, ok := Defaults()[feature]
	return ok
}

type groupEntry struct {
	mu    sync.Mutex
	flags map[string]bool
}

type Store struct {
	mu     sync.Mutex
	store  *storage.Store
	groups map[int64]*groupEntry
	onSeed func(context.Context, int64)
}

func NewStore(store *storage.Store) *Store {
	return &Store{store: store, groups: make(map[int64]*groupEntry)}
}

// OnFirstContact registers a callback run when a group is materialized
// with default flags. Callbacks must be idempotent; a racing double
// materialization may fire it twice.
func (s *Store) OnFirstContact(fn func(context.Context, int64)) {
	s.onSeed = fn
}

// Get reports whether a feature is on for a group. First contact with an
// unseen group materializes a config with all defaults.
func (s *Store) Get(ctx context.Context, groupID int64, feature string) (bool, error) {
	if !KnownFeature(feature) {
		return false, fmt.Errorf("unknown feature %q", feature)
	}
	entry, err := s.group(ctx, groupID)
	if err != nil {
		return false, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.flags[feature], nil
}

// Set toggles a feature. Only group admins and the group creator may
// write; the read-modify-write of one flag is serialized per group.
func (s *Store) Set(ctx context.Context, groupID int64, feature string, enabled bool, actor Role) error {
	if !KnownFeature(feature) {
		return fmt.Errorf("unknown feature %q", feature)
	}
	if !actor.Operator() {
		return ErrDenied
	}
	entry, err := s.group(ctx, groupID)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if err := s.store.SetGroupFeature(ctx, groupID, feature, enabled); err != nil {
		return err
	}
	entry.flags[feature] = enabled
	return nil
}

// Snapshot returns a copy of all flags for display.
func (s *Store) Snapshot(ctx context.Context, groupID int64) (map[string]bool, error) {
	entry, err := s.group(ctx, groupID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	out := make(map[string]bool, len(entry.flags))
	for feature, enabled := range entry.flags {
		out[feature] = enabled
	}
	return out, nil
}

func FeatureNames() []string {
	names := make([]string, 0, len(Defaults()))
	for feature := range Defaults() {
		names = append(names, feature)
	}
	sort.Strings(names)
	return names
}

func (s *Store) group(ctx context.Context, groupID int64) (*groupEntry, error) {
	s.mu.Lock()
	entry := s.groups[groupID]
	if entry != nil {
		s.mu.Unlock()
		return entry, nil
	}
	s.mu.Unlock()

	persisted, err := s.store.GetGroupFeatures(ctx, groupID)
	if err != nil {
		return nil, err
	}
	flags := Defaults()
	if len(persisted) == 0 {
		if err := s.store.SeedGroupFeatures(ctx, groupID, flags); err != nil {
			return nil, err
		}
		if s.onSeed != nil {
			s.onSeed(ctx, groupID)
		}
	} else {
		for feature, enabled := range persisted {
			if KnownFeature(feature) {
				flags[feature] = enabled
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing := s.groups[groupID]; existing != nil {
		return existing, nil
	}
	entry = &groupEntry{flags: flags}
	s.groups[groupID] = entry
	return entry, nil
}
