// Package drafts keeps unsaved debrief drafts on local disk until a save succeeds.
package drafts

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/peterbourgon/diskv/v3"
)

const keySeparator = "/"

var (
	// ErrMissingBasePath indicates that no stash directory was configured.
	ErrMissingBasePath = errors.New("drafts: base path is required")
	errInvalidKey      = errors.New("drafts: user and day are required")
)

// Draft is a retained, not yet persisted debrief.
type Draft struct {
	UserID  string    `json:"userId"`
	Day     string    `json:"day"`
	Payload string    `json:"payload"`
	SavedAt time.Time `json:"savedAt"`
}

// Stash stores at most one draft per (user, day).
type Stash struct {
	d *diskv.Diskv
}

// NewStash opens a stash rooted at basePath.
func NewStash(basePath string) (*Stash, error) {
	if strings.TrimSpace(basePath) == "" {
		return nil, ErrMissingBasePath
	}
	if err := os.MkdirAll(basePath, 0o700); err != nil {
		return nil, fmt.Errorf("drafts: ensure base path: %w", err)
	}
	return &Stash{d: diskv.New(diskv.Options{
		BasePath:          basePath,
		AdvancedTransform: keyToPath,
		InverseTransform:  pathToKey,
		CacheSizeMax:      512 * 1024,
		FilePerm:          0o600,
		PathPerm:          0o700,
	})}, nil
}

// Put replaces the draft stored for its user and day.
func (s *Stash) Put(draft Draft) error {
	key, err := toKey(draft.UserID, draft.Day)
	if err != nil {
		return err
	}
	data, err := json.Marshal(draft)
	if err != nil {
		return fmt.Errorf("drafts: encode: %w", err)
	}
	if err := s.d.Write(key, data); err != nil {
		return fmt.Errorf("drafts: write: %w", err)
	}
	return nil
}

// Get returns the draft for userID and day when one is stashed.
func (s *Stash) Get(userID, day string) (Draft, bool, error) {
	key, err := toKey(userID, day)
	if err != nil {
		return Draft{}, false, err
	}
	if !s.d.Has(key) {
		return Draft{}, false, nil
	}
	data, err := s.d.Read(key)
	if err != nil {
		return Draft{}, false, fmt.Errorf("drafts: read: %w", err)
	}
	var draft Draft
	if err := json.Unmarshal(data, &draft); err != nil {
		return Draft{}, false, fmt.Errorf("drafts: decode: %w", err)
	}
	return draft, true, nil
}

// Discard drops the draft for userID and day. Discarding a missing draft succeeds.
func (s *Stash) Discard(userID, day string) error {
	key, err := toKey(userID, day)
	if err != nil {
		return err
	}
	if !s.d.Has(key) {
		return nil
	}
	if err := s.d.Erase(key); err != nil {
		return fmt.Errorf("drafts: erase: %w", err)
	}
	return nil
}

// Days lists the days with a stashed draft for userID, oldest first.
func (s *Stash) Days(ctx context.Context, userID string) []string {
	prefix := hex.EncodeToString([]byte(userID)) + keySeparator
	var days []string
	for key := range s.d.KeysPrefix(prefix, ctx.Done()) {
		days = append(days, strings.TrimPrefix(key, prefix))
	}
	sort.Strings(days)
	return days
}

func toKey(userID, day string) (string, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(day) == "" || strings.Contains(day, keySeparator) || strings.Contains(day, "..") {
		return "", errInvalidKey
	}
	return hex.EncodeToString([]byte(userID)) + keySeparator + day, nil
}

func keyToPath(key string) *diskv.PathKey {
	user, day, _ := strings.Cut(key, keySeparator)
	return &diskv.PathKey{Path: []string{user}, FileName: day}
}

func pathToKey(pathKey *diskv.PathKey) string {
	return strings.Join(pathKey.Path, keySeparator) + keySeparator + pathKey.FileName
}
