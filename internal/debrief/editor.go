package debrief

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/intentions/internal/drafts"
	"github.com/MarcoPoloResearchLab/intentions/internal/entitlement"
	"github.com/MarcoPoloResearchLab/intentions/internal/richtext"
	"go.uber.org/zap"
)

// DefaultAutosaveDelay is the quiet period after the last edit before an autosave runs.
const DefaultAutosaveDelay = 2 * time.Second

// State is the editor's position in the draft-persist cycle.
type State string

const (
	StateClean      State = "clean"
	StateEditing    State = "editing"
	StateValidating State = "validating"
	StatePersisting State = "persisting"
	StateRejected   State = "rejected"
)

var (
	// ErrNoActiveDay indicates that no day was opened yet.
	ErrNoActiveDay = errors.New("debrief: no active day")
	// ErrTierUnavailable indicates that the word limit could not be resolved.
	ErrTierUnavailable = errors.New("debrief: tier unavailable")
	// ErrClosed indicates use of an editor after Close.
	ErrClosed = errors.New("debrief: editor closed")

	errMissingStore = errors.New("debrief: store is required")
	errMissingUser  = errors.New("debrief: user id is required")
)

// DraftStash retains drafts whose save failed.
type DraftStash interface {
	Put(draft drafts.Draft) error
	Get(userID, day string) (drafts.Draft, bool, error)
	Discard(userID, day string) error
}

// Config wires an Editor.
type Config struct {
	UserID        string
	Store         Store
	Tier          entitlement.TierSource
	Stash         DraftStash
	AutosaveDelay time.Duration
	Location      *time.Location
	Clock         func() time.Time
	Logger        *zap.Logger
}

// Snapshot is the externally visible editor state.
type Snapshot struct {
	Day        string
	DocumentID string
	Draft      richtext.Document
	State      State
	Dirty      bool
	WordCount  int
	Title      string
	LastError  error
}

// Editor owns one user's debrief draft. Edits are gated by the tier's word limit, autosaved
// after a quiet period, and upserted under the active day's document.
type Editor struct {
	userID   string
	store    Store
	tier     entitlement.TierSource
	stash    DraftStash
	location *time.Location
	clock    func() time.Time
	logger   *zap.Logger

	// saveMu serializes Open and persistence; mu guards the fields below it.
	saveMu     sync.Mutex
	mu         sync.Mutex
	day        string
	documentID string
	draft      richtext.Document
	state      State
	dirty      bool
	generation uint64
	closed     bool
	lastErr    error

	debouncer *Debouncer
}

// NewEditor validates cfg and constructs an Editor with no active day.
func NewEditor(cfg Config) (*Editor, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.UserID == "" {
		return nil, errMissingUser
	}
	tier := cfg.Tier
	if tier == nil {
		tier = entitlement.StaticTier(entitlement.TierBasic)
	}
	location := cfg.Location
	if location == nil {
		location = time.UTC
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	delay := cfg.AutosaveDelay
	if delay <= 0 {
		delay = DefaultAutosaveDelay
	}

	editor := &Editor{
		userID:   cfg.UserID,
		store:    cfg.Store,
		tier:     tier,
		stash:    cfg.Stash,
		location: location,
		clock:    clock,
		logger:   logger.With(zap.String("user_id", cfg.UserID)),
		draft:    richtext.Empty(),
		state:    StateClean,
	}
	editor.debouncer = NewDebouncer(delay, editor.autosave)
	return editor, nil
}

// Open switches the editor to the day containing instant. A pending edit of the previous day is
// saved first. The cached document identifier is cleared before the new day is looked up and the
// draft is emptied when the new day has no document.
func (e *Editor) Open(ctx context.Context, instant time.Time) (Snapshot, error) {
	e.saveMu.Lock()
	defer e.saveMu.Unlock()

	if e.debouncer.Stop() || e.isDirty() {
		if _, err := e.persist(ctx); err != nil {
			e.logger.Warn("saving previous day before switch failed", zap.Error(err))
		}
	}

	day := DayKey(instant, e.location)
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return e.Snapshot(), ErrClosed
	}
	e.documentID = ""
	e.day = day
	e.generation++
	e.mu.Unlock()

	record, found, err := e.store.FindByDate(ctx, day)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.draft = richtext.Empty()
	e.dirty = false
	e.state = StateClean
	e.lastErr = nil
	if err != nil {
		e.lastErr = err
		e.logger.Warn("debrief lookup failed", zap.String("date", day), zap.Error(err))
		return e.snapshotLocked(), err
	}
	if found {
		e.documentID = record.ID
		doc, decodeErr := richtext.DecodeOrEmpty(record.Text)
		if decodeErr != nil {
			e.logger.Warn("stored debrief could not be decoded", zap.String("date", day), zap.String("document_id", record.ID), zap.Error(decodeErr))
		}
		e.draft = doc
	}
	e.restoreStashLocked(day)
	return e.snapshotLocked(), nil
}

func (e *Editor) restoreStashLocked(day string) {
	if e.stash == nil {
		return
	}
	stashed, found, err := e.stash.Get(e.userID, day)
	if err != nil {
		e.logger.Warn("draft stash read failed", zap.String("date", day), zap.Error(err))
		return
	}
	if !found {
		return
	}
	doc, err := richtext.Decode(stashed.Payload)
	if err != nil {
		e.logger.Warn("stashed draft could not be decoded", zap.String("date", day), zap.Error(err))
		return
	}
	e.draft = doc
	e.dirty = true
	e.generation++
	e.state = StateEditing
	e.debouncer.Trigger()
	e.logger.Info("restored unsaved debrief draft", zap.String("date", day))
}

// Replace substitutes target with text.
func (e *Editor) Replace(ctx context.Context, target richtext.Range, text string) (Snapshot, error) {
	return e.edit(ctx, func(doc richtext.Document) (richtext.Document, error) {
		return richtext.Replace(doc, target, text)
	})
}

// ToggleBold flips bold across selection.
func (e *Editor) ToggleBold(ctx context.Context, selection richtext.Range) (Snapshot, error) {
	return e.edit(ctx, func(doc richtext.Document) (richtext.Document, error) {
		return richtext.ToggleBold(doc, selection)
	})
}

// ToggleItalic flips italics across selection.
func (e *Editor) ToggleItalic(ctx context.Context, selection richtext.Range) (Snapshot, error) {
	return e.edit(ctx, func(doc richtext.Document) (richtext.Document, error) {
		return richtext.ToggleItalic(doc, selection)
	})
}

// ToggleUnderline flips underline across selection.
func (e *Editor) ToggleUnderline(ctx context.Context, selection richtext.Range) (Snapshot, error) {
	return e.edit(ctx, func(doc richtext.Document) (richtext.Document, error) {
		return richtext.ToggleUnderline(doc, selection)
	})
}

// ToggleBullet bullets the paragraph touched by selection.
func (e *Editor) ToggleBullet(ctx context.Context, selection richtext.Range) (Snapshot, error) {
	return e.edit(ctx, func(doc richtext.Document) (richtext.Document, error) {
		return richtext.ToggleBulletForParagraph(doc, selection)
	})
}

// SetDraft replaces the whole draft.
func (e *Editor) SetDraft(ctx context.Context, doc richtext.Document) (Snapshot, error) {
	return e.edit(ctx, func(richtext.Document) (richtext.Document, error) {
		return doc, nil
	})
}

// edit applies mutate to the draft unless the result would grow the word count past the tier's
// limit, in which case the draft is left untouched.
func (e *Editor) edit(ctx context.Context, mutate func(richtext.Document) (richtext.Document, error)) (Snapshot, error) {
	tier, tierErr := e.tier.CurrentTier(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return e.snapshotLocked(), ErrClosed
	}
	if e.day == "" {
		return e.snapshotLocked(), ErrNoActiveDay
	}
	if tierErr != nil {
		e.logger.Warn("tier lookup failed", zap.Error(tierErr))
		return e.snapshotLocked(), fmt.Errorf("%w: %v", ErrTierUnavailable, tierErr)
	}

	candidate, err := mutate(e.draft)
	if err != nil {
		return e.snapshotLocked(), err
	}

	previousWords := entitlement.CountWords(richtext.PlainText(e.draft))
	words := entitlement.CountWords(richtext.PlainText(candidate))
	if words > previousWords && entitlement.CheckWordLimit(words, tier) == entitlement.Deny {
		e.state = StateRejected
		e.logger.Info("debrief edit rejected", zap.Int("words", words), zap.String("tier", tier.String()))
		return e.snapshotLocked(), entitlement.NewQuotaExceededError(tier, entitlement.QuotaDebriefWords)
	}

	e.draft = candidate
	e.dirty = true
	e.generation++
	e.state = StateEditing
	e.debouncer.Trigger()
	return e.snapshotLocked(), nil
}

// Save validates and persists the draft now.
func (e *Editor) Save(ctx context.Context) (Snapshot, error) {
	e.saveMu.Lock()
	defer e.saveMu.Unlock()

	e.debouncer.Stop()
	return e.persist(ctx)
}

// Close cancels the pending autosave and makes one final save attempt. A day that never had a
// document and whose draft is empty is not written.
func (e *Editor) Close(ctx context.Context) (Snapshot, error) {
	e.saveMu.Lock()
	defer e.saveMu.Unlock()

	e.debouncer.Stop()
	var err error
	if e.hasContent() {
		_, err = e.persist(ctx)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return e.snapshotLocked(), err
}

// Snapshot returns the current state.
func (e *Editor) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Editor) autosave() {
	e.saveMu.Lock()
	defer e.saveMu.Unlock()

	if !e.isDirty() {
		return
	}
	if _, err := e.persist(context.Background()); err != nil {
		e.logger.Warn("debrief autosave failed", zap.Error(err))
	}
}

// persist runs Validating then Persisting. Callers hold saveMu.
func (e *Editor) persist(ctx context.Context) (Snapshot, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return e.Snapshot(), ErrClosed
	}
	if e.day == "" {
		e.mu.Unlock()
		return e.Snapshot(), ErrNoActiveDay
	}
	day := e.day
	documentID := e.documentID
	draft := e.draft
	generation := e.generation
	e.state = StateValidating
	e.mu.Unlock()

	plain := richtext.PlainText(draft)
	words := entitlement.CountWords(plain)
	tier, err := e.tier.CurrentTier(ctx)
	if err != nil {
		e.logger.Warn("tier lookup failed", zap.Error(err))
		return e.fail(day, "", fmt.Errorf("%w: %v", ErrTierUnavailable, err), StateEditing)
	}
	if entitlement.CheckWordLimit(words, tier) == entitlement.Deny {
		e.logger.Info("debrief save rejected", zap.Int("words", words), zap.String("tier", tier.String()))
		return e.fail(day, "", entitlement.NewQuotaExceededError(tier, entitlement.QuotaDebriefWords), StateRejected)
	}

	e.setState(StatePersisting)
	payload, err := richtext.Encode(draft)
	if err != nil {
		e.logger.Error("debrief encode failed", zap.Error(err))
		return e.fail(day, "", err, StateEditing)
	}
	record := Record{
		Title:     DeriveTitle(plain),
		Text:      payload,
		UserID:    e.userID,
		Timestamp: e.clock().UTC(),
		Date:      day,
		WordCount: words,
	}

	if documentID != "" {
		err = e.store.Merge(ctx, documentID, record)
	} else {
		documentID, err = e.store.Create(ctx, record)
	}
	if err != nil {
		e.logger.Warn("debrief write failed", zap.String("date", day), zap.Error(err))
		return e.fail(day, payload, err, StateEditing)
	}

	if e.stash != nil {
		if err := e.stash.Discard(e.userID, day); err != nil {
			e.logger.Warn("draft stash discard failed", zap.String("date", day), zap.Error(err))
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.day == day {
		e.documentID = documentID
	}
	e.lastErr = nil
	if e.generation == generation {
		e.dirty = false
		e.state = StateClean
	} else {
		e.state = StateEditing
	}
	return e.snapshotLocked(), nil
}

// fail records err, keeps the draft, and stashes payload when one is given.
func (e *Editor) fail(day, payload string, err error, state State) (Snapshot, error) {
	if payload != "" && e.stash != nil {
		stashErr := e.stash.Put(drafts.Draft{UserID: e.userID, Day: day, Payload: payload, SavedAt: e.clock().UTC()})
		if stashErr != nil {
			e.logger.Warn("draft stash write failed", zap.String("date", day), zap.Error(stashErr))
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastErr = err
	e.state = state
	return e.snapshotLocked(), err
}

func (e *Editor) setState(state State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = state
}

func (e *Editor) isDirty() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dirty
}

func (e *Editor) hasContent() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.day != "" && (e.documentID != "" || e.dirty || e.draft.Len() > 0)
}

func (e *Editor) snapshotLocked() Snapshot {
	plain := richtext.PlainText(e.draft)
	return Snapshot{
		Day:        e.day,
		DocumentID: e.documentID,
		Draft:      e.draft,
		State:      e.state,
		Dirty:      e.dirty,
		WordCount:  entitlement.CountWords(plain),
		Title:      DeriveTitle(plain),
		LastError:  e.lastErr,
	}
}
