// Package session owns the per-user workspaces: the collection managers and debrief editor of
// one signed-in user, bound to that user's tier and torn down on sign-out.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/intentions/internal/collections"
	"github.com/MarcoPoloResearchLab/intentions/internal/debrief"
	"github.com/MarcoPoloResearchLab/intentions/internal/documents"
	"github.com/MarcoPoloResearchLab/intentions/internal/entitlement"
	"github.com/MarcoPoloResearchLab/intentions/internal/events"
	"github.com/MarcoPoloResearchLab/intentions/internal/planner"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	errMissingDocuments = errors.New("session: document service is required")
	errMissingTiers     = errors.New("session: tier resolver is required")
)

// TierResolver binds a tier source to a user.
type TierResolver interface {
	TierSource(userID string) entitlement.TierSource
}

// EventSource delivers a user's events to a callback.
type EventSource interface {
	Listen(userID string, callback func(events.Message)) func()
}

// Config wires a Registry.
type Config struct {
	Documents     *documents.Service
	Tiers         TierResolver
	Events        EventSource
	Stash         debrief.DraftStash
	AutosaveDelay time.Duration
	Location      *time.Location
	Clock         func() time.Time
	Logger        *zap.Logger
}

// Workspace is everything one signed-in user edits.
type Workspace struct {
	UserID     string
	Intentions *collections.Manager[planner.Intention]
	Exercise   *collections.Manager[planner.Exercise]
	Sleep      *collections.Manager[planner.Sleep]
	Goals      *collections.Manager[planner.Goal]
	Debrief    *debrief.Editor

	stopListening func()
	closeOnce     sync.Once
	closeErr      error
}

// Close saves any pending debrief edit and detaches the workspace from the event bus.
func (w *Workspace) Close(ctx context.Context) error {
	w.closeOnce.Do(func() {
		if w.stopListening != nil {
			w.stopListening()
		}
		_, w.closeErr = w.Debrief.Close(ctx)
	})
	return w.closeErr
}

// Registry hands out one Workspace per user.
type Registry struct {
	cfg    Config
	logger *zap.Logger

	mu         sync.Mutex
	workspaces map[string]*Workspace
	closes     map[string]uint64
	shutdowns  uint64
	loads      singleflight.Group
}

// NewRegistry validates cfg.
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.Documents == nil {
		return nil, errMissingDocuments
	}
	if cfg.Tiers == nil {
		return nil, errMissingTiers
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		cfg:        cfg,
		logger:     logger,
		workspaces: make(map[string]*Workspace),
		closes:     make(map[string]uint64),
	}, nil
}

// Location returns the calendar location used for day and year buckets.
func (r *Registry) Location() *time.Location {
	return r.cfg.Location
}

// Workspace returns userID's workspace, loading it on first use. Concurrent first lookups for
// one user share a single load; other users are never blocked by it.
func (r *Registry) Workspace(ctx context.Context, userID string) (*Workspace, error) {
	if workspace, ok := r.loaded(userID); ok {
		return workspace, nil
	}
	result, err, _ := r.loads.Do(userID, func() (any, error) {
		if workspace, ok := r.loaded(userID); ok {
			return workspace, nil
		}
		r.mu.Lock()
		closes, shutdowns := r.closes[userID], r.shutdowns
		r.mu.Unlock()

		workspace, err := r.open(ctx, userID)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		closed := r.closes[userID] != closes || r.shutdowns != shutdowns
		if !closed {
			r.workspaces[userID] = workspace
		}
		r.mu.Unlock()
		// A Close that raced the load wins: the caller gets the workspace, already closed.
		if closed {
			if err := workspace.Close(ctx); err != nil {
				r.logger.Warn("closing workspace loaded during sign-out failed",
					zap.String("user_id", userID), zap.Error(err))
			}
		}
		return workspace, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*Workspace), nil
}

func (r *Registry) loaded(userID string) (*Workspace, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	workspace, ok := r.workspaces[userID]
	return workspace, ok
}

// Close tears down userID's workspace if one is open.
func (r *Registry) Close(ctx context.Context, userID string) error {
	r.mu.Lock()
	workspace, ok := r.workspaces[userID]
	delete(r.workspaces, userID)
	r.closes[userID]++
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return workspace.Close(ctx)
}

// Shutdown closes every open workspace.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.shutdowns++
	open := make([]*Workspace, 0, len(r.workspaces))
	for userID, workspace := range r.workspaces {
		open = append(open, workspace)
		delete(r.workspaces, userID)
	}
	r.mu.Unlock()

	var result error
	for _, workspace := range open {
		if err := workspace.Close(ctx); err != nil {
			result = errors.Join(result, fmt.Errorf("close workspace %s: %w", workspace.UserID, err))
		}
	}
	return result
}

func (r *Registry) open(ctx context.Context, rawUserID string) (*Workspace, error) {
	userID, err := documents.NewUserID(rawUserID)
	if err != nil {
		return nil, err
	}
	logger := r.logger.With(zap.String("user_id", userID.String()))
	tier := r.cfg.Tiers.TierSource(userID.String())
	plannerConfig := planner.Config{
		Tier:     tier,
		Location: r.cfg.Location,
		Clock:    r.cfg.Clock,
		Logger:   logger,
	}

	workspace := &Workspace{UserID: userID.String()}
	if workspace.Intentions, err = planner.NewIntentionManager(
		documents.NewRepository[planner.Intention](r.cfg.Documents, userID, documents.CollectionIntention), plannerConfig); err != nil {
		return nil, err
	}
	if workspace.Exercise, err = planner.NewExerciseManager(
		documents.NewRepository[planner.Exercise](r.cfg.Documents, userID, documents.CollectionExercise), plannerConfig); err != nil {
		return nil, err
	}
	if workspace.Sleep, err = planner.NewSleepManager(
		documents.NewRepository[planner.Sleep](r.cfg.Documents, userID, documents.CollectionSleep), plannerConfig); err != nil {
		return nil, err
	}
	if workspace.Goals, err = planner.NewGoalManager(
		documents.NewRepository[planner.Goal](r.cfg.Documents, userID, documents.CollectionGoals), plannerConfig); err != nil {
		return nil, err
	}
	if workspace.Debrief, err = debrief.NewEditor(debrief.Config{
		UserID:        userID.String(),
		Store:         debrief.NewDocumentStore(r.cfg.Documents, userID, logger),
		Tier:          tier,
		Stash:         r.cfg.Stash,
		AutosaveDelay: r.cfg.AutosaveDelay,
		Location:      r.cfg.Location,
		Clock:         r.cfg.Clock,
		Logger:        logger,
	}); err != nil {
		return nil, err
	}

	now := r.cfg.Clock()
	fetches := []func() error{
		func() error { _, err := workspace.Intentions.Fetch(ctx, now); return err },
		func() error { _, err := workspace.Exercise.Fetch(ctx, now); return err },
		func() error { _, err := workspace.Sleep.Fetch(ctx, now); return err },
		func() error { _, err := workspace.Goals.Fetch(ctx, now); return err },
	}
	for _, fetch := range fetches {
		if err := fetch(); err != nil {
			return nil, err
		}
	}

	if r.cfg.Events != nil {
		workspace.stopListening = r.cfg.Events.Listen(userID.String(), func(message events.Message) {
			if message.Kind != events.KindSignedOut {
				return
			}
			go func() {
				if err := r.Close(context.Background(), message.UserID); err != nil {
					logger.Warn("workspace close after sign-out failed", zap.Error(err))
				}
			}()
		})
	}
	logger.Debug("workspace opened")
	return workspace, nil
}
