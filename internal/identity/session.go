// Copyright (c) 2026 Kivora. All rights reserved.
// Author: dev@kivora.app

package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kivora/crm/internal/platform/apperr"
)

// # Session Snapshot Cache

// SnapshotCache is the best-effort persistence for the published session.
//
// The cache is never the source of truth — the next resolution is. Save and
// Clear failures are logged and swallowed by the [Manager].
type SnapshotCache interface {
	Save(context context.Context, user *ResolvedUser) error
	Clear(context context.Context) error
}

// SessionUpdate is one publication on the session feed: the new session state
// paired with the provider identity that produced it.
//
// The pairing is what lets a subscriber waiting on a specific sign-in tell its
// own resolution apart from another caller's on the process-global feed. A
// sign-out publication carries nil in both fields.
type SessionUpdate struct {
	Identity *RawIdentity
	User     *ResolvedUser
}

// # Session Manager

// Manager is the session listener: it subscribes once to the provider event
// stream, serializes resolution per identity change, and owns the single
// current-session slot the rest of the application reads.
//
// # Concurrency
//
// Each provider event bumps a generation counter before resolution starts;
// the result is published only if the generation still matches when it
// completes. A newer event therefore supersedes any in-flight resolution —
// last write wins, stale results are discarded, and the published state
// always reflects the most recent provider fact.
type Manager struct {
	resolver *Resolver
	provider Provider
	cache    SnapshotCache
	logger   *slog.Logger

	mu         sync.Mutex
	generation uint64
	current    *ResolvedUser
	identity   *RawIdentity
	loading    bool

	subscribers    map[uint64]chan SessionUpdate
	nextSubscriber uint64

	resolutions sync.WaitGroup
}

// ManagerOption customizes a [Manager].
type ManagerOption func(*Manager)

// WithSnapshotCache attaches the best-effort session snapshot cache.
func WithSnapshotCache(cache SnapshotCache) ManagerOption {
	return func(m *Manager) { m.cache = cache }
}

// WithManagerLogger injects the structured logger.
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// NewManager constructs the session [Manager].
func NewManager(resolver *Resolver, provider Provider, options ...ManagerOption) *Manager {
	manager := &Manager{
		resolver:    resolver,
		provider:    provider,
		logger:      slog.Default(),
		subscribers: make(map[uint64]chan SessionUpdate),
	}

	for _, option := range options {
		option(manager)
	}

	return manager
}

/*
Run consumes the provider event stream until the context is canceled or the
stream closes.

Description: This is the single subscription of the process lifetime. Every
event is handled through the generation-token pipeline; in-flight resolutions
are waited for on exit so no goroutine outlives the manager.

Parameters:
  - context: context.Context

Returns:
  - error: context cancellation; stream closure returns nil
*/
func (manager *Manager) Run(context context.Context) error {
	defer manager.resolutions.Wait()

	for {
		select {
		case <-context.Done():
			return context.Err()

		case identity, open := <-manager.provider.Events():
			if !open {
				return nil
			}
			manager.handleEvent(context, identity)
		}
	}
}

// handleEvent processes one provider event. A nil identity clears the
// session immediately; a non-nil identity starts an asynchronous resolution
// tagged with the new generation.
func (manager *Manager) handleEvent(context context.Context, identity *RawIdentity) {
	manager.mu.Lock()
	manager.generation++
	generation := manager.generation

	// Sign-out (or provider reports no identity): synchronous clear. This is
	// the only path that produces "no session".
	if identity == nil {
		manager.current = nil
		manager.identity = nil
		manager.loading = false
		manager.mu.Unlock()

		manager.clearSnapshot(context)
		manager.notify(SessionUpdate{})
		return
	}

	manager.loading = true
	manager.mu.Unlock()

	event := *identity
	manager.resolutions.Add(1)

	go func() {
		defer manager.resolutions.Done()

		// Resolve never fails; whatever it could assemble gets published.
		user := manager.resolver.Resolve(context, event)
		manager.publish(context, generation, event, user)
	}()
}

// publish installs a resolution result — unless a newer event superseded it
// while it was in flight, in which case the stale result is discarded.
func (manager *Manager) publish(context context.Context, generation uint64, event RawIdentity, user *ResolvedUser) {
	manager.mu.Lock()

	if generation != manager.generation {
		manager.mu.Unlock()
		manager.logger.Debug("session_resolution_superseded",
			slog.Uint64("generation", generation),
			slog.String("user_id", user.ID),
		)
		return
	}

	manager.current = user
	manager.identity = &event
	manager.loading = false
	manager.mu.Unlock()

	manager.saveSnapshot(context, user)
	manager.notify(SessionUpdate{Identity: &event, User: user})
}

// # Session Accessors

// Current returns the published session and whether a resolution is in
// flight. It never blocks; readers get advisory state, not a lock.
func (manager *Manager) Current() (*ResolvedUser, bool) {
	manager.mu.Lock()
	defer manager.mu.Unlock()
	return manager.current, manager.loading
}

// Subscribe registers a session observer.
//
// The channel has capacity one and is latest-wins: a slow consumer only ever
// misses intermediate states, never the final one. The returned cancel
// function must be called to release the subscription.
func (manager *Manager) Subscribe() (<-chan SessionUpdate, func()) {
	channel := make(chan SessionUpdate, 1)

	manager.mu.Lock()
	manager.nextSubscriber++
	id := manager.nextSubscriber
	manager.subscribers[id] = channel
	manager.mu.Unlock()

	cancel := func() {
		manager.mu.Lock()
		delete(manager.subscribers, id)
		manager.mu.Unlock()
	}

	return channel, cancel
}

// notify fans the new session state out to all subscribers, replacing any
// undelivered previous value.
func (manager *Manager) notify(update SessionUpdate) {
	manager.mu.Lock()
	defer manager.mu.Unlock()

	for _, channel := range manager.subscribers {
		// Drain the stale value so the send below cannot block.
		select {
		case <-channel:
		default:
		}

		select {
		case channel <- update:
		default:
		}
	}
}

// # Explicit User Actions

/*
SignIn delegates credential verification to the provider.

Description: Resolution happens via the event stream, not synchronously in
this call. Provider auth errors are the only resolution-adjacent errors that
surface, mapped to distinct client-safe messages.

Parameters:
  - context: context.Context
  - email: string
  - password: string

Returns:
  - error: apperr.Unauthorized on auth failure, or wrapped transport failures
*/
func (manager *Manager) SignIn(context context.Context, email, password string) error {
	err := manager.provider.SignInWithPassword(context, email, password)
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, ErrUserNotFound):
		return apperr.Unauthorized("No account matches that email address")
	case errors.Is(err, ErrWrongPassword):
		return apperr.Unauthorized("Incorrect password")
	case errors.Is(err, ErrInvalidCredentials):
		return apperr.Unauthorized("Invalid login credentials")
	}

	return fmt.Errorf("identity_sign_in_failed: %w", err)
}

/*
SignOut terminates the provider session.

Description: The session slot is cleared by the resulting nil event, keeping
the listener the single writer of session state.

Parameters:
  - context: context.Context

Returns:
  - error: Transport failures
*/
func (manager *Manager) SignOut(context context.Context) error {
	if err := manager.provider.SignOut(context); err != nil {
		return fmt.Errorf("identity_sign_out_failed: %w", err)
	}
	return nil
}

/*
MarkPasswordResetSatisfied records that the user completed their forced
password reset.

Description: Replaces the published session with a copy whose flag is
cleared, then best-effort persists the flag to the record store the profile
was sourced from. Synthesized fallback profiles have no backing record, so
nothing is written for them.

Parameters:
  - context: context.Context

Returns:
  - error: apperr.Unauthorized when no session is active
*/
func (manager *Manager) MarkPasswordResetSatisfied(context context.Context) error {
	manager.mu.Lock()

	if manager.current == nil {
		manager.mu.Unlock()
		return apperr.Unauthorized("No active session")
	}

	updated := *manager.current
	updated.NeedsPasswordReset = false
	manager.current = &updated
	identity := manager.identity
	manager.mu.Unlock()

	if updated.Source != "" {
		cleared := false
		if err := manager.resolver.store.Put(context, updated.Source, updated.ID, RecordPatch{NeedsPasswordReset: &cleared}); err != nil {
			manager.logger.Warn("identity_password_reset_flag_write_failed",
				slog.String("store", string(updated.Source)),
				slog.String("user_id", updated.ID),
				slog.Any("error", err),
			)
		}
	}

	manager.saveSnapshot(context, &updated)
	manager.notify(SessionUpdate{Identity: identity, User: &updated})
	return nil
}

// # Snapshot Helpers

// saveSnapshot best-effort persists the published session to the cache.
func (manager *Manager) saveSnapshot(context context.Context, user *ResolvedUser) {
	if manager.cache == nil {
		return
	}
	if err := manager.cache.Save(context, user); err != nil {
		manager.logger.Warn("session_snapshot_save_failed", slog.Any("error", err))
	}
}

// clearSnapshot best-effort clears the cached session.
func (manager *Manager) clearSnapshot(context context.Context) {
	if manager.cache == nil {
		return
	}
	if err := manager.cache.Clear(context); err != nil {
		manager.logger.Warn("session_snapshot_clear_failed", slog.Any("error", err))
	}
}
