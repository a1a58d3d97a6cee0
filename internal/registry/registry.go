// Package registry tracks the display names currently claimed on the relay.
//
// Names are unique under case-insensitive comparison and kept in the order
// they were registered; that order is the roster pushed to clients. Every
// registration hands out a one-time claim token that the WebSocket upgrade
// redeems to bind the name to exactly one connection.
package registry

import (
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

var (
	// ErrNameTaken is returned by Register when the name is already held.
	ErrNameTaken = errors.New("name already taken")
	// ErrInvalidName is returned by Register for blank or oversized names.
	ErrInvalidName = errors.New("invalid name")
	// ErrClaimNotFound is returned when no pending claim matches a redeem call.
	ErrClaimNotFound = errors.New("claim not found")
)

// Claim is the result of a successful registration.
type Claim struct {
	Name  string
	Token string
}

type entry struct {
	name    string
	token   string
	pending bool
	expires time.Time
}

// Registry owns the set of claimed names. It is safe for concurrent use.
type Registry struct {
	mu            sync.Mutex
	entries       []entry
	clock         clockwork.Clock
	claimTTL      time.Duration
	maxNameLength int
}

// New creates an empty Registry. A claimTTL of zero keeps unredeemed claims
// forever; a maxNameLength of zero disables the length check.
func New(clock clockwork.Clock, claimTTL time.Duration, maxNameLength int) *Registry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Registry{
		clock:         clock,
		claimTTL:      claimTTL,
		maxNameLength: maxNameLength,
	}
}

// Register claims name for a new participant.
func (r *Registry) Register(name string) (Claim, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Claim{}, ErrInvalidName
	}
	if r.maxNameLength > 0 && utf8.RuneCountInString(name) > r.maxNameLength {
		return Claim{}, ErrInvalidName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.expireLocked()

	for _, e := range r.entries {
		if strings.EqualFold(e.name, name) {
			return Claim{}, ErrNameTaken
		}
	}

	e := entry{
		name:    name,
		token:   uuid.NewString(),
		pending: true,
	}
	if r.claimTTL > 0 {
		e.expires = r.clock.Now().Add(r.claimTTL)
	}
	r.entries = append(r.entries, e)

	return Claim{Name: e.name, Token: e.token}, nil
}

// Release drops the first entry exactly matching name. Unknown names are
// ignored so duplicate close notifications stay harmless.
func (r *Registry) Release(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, e := range r.entries {
		if e.name == name {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return
		}
	}
}

// Redeem binds the pending claim identified by token. A token can be
// redeemed once.
func (r *Registry) Redeem(token string) (string, error) {
	if token == "" {
		return "", ErrClaimNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.expireLocked()

	for i := range r.entries {
		if r.entries[i].pending && r.entries[i].token == token {
			r.entries[i].pending = false
			return r.entries[i].name, nil
		}
	}
	return "", ErrClaimNotFound
}

// RedeemLatest binds the most recently registered name if it has not been
// bound yet.
func (r *Registry) RedeemLatest() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.expireLocked()

	if len(r.entries) == 0 {
		return "", ErrClaimNotFound
	}
	last := &r.entries[len(r.entries)-1]
	if !last.pending {
		return "", ErrClaimNotFound
	}
	last.pending = false
	return last.name, nil
}

// Snapshot returns the claimed names in registration order.
func (r *Registry) Snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.expireLocked()

	names := make([]string, len(r.entries))
	for i, e := range r.entries {
		names[i] = e.name
	}
	return names
}

// Holds reports whether name is claimed, compared case-insensitively.
func (r *Registry) Holds(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.expireLocked()

	for _, e := range r.entries {
		if strings.EqualFold(e.name, name) {
			return true
		}
	}
	return false
}

// Len returns the number of claimed names.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.expireLocked()
	return len(r.entries)
}

// expireLocked drops pending claims whose TTL has passed. Bound names never
// expire. Caller must hold r.mu.
func (r *Registry) expireLocked() {
	if r.claimTTL <= 0 {
		return
	}

	now := r.clock.Now()
	kept := r.entries[:0]
	for _, e := range r.entries {
		if e.pending && !now.Before(e.expires) {
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(r.entries); i++ {
		r.entries[i] = entry{}
	}
	r.entries = kept
}
