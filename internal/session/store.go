// Package session keeps each registrant's in-progress course selection in
// Redis and serializes mutations per session.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrSessionBusy is returned when another request holds the session lock.
	ErrSessionBusy = errors.New("session is busy")
	// ErrCorruptState is returned by Load when the stored payload cannot be decoded.
	ErrCorruptState = errors.New("corrupt selection state")
)

// State is the persisted form of a selection.
type State struct {
	CourseIDs []string `json:"course_ids"`
	Period    string   `json:"period,omitempty"`
}

// Options tune the store.
type Options struct {
	TTL          time.Duration
	LockTTL      time.Duration
	LockAttempts int
	LockBackoff  time.Duration
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = 2 * time.Hour
	}
	if o.LockTTL <= 0 {
		o.LockTTL = 5 * time.Second
	}
	if o.LockAttempts <= 0 {
		o.LockAttempts = 10
	}
	if o.LockBackoff <= 0 {
		o.LockBackoff = 25 * time.Millisecond
	}
	return o
}

// releaseScript deletes the lock only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Store persists selections keyed by session id.
type Store struct {
	client *redis.Client
	opts   Options
}

// NewStore constructs a Store.
func NewStore(client *redis.Client, opts Options) *Store {
	return &Store{client: client, opts: opts.withDefaults()}
}

// Load returns the stored selection, or an empty State when none exists.
func (s *Store) Load(ctx context.Context, sessionID string) (State, error) {
	payload, err := s.client.Get(ctx, selectionKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return State{}, nil
		}
		return State{}, fmt.Errorf("load selection: %w", err)
	}
	var st State
	if err := json.Unmarshal(payload, &st); err != nil {
		return State{}, fmt.Errorf("decode selection: %v: %w", err, ErrCorruptState)
	}
	return st, nil
}

// Save stores st and refreshes its expiry. An empty selection is deleted.
func (s *Store) Save(ctx context.Context, sessionID string, st State) error {
	if len(st.CourseIDs) == 0 {
		return s.Delete(ctx, sessionID)
	}
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode selection: %w", err)
	}
	if err := s.client.Set(ctx, selectionKey(sessionID), data, s.opts.TTL).Err(); err != nil {
		return fmt.Errorf("save selection: %w", err)
	}
	return nil
}

// Delete discards the stored selection.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, selectionKey(sessionID)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("delete selection: %w", err)
	}
	return nil
}

// WithLock runs fn while holding the session's lock, so concurrent add and
// remove calls for one registrant cannot interleave. It gives up with
// ErrSessionBusy after LockAttempts tries.
func (s *Store) WithLock(ctx context.Context, sessionID string, fn func(ctx context.Context) error) error {
	key := lockKey(sessionID)
	token := uuid.NewString()

	acquired := false
	for attempt := 0; attempt < s.opts.LockAttempts; attempt++ {
		ok, err := s.client.SetNX(ctx, key, token, s.opts.LockTTL).Result()
		if err != nil {
			return fmt.Errorf("acquire session lock: %w", err)
		}
		if ok {
			acquired = true
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.opts.LockBackoff):
		}
	}
	if !acquired {
		return ErrSessionBusy
	}
	defer func() {
		// A cancelled request context must not leave the lock behind.
		_ = releaseScript.Run(context.WithoutCancel(ctx), s.client, []string{key}, token).Err()
	}()

	return fn(ctx)
}

func selectionKey(sessionID string) string {
	return "selection:" + sessionID
}

func lockKey(sessionID string) string {
	return "selection:" + sessionID + ":lock"
}
