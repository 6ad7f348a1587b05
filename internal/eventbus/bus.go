// Package eventbus is the registry from event kind to ordered handler
// list, plus the one-shot "await" table. Registration
// order is invocation order; handlers for one event run concurrently
// with no cross-handler ordering guarantee.
package eventbus

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/corvusbot/corvus/internal/model"
)

// Predicate decides whether a handler wants a given event payload.
// A nil predicate always matches.
type Predicate func(payload any) bool

// Handler processes one event. It runs on its own goroutine, named
// et-<N>, so a slow handler does not block the dispatcher; with a
// non-zero WorkerLimit, Raise waits for a free slot once that many
// handlers are running.
type Handler func(payload any)

type registration struct {
	id        string
	kind      model.Kind
	predicate Predicate
	handler   Handler
}

// Bus is the event registry and await table. The zero value is not
// usable; use New.
type Bus struct {
	mu            sync.RWMutex
	registrations []*registration
	awaits        []*model.Await

	counter int64

	logger *slog.Logger

	// WorkerLimit bounds concurrent handler goroutines when non-zero
	//. Zero means unbounded, its baseline.
	WorkerLimit int
	sem         chan struct{}
}

// New returns an empty Bus. workerLimit of 0 means unbounded handler
// concurrency.
func New(workerLimit int, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{WorkerLimit: workerLimit, logger: logger.With("component", "eventbus")}
	if workerLimit > 0 {
		b.sem = make(chan struct{}, workerLimit)
	}
	return b
}

// On registers handler for kind, filtered by predicate (nil matches
// everything), and returns a registration id usable with Off.
func (b *Bus) On(kind model.Kind, predicate Predicate, handler Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := uuid.NewString()
	b.registrations = append(b.registrations, &registration{
		id:        id,
		kind:      kind,
		predicate: predicate,
		handler:   handler,
	})
	return id
}

// Off removes a registration by id.
func (b *Bus) Off(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, r := range b.registrations {
		if r.id == id {
			b.registrations = append(b.registrations[:i], b.registrations[i+1:]...)
			return
		}
	}
}

// AddAwait registers a one-shot subscription matching the next event
// of kind whose attrs match. If key is empty a uuid is generated.
func (b *Bus) AddAwait(key string, kind model.Kind, attrs map[string]string, payload any, durable bool) *model.Await {
	if key == "" {
		key = uuid.NewString()
	}
	a := &model.Await{Key: key, Kind: string(kind), Attrs: attrs, Payload: payload, Durable: durable}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.awaits = append(b.awaits, a)
	return a
}

// RemoveAwait removes an await by key.
func (b *Bus) RemoveAwait(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, a := range b.awaits {
		if a.Key == key {
			b.awaits = append(b.awaits[:i], b.awaits[i+1:]...)
			return
		}
	}
}

func attrsMatch(attrs map[string]string, getter func(string) (string, bool)) bool {
	for k, want := range attrs {
		got, ok := getter(k)
		if !ok || got != want {
			return false
		}
	}
	return true
}

// AttrSource lets callers supply attribute values for await matching
// without the bus needing reflection over arbitrary payload structs.
type AttrSource func(attr string) (string, bool)

// Raise matches ev against every registered handler whose kind equals
// ev.Kind and whose predicate accepts it, then against every await
// whose kind and attrs match. Handlers run on their own goroutine
// named et-<N>; matched non-durable awaits are removed after firing.
func (b *Bus) Raise(ev model.Event, attrSource AttrSource) {
	b.mu.RLock()
	matched := make([]*registration, 0, len(b.registrations))
	for _, r := range b.registrations {
		if r.kind != ev.Kind {
			continue
		}
		if r.predicate != nil && !r.predicate(ev.Payload) {
			continue
		}
		matched = append(matched, r)
	}
	var firedAwaits []*model.Await
	var remainingAwaits []*model.Await
	for _, a := range b.awaits {
		if a.Kind != string(ev.Kind) {
			remainingAwaits = append(remainingAwaits, a)
			continue
		}
		if attrSource != nil && !attrsMatch(a.Attrs, attrSource) {
			remainingAwaits = append(remainingAwaits, a)
			continue
		}
		firedAwaits = append(firedAwaits, a)
		if a.Durable {
			remainingAwaits = append(remainingAwaits, a)
		}
	}
	b.mu.RUnlock()

	if len(firedAwaits) > 0 {
		b.mu.Lock()
		b.awaits = remainingAwaits
		b.mu.Unlock()
	}

	for _, r := range matched {
		b.spawn(r.handler, ev.Payload)
	}
}

// spawn runs handler on its own goroutine, in registration order of
// dispatch (each call here happens in order) but with no ordering
// guarantee between the goroutines themselves.
func (b *Bus) spawn(handler Handler, payload any) {
	next := b.nextTaskName()
	if b.sem != nil {
		b.sem <- struct{}{}
	}
	go func() {
		if b.sem != nil {
			defer func() { <-b.sem }()
		}
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("handler panicked", "task", next, "panic", r)
			}
		}()
		handler(payload)
	}()
}

func (b *Bus) nextTaskName() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.counter++
	return "et-" + itoa(b.counter)
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
