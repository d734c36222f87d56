// Package lifecycle tracks the endpoints of a mailbox: it hands out numeric
// endpoint ids and counts opened handles for diagnostics.
//
// The registry is bookkeeping only. It never gates access to the mailbox and
// takes no mailbox lock.
package lifecycle

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/srediag/shmbox/api"
	"github.com/srediag/shmbox/internal/audit"
	"github.com/srediag/shmbox/internal/logging"
)

// DefaultBaseID is the first id handed out when none is configured.
const DefaultBaseID = 240

var (
	ErrAlreadyRegistered = errors.New("endpoint already registered")
	ErrNotRegistered     = errors.New("endpoint not registered")
	ErrEndpointBusy      = errors.New("endpoint has open handles")
	ErrNotOpen           = errors.New("endpoint has no open handle")
)

var _ api.Lifecycle = (*Registry)(nil)

// Endpoint identifies a registered endpoint.
type Endpoint struct {
	Name string `json:"name"`
	ID   int    `json:"id"`
}

// Stats are the counters of one endpoint.
type Stats struct {
	Endpoint
	// Opens counts every open since registration.
	Opens int64 `json:"opens"`
	// Active is the number of handles open right now.
	Active int64 `json:"active"`
}

type entry struct {
	id     int
	opens  atomic.Int64
	active atomic.Int64

	// mu makes the removal check and the open count one step, so an entry
	// that was unregistered never gains a handle.
	mu      sync.Mutex
	removed bool
}

// open counts a handle. It reports false once the entry was removed.
func (e *entry) open() (int64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return 0, false
	}
	e.active.Add(1)
	return e.opens.Add(1), true
}

// release drops a handle. It reports false when none is open.
func (e *entry) release() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active.Load() <= 0 {
		return false
	}
	e.active.Add(-1)
	return true
}

// remove marks the entry removed unless handles are open.
func (e *entry) remove() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active.Load() > 0 {
		return false
	}
	e.removed = true
	return true
}

// Registry is the endpoint table.
type Registry struct {
	endpoints cmap.ConcurrentMap[string, *entry]
	nextID    atomic.Int64
	log       *logging.Logger
	journal   *audit.Journal
	open      *prometheus.GaugeVec
}

// Option configures a Registry.
type Option func(*Registry)

// WithJournal records registrations, opens and closes in j.
func WithJournal(j *audit.Journal) Option {
	return func(r *Registry) {
		r.journal = j
	}
}

// WithRegisterer exports the open handle gauge to reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(r *Registry) {
		if reg != nil {
			reg.MustRegister(r.open)
		}
	}
}

// WithLogger replaces the default "lifecycle" logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// NewRegistry returns an empty registry whose first endpoint gets baseID.
func NewRegistry(baseID int, opts ...Option) *Registry {
	r := &Registry{
		endpoints: cmap.New[*entry](),
		log:       logging.New("lifecycle", nil),
		open: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "shmbox",
			Name:      "open_handles",
			Help:      "Handles currently open per endpoint.",
		}, []string{"endpoint"}),
	}
	r.nextID.Store(int64(baseID))
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds an endpoint and assigns it the next id.
func (r *Registry) Register(name string) (Endpoint, error) {
	if name == "" {
		return Endpoint{}, errors.New("empty endpoint name")
	}
	var dup bool
	e := r.endpoints.Upsert(name, nil, func(exist bool, old, _ *entry) *entry {
		if exist {
			dup = true
			return old
		}
		return &entry{id: int(r.nextID.Add(1) - 1)}
	})
	if dup {
		return Endpoint{}, fmt.Errorf("%w: %s", ErrAlreadyRegistered, name)
	}
	r.log.Infof("%s: registered correctly with id %d", name, e.id)
	r.journal.Record(name, "register", 0, "id "+strconv.Itoa(e.id))
	return Endpoint{Name: name, ID: e.id}, nil
}

// Unregister removes an endpoint. It fails with ErrEndpointBusy while
// handles are open.
func (r *Registry) Unregister(name string) error {
	var busy bool
	removed := r.endpoints.RemoveCb(name, func(_ string, e *entry, exists bool) bool {
		if !exists {
			return false
		}
		busy = !e.remove()
		return !busy
	})
	switch {
	case busy:
		return fmt.Errorf("%w: %s", ErrEndpointBusy, name)
	case !removed:
		return fmt.Errorf("%w: %s", ErrNotRegistered, name)
	}
	r.open.DeleteLabelValues(name)
	r.log.Infof("%s: unregistered", name)
	r.journal.Record(name, "unregister", 0, "")
	return nil
}

// Opened records a new handle on name.
func (r *Registry) Opened(name string) error {
	e, ok := r.endpoints.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRegistered, name)
	}
	n, ok := e.open()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRegistered, name)
	}
	r.open.WithLabelValues(name).Inc()
	r.log.Infof("%s: device has been opened %d time(s)", name, n)
	r.journal.Record(name, "open", 0, "")
	return nil
}

// Closed records that a handle on name went away.
func (r *Registry) Closed(name string) error {
	e, ok := r.endpoints.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRegistered, name)
	}
	if !e.release() {
		return fmt.Errorf("%w: %s", ErrNotOpen, name)
	}
	r.open.WithLabelValues(name).Dec()
	r.log.Infof("%s: device closed", name)
	r.journal.Record(name, "close", 0, "")
	return nil
}

// Stats returns the counters of name.
func (r *Registry) Stats(name string) (Stats, error) {
	e, ok := r.endpoints.Get(name)
	if !ok {
		return Stats{}, fmt.Errorf("%w: %s", ErrNotRegistered, name)
	}
	return Stats{
		Endpoint: Endpoint{Name: name, ID: e.id},
		Opens:    e.opens.Load(),
		Active:   e.active.Load(),
	}, nil
}

// All returns the stats of every endpoint ordered by id.
func (r *Registry) All() []Stats {
	all := make([]Stats, 0, r.endpoints.Count())
	for name, e := range r.endpoints.Items() {
		all = append(all, Stats{
			Endpoint: Endpoint{Name: name, ID: e.id},
			Opens:    e.opens.Load(),
			Active:   e.active.Load(),
		})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all
}
