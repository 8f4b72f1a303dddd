// Package registry maps room identifiers to their actors. Rooms are created
// lazily on first use and evicted by a background sweep once they have been
// empty for the configured idle TTL.
package registry

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/adharsh555/Real-time-Pair-Programming-Prototype/internal/broadcast"
	"github.com/adharsh555/Real-time-Pair-Programming-Prototype/internal/metrics"
	"github.com/adharsh555/Real-time-Pair-Programming-Prototype/internal/room"
)

var (
	ErrTooManyRooms   = errors.New("room limit reached")
	ErrRegistryClosed = errors.New("registry closed")
)

// joinAttempts bounds retries when a join races an eviction
const joinAttempts = 3

// Catalog records room activity outside the process. Failures are logged
// and never block a join.
type Catalog interface {
	RecordJoin(roomID string) error
}

type Config struct {
	// How long an empty room is kept before eviction
	IdleTTL time.Duration

	// How often the sweeper looks for idle rooms
	SweepInterval time.Duration

	// Live room cap; 0 means unlimited
	MaxRooms int

	// Chat messages retained per room
	ChatHistory int
}

func DefaultConfig() Config {
	return Config{
		IdleTTL:       10 * time.Minute,
		SweepInterval: time.Minute,
		MaxRooms:      0,
		ChatHistory:   500,
	}
}

type Registry struct {
	cfg     Config
	log     *slog.Logger
	mux     *broadcast.Multiplexer
	metrics *metrics.Metrics
	catalog Catalog

	mu     sync.Mutex
	rooms  map[string]*room.Actor
	closed bool

	stop chan struct{}
	wg   sync.WaitGroup
}

func New(cfg Config, logger *slog.Logger, m *metrics.Metrics, catalog Catalog) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		cfg:     cfg,
		log:     logger,
		mux:     broadcast.New(logger, m),
		metrics: m,
		catalog: catalog,
		rooms:   make(map[string]*room.Actor),
		stop:    make(chan struct{}),
	}
}

// GetOrCreate returns the live actor for roomID, starting one if needed.
// Concurrent callers for the same id always get the same actor.
func (r *Registry) GetOrCreate(roomID string) (*room.Actor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRegistryClosed
	}

	if a, ok := r.rooms[roomID]; ok {
		select {
		case <-a.Done():
			// Retired by a sweep that has not removed it yet
			delete(r.rooms, roomID)
		default:
			return a, nil
		}
	}

	if r.cfg.MaxRooms > 0 && len(r.rooms) >= r.cfg.MaxRooms {
		return nil, ErrTooManyRooms
	}

	a := room.NewActor(roomID, room.Config{
		ChatHistory: r.cfg.ChatHistory,
		Logger:      r.log,
		Broadcast:   r.mux,
	})
	go a.Run()
	r.rooms[roomID] = a
	r.metrics.SetRooms(len(r.rooms))

	r.log.Info("room.created", "room", roomID, "rooms", len(r.rooms))
	return a, nil
}

// Lookup returns the actor for roomID without creating one
func (r *Registry) Lookup(roomID string) (*room.Actor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.rooms[roomID]
	if !ok {
		return nil, false
	}
	select {
	case <-a.Done():
		return nil, false
	default:
		return a, true
	}
}

// Join gets or creates the room and joins it, retrying if the room it got
// was retired in between.
func (r *Registry) Join(ctx context.Context, roomID, name string, sink room.Sink) (*room.Actor, *room.Member, room.Snapshot, error) {
	var lastErr error
	for attempt := 0; attempt < joinAttempts; attempt++ {
		a, err := r.GetOrCreate(roomID)
		if err != nil {
			return nil, nil, room.Snapshot{}, err
		}

		m, snap, err := a.Join(ctx, name, sink)
		if errors.Is(err, room.ErrRoomClosed) {
			lastErr = err
			continue
		}
		if err != nil {
			return nil, nil, room.Snapshot{}, err
		}

		if r.catalog != nil {
			if err := r.catalog.RecordJoin(roomID); err != nil {
				r.log.Warn("catalog.record_join", "room", roomID, "err", err)
			}
		}
		return a, m, snap, nil
	}
	return nil, nil, room.Snapshot{}, lastErr
}

// Sweep evicts every room that has been empty for at least the idle TTL
// as of now. It returns how many rooms were evicted.
func (r *Registry) Sweep(now time.Time) int {
	r.mu.Lock()
	candidates := make([]*room.Actor, 0, len(r.rooms))
	for _, a := range r.rooms {
		if a.Members() == 0 {
			candidates = append(candidates, a)
		}
	}
	r.mu.Unlock()

	evicted := 0
	for _, a := range candidates {
		// The actor makes the final call, so a join that slipped in
		// after the member count was read keeps the room alive
		if !a.Retire(now, r.cfg.IdleTTL) {
			continue
		}

		r.mu.Lock()
		if r.rooms[a.ID()] == a {
			delete(r.rooms, a.ID())
			evicted++
		}
		count := len(r.rooms)
		r.mu.Unlock()

		r.metrics.SetRooms(count)
		r.log.Info("room.evicted", "room", a.ID(), "rooms", count)
	}
	return evicted
}

// Start launches the background sweeper
func (r *Registry) Start() {
	r.wg.Add(1)
	go r.run()
	r.log.Info("registry.sweeper.started", "interval", r.cfg.SweepInterval, "idle_ttl", r.cfg.IdleTTL)
}

func (r *Registry) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case now := <-ticker.C:
			r.Sweep(now)
		}
	}
}

// Close stops the sweeper and every room. Members' sinks are closed, which
// ends their connections.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.stop)
	actors := make([]*room.Actor, 0, len(r.rooms))
	for _, a := range r.rooms {
		actors = append(actors, a)
	}
	r.rooms = make(map[string]*room.Actor)
	r.mu.Unlock()

	r.wg.Wait()
	for _, a := range actors {
		a.Close()
	}
	r.metrics.SetRooms(0)
	r.log.Info("registry.closed", "rooms", len(actors))
}

func (r *Registry) RoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

func (r *Registry) ClientCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, a := range r.rooms {
		total += a.Members()
	}
	return total
}

// ActiveRooms maps each room with members to its member count
func (r *Registry) ActiveRooms() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	active := make(map[string]int)
	for id, a := range r.rooms {
		if n := a.Members(); n > 0 {
			active[id] = n
		}
	}
	return active
}
