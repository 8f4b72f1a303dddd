package room

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/adharsh555/Real-time-Pair-Programming-Prototype/internal/broadcast"
	"github.com/adharsh555/Real-time-Pair-Programming-Prototype/internal/protocol"
)

var (
	// ErrRoomClosed is returned for calls on an actor that was retired or
	// shut down. Callers should fetch a fresh actor from the registry.
	ErrRoomClosed = errors.New("room closed")

	// ErrJoinRejected means the joiner's own sink refused the init message
	ErrJoinRejected = errors.New("join rejected: sink refused init")
)

type Config struct {
	// Chat messages retained per room; 0 keeps everything
	ChatHistory int

	Logger    *slog.Logger
	Broadcast *broadcast.Multiplexer

	// Clock used for idle tracking and chat timestamps
	Now func() time.Time
}

type joinRequest struct {
	name  string
	sink  Sink
	reply chan joinResult
}

type joinResult struct {
	member   *Member
	snapshot Snapshot
	err      error
}

type updateRequest struct {
	member *Member
	code   string
}

type chatRequest struct {
	member *Member
	text   string
}

type retireRequest struct {
	now   time.Time
	ttl   time.Duration
	reply chan bool
}

// Actor serializes every mutation of one room. All operations are handed
// to the Run goroutine over unbuffered channels, so the order in which the
// actor accepts them is the order in which they are applied and broadcast.
type Actor struct {
	state *State
	mux   *broadcast.Multiplexer
	log   *slog.Logger
	now   func() time.Time

	join     chan joinRequest
	leave    chan *Member
	update   chan updateRequest
	chat     chan chatRequest
	snapshot chan chan Snapshot
	history  chan chan []ChatMessage
	retire   chan retireRequest

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	// Mirrors len(state.members) for lock-free stats reads
	memberCount atomic.Int64
	emptySince  time.Time
}

func NewActor(id string, cfg Config) *Actor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Broadcast == nil {
		cfg.Broadcast = broadcast.New(cfg.Logger, nil)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Actor{
		state:      NewState(id, cfg.ChatHistory),
		mux:        cfg.Broadcast,
		log:        cfg.Logger.With("room", id),
		now:        cfg.Now,
		join:       make(chan joinRequest),
		leave:      make(chan *Member),
		update:     make(chan updateRequest),
		chat:       make(chan chatRequest),
		snapshot:   make(chan chan Snapshot),
		history:    make(chan chan []ChatMessage),
		retire:     make(chan retireRequest),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		emptySince: cfg.Now(),
	}
}

func (a *Actor) ID() string { return a.state.ID }

// Members is the current presence size; safe from any goroutine
func (a *Actor) Members() int { return int(a.memberCount.Load()) }

// Done is closed once the actor has stopped
func (a *Actor) Done() <-chan struct{} { return a.done }

// Run processes requests until Close is called or the room is retired
func (a *Actor) Run() {
	defer close(a.done)
	defer a.shutdown()

	for {
		select {
		case req := <-a.join:
			req.reply <- a.handleJoin(req.name, req.sink)

		case m := <-a.leave:
			a.drop(m, "leave")

		case req := <-a.update:
			a.handleUpdate(req.member, req.code)

		case req := <-a.chat:
			a.handleChat(req.member, req.text)

		case reply := <-a.snapshot:
			reply <- a.state.snapshot()

		case reply := <-a.history:
			reply <- a.state.chatLog()

		case req := <-a.retire:
			idle := len(a.state.members) == 0 && req.now.Sub(a.emptySince) >= req.ttl
			req.reply <- idle
			if idle {
				a.log.Info("room.retired", "idle", req.now.Sub(a.emptySince).Round(time.Second))
				return
			}

		case <-a.stop:
			return
		}
	}
}

// Close stops the actor and waits for it to exit. Remaining members have
// their sinks closed. Safe to call more than once.
func (a *Actor) Close() {
	a.stopOnce.Do(func() { close(a.stop) })
	<-a.done
}

// Join registers a new member, queues its init snapshot ahead of any later
// broadcast, and announces the new roster to everyone else.
func (a *Actor) Join(ctx context.Context, name string, sink Sink) (*Member, Snapshot, error) {
	reply := make(chan joinResult, 1)
	if err := submit(ctx, a, a.join, joinRequest{name: name, sink: sink, reply: reply}); err != nil {
		return nil, Snapshot{}, err
	}
	res := <-reply
	return res.member, res.snapshot, res.err
}

// Leave removes the member. Leaving twice, or after the member was dropped
// for a failed delivery, is a no-op.
func (a *Actor) Leave(ctx context.Context, m *Member) error {
	err := submit(ctx, a, a.leave, m)
	if errors.Is(err, ErrRoomClosed) {
		return nil
	}
	return err
}

// ApplyUpdate replaces the room's code. Last write wins: whichever update
// the actor accepts last is the final value. There is no merge.
func (a *Actor) ApplyUpdate(ctx context.Context, m *Member, code string) error {
	return submit(ctx, a, a.update, updateRequest{member: m, code: code})
}

func (a *Actor) AppendChat(ctx context.Context, m *Member, text string) error {
	return submit(ctx, a, a.chat, chatRequest{member: m, text: text})
}

func (a *Actor) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	if err := submit(ctx, a, a.snapshot, reply); err != nil {
		return Snapshot{}, err
	}
	return <-reply, nil
}

func (a *Actor) ChatLog(ctx context.Context) ([]ChatMessage, error) {
	reply := make(chan []ChatMessage, 1)
	if err := submit(ctx, a, a.history, reply); err != nil {
		return nil, err
	}
	return <-reply, nil
}

// Retire stops the actor if it has had no members for at least ttl as of
// now. It reports whether the actor stopped.
func (a *Actor) Retire(now time.Time, ttl time.Duration) bool {
	reply := make(chan bool, 1)
	if err := submit(context.Background(), a, a.retire, retireRequest{now: now, ttl: ttl, reply: reply}); err != nil {
		return true
	}
	return <-reply
}

func submit[T any](ctx context.Context, a *Actor, ch chan<- T, v T) error {
	select {
	case ch <- v:
		return nil
	case <-a.done:
		return ErrRoomClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Actor) handleJoin(name string, sink Sink) joinResult {
	m := &Member{ID: uuid.NewString(), Name: name, sink: sink}
	a.state.addMember(m)
	a.memberCount.Store(int64(len(a.state.members)))

	snap := a.state.snapshot()
	if !sink.Enqueue(protocol.EncodeInit(snap.Code, snap.Users)) {
		a.state.removeMember(m)
		a.memberCount.Store(int64(len(a.state.members)))
		sink.Close()
		return joinResult{err: ErrJoinRejected}
	}

	a.log.Info("room.join", "member", m.ID, "name", name, "members", len(a.state.members))
	a.broadcast(protocol.TypePresence, protocol.EncodePresence(snap.Users), m)
	return joinResult{member: m, snapshot: snap}
}

func (a *Actor) handleUpdate(m *Member, code string) {
	if !a.state.hasMember(m) {
		return
	}
	a.state.code = code
	a.broadcast(protocol.TypeUpdate, protocol.EncodeUpdate(code), m)
}

func (a *Actor) handleChat(m *Member, text string) {
	if !a.state.hasMember(m) {
		return
	}
	a.state.appendChat(ChatMessage{Sender: m.Name, Text: text, At: a.now()})
	a.broadcast(protocol.TypeChat, protocol.EncodeChat(m.Name, text), m)
}

// drop is the single removal path for explicit leaves and failed deliveries
func (a *Actor) drop(m *Member, reason string) {
	if m == nil || !a.state.removeMember(m) {
		return
	}
	m.sink.Close()

	remaining := len(a.state.members)
	a.memberCount.Store(int64(remaining))
	if remaining == 0 {
		a.emptySince = a.now()
	}
	a.log.Info("room.leave", "member", m.ID, "name", m.Name, "reason", reason, "members", remaining)

	a.broadcast(protocol.TypePresence, protocol.EncodePresence(a.state.users()), nil)
}

func (a *Actor) broadcast(msgType protocol.Type, msg []byte, except *Member) {
	if len(a.state.members) == 0 {
		return
	}
	recipients := make([]broadcast.Recipient, len(a.state.members))
	for i, m := range a.state.members {
		recipients[i] = m
	}

	var skip broadcast.Recipient
	if except != nil {
		skip = except
	}

	for _, failed := range a.mux.Deliver(string(msgType), msg, recipients, skip) {
		a.drop(failed.(*Member), "send_failed")
	}
}

func (a *Actor) shutdown() {
	for _, m := range a.state.members {
		m.sink.Close()
	}
	a.state.members = nil
	a.memberCount.Store(0)
}
