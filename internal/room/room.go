package room

import (
	"time"
)

// Sink is the outbound side of one connection. Enqueue must not block.
// Close is called exactly once, when the member leaves the room.
type Sink interface {
	Enqueue(msg []byte) bool
	Close()
}

// Member is one connected socket in a room. Display names are not unique.
type Member struct {
	ID   string
	Name string
	sink Sink
}

func (m *Member) Enqueue(msg []byte) bool {
	return m.sink.Enqueue(msg)
}

type ChatMessage struct {
	Sender string
	Text   string
	At     time.Time
}

// Snapshot is what a joining client receives in its init message
type Snapshot struct {
	Code  string
	Users []string
}

// State is the authoritative record of one room. It has no lock of its
// own: only the owning Actor's goroutine touches it.
type State struct {
	ID        string
	code      string
	members   []*Member
	chat      []ChatMessage
	chatLimit int
}

func NewState(id string, chatLimit int) *State {
	return &State{
		ID:        id,
		members:   make([]*Member, 0),
		chat:      make([]ChatMessage, 0),
		chatLimit: chatLimit,
	}
}

func (s *State) addMember(m *Member) {
	s.members = append(s.members, m)
}

// removeMember reports whether m was present
func (s *State) removeMember(m *Member) bool {
	for i, existing := range s.members {
		if existing == m {
			s.members = append(s.members[:i], s.members[i+1:]...)
			return true
		}
	}
	return false
}

func (s *State) hasMember(m *Member) bool {
	for _, existing := range s.members {
		if existing == m {
			return true
		}
	}
	return false
}

// users returns display names in join order
func (s *State) users() []string {
	users := make([]string, len(s.members))
	for i, m := range s.members {
		users[i] = m.Name
	}
	return users
}

func (s *State) snapshot() Snapshot {
	return Snapshot{Code: s.code, Users: s.users()}
}

// appendChat keeps at most chatLimit messages; zero or negative keeps all
func (s *State) appendChat(msg ChatMessage) {
	s.chat = append(s.chat, msg)
	if s.chatLimit > 0 && len(s.chat) > s.chatLimit {
		trimmed := make([]ChatMessage, s.chatLimit)
		copy(trimmed, s.chat[len(s.chat)-s.chatLimit:])
		s.chat = trimmed
	}
}

func (s *State) chatLog() []ChatMessage {
	log := make([]ChatMessage, len(s.chat))
	copy(log, s.chat)
	return log
}
