package realtime

import (
	"hash/fnv"
	"sort"
	"sync"
)

const sessionStripes = 32

type sessionStripe struct {
	// lifecycle serializes connect and disconnect for the users of this stripe. It is held
	// across room and presence updates, so map lookups use mu instead.
	lifecycle sync.Mutex
	mu        sync.Mutex
	clients   map[string]*client
}

// sessionRegistry maps a user to its single active client. Operations on the same user
// serialize on one stripe; different users rarely contend.
type sessionRegistry struct {
	stripes [sessionStripes]sessionStripe
}

func newSessionRegistry() *sessionRegistry {
	r := &sessionRegistry{}
	for i := range r.stripes {
		r.stripes[i].clients = make(map[string]*client)
	}
	return r
}

func (r *sessionRegistry) stripe(userID string) *sessionStripe {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return &r.stripes[h.Sum32()%sessionStripes]
}

// withUser runs fn while no other connect or disconnect for userID can run. fn may call
// Swap, RemoveIf and Get but must not call withUser again.
func (r *sessionRegistry) withUser(userID string, fn func()) {
	s := r.stripe(userID)
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	fn()
}

// Swap installs c as the user's client and returns the one it replaced, if any.
func (r *sessionRegistry) Swap(userID string, c *client) *client {
	s := r.stripe(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	previous := s.clients[userID]
	s.clients[userID] = c
	return previous
}

// RemoveIf drops the user's entry only while it still points at c.
func (r *sessionRegistry) RemoveIf(userID string, c *client) bool {
	s := r.stripe(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.clients[userID]; ok && current == c {
		delete(s.clients, userID)
		return true
	}
	return false
}

func (r *sessionRegistry) Get(userID string) *client {
	s := r.stripe(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clients[userID]
}

func (r *sessionRegistry) Count() int {
	total := 0
	for i := range r.stripes {
		s := &r.stripes[i]
		s.mu.Lock()
		total += len(s.clients)
		s.mu.Unlock()
	}
	return total
}

// rooms tracks which locally connected users listen to which chat.
type rooms struct {
	mu          sync.RWMutex
	members     map[uint]map[string]struct{}
	memberships map[string]map[uint]struct{}
}

func newRooms() *rooms {
	return &rooms{
		members:     make(map[uint]map[string]struct{}),
		memberships: make(map[string]map[uint]struct{}),
	}
}

func (r *rooms) join(chatID uint, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[chatID]; !ok {
		r.members[chatID] = make(map[string]struct{})
	}
	r.members[chatID][userID] = struct{}{}

	if _, ok := r.memberships[userID]; !ok {
		r.memberships[userID] = make(map[uint]struct{})
	}
	r.memberships[userID][chatID] = struct{}{}
}

func (r *rooms) leave(chatID uint, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(chatID, userID)
}

func (r *rooms) leaveLocked(chatID uint, userID string) {
	if users, ok := r.members[chatID]; ok {
		delete(users, userID)
		if len(users) == 0 {
			delete(r.members, chatID)
		}
	}
	if chats, ok := r.memberships[userID]; ok {
		delete(chats, chatID)
		if len(chats) == 0 {
			delete(r.memberships, userID)
		}
	}
}

// leaveAll removes the user from every room and returns the rooms it was in.
func (r *rooms) leaveAll(userID string) []uint {
	r.mu.Lock()
	defer r.mu.Unlock()

	chats := make([]uint, 0, len(r.memberships[userID]))
	for chatID := range r.memberships[userID] {
		chats = append(chats, chatID)
	}
	for _, chatID := range chats {
		r.leaveLocked(chatID, userID)
	}
	sort.Slice(chats, func(i, j int) bool { return chats[i] < chats[j] })
	return chats
}

func (r *rooms) contains(chatID uint, userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[chatID][userID]
	return ok
}

// audience returns the distinct users listening to any of the given chats.
func (r *rooms) audience(chatIDs ...uint) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	users := make([]string, 0)
	for _, chatID := range chatIDs {
		for userID := range r.members[chatID] {
			if _, ok := seen[userID]; ok {
				continue
			}
			seen[userID] = struct{}{}
			users = append(users, userID)
		}
	}
	return users
}
