// Package room tracks which users participate in which call rooms.
//
// The registry holds ids only; transport handles live in the hub. All methods
// are safe for concurrent use and each one runs as a single critical section,
// so a join or leave is never observed half applied.
package room

import (
	"sort"
	"sync"
)

type entry struct {
	members map[string]struct{}
	// rung holds callees that received an incoming call for this room and have
	// not joined yet. It is reset whenever the room empties.
	rung map[string]struct{}
}

func newEntry() *entry {
	return &entry{
		members: make(map[string]struct{}),
		rung:    make(map[string]struct{}),
	}
}

// JoinResult describes the effect of a Join.
type JoinResult struct {
	// AlreadyMember is true when the user was in the room before the call.
	AlreadyMember bool
	// NotifyCallee is true when the callee should receive an incoming call.
	NotifyCallee bool
	// Members is the participant snapshot after the join.
	Members []string
}

// Registry maps room ids to participant sets.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]*entry)}
}

// Join adds userID to roomID, creating the room on first use. calleeID may be
// empty. The callee is reported for notification at most once per room
// occupancy: only when it is neither a member nor already rung.
//
// The rung set is cleared when the room empties, so a callee that never
// joined is rung again by the next caller into the emptied room. A call that
// everyone abandoned is over; the next one is a new call.
func (r *Registry) Join(roomID, userID, calleeID string) JoinResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.rooms[roomID]
	if !ok {
		e = newEntry()
		r.rooms[roomID] = e
	}

	_, already := e.members[userID]
	e.members[userID] = struct{}{}
	delete(e.rung, userID)

	notify := false
	if calleeID != "" && calleeID != userID {
		_, isMember := e.members[calleeID]
		_, wasRung := e.rung[calleeID]
		if !isMember && !wasRung {
			e.rung[calleeID] = struct{}{}
			notify = true
		}
	}

	return JoinResult{
		AlreadyMember: already,
		NotifyCallee:  notify,
		Members:       membersOf(e),
	}
}

// Leave removes userID from roomID. It reports whether the user was a member.
func (r *Registry) Leave(roomID, userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.leaveLocked(roomID, userID)
}

// LeaveAll removes userID from every room and returns the rooms it left,
// sorted by id.
func (r *Registry) LeaveAll(userID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var left []string
	for roomID := range r.rooms {
		if r.leaveLocked(roomID, userID) {
			left = append(left, roomID)
		}
	}
	sort.Strings(left)
	return left
}

// LeaveRooms removes userID from each of roomIDs and returns the rooms it was
// actually removed from.
func (r *Registry) LeaveRooms(userID string, roomIDs []string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var left []string
	for _, roomID := range roomIDs {
		if r.leaveLocked(roomID, userID) {
			left = append(left, roomID)
		}
	}
	return left
}

func (r *Registry) leaveLocked(roomID, userID string) bool {
	e, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	if _, member := e.members[userID]; !member {
		return false
	}
	delete(e.members, userID)
	if len(e.members) == 0 {
		e.rung = make(map[string]struct{})
	}
	return true
}

// MembersOf returns a sorted snapshot of the room's participants. Unknown
// rooms yield an empty slice.
func (r *Registry) MembersOf(roomID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.rooms[roomID]
	if !ok {
		return []string{}
	}
	return membersOf(e)
}

// Contains reports whether userID participates in roomID.
func (r *Registry) Contains(roomID, userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	_, member := e.members[userID]
	return member
}

// RoomsOf returns the rooms userID participates in, sorted by id.
func (r *Registry) RoomsOf(userID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var rooms []string
	for roomID, e := range r.rooms {
		if _, member := e.members[userID]; member {
			rooms = append(rooms, roomID)
		}
	}
	sort.Strings(rooms)
	return rooms
}

// Len returns the number of tracked rooms, including empty ones.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// SweepEmpty drops rooms without participants and returns how many it removed.
func (r *Registry) SweepEmpty() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for roomID, e := range r.rooms {
		if len(e.members) == 0 {
			delete(r.rooms, roomID)
			removed++
		}
	}
	return removed
}

func membersOf(e *entry) []string {
	out := make([]string, 0, len(e.members))
	for id := range e.members {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
