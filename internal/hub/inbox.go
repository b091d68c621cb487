package hub

import "sync"

// inboxCapacity bounds the queued commands per user; beyond it, the
// oldest command is dropped so a dead monitor cannot grow the queue
// without limit.
const inboxCapacity = 32

// Inbox holds pending commands per user until the user's monitor
// polls them. Drain hands each command out at most once.
type Inbox struct {
	mu     sync.Mutex
	queues map[string][]string
}

func NewInbox() *Inbox {
	return &Inbox{queues: make(map[string][]string)}
}

// Push enqueues a command for a user. Reports whether an older command
// had to be evicted to make room.
func (i *Inbox) Push(user, command string) (evicted bool) {
	i.mu.Lock()
	defer i.mu.Unlock()

	q := i.queues[user]
	if len(q) >= inboxCapacity {
		q = q[1:]
		evicted = true
	}
	i.queues[user] = append(q, command)
	return evicted
}

// Drain removes and returns all pending commands for a user.
func (i *Inbox) Drain(user string) []string {
	i.mu.Lock()
	defer i.mu.Unlock()

	q := i.queues[user]
	if len(q) == 0 {
		return nil
	}
	delete(i.queues, user)
	return q
}
