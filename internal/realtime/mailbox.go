package realtime

import "sync"

// mailbox hands values to one subscriber on its own goroutine, in push
// order, without ever blocking the pusher.
type mailbox struct {
	mu     sync.Mutex
	queue  []any
	notify chan struct{}
	done   chan struct{}
	once   sync.Once
}

func newMailbox(deliver func(any)) *mailbox {
	mb := &mailbox{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go mb.run(deliver)
	return mb
}

func (mb *mailbox) push(v any) {
	mb.mu.Lock()
	mb.queue = append(mb.queue, v)
	mb.mu.Unlock()

	select {
	case mb.notify <- struct{}{}:
	default:
	}
}

func (mb *mailbox) close() {
	mb.once.Do(func() { close(mb.done) })
}

func (mb *mailbox) run(deliver func(any)) {
	for {
		select {
		case <-mb.done:
			return
		case <-mb.notify:
		}

		for {
			mb.mu.Lock()
			if len(mb.queue) == 0 {
				mb.mu.Unlock()
				break
			}
			v := mb.queue[0]
			mb.queue[0] = nil
			mb.queue = mb.queue[1:]
			mb.mu.Unlock()

			select {
			case <-mb.done:
				return
			default:
			}
			deliver(v)
		}
	}
}
