package flow

import (
	"sync"

	"github.com/BTreeMap/AskFlow/internal/models"
)

// userQueues runs inbound messages in arrival order per sender while
// different senders proceed in parallel. A sender has at most one worker;
// it exits once that sender's queue drains.
type userQueues struct {
	mu      sync.Mutex
	pending map[string][]models.InboundMessage
	wg      sync.WaitGroup
	handle  func(models.InboundMessage)
}

func newUserQueues(handle func(models.InboundMessage)) *userQueues {
	return &userQueues{pending: make(map[string][]models.InboundMessage), handle: handle}
}

// push queues msg behind earlier messages from the same sender.
func (q *userQueues) push(msg models.InboundMessage) {
	q.mu.Lock()
	queued, active := q.pending[msg.From]
	q.pending[msg.From] = append(queued, msg)
	if !active {
		q.wg.Add(1)
	}
	q.mu.Unlock()
	if !active {
		go q.drain(msg.From)
	}
}

func (q *userQueues) drain(from string) {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		queued := q.pending[from]
		if len(queued) == 0 {
			delete(q.pending, from)
			q.mu.Unlock()
			return
		}
		msg := queued[0]
		q.pending[from] = queued[1:]
		q.mu.Unlock()
		q.handle(msg)
	}
}

// wait blocks until every queued message has been handled.
func (q *userQueues) wait() {
	q.wg.Wait()
}
