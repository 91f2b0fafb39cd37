package telegram

import (
	"sync"

	"github.com/JunyuanChen/SonnyBot-ng/internal/infrastructure/external/telegram"
)

// lanes orders work per key. Work entered under one key runs in entry order;
// work under different keys runs concurrently.
type lanes struct {
	mu    sync.Mutex
	tails map[int64]chan struct{}
}

func newLanes() *lanes {
	return &lanes{tails: make(map[int64]chan struct{})}
}

// enter queues work under key. The caller waits on prev before running and
// calls done when finished.
func (l *lanes) enter(key int64) (prev <-chan struct{}, done func()) {
	own := make(chan struct{})

	l.mu.Lock()
	prevCh, ok := l.tails[key]
	l.tails[key] = own
	l.mu.Unlock()

	if !ok {
		closed := make(chan struct{})
		close(closed)
		prevCh = closed
	}

	return prevCh, func() {
		l.mu.Lock()
		if l.tails[key] == own {
			delete(l.tails, key)
		}
		l.mu.Unlock()
		close(own)
	}
}

// pending reports how many keys have work queued or running.
func (l *lanes) pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tails)
}

// laneKey picks the key that orders an update: the sender, else the chat.
func laneKey(update *telegram.Update) int64 {
	msg := update.Message
	switch {
	case msg == nil:
		return 0
	case msg.From != nil:
		return msg.From.ID
	case msg.Chat != nil:
		return msg.Chat.ID
	}
	return 0
}
