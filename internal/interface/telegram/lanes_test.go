package telegram

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JunyuanChen/SonnyBot-ng/internal/infrastructure/external/telegram"
)

func ready(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestLanesRunInEntryOrder(t *testing.T) {
	l := newLanes()

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		prev, done := l.enter(7)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer done()
			<-prev
			// Later entries finish their sleep first unless they wait.
			time.Sleep(time.Duration(20-i) * time.Millisecond / 10)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}()
	}
	wg.Wait()

	want := make([]int, 20)
	for i := range want {
		want[i] = i
	}
	assert.Equal(t, want, order)
	assert.Zero(t, l.pending())
}

func TestLanesKeysIndependent(t *testing.T) {
	l := newLanes()

	first, doneFirst := l.enter(1)
	require.True(t, ready(first))

	second, doneSecond := l.enter(1)
	assert.False(t, ready(second))

	other, doneOther := l.enter(2)
	assert.True(t, ready(other))
	assert.Equal(t, 2, l.pending())

	doneFirst()
	assert.True(t, ready(second))

	doneSecond()
	doneOther()
	assert.Zero(t, l.pending())
}

func TestLaneKey(t *testing.T) {
	assert.Equal(t, int64(0), laneKey(&telegram.Update{}))
	assert.Equal(t, int64(42), laneKey(&telegram.Update{Message: &telegram.Message{
		From: &telegram.User{ID: 42},
		Chat: &telegram.Chat{ID: -100},
	}}))
	assert.Equal(t, int64(-100), laneKey(&telegram.Update{Message: &telegram.Message{
		Chat: &telegram.Chat{ID: -100},
	}}))
}
