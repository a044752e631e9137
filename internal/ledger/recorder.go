package ledger

import (
	"time"

	"github.com/manpreetbhatti/coderelay/internal/room"
)

type event struct {
	opened bool
	stats  room.Stats
	at     time.Time
}

// RoomOpened queues an open record. It never blocks: the registry calls it
// with its lock held.
func (l *Ledger) RoomOpened(stats room.Stats) {
	l.enqueue(event{opened: true, stats: stats, at: time.Now()})
}

// RoomClosed queues the session's final counters.
func (l *Ledger) RoomClosed(stats room.Stats) {
	l.enqueue(event{stats: stats, at: time.Now()})
}

func (l *Ledger) enqueue(ev event) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}

	select {
	case l.events <- ev:
	default:
		l.logger.Warn("ledger.queue_full", "room", ev.stats.ID, "session", ev.stats.Session)
	}
}

func (l *Ledger) run() {
	defer l.wg.Done()

	for ev := range l.events {
		var err error
		if ev.opened {
			err = l.OpenSession(ev.stats)
		} else {
			err = l.CloseSession(ev.stats, ev.at)
		}
		if err != nil {
			l.logger.Error("ledger.write", "room", ev.stats.ID, "session", ev.stats.Session, "err", err)
		}
	}
}
