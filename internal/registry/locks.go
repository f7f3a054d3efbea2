package registry

import "github.com/moby/locker"

// roomLocks hands out one mutex per room id. Entries are dropped once no
// caller holds or waits for them.
type roomLocks struct {
	l *locker.Locker
}

func newRoomLocks() *roomLocks {
	return &roomLocks{l: locker.New()}
}

func (rl *roomLocks) lock(id string) (unlock func()) {
	rl.l.Lock(id)
	return func() {
		rl.l.Unlock(id)
	}
}
