package application

import (
	"context"
	"sync"
)

// competitionLocks serializes the writes that replace a competition's
// stored standings. Waiting honours ctx. Idle entries are dropped.
type competitionLocks struct {
	mu    sync.Mutex
	locks map[int64]*competitionLock
}

type competitionLock struct {
	ch      chan struct{}
	waiters int
}

func newCompetitionLocks() *competitionLocks {
	return &competitionLocks{locks: make(map[int64]*competitionLock)}
}

// lock blocks until the competition is free or ctx is done. The returned
// function releases the lock.
func (l *competitionLocks) lock(ctx context.Context, competitionID int64) (func(), error) {
	l.mu.Lock()
	cl, ok := l.locks[competitionID]
	if !ok {
		cl = &competitionLock{ch: make(chan struct{}, 1)}
		l.locks[competitionID] = cl
	}
	cl.waiters++
	l.mu.Unlock()

	select {
	case cl.ch <- struct{}{}:
		return func() {
			<-cl.ch
			l.release(competitionID, cl)
		}, nil
	case <-ctx.Done():
		l.release(competitionID, cl)
		return nil, ctx.Err()
	}
}

func (l *competitionLocks) release(competitionID int64, cl *competitionLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cl.waiters--
	if cl.waiters == 0 {
		delete(l.locks, competitionID)
	}
}

func (l *competitionLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
