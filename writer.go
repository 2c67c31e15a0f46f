package padsync

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
)

type PadWriterSettings struct {
	// a content edit is persisted after the pad has been content-quiet this long
	ContentDebounceTimeout time.Duration
	// a title edit is persisted after the pad has been title-quiet this long
	TitleDebounceTimeout time.Duration
	// backoff before retrying a failed write-through
	RetryTimeout time.Duration
	// retries before the failure is surfaced and the pending write dropped
	MaxRetryCount int
	// an idle pad loop with nothing pending exits after this long
	IdleTimeout time.Duration
	// timeout on one store call
	FlushTimeout time.Duration
}

func DefaultPadWriterSettings() *PadWriterSettings {
	return &PadWriterSettings{
		ContentDebounceTimeout: 2000 * time.Millisecond,
		TitleDebounceTimeout:   1000 * time.Millisecond,
		RetryTimeout:           5 * time.Second,
		MaxRetryCount:          3,
		IdleTimeout:            60 * time.Second,
		FlushTimeout:           15 * time.Second,
	}
}

// PadWriter coalesces a burst of edits per pad into a single write-through
// after a quiet period. last writer wins inside the debounce window: only the
// most recent content value is ever persisted, earlier unpersisted values are
// silently superseded.
//
// each active pad gets its own run loop, so a write-through in flight for one
// pad never blocks another pad, and writes for the same pad are serialized.
type PadWriter struct {
	ctx    context.Context
	cancel context.CancelFunc

	store    PadStore
	settings *PadWriterSettings

	closeWaits sync.WaitGroup

	stateLock sync.Mutex
	// padId -> pending write state
	pads map[Id]*padWriteState
}

// at most one per pad. all fields except the channels are guarded by the
// writer state lock.
type padWriteState struct {
	padId Id

	wake  chan struct{}
	flush chan chan error

	content      *string
	title        *string
	authorUserId Id

	contentDeadline time.Time
	titleDeadline   time.Time
	retryDeadline   time.Time
	retryCount      int

	done bool
}

func NewPadWriterWithDefaults(ctx context.Context, store PadStore) *PadWriter {
	return NewPadWriter(ctx, store, DefaultPadWriterSettings())
}

func NewPadWriter(ctx context.Context, store PadStore, settings *PadWriterSettings) *PadWriter {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &PadWriter{
		ctx:      cancelCtx,
		cancel:   cancel,
		store:    store,
		settings: settings,
		pads:     map[Id]*padWriteState{},
	}
}

// overwrites the pending content and pushes the fire time forward, so a
// continuously typing user defers persistence until they pause
func (self *PadWriter) OnContentChange(padId Id, authorUserId Id, content string) {
	self.stateLock.Lock()
	state := self.ensurePad(padId)
	state.content = &content
	state.authorUserId = authorUserId
	state.contentDeadline = time.Now().Add(self.settings.ContentDebounceTimeout)
	self.stateLock.Unlock()

	wakeup(state.wake)
}

func (self *PadWriter) OnTitleChange(padId Id, authorUserId Id, title string) {
	self.stateLock.Lock()
	state := self.ensurePad(padId)
	state.title = &title
	state.authorUserId = authorUserId
	state.titleDeadline = time.Now().Add(self.settings.TitleDebounceTimeout)
	self.stateLock.Unlock()

	wakeup(state.wake)
}

// immediate flush bypassing the timers, with the same retry semantics.
// if a write-through is in flight for the pad, this waits behind it and is
// re-evaluated against the then-current pending state.
// returns nil when the pad has nothing pending.
func (self *PadWriter) FlushNow(padId Id) error {
	request := make(chan error, 1)

	self.stateLock.Lock()
	state, ok := self.pads[padId]
	if !ok || state.done {
		self.stateLock.Unlock()
		return nil
	}
	select {
	case state.flush <- request:
	default:
		// flush requests already queued. the pending state will be flushed.
		self.stateLock.Unlock()
		return nil
	}
	self.stateLock.Unlock()

	select {
	case err := <-request:
		return err
	case <-self.ctx.Done():
		return nil
	}
}

// must be called with the state lock held
func (self *PadWriter) ensurePad(padId Id) *padWriteState {
	state, ok := self.pads[padId]
	if !ok {
		state = &padWriteState{
			padId: padId,
			wake:  make(chan struct{}, 1),
			flush: make(chan chan error, 8),
		}
		self.pads[padId] = state
		self.closeWaits.Add(1)
		go self.run(state)
	}
	return state
}

// removes the pad state. when `onlyIfIdle`, the removal is skipped if the pad
// has anything pending. returns whether the state was removed.
func (self *PadWriter) removePad(state *padWriteState, onlyIfIdle bool) bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if onlyIfIdle {
		if state.content != nil || state.title != nil || 0 < len(state.flush) {
			return false
		}
	}
	state.done = true
	delete(self.pads, state.padId)
	return true
}

func (self *PadWriter) run(state *padWriteState) {
	defer self.closeWaits.Done()

	for {
		fireTime, pending := self.nextFireTime(state)

		if !pending {
			select {
			case <-self.ctx.Done():
				self.removePad(state, false)
				return
			case <-state.wake:
			case request := <-state.flush:
				request <- self.flushPad(state)
			case <-time.After(self.settings.IdleTimeout):
				if self.removePad(state, true) {
					return
				}
			}
			continue
		}

		if timeout := time.Until(fireTime); 0 < timeout {
			select {
			case <-self.ctx.Done():
				// best effort final flush
				self.flushPad(state)
				self.removePad(state, false)
				return
			case <-state.wake:
				// the fire time moved. re-evaluate.
			case request := <-state.flush:
				request <- self.flushPad(state)
			case <-time.After(timeout):
			}
			continue
		}

		self.flushPad(state)
	}
}

func (self *PadWriter) nextFireTime(state *padWriteState) (time.Time, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if state.content == nil && state.title == nil {
		return time.Time{}, false
	}
	if !state.retryDeadline.IsZero() {
		return state.retryDeadline, true
	}
	var fireTime time.Time
	if state.content != nil && !state.contentDeadline.IsZero() {
		fireTime = state.contentDeadline
	}
	if state.title != nil && !state.titleDeadline.IsZero() {
		if fireTime.IsZero() || state.titleDeadline.Before(fireTime) {
			fireTime = state.titleDeadline
		}
	}
	if fireTime.IsZero() {
		// pending with no armed timer, e.g. an edit that arrived during a
		// write-through. flush immediately.
		fireTime = time.Now()
	}
	return fireTime, true
}

// reads the current pending write and calls through to the store.
// the pending record is cleared only after the store call succeeds, and only
// for the values that were actually persisted. a newer edit that arrived
// during the store call stays pending.
func (self *PadWriter) flushPad(state *padWriteState) error {
	self.stateLock.Lock()
	content := state.content
	title := state.title
	authorUserId := state.authorUserId
	state.contentDeadline = time.Time{}
	state.titleDeadline = time.Time{}
	state.retryDeadline = time.Time{}
	self.stateLock.Unlock()

	if content == nil && title == nil {
		return nil
	}

	// a flush in flight is not cancelable. the writer close waits for it.
	flushCtx, flushCancel := context.WithTimeout(context.Background(), self.settings.FlushTimeout)
	defer flushCancel()

	err := func() error {
		if content != nil {
			// capture the existing version before overwrite
			if err := self.store.CreateVersion(flushCtx, state.padId, authorUserId); err != nil {
				return err
			}
		}
		update := &PadUpdate{
			Content: content,
			Title:   title,
		}
		return self.store.UpdatePad(flushCtx, state.padId, update, authorUserId)
	}()

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if err == nil {
		if state.content == content {
			state.content = nil
		}
		if state.title == title {
			state.title = nil
		}
		state.retryCount = 0
		glog.V(1).Infof("[w]flush %s\n", state.padId)
		return nil
	}

	state.retryCount += 1
	if self.settings.MaxRetryCount < state.retryCount {
		// unrecoverable for this pad. drop the pending write.
		// live collaboration is unaffected.
		glog.Infof("[w]persist failed %s after %d attempts = %s\n", state.padId, state.retryCount, err)
		if state.content == content {
			state.content = nil
		}
		if state.title == title {
			state.title = nil
		}
		state.retryCount = 0
		return &StoreError{Cause: err}
	}

	state.retryDeadline = time.Now().Add(self.settings.RetryTimeout)
	glog.Infof("[w]persist error %s attempt %d = %s\n", state.padId, state.retryCount, err)
	return &StoreError{Cause: err}
}

// the number of pads with an active write loop
func (self *PadWriter) ActivePadCount() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return len(self.pads)
}

// flushes all pending writes best effort and waits for the loops to exit
func (self *PadWriter) Close() {
	self.cancel()
	self.closeWaits.Wait()
}

func wakeup(wake chan struct{}) {
	select {
	case wake <- struct{}{}:
	default:
	}
}
