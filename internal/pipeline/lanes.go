package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"chatwatch/internal/model"
)

// laneQueueSize bounds the per-source backlog of live messages.
const laneQueueSize = 256

// Lanes gives every base source key (one per chat; forum topics share their
// chat's lane) its own sequential processing lane so per-source ordering and
// watermark invariants hold while unrelated chats proceed concurrently. A
// held lane buffers live messages until catch-up replay for that chat
// completes.
type Lanes struct {
	proc *Processor
	log  *slog.Logger

	mu     sync.Mutex
	lanes  map[string]*lane
	closed bool

	wg sync.WaitGroup
}

type lane struct {
	queue chan model.Message
	gate  chan struct{} // closed when the lane may consume
}

// NewLanes creates the lane manager.
func NewLanes(proc *Processor, log *slog.Logger) *Lanes {
	return &Lanes{
		proc:  proc,
		log:   log,
		lanes: make(map[string]*lane),
	}
}

// Submit enqueues a live message onto its chat's lane, creating the lane on
// first use. When the lane's bounded queue is full the message is dropped
// with a warning; catch-up on the next restart recovers it.
func (ls *Lanes) Submit(ctx context.Context, msg model.Message) {
	ls.mu.Lock()
	if ls.closed {
		ls.mu.Unlock()
		return
	}
	l := ls.laneFor(ctx, msg.BaseSourceKey, false)
	ls.mu.Unlock()

	select {
	case l.queue <- msg:
	default:
		ls.log.Warn("lane queue full, dropping message",
			"source", msg.SourceKey, "message_id", msg.MessageID)
	}
}

// Hold creates the lane for a base source key in a held state: submitted
// messages are buffered but not processed until Release. Holding an
// already-running lane has no effect; replay must hold before live delivery
// starts.
func (ls *Lanes) Hold(ctx context.Context, baseKey string) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.closed {
		return
	}
	ls.laneFor(ctx, baseKey, true)
}

// Release opens a held lane so buffered and future messages are processed.
func (ls *Lanes) Release(baseKey string) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	l, ok := ls.lanes[baseKey]
	if !ok {
		return
	}
	select {
	case <-l.gate:
	default:
		close(l.gate)
	}
}

// laneFor returns the lane for a base key, creating and starting it when
// missing. Caller holds ls.mu.
func (ls *Lanes) laneFor(ctx context.Context, baseKey string, held bool) *lane {
	if l, ok := ls.lanes[baseKey]; ok {
		return l
	}
	l := &lane{
		queue: make(chan model.Message, laneQueueSize),
		gate:  make(chan struct{}),
	}
	if !held {
		close(l.gate)
	}
	ls.lanes[baseKey] = l

	ls.wg.Add(1)
	go ls.run(ctx, l)
	return l
}

// run consumes one lane sequentially. In-flight messages finish their
// durable writes even when ctx is cancelled; cancellation is only observed
// between messages.
func (ls *Lanes) run(ctx context.Context, l *lane) {
	defer ls.wg.Done()

	select {
	case <-l.gate:
	case <-ctx.Done():
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-l.queue:
			outcome, err := ls.proc.Process(context.WithoutCancel(ctx), msg)
			if err != nil {
				// Transient failure: the watermark did not advance, so the
				// message is recovered by catch-up after restart. Later
				// messages for this source are not blocked.
				ls.log.Error("process failed",
					"source", msg.SourceKey, "message_id", msg.MessageID, "error", err)
				continue
			}
			ls.log.Debug("processed",
				"source", msg.SourceKey, "message_id", msg.MessageID,
				"outcome", string(outcome.Kind))
		}
	}
}

// Close stops accepting new messages and waits for every lane to finish its
// in-flight message.
func (ls *Lanes) Close() {
	ls.mu.Lock()
	ls.closed = true
	for _, l := range ls.lanes {
		select {
		case <-l.gate:
		default:
			close(l.gate)
		}
	}
	ls.mu.Unlock()
	ls.wg.Wait()
}
