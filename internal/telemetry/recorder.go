package telemetry

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/andresmejia3/truckpilot/internal/nav"
	"github.com/andresmejia3/truckpilot/internal/types"
	"github.com/sirupsen/logrus"
)

// Sink persists session telemetry. *store.Store implements it.
type Sink interface {
	CreateSession(ctx context.Context, info types.SessionInfo) error
	FinishSession(ctx context.Context, id string, frames, bails int, reason string) error
	InsertDecisions(ctx context.Context, recs []types.DecisionRecord) error
	StartEpisode(ctx context.Context, sessionID string, frame int, bailRight bool, reason string) (int64, error)
	EndEpisode(ctx context.Context, id int64, frame int, reason string) error
}

// RecorderOptions tunes buffering of the background writer.
type RecorderOptions struct {
	Buffer        int
	BatchSize     int
	FlushInterval time.Duration
}

func DefaultRecorderOptions() RecorderOptions {
	return RecorderOptions{Buffer: 1024, BatchSize: 64, FlushInterval: 500 * time.Millisecond}
}

type event struct {
	decision   *types.DecisionRecord
	transition *nav.Transition
}

// Recorder queues decisions and transitions and writes them from one goroutine.
// Enqueueing never blocks; when the queue is full records are dropped and counted.
type Recorder struct {
	sink    Sink
	info    types.SessionInfo
	log     logrus.FieldLogger
	opts    RecorderOptions
	events  chan event
	done    chan struct{}
	cancel  context.CancelFunc
	dropped atomic.Int64
}

func NewRecorder(sink Sink, info types.SessionInfo, log logrus.FieldLogger, opts RecorderOptions) *Recorder {
	if opts.Buffer < 1 {
		opts.Buffer = 1
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = 1
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = time.Second
	}
	return &Recorder{
		sink:   sink,
		info:   info,
		log:    log.WithField("session", info.ID),
		opts:   opts,
		events: make(chan event, opts.Buffer),
		done:   make(chan struct{}),
	}
}

// Start registers the session and launches the writer.
func (r *Recorder) Start(ctx context.Context) error {
	if err := r.sink.CreateSession(ctx, r.info); err != nil {
		return err
	}
	wctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel
	go r.run(wctx)
	return nil
}

// Decision queues one per-frame record.
func (r *Recorder) Decision(rec types.DecisionRecord) {
	rec.SessionID = r.info.ID
	r.enqueue(event{decision: &rec})
}

// Transition queues a state change so bail episodes can be opened and closed.
func (r *Recorder) Transition(tr nav.Transition) {
	r.enqueue(event{transition: &tr})
}

// Dropped returns how many events were discarded because the queue was full.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

func (r *Recorder) enqueue(ev event) {
	select {
	case r.events <- ev:
	default:
		r.dropped.Add(1)
	}
}

// Close drains the queue and stores the session totals. When ctx expires first the
// writer is cancelled and Close still waits for it, so the sink is free once Close returns.
func (r *Recorder) Close(ctx context.Context, frames, bails int, reason string) error {
	close(r.events)
	select {
	case <-r.done:
	case <-ctx.Done():
		if r.cancel == nil {
			return ctx.Err()
		}
		r.cancel()
		<-r.done
		r.log.Warn("telemetry writer cancelled before the queue drained")
		return ctx.Err()
	}
	if r.cancel != nil {
		r.cancel()
	}
	if n := r.Dropped(); n > 0 {
		r.log.Warnf("dropped %d telemetry records", n)
	}
	return r.sink.FinishSession(ctx, r.info.ID, frames, bails, reason)
}

func (r *Recorder) run(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(r.opts.FlushInterval)
	defer ticker.Stop()

	batch := make([]types.DecisionRecord, 0, r.opts.BatchSize)
	var episode int64
	open := false

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := r.sink.InsertDecisions(ctx, batch); err != nil {
			r.log.WithError(err).Errorf("failed to store %d decisions", len(batch))
		}
		batch = batch[:0]
	}

	for {
		select {
		case ev, ok := <-r.events:
			if !ok {
				flush()
				return
			}
			if ev.decision != nil {
				batch = append(batch, *ev.decision)
				if len(batch) >= r.opts.BatchSize {
					flush()
				}
				continue
			}

			tr := ev.transition
			switch {
			case tr.From == nav.StateForward && tr.To == nav.StateBailBackup:
				id, err := r.sink.StartEpisode(ctx, r.info.ID, tr.Frame, tr.BailRight, tr.Reason)
				if err != nil {
					r.log.WithError(err).Error("failed to open bail episode")
					continue
				}
				episode, open = id, true
			case tr.To == nav.StateForward && open:
				if err := r.sink.EndEpisode(ctx, episode, tr.Frame, tr.Reason); err != nil {
					r.log.WithError(err).Error("failed to close bail episode")
				}
				open = false
			}
		case <-ticker.C:
			flush()
		}
	}
}
