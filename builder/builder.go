// Package builder produces the two derived artifacts for one
// (instrument, partition) scope: the snapshot index and the cadence
// checkpoints. A rebuild is a pure function of the scope's source log;
// rerunning it over identical bytes commits byte-identical rows.
// Failures abort only the affected scope; previously committed scopes
// are untouched.
package builder

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"booktape/checkpoint"
	"booktape/domain/book"
	"booktape/domain/event"
	"booktape/infra/eventlog"
	"booktape/infra/metrics"
	"booktape/infra/store"
	"booktape/replay"
)

// Announcer publishes a committed rebuild to downstream lake
// consumers. Optional; announcement failures never roll back a commit.
type Announcer interface {
	Announce(ctx context.Context, res *Result) error
}

// Options wires a Builder.
type Options struct {
	Store *store.Store
	Logs  eventlog.Tree

	Checkpoint    replay.CheckpointPolicy
	PreSnapshot   replay.PreSnapshotPolicy
	SkipMalformed bool

	// DisableOrderCheck turns off strict ordering. Triage runs over
	// known-disordered captures only; rebuilds with it set are not
	// reproducible.
	DisableOrderCheck bool

	Logger    *zap.Logger
	Metrics   *metrics.Metrics
	Announcer Announcer
}

// Result summarizes one committed rebuild.
type Result struct {
	RunID       uuid.UUID     `json:"run_id"`
	Instrument  string        `json:"instrument"`
	Partition   string        `json:"partition"`
	Events      uint64        `json:"events"`
	Skipped     uint64        `json:"skipped"`
	Anchors     int           `json:"anchors"`
	Checkpoints int           `json:"checkpoints"`
	LastMarker  string        `json:"last_marker"`
	Duration    time.Duration `json:"duration"`
}

type Builder struct {
	opts Options
	log  *zap.Logger
}

func New(opts Options) *Builder {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Builder{opts: opts, log: log}
}

// Rebuild runs both passes over sc and atomically replaces its rows.
func (b *Builder) Rebuild(ctx context.Context, sc store.Scope) (*Result, error) {
	started := time.Now()
	res := &Result{
		RunID:      uuid.New(),
		Instrument: sc.Instrument,
		Partition:  sc.Partition,
	}
	log := b.log.With(
		zap.String("run_id", res.RunID.String()),
		zap.String("scope", sc.String()),
	)
	log.Info("rebuild started")

	entries, err := b.indexPass(ctx, sc)
	if err != nil {
		return nil, fmt.Errorf("index pass %s: %w", sc, err)
	}
	res.Anchors = len(entries)

	cps, stats, lastKey, err := b.checkpointPass(ctx, sc, entries)
	if err != nil {
		return nil, fmt.Errorf("checkpoint pass %s: %w", sc, err)
	}
	res.Events = stats.Applied
	res.Skipped = stats.Skipped
	res.Checkpoints = len(cps)
	res.LastMarker = lastKey.String()

	if err := b.opts.Store.ReplaceScope(sc, entries, cps); err != nil {
		return nil, fmt.Errorf("commit %s: %w", sc, err)
	}
	res.Duration = time.Since(started)

	b.observe(res)
	log.Info("rebuild committed",
		zap.Uint64("events", res.Events),
		zap.Uint64("skipped", res.Skipped),
		zap.Int("anchors", res.Anchors),
		zap.Int("checkpoints", res.Checkpoints),
		zap.Duration("duration", res.Duration),
	)

	if b.opts.Announcer != nil {
		if err := b.opts.Announcer.Announce(ctx, res); err != nil {
			log.Warn("rebuild announcement failed", zap.Error(err))
		}
	}
	return res, nil
}

// indexPass scans the scope's log and collapses each snapshot group to
// one entry keyed by the group's minimum ordering key.
func (b *Builder) indexPass(ctx context.Context, sc store.Scope) ([]checkpoint.IndexEntry, error) {
	cur, err := b.opts.Logs.Open(sc.Instrument, sc.Partition).OpenCursor()
	if err != nil {
		return nil, err
	}
	defer cur.Close()

	var (
		entries []checkpoint.IndexEntry
		inGroup bool
		groupID uint64
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		off := cur.Offset()
		ev, err := cur.Next()
		if err == io.EOF {
			return entries, nil
		}
		if err != nil {
			return nil, err
		}
		if ev.Instrument != sc.Instrument {
			return nil, fmt.Errorf("event for %q in scope %s", ev.Instrument, sc)
		}
		if ev.Kind != event.KindSnapshotLevel {
			inGroup = false
			continue
		}
		if inGroup && groupID == ev.SnapshotID {
			continue
		}
		inGroup = true
		groupID = ev.SnapshotID
		entries = append(entries, checkpoint.IndexEntry{
			Instrument: sc.Instrument,
			Partition:  sc.Partition,
			Key:        ev.Key(),
			Offset:     off,
			SnapshotID: ev.SnapshotID,
		})
	}
}

// checkpointPass drives the engine from the scope's earliest snapshot
// anchor to the end of the log, collecting every cadence emission.
func (b *Builder) checkpointPass(
	ctx context.Context,
	sc store.Scope,
	entries []checkpoint.IndexEntry,
) ([]*checkpoint.Checkpoint, replay.Stats, event.Key, error) {
	if len(entries) == 0 {
		// Nothing to anchor on; the commit still clears stale rows.
		return nil, replay.Stats{}, event.Key{}, nil
	}

	cur, err := b.opts.Logs.Open(sc.Instrument, sc.Partition).OpenCursor()
	if err != nil {
		return nil, replay.Stats{}, event.Key{}, err
	}
	defer cur.Close()
	if err := cur.Seek(entries[0].Offset); err != nil {
		return nil, replay.Stats{}, event.Key{}, err
	}

	var cps []*checkpoint.Checkpoint
	eng := replay.New(replay.Options{
		PreSnapshot:       b.opts.PreSnapshot,
		Checkpoint:        b.opts.Checkpoint,
		SkipMalformed:     b.opts.SkipMalformed,
		DisableOrderCheck: b.opts.DisableOrderCheck,
		Sink: replay.SinkFunc(func(snap book.DepthSnapshot) error {
			cps = append(cps, &checkpoint.Checkpoint{
				Instrument: sc.Instrument,
				Partition:  sc.Partition,
				Marker:     snap.AsOf,
				Offset:     cur.Offset(),
				Bids:       snap.Bids,
				Asks:       snap.Asks,
			})
			return nil
		}),
	})

	for {
		if err := ctx.Err(); err != nil {
			return nil, replay.Stats{}, event.Key{}, err
		}
		ev, err := cur.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, replay.Stats{}, event.Key{}, err
		}
		if err := eng.Process(ev); err != nil {
			return nil, replay.Stats{}, event.Key{}, err
		}
	}
	lastKey, _ := eng.LastKey()
	return cps, eng.Stats(), lastKey, nil
}

func (b *Builder) observe(res *Result) {
	m := b.opts.Metrics
	if m == nil {
		return
	}
	m.EventsReplayed.Add(float64(res.Events))
	m.EventsSkipped.Add(float64(res.Skipped))
	m.CheckpointsWritten.Add(float64(res.Checkpoints))
	m.AnchorsIndexed.Add(float64(res.Anchors))
	m.RebuildSeconds.Observe(res.Duration.Seconds())
}
