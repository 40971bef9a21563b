// Command booktape drives the offline replay platform: landing
// normalized update logs, rebuilding checkpoint/index artifacts per
// (instrument, partition) scope, and answering point-in-time book
// queries from them.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"booktape/builder"
	"booktape/config"
	"booktape/domain/book"
	"booktape/infra/eventlog"
	kafkasource "booktape/infra/kafka"
	"booktape/infra/logging"
	"booktape/infra/metrics"
	"booktape/infra/store"
	"booktape/jobs/announce"
	"booktape/query"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd, args := os.Args[1], os.Args[2:]

	var err error
	switch cmd {
	case "build":
		err = runBuild(args)
	case "query":
		err = runQuery(args)
	case "stream":
		err = runStream(args)
	case "ingest":
		err = runIngest(args)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "booktape:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: booktape <command> [flags]

commands:
  build    rebuild checkpoints and snapshot index for one scope
  query    print the book state at a point in time
  stream   print cadence snapshots over a time window
  ingest   land a kafka update-log partition into the local event log`)
}

func setup(fs *flag.FlagSet, args []string) (*config.Config, *zap.Logger, error) {
	cfgPath := fs.String("config", "", "path to yaml config file")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return nil, nil, err
	}
	log, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runBuild(args []string) error {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	instrument := fs.String("instrument", "", "instrument identifier")
	partition := fs.String("partition", "", "partition identifier (e.g. 2026-08-27)")
	cfg, log, err := setup(fs, args)
	if err != nil {
		return err
	}
	defer log.Sync()
	if *instrument == "" || *partition == "" {
		return fmt.Errorf("build: -instrument and -partition are required")
	}

	ctx, stop := signalContext()
	defer stop()

	st, err := store.Open(cfg.StoreDir)
	if err != nil {
		return err
	}
	defer st.Close()

	m := metrics.New()
	if cfg.Metrics.Addr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", m.Handler())
			if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil {
				log.Warn("metrics listener stopped", zap.Error(err))
			}
		}()
	}

	opts := builder.Options{
		Store:             st,
		Logs:              eventlog.Tree{Root: cfg.DataDir},
		Checkpoint:        cfg.Checkpoint.Policy(),
		SkipMalformed:     cfg.Replay.SkipMalformed,
		DisableOrderCheck: !cfg.Replay.StrictOrdering,
		Logger:            log,
		Metrics:           m,
	}
	if opts.PreSnapshot, err = cfg.Replay.PreSnapshot(); err != nil {
		return err
	}
	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.AnnounceTopic != "" {
		ann, err := announce.New(cfg.Kafka.Brokers, cfg.Kafka.AnnounceTopic)
		if err != nil {
			return err
		}
		defer ann.Close()
		opts.Announcer = ann
	}

	res, err := builder.New(opts).Rebuild(ctx, store.Scope{
		Instrument: *instrument,
		Partition:  *partition,
	})
	if err != nil {
		return err
	}
	fmt.Printf("rebuilt %s/%s: %d events, %d anchors, %d checkpoints in %s\n",
		res.Instrument, res.Partition, res.Events, res.Anchors, res.Checkpoints, res.Duration)
	return nil
}

func newFacade(cfg *config.Config, st *store.Store) (*query.Facade, error) {
	pre, err := cfg.Replay.PreSnapshot()
	if err != nil {
		return nil, err
	}
	return query.New(query.Options{
		Store:         st,
		Logs:          eventlog.Tree{Root: cfg.DataDir},
		Partitions:    query.DayPartitions,
		PreSnapshot:   pre,
		SnapshotDepth: cfg.Replay.SnapshotDepth,
	}), nil
}

func runQuery(args []string) error {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	instrument := fs.String("instrument", "", "instrument identifier")
	at := fs.String("at", "", "point in time (RFC3339 or microseconds)")
	depth := fs.Int("depth", 10, "levels per side to print")
	cfg, log, err := setup(fs, args)
	if err != nil {
		return err
	}
	defer log.Sync()
	if *instrument == "" || *at == "" {
		return fmt.Errorf("query: -instrument and -at are required")
	}
	atMicros, err := parseTime(*at)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	st, err := store.Open(cfg.StoreDir)
	if err != nil {
		return err
	}
	defer st.Close()

	f, err := newFacade(cfg, st)
	if err != nil {
		return err
	}
	snap, err := f.GetSnapshot(ctx, *instrument, atMicros)
	if err != nil {
		return err
	}
	printSnapshot(snap, *depth)
	return nil
}

func runStream(args []string) error {
	fs := flag.NewFlagSet("stream", flag.ExitOnError)
	instrument := fs.String("instrument", "", "instrument identifier")
	start := fs.String("start", "", "window start (RFC3339 or microseconds)")
	end := fs.String("end", "", "window end, exclusive")
	cadence := fs.Duration("cadence", time.Second, "snapshot cadence")
	depth := fs.Int("depth", 5, "levels per side to print")
	cfg, log, err := setup(fs, args)
	if err != nil {
		return err
	}
	defer log.Sync()
	if *instrument == "" || *start == "" || *end == "" {
		return fmt.Errorf("stream: -instrument, -start and -end are required")
	}
	startMicros, err := parseTime(*start)
	if err != nil {
		return err
	}
	endMicros, err := parseTime(*end)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	st, err := store.Open(cfg.StoreDir)
	if err != nil {
		return err
	}
	defer st.Close()

	f, err := newFacade(cfg, st)
	if err != nil {
		return err
	}
	stream, err := f.StreamSnapshots(ctx, *instrument, startMicros, endMicros, cadence.Microseconds())
	if err != nil {
		return err
	}
	defer stream.Close()
	for stream.Next() {
		printSnapshot(stream.Snapshot(), *depth)
	}
	return stream.Err()
}

func runIngest(args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	instrument := fs.String("instrument", "", "instrument identifier")
	partition := fs.String("partition", "", "partition identifier")
	topicPartition := fs.Int("topic-partition", 0, "kafka partition to drain")
	maxEvents := fs.Int("max", 0, "stop after this many events (0 = until interrupted)")
	cfg, log, err := setup(fs, args)
	if err != nil {
		return err
	}
	defer log.Sync()
	if *instrument == "" || *partition == "" {
		return fmt.Errorf("ingest: -instrument and -partition are required")
	}
	if len(cfg.Kafka.Brokers) == 0 || cfg.Kafka.SourceTopic == "" {
		return fmt.Errorf("ingest: kafka.brokers and kafka.source_topic must be configured")
	}

	ctx, stop := signalContext()
	defer stop()

	tree := eventlog.Tree{Root: cfg.DataDir}
	w, err := eventlog.OpenWriter(eventlog.Config{Dir: tree.Dir(*instrument, *partition)})
	if err != nil {
		return err
	}
	defer w.Close()

	src := kafkasource.NewSource(cfg.Kafka.Brokers, cfg.Kafka.SourceTopic, *topicPartition)
	defer src.Close()

	var mirror *kafkasource.Publisher
	if cfg.Kafka.MirrorTopic != "" {
		mirror = kafkasource.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.MirrorTopic)
		defer mirror.Close()
	}

	log.Info("landing update log",
		zap.String("instrument", *instrument),
		zap.String("partition", *partition),
		zap.String("topic", cfg.Kafka.SourceTopic),
		zap.Int("topic_partition", *topicPartition),
	)
	landed, err := src.Land(ctx, w, mirror, *maxEvents)
	if err != nil {
		return err
	}
	fmt.Printf("landed %d events into %s\n", landed, tree.Dir(*instrument, *partition))
	return nil
}

func parseTime(s string) (int64, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UnixMicro(), nil
	}
	var micros int64
	if _, err := fmt.Sscanf(s, "%d", &micros); err != nil {
		return 0, fmt.Errorf("cannot parse time %q", s)
	}
	return micros, nil
}

func printSnapshot(snap book.DepthSnapshot, depth int) {
	fmt.Printf("%s as of %s\n", snap.Instrument, snap.AsOf)
	fmt.Printf("  %-12s %-12s | %-12s %-12s\n", "bid px", "bid sz", "ask px", "ask sz")
	for i := 0; i < depth; i++ {
		var bidPx, bidSz, askPx, askSz string
		if i < len(snap.Bids) {
			bidPx = fmt.Sprintf("%d", snap.Bids[i].Price)
			bidSz = fmt.Sprintf("%d", snap.Bids[i].Size)
		}
		if i < len(snap.Asks) {
			askPx = fmt.Sprintf("%d", snap.Asks[i].Price)
			askSz = fmt.Sprintf("%d", snap.Asks[i].Size)
		}
		if bidPx == "" && askPx == "" {
			break
		}
		fmt.Printf("  %-12s %-12s | %-12s %-12s\n", bidPx, bidSz, askPx, askSz)
	}
}
