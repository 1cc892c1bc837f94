package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalsfoundry/groundpass/core"
	"github.com/signalsfoundry/groundpass/internal/config"
	"github.com/signalsfoundry/groundpass/internal/logging"
	"github.com/signalsfoundry/groundpass/internal/observability"
	"github.com/signalsfoundry/groundpass/internal/runner"
	"github.com/signalsfoundry/groundpass/internal/sink"
	"github.com/signalsfoundry/groundpass/kb"
	"github.com/signalsfoundry/groundpass/model"
	"github.com/signalsfoundry/groundpass/timectrl"
	"github.com/signalsfoundry/groundpass/tle"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file (default $GROUNDPASS_CONFIG)")
	startFlag := flag.String("start", "", "RFC 3339 start instant with an explicit zone (default: now, UTC, whole minute)")
	horizonFlag := flag.String("horizon", "", "ISO-8601 horizon overriding batch.horizon, e.g. P3D")
	tleFile := flag.String("tle-file", "", "Three-line TLE file overriding tle.file")
	fetch := flag.Bool("fetch", false, "Fetch tle.group from the TLE service before generating")
	group := flag.String("group", "", "TLE group overriding tle.group")
	metricsAddr := flag.String("metrics-addr", "", "Optional address to expose Prometheus metrics while running")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *tleFile != "" {
		cfg.TLE.File = *tleFile
	}
	if *group != "" {
		cfg.TLE.Group = *group
	}
	if *horizonFlag != "" {
		d, err := config.ParseISODuration(*horizonFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "-horizon: %v\n", err)
			os.Exit(2)
		}
		cfg.Batch.Horizon = config.ISODuration(d)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config:\n%v\n", err)
		os.Exit(1)
	}

	start := timectrl.SystemClock{}.Now().UTC().Truncate(time.Minute)
	if *startFlag != "" {
		start, err = timectrl.ParseInstant(*startFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "-start: %v\n", err)
			os.Exit(2)
		}
	}

	log := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, log)
	if err != nil {
		log.Error(ctx, "failed to initialise tracing", logging.Err(err))
		os.Exit(1)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	collector, err := observability.NewGenerationCollector(prometheus.DefaultRegisterer)
	if err != nil {
		log.Error(ctx, "failed to register metrics", logging.Err(err))
		os.Exit(1)
	}
	if *metricsAddr != "" {
		serveMetrics(ctx, *metricsAddr, collector.Handler(), log)
	}

	summary, err := run(ctx, cfg, log, options{
		Start:   start,
		Fetch:   *fetch,
		Metrics: collector,
		Out:     os.Stdout,
	})
	if err != nil {
		log.Error(ctx, "generation failed", logging.Err(err))
		os.Exit(1)
	}
	if summary.Failed > 0 {
		os.Exit(3)
	}
}

// options carries the per-invocation inputs that are not part of Config.
type options struct {
	Start   time.Time
	Fetch   bool
	Metrics *observability.GenerationCollector
	// Out receives the JSON run summary; nil discards it.
	Out io.Writer
}

// run loads the store, ingests element sets, generates passes for every
// (satellite, station) pair over [Start, Start+horizon), forwards them to the
// configured sinks and saves the store snapshot.
func run(ctx context.Context, cfg *config.Config, log logging.Logger, opts options) (*runner.Summary, error) {
	store := kb.NewStore()
	if err := store.LoadFile(cfg.Store.Path); err != nil {
		return nil, err
	}
	for _, gs := range cfg.Stations {
		if _, err := store.UpsertStation(gs); err != nil {
			return nil, fmt.Errorf("seed station %s: %w", gs.Code, err)
		}
	}

	n, err := ingestTLEs(ctx, store, cfg, opts.Fetch, log)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		log.Info(ctx, "element sets updated", logging.Int("count", n))
	}

	sinks, err := buildSinks(cfg.Sinks)
	if err != nil {
		return nil, err
	}
	fwd := sink.NewForwarder(store, sinks, log, opts.Metrics)
	fwd.Start(ctx)

	det, err := core.NewDetector(cfg.DetectionOptions())
	if err != nil {
		fwd.Close()
		return nil, err
	}
	batch := core.NewBatchDriver(det)
	batch.ChunkSize = cfg.Batch.ChunkSize
	batch.Margin = cfg.Batch.Margin
	ellipsoid, err := cfg.ReferenceEllipsoid()
	if err != nil {
		fwd.Close()
		return nil, err
	}

	r, err := runner.New(store, batch,
		runner.WithLogger(log),
		runner.WithMetrics(opts.Metrics),
		runner.WithWorkers(cfg.Batch.Workers),
		runner.WithEllipsoid(ellipsoid),
		runner.WithDeleteExisting(cfg.Batch.DeleteExisting),
	)
	if err != nil {
		fwd.Close()
		return nil, err
	}

	end := opts.Start.Add(cfg.Batch.Horizon.Duration())
	summary, runErr := r.Run(ctx, runner.Request{Start: opts.Start, End: end})
	if closeErr := fwd.Close(); closeErr != nil {
		log.Warn(ctx, "closing sinks", logging.Err(closeErr))
	}
	if runErr != nil && summary == nil {
		return nil, runErr
	}

	if err := store.SaveFile(cfg.Store.Path); err != nil {
		return summary, errors.Join(runErr, err)
	}
	log.Info(ctx, "generation finished",
		logging.String("run_id", summary.RunID),
		logging.Int("pairs", len(summary.Pairs)),
		logging.Int("detected", summary.Detected),
		logging.Int("stored", summary.Stored),
		logging.Int("deleted", summary.Deleted),
		logging.Int("failed", summary.Failed),
	)
	if opts.Out != nil {
		if err := writeSummary(opts.Out, summary); err != nil {
			return summary, errors.Join(runErr, err)
		}
	}
	return summary, runErr
}

// ingestTLEs loads element sets from cfg.TLE.File, or from the TLE service
// when fetch is set, and returns how many satellites got a new set.
func ingestTLEs(ctx context.Context, store *kb.Store, cfg *config.Config, fetch bool, log logging.Logger) (int, error) {
	var (
		entries   []tle.Entry
		fetchedAt = timectrl.SystemClock{}.Now().UTC()
	)
	switch {
	case cfg.TLE.File != "":
		f, err := os.Open(cfg.TLE.File)
		if err != nil {
			return 0, fmt.Errorf("open tle file: %w", err)
		}
		defer f.Close()
		entries, err = tle.Parse(ctx, f, log)
		if err != nil {
			return 0, fmt.Errorf("parse %s: %w", cfg.TLE.File, err)
		}
	case fetch:
		fctx, cancel := context.WithTimeout(ctx, cfg.TLE.Timeout)
		defer cancel()
		ds, err := tle.NewFetcher(cfg.TLE.BaseURL, log).FetchGroup(fctx, cfg.TLE.Group)
		if err != nil {
			return 0, err
		}
		entries, fetchedAt = ds.Entries, ds.FetchedAt
	default:
		return 0, nil
	}

	updated := 0
	for _, e := range entries {
		sat, err := store.UpsertSatellite(e.NoradID, e.Name)
		if err != nil {
			return updated, err
		}
		changed, err := store.SetTLE(sat.ID, model.TLE{
			Line1:     e.Line1,
			Line2:     e.Line2,
			Epoch:     e.Epoch,
			FetchedAt: fetchedAt,
		})
		if err != nil {
			return updated, err
		}
		if changed {
			updated++
		}
	}
	return updated, nil
}

func buildSinks(cfg config.SinksConfig) ([]sink.Sink, error) {
	var sinks []sink.Sink
	closeAll := func() {
		for _, s := range sinks {
			s.Close()
		}
	}
	if cfg.File.Path != "" {
		s, err := sink.NewFile(cfg.File.Path)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if len(cfg.Kafka.Brokers) > 0 {
		s, err := sink.NewKafka(sink.KafkaConfig{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic})
		if err != nil {
			closeAll()
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if cfg.MQTT.Broker != "" {
		s, err := sink.NewMQTT(sink.MQTTConfig{
			Broker:   cfg.MQTT.Broker,
			Topic:    cfg.MQTT.Topic,
			ClientID: cfg.MQTT.ClientID,
			QoS:      cfg.MQTT.QoS,
		})
		if err != nil {
			closeAll()
			return nil, err
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}

type pairView struct {
	SatelliteID     int64   `json:"satellite_id"`
	GroundStationID int64   `json:"gs_id"`
	Detected        int     `json:"detected"`
	Stored          int     `json:"stored"`
	Deleted         int     `json:"deleted"`
	ElapsedS        float64 `json:"elapsed_s"`
	Error           string  `json:"error,omitempty"`
}

type summaryView struct {
	RunID    string     `json:"run_id"`
	Start    time.Time  `json:"start"`
	End      time.Time  `json:"end"`
	Detected int        `json:"detected"`
	Stored   int        `json:"stored"`
	Deleted  int        `json:"deleted"`
	Failed   int        `json:"failed"`
	Pairs    []pairView `json:"pairs"`
}

func writeSummary(w io.Writer, s *runner.Summary) error {
	view := summaryView{
		RunID:    s.RunID,
		Start:    s.Start,
		End:      s.End,
		Detected: s.Detected,
		Stored:   s.Stored,
		Deleted:  s.Deleted,
		Failed:   s.Failed,
		Pairs:    make([]pairView, 0, len(s.Pairs)),
	}
	for _, p := range s.Pairs {
		pv := pairView{
			SatelliteID:     p.SatelliteID,
			GroundStationID: p.GroundStationID,
			Detected:        p.Detected,
			Stored:          p.Stored,
			Deleted:         p.Deleted,
			ElapsedS:        p.Elapsed.Seconds(),
		}
		if p.Err != nil {
			pv.Error = p.Err.Error()
		}
		view.Pairs = append(view.Pairs, pv)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(view)
}

func serveMetrics(ctx context.Context, addr string, h http.Handler, log logging.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn(ctx, "metrics server stopped", logging.Err(err))
		}
	}()
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	log.Info(ctx, "metrics available", logging.String("addr", addr))
}
