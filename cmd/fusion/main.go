// Command fusion runs the depth fusion pipeline against the simulated
// room sensor and serves its output over HTTP and gRPC.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/depthfusion/internal/config"
	"github.com/banshee-data/depthfusion/internal/db"
	"github.com/banshee-data/depthfusion/internal/fusion/keyframe"
	"github.com/banshee-data/depthfusion/internal/fusion/monitor"
	"github.com/banshee-data/depthfusion/internal/fusion/pipeline"
	"github.com/banshee-data/depthfusion/internal/fusion/sim"
	"github.com/banshee-data/depthfusion/internal/fusion/tracking"
	"github.com/banshee-data/depthfusion/internal/fusion/visualiser"
	"github.com/banshee-data/depthfusion/internal/fusion/volume"
	"github.com/banshee-data/depthfusion/internal/monitoring"
	"github.com/banshee-data/depthfusion/internal/version"
)

type options struct {
	configPath  string
	listen      string
	grpcListen  string
	dbPath      string
	logLevel    string
	noKeyFrames bool
	loadKeys    bool
	occlusions  string
	showVersion bool
}

func parseFlags(fs *flag.FlagSet, args []string) (options, error) {
	var o options
	fs.StringVar(&o.configPath, "config", "", "Path to fusion config JSON (defaults built in)")
	fs.StringVar(&o.listen, "listen", ":8080", "Monitor HTTP listen address")
	fs.StringVar(&o.grpcListen, "grpc-listen", "localhost:50051", "Visualiser gRPC listen address (empty to disable)")
	fs.StringVar(&o.dbPath, "db", "fusion.db", "Session database path (empty to disable recording)")
	fs.StringVar(&o.logLevel, "log-level", "ops", "Log level: off, ops, diag or trace")
	fs.BoolVar(&o.noKeyFrames, "no-keyframes", false, "Run without a key-frame database (no relocalization)")
	fs.BoolVar(&o.loadKeys, "load-keyframes", false, "Seed the key-frame database from the session database")
	fs.StringVar(&o.occlusions, "occlusions", "", "Simulated occlusion spans, e.g. 100-130,400-420")
	fs.BoolVar(&o.showVersion, "version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.listen == "" {
		return o, fmt.Errorf("listen address is required")
	}
	if o.loadKeys && (o.dbPath == "" || o.noKeyFrames) {
		return o, fmt.Errorf("-load-keyframes needs -db and a key-frame database")
	}
	return o, nil
}

// parseSpans reads comma-separated "from-to" frame ranges.
func parseSpans(s string) ([]sim.Span, error) {
	if s == "" {
		return nil, nil
	}
	var spans []sim.Span
	var from, to uint64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if _, err := fmt.Sscanf(part, "%d-%d", &from, &to); err != nil {
			return nil, fmt.Errorf("invalid span %q: %w", part, err)
		}
		if to < from {
			return nil, fmt.Errorf("invalid span %q: end before start", part)
		}
		spans = append(spans, sim.Span{From: from, To: to})
	}
	return spans, nil
}

func configureLogging(level string) error {
	w, err := monitoring.WritersForLevel(level, os.Stderr)
	if err != nil {
		return err
	}
	for _, set := range []func(monitoring.LogWriters){
		tracking.SetLogWriters,
		pipeline.SetLogWriters,
		sim.SetLogWriters,
		visualiser.SetLogWriters,
		monitor.SetLogWriters,
		db.SetLogWriters,
	} {
		set(w)
	}
	return nil
}

func loadConfig(path string) (*config.FusionConfig, error) {
	if path == "" {
		cfg := config.DefaultFusionConfig()
		return cfg, cfg.Validate()
	}
	return config.LoadFusionConfig(path)
}

// runMigrate handles "fusion migrate [-db path] <action> [N]".
func runMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	dbPath := fs.String("db", "fusion.db", "Session database path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return db.RunMigrateCommand(fs.Args(), *dbPath, os.Stdout)
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if err := runMigrate(os.Args[2:]); err != nil {
			log.Fatal(err)
		}
		return
	}

	opts, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}
	if opts.showVersion {
		fmt.Println("fusion " + version.String())
		return
	}
	if err := configureLogging(opts.logLevel); err != nil {
		log.Fatal(err)
	}
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	occlusions, err := parseSpans(opts.occlusions)
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, cfg, occlusions); err != nil {
		log.Fatal(err)
	}
	log.Printf("graceful shutdown complete")
}

func run(ctx context.Context, opts options, cfg *config.FusionConfig, occlusions []sim.Span) error {
	var store *db.DB
	var recorder pipeline.Recorder
	if opts.dbPath != "" {
		var err error
		store, err = db.NewDB(opts.dbPath)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer store.Close()

		cfgJSON, err := json.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
		sess, err := store.StartSession(ctx, string(cfgJSON), time.Now())
		if err != nil {
			return fmt.Errorf("failed to start session: %w", err)
		}
		defer func() {
			if err := store.EndSession(context.Background(), sess.ID, time.Now()); err != nil {
				log.Printf("failed to close session %s: %v", sess.ID, err)
			}
		}()

		writer := db.NewFrameWriter(store, 0)
		defer func() {
			writer.Close()
			log.Printf("session %s: %d frames recorded, %d dropped", sess.ID, writer.Written(), writer.Dropped())
		}()
		recorder = &sessionRecorder{sessionID: sess.ID, out: writer}
		log.Printf("recording session %s to %s", sess.ID, opts.dbPath)
	}

	var keyFrames volume.PoseDatabase
	if !opts.noKeyFrames {
		kfOpts := keyframe.Options{
			MaxKeyFrames:  cfg.GetMaxKeyFrames(),
			MaxCandidates: cfg.GetMaxCandidates(),
		}
		if store != nil {
			kfOpts.Store = db.NewKeyFrameStore(store)
		}
		kdb := keyframe.New(kfOpts)
		if opts.loadKeys {
			if err := kdb.Load(ctx); err != nil {
				return err
			}
			log.Printf("loaded %d key frames", kdb.KeyFrameCount())
		}
		keyFrames = kdb
	}

	engine := sim.NewEngine(sim.EngineConfig{Occlusions: occlusions})

	var vis *visualiser.Server
	var presenter pipeline.Presenter
	if opts.grpcListen != "" {
		vis = visualiser.NewServer(visualiser.Config{ListenAddr: opts.grpcListen}, nil)
		presenter = vis
	}

	p, err := pipeline.New(ctx, pipeline.Options{
		Engine:    engine,
		KeyFrames: keyFrames,
		Presenter: presenter,
		Recorder:  recorder,
		Config:    cfg,
	})
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	defer p.Close()

	if vis != nil {
		vis.SetSource(p)
		if err := vis.Start(); err != nil {
			return err
		}
		defer vis.Stop()
	}

	sensor, err := sim.NewSensor(sim.SensorConfigFromFusion(cfg), p)
	if err != nil {
		return fmt.Errorf("failed to create sensor: %w", err)
	}

	mcfg := monitor.WebServerConfig{Address: opts.listen, Source: p}
	if store != nil {
		mcfg.Sessions = store
	}
	ws, err := monitor.NewWebServer(mcfg)
	if err != nil {
		return err
	}

	p.Start(ctx)
	if err := sensor.Start(ctx); err != nil {
		return fmt.Errorf("failed to start sensor: %w", err)
	}
	defer sensor.Close()

	var wg sync.WaitGroup
	errCh := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := ws.Start(ctx); err != nil {
			errCh <- err
		}
	}()

	log.Printf("fusion %s running: monitor on %s, visualiser on %q", version.Version, opts.listen, opts.grpcListen)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		wg.Wait()
		return err
	}
	wg.Wait()

	st := p.Status()
	log.Printf("processed %d frames (%d passes, %d errors, %d dropped, %d resets)",
		st.Processed, st.Passes, st.Errors, st.Dropped, st.Resets)
	return nil
}
