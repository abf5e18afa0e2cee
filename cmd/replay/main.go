package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/signalsfoundry/xplane-replay/internal/logging"
	"github.com/signalsfoundry/xplane-replay/internal/observability"
	"github.com/signalsfoundry/xplane-replay/model"
	"github.com/signalsfoundry/xplane-replay/playback"
)

const progressWidth = 40

func main() {
	dataPath := flag.String("data", "", "Path to the recorded trajectory CSV (required)")
	rate := flag.Float64("rate", 100, "Sample rate of the recording in Hz")
	configPath := flag.String("config", "", "Path to a YAML playback configuration")
	speed := flag.Float64("speed", 0, "Playback speed multiplier (0 keeps the configured default)")
	start := flag.Float64("start", 0, "Start time within the trajectory in seconds")
	end := flag.Float64("end", 0, "End time within the trajectory in seconds (0 plays to the end)")
	loop := flag.Bool("loop", false, "Restart playback from the beginning when the end is reached")
	backend := flag.String("backend", "", "Transport backend: auto, native, or xpc (overrides the config)")
	host := flag.String("host", "", "Simulator host (overrides the config)")
	metricsAddr := flag.String("metrics-addr", "", "HTTP address for Prometheus /metrics (empty disables)")
	flag.Parse()

	log := logging.NewFromEnv()
	ctx := context.Background()

	if *dataPath == "" {
		fmt.Fprintln(os.Stderr, "usage: replay -data <trajectory.csv> [flags]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	cfg := playback.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = playback.LoadConfig(*configPath)
		if err != nil {
			log.Error(ctx, "failed to load config", logging.String("path", *configPath), logging.String("error", err.Error()))
			os.Exit(1)
		}
	}
	if *backend != "" {
		cfg.Connection.Backend = *backend
	}
	if *host != "" {
		cfg.Connection.Host = *host
	}
	if *loop {
		cfg.Playback.Loop = true
	}

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		log.Error(ctx, "failed to initialise tracing", logging.String("error", err.Error()))
		os.Exit(1)
	}
	defer observability.ShutdownWithTimeout(ctx, shutdownTracing, log)

	var collector *observability.PlaybackCollector
	var metricsSrv *http.Server
	if *metricsAddr != "" {
		collector, err = observability.NewPlaybackCollector(nil)
		if err != nil {
			log.Error(ctx, "failed to initialise metrics collector", logging.String("error", err.Error()))
			os.Exit(1)
		}
		metricsSrv = serveMetrics(*metricsAddr, collector, log)
	}

	traj, err := loadTrajectory(*dataPath, *rate)
	if err != nil {
		log.Error(ctx, "failed to load trajectory", logging.String("path", *dataPath), logging.String("error", err.Error()))
		os.Exit(1)
	}
	log.Info(ctx, "trajectory loaded",
		logging.String("path", *dataPath),
		logging.Int("samples", traj.Len()),
		logging.Float64("duration_s", traj.Duration()))

	player, err := playback.NewPlayer(traj, cfg, log, collector)
	if err != nil {
		log.Error(ctx, "failed to build player", logging.String("error", err.Error()))
		os.Exit(1)
	}
	defer player.Close()

	done := make(chan struct{})
	total := traj.Len()
	player.OnFrame = func(i int, seconds float64) {
		fmt.Printf("\r%s", renderProgress(i, total, progressWidth, seconds))
	}
	player.OnComplete = func() {
		fmt.Println()
		close(done)
	}

	if err := player.Play(ctx, *speed, *start, *end); err != nil {
		log.Error(ctx, "playback failed to start", logging.String("error", err.Error()))
		os.Exit(1)
	}

	fmt.Println("commands: pause | resume | stop | speed <x> | seek <seconds> | quit")
	commands := readCommands(os.Stdin)

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stopSignals()

	for {
		select {
		case <-done:
			log.Info(ctx, "playback finished")
			shutdownMetrics(metricsSrv)
			return
		case <-sigCtx.Done():
			fmt.Println()
			log.Info(ctx, "interrupted, stopping playback")
			player.Stop()
			shutdownMetrics(metricsSrv)
			return
		case line, ok := <-commands:
			if !ok {
				// stdin closed; keep playing until done or interrupt.
				commands = nil
				continue
			}
			if quit := dispatch(ctx, player, log, line); quit {
				player.Stop()
				shutdownMetrics(metricsSrv)
				return
			}
		}
	}
}

// dispatch applies one console command to the player and reports whether
// the program should exit.
func dispatch(ctx context.Context, player *playback.Player, log logging.Logger, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	switch fields[0] {
	case "pause":
		player.Pause()
	case "resume":
		player.Resume()
	case "stop":
		player.Stop()
		fmt.Println()
	case "speed":
		if len(fields) < 2 {
			fmt.Println("usage: speed <multiplier>")
			return false
		}
		v, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			fmt.Printf("bad speed %q\n", fields[1])
			return false
		}
		player.SetSpeed(v)
		log.Info(ctx, "speed changed", logging.Float64("speed", player.Speed()))
	case "seek":
		if len(fields) < 2 {
			fmt.Println("usage: seek <seconds>")
			return false
		}
		v, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			fmt.Printf("bad time %q\n", fields[1])
			return false
		}
		player.Seek(v)
	case "quit", "exit":
		return true
	default:
		fmt.Printf("unknown command %q\n", fields[0])
	}
	return false
}

// readCommands feeds stdin lines into a channel, closing it on EOF.
func readCommands(r *os.File) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			ch <- strings.TrimSpace(scanner.Text())
		}
	}()
	return ch
}

func loadTrajectory(path string, rate float64) (*model.Trajectory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return model.LoadCSV(f, rate)
}

func serveMetrics(addr string, collector *observability.PlaybackCollector, log logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.String("error", err.Error()))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}

func shutdownMetrics(srv *http.Server) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
