// Copyright 2016 The PIO Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// ledshaderd is the networked LED shader controller daemon: it boots a
// panel layout, an output pipeline, the bytecode VM, and the TCP control
// protocol server, then runs the render loop until told to stop.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/periphlabs/ledshaderd/internal/kv"
	"github.com/periphlabs/ledshaderd/internal/layout"
	"github.com/periphlabs/ledshaderd/internal/native"
	"github.com/periphlabs/ledshaderd/internal/ota"
	"github.com/periphlabs/ledshaderd/internal/outpipe"
	"github.com/periphlabs/ledshaderd/internal/protocol"
	"github.com/periphlabs/ledshaderd/internal/render"
	"github.com/periphlabs/ledshaderd/internal/serverstate"
	"github.com/periphlabs/ledshaderd/internal/telemetry"
	"github.com/periphlabs/ledshaderd/internal/vm"
)

// config holds every build-time default, overridable by flag.
type config struct {
	port         int
	width        int
	height       int
	serpentine   bool
	segments     string
	gammaX100    int
	remapLogical bool
	gpioChip     string
	kvDir        string
	otaStaging   string
	otaFinal     string
	rebootCmd    string
	metricsAddr  string
	verbose      bool
}

func parseFlags(args []string) (config, error) {
	fs := flag.NewFlagSet("ledshaderd", flag.ContinueOnError)
	var cfg config
	fs.IntVar(&cfg.port, "port", 7777, "TCP control port")
	fs.IntVar(&cfg.width, "width", 30, "panel width in logical pixels")
	fs.IntVar(&cfg.height, "height", 40, "panel height in logical pixels")
	fs.BoolVar(&cfg.serpentine, "serpentine", true, "odd columns wired bottom-to-top")
	fs.StringVar(&cfg.segments, "segments", "GPIO17:400,GPIO27:400,GPIO22:400",
		"comma-separated gpio:led_count pairs, one per segment, in wiring order")
	fs.IntVar(&cfg.gammaX100, "gamma", 280, "gamma exponent times 100 (280 = gamma 2.80, 100 = identity)")
	fs.BoolVar(&cfg.remapLogical, "remap-logical", false, "remap v1/v2 frame payloads from logical to physical order")
	fs.StringVar(&cfg.gpioChip, "gpio-chip", "gpiochip0", "gpiochip device backing the segment output lines")
	fs.StringVar(&cfg.kvDir, "kv-dir", "/var/lib/ledshaderd/kv", "directory backing the default-shader persistence store")
	fs.StringVar(&cfg.otaStaging, "ota-staging", "/var/lib/ledshaderd/ota.staging", "path firmware uploads are streamed into before being finalized")
	fs.StringVar(&cfg.otaFinal, "ota-final", "/var/lib/ledshaderd/ota.img", "path the finalized firmware image is renamed to")
	fs.StringVar(&cfg.rebootCmd, "reboot-cmd", "/sbin/reboot", "command exec'd after a successful firmware upload")
	fs.StringVar(&cfg.metricsAddr, "metrics-addr", ":9100", "address the Prometheus /metrics endpoint listens on")
	fs.BoolVar(&cfg.verbose, "v", false, "debug-level logging")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}
	if fs.NArg() != 0 {
		return config{}, errors.New("unexpected argument, try -help")
	}
	return cfg, nil
}

// parseSegments turns "GPIO17:400,GPIO27:400" into layout segments plus the
// numeric gpiochip line offset NewGPIODriver needs for each, in order.
func parseSegments(spec string) ([]layout.Segment, []int, error) {
	parts := strings.Split(spec, ",")
	segs := make([]layout.Segment, 0, len(parts))
	pins := make([]int, 0, len(parts))
	for _, part := range parts {
		fields := strings.SplitN(strings.TrimSpace(part), ":", 2)
		if len(fields) != 2 {
			return nil, nil, fmt.Errorf("ledshaderd: bad segment %q, want gpio:led_count", part)
		}
		count, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, nil, fmt.Errorf("ledshaderd: bad led_count in segment %q: %w", part, err)
		}
		offset, err := gpioOffset(fields[0])
		if err != nil {
			return nil, nil, err
		}
		segs = append(segs, layout.Segment{GPIO: fields[0], LEDCount: count})
		pins = append(pins, offset)
	}
	return segs, pins, nil
}

// gpioOffset extracts the trailing digits of a label like "GPIO17" into the
// numeric gpiochip line offset gpiocdev.RequestLine expects.
func gpioOffset(label string) (int, error) {
	i := len(label)
	for i > 0 && label[i-1] >= '0' && label[i-1] <= '9' {
		i--
	}
	if i == len(label) {
		return 0, fmt.Errorf("ledshaderd: gpio label %q has no numeric offset", label)
	}
	return strconv.Atoi(label[i:])
}

// loadPersistedDefault attempts to restore a previously persisted default
// shader: "not found" is not a fault, any other persistence-read error
// latches DefaultShaderFaulted, and an unparseable blob is erased so a
// known-bad entry isn't retried on every boot.
func loadPersistedDefault(st *serverstate.State, store kv.Store, log zerolog.Logger) {
	if err := store.Open(kv.DefaultNamespace, false); err != nil {
		st.Lock()
		st.DefaultShaderFaulted = true
		st.Unlock()
		log.Error().Err(err).Msg("default-shader kv open failed")
		return
	}
	defer store.Close()

	size, err := store.GetBlobSize(kv.DefaultKey)
	if errors.Is(err, kv.ErrNotFound) {
		log.Info().Msg("no persisted default shader")
		return
	}
	if err != nil {
		st.Lock()
		st.DefaultShaderFaulted = true
		st.Unlock()
		log.Error().Err(err).Msg("default-shader size query failed")
		return
	}

	buf := make([]byte, size)
	if _, err := store.GetBlob(kv.DefaultKey, buf); err != nil {
		st.Lock()
		st.DefaultShaderFaulted = true
		st.Unlock()
		log.Error().Err(err).Msg("default-shader read failed")
		return
	}

	prog, err := vm.Load(buf)
	if err != nil {
		log.Error().Err(err).Msg("persisted default shader failed to parse, erasing")
		_ = store.Open(kv.DefaultNamespace, true)
		_ = store.Erase(kv.DefaultKey)
		st.Lock()
		st.DefaultShaderFaulted = true
		st.DefaultPersisted = false
		st.Unlock()
		return
	}

	st.Lock()
	st.Blob = buf
	st.Program = prog
	st.HasUploadedProgram = true
	st.DefaultPersisted = true
	st.Runtime = vm.NewRuntime(prog, st.Layout.Width, st.Layout.Height)
	st.Source = serverstate.SourceBytecode
	st.Active = true
	st.Unlock()
	log.Info().Int("bytes", size).Msg("persisted default shader activated")
}

func mainImpl() error {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		return err
	}

	level := zerolog.InfoLevel
	if cfg.verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()

	segs, pins, err := parseSegments(cfg.segments)
	if err != nil {
		return err
	}
	lay := layout.Layout{
		Width:             cfg.width,
		Height:            cfg.height,
		SerpentineColumns: cfg.serpentine,
		Segments:          segs,
	}
	if err := lay.Validate(); err != nil {
		return fmt.Errorf("ledshaderd: layout: %w", err)
	}

	st := serverstate.New(lay, cfg.port, vm.MaxBytecodeBlob)

	driver := outpipe.NewGPIODriver(cfg.gpioChip, pins)
	pipeline, err := outpipe.Init(driver, &st.Layout, cfg.gammaX100)
	if err != nil {
		return fmt.Errorf("ledshaderd: output pipeline: %w", err)
	}

	orchestrator := render.New(st, pipeline, native.SolidWhite, log)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info().Msg("playing startup sequence")
	if err := orchestrator.PlayStartupSequence(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Warn().Err(err).Msg("startup sequence interrupted")
	}

	kvStore := kv.NewFileStore(cfg.kvDir)
	loadPersistedDefault(st, kvStore, log)

	rebootFields := strings.Fields(cfg.rebootCmd)
	var rebootCmd []string
	if len(rebootFields) > 0 {
		rebootCmd = rebootFields
	}
	otaUpdater := ota.NewFileUpdater(cfg.otaStaging, cfg.otaFinal, rebootCmd)

	srv, err := protocol.Listen(protocol.Config{
		State:        st,
		Pipeline:     pipeline,
		Orchestrator: orchestrator,
		KV:           kvStore,
		OTA:          otaUpdater,
		RemapLogical: cfg.remapLogical,
		Logger:       log,
	})
	if err != nil {
		return fmt.Errorf("ledshaderd: listen: %w", err)
	}
	defer srv.Close()
	log.Info().Str("addr", srv.Addr().String()).Msg("control protocol listening")

	metrics := telemetry.New()
	go func() {
		if err := telemetry.Serve(ctx, cfg.metricsAddr, metrics); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn().Err(err).Msg("metrics server stopped")
		}
	}()
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				metrics.Sample(st)
			}
		}
	}()

	go runRenderLoop(ctx, orchestrator, log)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve() }()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// runRenderLoop drives Orchestrator.Tick on the fixed render cadence,
// yielding on a ticker between frames rather than busy-polling.
func runRenderLoop(ctx context.Context, o *render.Orchestrator, log zerolog.Logger) {
	ticker := time.NewTicker(render.FrameInterval)
	defer ticker.Stop()
	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			timeSec := float32(now.Sub(start).Seconds())
			if err := o.Tick(now, timeSec); err != nil {
				log.Debug().Err(err).Msg("render tick failed")
			}
		}
	}
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "ledshaderd: %s.\n", err)
		os.Exit(1)
	}
}
