// Copyright 2016 The PIO Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package telemetry exposes the render loop's slow-frame and activation
// counters as Prometheus gauges on an internal HTTP endpoint, separate from
// the TCP control port: the same FrameCounter/SlowFrameCount/LastSlowMS
// fields QUERY_DEFAULT_HOOK already reports over the wire are also made
// scrapeable.
package telemetry

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/periphlabs/ledshaderd/internal/serverstate"
)

// Metrics owns a private Prometheus registry (never the global
// DefaultRegisterer) so importing this package can never collide with a
// host process's own metrics namespace.
type Metrics struct {
	registry *prometheus.Registry

	framesRendered  prometheus.Gauge
	slowFrames      prometheus.Gauge
	lastSlowFrameMS prometheus.Gauge
	shaderActive    prometheus.Gauge
	shaderSource    prometheus.Gauge
}

// New builds and registers the gauge set.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		framesRendered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ledshaderd",
			Name:      "frames_rendered_total",
			Help:      "Frame counter since the current shader was activated.",
		}),
		slowFrames: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ledshaderd",
			Name:      "slow_frames_total",
			Help:      "Count of render ticks that exceeded the 200ms slow-frame threshold.",
		}),
		lastSlowFrameMS: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ledshaderd",
			Name:      "last_slow_frame_ms",
			Help:      "Wall-clock duration of the most recent slow render tick, in milliseconds.",
		}),
		shaderActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ledshaderd",
			Name:      "shader_active",
			Help:      "1 if a shader (bytecode or native) is currently active, 0 otherwise.",
		}),
		shaderSource: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ledshaderd",
			Name:      "shader_source",
			Help:      "Active shader source: 0=none, 1=bytecode, 2=native.",
		}),
	}
	m.registry.MustRegister(
		m.framesRendered,
		m.slowFrames,
		m.lastSlowFrameMS,
		m.shaderActive,
		m.shaderSource,
	)
	return m
}

// Sample reads the current counters off st under its lock and updates the
// gauges. Called by a background poller rather than from the render tick
// itself, so a scrape never competes with the render loop for st's mutex
// beyond a single brief Lock/Unlock.
func (m *Metrics) Sample(st *serverstate.State) {
	st.Lock()
	frames := st.FrameCounter
	slow := st.SlowFrameCount
	lastSlowMS := st.LastSlowMS
	active := st.Active
	source := st.Source
	st.Unlock()

	m.framesRendered.Set(float64(frames))
	m.slowFrames.Set(float64(slow))
	m.lastSlowFrameMS.Set(float64(lastSlowMS))
	if active {
		m.shaderActive.Set(1)
	} else {
		m.shaderActive.Set(0)
	}
	m.shaderSource.Set(float64(source))
}

// Handler returns the scrape endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve runs an HTTP server exposing Handler at /metrics on addr until ctx
// is canceled.
func Serve(ctx context.Context, addr string, m *Metrics) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}
