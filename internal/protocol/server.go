// Copyright 2016 The PIO Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package protocol

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/periphlabs/ledshaderd/internal/kv"
	"github.com/periphlabs/ledshaderd/internal/ota"
	"github.com/periphlabs/ledshaderd/internal/outpipe"
	"github.com/periphlabs/ledshaderd/internal/render"
	"github.com/periphlabs/ledshaderd/internal/serverstate"
)

// acceptRetryDelay paces retry after a transient Accept error rather than
// crashing the process over one bad connection attempt.
const acceptRetryDelay = 200 * time.Millisecond

// Server accepts exactly one client at a time on the configured port. With
// RemapLogical set it reorders incoming v1/v2 payloads from logical
// (serpentine) order to physical order before handing them to the output
// pipeline; otherwise the payload is assumed to already be in physical order.
type Server struct {
	ln           net.Listener
	state        *serverstate.State
	pipeline     *outpipe.Pipeline
	orchestrator *render.Orchestrator
	kvStore      kv.Store
	ota          ota.Updater
	remapLogical bool
	log          zerolog.Logger
}

// Config bundles Server's collaborators.
type Config struct {
	State        *serverstate.State
	Pipeline     *outpipe.Pipeline
	Orchestrator *render.Orchestrator
	KV           kv.Store
	OTA          ota.Updater
	RemapLogical bool
	Logger       zerolog.Logger
}

// Listen opens the TCP listener on state.Port.
func Listen(cfg Config) (*Server, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.State.Port))
	if err != nil {
		return nil, fmt.Errorf("protocol: listen: %w", err)
	}
	return &Server{
		ln:           ln,
		state:        cfg.State,
		pipeline:     cfg.Pipeline,
		orchestrator: cfg.Orchestrator,
		kvStore:      cfg.KV,
		ota:          cfg.OTA,
		remapLogical: cfg.RemapLogical,
		log:          cfg.Logger,
	}, nil
}

// Addr returns the listener's bound address, useful when Config.State.Port
// was 0 (ephemeral port, mainly for tests).
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Close stops accepting new connections.
func (s *Server) Close() error { return s.ln.Close() }

// Serve runs the accept loop forever (or until Close), handling one client
// at a time: the previous client's connection must close (or error out)
// before the next Accept's connection is served.
func (s *Server) Serve() error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			s.log.Warn().Err(err).Msg("accept failed, retrying")
			time.Sleep(acceptRetryDelay)
			continue
		}
		s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	sess := &session{srv: s, conn: conn}
	if err := sess.run(); err != nil {
		s.log.Debug().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("session ended")
	}
}
