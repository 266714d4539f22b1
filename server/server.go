// Package server assembles the service: store, analyzers, embedder, index,
// orchestrator, control transport and the optional sidecars, and owns the
// process lifecycle.
package server

import (
	"context"
	"fmt"
	"time"

	"hibikido/cache"
	"hibikido/config"
	"hibikido/core/audio"
	"hibikido/core/embed"
	"hibikido/core/ingest"
	"hibikido/core/orchestra"
	"hibikido/core/retrieve"
	"hibikido/core/semantic"
	"hibikido/logger"
	"hibikido/model"
	"hibikido/monitor"
	"hibikido/osc"
	"hibikido/storage"
	"hibikido/store"
)

// Server is the assembled service.
type Server struct {
	cfg        *config.Config
	store      *store.Store
	retriever  *retrieve.Retriever
	orch       *orchestra.Orchestrator
	controller *Controller
	oscServer  *osc.Server
	oscClient  *osc.Client
	hub        *monitor.Hub
	monitorSrv *monitor.Server
	closers    []func() error

	cancel context.CancelFunc
	ctx    context.Context
}

// New builds the server from configuration. Optional subsystems (Redis
// cache, MinIO fetch, monitor, describer) come up only when configured.
func New(cfg *config.Config) (*Server, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{cfg: cfg, ctx: ctx, cancel: cancel}

	st, err := store.Open(cfg.Database.DataDir)
	if err != nil {
		cancel()
		return nil, err
	}
	s.store = st

	embedder, err := embed.New(cfg.Embedding)
	if err != nil {
		cancel()
		return nil, err
	}
	if cfg.Cache.Addr != "" {
		cached, err := cache.NewCachedEmbedder(cfg.Cache, embedder)
		if err != nil {
			cancel()
			return nil, err
		}
		s.closers = append(s.closers, cached.Close)
		embedder = cached
	}

	var fetcher audio.Fetcher
	if cfg.Storage.Endpoint != "" {
		mf, err := storage.NewMinioFetcher(cfg.Storage)
		if err != nil {
			cancel()
			return nil, err
		}
		fetcher = mf
	}
	source := audio.NewPCMSource(cfg.Audio.AudioDirectory, cfg.Audio.FFmpegPath, cfg.Audio.SampleRate, fetcher)
	analyzer := audio.NewAnalyzer(source)

	s.retriever = retrieve.New(st, embedder, cfg.Embedding.IndexFile)
	ingester := ingest.New(st, analyzer, s.retriever)

	s.oscClient = osc.NewClient(cfg.Transport.SendIP, cfg.Transport.SendPort)

	if cfg.Monitor.ListenAddr != "" {
		s.hub = monitor.NewHub()
	}

	s.orch = orchestra.New(cfg.Orchestrator.BarkSimilarityThreshold, s.emit, s.onExpire)

	controller, err := NewController(ctx, st, ingester, s.retriever, s.orch,
		s.oscClient, semantic.New(cfg.Semantic),
		cfg.Search.TopK, cfg.Search.MinScore, cancel)
	if err != nil {
		cancel()
		return nil, err
	}
	s.controller = controller

	s.oscServer = osc.NewServer(cfg.Transport.ListenIP, cfg.Transport.ListenPort, controller, s.oscClient)

	if s.hub != nil {
		s.monitorSrv = monitor.NewServer(cfg.Monitor.ListenAddr, s.hub, s.statsMap)
	}
	return s, nil
}

// emit is the orchestrator's delivery callback: the manifest goes to the
// control peer, the niche occupation to both the control peer and the
// monitor feed.
func (s *Server) emit(ann model.Announcement) error {
	err := s.oscClient.SendManifest(ann)
	barkNorm := audio.Normalize(ann.BarkRaw)
	s.oscClient.SendNiche(ann.SegmentID, barkNorm)
	if s.hub != nil {
		s.hub.Broadcast(monitor.NewEvent("manifest", ann))
		s.hub.Broadcast(monitor.NewEvent("niche", map[string]any{
			"segment_id": ann.SegmentID,
			"bark_norm":  barkNorm,
			"duration":   ann.Duration,
		}))
	}
	return err
}

func (s *Server) onExpire(segmentID int64) {
	if s.hub != nil {
		s.hub.Broadcast(monitor.NewEvent("expiry", map[string]any{
			"segment_id": segmentID,
		}))
	}
}

func (s *Server) statsMap() map[string]int {
	st := s.controller.CurrentStats()
	return map[string]int{
		"recordings":    st.Recordings,
		"segments":      st.Segments,
		"effects":       st.Effects,
		"presets":       st.Presets,
		"embeddings":    st.Embeddings,
		"active_niches": st.ActiveNiches,
		"queued":        st.Queued,
	}
}

// Run serves until Stop (the command or the method) or a listener failure.
// The ready confirmation goes out once all listeners are up.
func (s *Server) Run() error {
	tick := time.Duration(s.cfg.Orchestrator.TickIntervalSeconds * float64(time.Second))
	go s.orch.Run(s.ctx, tick)

	if s.hub != nil {
		go s.hub.Run()
		go func() {
			if err := s.monitorSrv.ListenAndServe(); err != nil {
				logger.Error("monitor listener failed", logger.ErrorField(err))
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.oscServer.ListenAndServe()
	}()

	// The listener goroutine needs a moment to bind before the ready
	// signal is meaningful.
	time.Sleep(100 * time.Millisecond)
	s.oscClient.SendConfirm("hibikido_server_ready")
	logger.Info("serving",
		logger.String("listen", fmt.Sprintf("%s:%d", s.cfg.Transport.ListenIP, s.cfg.Transport.ListenPort)),
		logger.String("send", fmt.Sprintf("%s:%d", s.cfg.Transport.SendIP, s.cfg.Transport.SendPort)))

	select {
	case <-s.ctx.Done():
		return s.Close()
	case err := <-errCh:
		s.Close()
		return err
	}
}

// Shutdown requests a clean stop; Run performs the actual teardown.
func (s *Server) Shutdown() { s.cancel() }

// Close persists state and shuts every subsystem down.
func (s *Server) Close() error {
	s.cancel()

	ctx, release := context.WithTimeout(context.Background(), 5*time.Second)
	defer release()

	if err := s.oscServer.Close(ctx); err != nil {
		logger.Warn("control listener close failed", logger.ErrorField(err))
	}
	if s.monitorSrv != nil {
		if err := s.monitorSrv.Shutdown(ctx); err != nil {
			logger.Warn("monitor shutdown failed", logger.ErrorField(err))
		}
	}
	if s.hub != nil {
		s.hub.Stop()
	}

	var firstErr error
	if err := s.retriever.Persist(); err != nil {
		firstErr = err
	}
	if err := s.store.FlushAll(); err != nil && firstErr == nil {
		firstErr = err
	}
	for _, closeFn := range s.closers {
		if err := closeFn(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	logger.Info("shutdown complete")
	return firstErr
}
