package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/warren/internal/core"
	"github.com/cuemby/warren/internal/entry"
	"github.com/cuemby/warren/internal/identity"
	"github.com/cuemby/warren/internal/log"
	"github.com/cuemby/warren/internal/materializer"
	"github.com/cuemby/warren/internal/operation"
	"github.com/cuemby/warren/internal/replication"
	"github.com/cuemby/warren/internal/scheduler"
	"github.com/cuemby/warren/internal/schema"
	"github.com/cuemby/warren/internal/store"
	"github.com/cuemby/warren/internal/transport"
	"github.com/cuemby/warren/internal/transport/grpcadapter"
	"github.com/cuemby/warren/internal/wire"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exit codes per spec §6.
const (
	exitOK             = 0
	exitConfigError    = 1
	exitCriticalTask   = 2
	exitStorageFailure = 3
)

func runNode(cfg Config) int {
	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})
	logger := log.WithComponent("node")

	kp, err := identity.LoadOrGenerateKeyPair(cfg.PrivateKeyPath)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load or generate identity key pair")
		return exitConfigError
	}
	logger.Info().Str("public_key", kp.Public.String()).Msg("identity loaded")

	s, err := store.NewBoltStore(cfg.DatabaseURL)
	if err != nil {
		logger.Error().Err(err).Msg("failed to open store")
		return exitStorageFailure
	}
	defer s.Close()

	registry := schema.NewRegistry()
	mat := materializer.New(s, registry, cfg.BlobsBasePath)

	sched := scheduler.New(s)
	sched.RegisterPool("reduce", cfg.WorkerPoolSize, mat.Reduce)
	sched.RegisterPool("dependency", cfg.WorkerPoolSize, mat.Dependency)
	sched.RegisterPool("schema", cfg.WorkerPoolSize, mat.Schema)
	sched.RegisterPool("blob", cfg.WorkerPoolSize, mat.Blob)
	sched.RegisterPool("garbage", 1, mat.Garbage)
	if err := sched.Start(); err != nil {
		logger.Error().Err(err).Msg("failed to start scheduler")
		return exitStorageFailure
	}
	defer sched.Stop()

	// ingest bridges core.Ingest's durable task enqueue (store.PublishEntry
	// always writes a pending "reduce" row, for crash recovery) into the
	// already-running scheduler's in-memory queue, which a store write
	// alone never wakes up.
	ingest := func(e *entry.Entry, op *operation.Operation) error {
		args, err := core.Ingest(s, registry, e, op)
		if err != nil {
			return err
		}
		sched.Submit(scheduler.Task{Name: "reduce", Input: store.TaskInput{Kind: store.DocumentInput, DocumentID: args.DocumentID}})
		return nil
	}

	localSet := resolveTargetSet(cfg.AllowSchemaIDs, registry)
	allow := resolvePeerIDSet(cfg.AllowPeerIDs)
	block := resolvePeerIDSet(cfg.BlockPeerIDs)
	pm := replication.NewPeerManager(allow, block)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.QuicPort))
	if err != nil {
		logger.Error().Err(err).Msg("failed to bind replication listener")
		return exitConfigError
	}
	grpcSrv := grpcadapter.NewServer(256)
	go func() {
		if err := grpcSrv.Serve(lis); err != nil {
			logger.Warn().Err(err).Msg("replication server stopped")
		}
	}()
	defer grpcSrv.GracefulStop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	selfID := kp.Public.String()
	go acceptReplicationSessions(ctx, grpcSrv, selfID, localSet, pm, s, ingest, cfg.ReplicationStrategy)
	for _, addr := range cfg.DirectNodeAddrs {
		go dialPeer(ctx, addr, selfID, localSet, s, ingest, cfg.ReplicationStrategy)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	httpSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.HTTPPort), Handler: mux}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn().Err(err).Msg("http server stopped")
		}
	}()

	logger.Info().Int("http_port", cfg.HTTPPort).Int("replication_port", cfg.QuicPort).Msg("node running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	cancel()

	return exitOK
}

// resolveTargetSet concretizes a wildcard allow-list against the
// current registry contents, since the replication engine's session
// strategy needs a concrete schema-id set, not a wildcard flag, by the
// time it computes Have (see internal/replication/logheight.go).
func resolveTargetSet(allow []string, registry *schema.Registry) replication.TargetSet {
	for _, id := range allow {
		if id == "*" {
			all := registry.All()
			ids := make([]string, 0, len(all))
			for _, sch := range all {
				ids = append(ids, sch.ID)
			}
			return replication.NewTargetSet(ids)
		}
	}
	return replication.NewTargetSet(allow)
}

func resolvePeerIDSet(ids []string) replication.PeerIDSet {
	for _, id := range ids {
		if id == "*" {
			return replication.WildcardPeerIDSet()
		}
	}
	return replication.NewPeerIDSet(ids)
}

// acceptReplicationSessions demultiplexes the shared server transport's
// single inbox by peer id, since multiple peers' responders would
// otherwise race to drain the same channel and steal each other's
// frames. The first envelope seen from a peer id spawns a dedicated
// responder fed by a per-peer filtered transport; later envelopes from
// that peer are routed to its channel instead of starting another one.
func acceptReplicationSessions(ctx context.Context, t transport.Transport, selfID string, localSet replication.TargetSet, pm *replication.PeerManager, s store.Store, ingest replication.IngestFunc, strategy string) {
	logger := log.WithComponent("replication.accept")
	peers := make(map[string]chan transport.Envelope)
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-t.Inbox():
			if !ok {
				return
			}
			ch, known := peers[env.PeerID]
			if !known {
				ch = make(chan transport.Envelope, 256)
				peers[env.PeerID] = ch
				pt := &peerTransport{underlying: t, inbox: ch}
				go func(peerID string) {
					var err error
					if strategy == "set_reconciliation" {
						_, err = replication.RunSetReconResponder(ctx, pt, peerID, localSet, pm, s, ingest, true)
					} else {
						_, err = replication.RunLogHeightResponder(ctx, pt, peerID, localSet, pm, s, ingest, true)
					}
					if err != nil {
						logger.Warn().Err(err).Str("peer", peerID).Msg("replication session ended")
					}
				}(env.PeerID)
			}
			select {
			case ch <- env:
			default:
				logger.Warn().Str("peer", env.PeerID).Msg("peer inbox full, dropping frame")
			}
		}
	}
}

// peerTransport filters a shared transport's inbox down to one peer's
// frames, forwarding sends straight through to the underlying transport.
type peerTransport struct {
	underlying transport.Transport
	inbox      chan transport.Envelope
}

func (p *peerTransport) Send(ctx context.Context, peerID string, msg wire.SyncMessage) error {
	return p.underlying.Send(ctx, peerID, msg)
}

func (p *peerTransport) Inbox() <-chan transport.Envelope { return p.inbox }

func (p *peerTransport) Close() error { return nil }

// dialPeer maintains a single outbound replication session with addr,
// reconnecting with a fixed backoff on failure.
func dialPeer(ctx context.Context, addr, selfID string, localSet replication.TargetSet, s store.Store, ingest replication.IngestFunc, strategy string) {
	logger := log.WithComponent("replication.dial").With().Str("addr", addr).Logger()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		// The remote peer's identity key isn't known until the session
		// handshake completes, so addr doubles as its label here; it only
		// tags inbox envelopes and the session record, never routes frames
		// (see grpcadapter.Client.Send).
		client, err := grpcadapter.Dial(ctx, addr, selfID, addr)
		if err != nil {
			logger.Warn().Err(err).Msg("dial failed, retrying")
			time.Sleep(5 * time.Second)
			continue
		}
		if strategy == "set_reconciliation" {
			_, err = replication.RunSetReconInitiator(ctx, client, addr, localSet, s, ingest, true)
		} else {
			_, err = replication.RunLogHeightInitiator(ctx, client, addr, localSet, s, ingest, true)
		}
		client.Close()
		if err != nil {
			logger.Warn().Err(err).Msg("replication session ended")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}
