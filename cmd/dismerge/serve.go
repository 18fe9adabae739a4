package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/dismerge/internal/node"
	"github.com/cuemby/dismerge/internal/sync"
	"github.com/cuemby/dismerge/pkg/log"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	healthgrpc "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// runServe builds and runs one node: loads or bootstraps its Document,
// starts the peer sync listener, the health/metrics listener and the
// client-facing gRPC listener, and blocks until it receives
// SIGINT/SIGTERM or a listener fails.
func runServe(cmd *cobra.Command, args []string) error {
	logger := log.WithComponent("main")

	fc, err := loadFileConfig(cmd)
	if err != nil {
		return err
	}
	cfg, err := buildNodeConfig(cmd, fc)
	if err != nil {
		return err
	}

	n, err := node.New(cfg)
	if err != nil {
		return fmt.Errorf("build node: %w", err)
	}

	peerTLS, err := loadTLSConfig(peerTLSFiles(cmd, fc))
	if err != nil {
		return err
	}
	transport := sync.NewHTTPTransport()
	if peerTLS != nil {
		transport.Client.Transport = &http.Transport{TLSClientConfig: peerTLS}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := n.Start(ctx, transport); err != nil {
		return fmt.Errorf("start node: %w", err)
	}
	defer n.Stop()

	errCh := make(chan error, 3)
	var httpServers []*http.Server

	peerMux := http.NewServeMux()
	peerMux.HandleFunc("/internal/sync", sync.NewSyncHandler(n.Actor()))
	peerMux.HandleFunc("/internal/members", sync.NewMemberListHandler(n.Actor()))
	peerSrv, err := serveHTTP(cfg.ListenPeerURLs, peerMux, peerTLS, errCh)
	if err != nil {
		return fmt.Errorf("listen on peer urls: %w", err)
	}
	httpServers = append(httpServers, peerSrv...)

	metricsSrv, err := serveHTTP(cfg.ListenMetricsURLs, n.HealthServer().Handler(), nil, errCh)
	if err != nil {
		return fmt.Errorf("listen on metrics urls: %w", err)
	}
	httpServers = append(httpServers, metricsSrv...)

	clientTLS, err := loadTLSConfig(clientTLSFiles(cmd, fc))
	if err != nil {
		return err
	}
	grpcServer := newGRPCServer(clientTLS, n)
	if err := serveGRPC(grpcServer, cfg.ListenClientURLs, errCh); err != nil {
		return fmt.Errorf("listen on client urls: %w", err)
	}

	logger.Info().
		Strs("client_urls", cfg.ListenClientURLs).
		Strs("peer_urls", cfg.ListenPeerURLs).
		Strs("metrics_urls", cfg.ListenMetricsURLs).
		Msg("dismerge node serving")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("listener error")
	}

	grpcServer.GracefulStop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	for _, s := range httpServers {
		_ = s.Shutdown(shutdownCtx)
	}

	return nil
}

// newGRPCServer builds the client-facing gRPC server and registers the
// standard gRPC health-checking service against node readiness.
// Registering the etcd-shaped KV/Lease/Watch/Cluster services themselves
// needs generated stubs this exercise has no way to produce (internal/
// router's doc comment and DESIGN.md record the reasoning) — Router's
// methods are what that registration would call into once those stubs
// exist.
func newGRPCServer(tlsCfg *tls.Config, n *node.Node) *grpc.Server {
	var opts []grpc.ServerOption
	if tlsCfg != nil {
		opts = append(opts, grpc.Creds(credentials.NewTLS(tlsCfg)))
	}
	srv := grpc.NewServer(opts...)

	hs := healthgrpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	go watchReadiness(n, hs)

	return srv
}

// watchReadiness polls Node readiness and republishes it to the gRPC
// health service, since health.Server has no change-notification hook to
// push from instead.
func watchReadiness(n *node.Node, hs *healthgrpc.Server) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		status := healthpb.HealthCheckResponse_NOT_SERVING
		if n.IsReady() {
			status = healthpb.HealthCheckResponse_SERVING
		}
		hs.SetServingStatus("", status)
	}
}

func serveGRPC(srv *grpc.Server, urls []string, errCh chan<- error) error {
	for _, u := range urls {
		addr, err := hostPort(u)
		if err != nil {
			return err
		}
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", addr, err)
		}
		l := lis
		go func() {
			if err := srv.Serve(l); err != nil {
				errCh <- fmt.Errorf("gRPC server on %s: %w", l.Addr(), err)
			}
		}()
	}
	return nil
}

// serveHTTP opens a net.Listener for every url (wrapped in tlsCfg if
// non-nil) and serves handler on it in the background, returning the
// *http.Server values so the caller can Shutdown them later.
func serveHTTP(urls []string, handler http.Handler, tlsCfg *tls.Config, errCh chan<- error) ([]*http.Server, error) {
	servers := make([]*http.Server, 0, len(urls))
	for _, u := range urls {
		addr, err := hostPort(u)
		if err != nil {
			return nil, err
		}
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("listen on %s: %w", addr, err)
		}
		if tlsCfg != nil {
			lis = tls.NewListener(lis, tlsCfg)
		}
		srv := &http.Server{Handler: handler}
		servers = append(servers, srv)
		l := lis
		go func() {
			if err := srv.Serve(l); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("HTTP server on %s: %w", l.Addr(), err)
			}
		}()
	}
	return servers, nil
}

// hostPort strips the scheme from an etcd-style listen URL
// ("http://127.0.0.1:2380" -> "127.0.0.1:2380"); dismerge's TLS
// configuration is driven by the cert_file/key_file flags, not the URL
// scheme.
func hostPort(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	if parsed.Host == "" {
		return rawURL, nil
	}
	return parsed.Host, nil
}
