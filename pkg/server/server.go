// Package dns is the transport layer: UDP, TCP, and DNS-over-TLS
// listeners that decode wire-format queries and hand them to a
// queryengine.Engine, then re-encode and write back whatever it returns.
// It owns no resolution logic of its own.
package dns

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"sync"

	"vantage/pkg/config"
	"vantage/pkg/logging"
	"vantage/pkg/queryengine"
	"vantage/pkg/wire"
)

const maxUDPPacket = 4096

// Server owns the network listeners. One handler services all of them.
type Server struct {
	cfg     *config.Config
	handler *Handler
	logger  *logging.Logger
	tls     *tlsResources

	udpConn net.PacketConn
	tcpLis  net.Listener
	dotLis  net.Listener

	mu      sync.RWMutex
	running bool
	wg      sync.WaitGroup
}

// NewServer builds a Server around an already-wired query engine.
// cfg.UpstreamDNSServers is passed through only for the ACME DNS-01
// challenge path.
func NewServer(cfg *config.Config, engine *queryengine.Engine, logger *logging.Logger) (*Server, error) {
	tlsRes, err := buildTLSResources(&cfg.Server, cfg.UpstreamDNSServers, logger)
	if err != nil {
		return nil, fmt.Errorf("build TLS resources: %w", err)
	}
	return &Server{
		cfg:     cfg,
		handler: NewHandler(engine, logger),
		logger:  logger,
		tls:     tlsRes,
	}, nil
}

// Start opens the configured listeners and blocks until ctx is canceled
// or a listener fails, at which point it shuts everything else down.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.mu.Unlock()

	errCh := make(chan error, 3)

	if s.cfg.Server.UDPEnabled {
		conn, err := net.ListenPacket("udp", s.cfg.Server.ListenAddress)
		if err != nil {
			return fmt.Errorf("listen udp: %w", err)
		}
		s.udpConn = conn
		s.wg.Add(1)
		go s.serveUDP(ctx, errCh)
	}

	if s.cfg.Server.TCPEnabled {
		lis, err := net.Listen("tcp", s.cfg.Server.ListenAddress)
		if err != nil {
			return fmt.Errorf("listen tcp: %w", err)
		}
		s.tcpLis = lis
		s.wg.Add(1)
		go s.serveTCP(ctx, lis, errCh)
	}

	if s.cfg.Server.DotEnabled && s.tls != nil && s.tls.TLSConfig != nil {
		lis, err := tls.Listen("tcp", s.cfg.Server.DotAddress, s.tls.TLSConfig)
		if err != nil {
			return fmt.Errorf("listen dot: %w", err)
		}
		s.dotLis = lis
		s.wg.Add(1)
		go s.serveTCP(ctx, lis, errCh)

		if s.tls.ACMEHTTPServer != nil {
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				if err := s.tls.ACMEHTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- fmt.Errorf("acme http-01 server: %w", err)
				}
			}()
		}
	}

	s.logger.Info("DNS server started",
		"address", s.cfg.Server.ListenAddress,
		"udp", s.cfg.Server.UDPEnabled,
		"tcp", s.cfg.Server.TCPEnabled,
		"dot", s.cfg.Server.DotEnabled,
	)

	select {
	case <-ctx.Done():
		s.logger.Info("DNS server shutting down")
		return s.Shutdown(context.Background())
	case err := <-errCh:
		s.logger.Error("DNS server error", "error", err)
		return err
	}
}

func (s *Server) serveUDP(ctx context.Context, errCh chan<- error) {
	defer s.wg.Done()
	buf := make([]byte, maxUDPPacket)
	for {
		n, addr, err := s.udpConn.ReadFrom(buf)
		if err != nil {
			if s.isShuttingDown() {
				return
			}
			errCh <- fmt.Errorf("udp read: %w", err)
			return
		}
		pkt := append([]byte(nil), buf[:n]...)
		go s.handleUDPPacket(ctx, addr, pkt)
	}
}

func (s *Server) handleUDPPacket(ctx context.Context, addr net.Addr, pkt []byte) {
	clientIP := clientIPFromAddr(addr)
	out := s.handler.HandleUDP(ctx, clientIP, pkt)
	if out == nil {
		return
	}
	if _, err := s.udpConn.WriteTo(out, addr); err != nil {
		s.logger.Debug("server: udp write failed", "client", clientIP, "error", err)
	}
}

func (s *Server) serveTCP(ctx context.Context, lis net.Listener, errCh chan<- error) {
	defer s.wg.Done()
	for {
		conn, err := lis.Accept()
		if err != nil {
			if s.isShuttingDown() {
				return
			}
			errCh <- fmt.Errorf("tcp accept: %w", err)
			return
		}
		go s.handleTCPConn(ctx, conn)
	}
}

func (s *Server) handleTCPConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	clientIP := clientIPFromAddr(conn.RemoteAddr())
	for {
		pkt, err := wire.ReadTCP(conn)
		if err != nil {
			return
		}
		out, err := s.handler.HandleTCP(ctx, clientIP, pkt)
		if err != nil {
			s.logger.Debug("server: dropping malformed TCP query", "client", clientIP, "error", err)
			return
		}
		if err := wire.WriteTCP(conn, out); err != nil {
			s.logger.Debug("server: tcp write failed", "client", clientIP, "error", err)
			return
		}
	}
}

func (s *Server) isShuttingDown() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.running
}

// Shutdown closes every open listener and waits for in-flight connection
// loops to exit. Safe to call even if Start returned via ctx.Done already.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("shutting down DNS server")

	var errs []error
	if s.udpConn != nil {
		if err := s.udpConn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.tcpLis != nil {
		if err := s.tcpLis.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.dotLis != nil {
		if err := s.dotLis.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.tls != nil && s.tls.ACMEHTTPServer != nil {
		_ = s.tls.ACMEHTTPServer.Shutdown(ctx)
	}
	if s.tls != nil && s.tls.ACMERenewer != nil {
		s.tls.ACMERenewer.Stop()
	}

	s.wg.Wait()

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	s.logger.Info("DNS server shut down")
	return nil
}

// IsRunning reports whether the server's listeners are currently active.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}
