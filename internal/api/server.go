package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

// Options configures the listeners of a Server.
type Options struct {
	HTTPAddr string
	GRPCAddr string
	// ShutdownTimeout bounds the graceful shutdown. Zero means 10 seconds.
	ShutdownTimeout time.Duration
}

// Server is the main API server that hosts HTTP and gRPC endpoints.
type Server struct {
	opts   Options
	engine *gin.Engine
	http   *http.Server
	grpc   *grpc.Server
	log    *slog.Logger
}

// NewServer builds the HTTP routes and the gRPC service for svc. The gin
// mode is left to the caller.
func NewServer(svc *Service, opts Options, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(log))
	(&handler{svc: svc}).register(engine)

	gs := grpc.NewServer(grpc.ChainUnaryInterceptor(unaryLogger(log)))
	RegisterBacktestService(gs, &grpcService{svc: svc})

	return &Server{
		opts:   opts,
		engine: engine,
		http: &http.Server{
			Addr:              opts.HTTPAddr,
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
		grpc: gs,
		log:  log,
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

// GRPC returns the gRPC server.
func (s *Server) GRPC() *grpc.Server { return s.grpc }

// ListenAndServe starts the HTTP and gRPC listeners and blocks until the
// context is cancelled or a fatal error occurs. An empty address disables
// that listener.
func (s *Server) ListenAndServe(ctx context.Context) error {
	var httpLn, grpcLn net.Listener
	var err error
	if s.opts.HTTPAddr != "" {
		if httpLn, err = net.Listen("tcp", s.opts.HTTPAddr); err != nil {
			return fmt.Errorf("listening on %s: %w", s.opts.HTTPAddr, err)
		}
	}
	if s.opts.GRPCAddr != "" {
		if grpcLn, err = net.Listen("tcp", s.opts.GRPCAddr); err != nil {
			if httpLn != nil {
				httpLn.Close()
			}
			return fmt.Errorf("listening on %s: %w", s.opts.GRPCAddr, err)
		}
	}
	return s.Serve(ctx, httpLn, grpcLn)
}

// Serve serves HTTP on httpLn and gRPC on grpcLn until ctx is cancelled,
// then shuts both down gracefully. Either listener may be nil.
func (s *Server) Serve(ctx context.Context, httpLn, grpcLn net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)
	if httpLn != nil {
		s.log.Info("http server listening", "addr", httpLn.Addr().String())
		g.Go(func() error {
			if err := s.http.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
	}
	if grpcLn != nil {
		s.log.Info("grpc server listening", "addr", grpcLn.Addr().String())
		g.Go(func() error {
			if err := s.grpc.Serve(grpcLn); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		return s.Shutdown(sctx)
	})
	return g.Wait()
}

// Shutdown performs a graceful shutdown of the HTTP and gRPC servers. When
// ctx expires first, remaining gRPC calls are cancelled.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down servers")
	err := s.http.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.grpc.Stop()
		<-done
	}
	if err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// requestLogger logs one line per HTTP request.
func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		log.Info("http request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
		)
	}
}
