package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"time"

	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/tendermint/sharedmempool/config"
	"github.com/tendermint/sharedmempool/libs/log"
)

const (
	readHeaderTimeout = 10 * time.Second
	writeTimeout      = 10 * time.Second
	shutdownTimeout   = 5 * time.Second
	maxHeaderBytes    = 1 << 20
)

// Server is an HTTP server exposing an Environment.
type Server struct {
	Logger  log.Logger
	Config  *config.RPCConfig
	Handler http.Handler
}

// Listen starts a new TCP listener on the given address, limited to
// maxOpenConnections simultaneous connections when that is positive.
func Listen(addr string, maxOpenConnections int) (net.Listener, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %v: %w", addr, err)
	}
	if maxOpenConnections > 0 {
		listener = netutil.LimitListener(listener, maxOpenConnections)
	}
	return listener, nil
}

// Serve accepts connections on listener until ctx is done, then shuts the
// server down gracefully. It returns nil after a clean shutdown.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	srv := &http.Server{
		Handler:           RecoverAndLogHandler(s.Handler, s.Logger),
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
		MaxHeaderBytes:    maxHeaderBytes,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	g.Go(func() error {
		s.Logger.Info("RPC HTTP server starting", "address", listener.Addr().String())
		err := srv.Serve(listener)
		if errors.Is(err, http.ErrServerClosed) {
			s.Logger.Info("RPC HTTP server stopped", "address", listener.Addr().String())
			return nil
		}
		s.Logger.Error("RPC HTTP server stopped with error", "address", listener.Addr().String(), "err", err)
		return err
	})
	return g.Wait()
}

// RecoverAndLogHandler wraps an HTTP handler, adding error logging.
// If the inner handler panics, the wrapper recovers, logs, and sends an
// HTTP 500 error response.
func RecoverAndLogHandler(handler http.Handler, logger log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rww := &responseWriterWrapper{-1, w}
		begin := time.Now()

		rww.Header().Set("X-Server-Time", fmt.Sprintf("%v", begin.Unix()))

		defer func() {
			if e := recover(); e != nil {
				logger.Error("panic in RPC HTTP handler", "err", e, "stack", string(debug.Stack()))
				writeError(rww, http.StatusInternalServerError, fmt.Errorf("internal server error: %v", e))
			}

			if rww.Status == -1 {
				rww.Status = http.StatusOK
			}
			logger.Debug("served RPC HTTP response",
				"method", r.Method,
				"url", r.URL,
				"status", rww.Status,
				"duration", time.Since(begin).Milliseconds(),
				"remote_addr", r.RemoteAddr,
			)
		}()

		handler.ServeHTTP(rww, r)
	})
}

// remembers the status for logging
type responseWriterWrapper struct {
	Status int
	http.ResponseWriter
}

func (w *responseWriterWrapper) WriteHeader(status int) {
	w.Status = status
	w.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	bz, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		panic(err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(bz)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ResultError{Error: err.Error()})
}
