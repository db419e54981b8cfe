package httpapi

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/quic-go/quic-go/http3"
	"gopkg.in/op/go-logging.v1"

	"github.com/kagisearch/privacypass-lib/config"
	"github.com/kagisearch/privacypass-lib/internal/instrument"
)

const readHeaderTimeout = 10 * time.Second

// Listener runs the issuer handler over HTTP/1.1 and, when configured,
// HTTP/3, plus the metrics endpoint.
type Listener struct {
	sync.WaitGroup

	cfg *config.HTTP
	log *logging.Logger

	http    *http.Server
	h3      *http3.Server
	metrics *http.Server

	errCh chan error
}

// NewListener wraps handler per cfg. Nothing listens until Start.
func NewListener(cfg *config.HTTP, handler http.Handler, logger *logging.Logger) *Listener {
	l := &Listener{
		cfg:   cfg,
		log:   logger,
		errCh: make(chan error, 3),
	}

	if cfg.HTTP3Address != "" {
		l.h3 = &http3.Server{
			Addr:    cfg.HTTP3Address,
			Handler: handler,
		}
		handler = l.advertiseHTTP3(handler)
	}
	l.http = &http.Server{
		Addr:              cfg.Address,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	if cfg.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", instrument.Handler())
		l.metrics = &http.Server{
			Addr:              cfg.MetricsAddress,
			Handler:           mux,
			ReadHeaderTimeout: readHeaderTimeout,
		}
	}
	return l
}

// advertiseHTTP3 adds the Alt-Svc header pointing clients at the HTTP/3
// listener.
func (l *Listener) advertiseHTTP3(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := l.h3.SetQUICHeaders(w.Header()); err != nil {
			l.log.Debugf("Failed to set Alt-Svc: %v", err)
		}
		next.ServeHTTP(w, r)
	})
}

func (l *Listener) serve(name string, fn func() error) {
	l.Add(1)
	go func() {
		defer l.Done()
		l.log.Noticef("%s listener starting", name)
		if err := fn(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.log.Errorf("%s listener failed: %v", name, err)
			l.errCh <- err
		}
	}()
}

// Start launches every configured listener.
func (l *Listener) Start() {
	if l.cfg.TLS() {
		l.serve("HTTPS", func() error {
			return l.http.ListenAndServeTLS(l.cfg.TLSCertFile, l.cfg.TLSKeyFile)
		})
	} else {
		l.serve("HTTP", l.http.ListenAndServe)
	}
	if l.h3 != nil {
		l.serve("HTTP/3", func() error {
			return l.h3.ListenAndServeTLS(l.cfg.TLSCertFile, l.cfg.TLSKeyFile)
		})
	}
	if l.metrics != nil {
		l.serve("Metrics", l.metrics.ListenAndServe)
	}
}

// Errors reports listeners that stopped on their own.
func (l *Listener) Errors() <-chan error {
	return l.errCh
}

// Shutdown stops every listener and waits for them to return.
func (l *Listener) Shutdown(ctx context.Context) error {
	var errs []error
	if err := l.http.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if l.h3 != nil {
		if err := l.h3.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if l.metrics != nil {
		if err := l.metrics.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	l.Wait()
	return errors.Join(errs...)
}
