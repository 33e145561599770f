package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// MetricsServer serves /metrics on its own listener.
type MetricsServer struct {
	srv *http.Server
}

func New(pkgName, addr string) (*MetricsServer, error) {
	mux := chi.NewRouter()
	mux.Handle("/metrics", Handler())
	mux.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(pkgName + " metrics at /metrics\n"))
	})

	return &MetricsServer{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

func (s *MetricsServer) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
