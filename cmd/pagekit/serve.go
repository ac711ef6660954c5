package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"time"

	"github.com/wudi/pagekit/observability"
	"github.com/wudi/pagekit/store/filestore"
	"github.com/wudi/pagekit/store/httpstore"
)

func runServe(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	addr := fs.String("addr", ":8080", "Listen address")
	dir := fs.String("dir", "", "Project store directory")
	rpm := fs.Int("rpm", 600, "Requests per minute per client, negative disables")
	maxUpload := fs.Int64("max-upload", 256<<20, "Largest accepted project upload in bytes")
	if err := fs.Parse(args); err != nil {
		return usageError{err.Error()}
	}
	if *dir == "" {
		return usagef("-dir is required")
	}
	store, err := filestore.Open(*dir)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr: *addr,
		Handler: httpstore.NewServer(store, httpstore.ServerConfig{
			MaxUploadBytes:    *maxUpload,
			RequestsPerMinute: *rpm,
			Logger:            e.log,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- server.ListenAndServe() }()
	e.log.Info("serving projects", observability.String("addr", *addr), observability.String("dir", *dir))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdown); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	e.log.Info("server stopped")
	return nil
}
