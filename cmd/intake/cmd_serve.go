package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"waitroom-intake/internal/document"
	httpapi "waitroom-intake/internal/http"
	"waitroom-intake/internal/intake"
	"waitroom-intake/internal/logging"
)

var serveFlags struct {
	port string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP intake service",
	Long: `Serves the patient API (sessions, messages, report uploads) and the doctor
API (session list, detail, summary stream). Sessions are stored in Postgres
when DATABASE_URL is set and in memory otherwise.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.port, "port", "", "Listen port (overrides PORT)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	log := logging.New("serve")

	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()
	m, err := newManager(cfg, document.NewFileExtractor(cfg.Server.UploadDir), b)
	if err != nil {
		return err
	}

	port := cfg.Server.Port
	if serveFlags.port != "" {
		port = serveFlags.port
	}
	g, gCtx := errgroup.WithContext(ctx)
	srv := newHTTPServer(gCtx, ":"+port, httpapi.NewServer(m, cfg.Server.UploadDir, cfg.Server.MaxUploadBytes))
	g.Go(func() error {
		log.Info("listening", "addr", srv.Addr, "database", cfg.Database.URL != "")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return logSummaries(gCtx, b.Notifier)
	})
	return g.Wait()
}

// newHTTPServer returns a server whose request contexts derive from ctx, so
// long-lived summary streams end when ctx is cancelled instead of holding
// Shutdown until its deadline.
func newHTTPServer(ctx context.Context, addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
}

// logSummaries logs every summary announcement until ctx is done.
func logSummaries(ctx context.Context, n intake.Notifier) error {
	updates, err := n.Listen(ctx)
	if err != nil {
		return err
	}
	log := logging.New("notifier")
	for id := range updates {
		log.Info("summary ready", "session", id)
	}
	return nil
}
