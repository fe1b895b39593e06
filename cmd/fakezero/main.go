// Command fakezero watches social feeds for posts and counts each distinct
// post once.
//
// Usage:
//
//	fakezero -config fakezero.yaml              # watch configured pages, serve the command API
//	fakezero -url https://x.com/home            # watch a single page in Chrome
//	fakezero -scan saved.html -origin https://x.com/home -out marked.html
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/fakezero/postwatch"
	"github.com/hazyhaar/fakezero/postwatch/annotate"
	"github.com/hazyhaar/fakezero/postwatch/dom"
)

func main() {
	configPath := flag.String("config", "", "path to fakezero.yaml config file")
	singleURL := flag.String("url", "", "watch a single URL in Chrome")
	scanPath := flag.String("scan", "", "scan a saved HTML file once and exit")
	origin := flag.String("origin", "", "page URL the scanned file was saved from")
	outPath := flag.String("out", "", "write the annotated HTML of -scan here")
	listen := flag.String("listen", "", "HTTP listen address (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := postwatch.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = postwatch.LoadConfigFile(*configPath); err != nil {
			logger.Error("fakezero: load config", "error", err)
			os.Exit(1)
		}
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *listen != "" {
		cfg.Listen = *listen
	}

	var err error
	switch {
	case *scanPath != "":
		err = runScan(ctx, logger, cfg, *scanPath, *origin, *outPath)
	case *singleURL != "":
		cfg.Pages = []postwatch.PageConfig{{ID: "page-0", URL: *singleURL}}
		err = runServe(ctx, logger, cfg)
	case *configPath != "":
		err = runServe(ctx, logger, cfg)
	default:
		fmt.Fprintln(os.Stderr, "usage: fakezero -config <file> | -url <url> | -scan <file> -origin <url>")
		os.Exit(2)
	}
	if err != nil {
		logger.Error("fakezero: fatal", "error", err)
		os.Exit(1)
	}
}

// runScan runs one session over a saved page. Every post is treated as
// visible.
func runScan(ctx context.Context, logger *slog.Logger, cfg *postwatch.Config, path, origin, outPath string) error {
	if origin == "" {
		return errors.New("-scan needs -origin")
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	tree, err := dom.ParseTree(f, origin)
	f.Close()
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	if len(cfg.Sinks) == 0 {
		cfg.Sinks = []postwatch.SinkConfig{{Type: "stdout"}}
	}
	svc, err := postwatch.New(postwatch.Options{Config: cfg, Logger: logger})
	if err != nil {
		return err
	}
	defer svc.Close()

	inst, err := svc.Attach(ctx, "scan", origin, postwatch.Host{
		Origin:    origin,
		Document:  tree,
		Mutations: tree,
		Viewport:  dom.ImmediateViewport{},
		Annotator: annotate.NewTreeAnnotator(tree, cfg.Annotation.Message),
	})
	if err != nil {
		return err
	}
	if err := inst.Sync(ctx); err != nil {
		return err
	}
	res, err := inst.LastScan(ctx)
	if err != nil {
		return err
	}
	logger.Info("fakezero: scan complete", "platform", inst.Platform().Kind.String(), "new_detections", res.NewDetections)

	if outPath == "" {
		return nil
	}
	markup, err := tree.HTML()
	if err != nil {
		return err
	}
	return os.WriteFile(outPath, []byte(markup), 0o644)
}

func runServe(ctx context.Context, logger *slog.Logger, cfg *postwatch.Config) error {
	svc, err := postwatch.New(postwatch.Options{Config: cfg, Logger: logger})
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	if cfg.Listen == "" {
		<-ctx.Done()
		return nil
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           svc.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("fakezero: listening", "addr", cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
