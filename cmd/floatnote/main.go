// Command floatnote stores and restores web page highlights and sticky notes.
//
// Usage:
//
//	floatnote serve                         # HTTP API, SSE events and MCP on 127.0.0.1:8917
//	floatnote serve --mcp stdio             # MCP over stdio, HTTP API alongside
//	floatnote open https://example.com/a    # annotate a page in a visible Chrome
//	floatnote list --url https://example.com/a --kind highlight
//	floatnote delete highlight_1717243200000_ab12cd34e
//	floatnote export --url https://example.com/a > notes.md
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/floatnote/annotation"
	"github.com/hazyhaar/floatnote/annotator"
	"github.com/hazyhaar/floatnote/internal/browser"
)

var (
	configPath string
	dbPath     string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:           "floatnote",
	Short:         "Persistent highlights and sticky notes for web pages",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to floatnote.yaml")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "path to SQLite database (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")

	rootCmd.AddCommand(serveCmd(), openCmd(), listCmd(), deleteCmd(), exportCmd())
}

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		newLogger().Error("floatnote: fatal", "error", err)
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func loadConfig() (*annotator.Config, error) {
	cfg := annotator.DefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = annotator.LoadConfigFile(configPath); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv()
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openService builds the service; with a browser manager the service can
// open live pages.
func openService(logger *slog.Logger, mgr *browser.Manager) (*annotator.Service, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	var opts []annotator.Option
	if mgr != nil {
		opts = append(opts, annotator.WithOpener(browser.NewOpener(mgr)))
	}
	return annotator.New(cfg, logger, opts...)
}

func newManager(cfg *annotator.Config, headless bool, logger *slog.Logger) *browser.Manager {
	return browser.NewManager(browser.Config{
		RemoteURL:        cfg.Browser.Remote,
		Headless:         headless,
		Stealth:          cfg.Browser.Stealth,
		MemoryLimit:      cfg.Browser.MemoryLimit,
		RecycleInterval:  cfg.Browser.RecycleInterval,
		ResourceBlocking: cfg.Browser.ResourceBlocking,
		Logger:           logger,
	})
}

// --- serve ---

func serveCmd() *cobra.Command {
	var mcpMode string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the event stream and the MCP tools",
		Long: `Serves the annotation API used by the popup and the dashboard.

Routes:
  GET    /api/annotations[?url=&kind=]   list records, newest first
  GET    /api/annotations/{id}
  PUT    /api/annotations/{id}
  DELETE /api/annotations/{id}
  GET    /api/export[?url=]              markdown
  GET    /api/pages                      open pages
  POST   /api/pages                      open a page in Chrome {"url": ...}
  POST   /api/pages/{id}/mode            {"mode": "highlight"|"note"|"dashboard"}
  POST   /api/pages/{id}/scroll          {"x": ..., "y": ...}
  GET    /api/events                     server-sent events
  *      /mcp                            MCP streamable HTTP (--mcp http)

Environment variables:
  FLOATNOTE_DB        database path
  FLOATNOTE_LISTEN    listen address
  FLOATNOTE_BROWSER   ws:// URL of a running Chrome`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), mcpMode)
		},
	}
	cmd.Flags().StringVar(&mcpMode, "mcp", "http", "MCP transport: http, stdio or off")
	return cmd
}

func runServe(ctx context.Context, mcpMode string) error {
	logger := newLogger()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	mgr := newManager(cfg, *cfg.Browser.Headless, logger)
	defer mgr.Close()

	svc, err := annotator.New(cfg, logger, annotator.WithOpener(browser.NewOpener(mgr)))
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer svc.Close()

	mcpSrv := mcp.NewServer(&mcp.Implementation{Name: "floatnote", Version: "1.0.0"}, nil)
	svc.RegisterMCP(mcpSrv)

	mux := http.NewServeMux()
	mux.Handle("/", svc.Handler())
	switch mcpMode {
	case "http":
		mux.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
			return mcpSrv
		}, nil))
	case "stdio":
		go func() {
			if err := mcpSrv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				logger.Error("floatnote: mcp stdio", "error", err)
			}
		}()
	case "off":
	default:
		return fmt.Errorf("unknown --mcp transport %q", mcpMode)
	}

	return listenAndServe(ctx, cfg.Listen, mux, logger)
}

func listenAndServe(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("floatnote: listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	logger.Info("floatnote: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// --- open ---

func openCmd() *cobra.Command {
	var headless bool
	cmd := &cobra.Command{
		Use:   "open URL...",
		Short: "Open pages in Chrome, restore their annotations and serve the API until interrupted",
		Long: `Opens each URL in a Chrome tab and restores its highlights and notes.

In the tab: Ctrl/Cmd+H then select text to highlight, Ctrl/Cmd+N for a note,
click a highlight for the recolor/delete toolbar, Escape to cancel.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOpen(cmd.Context(), args, headless)
		},
	}
	cmd.Flags().BoolVar(&headless, "headless", false, "run Chrome without a window")
	return cmd
}

func runOpen(ctx context.Context, urls []string, headless bool) error {
	logger := newLogger()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	mgr := newManager(cfg, headless, logger)
	defer mgr.Close()

	svc, err := annotator.New(cfg, logger, annotator.WithOpener(browser.NewOpener(mgr)))
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer svc.Close()

	for _, u := range urls {
		sess, err := svc.OpenPage(ctx, u)
		if err != nil {
			return err
		}
		info := sess.Info()
		logger.Info("floatnote: page open", "page", info.ID, "url", info.URL,
			"highlights", info.Highlights, "notes", info.Notes)
	}
	return listenAndServe(ctx, cfg.Listen, svc.Handler(), logger)
}

// --- list / delete / export ---

func listCmd() *cobra.Command {
	var url, kind string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print stored annotations as JSON, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			k, err := annotation.ParseKind(kind)
			if err != nil {
				return err
			}
			svc, err := openService(newLogger(), nil)
			if err != nil {
				return err
			}
			defer svc.Close()

			recs, err := svc.List(cmd.Context(), url, k)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(recs)
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "exact page URL")
	cmd.Flags().StringVar(&kind, "kind", "", "highlight or note")
	return cmd
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID...",
		Short: "Delete annotations by id",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openService(newLogger(), nil)
			if err != nil {
				return err
			}
			defer svc.Close()
			for _, id := range args {
				if err := svc.Delete(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "deleted", id)
			}
			return nil
		},
	}
}

func exportCmd() *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Print annotations as markdown",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := openService(newLogger(), nil)
			if err != nil {
				return err
			}
			defer svc.Close()
			md, err := svc.Export(cmd.Context(), url)
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), md)
			return err
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "exact page URL (default: every page)")
	return cmd
}
