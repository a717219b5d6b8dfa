package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/sessions"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/medcode/internal/api"
	"github.com/pavelanni/medcode/internal/handler"
	appI18n "github.com/pavelanni/medcode/internal/i18n"
	"github.com/pavelanni/medcode/internal/model"
	"github.com/pavelanni/medcode/internal/quiz"
	"github.com/pavelanni/medcode/internal/session"
	"github.com/pavelanni/medcode/internal/store"
)

func main() {
	// A missing .env is fine; real environment variables still apply.
	_ = godotenv.Load()
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "medcode",
		Short:        "Web front-end and terminal client for the medical coding academy",
		SilenceUsage: true,
	}

	serve := serveCmd()
	root.AddCommand(serve, loginCmd(), logoutCmd(), quizzesCmd(), takeCmd(), exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `medcode --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

// commonFlags are shared by every command.
func commonFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("api-url", "http://localhost:5000/api", "Backend API base URL")
	f.String("db", "medcode.db", "SQLite database path")
	f.Duration("session-ttl", 7*24*time.Hour, "Lifetime of a signed-in session")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the web front-end",
		RunE:  runServe,
	}
	commonFlags(cmd)
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.StringP("lang", "l", "en", "Default UI language (en, ru)")
	f.String("base-path", "", "URL prefix for sub-path deployments (e.g. /learn)")
	f.Bool("secure-cookies", true, "Set Secure flag on cookies")
	f.String("session-secret", "", "Key signing the browser session cookie (or set MEDCODE_SESSION_SECRET)")
	f.String("session-backend", "sqlite", "Durable session tier (sqlite, redis)")
	f.String("redis-url", "redis://localhost:6379/0", "Redis URL for --session-backend=redis")
	f.Int64("max-upload-size", 20<<20, "Bulk upload size limit in bytes")
	f.Duration("quiz-grace", 15*time.Minute, "How long a finished quiz result stays viewable")
	f.Duration("sweep-interval", time.Minute, "Interval of expired session and quiz cleanup")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export all quiz attempts as JSON (admin)",
		RunE:  runExport,
	}
	commonFlags(cmd)
	cmd.Flags().StringP("output", "o", "-", "Output file path (- for stdout)")
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("MEDCODE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("medcode")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/medcode")
	v.AddConfigPath("/etc/medcode")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// normalizeBasePath turns "learn/" into "/learn" and "/" into "".
func normalizeBasePath(p string) string {
	p = strings.TrimRight(p, "/")
	if p != "" && !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

// durableTier picks where AuthSessions survive restarts. The returned func
// releases resources the tier opened.
func durableTier(ctx context.Context, v *viper.Viper, db *store.Store) (session.Backend, func(), error) {
	switch strings.ToLower(v.GetString("session-backend")) {
	case "", "sqlite":
		return db, func() {}, nil
	case "redis":
		client, err := session.NewRedisClient(ctx, v.GetString("redis-url"))
		if err != nil {
			return nil, nil, err
		}
		return session.NewRedisBackend(client), func() { _ = client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown session backend %q (want sqlite or redis)", v.GetString("session-backend"))
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	secret := v.GetString("session-secret")
	if len(secret) < 32 {
		return fmt.Errorf("session secret of at least 32 bytes is required: set --session-secret or MEDCODE_SESSION_SECRET")
	}

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	durable, closeDurable, err := durableTier(ctx, v, db)
	if err != nil {
		return fmt.Errorf("session backend: %w", err)
	}
	defer closeDurable()

	basePath := normalizeBasePath(v.GetString("base-path"))
	cfg := model.FrontendConfig{
		BasePath:      basePath,
		SecureCookies: v.GetBool("secure-cookies"),
		SessionTTL:    v.GetDuration("session-ttl"),
		MaxUploadSize: v.GetInt64("max-upload-size"),
	}

	cookies := sessions.NewCookieStore([]byte(secret))
	cookies.Options = &sessions.Options{
		Path:     basePath + "/",
		MaxAge:   int(cfg.SessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	}

	cache := session.NewCache(durable, cfg.SessionTTL)
	registry := quiz.NewRegistry(quiz.RealClock(), v.GetDuration("quiz-grace"))

	var h *handler.Handler
	client := api.New(v.GetString("api-url"), cache,
		api.WithLogoutHook(func(ctx context.Context, sid string) { h.OnLogout(ctx, sid) }))
	h, err = handler.New(client, registry, db, cookies, cfg)
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	go sweep(ctx, v.GetDuration("sweep-interval"), cache, registry, db)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	// Multipart overhead on top of the file itself.
	r.Use(middleware.RequestSize(cfg.MaxUploadSize + 1<<20))
	r.Use(appI18n.Middleware(lang))

	if basePath != "" {
		r.Route(basePath, func(sub chi.Router) {
			sub.Use(h.BasePathMiddleware)
			h.Routes(sub)
		})
		r.Get(basePath, func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, basePath+"/", http.StatusMovedPermanently)
		})
	} else {
		r.Use(h.BasePathMiddleware)
		h.Routes(r)
	}

	addr := v.GetString("addr")
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	slog.Info("starting server",
		"addr", addr,
		"api_url", client.BaseURL(),
		"lang", lang,
		"base_path", basePath,
		"session_backend", v.GetString("session-backend"),
		"session_ttl", cfg.SessionTTL,
	)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// sweep evicts expired sessions and finished quizzes until ctx is done.
func sweep(ctx context.Context, every time.Duration, cache *session.Cache, registry *quiz.Registry, db *store.Store) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		evicted := cache.Sweep()
		quizzes := registry.Sweep()
		rows, err := db.CleanupExpiredSessions(ctx)
		if err != nil {
			slog.Warn("failed to clean up expired sessions", "error", err)
		}
		if evicted+quizzes > 0 || rows > 0 {
			slog.Debug("swept expired state", "sessions", evicted, "quizzes", quizzes, "stored_sessions", rows)
		}
	}
}
