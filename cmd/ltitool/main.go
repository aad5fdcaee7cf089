package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mind-engage/mindengage-lti/internal/config"
	app "github.com/mind-engage/mindengage-lti/internal/lti"
	"github.com/mind-engage/mindengage-lti/pkg/tool/admin"
	"github.com/mind-engage/mindengage-lti/pkg/tool/ags"
	"github.com/mind-engage/mindengage-lti/pkg/tool/lti"
	"github.com/mind-engage/mindengage-lti/pkg/tool/storage"
)

const purgeInterval = 10 * time.Minute

func main() {
	cfg := config.FromEnv()

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("ltitool failed", zap.Error(err))
	}
	logger.Info("Server exited")
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	// --- DB ---
	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	db, err := storage.Connect(openCtx, cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("db open: %w", err)
	}
	defer db.Close()
	if err := storage.Up(openCtx, db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	d, err := newDeps(ctx, cfg, logger, db)
	if err != nil {
		return err
	}
	defer d.close()
	go d.purgeLoop(ctx, purgeInterval)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           newRouter(cfg, d),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("listening",
			zap.String("addr", cfg.HTTPAddr),
			zap.String("public_url", cfg.PublicURL),
			zap.String("db", cfg.DBDriver),
			zap.String("nonces", string(cfg.NonceBackend)),
		)
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
	logger.Info("Shutting down server")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	return nil
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	zc := zap.NewProductionConfig()
	if !cfg.LogJSON {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// ----- Router -----

func newRouter(cfg config.Config, d *deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := d.db.Ping(r.Context()); err != nil {
			http.Error(w, "db unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	// Public key set, fetched cross-origin by platforms and browser tooling.
	r.Group(func(pr chi.Router) {
		pr.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
			ExposedHeaders: []string{"ETag", "Cache-Control"},
			MaxAge:         300,
		}))
		jwks := &lti.JWKSHandler{Provider: d.env.Keys}
		pr.Get(app.JWKSPath, jwks.ServeHTTP)
		pr.Head(app.JWKSPath, jwks.ServeHTTP)
	})

	// Launches, OIDC login initiations and dynamic registrations.
	h := d.tool.Handler(d.env)
	r.Get(app.LaunchPath, h.ServeHTTP)
	r.Post(app.LaunchPath, h.ServeHTTP)
	r.Head(app.LaunchPath, h.ServeHTTP)

	if cfg.EnableAdmin {
		if cfg.AdminPassHash == "" {
			d.env.Logger.Warn("ADMIN_PASS_HASH not set; admin API will reject every request")
		}
		(&admin.API{Env: d.env, Grader: d.grader, User: cfg.AdminUser, PassHash: cfg.AdminPassHash}).Routes(r)
	}
	return r
}

// ----- Dependencies -----

type deps struct {
	db     *storage.DB
	conn   *storage.Connector
	env    *lti.Env
	tool   *lti.Tool
	grader *ags.Grader
	// purge removes expired nonces; nil when the backend expires them itself.
	purge  func(context.Context) (int64, error)
	closer func() error
}

func newDeps(ctx context.Context, cfg config.Config, logger *zap.Logger, db *storage.DB) (*deps, error) {
	keys, err := loadKeys(cfg, logger)
	if err != nil {
		return nil, err
	}
	client := &http.Client{Timeout: cfg.HTTPClientTimeout}
	conn := storage.NewConnector(db)
	env := &lti.Env{
		Connector:      conn,
		Keys:           keys,
		Fetcher:        lti.NewJWKSFetcher(ctx, client),
		HTTP:           client,
		Logger:         logger,
		NonceTTL:       cfg.NonceTTL,
		JWTLife:        cfg.JWTLife,
		Leeway:         cfg.JWTLeeway,
		AllowJKUHeader: cfg.AllowJKUHeader,
	}
	tokens := ags.NewTokenSource(env)
	tokens.Leeway = cfg.JWTLeeway
	env.Tokens = tokens

	d := &deps{db: db, conn: conn, env: env, grader: ags.NewGrader(env)}
	switch cfg.NonceBackend {
	case config.NonceSQL, "":
		s := storage.NewNonceStore(db)
		env.Nonces, d.purge = s, s.Purge
	case config.NonceRedis:
		s, err := storage.NewRedisNonceStore(ctx, cfg.RedisURL, logger)
		if err != nil {
			return nil, err
		}
		env.Nonces, d.closer = s, s.Close
	case config.NonceMemory:
		env.Nonces = lti.NewInMemoryNonceStore(0)
	default:
		return nil, fmt.Errorf("NONCE_BACKEND: unknown backend %q", cfg.NonceBackend)
	}

	d.tool = app.NewTool(cfg, app.NewApp(cfg, logger))
	return d, nil
}

func loadKeys(cfg config.Config, logger *zap.Logger) (*lti.KeyManager, error) {
	if cfg.ToolPrivateKeyFile != "" {
		km, err := lti.LoadKeyManager(cfg.ToolPrivateKeyFile, cfg.ToolKID, cfg.ToolSignatureMethod)
		if err != nil {
			return nil, fmt.Errorf("TOOL_PRIVATE_KEY_FILE: %w", err)
		}
		return km, nil
	}
	km, err := lti.GenerateKeyManager(2048, cfg.ToolSignatureMethod)
	if err != nil {
		return nil, err
	}
	if rec, err := km.Current(); err == nil {
		logger.Warn("TOOL_PRIVATE_KEY_FILE not set; using an ephemeral signing key", zap.String("kid", rec.KID))
	}
	return km, nil
}

// purgeLoop drops expired nonces and share keys every interval until ctx
// is done.
func (d *deps) purgeLoop(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			d.purgeOnce(ctx)
		}
	}
}

func (d *deps) purgeOnce(ctx context.Context) {
	log := d.env.Logger
	if d.purge != nil {
		if n, err := d.purge(ctx); err != nil {
			log.Warn("nonce purge failed", zap.Error(err))
		} else if n > 0 {
			log.Debug("expired nonces purged", zap.Int64("count", n))
		}
	}
	if n, err := d.conn.DeleteExpiredShareKeys(ctx); err != nil {
		log.Warn("share key purge failed", zap.Error(err))
	} else if n > 0 {
		log.Debug("expired share keys purged", zap.Int64("count", n))
	}
}

func (d *deps) close() {
	if d.closer != nil {
		_ = d.closer()
	}
}
