package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/template/django/v3"
	"github.com/goliatone/go-router"
	mflash "github.com/goliatone/go-router/middleware/flash"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"github.com/quantsight/go-session"
	"github.com/quantsight/go-session/provider/hosted"
	"github.com/quantsight/go-session/provider/local"
	"github.com/quantsight/go-session/theme"
)

// Config is read from the environment at startup.
type Config struct {
	Addr                 string `env:"HTTP_ADDR" envDefault:":8577"`
	Origin               string `env:"APP_ORIGIN" envDefault:"http://localhost:8577"`
	DSN                  string `env:"DATABASE_DSN" envDefault:"file:quantsight.db?cache=shared"`
	ViewsDir             string `env:"VIEWS_DIR" envDefault:"./views"`
	Provider             string `env:"AUTH_PROVIDER" envDefault:"local"`
	RequireVerifiedEmail bool   `env:"REQUIRE_VERIFIED_EMAIL" envDefault:"false"`
	Debug                bool   `env:"DEBUG" envDefault:"false"`

	SupabaseURL     string `env:"SUPABASE_URL"`
	SupabaseAnonKey string `env:"SUPABASE_ANON_KEY"`
	SupabaseJWKSURL string `env:"SUPABASE_JWKS_URL"`

	SeedEmail    string `env:"SEED_EMAIL"`
	SeedPassword string `env:"SEED_PASSWORD"`
}

// dashboardPages are the research surfaces behind the route guard.
var dashboardPages = map[string]string{
	"/dashboard":           "Dashboard",
	"/ticker-intelligence": "Ticker Intelligence",
	"/factor-explorer":     "Factor Explorer",
	"/model-lab":           "Model Lab",
	"/experiments":         "Experiments",
	"/signal-diagnostics":  "Signal Diagnostics",
	"/strategy-backtest":   "Strategy Backtest",
	"/portfolio-lab":       "Portfolio Lab",
	"/risk-performance":    "Risk Performance",
	"/sentiment":           "Sentiment Analyzer",
}

func main() {
	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	db, err := openDatabase(ctx, cfg.DSN)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	repo := session.NewRepositoryManager(db)
	repo.MustValidate()

	profiles := session.NewProfileService(repo.Profiles())

	themes := theme.NewManager(repo.Settings())
	if err := themes.Load(ctx); err != nil {
		log.Fatalf("theme: %v", err)
	}

	svc, cleanup, err := buildIdentityService(cfg)
	if err != nil {
		log.Fatalf("identity service: %v", err)
	}
	defer cleanup()

	store := session.NewStore(svc, profiles)
	defer store.Dispose()

	// Session restore must not block serving; the guard renders a loading
	// view until it resolves.
	go func() {
		if err := store.Init(ctx); err != nil {
			log.Printf("store init: %v", err)
		}
	}()

	gateway := session.NewGateway(svc, profiles, store, cfg.Origin)

	guard := session.NewRouteGuard(store, session.GuardConfig{
		RequireVerifiedEmail: cfg.RequireVerifiedEmail,
	})

	controller := session.NewAuthController(gateway, store, profiles, guard)
	controller.Debug = cfg.Debug

	srv := buildServer(cfg)
	r := srv.Router()

	r.Use(mflash.New(mflash.ConfigDefault))

	session.RegisterAuthRoutes(r, controller)

	protected := guard.Protected()
	for path, title := range dashboardPages {
		r.Get(path, dashboardHandler(title, store, themes), protected)
	}

	r.Get("/settings", settingsShow(themes), protected)
	r.Post("/settings/theme", settingsThemePost(themes), protected)

	srv.Serve(cfg.Addr)

	<-ctx.Done()
	fmt.Println("shutting down")
}

func openDatabase(ctx context.Context, dsn string) (*bun.DB, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, err
	}

	db := bun.NewDB(sqldb, sqlitedialect.New())

	models := []any{
		(*session.Profile)(nil),
		(*session.Setting)(nil),
	}
	for _, model := range models {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return nil, err
		}
	}

	return db, nil
}

func buildIdentityService(cfg Config) (session.IdentityService, func(), error) {
	switch cfg.Provider {
	case "hosted":
		client, err := hosted.New(hosted.Config{
			BaseURL: cfg.SupabaseURL,
			AnonKey: cfg.SupabaseAnonKey,
			JWKSURL: cfg.SupabaseJWKSURL,
		})
		if err != nil {
			return nil, nil, err
		}
		return client, client.Close, nil
	case "local":
		svc := local.New()
		if cfg.SeedEmail != "" && cfg.SeedPassword != "" {
			if _, err := svc.Seed(cfg.SeedEmail, cfg.SeedPassword, nil); err != nil {
				return nil, nil, err
			}
		}
		return svc, func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown auth provider %q", cfg.Provider)
}

func buildServer(cfg Config) router.Server[*fiber.App] {
	engine := django.New(cfg.ViewsDir, ".html")
	engine.Reload(cfg.Debug)

	return router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		return fiber.New(fiber.Config{
			UnescapePath:      true,
			EnablePrintRoutes: cfg.Debug,
			PassLocalsToViews: true,
			ReadTimeout:       30 * time.Second,
			Views:             engine,
		})
	})
}

func dashboardHandler(title string, store *session.Store, themes *theme.Manager) router.HandlerFunc {
	return func(ctx router.Context) error {
		snap, ok := session.SnapshotFromRouter(ctx, "")
		if !ok {
			snap = store.Snapshot()
		}

		vc := router.ViewContext{
			"title":   title,
			"theme":   string(themes.Resolve()),
			"user":    snap.User,
			"profile": snap.Profile,
		}
		return ctx.Render("dashboard", vc)
	}
}

func settingsShow(themes *theme.Manager) router.HandlerFunc {
	return func(ctx router.Context) error {
		return ctx.Render("settings", router.ViewContext{
			"title":      "Settings",
			"preference": string(themes.Preference()),
			"theme":      string(themes.Resolve()),
		})
	}
}

type themePayload struct {
	Theme string `form:"theme" json:"theme"`
}

func settingsThemePost(themes *theme.Manager) router.HandlerFunc {
	return func(ctx router.Context) error {
		payload := new(themePayload)
		if err := ctx.Bind(payload); err != nil {
			return ctx.Status(http.StatusBadRequest).SendString(err.Error())
		}

		pref, err := theme.ParsePreference(payload.Theme)
		if err != nil {
			return ctx.Status(http.StatusBadRequest).SendString(err.Error())
		}
		if err := themes.Set(ctx.Context(), pref); err != nil {
			return ctx.Status(http.StatusInternalServerError).SendString(err.Error())
		}
		return ctx.Redirect("/settings", http.StatusSeeOther)
	}
}
