// Package server wires the application together and runs the HTTP server.
//
// New is the composition root: it opens the database, builds the services
// and handlers, and registers every route. Start runs until SIGINT or
// SIGTERM and then shuts down gracefully.
package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/ecofinds/internal/auth"
	"github.com/sakif/ecofinds/internal/config"
	"github.com/sakif/ecofinds/internal/events"
	"github.com/sakif/ecofinds/internal/handler"
	"github.com/sakif/ecofinds/internal/middleware"
	sqliteRepo "github.com/sakif/ecofinds/internal/repository/sqlite"
	"github.com/sakif/ecofinds/internal/service"
	"github.com/sakif/ecofinds/internal/upload"
	"github.com/sakif/ecofinds/web"
)

// Server owns the router and every resource that must be released on
// shutdown.
type Server struct {
	router    *chi.Mux
	config    config.Config
	logger    *slog.Logger
	db        *sqliteRepo.DB
	publisher events.Publisher
	images    *upload.DiskStore
	limiter   *auth.RateLimiter
}

// New builds a Server. When NATS_URL is set but unreachable the server
// still starts and purchase events are dropped.
func New(cfg config.Config, logger *slog.Logger) (*Server, error) {
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	images, err := upload.NewDiskStore(cfg.UploadDir, cfg.MaxUploadBytes)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("preparing upload directory: %w", err)
	}

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.NATSURL != "" {
		nats, err := events.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubject, logger)
		if err != nil {
			logger.Warn("NATS unavailable, purchase events will not be published",
				slog.String("error", err.Error()),
			)
		} else {
			publisher = nats
		}
	}

	s := &Server{
		router:    chi.NewRouter(),
		config:    cfg,
		logger:    logger,
		db:        db,
		publisher: publisher,
		images:    images,
		limiter:   auth.NewRateLimiter(cfg.LoginRate),
	}

	if err := s.setupRoutes(); err != nil {
		s.Close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}
	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes registers middleware and routes.
//
// Public:
//
//	GET  /                                 product listing (?q=, ?category=)
//	GET  /product/{id}                     product detail
//	GET  /signup, /login  POST (throttled) account creation and sign-in
//	GET  /logout                           sign out
//	GET  /auth/github/login|callback       GitHub sign-in (when configured)
//	GET  /api/products, /api/products/{id} JSON read API
//	GET  /static/*, /uploads/*, /healthz
//
// Signed in:
//
//	/dashboard/{userID}[/edit|/delete], /product/add, /product/{id}/edit|delete,
//	/cart/{userID}, /cart/add/{userID}/{productID}, /cart/remove/{itemID},
//	/purchase/{userID}/{productID}, /purchases/{userID}, /api/me
func (s *Server) setupRoutes() error {
	tokens, err := auth.NewTokenService(s.config.SessionSecret, s.config.SessionTTL)
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}
	passwords := auth.NewPasswordService()

	renderer, err := handler.NewRenderer(web.FS, s.logger)
	if err != nil {
		return fmt.Errorf("loading templates: %w", err)
	}

	authSvc, err := service.NewAuthService(s.db, tokens, passwords, s.logger)
	if err != nil {
		return fmt.Errorf("creating auth service: %w", err)
	}
	userSvc := service.NewUserService(s.db, s.db, passwords, s.images, s.logger)
	productSvc := service.NewProductService(s.db, s.images, s.logger)
	cartSvc := service.NewCartService(s.db, s.db, s.logger)
	purchaseSvc := service.NewPurchaseService(s.db, s.publisher, s.logger)

	var github *auth.GitHubProvider
	if s.config.GitHubEnabled() {
		github = auth.NewGitHubProvider(s.config.GitHubClientID, s.config.GitHubClientSecret, s.config.GitHubCallbackURL)
	}

	authHandler := handler.NewAuthHandler(renderer, authSvc, userSvc, github, s.config.SecureCookies, s.logger)
	accountHandler := handler.NewAccountHandler(renderer, userSvc, s.config.SecureCookies, s.logger)
	productHandler := handler.NewProductHandler(renderer, productSvc, s.images, s.config.MaxUploadBytes, s.logger)
	cartHandler := handler.NewCartHandler(renderer, cartSvc, purchaseSvc, s.logger)

	r := s.router
	r.Use(chimiddleware.RequestID)
	r.Use(auth.CapturePeer)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	// Before Logger so request logs carry the user id.
	r.Use(auth.OptionalAuth(tokens))
	r.Use(middleware.Logger(s.logger))

	staticFS, err := fs.Sub(web.FS, "static")
	if err != nil {
		return fmt.Errorf("opening static assets: %w", err)
	}
	r.Handle("/static/*", http.StripPrefix("/static/", noDirListing(http.FileServerFS(staticFS))))
	r.Handle("/uploads/*", http.StripPrefix("/uploads/", noDirListing(http.FileServer(http.Dir(s.images.Dir())))))
	r.Get("/healthz", handler.HealthHandler(s.db, s.logger))

	r.Get("/", productHandler.HandleHome)
	r.Get("/product/{id}", productHandler.HandleDetail)

	r.Group(func(r chi.Router) {
		r.Use(s.limiter.Middleware)
		r.Get("/signup", authHandler.HandleSignupForm)
		r.Post("/signup", authHandler.HandleSignup)
		r.Get("/login", authHandler.HandleLoginForm)
		r.Post("/login", authHandler.HandleLogin)
	})
	r.Get("/logout", authHandler.HandleLogout)
	r.Post("/logout", authHandler.HandleLogout)

	if github != nil {
		r.Get("/auth/github/login", authHandler.HandleGitHubLogin)
		r.Get("/auth/github/callback", authHandler.HandleGitHubCallback)
	} else {
		s.logger.Info("GitHub sign-in disabled (GITHUB_CLIENT_ID not set)")
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/products", productHandler.HandleAPIList)
		r.Get("/products/{id}", productHandler.HandleAPIGet)
		r.With(auth.RequireAuth(tokens)).Get("/me", authHandler.HandleMe)
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(tokens))

		r.Get("/dashboard/{userID}", accountHandler.HandleDashboard)
		r.Get("/dashboard/{userID}/edit", accountHandler.HandleEditForm)
		r.Post("/dashboard/{userID}/edit", accountHandler.HandleEdit)
		r.Post("/dashboard/{userID}/delete", accountHandler.HandleDelete)

		r.Get("/product/add", productHandler.HandleAddForm)
		r.Post("/product/add", productHandler.HandleAdd)
		r.Get("/product/{id}/edit", productHandler.HandleEditForm)
		r.Post("/product/{id}/edit", productHandler.HandleEdit)
		r.Get("/product/{id}/delete", productHandler.HandleDelete)
		r.Post("/product/{id}/delete", productHandler.HandleDelete)

		r.Get("/cart/{userID}", cartHandler.HandleCart)
		r.Get("/cart/add/{userID}/{productID}", cartHandler.HandleAdd)
		r.Get("/cart/remove/{itemID}", cartHandler.HandleRemove)
		r.Get("/purchase/{userID}/{productID}", cartHandler.HandlePurchase)
		r.Get("/purchases/{userID}", cartHandler.HandlePurchases)
	})

	return nil
}

// noDirListing answers 404 for directory paths instead of listing them.
func noDirListing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start serves HTTP until SIGINT/SIGTERM, then drains in-flight requests
// for up to 30 seconds and releases the database and event publisher.
func (s *Server) Start() error {
	defer s.Close()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
			slog.String("database", s.config.DBPath),
			slog.String("uploads", s.images.Dir()),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}
	return nil
}

// Close releases the event publisher and the database.
func (s *Server) Close() error {
	var errs []error
	if err := s.publisher.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing publisher: %w", err))
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing database: %w", err))
	}
	return errors.Join(errs...)
}
