package serve

import (
	"context"
	"fmt"
	"net"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-service/internal/config"
	"github.com/chirino/chat-service/internal/plugin/route/conversations"
	"github.com/chirino/chat-service/internal/plugin/route/messages"
	"github.com/chirino/chat-service/internal/plugin/route/notifications"
	"github.com/chirino/chat-service/internal/plugin/route/profiles"
	routesystem "github.com/chirino/chat-service/internal/plugin/route/system"
	storemetrics "github.com/chirino/chat-service/internal/plugin/store/metrics"
	"github.com/chirino/chat-service/internal/profile"
	"github.com/chirino/chat-service/internal/realtime"
	registrycache "github.com/chirino/chat-service/internal/registry/cache"
	registrymigrate "github.com/chirino/chat-service/internal/registry/migrate"
	registryroute "github.com/chirino/chat-service/internal/registry/route"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/chirino/chat-service/internal/security"
	"github.com/chirino/chat-service/internal/service"
	"github.com/gin-gonic/gin"
)

// Server holds the running server and its subsystems.
type Server struct {
	Config          *config.Config
	Store           registrystore.ChatStore
	Router          *gin.Engine
	Addr            net.Addr
	closeMain       func(context.Context) error
	closeManagement func(context.Context) error
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.closeManagement != nil {
		_ = s.closeManagement(ctx)
	}
	if s.closeMain != nil {
		return s.closeMain(ctx)
	}
	return nil
}

// StartServer initializes all subsystems and starts the HTTP listener.
// Use cfg.Listener.Port=0 for a random port; the bound address is in
// Server.Addr.
func StartServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	log.Info("Starting chat service",
		"httpPort", cfg.Listener.Port,
		"db", cfg.DatastoreType,
		"cache", cfg.CacheType,
	)

	// Initialize Prometheus metrics with configured constant labels.
	metricsLabels, err := security.ParseMetricsLabels(cfg.MetricsLabels)
	if err != nil {
		return nil, fmt.Errorf("invalid --metrics-labels: %w", err)
	}
	security.InitMetrics(metricsLabels)

	// Run migrations
	if err := registrymigrate.RunAll(ctx); err != nil {
		return nil, fmt.Errorf("migrations failed: %w", err)
	}

	// Initialize store
	storeLoader, err := registrystore.Select(cfg.DatastoreType)
	if err != nil {
		return nil, err
	}
	store, err := storeLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	store = storemetrics.Wrap(store)

	// Initialize the profile cache. A missing or broken backend degrades
	// to the disabled cache; the service still runs.
	var cacheStore registrycache.ProfileCacheStore
	if cacheLoader, err := registrycache.Select(cfg.CacheType); err != nil {
		log.Warn("Profile cache not available", "cache", cfg.CacheType, "err", err)
	} else if cacheStore, err = cacheLoader(ctx); err != nil {
		log.Warn("Failed to initialize profile cache", "cache", cfg.CacheType, "err", err)
		cacheStore = nil
	}
	if cacheStore == nil {
		noneLoader, err := registrycache.Select("none")
		if err != nil {
			return nil, err
		}
		cacheStore, err = noneLoader(ctx)
		if err != nil {
			return nil, err
		}
	}
	profileCache := profile.NewCache(cacheStore, profile.NewHTTPClient(cfg), cfg.ProfileCacheTTL)

	// Set up gin
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.ManagementAccessLog {
		router.Use(security.AccessLogMiddleware())
	} else {
		router.Use(security.AccessLogMiddleware("/health", "/ready", "/metrics"))
	}
	router.Use(security.MetricsMiddleware())
	router.Use(maxBodySizeMiddleware(cfg.MaxBodySize))
	if cfg.CORSEnabled {
		router.Use(corsMiddleware(cfg.CORSOrigins))
	}

	// Mount main route plugins on the main router.
	for _, loader := range registryroute.MainRouteLoaders() {
		if err := loader(router); err != nil {
			return nil, fmt.Errorf("failed to load routes: %w", err)
		}
	}

	// Realtime presence and fan-out.
	presence := realtime.NewPresence()
	dispatcher := realtime.NewDispatcher(store, presence)

	// Create shared token resolver and auth middleware. The middleware
	// also ensures a user row exists for every authenticated caller.
	resolver := security.NewTokenResolver(cfg)
	auth := ensureUserMiddleware(store, security.AuthMiddleware(resolver))

	// Mount API routes
	conversations.MountRoutes(router, store, profileCache, auth)
	messages.MountRoutes(router, store, dispatcher, auth)
	notifications.MountRoutes(router, store, dispatcher, presence, resolver, cfg, auth)
	profiles.MountRoutes(router, profileCache, auth)

	// Start background services
	repair := service.NewUnreadRepairService(store, cfg.UnreadRepairInterval)
	go repair.Start(ctx)

	// Mount management route plugins. If a dedicated management port is
	// configured, run them on a bare gin engine served by the management
	// server. Otherwise, mount them on the main router.
	var closeManagement func(context.Context) error
	if cfg.ManagementListenerEnabled {
		mgmtRouter := gin.New()
		mgmtRouter.Use(gin.Recovery())
		if cfg.ManagementAccessLog {
			mgmtRouter.Use(security.AccessLogMiddleware())
		}
		for _, loader := range registryroute.ManagementRouteLoaders() {
			if err := loader(mgmtRouter); err != nil {
				return nil, fmt.Errorf("failed to load management routes: %w", err)
			}
		}
		// Management listener shares TLS cert/key with the main listener.
		mgmtCfg := cfg.ManagementListener
		mgmtCfg.TLSCertFile = cfg.Listener.TLSCertFile
		mgmtCfg.TLSKeyFile = cfg.Listener.TLSKeyFile
		_, closeManagement, err = startHTTPServer(mgmtCfg, mgmtRouter, "management")
		if err != nil {
			return nil, fmt.Errorf("failed to start management server: %w", err)
		}
	} else {
		for _, loader := range registryroute.ManagementRouteLoaders() {
			if err := loader(router); err != nil {
				return nil, fmt.Errorf("failed to load management routes: %w", err)
			}
		}
	}

	addr, closeMain, err := startHTTPServer(cfg.Listener, router, "main")
	if err != nil {
		return nil, err
	}

	log.Info("Server listening", "addr", addr, "tls", cfg.Listener.EnableTLS)

	routesystem.MarkReady()
	return &Server{
		Config:          cfg,
		Store:           store,
		Router:          router,
		Addr:            addr,
		closeMain:       closeMain,
		closeManagement: closeManagement,
	}, nil
}

// ensureUserMiddleware chains the auth middleware with a user-row
// upsert so first-contact callers exist in the store before any
// handler runs.
func ensureUserMiddleware(store registrystore.ChatStore, auth gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth(c)
		if c.IsAborted() {
			return
		}
		userID := security.GetUserID(c)
		if _, err := store.EnsureUser(c.Request.Context(), userID, security.GetKahaID(c)); err != nil {
			log.Error("Failed to ensure user", "user", userID, "err", err)
			c.AbortWithStatusJSON(500, gin.H{"error": "internal server error"})
		}
	}
}
