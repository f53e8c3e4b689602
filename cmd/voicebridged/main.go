// Command voicebridged runs the real-time voice bridge core: it accepts
// switch-facing audio sockets, drives one RealtimeSession per call, and
// exposes an admin/health HTTP API. Grounded on cmd/samantha/main.go's
// boot sequence (config.Load -> metrics -> store -> collaborators ->
// server -> signal-driven graceful shutdown).
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/voicebridge/corebridge/internal/config"
	"github.com/voicebridge/corebridge/internal/model"
	"github.com/voicebridge/corebridge/internal/observability"
	"github.com/voicebridge/corebridge/internal/serverctl"
	"github.com/voicebridge/corebridge/internal/store"
	"github.com/voicebridge/corebridge/internal/switchctl"
	"github.com/voicebridge/corebridge/internal/transfer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	callStore, err := store.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("call store init failed: %v", err)
	}
	defer callStore.Close()

	switchClient, err := switchctl.Dial(ctx, cfg.ESLHost+":"+cfg.ESLPort, cfg.ESLPassword)
	if err != nil {
		log.Fatalf("switch control connect failed: %v", err)
	}
	defer switchClient.Close()

	cache := presenceCache(cfg)

	var tickets *transfer.TicketClient
	if cfg.BackendAPIURL != "" {
		tickets = transfer.NewTicketClient(cfg.BackendAPIURL, cfg.BackendAPIToken)
	}

	tenantConfigs, err := loadTenantConfigs(cfg)
	if err != nil {
		log.Fatalf("tenant config load failed: %v", err)
	}
	tenants := serverctl.NewStaticTenantResolver(tenantConfigs)
	registry := serverctl.NewCallRegistry()

	srv := serverctl.New(cfg, tenants, registry, switchClient, switchClient, cache, tickets, callStore, metrics)

	adminServer := &http.Server{Addr: cfg.BindAddr, Handler: srv.Router()}
	audioServer := &http.Server{Addr: ":" + cfg.SwitchAudioPort, Handler: srv.AudioRouter()}
	transferAudioServer := &http.Server{Addr: ":" + cfg.SwitchTransferPort, Handler: srv.TransferAudioRouter()}

	for _, hs := range []*http.Server{adminServer, audioServer, transferAudioServer} {
		hs := hs
		go func() {
			log.Printf("listening on %s", hs.Addr)
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatalf("listen error on %s: %v", hs.Addr, err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	for _, hs := range []*http.Server{adminServer, audioServer, transferAudioServer} {
		if err := hs.Shutdown(shutdownCtx); err != nil {
			log.Printf("graceful shutdown failed for %s: %v", hs.Addr, err)
			_ = hs.Close()
		}
	}

	log.Printf("shutdown complete")
}

func presenceCache(cfg config.Config) transfer.PresenceCache {
	if cfg.RedisHost == "" {
		return transfer.NewInProcessPresenceCache()
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisHost + ":" + cfg.RedisPort})
	return transfer.NewRedisPresenceCache(client)
}

// loadTenantConfigs resolves where per-tenant secretary configuration
// lives — a detail deliberately left open to the deployment. This
// process
// either reads a YAML file of tenants (TENANT_CONFIG_PATH) or, absent
// that, a single "default" tenant's defaults from its own environment.
// A real deployment behind more than one tenant supplies its own
// serverctl.TenantResolver.
func loadTenantConfigs(cfg config.Config) (map[model.TenantId]model.SecretaryConfig, error) {
	if cfg.TenantConfigPath != "" {
		return serverctl.LoadTenantConfigsFromYAML(cfg.TenantConfigPath)
	}
	return map[model.TenantId]model.SecretaryConfig{
		"default": {
			TenantID:        "default",
			Greeting:        "Thanks for calling, how can I help?",
			SystemPrompt:    "You are a courteous virtual secretary. Keep responses brief.",
			VoiceID:         "alloy",
			Provider:        model.ProviderOpenAI,
			AudioFormat:     model.AudioFormatPCM16,
			VADThreshold:    cfg.DefaultVADThreshold,
			SilenceDuration: cfg.DefaultSilenceDuration,
			MaxDuration:     cfg.DefaultMaxDuration,
			WebhookURL:      cfg.BackendAPIURL,
			Language:        "en",
		},
	}, nil
}
