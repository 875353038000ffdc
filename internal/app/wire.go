package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"sealroom/internal/config"
	"sealroom/internal/domain"
	"sealroom/internal/keycache"
	"sealroom/internal/logging"
	"sealroom/internal/metrics"
	"sealroom/internal/relay"
	"sealroom/internal/services/conversation"
	"sealroom/internal/services/envelope"
	"sealroom/internal/services/group"
	"sealroom/internal/services/identity"
	"sealroom/internal/services/unlock"
	"sealroom/internal/store"
	"sealroom/internal/util/ratelimit"
)

// Wire bundles the stores, services and clients the CLI uses. Relay and
// Conversations are nil when no relay URL is configured.
type Wire struct {
	Config        config.Config
	Log           *slog.Logger
	Metrics       *metrics.Metrics
	Vault         *store.Vault
	Identity      *identity.Service
	Unlock        *unlock.Orchestrator
	Envelope      *envelope.Codec
	Groups        *group.Engine
	Relay         *relay.Client
	Conversations *conversation.Service
}

// NewWire constructs the dependency graph.
func NewWire(ctx context.Context, opts Options) (*Wire, error) {
	cfg, err := config.Load(opts.Home, opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Home, 0o700); err != nil {
		return nil, fmt.Errorf("create home: %w", err)
	}

	var out io.Writer = os.Stderr
	if opts.LogOutput != nil {
		out = opts.LogOutput
	}
	log, err := logging.New(out, logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return nil, err
	}
	// collectors are only exported by the relay; the CLI keeps them unregistered
	m := metrics.New(nil)

	backend, err := store.Open(ctx, cfg.Store.Backend, cfg.Home, cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	vault := store.NewVault(backend, keycache.New(keycache.WithIdleTimeout(cfg.Unlock.IdleTimeout)))

	ids := identity.New(vault,
		identity.WithKDFParams(cfg.KeywrapParams()),
		identity.WithMinPassphraseLength(cfg.Passphrase.MinLength),
		identity.WithKDFConcurrency(cfg.KDF.MaxConcurrent),
		identity.WithUnlockLimiter(ratelimit.PerMinute(cfg.Unlock.AttemptsPerMinute, cfg.Unlock.Burst)),
		identity.WithLogger(log),
		identity.WithMetrics(m),
	)
	unlockOpts := []unlock.Option{unlock.WithLogger(log), unlock.WithMetrics(m)}
	if opts.Biometric != nil {
		unlockOpts = append(unlockOpts, unlock.WithBiometric(opts.Biometric))
	}

	w := &Wire{
		Config:   cfg,
		Log:      log,
		Metrics:  m,
		Vault:    vault,
		Identity: ids,
		Unlock:   unlock.New(vault, ids, unlockOpts...),
	}

	envOpts := []envelope.Option{envelope.WithLogger(log), envelope.WithMetrics(m)}
	groupOpts := []group.Option{
		group.WithLogger(log),
		group.WithMetrics(m),
		group.WithBufferLimits(cfg.Buffer.MaxMessages, cfg.Buffer.MaxAge),
	}
	if cfg.Relay.URL != "" {
		relayOpts := []relay.ClientOption{relay.WithTimeout(cfg.Relay.Timeout)}
		if opts.HTTP != nil {
			relayOpts = append([]relay.ClientOption{relay.WithHTTPClient(opts.HTTP)}, relayOpts...)
		}
		w.Relay = relay.NewClient(cfg.Relay.URL, relayOpts...)
		envOpts = append(envOpts, envelope.WithDirectory(w.Relay))
		groupOpts = append(groupOpts, group.WithHandshakeLog(w.Relay))
	}
	w.Envelope = envelope.New(envOpts...)
	w.Groups = group.New(vault, groupOpts...)

	if w.Relay != nil {
		w.Conversations = conversation.New(vault, w.Relay,
			conversation.WithProvider(conversation.NewEnvelopeProvider(w.Envelope)),
			conversation.WithGroups(w.Groups),
			conversation.WithDirectory(w.Relay),
			conversation.WithLogger(log),
		)
	}
	return w, nil
}

// Close locks every cached key and closes the store.
func (w *Wire) Close() error { return w.Vault.Close() }

// ErrNoRelay is returned by commands that need a relay when none is set.
var ErrNoRelay = &domain.CapabilityError{Capability: "relay", Message: "no relay configured; set relay.url or SEALROOM_RELAY_URL"}

// RequireRelay returns ErrNoRelay when the relay is not configured.
func (w *Wire) RequireRelay() error {
	if w.Conversations == nil {
		return ErrNoRelay
	}
	return nil
}
