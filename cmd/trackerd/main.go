package main

import (
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/kanzleidev/portaltracker/internal/batch"
	"github.com/kanzleidev/portaltracker/internal/cache"
	"github.com/kanzleidev/portaltracker/internal/config"
	"github.com/kanzleidev/portaltracker/internal/lookup"
	"github.com/kanzleidev/portaltracker/internal/remote"
	"github.com/kanzleidev/portaltracker/internal/server"
	"github.com/kanzleidev/portaltracker/internal/syncer"
	"github.com/kanzleidev/portaltracker/internal/tracker"
)

var rootCmd = &cobra.Command{
	Use:   "trackerd",
	Short: "Portal migration tracker",
	Long: `trackerd keeps the portal migration case table consistent across a
local fallback cache and a remote store, and drives contact-directory
lookups and follow-up ticket creation.

Configuration is environment-driven: SUPABASE_URL / SUPABASE_ANON_KEY for
the remote store, ZENDESK_SUBDOMAIN / ZENDESK_EMAIL / ZENDESK_API_TOKEN for
the contact directory. Missing credentials degrade to local-only operation.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newLogger builds a component logger, rotating through a log file when one
// is configured and writing to stderr otherwise.
func newLogger(prefix string, cfg config.Config) *log.Logger {
	if cfg.LogFile != "" {
		return log.New(&lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}, prefix, log.LstdFlags)
	}
	return log.New(os.Stderr, prefix, log.LstdFlags)
}

// buildTracker assembles the full component stack from configuration.
// The returned cache must be closed by the caller.
func buildTracker(cfg config.Config) (*server.Tracker, *cache.Cache, error) {
	localCache, err := cache.Open(cfg.CachePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open local cache: %w", err)
	}

	var remoteStore syncer.RemoteStore
	if client, err := remote.New(cfg.SupabaseURL, cfg.SupabaseAnonKey); err == nil {
		remoteStore = client
	} else if !errors.Is(err, remote.ErrNotConfigured) {
		_ = localCache.Close()
		return nil, nil, fmt.Errorf("failed to create remote client: %w", err)
	}

	store := tracker.NewStore(nil)
	coordinator := syncer.New(store, remoteStore, localCache, &syncer.Config{
		DebounceInterval: cfg.DebounceInterval,
		DefaultRows:      cfg.DefaultRows,
		Logger:           newLogger("[syncer] ", cfg),
	})

	var lookupClient *lookup.Client
	if client, err := lookup.New(lookup.Config{
		Subdomain: cfg.ZendeskSubdomain,
		Email:     cfg.ZendeskEmail,
		APIToken:  cfg.ZendeskAPIToken,
		FieldKey:  cfg.ZendeskFieldKey,
	}); err == nil {
		lookupClient = client
	} else if !errors.Is(err, lookup.ErrNotConfigured) {
		_ = localCache.Close()
		return nil, nil, fmt.Errorf("failed to create lookup client: %w", err)
	}

	// A typed nil must not leak into the interface fields; the server and
	// runner treat a nil interface as "not configured".
	var batchClient batch.LookupClient
	if lookupClient != nil {
		batchClient = lookupClient
	}

	runner := batch.New(store, batchClient, coordinator, &batch.Config{
		LookupDelay: cfg.LookupDelay,
		TicketDelay: cfg.TicketDelay,
		Logger:      newLogger("[batch] ", cfg),
	})

	t := &server.Tracker{
		Coordinator: coordinator,
		Runner:      runner,
	}
	if lookupClient != nil {
		t.Lookup = lookupClient
	}
	return t, localCache, nil
}
