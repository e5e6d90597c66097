// Package config loads tracker configuration from the environment.
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration values.
//
// Remote store and lookup backend credentials are optional: missing values
// degrade the tracker to local-only operation instead of failing startup.
type Config struct {
	// Remote store (Supabase-style REST endpoint)
	SupabaseURL     string
	SupabaseAnonKey string

	// Contact directory (Zendesk)
	ZendeskSubdomain string
	ZendeskEmail     string
	ZendeskAPIToken  string
	ZendeskFieldKey  string

	// Local state
	CachePath string
	SpoolDir  string

	// Server
	ListenPort int

	// Logging
	LogFile string

	// Tuning
	DefaultRows      int
	DebounceInterval time.Duration
	LookupDelay      time.Duration
	TicketDelay      time.Duration
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("SUPABASE_URL", "")
	v.SetDefault("SUPABASE_ANON_KEY", "")
	v.SetDefault("ZENDESK_SUBDOMAIN", "")
	v.SetDefault("ZENDESK_EMAIL", "")
	v.SetDefault("ZENDESK_API_TOKEN", "")
	v.SetDefault("ZENDESK_FIELD_KEY", "aktenzeichen")
	v.SetDefault("TRACKER_CACHE_PATH", ".tracker/cache.db")
	v.SetDefault("TRACKER_SPOOL_DIR", "")
	v.SetDefault("TRACKER_LISTEN_PORT", 8484)
	v.SetDefault("TRACKER_LOG_FILE", "")
	v.SetDefault("TRACKER_DEFAULT_ROWS", 20)
	v.SetDefault("TRACKER_DEBOUNCE_MS", 500)
	v.SetDefault("TRACKER_LOOKUP_DELAY_MS", 300)
	v.SetDefault("TRACKER_TICKET_DELAY_MS", 500)

	return Config{
		SupabaseURL:      v.GetString("SUPABASE_URL"),
		SupabaseAnonKey:  v.GetString("SUPABASE_ANON_KEY"),
		ZendeskSubdomain: v.GetString("ZENDESK_SUBDOMAIN"),
		ZendeskEmail:     v.GetString("ZENDESK_EMAIL"),
		ZendeskAPIToken:  v.GetString("ZENDESK_API_TOKEN"),
		ZendeskFieldKey:  v.GetString("ZENDESK_FIELD_KEY"),
		CachePath:        v.GetString("TRACKER_CACHE_PATH"),
		SpoolDir:         v.GetString("TRACKER_SPOOL_DIR"),
		ListenPort:       v.GetInt("TRACKER_LISTEN_PORT"),
		LogFile:          v.GetString("TRACKER_LOG_FILE"),
		DefaultRows:      v.GetInt("TRACKER_DEFAULT_ROWS"),
		DebounceInterval: time.Duration(v.GetInt("TRACKER_DEBOUNCE_MS")) * time.Millisecond,
		LookupDelay:      time.Duration(v.GetInt("TRACKER_LOOKUP_DELAY_MS")) * time.Millisecond,
		TicketDelay:      time.Duration(v.GetInt("TRACKER_TICKET_DELAY_MS")) * time.Millisecond,
	}
}

// RemoteConfigured reports whether a remote store is configured.
func (c Config) RemoteConfigured() bool {
	return c.SupabaseURL != "" && c.SupabaseAnonKey != ""
}

// LookupConfigured reports whether the contact directory is configured.
func (c Config) LookupConfigured() bool {
	return c.ZendeskSubdomain != "" && c.ZendeskEmail != "" && c.ZendeskAPIToken != ""
}
