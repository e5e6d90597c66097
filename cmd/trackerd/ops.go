package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kanzleidev/portaltracker/internal/config"
	"github.com/kanzleidev/portaltracker/internal/lookup"
	"github.com/kanzleidev/portaltracker/internal/server"
)

var lookupTicket bool

var lookupCmd = &cobra.Command{
	Use:   "lookup <aktenzeichen>",
	Short: "Look up a case reference in the contact directory",
	Long: `Search the contact directory for the given case reference and print
the classified result.

With --ticket, a follow-up ticket is created when, and only when, the
contact has all required fields (E-Mail, Adresse, Geburtsdatum).`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()

		client, err := lookup.New(lookup.Config{
			Subdomain: cfg.ZendeskSubdomain,
			Email:     cfg.ZendeskEmail,
			APIToken:  cfg.ZendeskAPIToken,
			FieldKey:  cfg.ZendeskFieldKey,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		var result lookup.Result
		if lookupTicket {
			result, err = client.LookupAndCreateTicket(ctx, args[0])
		} else {
			result, err = client.Lookup(ctx, args[0])
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		switch result.Kind {
		case lookup.KindNotFound:
			fmt.Printf("No contact found for %s\n", args[0])
		case lookup.KindIncomplete:
			fmt.Printf("Contact: %s (incomplete, missing: %s)\n", result.Name, strings.Join(result.Missing, ", "))
			fmt.Printf("URL: %s\n", result.ContactURL)
		case lookup.KindFound:
			fmt.Printf("Contact: %s <%s>\n", result.Name, result.Email)
			fmt.Printf("URL: %s\n", result.ContactURL)
			if result.TicketID != 0 {
				fmt.Printf("Ticket: %s\n", result.TicketURL)
			}
		}
	},
}

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run batch lookups over the tracked rows",
}

var batchLookupCmd = &cobra.Command{
	Use:   "lookup",
	Short: "Look up every row with a case reference and no contact URL yet",
	Run: func(cmd *cobra.Command, args []string) {
		runBatch(func(ctx context.Context, t *server.Tracker) error {
			return t.Runner.RunLookups(ctx)
		})
	},
}

var batchTicketsCmd = &cobra.Command{
	Use:   "tickets <row-id>...",
	Short: "Create follow-up tickets for the selected rows",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runBatch(func(ctx context.Context, t *server.Tracker) error {
			return t.Runner.RunTicketCreation(ctx, args)
		})
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Replace all rows with a fresh default batch",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()

		t, localCache, err := buildTracker(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer localCache.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		t.Coordinator.Bootstrap(ctx)
		rows := t.Coordinator.Reset(ctx)
		t.Coordinator.Flush(ctx)

		fmt.Printf("Reset to %d fresh rows (sync: %s)\n", len(rows), t.Status())
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show tracker state and progress counters",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()

		t, localCache, err := buildTracker(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer localCache.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		t.Coordinator.Bootstrap(ctx)

		store := t.Coordinator.Store()
		stats := store.Stats()

		fmt.Printf("\nPortal Migration Tracker\n\n")
		fmt.Printf("Rows: %d\n", store.Len())
		fmt.Printf("Sync: %s\n", t.Status())
		fmt.Printf("Erfasst: %d\n", stats.Total)
		fmt.Printf("Portal angelegt: %d\n", stats.PortalCreated)
		fmt.Printf("E-Mail raus: %d\n", stats.EmailSent)
		fmt.Printf("Docs hochgeladen: %d\n", stats.DocsUploaded)
		fmt.Printf("Abgeschlossen: %d\n", stats.Done)
		fmt.Println()
	},
}

// runBatch boots the stack, runs one batch to completion and flushes.
func runBatch(run func(context.Context, *server.Tracker) error) {
	cfg := config.Load()

	t, localCache, err := buildTracker(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer localCache.Close()

	if t.Lookup == nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", lookup.ErrNotConfigured)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	t.Coordinator.Bootstrap(ctx)

	start := time.Now()
	if err := run(ctx, t); err != nil {
		fmt.Fprintf(os.Stderr, "Error during batch: %v\n", err)
		os.Exit(1)
	}
	t.Coordinator.Flush(ctx)

	fmt.Printf("Batch complete in %v (sync: %s)\n", time.Since(start).Round(time.Millisecond), t.Status())
}

func init() {
	lookupCmd.Flags().BoolVar(&lookupTicket, "ticket", false, "create a follow-up ticket when the contact is complete")
	batchCmd.AddCommand(batchLookupCmd)
	batchCmd.AddCommand(batchTicketsCmd)
	rootCmd.AddCommand(lookupCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(statusCmd)
}
