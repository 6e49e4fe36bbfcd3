// identity-subctl is the operator CLI for the identity event subscriber:
// inspect the dead-letter quarantine, release entries back into the
// pipeline, and check pipeline lag.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/btall/core-africare-identity-sub001/internal/adminclient"
)

var (
	serverURL    string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "identity-subctl",
	Short: "Operator CLI for the africare identity event subscriber",
	Long: `identity-subctl talks to the admin API of a running identity-sub
instance. Use it to inspect quarantined events, release them back into the
pipeline after fixing the underlying fault, and watch pipeline lag.`,
	Version: "0.1.0",
}

var quarantineCmd = &cobra.Command{
	Use:   "quarantine",
	Short: "Dead-letter quarantine management",
}

var quarantineListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List quarantined events",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		resp, err := adminclient.New(serverURL).ListQuarantine(limit)
		if err != nil {
			return err
		}

		if outputFormat == "json" {
			return printJSON(resp.Entries)
		}

		if resp.Count == 0 {
			fmt.Println("Quarantine is empty")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ENTRY ID\tTYPE\tCLIENT\tATTEMPTS\tQUARANTINED AT\tREASON")
		for _, rec := range resp.Entries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
				rec.EntryID, rec.EventType, rec.ClientID, rec.DeliveryCount,
				rec.QuarantinedAt.Format("2006-01-02 15:04:05"), rec.Reason)
		}
		return w.Flush()
	},
}

var quarantineGetCmd = &cobra.Command{
	Use:   "get [entry-id]",
	Short: "Show one quarantined event, including its payload",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rec, err := adminclient.New(serverURL).GetQuarantined(args[0])
		if err != nil {
			return err
		}
		return printJSON(rec)
	},
}

var quarantineReprocessCmd = &cobra.Command{
	Use:   "reprocess [entry-id]",
	Short: "Release a quarantined event back into the pipeline",
	Long: `Re-appends the quarantined event to the durable log as a fresh entry
with a reset retry budget, then removes it from quarantine.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := adminclient.New(serverURL).Reprocess(args[0])
		if err != nil {
			return err
		}

		if outputFormat == "json" {
			return printJSON(resp)
		}
		fmt.Printf("Reprocessed %s as new entry %s\n", resp.EntryID, resp.NewEntryID)
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show pipeline lag and quarantine size",
	RunE: func(cmd *cobra.Command, args []string) error {
		stats, err := adminclient.New(serverURL).GetStats()
		if err != nil {
			return err
		}

		if outputFormat == "json" {
			return printJSON(stats)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "Stream length\t%d\n", stats.StreamLength)
		fmt.Fprintf(w, "Pending deliveries\t%d\n", stats.PendingCount)
		fmt.Fprintf(w, "Quarantined\t%d\n", stats.QuarantineLength)
		return w.Flush()
	},
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8094", "identity-sub base URL")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "output", "table", "output format: table, json")

	quarantineListCmd.Flags().Int("limit", 100, "maximum entries to list")

	quarantineCmd.AddCommand(quarantineListCmd, quarantineGetCmd, quarantineReprocessCmd)
	rootCmd.AddCommand(quarantineCmd, statsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
