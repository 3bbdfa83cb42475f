package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ctxmind/ctxmind/internal/config"
	"github.com/ctxmind/ctxmind/internal/daemon"
	"github.com/ctxmind/ctxmind/internal/output"
)

// newMemoryCmd groups the memory_* daemon operations under one CLI verb,
// mirroring the search command's thin daemon-client-then-format shape.
func newMemoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect and manage this project's remembered context",
		Long: `Manage the memories ctxmind has accumulated for this project:
decisions, gotchas, and preferences surfaced across sessions.

Requires a running daemon ('ctxmind daemon start').`,
	}

	cmd.AddCommand(newMemorySearchCmd())
	cmd.AddCommand(newMemoryAddCmd())
	cmd.AddCommand(newMemoryGetCmd())
	cmd.AddCommand(newMemoryListCmd())
	cmd.AddCommand(newMemoryReinforceCmd())
	cmd.AddCommand(newMemoryDeemphasizeCmd())
	cmd.AddCommand(newMemoryDeleteCmd())
	cmd.AddCommand(newMemoryRestoreCmd())
	cmd.AddCommand(newMemorySupersedeCmd())
	cmd.AddCommand(newMemoryRelatedCmd())

	return cmd
}

// memoryProjectRoot resolves the project root and a connected client, or
// an error explaining how to fix either.
func memoryProjectRoot() (string, *daemon.Client, error) {
	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, _ = os.Getwd()
	}

	client := daemon.NewClient(daemon.DefaultConfig())
	if !client.IsRunning() {
		return "", nil, fmt.Errorf("daemon is not running. Run 'ctxmind daemon start' first")
	}
	return root, client, nil
}

func newMemorySearchCmd() *cobra.Command {
	var limit int
	var sector, tier, memType string
	var format string

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search remembered context by meaning",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, client, err := memoryProjectRoot()
			if err != nil {
				return err
			}
			result, err := client.MemorySearch(cmd.Context(), daemon.MemorySearchParams{
				RootPath: root, Query: strings.Join(args, " "), Limit: limit,
				Sector: sector, Tier: tier, MemoryType: memType,
			})
			if err != nil {
				return err
			}
			return printMemoryResults(cmd, result.Results, format)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().StringVar(&sector, "sector", "", "Filter by sector")
	cmd.Flags().StringVar(&tier, "tier", "", "Filter by tier")
	cmd.Flags().StringVar(&memType, "type", "", "Filter by memory type")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json")
	return cmd
}

func newMemoryAddCmd() *cobra.Command {
	var sector, memType string
	var importance float64
	var tags []string

	cmd := &cobra.Command{
		Use:   "add <content>",
		Short: "Store a new memory",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, client, err := memoryProjectRoot()
			if err != nil {
				return err
			}
			result, err := client.MemoryAdd(cmd.Context(), daemon.MemoryAddParams{
				RootPath: root, Content: strings.Join(args, " "),
				Sector: sector, MemoryType: memType, Importance: importance, Tags: tags,
			})
			if err != nil {
				return err
			}
			out := output.New(cmd.OutOrStdout())
			if result.IsDuplicate {
				out.Status("", fmt.Sprintf("Duplicate of existing memory %s", result.ID))
			} else {
				out.Success(fmt.Sprintf("Stored memory %s", result.ID))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sector, "sector", "", "Sector: episodic, semantic, procedural, emotional, reflective")
	cmd.Flags().StringVar(&memType, "type", "", "Memory type")
	cmd.Flags().Float64Var(&importance, "importance", 0.5, "Importance (0-1)")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "Tag (repeatable)")
	return cmd
}

func newMemoryGetCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Fetch a memory by id or prefix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, client, err := memoryProjectRoot()
			if err != nil {
				return err
			}
			result, err := client.MemoryGet(cmd.Context(), daemon.MemoryIDParams{RootPath: root, ID: args[0]})
			if err != nil {
				return err
			}
			return printMemoryResults(cmd, []daemon.MemoryResult{result}, format)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json")
	return cmd
}

func newMemoryListCmd() *cobra.Command {
	var limit int
	var sector, tier, memType string
	var deleted bool
	var format string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List this project's memories",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, client, err := memoryProjectRoot()
			if err != nil {
				return err
			}
			params := daemon.MemoryListParams{RootPath: root, Limit: limit, Sector: sector, Tier: tier, MemoryType: memType}
			var result daemon.MemoryListResult
			if deleted {
				result, err = client.MemoryListDeleted(cmd.Context(), params)
			} else {
				result, err = client.MemoryList(cmd.Context(), params)
			}
			if err != nil {
				return err
			}
			return printMemoryResults(cmd, result.Memories, format)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of results")
	cmd.Flags().StringVar(&sector, "sector", "", "Filter by sector")
	cmd.Flags().StringVar(&tier, "tier", "", "Filter by tier")
	cmd.Flags().StringVar(&memType, "type", "", "Filter by memory type")
	cmd.Flags().BoolVar(&deleted, "deleted", false, "List soft-deleted memories instead")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json")
	return cmd
}

func newMemoryReinforceCmd() *cobra.Command {
	var delta float64
	cmd := &cobra.Command{
		Use:   "reinforce <id>",
		Short: "Strengthen a memory's salience",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, client, err := memoryProjectRoot()
			if err != nil {
				return err
			}
			result, err := client.MemoryReinforce(cmd.Context(), daemon.MemoryIDParams{RootPath: root, ID: args[0], Delta: delta})
			if err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Success(fmt.Sprintf("Reinforced %s (salience now %.2f)", result.ID, result.Salience))
			return nil
		},
	}
	cmd.Flags().Float64Var(&delta, "delta", 0.1, "Salience increment")
	return cmd
}

func newMemoryDeemphasizeCmd() *cobra.Command {
	var delta float64
	cmd := &cobra.Command{
		Use:   "deemphasize <id>",
		Short: "Weaken a memory's salience",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, client, err := memoryProjectRoot()
			if err != nil {
				return err
			}
			result, err := client.MemoryDeemphasize(cmd.Context(), daemon.MemoryIDParams{RootPath: root, ID: args[0], Delta: delta})
			if err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Success(fmt.Sprintf("Deemphasized %s (salience now %.2f)", result.ID, result.Salience))
			return nil
		},
	}
	cmd.Flags().Float64Var(&delta, "delta", 0.1, "Salience decrement")
	return cmd
}

func newMemoryDeleteCmd() *cobra.Command {
	var hard, restore bool
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Soft-delete (or, with --hard, permanently remove) a memory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, client, err := memoryProjectRoot()
			if err != nil {
				return err
			}
			if restore {
				result, err := client.MemoryRestore(cmd.Context(), daemon.MemoryIDParams{RootPath: root, ID: args[0]})
				if err != nil {
					return err
				}
				output.New(cmd.OutOrStdout()).Success(fmt.Sprintf("Restored %s", result.ID))
				return nil
			}
			if err := client.MemoryDelete(cmd.Context(), daemon.MemoryIDParams{RootPath: root, ID: args[0], HardDelete: hard}); err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Success(fmt.Sprintf("Deleted %s", args[0]))
			return nil
		},
	}
	cmd.Flags().BoolVar(&hard, "hard", false, "Permanently remove instead of soft-delete")
	cmd.Flags().BoolVar(&restore, "restore", false, "Restore a previously soft-deleted memory instead")
	return cmd
}

func newMemoryRestoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore <id>",
		Short: "Undo a soft delete",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, client, err := memoryProjectRoot()
			if err != nil {
				return err
			}
			result, err := client.MemoryRestore(cmd.Context(), daemon.MemoryIDParams{RootPath: root, ID: args[0]})
			if err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Success(fmt.Sprintf("Restored %s", result.ID))
			return nil
		},
	}
	return cmd
}

func newMemorySupersedeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "supersede <old-id> <new-id>",
		Short: "Mark one memory superseded by another",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, client, err := memoryProjectRoot()
			if err != nil {
				return err
			}
			if err := client.MemorySupersede(cmd.Context(), daemon.MemoryIDParams{RootPath: root, ID: args[0], NewID: args[1]}); err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Success(fmt.Sprintf("%s superseded by %s", args[0], args[1]))
			return nil
		},
	}
	return cmd
}

func newMemoryRelatedCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "related <id>",
		Short: "List memories linked to a given memory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, client, err := memoryProjectRoot()
			if err != nil {
				return err
			}
			result, err := client.MemoryRelated(cmd.Context(), daemon.MemoryIDParams{RootPath: root, ID: args[0]})
			if err != nil {
				return err
			}
			return printMemoryResults(cmd, result.Memories, format)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json")
	return cmd
}

// printMemoryResults renders a list of memory results as text or JSON.
func printMemoryResults(cmd *cobra.Command, results []daemon.MemoryResult, format string) error {
	if format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	out := output.New(cmd.OutOrStdout())
	if len(results) == 0 {
		out.Status("", "No memories found")
		return nil
	}
	for _, m := range results {
		out.Statusf("", "%s  [%s/%s]  salience=%.2f", m.ID, m.Sector, m.Tier, m.Salience)
		snippet := m.Content
		if len(snippet) > 120 {
			snippet = snippet[:120] + "..."
		}
		out.Status("", "   "+snippet)
	}
	return nil
}
