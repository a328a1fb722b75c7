package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"medup/internal/app"
	"medup/internal/config"
	"medup/internal/dedup"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates a MedupApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "Scan", "Apply").
func newApp(ctx context.Context, operation string) (*app.MedupApp, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewMedupApp(ctx, cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

// readPassphrase prompts on stderr and reads a passphrase without echo.
func readPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	pass, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(pass), nil
}

func printEntry(n int, e dedup.ReviewEntry) {
	mark := func(b bool) string {
		if b {
			return "[x]"
		}
		return "[ ]"
	}
	fmt.Printf("%4d. %s %s (%s)\n", n, mark(e.DeleteLeft), e.Pair.Left.Path, humanize.IBytes(e.Pair.Left.Size))
	fmt.Printf("      %s %s (%s)  [%s]\n", mark(e.DeleteRight), e.Pair.Right.Path, humanize.IBytes(e.Pair.Right.Size), e.Pair.Reason)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

var rootCmd = &cobra.Command{
	Use:          "medup",
	Short:        "Find duplicate photos and videos and remove them safely",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults.BaseDir)
		if err := config.Init(defaults.ConfigPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults.ConfigPath)
		fmt.Printf("Base Dir: %s\n", defaults.BaseDir)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults.ConfigPath)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults.ConfigPath)
		fmt.Printf("Base Dir:   %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:    %s\n", cfg.LogDir)
		fmt.Printf("Scan Mode:  %s\n", cfg.Scan.Mode)
		fmt.Printf("Database:   %s %s\n", cfg.Database.Type, cfg.Database.DataDir)
		fmt.Printf("Cache:      %s %s\n", cfg.Cache.Type, cfg.Cache.Path)
		switch cfg.Trash.Type {
		case "s3":
			fmt.Printf("Trash:      s3://%s/%s (encrypt=%v)\n", cfg.Trash.S3Bucket, cfg.Trash.S3Prefix, cfg.Trash.Encrypt)
		default:
			fmt.Printf("Trash:      %s %s (encrypt=%v)\n", cfg.Trash.Type, cfg.Trash.FSTrashRoot, cfg.Trash.Encrypt)
		}
		return nil
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage trash encryption keys",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the trash encryption key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}
		cfg, err := config.ReadFromFile(defaults.ConfigPath)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		pass, err := readPassphrase("New passphrase: ")
		if err != nil {
			return fmt.Errorf("reading passphrase: %w", err)
		}
		confirm, err := readPassphrase("Confirm passphrase: ")
		if err != nil {
			return fmt.Errorf("reading passphrase: %w", err)
		}
		if pass != confirm {
			return fmt.Errorf("passphrases do not match")
		}

		if err := app.InitKeys(cfg, pass); err != nil {
			return err
		}
		fmt.Printf("Keys written to %s\n", filepath.Dir(cfg.Encryption.PrivateKeyPath))
		return nil
	},
}

// scan command
var scanCmd = &cobra.Command{
	Use:   "scan ROOT [ROOT2]",
	Short: "Find duplicates in one tree, or between two trees",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, _ := cmd.Flags().GetString("mode")

		a, err := newApp(cmd.Context(), "Scan")
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Scan(cmd.Context(), args, mode)
		if err != nil {
			if errors.Is(err, dedup.ErrScanInProgress) {
				return fmt.Errorf("a scan of these roots is already running")
			}
			return fmt.Errorf("scan failed: %w", err)
		}

		for _, s := range res.Skipped {
			fmt.Fprintf(os.Stderr, "skipped %s: %v\n", s.Path, s.Err)
		}
		fmt.Printf("Indexed %d file(s), skipped %d\n", res.Session.Files, res.Session.Skipped)
		if res.NoMatches {
			fmt.Println("No duplicates found.")
			return nil
		}
		fmt.Printf("Found %d candidate pair(s). Review them with 'medup pairs'.\n", res.Pairs)
		return nil
	},
}

// pairs command
var pairsCmd = &cobra.Command{
	Use:   "pairs",
	Short: "List candidate pairs of the current session",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Pairs")
		if err != nil {
			return err
		}
		defer a.Close()

		session, err := a.Session()
		if err != nil {
			return err
		}

		entries := session.Ledger.Entries()
		if len(entries) == 0 {
			fmt.Println("No candidate pairs.")
			return nil
		}
		for i, e := range entries {
			printEntry(i+1, e)
		}
		return nil
	},
}

// mark command
var markCmd = &cobra.Command{
	Use:   "mark N left|right",
	Short: "Toggle deletion of one side of pair N",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid pair number: %q", args[0])
		}

		a, err := newApp(cmd.Context(), "Mark")
		if err != nil {
			return err
		}
		defer a.Close()

		e, err := a.Toggle(n, args[1])
		if err != nil {
			return err
		}
		printEntry(n, e)
		return nil
	},
}

func newSelectCmd(use, short string, value bool) *cobra.Command {
	return &cobra.Command{
		Use:       use + " left|right",
		Short:     short,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"left", "right"},
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), "SetAll")
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.SetAll(args[0], value)
			if err != nil {
				return err
			}
			verb := "Marked"
			if !value {
				verb = "Cleared"
			}
			fmt.Printf("%s the %s side of %d pair(s)\n", verb, args[0], n)
			return nil
		},
	}
}

var selectCmd = newSelectCmd("select", "Mark one side of every pair for deletion", true)
var deselectCmd = newSelectCmd("deselect", "Clear one side of every pair", false)

// apply command
var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Move every marked file to the trash",
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")

		a, err := newApp(cmd.Context(), "Apply")
		if err != nil {
			return err
		}
		defer a.Close()

		approved, err := a.Approved()
		if err != nil {
			return err
		}
		if len(approved) == 0 {
			fmt.Println("Nothing marked for deletion.")
			return nil
		}

		var total uint64
		for _, ap := range approved {
			total += ap.Size
		}
		if !yes {
			fmt.Printf("Move %d file(s) (%s) to the trash? [y/N] ", len(approved), humanize.IBytes(total))
			var answer string
			fmt.Scanln(&answer)
			if !strings.EqualFold(answer, "y") && !strings.EqualFold(answer, "yes") {
				fmt.Println("Aborted.")
				return nil
			}
		}

		res, err := a.Apply(cmd.Context())
		if res != nil {
			for path, ferr := range res.Failed {
				fmt.Fprintf(os.Stderr, "failed %s: %v\n", path, ferr)
			}
			fmt.Printf("Moved %d file(s) to the trash, reclaimed %s\n", len(res.Succeeded), humanize.IBytes(res.Reclaimed))
		}
		if err != nil {
			return err
		}
		if res != nil && len(res.Failed) > 0 {
			return fmt.Errorf("%d file(s) could not be removed", len(res.Failed))
		}
		return nil
	},
}

// report command
var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Export the current session",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")

		a, err := newApp(cmd.Context(), "Report")
		if err != nil {
			return err
		}
		defer a.Close()

		w := os.Stdout
		if output != "" && output != "-" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating report file: %w", err)
			}
			defer f.Close()
			w = f
		}
		return a.Report(w, format)
	},
}

// trash command
var trashCmd = &cobra.Command{
	Use:   "trash",
	Short: "Inspect and restore trashed files",
}

var trashListCmd = &cobra.Command{
	Use:   "list",
	Short: "List trashed files",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "ListTrash")
		if err != nil {
			return err
		}
		defer a.Close()

		items, err := a.ListTrash(cmd.Context())
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Println("Trash is empty.")
			return nil
		}
		for _, it := range items {
			enc := ""
			if it.Encrypted {
				enc = "  [encrypted]"
			}
			fmt.Printf("%s  %s  %8s  %s%s\n",
				it.ID,
				it.DeletedAt.Local().Format("2006-01-02 15:04:05"),
				humanize.IBytes(uint64(it.Size)),
				it.OriginalPath,
				enc,
			)
		}
		return nil
	},
}

var trashRestoreCmd = &cobra.Command{
	Use:   "restore ID",
	Short: "Restore a trashed file to its original path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "RestoreTrash")
		if err != nil {
			return err
		}
		defer a.Close()

		item, err := a.RestoreTrash(cmd.Context(), args[0], func() (string, error) {
			return readPassphrase("Passphrase: ")
		})
		if err != nil {
			return err
		}
		fmt.Printf("Restored %s\n", item.OriginalPath)
		return nil
	},
}

// tag command
var tagCmd = &cobra.Command{
	Use:   "tag FILE...",
	Short: "Set the capture time of image files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		date, _ := cmd.Flags().GetString("date")

		a, err := newApp(cmd.Context(), "Tag")
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.TagFiles(cmd.Context(), date, args)
		if res != nil {
			for path, ferr := range res.Failed {
				fmt.Fprintf(os.Stderr, "failed %s: %v\n", path, ferr)
			}
			fmt.Printf("Tagged %d file(s) with %s\n", len(res.Succeeded), date)
		}
		if err != nil {
			return err
		}
		if res != nil && len(res.Failed) > 0 {
			return fmt.Errorf("%d file(s) could not be tagged", len(res.Failed))
		}
		return nil
	},
}

// renumber command
var renumberCmd = &cobra.Command{
	Use:   "renumber DIR",
	Short: "Reverse the numbering of 1.jpg, 2.jpg, ... in a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		a, err := newApp(cmd.Context(), "Renumber")
		if err != nil {
			return err
		}
		defer a.Close()

		plan, err := a.Renumber(args[0], dryRun)
		if err != nil {
			return err
		}
		for _, m := range plan.Moves {
			fmt.Printf("%s -> %s\n", filepath.Base(m.From), filepath.Base(m.To))
		}
		if dryRun {
			fmt.Printf("Would rename %d file(s)\n", len(plan.Moves))
		} else {
			fmt.Printf("Renamed %d file(s)\n", len(plan.Moves))
		}
		return nil
	},
}

// find-prefix command
var findPrefixCmd = &cobra.Command{
	Use:   "find-prefix DIR PREFIX",
	Short: "List files whose names start with PREFIX",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "FindByPrefix")
		if err != nil {
			return err
		}
		defer a.Close()

		paths, err := a.FindByPrefix(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		if len(paths) == 0 {
			fmt.Println("No matching files.")
			return nil
		}
		for _, p := range paths {
			fmt.Println(p)
		}
		return nil
	},
}

// diff command
var diffCmd = &cobra.Command{
	Use:   "diff ROOT1 ROOT2",
	Short: "Compare two trees file by file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Diff")
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Diff(cmd.Context(), args[0], args[1])
		if err != nil {
			return fmt.Errorf("diff failed: %w", err)
		}

		section := func(title string, paths []string) {
			if len(paths) == 0 {
				return
			}
			fmt.Println(title)
			for _, p := range paths {
				fmt.Printf("  %s\n", p)
			}
		}
		section("Only in "+res.Left+":", res.OnlyLeft)
		section("Only in "+res.Right+":", res.OnlyRight)
		section("Different content:", res.Differ)
		if len(res.Unreadable) > 0 {
			fmt.Println("Could not compare:")
			for _, s := range res.Unreadable {
				fmt.Printf("  %s: %v\n", s.Path, s.Err)
			}
		}
		if res.Identical() {
			fmt.Printf("Trees are identical (%d file(s)).\n", res.Same)
		} else {
			fmt.Printf("%d identical file(s)\n", res.Same)
		}
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View operation and deletion history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		deletions, _ := cmd.Flags().GetBool("deletions")

		a, err := newApp(cmd.Context(), "GetHistory")
		if err != nil {
			return err
		}
		defer a.Close()

		if deletions {
			recs, err := a.GetDeletions(limit)
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				fmt.Println("No deletions recorded.")
				return nil
			}
			for _, r := range recs {
				detail := r.TrashID
				if r.Status == dedup.DeletionFailed {
					detail = r.Error
				}
				fmt.Printf("%s  %-9s  %8s  %s  %s\n",
					r.CreatedAt.Local().Format("2006-01-02 15:04:05"),
					r.Status,
					humanize.IBytes(r.Size),
					r.Path,
					detail,
				)
			}
			return nil
		}

		ops, err := a.GetHistory(limit)
		if err != nil {
			return err
		}
		if len(ops) == 0 {
			fmt.Println("No operations recorded.")
			return nil
		}
		for _, op := range ops {
			duration := ""
			if op.FinishedAt != nil {
				d := op.FinishedAt.Sub(op.StartedAt)
				duration = d.Truncate(time.Millisecond).String()
			}
			fmt.Printf("%s  %-13s  %s  %-8s  %-10s  %s\n",
				shortID(op.ID),
				op.Operation,
				op.StartedAt.Local().Format("2006-01-02 15:04:05"),
				op.Status,
				duration,
				op.Parameters,
			)
		}
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	keysCmd.AddCommand(keysInitCmd)

	trashCmd.AddCommand(trashListCmd)
	trashCmd.AddCommand(trashRestoreCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().StringP("mode", "m", "", "Comparison mode: exact, metadata or size (default from config)")
	rootCmd.AddCommand(pairsCmd)
	rootCmd.AddCommand(markCmd)
	rootCmd.AddCommand(selectCmd)
	rootCmd.AddCommand(deselectCmd)
	rootCmd.AddCommand(applyCmd)
	applyCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(reportCmd)
	reportCmd.Flags().StringP("format", "f", "text", "Output format: text, json, yaml or csv")
	reportCmd.Flags().StringP("output", "o", "", "Write to a file instead of stdout")
	rootCmd.AddCommand(trashCmd)
	rootCmd.AddCommand(tagCmd)
	tagCmd.Flags().String("date", "", `Capture time as "YYYY:MM:DD HH:MM:SS"`)
	tagCmd.MarkFlagRequired("date")
	rootCmd.AddCommand(renumberCmd)
	renumberCmd.Flags().BoolP("dry-run", "n", false, "Show the renames without applying them")
	rootCmd.AddCommand(findPrefixCmd)
	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of entries to show")
	historyCmd.Flags().Bool("deletions", false, "Show deletion outcomes instead of operations")
}
