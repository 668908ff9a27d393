package cli

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lyallcooper/rescuex/internal/classify"
	"github.com/lyallcooper/rescuex/internal/config"
	"github.com/lyallcooper/rescuex/internal/logging"
	"github.com/lyallcooper/rescuex/internal/services"
	"github.com/lyallcooper/rescuex/internal/types"
	"github.com/lyallcooper/rescuex/internal/walker"
)

type scanOptions struct {
	category       string
	custom         string
	hiddenFiles    bool
	hiddenDirs     bool
	recoverTo      string
	categoriesFile string
	logLevel       string
	quiet          bool
}

// NewScanCommand creates the 'rescuex scan' command
func NewScanCommand() *cobra.Command {
	opts := &scanOptions{}

	cmd := &cobra.Command{
		Use:   "scan <drive-or-folder>",
		Short: "Scan a drive or folder and list matching files",
		Long: `Walk a drive or folder and list every file whose extension belongs to
the selected category, or to --custom when given. With --recover-to the
matches are copied to that folder once the scan finishes.

Press Ctrl-C to stop early; files found so far are still listed and
recovered. Nothing is written to the history database.`,
		Example: `  rescuex scan /media/usb --category "[Pictures]"
  rescuex scan D:\ --custom ".cr2,.nef" --recover-to ~/Recovered`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger, err := logging.New(opts.logLevel, "console")
			if err != nil {
				return err
			}
			defer logger.Sync()

			return runScan(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), logger, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.category, "category", "[Pictures]", "Category to scan for")
	cmd.Flags().StringVar(&opts.custom, "custom", "", "Comma-separated extension list; replaces --category")
	cmd.Flags().BoolVar(&opts.hiddenFiles, "hidden-files", false, "Include hidden files")
	cmd.Flags().BoolVar(&opts.hiddenDirs, "hidden-dirs", false, "Descend into hidden folders")
	cmd.Flags().StringVar(&opts.recoverTo, "recover-to", "", "Copy every match to this folder")
	cmd.Flags().StringVar(&opts.categoriesFile, "categories", "", "YAML file with extra categories")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "warn", "Log level for walk warnings")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "Only print the summary")

	return cmd
}

func runScan(ctx context.Context, out, errOut io.Writer, logger *zap.SugaredLogger, root string, opts *scanOptions) error {
	catalog := classify.NewCatalog()
	if opts.categoriesFile != "" {
		if err := catalog.LoadFile(config.ExpandPath(opts.categoriesFile)); err != nil {
			return err
		}
	}

	req := types.ScanRequest{
		RootPath:           config.ExpandPath(root),
		Category:           opts.category,
		IncludeHiddenFiles: opts.hiddenFiles,
		IncludeHiddenDirs:  opts.hiddenDirs,
	}
	if opts.custom != "" {
		req.UseCustom = true
		req.CustomExtensions = classify.ParseCustomList(opts.custom)
	} else if _, ok := catalog.Extensions(opts.category); !ok {
		return fmt.Errorf("unknown category %q (known: %s)", opts.category, strings.Join(catalog.Names(), ", "))
	}

	scanner := services.NewScanner(nil, walker.New(logger), catalog, logger, services.Options{ProgressRate: 4})
	defer scanner.Shutdown(context.Background())

	sess, err := scanner.StartScan(ctx, req, nil)
	if err != nil {
		return err
	}

	p := newPalette(out)
	p.bold.Fprintf(out, "Scanning %s for %s\n", req.RootPath,
		selectionText(catalog, req))

	updates := scanner.Subscribe(sess.ID)
	showProgress := isTerminal(errOut)
	for done := false; !done; {
		select {
		case <-ctx.Done():
			scanner.Cancel(sess.ID)
			// Drain so the walk can finish and close the channel
			for range updates {
			}
			done = true
		case state, ok := <-updates:
			if !ok {
				done = true
				break
			}
			if showProgress {
				fmt.Fprintf(errOut, "\r%s found, %s folders", humanize.Comma(state.TotalFound), humanize.Comma(state.Dirs))
			}
		}
	}
	if showProgress {
		fmt.Fprintln(errOut)
	}
	if err := sess.Wait(context.Background()); err != nil {
		return err
	}

	state := sess.State()
	records := sess.Store.All()
	if !opts.quiet {
		printRecords(out, p, records)
	}
	printScanSummary(out, p, state, sess.Store.TotalBytes())

	if opts.recoverTo == "" || len(records) == 0 {
		return nil
	}

	dest := config.ExpandPath(opts.recoverTo)
	outcome, err := scanner.RecoverAll(context.Background(), sess.ID, dest)
	if err != nil {
		return err
	}
	printOutcome(out, p, outcome, dest)
	if len(outcome.Failures) > 0 {
		return fmt.Errorf("%d of %d files could not be recovered", len(outcome.Failures), outcome.Attempted)
	}
	return nil
}

func printRecords(w io.Writer, p *palette, records []types.FileRecord) {
	for _, rec := range records {
		fmt.Fprintf(w, "%10s  %s", humanize.Bytes(uint64(max(rec.SizeBytes, 0))), rec.Path)
		if rec.Condition != types.ConditionGood {
			p.yellow.Fprintf(w, "  (%s)", rec.Condition)
		}
		fmt.Fprintln(w)
	}
}

func printScanSummary(w io.Writer, p *palette, state types.ScanState, totalBytes int64) {
	fmt.Fprintln(w)
	if state.Cancelled {
		p.yellow.Fprintln(w, "Scan cancelled; results are partial.")
	}
	p.bold.Fprintf(w, "Found %s files", humanize.Comma(state.TotalFound))
	fmt.Fprintf(w, " (%s) in %s folders", humanize.Bytes(uint64(max(totalBytes, 0))), humanize.Comma(state.Dirs))
	if state.Skipped > 0 {
		p.faint.Fprintf(w, ", %s skipped", humanize.Comma(state.Skipped))
	}
	fmt.Fprintln(w)
}

func printOutcome(w io.Writer, p *palette, outcome types.RecoveryOutcome, dest string) {
	c := p.green
	if outcome.Succeeded < outcome.Attempted {
		c = p.yellow
	}
	c.Fprintf(w, "Recovered %d of %d files to %s\n", outcome.Succeeded, outcome.Attempted, dest)
	for _, f := range outcome.Failures {
		p.red.Fprintf(w, "  failed: %s: %s\n", f.Path, f.Reason)
	}
}

func selectionText(c *classify.Catalog, req types.ScanRequest) string {
	if req.UseCustom {
		return "custom extensions " + classify.Describe(req.CustomExtensions)
	}
	exts, _ := c.Extensions(req.Category)
	return req.Category + " (" + classify.Describe(exts) + ")"
}
