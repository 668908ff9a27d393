// Package cli implements the rescuex command line: the web server, one-shot
// scans and drive listing.
package cli

import (
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/lyallcooper/rescuex/internal/volumes"
)

// Version info - injected at build time via ldflags
var (
	Version = "dev"
	Commit  = "unknown"
)

// NewRootCommand creates the root command with every subcommand attached
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rescuex",
		Short: "Find and recover files by type",
		Long: `rescuex walks a drive or folder, lists the files matching a category
such as [Pictures] or a custom extension list, and copies the ones you pick
to a recovery folder.

Run "rescuex serve" for the web interface or "rescuex scan" for a one-shot
scan from the terminal.`,
		Version: Version,
		// Silence usage on errors to avoid duplicate help text
		SilenceUsage: true,
	}

	cmd.AddCommand(NewServeCommand())
	cmd.AddCommand(NewScanCommand())
	cmd.AddCommand(NewDrivesCommand(volumes.NewLister()))

	return cmd
}

// palette holds the output colors. Colors are off unless w is a terminal.
type palette struct {
	bold   *color.Color
	green  *color.Color
	red    *color.Color
	yellow *color.Color
	faint  *color.Color
}

func newPalette(w io.Writer) *palette {
	p := &palette{
		bold:   color.New(color.Bold),
		green:  color.New(color.FgGreen),
		red:    color.New(color.FgRed),
		yellow: color.New(color.FgYellow),
		faint:  color.New(color.Faint),
	}
	on := isTerminal(w)
	for _, c := range []*color.Color{p.bold, p.green, p.red, p.yellow, p.faint} {
		if on {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}
