package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/lyallcooper/rescuex/internal/volumes"
)

// volumeLister is satisfied by *volumes.Lister
type volumeLister interface {
	List(ctx context.Context) ([]volumes.Volume, error)
}

// NewDrivesCommand creates the 'rescuex drives' command
func NewDrivesCommand(lister volumeLister) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "drives",
		Short: "List mounted drives that can be scanned",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			vols, err := lister.List(ctx)
			if err != nil {
				return fmt.Errorf("list drives: %w", err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(vols)
			}

			if len(vols) == 0 {
				fmt.Fprintln(out, "No drives found")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "MOUNTPOINT\tDEVICE\tTYPE\tFREE\tSIZE")
			for _, v := range vols {
				free, size := "-", "-"
				if v.UsageKnown {
					free, size = humanize.Bytes(v.FreeBytes), humanize.Bytes(v.TotalBytes)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", v.Mountpoint, v.Device, v.FSType, free, size)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print drives as JSON")

	return cmd
}
