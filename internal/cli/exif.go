package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/shotsapp/shots/internal/exif"
)

// NewExifCommand creates the exif command.
func NewExifCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "exif [file]",
		Short: "Format raw EXIF properties for display",
		Long: `Read raw image properties as JSON from a file (or stdin when no file
or "-" is given) and print the display fields as JSON.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			return runExif(in, cmd.OutOrStdout())
		},
	}
}

func runExif(in io.Reader, out io.Writer) error {
	var raw exif.Raw
	if err := json.NewDecoder(in).Decode(&raw); err != nil {
		return fmt.Errorf("decode exif properties: %w", err)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(exif.FromRaw(raw))
}
