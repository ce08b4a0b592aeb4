package inspect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rzbill/logsrd/internal/cmd/output"
	"github.com/rzbill/logsrd/internal/entry"
	"github.com/rzbill/logsrd/internal/persist"
)

// ErrNotClean is returned by --verify when the file has bytes past its last
// valid entry.
var ErrNotClean = errors.New("log file is not clean")

// Options control one inspection.
type Options struct {
	Path        string
	Filter      string
	Limit       int
	Checkpoints bool
	Verify      bool
	// Kind forces the file kind; nil detects it from the first byte.
	Kind *persist.Kind
}

// Summary reports what a scan found.
type Summary struct {
	Path    string `json:"path"`
	Kind    string `json:"kind"`
	Size    int64  `json:"size"`
	End     int64  `json:"end"`
	Entries int    `json:"entries"`
	Matched int    `json:"matched"`
	Clean   bool   `json:"clean"`
	Error   string `json:"error,omitempty"`
}

// Run scans opts.Path and writes every matching item to w as one JSON object
// per line, followed by a summary line.
func Run(ctx context.Context, w io.Writer, opts Options) (Summary, error) {
	filter, err := newCELFilter(opts.Filter)
	if err != nil {
		return Summary{}, fmt.Errorf("invalid --filter: %w", err)
	}
	kind := persist.Global
	if opts.Kind != nil {
		kind = *opts.Kind
	} else if kind, err = persist.DetectKind(opts.Path); err != nil {
		return Summary{}, err
	}
	f, err := os.Open(opts.Path)
	if err != nil {
		return Summary{}, err
	}
	defer f.Close()

	sum := Summary{Path: opts.Path, Kind: kind.String()}
	enc := json.NewEncoder(w)
	res, err := persist.Scan(ctx, f, kind, func(it persist.Item) error {
		_, isCP := it.Entry.(entry.Checkpoint)
		if !isCP {
			sum.Entries++
		}
		if isCP && !opts.Checkpoints {
			return nil
		}
		if opts.Limit > 0 && sum.Matched >= opts.Limit {
			return nil
		}
		if !filter.Eval(it) {
			return nil
		}
		sum.Matched++
		return enc.Encode(render(it))
	})
	if err != nil {
		return sum, err
	}
	sum.Size, sum.End, sum.Clean = res.Size, res.End, res.Clean()
	if res.Err != nil {
		sum.Error = res.Err.Error()
	}
	if err := enc.Encode(map[string]any{"summary": sum}); err != nil {
		return sum, err
	}
	if opts.Verify && !sum.Clean {
		return sum, fmt.Errorf("%w: %s: valid up to %d of %d bytes: %s", ErrNotClean, opts.Path, sum.End, sum.Size, sum.Error)
	}
	return sum, nil
}

func render(it persist.Item) map[string]any {
	var out map[string]any
	switch e := it.Entry.(type) {
	case entry.Frame:
		out = output.Frame(e)
	case entry.Checkpoint:
		off, length := e.Last()
		out = map[string]any{"type": e.Type().String(), "last_offset": off, "last_length": length}
		if lc, ok := e.(*entry.LogCheckpoint); ok {
			out["last_config_offset"] = lc.LastConfigOffset
		}
	}
	out["offset"] = it.Offset
	out["length"] = it.Length
	if it.Split {
		out["split"] = true
	}
	return out
}

// NewCommand constructs the `inspect` command.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <file>",
		Short: "Print the entries of a log file",
		Long: "Scans a global or per-log file the way the store does at startup and prints one JSON object per entry, " +
			"followed by a summary. Nothing is modified.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, _ := cmd.Flags().GetString("filter")
			limit, _ := cmd.Flags().GetInt("limit")
			checkpoints, _ := cmd.Flags().GetBool("checkpoints")
			verify, _ := cmd.Flags().GetBool("verify")
			kindName, _ := cmd.Flags().GetString("kind")

			opts := Options{Path: args[0], Filter: filter, Limit: limit, Checkpoints: checkpoints, Verify: verify}
			switch kindName {
			case "", "auto":
			case "global":
				k := persist.Global
				opts.Kind = &k
			case "per-log":
				k := persist.PerLog
				opts.Kind = &k
			default:
				return fmt.Errorf("invalid --kind; use auto|global|per-log")
			}
			_, err := Run(cmd.Context(), cmd.OutOrStdout(), opts)
			return err
		},
	}
	cmd.Flags().String("filter", "", "CEL filter, e.g. type == 'json' && json.user == 'ann'")
	cmd.Flags().Int("limit", 0, "Stop printing after N matches (0 = all)")
	cmd.Flags().Bool("checkpoints", false, "Include checkpoints in the output")
	cmd.Flags().Bool("verify", false, "Fail unless every byte of the file belongs to a valid entry")
	cmd.Flags().String("kind", "auto", "File kind: auto|global|per-log")
	return cmd
}
