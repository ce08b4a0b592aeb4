// Package logs contains the `log` Cobra commands, which operate on a local
// data directory.
package logs

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rzbill/logsrd/internal/cmd/output"
	cfgpkg "github.com/rzbill/logsrd/internal/config"
	"github.com/rzbill/logsrd/internal/entry"
	"github.com/rzbill/logsrd/internal/runtime"
	"github.com/rzbill/logsrd/pkg/id"
	logpkg "github.com/rzbill/logsrd/pkg/log"
)

// ConfigFunc provides the configuration the commands open the store with.
type ConfigFunc func() (cfgpkg.Config, error)

// NewLogCommand constructs the `log` command group and subcommands.
func NewLogCommand(config ConfigFunc, logger logpkg.Logger) *cobra.Command {
	logCmd := &cobra.Command{Use: "log", Short: "Log operations on a local data directory"}
	logCmd.PersistentFlags().String("data-dir", "", "Data directory (overrides config)")

	c := &commands{config: config, logger: logger}
	logCmd.AddCommand(
		c.create(),
		c.append(),
		c.head(),
		c.read(),
		c.list(),
		c.stats(),
	)
	return logCmd
}

type commands struct {
	config ConfigFunc
	logger logpkg.Logger
}

// withRuntime opens the runtime for one command and closes it afterwards.
func (c *commands) withRuntime(cmd *cobra.Command, fn func(context.Context, *runtime.Runtime) error) error {
	cfg, err := c.config()
	if err != nil {
		return err
	}
	if dir, _ := cmd.Flags().GetString("data-dir"); dir != "" {
		cfg.DataDir = dir
	}
	ctx := cmd.Context()
	rt, err := runtime.Open(ctx, runtime.Options{Config: cfg, Logger: c.logger})
	if err != nil {
		return err
	}
	err = fn(ctx, rt)
	if cerr := rt.Close(); err == nil {
		err = cerr
	}
	return err
}

func logIDFlag(cmd *cobra.Command) (id.LogID, error) {
	s, _ := cmd.Flags().GetString("id")
	if s == "" {
		return id.Zero, fmt.Errorf("--id is required")
	}
	return id.ParseLogID(s)
}

func encode(cmd *cobra.Command, v any) error {
	return json.NewEncoder(cmd.OutOrStdout()).Encode(v)
}

// create constructs the `log create` subcommand.
func (c *commands) create() *cobra.Command {
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a log",
		RunE: func(cmd *cobra.Command, _ []string) error {
			config, _ := cmd.Flags().GetString("config")
			logID := id.NewLogID()
			if s, _ := cmd.Flags().GetString("id"); s != "" {
				var err error
				if logID, err = id.ParseLogID(s); err != nil {
					return err
				}
			}
			return c.withRuntime(cmd, func(ctx context.Context, rt *runtime.Runtime) error {
				if err := rt.Store().Create(ctx, logID, []byte(config)); err != nil {
					return err
				}
				return encode(cmd, map[string]any{"log_id": logID.String()})
			})
		},
	}
	createCmd.Flags().String("id", "", "Log ID (generated when empty)")
	createCmd.Flags().String("config", `{"type":"json"}`, "Log configuration JSON object")
	return createCmd
}

// append constructs the `log append` subcommand.
func (c *commands) append() *cobra.Command {
	appendCmd := &cobra.Command{
		Use:   "append",
		Short: "Append an entry to a log",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logID, err := logIDFlag(cmd)
			if err != nil {
				return err
			}
			data, _ := cmd.Flags().GetString("data")
			doc, _ := cmd.Flags().GetString("json")
			config, _ := cmd.Flags().GetString("set-config")

			var p entry.Payload
			switch {
			case doc != "" && data == "" && config == "":
				if p, err = entry.NewJSON([]byte(doc)); err != nil {
					return err
				}
			case config != "" && data == "" && doc == "":
				p = entry.NewSetConfig([]byte(config))
			case data != "" && doc == "" && config == "":
				p = entry.NewBinary([]byte(data))
			default:
				return fmt.Errorf("exactly one of --data, --json or --set-config is required")
			}
			return c.withRuntime(cmd, func(ctx context.Context, rt *runtime.Runtime) error {
				f, err := rt.Store().Append(ctx, logID, p)
				if err != nil {
					return err
				}
				return encode(cmd, output.Frame(f))
			})
		},
	}
	appendCmd.Flags().String("id", "", "Log ID")
	appendCmd.Flags().String("data", "", "Binary entry payload")
	appendCmd.Flags().String("json", "", "JSON entry payload")
	appendCmd.Flags().String("set-config", "", "Replace the log configuration")
	return appendCmd
}

// head constructs the `log head` subcommand.
func (c *commands) head() *cobra.Command {
	headCmd := &cobra.Command{
		Use:   "head",
		Short: "Print the last entry of a log",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logID, err := logIDFlag(cmd)
			if err != nil {
				return err
			}
			return c.withRuntime(cmd, func(ctx context.Context, rt *runtime.Runtime) error {
				f, err := rt.Store().ReadHead(ctx, logID)
				if err != nil {
					return err
				}
				return encode(cmd, output.Frame(f))
			})
		},
	}
	headCmd.Flags().String("id", "", "Log ID")
	return headCmd
}

func parseNums(s string) ([]uint32, error) {
	var nums []uint32
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid entry number %q", part)
		}
		nums = append(nums, uint32(n))
	}
	return nums, nil
}

// read constructs the `log read` subcommand.
func (c *commands) read() *cobra.Command {
	readCmd := &cobra.Command{
		Use:   "read",
		Short: "Read entries by range or by number",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logID, err := logIDFlag(cmd)
			if err != nil {
				return err
			}
			from, _ := cmd.Flags().GetUint32("from")
			limit, _ := cmd.Flags().GetInt("limit")
			numsFlag, _ := cmd.Flags().GetString("nums")
			nums, err := parseNums(numsFlag)
			if err != nil {
				return err
			}
			withConfig, _ := cmd.Flags().GetBool("config")
			return c.withRuntime(cmd, func(ctx context.Context, rt *runtime.Runtime) error {
				var (
					frames []entry.Frame
					err    error
				)
				if len(nums) > 0 {
					frames, err = rt.Store().ReadEntries(ctx, logID, nums)
				} else {
					frames, err = rt.Store().ReadRange(ctx, logID, from, limit)
				}
				if err != nil {
					return err
				}
				if withConfig {
					cfg, err := rt.Store().GetConfig(ctx, logID)
					if err != nil {
						return err
					}
					if err := encode(cmd, map[string]any{"config": cfg.Raw}); err != nil {
						return err
					}
				}
				for _, f := range frames {
					if err := encode(cmd, output.Frame(f)); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	readCmd.Flags().String("id", "", "Log ID")
	readCmd.Flags().Uint32("from", 0, "First entry number")
	readCmd.Flags().Int("limit", 100, "Maximum entries to read")
	readCmd.Flags().String("nums", "", "Comma separated entry numbers (overrides --from/--limit)")
	readCmd.Flags().Bool("config", false, "Print the current log configuration first")
	return readCmd
}

// list constructs the `log list` subcommand.
func (c *commands) list() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List logs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withRuntime(cmd, func(ctx context.Context, rt *runtime.Runtime) error {
				ids, err := rt.Store().ListLogs()
				if err != nil {
					return err
				}
				for _, logID := range ids {
					row := map[string]any{"log_id": logID.String()}
					if cat := rt.Catalog(); cat != nil {
						if rec, ok, err := cat.Get(logID); err == nil && ok {
							row["created"] = rec.Created
							row["last_write"] = rec.LastWrite
							row["residence"] = rec.Residence.String()
						}
					}
					if err := encode(cmd, row); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

// stats constructs the `log stats` subcommand.
func (c *commands) stats() *cobra.Command {
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Print store file sizes, optionally compacting first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			compact, _ := cmd.Flags().GetBool("compact")
			return c.withRuntime(cmd, func(ctx context.Context, rt *runtime.Runtime) error {
				if compact {
					if err := rt.Store().Compact(ctx); err != nil {
						return err
					}
				}
				return encode(cmd, rt.Store().Stats())
			})
		},
	}
	statsCmd.Flags().Bool("compact", false, "Run one compaction before printing")
	return statsCmd
}
