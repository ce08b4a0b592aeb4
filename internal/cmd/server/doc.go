// Package serverrun exposes the Run entrypoint used by `logsrd server start`:
// it opens the runtime, runs background compaction, optionally serves
// Prometheus metrics, and shuts down on cancellation or SIGTERM.
//
// Example:
//
//	opts := serverrun.Options{Config: config.Default(), MetricsAddr: ":9464"}
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = serverrun.Run(ctx, opts)
package serverrun
