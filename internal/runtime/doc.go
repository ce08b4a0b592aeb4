// Package runtime wires the catalog, metrics and log store into a
// single-node logsrd instance. It exposes Open/Close, a health check and the
// background compaction loop.
//
// Example:
//
//	cfg := config.Default()
//	cfg.DataDir = "./data"
//	rt, _ := runtime.Open(ctx, runtime.Options{Config: cfg})
//	defer rt.Close()
//	_ = rt.CheckHealth(ctx)
//	_ = rt.Store().Create(ctx, logID, []byte(`{"type":"json"}`))
//	go rt.Run(ctx)
package runtime
