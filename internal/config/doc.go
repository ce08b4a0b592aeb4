// Package config provides loading and environment overlay for the logsrd
// engine configuration. It exposes a Default() baseline that Load and FromEnv
// refine.
//
// Example:
//
//	cfg := config.Default()
//	if fileCfg, err := config.Load("/etc/logsrd.json"); err == nil {
//	    cfg = fileCfg
//	}
//	config.FromEnv(&cfg) // DATA_DIR, LOGSRD_*
//	rt, _ := runtime.Open(ctx, runtime.Options{Config: cfg})
//	defer rt.Close()
package config
