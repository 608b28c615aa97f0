// Package config provides the enforcer configuration model, YAML loading
// with environment variable substitution, validation, and a debounced file
// watcher used to hot-reload the subscription snapshot.
//
// Load configuration from a YAML file:
//
//	cfg, err := config.LoadConfig("enforcer.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Values may reference the environment:
//
//	revocation:
//	  address: ${REDIS_ADDR:-localhost:6379}
//	  password: ${REDIS_PASSWORD}
//
// Watch a file and reload it on change:
//
//	w, err := config.NewWatcher(path, func(p string) error {
//	    return registry.LoadFile(p)
//	}, config.WithLogger(logger))
//	if err := w.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer w.Stop()
package config
