// Package httpserver wraps net/http with graceful shutdown, env-driven
// timeout configuration and health-check probes.
//
// Run blocks until the context is cancelled or SIGINT/SIGTERM arrives, then
// drains in-flight requests within the shutdown timeout:
//
//	srv := httpserver.New(cfg, httpserver.WithServerLogger(log))
//	r := chi.NewRouter()
//	r.Get("/healthz", srv.HealthCheckHandler())
//	r.Get("/readyz", srv.HealthCheckHandler(dbHealthcheck))
//	if err := srv.Run(ctx, r); err != nil { ... }
package httpserver
