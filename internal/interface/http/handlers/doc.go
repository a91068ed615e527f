// Package handlers contains HTTP health checks and reusable middleware.
//
// # Health Checks
//
// The HealthChecker interface aggregates named checks that run in parallel:
//
//	checker := handlers.NewCompositeHealthChecker("v1.0.0")
//	checker.AddCheck("postgres", handlers.NewPingCheck(db))
//	checker.AddCheck("redis", handlers.NewPingCheck(redisClient))
//	checker.AddCheck("nats", handlers.NewConnectedCheck(nc))
//
//	status := checker.Check(ctx)
//	if !status.Healthy {
//	    log.Warn("health check failed", logger.String("reason", status.Message))
//	}
//
// # Middleware
//
// Middleware are plain func(http.Handler) http.Handler values and compose
// with Chain, outermost first:
//
//	h := handlers.ChainHandler(mux,
//	    handlers.SecurityHeadersMiddleware,
//	    handlers.RequestSizeLimitMiddleware(5<<20),
//	)
package handlers
