// Package ratelimit throttles requests to the Instagram API.
//
// The sliding window tracks request timestamps over a moving window, so a
// burst after a quiet period is still capped at the configured rate:
//
//	limiter := ratelimit.PerMinute(cfg.Instagram.RequestsPerMinute)
//	if err := limiter.Wait(ctx); err != nil {
//	    return err
//	}
package ratelimit
