// Package retry runs operations with exponential backoff built on
// cenkalti/backoff.
//
// Errors are classified with the typed errors of storyrelay/pkg/errors: rate
// limits, server errors and network failures are retried, everything else is
// returned immediately. An operation may wrap its error with WithRetryAfter to
// replace the next backoff delay with the one the server asked for.
//
//	err := retry.Do(ctx, cfg, func() error {
//	    return client.Send(ctx, msg)
//	})
package retry
