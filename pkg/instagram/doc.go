// Package instagram is a small client for the private mobile API endpoints
// storyrelay needs: password login, session probing, username lookup and the
// story feed of a single user.
//
// Every call takes the session.Session to authenticate with, so the client
// itself holds no account state. Requests are throttled by a ratelimit.Limiter
// and failures are reported as typed errors from storyrelay/pkg/errors;
// expired sessions are flagged with errors.IsLoginRequired.
package instagram
