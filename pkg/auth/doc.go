// Package auth defines the resolution contract for turning an inbound HTTP
// request into the calling principal.
//
// A Strategy resolves a request to a *User or nil. Strategies never return
// errors: every failure (missing credentials, a rejection by the authority,
// transport or store errors) is logged and collapsed to nil, so callers treat
// nil uniformly as "not authenticated". Internally each strategy produces a
// Resolution carrying a typed Outcome, which Finish converts at the boundary
// into the uniform result, the log event and the resolution metrics.
//
// Concrete strategies live in sub-packages: session (established login
// state), local (a local trust store) and remote (a remote check-token
// authority). The HTTP middleware runs the configured strategy once per
// request and stores the resolved user in the request context.
package auth
