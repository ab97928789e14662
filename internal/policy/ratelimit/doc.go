// Package ratelimit enforces per-platform request budgets.
//
// A Controller gates every outbound request for one platform. Before a request
// it sleeps until any server-declared throttle window has passed, sleeps until
// the counting window resets once the hourly cap is reached, and then sleeps a
// jittered delay. HTTP 429 responses set a new throttle window and the request
// is retried with capped exponential backoff. HostLimiter is a separate
// token bucket used to pace headless navigations per host.
package ratelimit
