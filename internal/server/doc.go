// Package server hosts the Fiber HTTP service that fronts the cache
// interceptor: request-id middleware, the catch-all route that turns a Fiber
// request into a proxy.Event, and the bootstrap helpers that open the
// configured cache store. Diagnostics live under /-/ and are registered by
// the routes subpackage.
package server
