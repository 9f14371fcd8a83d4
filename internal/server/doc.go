// Package server hosts the Fiber HTTP service, the request-id and Host routing
// middleware, and the origin registry that maps the site domain and the
// third-party hosts named in the precache manifests onto upstream origins.
// The proxy package plugs a ProxyHandler into NewApp; lifecycle endpoints live
// under /-/ and are registered by the routes subpackage.
package server
