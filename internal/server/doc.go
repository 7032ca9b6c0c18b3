// Package server hosts the Fiber application shared by every HTTP surface:
// the middleware chain (panic recovery, request id, access log, request
// metrics), the error-to-status mapping and the /metrics endpoint. NuGet
// endpoints are registered by the routes subpackage against the app built here.
package server
