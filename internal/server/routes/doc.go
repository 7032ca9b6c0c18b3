// Package routes registers the NuGet v3 read endpoints, the v2 package
// management endpoints and the /-/ diagnostics endpoints on a Fiber app.
package routes
