// Package packages defines the package record shared by the metadata store,
// the mirror, search and the state service, together with the error values
// every layer uses to report absent, duplicate or unreachable resources.
package packages
