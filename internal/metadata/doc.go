// Package metadata persists package records and answers the queries the rest of
// the registry depends on: exact lookups, existence checks, stable key-ordered
// pages for batch jobs, and the distinct-id search, autocomplete and dependents
// queries.
//
// Two backends are provided. The bolt backend keeps JSON documents in an
// embedded database file; the postgres backend keeps one row per package with
// filter columns next to a JSONB document. Both enforce uniqueness of
// (id, normalized version) compared case-insensitively and report a duplicate
// insert as packages.ErrAlreadyExists.
package metadata
