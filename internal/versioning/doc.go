// Package versioning implements NuGet package versions: parsing of up to four
// numeric parts with optional prerelease and metadata, the normalized string
// form used as the identity of a package version, and precedence comparison.
package versioning
