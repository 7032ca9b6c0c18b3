// Package storage keeps .nupkg content addressed by package id and version.
// Every backend uses the same relative layout,
// packages/<id>/<version>/<id>.<version>.nupkg with lowercased id and
// normalized version, so a filesystem tree can be synced into a bucket and
// served unchanged. The filesystem backend writes through a temp file +
// rename under a per-entry lock; the s3 backend targets any S3 compatible
// endpoint; the null backend accepts writes and never finds anything.
package storage
