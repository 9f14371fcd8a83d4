// Package cache implements the named, versioned response stores the worker
// reads from and writes to. A Storage enumerates, opens and deletes stores by
// name (for example static-v2.0.0); each Store maps a request identity
// (method + absolute URL) to an immutable Response snapshot. The disk-backed
// implementation lays entries out as StoragePath/<store>/<sha1(key)>.body plus
// a JSON .meta sidecar, written via temp file + rename so a concurrent reader
// never observes a partial entry.
package cache
