// Package cache defines the storage contract used by the cache handle and the
// backends that satisfy it. A Store maps an opaque cache key to a stored
// response; it never decides what is cacheable. Backends: in-memory map,
// disk files (temp file + rename), SQLite and Redis. Disk, SQLite and Redis
// persist responses in HTTP/1.1 wire format so entries stay inspectable with
// ordinary tools.
package cache
