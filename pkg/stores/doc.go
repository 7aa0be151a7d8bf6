// Package stores provides persistence for catalogs, facts and apply reports.
// It includes a SQLite store with WAL mode, embedded migrations and connection
// pooling, and a YAML store that keeps one document per node under a directory.
// Both expose their contents as a KeyedStore so the cache terminus can use either.
package stores
