// Package store defines the persistence contract for stores and review jobs.
// Implementations live in internal/storage; this package must not import
// database drivers or concrete clients.
package store
