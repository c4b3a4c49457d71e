// Package postgres implements offline.Storage on PostgreSQL using
// pgx/v5, for hosts whose offline queue must survive process restarts
// and be drainable from several processes at once.
package postgres
