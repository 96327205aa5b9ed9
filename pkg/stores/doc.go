// Package stores keeps the local history of a backlog workspace in SQLite:
// build and check snapshots, action runs and the append-only event log.
// Schema changes ship as embedded golang-migrate migrations.
package stores
