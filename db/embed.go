// Package db provides the embedded database schema and seed catalog.
package db

import _ "embed"

// Schema contains the DDL statements for all application tables. It is safe
// to execute repeatedly.
//
//go:embed migrations/001_schema.sql
var Schema string
