// Package db embeds the PostgreSQL schema shared by the storefront tools.
package db

import _ "embed"

// Schema creates the catalog, coupon and order tables. Every statement is
// idempotent so it can run on each start.
//
//go:embed migrations/001_schema.sql
var Schema string
