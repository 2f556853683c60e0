// Package main provides the modmigrate CLI.
//
// modmigrate applies SQL migration scripts collected from an application's
// own migrations directory and from the migrations directory of every
// configured module, as one ordered set recorded in a single history table.
//
// Usage:
//
//	modmigrate [flags] <command>
//
// Commands that touch the database need --db or database settings in
// modmigrate.yaml. create, sources and config work without one.
package main

import (
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

func main() {
	Execute()
}
