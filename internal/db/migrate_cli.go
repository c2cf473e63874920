package db

import (
	"fmt"
	"io"
	"strconv"
)

// RunMigrateCommand runs a "migrate" subcommand against the database at
// dbPath, writing a report to out. Migrations are never applied
// implicitly here: the database is opened without NewDB's auto-migrate.
func RunMigrateCommand(args []string, dbPath string, out io.Writer) error {
	if len(args) < 1 {
		PrintMigrateHelp(out)
		return fmt.Errorf("missing migrate action")
	}
	action := args[0]
	if action == "help" {
		PrintMigrateHelp(out)
		return nil
	}

	migrationsFS, err := getMigrationsFS()
	if err != nil {
		return err
	}
	database, err := OpenDB(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	switch action {
	case "up":
		if err := database.MigrateUp(migrationsFS); err != nil {
			return err
		}
		fmt.Fprintln(out, "All migrations applied")
	case "down":
		if err := database.MigrateDown(migrationsFS); err != nil {
			return err
		}
		fmt.Fprintln(out, "Rolled back one migration")
	case "status":
		// reported below
	case "version":
		if len(args) < 2 {
			return fmt.Errorf("usage: migrate version <N>")
		}
		v, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid version number %q", args[1])
		}
		if err := database.MigrateTo(migrationsFS, uint(v)); err != nil {
			return err
		}
		fmt.Fprintf(out, "Migrated to version %d\n", v)
	case "force":
		if len(args) < 2 {
			return fmt.Errorf("usage: migrate force <N>")
		}
		v, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid version number %q", args[1])
		}
		if err := database.MigrateForce(migrationsFS, v); err != nil {
			return err
		}
		fmt.Fprintf(out, "Migration version forced to %d\n", v)
	default:
		PrintMigrateHelp(out)
		return fmt.Errorf("unknown migrate action %q", action)
	}
	return printMigrateStatus(database, out)
}

func printMigrateStatus(database *DB, out io.Writer) error {
	migrationsFS, err := getMigrationsFS()
	if err != nil {
		return err
	}
	version, dirty, err := database.MigrateVersion(migrationsFS)
	if err != nil {
		return fmt.Errorf("failed to read migration version: %w", err)
	}
	latest, err := LatestMigrationVersion(migrationsFS)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Current version: %d\n", version)
	fmt.Fprintf(out, "Latest available: %d\n", latest)
	fmt.Fprintf(out, "Dirty: %v\n", dirty)
	switch {
	case dirty:
		fmt.Fprintln(out, "Database is dirty: inspect it, then run 'fusion migrate force <N>'")
	case version < latest:
		fmt.Fprintf(out, "Database is %d version(s) behind; run 'fusion migrate up'\n", latest-version)
	default:
		fmt.Fprintln(out, "Database is up to date")
	}
	return nil
}

// PrintMigrateHelp writes usage for the migrate subcommand.
func PrintMigrateHelp(out io.Writer) {
	fmt.Fprint(out, `Usage: fusion migrate <command> [-db <path>]

Commands:
  up           Apply all pending migrations
  down         Roll back one migration
  status       Show current and latest schema version
  version <N>  Migrate up or down to version N
  force <N>    Set the recorded version to N (recovery only)
  help         Show this help
`)
}
