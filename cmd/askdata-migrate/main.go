package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	auditpostgres "github.com/askdata/askdata/internal/audit/postgres"
	"github.com/askdata/askdata/internal/config"
	"github.com/askdata/askdata/internal/migrations"
)

const usage = "usage: askdata-migrate [-steps n] [-timeout d] <up|down|status>"

func main() {
	steps := flag.Int("steps", 0, "number of migration steps; 0 means all for up, 1 for down")
	timeout := flag.Duration("timeout", 30*time.Second, "overall migration timeout")
	flag.Usage = func() { fmt.Fprintln(os.Stderr, usage) }
	flag.Parse()

	direction := "up"
	switch flag.NArg() {
	case 0:
	case 1:
		direction = flag.Arg(0)
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "env file error: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.LoadFromEnv("askdata-migrate")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	if cfg.Audit.DSN == "" {
		fmt.Fprintln(os.Stderr, "ASKDATA_AUDIT_DSN is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := auditpostgres.Open(ctx, auditpostgres.DBConfig{DSN: cfg.Audit.DSN, ApplicationName: cfg.Service.Name, MaxOpenConns: 2})
	if err != nil {
		fmt.Fprintf(os.Stderr, "database error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	runner := migrations.NewRunner()
	switch direction {
	case "up":
		applied, err := runner.Up(ctx, db, *steps)
		if err != nil {
			fmt.Fprintf(os.Stderr, "migration up failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("applied %d migration(s)\n", applied)
	case "down":
		rolledBack, err := runner.Down(ctx, db, *steps)
		if err != nil {
			fmt.Fprintf(os.Stderr, "migration down failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("rolled back %d migration(s)\n", rolledBack)
	case "status":
		report, err := runner.Status(ctx, db)
		if err != nil {
			fmt.Fprintf(os.Stderr, "migration status failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("applied: %v\npending: %v\n", report.Applied, report.Pending)
		if len(report.Drifted) > 0 {
			fmt.Printf("drifted: %v\n", report.Drifted)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "invalid direction %q\n%s\n", direction, usage)
		os.Exit(2)
	}
}
