// Package main is an operator tool for the audit trail: it verifies the
// hash chain and exports entries without going through the API server.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/ai4altruism/integritykit/internal/audit"
	"github.com/ai4altruism/integritykit/internal/config"
)

func main() {
	help := flag.Bool("help", false, "display help message")
	configFile := flag.String("config", "", "path to YAML config file")
	format := flag.String("format", "json", "export format: json or csv")
	from := flag.String("from", "", "export window start (RFC 3339)")
	to := flag.String("to", "", "export window end (RFC 3339)")
	flag.Parse()

	if *help || flag.NArg() == 0 {
		fmt.Println("IntegrityKit Audit Tool")
		fmt.Println()
		fmt.Println("Usage: auditctl [options] <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  verify    walk the hash chain and report the first break, if any")
		fmt.Println("  export    write entries to stdout in the chosen format")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configFile)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
		}
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if err := run(cfg, logger, flag.Arg(0), *format, *from, *to); err != nil {
		fmt.Fprintf(os.Stderr, "auditctl: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger, command, format, fromArg, toArg string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to reach database: %w", err)
	}

	trail, err := audit.NewService(audit.NewPostgresRepository(db, logger), logger, nil)
	if err != nil {
		return fmt.Errorf("failed to build audit service: %w", err)
	}

	switch command {
	case "verify":
		status, err := trail.VerifyChain(ctx)
		if err != nil {
			return fmt.Errorf("chain verification failed: %w", err)
		}
		if !status.Intact {
			fmt.Printf("chain BROKEN at sequence %d (%d entries)\n", status.BrokenAt, status.Entries)
			os.Exit(2)
		}
		fmt.Printf("chain intact (%d entries)\n", status.Entries)
		return nil

	case "export":
		opts := audit.ExportOptions{}
		switch format {
		case "json":
			opts.Format = audit.ExportFormatJSON
		case "csv":
			opts.Format = audit.ExportFormatCSV
		default:
			return fmt.Errorf("unknown format %q", format)
		}
		if fromArg != "" {
			t, err := time.Parse(time.RFC3339, fromArg)
			if err != nil {
				return fmt.Errorf("invalid -from: %w", err)
			}
			opts.From = t
		}
		if toArg != "" {
			t, err := time.Parse(time.RFC3339, toArg)
			if err != nil {
				return fmt.Errorf("invalid -to: %w", err)
			}
			opts.To = t
		}
		data, err := trail.Export(ctx, opts)
		if err != nil {
			return fmt.Errorf("export failed: %w", err)
		}
		if _, err := os.Stdout.Write(data); err != nil {
			return err
		}
		return nil

	default:
		return fmt.Errorf("unknown command %q", command)
	}
}
