package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"runtime"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/didmediator/internal/config"
	"github.com/nextlevelbuilder/didmediator/internal/streamtransport"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("didmediator doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND — defaults applied)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	fmt.Println()
	fmt.Println("  Database:")
	if cfg.Database.PostgresDSN == "" {
		fmt.Printf("    %-12s NOT SET (export MEDIATOR_POSTGRES_DSN)\n", "Status:")
	} else {
		db, err := sql.Open("pgx", cfg.Database.PostgresDSN)
		if err != nil {
			fmt.Printf("    %-12s CONNECT FAILED (%s)\n", "Status:", err)
		} else {
			defer db.Close()
			if err := db.PingContext(ctx); err != nil {
				fmt.Printf("    %-12s CONNECT FAILED (%s)\n", "Status:", err)
			} else {
				fmt.Printf("    %-12s OK\n", "Status:")
			}
		}
	}

	fmt.Println()
	fmt.Println("  Stream shards:")
	pool := streamtransport.NewPool()
	defer pool.Close()
	if len(cfg.Streams.Shards) == 0 {
		fmt.Println("    (none configured)")
	}
	for _, shard := range cfg.Streams.Shards {
		addr, err := streamtransport.ParseAddress(shard + "/_doctor")
		if err != nil {
			fmt.Printf("    %-40s BAD ADDRESS (%s)\n", shard, err)
			continue
		}
		if err := pool.Client(addr.Host).Ping(ctx).Err(); err != nil {
			fmt.Printf("    %-40s UNREACHABLE (%s)\n", shard, err)
		} else {
			fmt.Printf("    %-40s OK\n", shard)
		}
	}

	fmt.Println()
	fmt.Println("  Mediator identity:")
	if cfg.Mediator.Seed == "" {
		fmt.Printf("    %-12s NOT SET (export MEDIATOR_SEED)\n", "Seed:")
	} else if _, err := cfg.SeedBytes(); err != nil {
		fmt.Printf("    %-12s INVALID (%s)\n", "Seed:", err)
	} else {
		fmt.Printf("    %-12s OK\n", "Seed:")
	}

	fmt.Println()
	fmt.Println("  FCM fallback:")
	if cfg.FCM.CredentialsFile == "" {
		fmt.Printf("    %-12s disabled (no MEDIATOR_FCM_CREDENTIALS_FILE)\n", "Status:")
	} else if _, err := os.Stat(cfg.FCM.CredentialsFile); err != nil {
		fmt.Printf("    %-12s CREDENTIALS FILE NOT FOUND (%s)\n", "Status:", cfg.FCM.CredentialsFile)
	} else {
		fmt.Printf("    %-12s configured\n", "Status:")
	}

	fmt.Println()
	fmt.Println("  TLS:")
	if cfg.TLS.CertFile == "" && cfg.TLS.KeyFile == "" {
		fmt.Printf("    %-12s disabled (terminate TLS upstream)\n", "Status:")
	} else if _, err := os.Stat(cfg.TLS.CertFile); err != nil {
		fmt.Printf("    %-12s CERT FILE NOT FOUND (%s)\n", "Status:", cfg.TLS.CertFile)
	} else if _, err := os.Stat(cfg.TLS.KeyFile); err != nil {
		fmt.Printf("    %-12s KEY FILE NOT FOUND (%s)\n", "Status:", cfg.TLS.KeyFile)
	} else {
		fmt.Printf("    %-12s configured\n", "Status:")
	}

	fmt.Println()
	fmt.Println("  Telemetry:")
	if !cfg.Telemetry.Enabled {
		fmt.Printf("    %-12s disabled\n", "Status:")
	} else {
		fmt.Printf("    %-12s enabled, endpoint %s\n", "Status:", cfg.Telemetry.Endpoint)
	}

	fmt.Println()
	fmt.Println("Doctor check complete.")
}
