// Command migrate manages the PostgreSQL schema of the event store.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"defitown.org/internal/migrate"
	"defitown.org/internal/obs"
	"defitown.org/internal/store/pg"
)

func main() {
	log := obs.Logger().Named("migrate")
	var (
		dsn       = flag.String("dsn", os.Getenv("TOWN_PG_DSN"), "PostgreSQL DSN")
		seedsPath = flag.String("seeds", "", "Directory of SQL seed files")
		timeout   = flag.Duration("timeout", 30*time.Second, "Overall deadline")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or TOWN_PG_DSN")
	}
	if len(flag.Args()) == 0 {
		fmt.Fprintln(os.Stderr, "usage: migrate [up|down|seed|status]")
		os.Exit(2)
	}
	cmd := flag.Arg(0)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatal("open db", zap.Error(err))
	}
	defer db.Close()

	var seeds fs.FS
	if *seedsPath != "" {
		seeds = os.DirFS(*seedsPath)
	}
	mgr := migrate.NewManager(db, pg.Migrations(), seeds)

	var ran []string
	switch cmd {
	case "up":
		ran, err = mgr.Up(ctx)
	case "down":
		var name string
		if name, err = mgr.Down(ctx); err == nil {
			ran = []string{name}
		}
	case "seed":
		if seeds == nil {
			log.Fatal("seed needs -seeds")
		}
		ran, err = mgr.Seed(ctx)
	case "status":
		var entries []migrate.Entry
		entries, err = mgr.Status(ctx)
		for _, e := range entries {
			if e.Applied {
				fmt.Printf("applied  %s  %s\n", e.AppliedAt.Format(time.RFC3339), e.Name)
			} else {
				fmt.Printf("pending  %-20s  %s\n", "", e.Name)
			}
		}
	default:
		log.Fatal("unknown command", zap.String("command", cmd))
	}
	if err != nil {
		log.Fatal("migrate failed", zap.String("command", cmd), zap.Strings("completed", ran), zap.Error(err))
	}
	log.Info("migrate done", zap.String("command", cmd), zap.Strings("scripts", ran))
}
