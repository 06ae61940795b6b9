package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"chatwatch/internal/storage"
	"chatwatch/migrations"
)

func main() {
	dbPath := flag.String("db", envOrDefault("DATABASE_PATH", "./data/chatwatch.db"), "path to sqlite database")
	limit := flag.Int("limit", 20, "number of match records to show")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: migrate [-db path] <command>")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Commands:")
		fmt.Fprintln(os.Stderr, "  up          Migrate to the latest version")
		fmt.Fprintln(os.Stderr, "  up-one      Migrate one version up")
		fmt.Fprintln(os.Stderr, "  down        Roll back one version")
		fmt.Fprintln(os.Stderr, "  status      Show migration status")
		fmt.Fprintln(os.Stderr, "  version     Show current version")
		fmt.Fprintln(os.Stderr, "  reset       Roll back all migrations")
		fmt.Fprintln(os.Stderr, "  matches     Show recent match records")
		os.Exit(1)
	}

	cmd := args[0]
	if cmd == "matches" {
		showMatches(*dbPath, *limit)
		return
	}

	db, err := sql.Open("sqlite", *dbPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		log.Fatalf("set dialect: %v", err)
	}

	switch cmd {
	case "up":
		err = goose.Up(db, ".")
	case "up-one":
		err = goose.UpByOne(db, ".")
	case "down":
		err = goose.Down(db, ".")
	case "status":
		err = goose.Status(db, ".")
	case "version":
		err = goose.Version(db, ".")
	case "reset":
		err = goose.Reset(db, ".")
	default:
		log.Fatalf("unknown command: %s", cmd)
	}

	if err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
}

// showMatches prints recent match records for inspection.
func showMatches(dbPath string, limit int) {
	store, err := storage.NewSQLite(dbPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer func() { _ = store.Close() }()

	records, err := store.ListMatches(context.Background(), limit)
	if err != nil {
		log.Fatalf("list matches: %v", err)
	}
	if len(records) == 0 {
		fmt.Println("no matches recorded")
		return
	}
	for _, rec := range records {
		flag := ""
		if rec.Suppressed {
			flag = " [suppressed]"
		}
		fmt.Printf("#%d %s %s rule=%s msg=%d%s\n",
			rec.ID, rec.Date.Format("2006-01-02 15:04"), rec.SourceKey,
			rec.RuleName, rec.MessageID, flag)
		if rec.Snippet != "" {
			fmt.Printf("    %s\n", rec.Snippet)
		}
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
