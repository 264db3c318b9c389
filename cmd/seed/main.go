package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/zy54321/after-school/internal/database"
	"github.com/zy54321/after-school/internal/economy"
	"github.com/zy54321/after-school/internal/logging"
	"github.com/zy54321/after-school/internal/lottery"
	"github.com/zy54321/after-school/internal/market"
	"github.com/zy54321/after-school/internal/seed"
	"github.com/zy54321/after-school/internal/store"
	"github.com/zy54321/after-school/internal/wallet"
)

func main() {
	dbPath := pflag.String("db-path", "afterschool.db", "SQLite database file")
	file := pflag.String("file", "", "YAML fixture to load")
	pflag.Parse()

	logger := logging.Setup("warn", "text")
	if *file == "" {
		fmt.Fprintln(os.Stderr, "seed: --file is required")
		os.Exit(2)
	}

	fixture, err := seed.LoadFile(*file)
	if err != nil {
		fmt.Fprintln(os.Stderr, "seed:", err)
		os.Exit(1)
	}

	db, err := database.Open(*dbPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "seed: open database:", err)
		os.Exit(1)
	}
	defer db.Close()

	clock := economy.Clock(economy.SystemClock)
	w := wallet.NewService(db, clock, logger)
	m := market.NewService(db, w, clock, time.Local, logger)
	l := lottery.NewService(db, w, m, clock, time.Local, logger)

	res, err := seed.NewSeeder(store.NewFamilyStore(db), w, m, l).Apply(context.Background(), fixture)
	if err != nil {
		fmt.Fprintln(os.Stderr, "seed:", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(res)
}
