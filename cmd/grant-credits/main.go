package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"jumpstudy/internal/config"
	"jumpstudy/internal/ledger"
	"jumpstudy/internal/models"
	"jumpstudy/internal/pricing"
	"jumpstudy/internal/storage"
)

// Operator tool for manual credit grants: support goodwill, promo credits,
// or replaying a payment that the webhook missed.
func main() {
	email := flag.String("email", "", "account email to credit")
	credits := flag.Float64("credits", 0, "credit amount to grant")
	pkgName := flag.String("package", "", "grant a published package instead of a raw amount")
	kind := flag.String("kind", "bonus", "transaction kind: bonus or purchase")
	description := flag.String("description", "Manual grant", "ledger entry description")
	externalRef := flag.String("external-ref", "", "payment reference (required for kind=purchase)")
	flag.Parse()

	if *email == "" {
		fmt.Fprintln(os.Stderr, "ERROR: -email is required")
		flag.Usage()
		os.Exit(1)
	}

	amount := *credits
	if *pkgName != "" {
		pkg, ok := pricing.Packages[strings.ToLower(*pkgName)]
		if !ok {
			fmt.Fprintf(os.Stderr, "ERROR: unknown package %q\n", *pkgName)
			os.Exit(1)
		}
		amount = pkg.Credits
		if *description == "Manual grant" {
			*description = "Purchase: " + pkg.Name + " package"
		}
	}
	if amount <= 0 {
		fmt.Fprintln(os.Stderr, "ERROR: grant amount must be positive (set -credits or -package)")
		os.Exit(1)
	}

	txKind := models.TransactionKind(*kind)
	switch txKind {
	case models.TransactionBonus:
	case models.TransactionPurchase:
		if *externalRef == "" {
			fmt.Fprintln(os.Stderr, "ERROR: -external-ref is required for kind=purchase")
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "ERROR: unsupported kind %q (use bonus or purchase)\n", *kind)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	dbConfig := storage.DBConfig{
		URL:              cfg.Database.URL,
		MaxOpenConns:     cfg.Database.MaxOpenConns,
		MaxIdleConns:     cfg.Database.MaxIdleConns,
		ConnMaxLifetime:  cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime:  cfg.Database.ConnMaxIdleTime,
		QueryTimeout:     cfg.Database.QueryTimeout,
		AccountCacheSize: 10,
		AccountCacheTTL:  time.Minute,
	}

	db, err := storage.NewDB(dbConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	store := db.NewLedgerStore()
	svc := ledger.New(store, ledger.WithRetries(cfg.Ledger.MaxRetries, cfg.Ledger.RetryBackoff))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	account, err := store.GetAccountByEmail(ctx, *email)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to look up account %s: %v\n", *email, err)
		os.Exit(1)
	}

	var ref *string
	if *externalRef != "" {
		ref = externalRef
	}

	tx, err := svc.Credit(ctx, account.ID, amount, txKind, *description, ref)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to grant credits: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Granted %s credits to %s (%s)\n", pricing.FormatCredits(amount), account.Email, account.ID)
	fmt.Printf("Transaction: %s\n", tx.ID)
	fmt.Printf("New balance: %s\n", pricing.FormatCredits(tx.BalanceAfter))
}
