// Seeder for local development: creates the system account, a handful of
// user accounts funded through the system path, and prints bearer tokens
// for poking the API by hand.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kautilya-labs/khata/internal/config"
	"github.com/kautilya-labs/khata/internal/domain"
	"github.com/kautilya-labs/khata/internal/notify"
	"github.com/kautilya-labs/khata/internal/service"
	"github.com/kautilya-labs/khata/internal/store"
	"github.com/kautilya-labs/khata/internal/store/postgres"
	"github.com/kautilya-labs/khata/internal/store/sqlite"
)

const initialBalance = 100000 // 1000.00 in minor units

func main() {
	accounts := flag.Int("accounts", 5, "Number of demo accounts to create")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx := context.Background()

	var st store.Store
	switch cfg.DBDriver {
	case "postgres":
		pg, err := postgres.New(ctx, cfg.DBSource)
		if err != nil {
			log.Fatal("connect failed", zap.Error(err))
		}
		if err := pg.InitSchema(ctx); err != nil {
			log.Fatal("schema init failed", zap.Error(err))
		}
		st = pg
	case "sqlite":
		st, err = sqlite.New(ctx, cfg.DBSource)
		if err != nil {
			log.Fatal("connect failed", zap.Error(err))
		}
	default:
		log.Fatal("seeder needs a durable store", zap.String("driver", cfg.DBDriver))
	}
	defer st.Close()

	dispatcher := notify.NewDispatcher(notify.NewLogSink(log), log, cfg.NotifyBuffer)
	defer dispatcher.Close()
	svc := service.NewTransferService(st, dispatcher, log)

	systemOwner := uuid.New()
	systemAccount, err := st.CreateAccount(ctx, systemOwner, cfg.DefaultCurrency)
	if err != nil {
		log.Fatal("system account creation failed", zap.Error(err))
	}
	systemRequester := domain.Requester{
		UserID: systemOwner,
		Email:  "system@khata.local",
		Name:   "khata system",
		System: true,
	}
	fmt.Printf("system account: %s\n", systemAccount.ID)
	fmt.Printf("system token:   %s\n", mintToken(cfg.JWTSecret, systemRequester))

	for i := 0; i < *accounts; i++ {
		owner := uuid.New()
		acc, err := st.CreateAccount(ctx, owner, cfg.DefaultCurrency)
		if err != nil {
			log.Fatal("account creation failed", zap.Error(err))
		}

		_, err = svc.FundFromSystem(ctx, service.FundingParams{
			ToAccount:      acc.ID,
			Amount:         initialBalance,
			IdempotencyKey: "seed-" + uuid.NewString(),
			Requester:      systemRequester,
		})
		if err != nil {
			log.Fatal("funding failed", zap.Error(err))
		}

		requester := domain.Requester{
			UserID: owner,
			Email:  fmt.Sprintf("user%d@khata.local", i+1),
			Name:   fmt.Sprintf("Demo User %d", i+1),
		}
		fmt.Printf("account %d: %s (balance %d)\n", i+1, acc.ID, initialBalance)
		fmt.Printf("token %d:   %s\n", i+1, mintToken(cfg.JWTSecret, requester))
	}

	credit, debit, err := st.LedgerTotals(ctx)
	if err != nil {
		log.Fatal("totals query failed", zap.Error(err))
	}
	fmt.Printf("ledger totals: credit=%d debit=%d\n", credit, debit)
}

func mintToken(secret string, r domain.Requester) string {
	claims := jwt.MapClaims{
		"sub":   r.UserID.String(),
		"email": r.Email,
		"name":  r.Name,
		"exp":   time.Now().Add(72 * time.Hour).Unix(),
	}
	if r.System {
		claims["system"] = true
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		panic(err)
	}
	return token
}
