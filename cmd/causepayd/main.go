// Package main runs the causepay settlement daemon: it loads configuration
// and the token/cause catalog, builds the custody vault, wires the pricing,
// ledger, solver, signing and submission services, and serves the HTTP API.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	causepay "github.com/causepay/causepay-go"
	"github.com/causepay/causepay-go/config"
	"github.com/causepay/causepay-go/curve"
	"github.com/causepay/causepay-go/executor"
	"github.com/causepay/causepay-go/funds"
	"github.com/causepay/causepay-go/httpapi"
	"github.com/causepay/causepay-go/ledger"
	"github.com/causepay/causepay-go/ledger/memory"
	"github.com/causepay/causepay-go/ledger/postgres"
	"github.com/causepay/causepay-go/payment"
	"github.com/causepay/causepay-go/solver"
	"github.com/causepay/causepay-go/submitter"
	"github.com/causepay/causepay-go/vault"
)

// expirySweepInterval is how often stale quotes and bundles are expired.
const expirySweepInterval = time.Minute

func main() {
	if err := run(); err != nil {
		slog.Error("causepayd exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tokens, causes, err := loadCatalog(cfg.CatalogFile)
	if err != nil {
		return err
	}
	engine, err := curve.New(tokens)
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()
	led := ledger.New(store, ledger.WithLogger(logger))

	key, err := loadVaultKey(cfg)
	if err != nil {
		return err
	}
	custody := vault.NewCustody()
	if err := custody.Register(causepay.VaultID(cfg.VaultID), key); err != nil {
		return err
	}

	client, err := newExecutorClient(cfg)
	if err != nil {
		return err
	}
	signer := vault.NewSigner(custody, client, vault.WithLogger(logger))
	submit := submitter.New(client, submitter.WithLogger(logger))

	payments := payment.NewService(
		engine,
		solver.New(engine, tokens, nil),
		signer, submit, led, tokens, causes,
		causepay.VaultID(cfg.VaultID),
		payment.WithValidity(cfg.Validity),
		payment.WithLogger(logger),
	)
	processor := funds.NewProcessor(
		engine, led, tokens, causes, signer, submit,
		causepay.VaultID(cfg.VaultID),
		causepay.WalletAddress(cfg.PlatformWallet),
		funds.WithFeeRate(cfg.FeeRate),
		funds.WithLogger(logger),
	)

	go sweepExpired(ctx, payments, logger)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: httpapi.NewHandler(payments, processor, led, causes, custody, logger).Router(),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", "error", err)
		}
	}()

	logger.Info("causepayd listening",
		"addr", cfg.ListenAddr,
		"vault", cfg.VaultID,
		"executor", cfg.ExecutorURL)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: l}))
}

// catalogFile is the on-disk shape of the token and cause catalog.
type catalogFile struct {
	Tokens []causepay.Token `json:"tokens"`
	Causes []causepay.Cause `json:"causes"`
}

func loadCatalog(path string) (causepay.TokenCatalog, causepay.CauseCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	var file catalogFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, nil, err
	}
	return causepay.NewStaticTokenCatalog(file.Tokens...),
		causepay.NewStaticCauseCatalog(file.Causes...), nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (ledger.Store, func(), error) {
	if cfg.PostgresDSN == "" {
		logger.Warn("no postgres DSN configured, ledger is in-memory")
		return memory.NewStore(), func() {}, nil
	}

	pool, err := postgres.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, err
	}
	if err := postgres.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return postgres.NewDepositStore(pool), pool.Close, nil
}

func loadVaultKey(cfg *config.Config) (vault.KeyMaterial, error) {
	if cfg.VaultKeyEnv != "" {
		return vault.FromEnv(cfg.VaultKeyEnv, vault.KindEd25519)
	}
	return vault.Ed25519FromKeygenFile(cfg.VaultKeyFile)
}

func newExecutorClient(cfg *config.Config) (*executor.HTTPClient, error) {
	if cfg.ExecutorKeyID == "" {
		return executor.NewHTTPClient(cfg.ExecutorURL), nil
	}
	auth, err := executor.NewTokenProvider(cfg.ExecutorKeyID, cfg.ExecutorKeyPEM, 0)
	if err != nil {
		return nil, err
	}
	return executor.NewHTTPClient(cfg.ExecutorURL, executor.WithAuth(auth)), nil
}

func sweepExpired(ctx context.Context, payments *payment.Service, logger *slog.Logger) {
	ticker := time.NewTicker(expirySweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := payments.ExpireStale(ctx); n > 0 {
				logger.Info("expired stale payments", "count", n)
			}
		}
	}
}
