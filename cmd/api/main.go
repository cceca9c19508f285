package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"echovault.org/internal/audit"
	"echovault.org/internal/chain"
	"echovault.org/internal/config"
	"echovault.org/internal/gateway"
	"echovault.org/internal/httpapi"
	"echovault.org/internal/obs"
	"echovault.org/internal/payment"
	"echovault.org/internal/store/pg"
	"echovault.org/internal/vault"
)

var version = "0.3.0"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("ECHOVAULT_COMMIT"))

	cfg := config.FromEnv()

	// Grant and vault storage: Postgres when a DSN is configured, otherwise
	// in-memory for local development.
	var (
		grants vault.Service
		probe  httpapi.ReadyProbe
	)
	if cfg.PGDSN != "" {
		store, err := pg.Open(cfg.PGDSN)
		if err != nil {
			log.Fatalf("open store: %v", err)
		}
		defer store.Close()
		grants = store
		probe = httpapi.ReadyProbe{DB: store.DB()}
	} else {
		grants = vault.NewInMemory()
	}

	var chainVerifier *chain.Verifier
	if cfg.OnchainRPC != "" {
		programID, err := chain.PublicKeyFromBase58(cfg.ProgramID)
		if err != nil {
			log.Fatalf("parse program id: %v", err)
		}
		chainVerifier = chain.NewVerifier(chain.NewHTTPClient(cfg.OnchainRPC), programID)
	}

	var paymentRPC chain.RPCClient
	if cfg.PaymentRPC != "" {
		paymentRPC = chain.NewHTTPClient(cfg.PaymentRPC)
	}
	payVerifier := payment.NewVerifier(paymentRPC, cfg.PaymentPolicy())

	gw := gateway.New(gateway.Options{
		Grants:  grants,
		Chain:   chainVerifier,
		Payment: payVerifier,
		Strict:  cfg.Strict,
		Price:   cfg.Price,
		Mint:    cfg.PaymentMint,
	})

	api := httpapi.New(httpapi.Options{
		Grants:      grants,
		Blobs:       vault.NewBlobStore(cfg.StorageDir),
		Audit:       audit.NewLog(),
		Gateway:     gw,
		Ready:       probe,
		Version:     version,
		AdminSecret: cfg.AdminSecret,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting echovault-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}
