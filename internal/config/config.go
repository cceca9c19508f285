// Package config resolves the deployment configuration in one place.
// Components never read the environment themselves; they receive explicit
// values at construction time, which keeps unit tests deterministic.
package config

import (
	"os"
	"strconv"

	"echovault.org/internal/chain"
	"echovault.org/internal/payment"
)

// Config is the full recognized option surface.
type Config struct {
	HTTPAddr   string
	PGDSN      string
	StorageDir string

	// On-chain grant lookup.
	OnchainRPC string
	ProgramID  string
	Strict     bool

	// Payment verification.
	PaymentRPC       string
	PaymentMint      string
	PaymentRecipient string
	PaymentPayer     string
	FeeBps           int
	FeeRecipient     string
	Price            float64

	// Admin token for destructive endpoints; empty disables the guard.
	AdminSecret string
}

// DefaultPrice is charged per context request when not configured.
const DefaultPrice = 0.001

// FromEnv reads the ECHOVAULT_* environment and fills defaults.
func FromEnv() Config {
	cfg := Config{
		HTTPAddr:         envOr("ECHOVAULT_HTTP_ADDR", ":8787"),
		PGDSN:            os.Getenv("ECHOVAULT_PG_DSN"),
		StorageDir:       os.Getenv("ECHOVAULT_STORAGE_DIR"),
		OnchainRPC:       os.Getenv("ECHOVAULT_ONCHAIN_RPC"),
		ProgramID:        envOr("ECHOVAULT_PROGRAM_ID", chain.DefaultProgramID),
		Strict:           os.Getenv("ECHOVAULT_ONCHAIN_STRICT") == "true",
		PaymentRPC:       os.Getenv("ECHOVAULT_RPC_URL"),
		PaymentMint:      envOr("ECHOVAULT_PAYMENT_MINT", payment.DefaultMint),
		PaymentRecipient: os.Getenv("ECHOVAULT_PAYMENT_RECIPIENT"),
		PaymentPayer:     os.Getenv("ECHOVAULT_PAYMENT_PAYER"),
		FeeBps:           envInt("ECHOVAULT_FEE_BPS", 200),
		FeeRecipient:     os.Getenv("ECHOVAULT_FEE_RECIPIENT"),
		Price:            envFloat("ECHOVAULT_PRICE", DefaultPrice),
		AdminSecret:      os.Getenv("ECHOVAULT_ADMIN_SECRET"),
	}
	return cfg
}

// PaymentPolicy maps the config onto the verifier's policy.
func (c Config) PaymentPolicy() payment.Policy {
	return payment.Policy{
		Mint:         c.PaymentMint,
		Recipient:    c.PaymentRecipient,
		Payer:        c.PaymentPayer,
		FeeBps:       c.FeeBps,
		FeeRecipient: c.FeeRecipient,
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
