// cmd/checkbal prints the fee payer's SOL balance using the gateway's
// configuration (env or config.yaml).
//
// Usage:
//
//	FEE_PAYER_ADDRESS=<base58> SOLANA_RPC_URL=https://api.devnet.solana.com \
//	go run ./cmd/checkbal/ [--address <base58>] [--min-sol 0.5]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/0gfoundation/0g-sponsor-gateway/internal/config"
	"github.com/0gfoundation/0g-sponsor-gateway/internal/keystore"
	"github.com/0gfoundation/0g-sponsor-gateway/internal/relay"
)

const lamportsPerSOL = 1e9

func main() {
	address := flag.String("address", "", "Account to check (defaults to the configured fee payer)")
	minSOL := flag.Float64("min-sol", 0, "Exit non-zero when the balance is below this many SOL")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fatalf("config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var account solana.PublicKey
	if *address != "" {
		if account, err = solana.PublicKeyFromBase58(*address); err != nil {
			fatalf("parse address: %v", err)
		}
	} else {
		id, err := keystore.Load(ctx, keystore.Options{
			Address:     cfg.Sponsor.FeePayerAddress,
			PrivateKey:  cfg.Sponsor.FeePayerPrivateKey,
			KeypairFile: cfg.Sponsor.FeePayerKeypairFile,
			DaemonAddr:  cfg.Sponsor.KeyDaemonAddr,
			DaemonKeyID: cfg.Sponsor.KeyDaemonKeyID,
		})
		if err != nil {
			fatalf("fee payer: %v", err)
		}
		if id.Address.IsZero() {
			fatalf("no fee payer configured; pass --address")
		}
		account = id.Address
	}

	rc := relay.New(relay.Options{
		RPCURL:     cfg.Solana.RPCURL,
		Commitment: rpc.CommitmentType(cfg.Solana.Commitment),
		Timeout:    cfg.Solana.RelayTimeout(),
	})
	lamports, err := rc.Balance(ctx, account)
	if err != nil {
		fatalf("%v", err)
	}

	sol := float64(lamports) / lamportsPerSOL
	fmt.Printf("account:  %s\n", account)
	fmt.Printf("rpc:      %s\n", cfg.Solana.RPCURL)
	fmt.Printf("balance:  %d lamports (%.9f SOL)\n", lamports, sol)
	if *minSOL > 0 && sol < *minSOL {
		fmt.Fprintf(os.Stderr, "balance below %.9f SOL\n", *minSOL)
		os.Exit(2)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}
