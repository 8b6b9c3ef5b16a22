// cmd/inspect decodes a base64 submission and runs it through the sponsorship
// policy without signing or relaying it.
//
// Usage:
//
//	go run ./cmd/inspect/ [--fee-payer <base58>] [--rpc <url>] <base64-tx>
//	echo <base64-tx> | go run ./cmd/inspect/
//
// --rpc is only needed for v0 transactions with lookup tables. The whitelist
// and fee payer default to the gateway's configuration.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-sponsor-gateway/internal/config"
	"github.com/0gfoundation/0g-sponsor-gateway/internal/lookup"
	"github.com/0gfoundation/0g-sponsor-gateway/internal/policy"
	"github.com/0gfoundation/0g-sponsor-gateway/internal/wire"
)

func main() {
	feePayerFlag := flag.String("fee-payer", "", "Fee payer address (defaults to FEE_PAYER_ADDRESS)")
	rpcURL := flag.String("rpc", "", "RPC endpoint used to resolve address lookup tables")
	flag.Parse()

	encoded, err := readInput(flag.Args())
	if err != nil {
		fatalf("read input: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		fatalf("config: %v", err)
	}

	tx, err := wire.DecodeBase64(encoded)
	if err != nil {
		fatalf("%v", err)
	}
	printTransaction(tx)

	var src lookup.TableSource
	if *rpcURL != "" {
		src = lookup.NewRPCSource(rpc.New(*rpcURL), rpc.CommitmentConfirmed)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	resolved, err := lookup.NewResolver(src, zap.NewNop()).Resolve(ctx, tx)
	if err != nil {
		fatalf("resolve accounts: %v", err)
	}
	printAccounts(resolved)

	feePayer := *feePayerFlag
	if feePayer == "" {
		feePayer = cfg.Sponsor.FeePayerAddress
	}
	if feePayer == "" {
		fatalf("no fee payer; pass --fee-payer or set FEE_PAYER_ADDRESS")
	}
	feePayerKey, err := solana.PublicKeyFromBase58(feePayer)
	if err != nil {
		fatalf("parse fee payer: %v", err)
	}
	whitelist, err := policy.LoadWhitelist(cfg.Sponsor.ProgramWhitelist)
	if err != nil {
		fatalf("whitelist: %v", err)
	}

	engine := policy.NewEngine(feePayerKey, whitelist, cfg.Sponsor.MaxComputeUnitPrice, zap.NewNop())
	if _, err := engine.Evaluate(resolved); err != nil {
		fmt.Printf("\nverdict:  REJECTED (%v)\n", err)
		os.Exit(2)
	}
	fmt.Println("\nverdict:  ACCEPTED")
}

func readInput(args []string) (string, error) {
	if len(args) > 0 {
		return strings.TrimSpace(args[0]), nil
	}
	sc := bufio.NewScanner(os.Stdin)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return "", err
		}
		return "", fmt.Errorf("no transaction on stdin")
	}
	return strings.TrimSpace(sc.Text()), nil
}

func printTransaction(tx *wire.Transaction) {
	m := &tx.Message
	fmt.Printf("version:     %s\n", m.Version)
	fmt.Printf("fee payer:   %s\n", m.FeePayer())
	fmt.Printf("signatures:  %d\n", len(tx.Signatures))
	for i, s := range tx.Signatures {
		state := "signed"
		if s == (solana.Signature{}) {
			state = "empty"
		}
		fmt.Printf("  [%d] %s\n", i, state)
	}
	fmt.Printf("blockhash:   %s\n", m.RecentBlockhash)
	for _, t := range m.TableKeys() {
		fmt.Printf("lookup:      %s\n", t)
	}
}

func printAccounts(r *lookup.Resolved) {
	m := r.Message()
	fmt.Printf("accounts:    %d\n", len(r.AccountKeys))
	for i, k := range r.AccountKeys {
		flags := ""
		if m.IsSigner(i) {
			flags += "s"
		}
		if m.IsWritable(i) {
			flags += "w"
		}
		fmt.Printf("  [%3d] %-2s %s\n", i, flags, k)
	}
	fmt.Printf("instructions: %d\n", len(m.Instructions))
	for i, ix := range m.Instructions {
		fmt.Printf("  [%d] program %s, %d accounts, %d data bytes\n", i, r.ProgramID(ix), len(ix.Accounts), len(ix.Data))
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}
