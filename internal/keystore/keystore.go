// Package keystore loads the custodial fee payer key.
//
// Sources are tried in order and the first configured one wins:
//  1. FEE_PAYER_PRIVATE_KEY, a base58 64-byte keypair
//  2. FEE_PAYER_KEYPAIR_FILE, a solana-keygen JSON file
//  3. KEY_DAEMON_ADDR, a local key daemon reached over gRPC
//
// With none configured the gateway still starts but cannot sponsor.
package keystore

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
	"google.golang.org/grpc"
)

// Options mirrors the sponsor.* config keys.
type Options struct {
	Address     string
	PrivateKey  string
	KeypairFile string
	DaemonAddr  string
	DaemonKeyID string

	// DaemonDialOptions replace the default insecure transport (tests).
	DaemonDialOptions []grpc.DialOption
}

// Identity is the fee payer as far as the gateway knows it. Key is nil when no
// key source is configured.
type Identity struct {
	Address solana.PublicKey
	Key     solana.PrivateKey
	Source  string
}

// Configured reports whether a signing key is available.
func (id *Identity) Configured() bool {
	return id != nil && len(id.Key) != 0
}

// Load resolves the fee payer identity. A configured address that does not
// match the key is an error; a missing address is derived from the key.
func Load(ctx context.Context, opts Options) (*Identity, error) {
	id := &Identity{}
	if opts.Address != "" {
		addr, err := solana.PublicKeyFromBase58(opts.Address)
		if err != nil {
			return nil, fmt.Errorf("keystore: invalid fee payer address %q: %w", opts.Address, err)
		}
		id.Address = addr
	}

	key, source, err := loadKey(ctx, opts)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return id, nil
	}

	pub := key.PublicKey()
	if !id.Address.IsZero() && !id.Address.Equals(pub) {
		return nil, fmt.Errorf("keystore: fee payer address %s does not match %s key %s", id.Address, source, pub)
	}
	id.Address = pub
	id.Key = key
	id.Source = source
	return id, nil
}

func loadKey(ctx context.Context, opts Options) (solana.PrivateKey, string, error) {
	switch {
	case opts.PrivateKey != "":
		raw, err := base58.Decode(opts.PrivateKey)
		if err != nil {
			return nil, "", fmt.Errorf("keystore: FEE_PAYER_PRIVATE_KEY is not base58: %w", err)
		}
		key, err := fromBytes(raw)
		if err != nil {
			return nil, "", fmt.Errorf("keystore: FEE_PAYER_PRIVATE_KEY: %w", err)
		}
		return key, "env", nil

	case opts.KeypairFile != "":
		key, err := solana.PrivateKeyFromSolanaKeygenFile(opts.KeypairFile)
		if err != nil {
			return nil, "", fmt.Errorf("keystore: read keypair file %s: %w", opts.KeypairFile, err)
		}
		if key, err = fromBytes(key); err != nil {
			return nil, "", fmt.Errorf("keystore: keypair file %s: %w", opts.KeypairFile, err)
		}
		return key, "file", nil

	case opts.DaemonAddr != "":
		d, err := DialDaemon(opts.DaemonAddr, opts.DaemonDialOptions...)
		if err != nil {
			return nil, "", err
		}
		defer d.Close()
		key, err := d.SecretKey(ctx, opts.DaemonKeyID)
		if err != nil {
			return nil, "", err
		}
		return key, "daemon", nil
	}
	return nil, "", nil
}

// fromBytes accepts a 64-byte keypair or a 32-byte seed and checks that the
// public half matches the secret.
func fromBytes(raw []byte) (solana.PrivateKey, error) {
	switch len(raw) {
	case ed25519.SeedSize:
		return solana.PrivateKey(ed25519.NewKeyFromSeed(raw)), nil
	case ed25519.PrivateKeySize:
		derived := ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize])
		if !bytes.Equal(derived[ed25519.SeedSize:], raw[ed25519.SeedSize:]) {
			return nil, fmt.Errorf("public half does not match secret")
		}
		return solana.PrivateKey(raw), nil
	default:
		return nil, fmt.Errorf("key is %d bytes, want %d or %d", len(raw), ed25519.SeedSize, ed25519.PrivateKeySize)
	}
}
