// Package signer countersigns accepted transactions with the custodial fee
// payer key.
package signer

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/0gfoundation/0g-sponsor-gateway/internal/policy"
)

var ErrSigning = errors.New("signing failed")

// SignedTransaction is the submitted wire bytes with the fee payer slot filled.
type SignedTransaction struct {
	raw       []byte
	signature solana.Signature
}

// Bytes returns a copy of the signed wire transaction.
func (s *SignedTransaction) Bytes() []byte {
	out := make([]byte, len(s.raw))
	copy(out, s.raw)
	return out
}

// Signature is the fee payer signature, which is also the transaction id.
func (s *SignedTransaction) Signature() solana.Signature {
	return s.signature
}

func (s *SignedTransaction) String() string {
	return s.signature.String()
}

// Signer holds the fee payer key. It keeps no per-request state.
type Signer struct {
	key solana.PrivateKey
	pub solana.PublicKey
}

// New checks that key is a usable ed25519 keypair.
func New(key solana.PrivateKey) (*Signer, error) {
	if len(key) != 64 {
		return nil, fmt.Errorf("%w: private key is %d bytes, want 64", ErrSigning, len(key))
	}
	pub := key.PublicKey()
	probe := []byte("sponsor-gateway key check")
	sig, err := key.Sign(probe)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigning, err)
	}
	if !sig.Verify(pub, probe) {
		return nil, fmt.Errorf("%w: private key does not match its public half", ErrSigning)
	}
	return &Signer{key: key, pub: pub}, nil
}

func (s *Signer) PublicKey() solana.PublicKey {
	return s.pub
}

// Sign signs the accepted message bytes and writes the signature into slot 0
// of a copy of the original wire bytes. Nothing else is re-encoded.
func (s *Signer) Sign(acc *policy.Accepted) (*SignedTransaction, error) {
	if s == nil || len(s.key) == 0 {
		return nil, fmt.Errorf("%w: no key loaded", ErrSigning)
	}
	tx := acc.Transaction()
	if tx == nil {
		return nil, fmt.Errorf("%w: transaction was not accepted by policy", ErrSigning)
	}
	if !acc.FeePayer().Equals(s.pub) || !tx.Message.FeePayer().Equals(s.pub) {
		return nil, fmt.Errorf("%w: fee payer slot does not belong to %s", ErrSigning, s.pub)
	}

	sig, err := s.key.Sign(tx.MessageBytes())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigning, err)
	}
	raw := tx.Raw()
	copy(raw[tx.SignatureOffset(0):], sig[:])
	return &SignedTransaction{raw: raw, signature: sig}, nil
}
