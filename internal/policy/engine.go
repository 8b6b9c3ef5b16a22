// Package policy decides whether a resolved transaction may be countersigned
// by the custodial fee payer.
package policy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-sponsor-gateway/internal/lookup"
	"github.com/0gfoundation/0g-sponsor-gateway/internal/wire"
)

var (
	ErrInvalidFeePayer      = errors.New("invalid fee payer in transaction")
	ErrUnauthorizedProgram  = errors.New("program not whitelisted")
	ErrFeePayerDrainAttempt = errors.New("transaction attempts to transfer funds from fee payer")
)

// UnauthorizedProgramError names the first program outside the whitelist.
type UnauthorizedProgramError struct {
	Program solana.PublicKey
	Allowed solana.PublicKeySlice
}

func (e *UnauthorizedProgramError) Error() string {
	return "Program ID not whitelisted: " + e.Program.String()
}

func (e *UnauthorizedProgramError) Unwrap() error {
	return ErrUnauthorizedProgram
}

// AllowedList renders the permitted programs for callers.
func (e *UnauthorizedProgramError) AllowedList() string {
	s := make([]string, len(e.Allowed))
	for i, p := range e.Allowed {
		s[i] = p.String()
	}
	return strings.Join(s, ", ")
}

// Accepted is proof that a transaction passed every check. It has no exported
// fields, so the only usable instances come from Engine.Evaluate.
type Accepted struct {
	resolved *lookup.Resolved
	feePayer solana.PublicKey
}

// Transaction returns the accepted transaction, or nil for a zero Accepted.
func (a *Accepted) Transaction() *wire.Transaction {
	if a == nil || a.resolved == nil {
		return nil
	}
	return a.resolved.Tx
}

// AccountKeys returns the resolved account list.
func (a *Accepted) AccountKeys() solana.PublicKeySlice {
	if a == nil || a.resolved == nil {
		return nil
	}
	return a.resolved.AccountKeys
}

// FeePayer is the identity the transaction was checked against.
func (a *Accepted) FeePayer() solana.PublicKey {
	if a == nil {
		return solana.PublicKey{}
	}
	return a.feePayer
}

// Engine evaluates resolved transactions. It holds only read-only state and
// is safe for concurrent use.
type Engine struct {
	feePayer            solana.PublicKey
	whitelist           *Whitelist
	maxComputeUnitPrice uint64
	log                 *zap.Logger
}

// NewEngine returns an engine for feePayer. maxComputeUnitPrice caps the
// priority fee in micro-lamports per compute unit; 0 disables the cap.
func NewEngine(feePayer solana.PublicKey, whitelist *Whitelist, maxComputeUnitPrice uint64, log *zap.Logger) *Engine {
	return &Engine{
		feePayer:            feePayer,
		whitelist:           whitelist,
		maxComputeUnitPrice: maxComputeUnitPrice,
		log:                 log,
	}
}

func (e *Engine) Whitelist() *Whitelist {
	return e.whitelist
}

func (e *Engine) FeePayer() solana.PublicKey {
	return e.feePayer
}

// Evaluate runs the fee payer, whitelist and drain checks in that order and
// returns the first failure.
func (e *Engine) Evaluate(r *lookup.Resolved) (*Accepted, error) {
	if r == nil || r.Tx == nil || len(r.AccountKeys) == 0 {
		return nil, errors.New("policy: nothing to evaluate")
	}
	msg := r.Message()

	if got := r.AccountKeys[0]; !got.Equals(e.feePayer) {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidFeePayer, got)
	}

	for _, ix := range msg.Instructions {
		program := r.ProgramID(ix)
		if !e.whitelist.Contains(program) {
			return nil, &UnauthorizedProgramError{Program: program, Allowed: e.whitelist.List()}
		}
	}

	for i, ix := range msg.Instructions {
		v, ok := e.drain(r, ix)
		if !ok {
			continue
		}
		fields := []zap.Field{
			zap.Int("instruction", i),
			zap.String("program", r.ProgramID(ix).String()),
			zap.String("operation", v.op),
		}
		if v.amount != nil {
			fields = append(fields, zap.Uint64("amount", *v.amount))
		}
		e.log.Warn("fee payer drain attempt", fields...)
		return nil, fmt.Errorf("%w: %s", ErrFeePayerDrainAttempt, v.op)
	}

	return &Accepted{resolved: r, feePayer: e.feePayer}, nil
}
