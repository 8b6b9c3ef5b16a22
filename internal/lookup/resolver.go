// Package lookup expands a decoded transaction into its full ordered account
// list, fetching address lookup tables when the message references them.
package lookup

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-sponsor-gateway/internal/wire"
)

// ErrUnresolvableAccount means an instruction references an account whose
// address cannot be determined.
var ErrUnresolvableAccount = errors.New("unresolvable account")

// TableSource returns the addresses held by a lookup table. minLen is the
// number of entries the caller needs; sources backed by a cache use it to
// decide whether a stale copy is long enough.
type TableSource interface {
	Table(ctx context.Context, table solana.PublicKey, minLen int) (solana.PublicKeySlice, error)
}

// Resolved is a decoded transaction together with its ordered account keys:
// static keys, then every lookup's writable addresses, then every lookup's
// readonly addresses.
type Resolved struct {
	Tx          *wire.Transaction
	AccountKeys solana.PublicKeySlice
}

// Message is shorthand for the decoded message.
func (r *Resolved) Message() *wire.Message {
	return &r.Tx.Message
}

// ProgramID returns the program invoked by ix.
func (r *Resolved) ProgramID(ix wire.CompiledInstruction) solana.PublicKey {
	return r.AccountKeys[ix.ProgramIDIndex]
}

// Account returns the address at position pos of ix's account list.
func (r *Resolved) Account(ix wire.CompiledInstruction, pos int) (solana.PublicKey, bool) {
	if pos < 0 || pos >= len(ix.Accounts) {
		return solana.PublicKey{}, false
	}
	return r.AccountKeys[ix.Accounts[pos]], true
}

// Resolver turns decoded transactions into Resolved ones.
type Resolver struct {
	src TableSource
	log *zap.Logger
}

// NewResolver returns a resolver. src may be nil, in which case any message
// that uses lookup tables is unresolvable.
func NewResolver(src TableSource, log *zap.Logger) *Resolver {
	return &Resolver{src: src, log: log}
}

// Resolve builds the full account list for tx.
func (r *Resolver) Resolve(ctx context.Context, tx *wire.Transaction) (*Resolved, error) {
	m := &tx.Message
	keys := make(solana.PublicKeySlice, 0, m.NumAccounts())
	keys = append(keys, m.StaticKeys...)

	if len(m.Lookups) == 0 {
		return &Resolved{Tx: tx, AccountKeys: keys}, nil
	}
	if r.src == nil {
		return nil, fmt.Errorf("%w: no lookup table source configured", ErrUnresolvableAccount)
	}

	tables := make([]solana.PublicKeySlice, len(m.Lookups))
	for i, l := range m.Lookups {
		addrs, err := r.src.Table(ctx, l.TableKey, minLen(l))
		if err != nil {
			return nil, err
		}
		tables[i] = addrs
	}

	var readonly solana.PublicKeySlice
	for i, l := range m.Lookups {
		w, err := pick(l.TableKey, tables[i], l.WritableIndexes)
		if err != nil {
			return nil, err
		}
		keys = append(keys, w...)
		ro, err := pick(l.TableKey, tables[i], l.ReadonlyIndexes)
		if err != nil {
			return nil, err
		}
		readonly = append(readonly, ro...)
	}
	keys = append(keys, readonly...)

	seen := make(map[solana.PublicKey]struct{}, len(keys))
	for _, k := range keys {
		if _, dup := seen[k]; dup {
			return nil, fmt.Errorf("%w: account %s loaded twice", ErrUnresolvableAccount, k)
		}
		seen[k] = struct{}{}
	}

	r.log.Debug("resolved lookup tables",
		zap.Int("tables", len(m.Lookups)),
		zap.Int("accounts", len(keys)),
	)
	return &Resolved{Tx: tx, AccountKeys: keys}, nil
}

func minLen(l wire.AddressTableLookup) int {
	n := 0
	for _, idx := range l.WritableIndexes {
		n = max(n, int(idx)+1)
	}
	for _, idx := range l.ReadonlyIndexes {
		n = max(n, int(idx)+1)
	}
	return n
}

func pick(table solana.PublicKey, addrs solana.PublicKeySlice, idxs []uint8) (solana.PublicKeySlice, error) {
	out := make(solana.PublicKeySlice, 0, len(idxs))
	for _, idx := range idxs {
		if int(idx) >= len(addrs) {
			return nil, fmt.Errorf("%w: index %d outside lookup table %s (%d entries)", ErrUnresolvableAccount, idx, table, len(addrs))
		}
		out = append(out, addrs[idx])
	}
	return out, nil
}
