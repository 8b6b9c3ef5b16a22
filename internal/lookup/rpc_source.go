package lookup

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/gagliardetto/solana-go"
	alt "github.com/gagliardetto/solana-go/programs/address-lookup-table"
	"github.com/gagliardetto/solana-go/rpc"
)

// ProgramID owns every address lookup table account.
var ProgramID = solana.MustPublicKeyFromBase58("AddressLookupTab1e1111111111111111111111111")

// RPCSource reads lookup tables straight from a Solana RPC node.
type RPCSource struct {
	client     *rpc.Client
	commitment rpc.CommitmentType
}

func NewRPCSource(client *rpc.Client, commitment rpc.CommitmentType) *RPCSource {
	return &RPCSource{client: client, commitment: commitment}
}

// Table fetches and decodes the table account. RPC transport failures are
// returned unwrapped; anything wrong with the account itself is
// ErrUnresolvableAccount.
func (s *RPCSource) Table(ctx context.Context, table solana.PublicKey, _ int) (solana.PublicKeySlice, error) {
	out, err := s.client.GetAccountInfoWithOpts(ctx, table, &rpc.GetAccountInfoOpts{
		Encoding:   solana.EncodingBase64,
		Commitment: s.commitment,
	})
	if errors.Is(err, rpc.ErrNotFound) {
		return nil, fmt.Errorf("%w: lookup table %s not found", ErrUnresolvableAccount, table)
	}
	if err != nil {
		return nil, fmt.Errorf("get lookup table %s: %w", table, err)
	}
	if out == nil || out.Value == nil {
		return nil, fmt.Errorf("%w: lookup table %s not found", ErrUnresolvableAccount, table)
	}
	if !out.Value.Owner.Equals(ProgramID) {
		return nil, fmt.Errorf("%w: account %s is owned by %s, not the lookup table program", ErrUnresolvableAccount, table, out.Value.Owner)
	}

	state, err := alt.DecodeAddressLookupTableState(out.Value.Data.GetBinary())
	if err != nil {
		return nil, fmt.Errorf("%w: decode lookup table %s: %v", ErrUnresolvableAccount, table, err)
	}
	if state.DeactivationSlot != math.MaxUint64 {
		return nil, fmt.Errorf("%w: lookup table %s is deactivated", ErrUnresolvableAccount, table)
	}
	return state.Addresses, nil
}
