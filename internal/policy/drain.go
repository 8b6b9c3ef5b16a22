package policy

import (
	"encoding/binary"

	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/near/borsh-go"

	"github.com/0gfoundation/0g-sponsor-gateway/internal/lookup"
	"github.com/0gfoundation/0g-sponsor-gateway/internal/wire"
)

type violation struct {
	op     string
	amount *uint64
}

// systemAuthority lists, per System instruction, the account positions whose
// signature moves or re-owns the fee payer's lamports.
var systemAuthority = map[uint32][]int{
	system.Instruction_CreateAccount:         {0},
	system.Instruction_Assign:                {0},
	system.Instruction_Transfer:              {0},
	system.Instruction_CreateAccountWithSeed: {0},
	system.Instruction_WithdrawNonceAccount:  {4},
	system.Instruction_AuthorizeNonceAccount: {1},
	system.Instruction_Allocate:              {0},
	system.Instruction_AllocateWithSeed:      {1},
	system.Instruction_AssignWithSeed:        {1},
	system.Instruction_TransferWithSeed:      {0, 1},
}

// tokenAuthority lists the owner/authority position of SPL Token
// instructions that spend, delegate or give away a token account.
var tokenAuthority = map[uint8]int{
	token.Instruction_Transfer:        2,
	token.Instruction_Approve:         2,
	token.Instruction_SetAuthority:    1,
	token.Instruction_Burn:            2,
	token.Instruction_CloseAccount:    2,
	token.Instruction_TransferChecked: 3,
	token.Instruction_ApproveChecked:  3,
	token.Instruction_BurnChecked:     2,
}

type systemArgs struct {
	Tag      uint32
	Lamports uint64
}

type tokenArgs struct {
	Tag    uint8
	Amount uint64
}

type unitPriceArgs struct {
	Tag           uint8
	MicroLamports uint64
}

func (e *Engine) drain(r *lookup.Resolved, ix wire.CompiledInstruction) (violation, bool) {
	switch program := r.ProgramID(ix); {
	case program.Equals(solana.SystemProgramID):
		return e.systemDrain(r, ix)
	case program.Equals(solana.TokenProgramID), program.Equals(solana.Token2022ProgramID):
		return e.tokenDrain(r, ix)
	case program.Equals(solana.SPLAssociatedTokenAccountProgramID):
		return e.ataDrain(r, ix)
	case program.Equals(solana.ComputeBudget):
		return e.priorityFeeDrain(ix)
	}
	return violation{}, false
}

func (e *Engine) systemDrain(r *lookup.Resolved, ix wire.CompiledInstruction) (violation, bool) {
	if len(ix.Data) == 0 {
		return violation{}, false
	}
	var tag uint32
	if len(ix.Data) < 4 {
		// Too short to carry a u32 tag. A leading transfer tag is still
		// treated as a transfer.
		if ix.Data[0] != byte(system.Instruction_Transfer) {
			return violation{}, false
		}
		tag = system.Instruction_Transfer
	} else {
		tag = binary.LittleEndian.Uint32(ix.Data)
	}

	positions, ok := systemAuthority[tag]
	if !ok || !e.feePayerAt(r, ix, positions...) {
		return violation{}, false
	}

	v := violation{op: "system " + system.InstructionIDToName(tag)}
	if tag == system.Instruction_Transfer || tag == system.Instruction_TransferWithSeed || tag == system.Instruction_WithdrawNonceAccount {
		var args systemArgs
		if len(ix.Data) >= 12 && borsh.Deserialize(&args, ix.Data[:12]) == nil {
			v.amount = &args.Lamports
		}
	}
	return v, true
}

func (e *Engine) tokenDrain(r *lookup.Resolved, ix wire.CompiledInstruction) (violation, bool) {
	if len(ix.Data) == 0 {
		return violation{}, false
	}
	tag := ix.Data[0]
	pos, ok := tokenAuthority[tag]
	if !ok || !e.feePayerAt(r, ix, pos) {
		return violation{}, false
	}

	v := violation{op: "token " + token.InstructionIDToName(tag)}
	var args tokenArgs
	if len(ix.Data) >= 9 && borsh.Deserialize(&args, ix.Data[:9]) == nil {
		v.amount = &args.Amount
	}
	return v, true
}

// ataInstructions names the Associated Token Account instructions by tag. An
// empty payload is the legacy Create.
var ataInstructions = map[uint8]string{0: "Create", 1: "CreateIdempotent", 2: "RecoverNested"}

// ataDrain rejects any associated token account instruction funded by the
// fee payer. Position 0 pays the rent, which the account owner can reclaim by
// closing it.
func (e *Engine) ataDrain(r *lookup.Resolved, ix wire.CompiledInstruction) (violation, bool) {
	if !e.feePayerAt(r, ix, 0) {
		return violation{}, false
	}
	name := "Create"
	if len(ix.Data) > 0 {
		var ok bool
		if name, ok = ataInstructions[ix.Data[0]]; !ok {
			name = "unknown"
		}
	}
	return violation{op: "associated token account " + name}, true
}

// priorityFeeDrain rejects compute unit prices above the ceiling; the
// priority fee is debited from the fee payer.
func (e *Engine) priorityFeeDrain(ix wire.CompiledInstruction) (violation, bool) {
	if e.maxComputeUnitPrice == 0 || len(ix.Data) < 9 || ix.Data[0] != computebudget.Instruction_SetComputeUnitPrice {
		return violation{}, false
	}
	var args unitPriceArgs
	if err := borsh.Deserialize(&args, ix.Data[:9]); err != nil {
		return violation{}, false
	}
	if args.MicroLamports <= e.maxComputeUnitPrice {
		return violation{}, false
	}
	return violation{op: "compute budget SetComputeUnitPrice", amount: &args.MicroLamports}, true
}

func (e *Engine) feePayerAt(r *lookup.Resolved, ix wire.CompiledInstruction, positions ...int) bool {
	for _, pos := range positions {
		if k, ok := r.Account(ix, pos); ok && k.Equals(e.feePayer) {
			return true
		}
	}
	return false
}
