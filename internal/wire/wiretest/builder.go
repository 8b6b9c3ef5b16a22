// Package wiretest builds serialized transactions for tests.
package wiretest

import (
	"encoding/base64"
	"encoding/binary"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/0gfoundation/0g-sponsor-gateway/internal/wire"
)

// Instruction is an uncompiled instruction.
type Instruction struct {
	Program  solana.PublicKey
	Accounts []solana.PublicKey
	Data     []byte
}

// Fixture describes a legacy transaction. The fee payer slot is left zeroed;
// every key in Signers signs its own slot.
type Fixture struct {
	FeePayer     solana.PublicKey
	Signers      []solana.PrivateKey
	Instructions []Instruction
	Blockhash    solana.Hash
}

// Message compiles the fixture. Key order: fee payer, extra signers, other
// accounts, then programs as readonly unsigned keys.
func (f Fixture) Message() wire.Message {
	var keys solana.PublicKeySlice
	index := map[solana.PublicKey]uint8{}
	add := func(k solana.PublicKey) {
		if _, ok := index[k]; ok {
			return
		}
		index[k] = uint8(len(keys))
		keys = append(keys, k)
	}

	add(f.FeePayer)
	for _, s := range f.Signers {
		add(s.PublicKey())
	}
	numSigners := len(keys)
	for _, ix := range f.Instructions {
		for _, a := range ix.Accounts {
			add(a)
		}
	}
	numWritable := len(keys)
	for _, ix := range f.Instructions {
		add(ix.Program)
	}

	m := wire.Message{
		Version: wire.VersionLegacy,
		Header: wire.Header{
			NumRequiredSignatures: uint8(numSigners),
			NumReadonlyUnsigned:   uint8(len(keys) - numWritable),
		},
		StaticKeys:      keys,
		RecentBlockhash: f.Blockhash,
	}
	for _, ix := range f.Instructions {
		c := wire.CompiledInstruction{ProgramIDIndex: index[ix.Program], Data: ix.Data}
		for _, a := range ix.Accounts {
			c.Accounts = append(c.Accounts, index[a])
		}
		m.Instructions = append(m.Instructions, c)
	}
	return m
}

// Bytes serializes the fixture with the extra signers' signatures filled in.
func (f Fixture) Bytes() []byte {
	m := f.Message()
	msg := EncodeMessage(m)
	sigs := make([]solana.Signature, m.Header.NumRequiredSignatures)
	for i, s := range f.Signers {
		sig, err := s.Sign(msg)
		if err != nil {
			panic(err)
		}
		sigs[i+1] = sig
	}
	return Encode(sigs, m)
}

// Base64 is Bytes in the submission encoding.
func (f Fixture) Base64() string {
	return base64.StdEncoding.EncodeToString(f.Bytes())
}

// Encode serializes signature slots followed by the message.
func Encode(sigs []solana.Signature, m wire.Message) []byte {
	var buf []byte
	bin.EncodeCompactU16Length(&buf, len(sigs))
	for _, s := range sigs {
		buf = append(buf, s[:]...)
	}
	return append(buf, EncodeMessage(m)...)
}

// EncodeMessage serializes m exactly as the network does.
func EncodeMessage(m wire.Message) []byte {
	var buf []byte
	if m.Version == wire.Version0 {
		buf = append(buf, 0x80)
	}
	buf = append(buf,
		m.Header.NumRequiredSignatures,
		m.Header.NumReadonlySigned,
		m.Header.NumReadonlyUnsigned,
	)

	bin.EncodeCompactU16Length(&buf, len(m.StaticKeys))
	for _, k := range m.StaticKeys {
		buf = append(buf, k[:]...)
	}
	buf = append(buf, m.RecentBlockhash[:]...)

	bin.EncodeCompactU16Length(&buf, len(m.Instructions))
	for _, ix := range m.Instructions {
		buf = append(buf, ix.ProgramIDIndex)
		bin.EncodeCompactU16Length(&buf, len(ix.Accounts))
		buf = append(buf, ix.Accounts...)
		bin.EncodeCompactU16Length(&buf, len(ix.Data))
		buf = append(buf, ix.Data...)
	}

	if m.Version == wire.Version0 {
		bin.EncodeCompactU16Length(&buf, len(m.Lookups))
		for _, l := range m.Lookups {
			buf = append(buf, l.TableKey[:]...)
			bin.EncodeCompactU16Length(&buf, len(l.WritableIndexes))
			buf = append(buf, l.WritableIndexes...)
			bin.EncodeCompactU16Length(&buf, len(l.ReadonlyIndexes))
			buf = append(buf, l.ReadonlyIndexes...)
		}
	}
	return buf
}

// NewKey returns a fresh random keypair.
func NewKey() solana.PrivateKey {
	k, err := solana.NewRandomPrivateKey()
	if err != nil {
		panic(err)
	}
	return k
}

// ── Instruction helpers ─────────────────────────────────────────────────────

// SystemInstruction builds a System program instruction with a u32 tag
// followed by args.
func SystemInstruction(tag uint32, accounts []solana.PublicKey, args ...uint64) Instruction {
	data := binary.LittleEndian.AppendUint32(nil, tag)
	for _, a := range args {
		data = binary.LittleEndian.AppendUint64(data, a)
	}
	return Instruction{Program: solana.SystemProgramID, Accounts: accounts, Data: data}
}

// Transfer is a native System transfer of lamports.
func Transfer(from, to solana.PublicKey, lamports uint64) Instruction {
	return SystemInstruction(2, []solana.PublicKey{from, to}, lamports)
}

// TokenInstruction builds an SPL Token instruction with a u8 tag followed by
// an optional u64 amount.
func TokenInstruction(program solana.PublicKey, tag uint8, accounts []solana.PublicKey, amount ...uint64) Instruction {
	data := []byte{tag}
	for _, a := range amount {
		data = binary.LittleEndian.AppendUint64(data, a)
	}
	return Instruction{Program: program, Accounts: accounts, Data: data}
}

// Memo is an SPL Memo instruction signed by signer.
func Memo(signer solana.PublicKey, text string) Instruction {
	return Instruction{Program: solana.MemoProgramID, Accounts: []solana.PublicKey{signer}, Data: []byte(text)}
}

// ComputeUnitPrice sets the priority fee in micro-lamports per compute unit.
func ComputeUnitPrice(microLamports uint64) Instruction {
	data := binary.LittleEndian.AppendUint64([]byte{3}, microLamports)
	return Instruction{Program: solana.ComputeBudget, Data: data}
}
