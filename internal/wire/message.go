// Package wire decodes the Solana transaction envelope (legacy and v0) into a
// structured message while keeping the exact bytes that were received.
//
// Decoding is self-contained: it never touches the network. Address lookup
// tables are recorded as references and expanded later by package lookup.
package wire

import (
	"github.com/gagliardetto/solana-go"
)

// MaxTransactionSize is the largest serialized transaction the network accepts
// (IPv6 MTU minus headers).
const MaxTransactionSize = 1232

// MaxAccounts is the largest number of accounts a message can address with
// u8 indices.
const MaxAccounts = 256

// Version identifies the message encoding.
type Version int

const (
	VersionLegacy Version = -1
	Version0      Version = 0
)

func (v Version) String() string {
	switch v {
	case VersionLegacy:
		return "legacy"
	case Version0:
		return "v0"
	default:
		return "unknown"
	}
}

// Header is the three-byte message header.
type Header struct {
	NumRequiredSignatures uint8
	NumReadonlySigned     uint8
	NumReadonlyUnsigned   uint8
}

// CompiledInstruction references its program and accounts by index into the
// resolved account list.
type CompiledInstruction struct {
	ProgramIDIndex uint8
	Accounts       []uint8
	Data           []byte
}

// AddressTableLookup selects addresses from one on-chain lookup table.
type AddressTableLookup struct {
	TableKey        solana.PublicKey
	WritableIndexes []uint8
	ReadonlyIndexes []uint8
}

// Message is the decoded, signable part of a transaction. Values returned by
// Decode are owned by the caller's request and must be treated as read-only.
type Message struct {
	Version         Version
	Header          Header
	StaticKeys      solana.PublicKeySlice
	RecentBlockhash solana.Hash
	Instructions    []CompiledInstruction
	Lookups         []AddressTableLookup
}

// FeePayer returns the account debited for execution cost. Decode guarantees
// at least one static key.
func (m *Message) FeePayer() solana.PublicKey {
	return m.StaticKeys[0]
}

// NumWritableLookupKeys counts addresses loaded as writable from lookup tables.
func (m *Message) NumWritableLookupKeys() int {
	n := 0
	for _, l := range m.Lookups {
		n += len(l.WritableIndexes)
	}
	return n
}

// NumLookupKeys counts every address loaded from lookup tables.
func (m *Message) NumLookupKeys() int {
	n := 0
	for _, l := range m.Lookups {
		n += len(l.WritableIndexes) + len(l.ReadonlyIndexes)
	}
	return n
}

// NumAccounts is the number of addressable accounts once lookups are resolved.
func (m *Message) NumAccounts() int {
	return len(m.StaticKeys) + m.NumLookupKeys()
}

// IsSigner reports whether the account at index must sign.
func (m *Message) IsSigner(index int) bool {
	return index < int(m.Header.NumRequiredSignatures)
}

// IsWritable reports whether the account at index is loaded writable.
func (m *Message) IsWritable(index int) bool {
	numStatic := len(m.StaticKeys)
	numSigned := int(m.Header.NumRequiredSignatures)
	switch {
	case index < numSigned:
		return index < numSigned-int(m.Header.NumReadonlySigned)
	case index < numStatic:
		return index < numStatic-int(m.Header.NumReadonlyUnsigned)
	default:
		return index-numStatic < m.NumWritableLookupKeys()
	}
}

// TableKeys lists the lookup tables the message references, in order.
func (m *Message) TableKeys() solana.PublicKeySlice {
	out := make(solana.PublicKeySlice, 0, len(m.Lookups))
	for _, l := range m.Lookups {
		out = append(out, l.TableKey)
	}
	return out
}

// Transaction is a decoded envelope: signature slots plus message, along with
// the exact bytes it was decoded from.
type Transaction struct {
	Signatures []solana.Signature
	Message    Message

	raw           []byte
	messageOffset int
}

// Raw returns a copy of the serialized transaction.
func (tx *Transaction) Raw() []byte {
	out := make([]byte, len(tx.raw))
	copy(out, tx.raw)
	return out
}

// MessageBytes returns a copy of the serialized message, the payload every
// signature commits to.
func (tx *Transaction) MessageBytes() []byte {
	out := make([]byte, len(tx.raw)-tx.messageOffset)
	copy(out, tx.raw[tx.messageOffset:])
	return out
}

// SignatureOffset returns the byte offset of signature slot i within Raw.
func (tx *Transaction) SignatureOffset(i int) int {
	return tx.messageOffset - (len(tx.Signatures)-i)*solana.SignatureLength
}
