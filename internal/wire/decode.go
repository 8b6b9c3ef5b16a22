package wire

import (
	"encoding/base64"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// ErrMalformedTransaction is returned for any input that is not a well-formed
// legacy or v0 transaction.
var ErrMalformedTransaction = errors.New("malformed transaction")

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedTransaction, fmt.Sprintf(format, args...))
}

// DecodeBase64 decodes standard base64 wire text.
func DecodeBase64(s string) (*Transaction, error) {
	if s == "" {
		return nil, malformed("empty submission")
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, malformed("invalid base64: %v", err)
	}
	return Decode(b)
}

// Decode parses serialized transaction bytes. It validates structure only;
// policy and signatures are checked elsewhere.
func Decode(b []byte) (*Transaction, error) {
	if len(b) == 0 {
		return nil, malformed("empty transaction")
	}
	if len(b) > MaxTransactionSize {
		return nil, malformed("transaction is %d bytes, limit is %d", len(b), MaxTransactionSize)
	}

	raw := make([]byte, len(b))
	copy(raw, b)
	d := &decoder{dec: bin.NewBinDecoder(raw)}

	tx := &Transaction{raw: raw}

	numSigs, err := d.shortvec("signature count")
	if err != nil {
		return nil, err
	}
	if err := d.need(numSigs*solana.SignatureLength, "signatures"); err != nil {
		return nil, err
	}
	tx.Signatures = make([]solana.Signature, numSigs)
	for i := range tx.Signatures {
		if err := d.fill(tx.Signatures[i][:], "signature"); err != nil {
			return nil, err
		}
	}

	tx.messageOffset = len(raw) - d.dec.Remaining()
	if err := d.message(&tx.Message); err != nil {
		return nil, err
	}
	if rest := d.dec.Remaining(); rest != 0 {
		return nil, malformed("%d trailing bytes after message", rest)
	}
	if numSigs != int(tx.Message.Header.NumRequiredSignatures) {
		return nil, malformed("%d signatures for %d required signers", numSigs, tx.Message.Header.NumRequiredSignatures)
	}
	return tx, nil
}

type decoder struct {
	dec *bin.Decoder
}

func (d *decoder) need(n int, what string) error {
	if n > d.dec.Remaining() {
		return malformed("%s: need %d bytes, have %d", what, n, d.dec.Remaining())
	}
	return nil
}

func (d *decoder) fill(dst []byte, what string) error {
	if err := d.need(len(dst), what); err != nil {
		return err
	}
	if _, err := d.dec.Read(dst); err != nil {
		return malformed("%s: %v", what, err)
	}
	return nil
}

func (d *decoder) u8(what string) (uint8, error) {
	if err := d.need(1, what); err != nil {
		return 0, err
	}
	v, err := d.dec.ReadUint8()
	if err != nil {
		return 0, malformed("%s: %v", what, err)
	}
	return v, nil
}

// shortvec reads a compact-u16 and rejects encodings the runtime would not
// produce: more than three bytes, values above 0xffff, or non-minimal forms.
func (d *decoder) shortvec(what string) (int, error) {
	if err := d.need(1, what); err != nil {
		return 0, err
	}
	before := d.dec.Remaining()
	v, err := d.dec.ReadCompactU16()
	if err != nil {
		return 0, malformed("%s: %v", what, err)
	}
	size := before - d.dec.Remaining()
	if size < 1 || size > 3 || v < 0 || v > 0xffff {
		return 0, malformed("%s: invalid compact-u16", what)
	}
	if size != compactLen(v) {
		return 0, malformed("%s: non-minimal compact-u16", what)
	}
	return v, nil
}

func compactLen(v int) int {
	switch {
	case v < 1<<7:
		return 1
	case v < 1<<14:
		return 2
	default:
		return 3
	}
}

func (d *decoder) bytesVec(what string) ([]byte, error) {
	n, err := d.shortvec(what + " length")
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	if err := d.fill(out, what); err != nil {
		return nil, err
	}
	return out, nil
}

func (d *decoder) message(m *Message) error {
	first, err := d.dec.Peek(1)
	if err != nil || len(first) != 1 {
		return malformed("message: missing header")
	}
	m.Version = VersionLegacy
	if first[0]&0x80 != 0 {
		if _, err := d.u8("version prefix"); err != nil {
			return err
		}
		if v := first[0] & 0x7f; v != 0 {
			return malformed("unsupported message version %d", v)
		}
		m.Version = Version0
	}

	if m.Header.NumRequiredSignatures, err = d.u8("header"); err != nil {
		return err
	}
	if m.Header.NumReadonlySigned, err = d.u8("header"); err != nil {
		return err
	}
	if m.Header.NumReadonlyUnsigned, err = d.u8("header"); err != nil {
		return err
	}

	numKeys, err := d.shortvec("account key count")
	if err != nil {
		return err
	}
	if err := d.need(numKeys*solana.PublicKeyLength, "account keys"); err != nil {
		return err
	}
	m.StaticKeys = make(solana.PublicKeySlice, numKeys)
	seen := make(map[solana.PublicKey]struct{}, numKeys)
	for i := range m.StaticKeys {
		if err := d.fill(m.StaticKeys[i][:], "account key"); err != nil {
			return err
		}
		if _, dup := seen[m.StaticKeys[i]]; dup {
			return malformed("account key %s listed twice", m.StaticKeys[i])
		}
		seen[m.StaticKeys[i]] = struct{}{}
	}
	if err := checkHeader(m.Header, numKeys); err != nil {
		return err
	}

	if err := d.fill(m.RecentBlockhash[:], "recent blockhash"); err != nil {
		return err
	}

	numIx, err := d.shortvec("instruction count")
	if err != nil {
		return err
	}
	// Each instruction takes at least three bytes.
	if err := d.need(numIx*3, "instructions"); err != nil {
		return err
	}
	m.Instructions = make([]CompiledInstruction, numIx)
	for i := range m.Instructions {
		ix := &m.Instructions[i]
		if ix.ProgramIDIndex, err = d.u8("program index"); err != nil {
			return err
		}
		if ix.Accounts, err = d.bytesVec("instruction accounts"); err != nil {
			return err
		}
		if ix.Data, err = d.bytesVec("instruction data"); err != nil {
			return err
		}
	}

	if m.Version == Version0 {
		if err := d.lookups(m); err != nil {
			return err
		}
	}

	return checkIndexes(m)
}

func (d *decoder) lookups(m *Message) error {
	n, err := d.shortvec("lookup count")
	if err != nil {
		return err
	}
	if err := d.need(n*(solana.PublicKeyLength+2), "lookups"); err != nil {
		return err
	}
	m.Lookups = make([]AddressTableLookup, n)
	seen := make(map[solana.PublicKey]struct{}, n)
	for i := range m.Lookups {
		l := &m.Lookups[i]
		if err := d.fill(l.TableKey[:], "lookup table key"); err != nil {
			return err
		}
		if _, dup := seen[l.TableKey]; dup {
			return malformed("lookup table %s referenced twice", l.TableKey)
		}
		seen[l.TableKey] = struct{}{}
		if l.WritableIndexes, err = d.bytesVec("lookup writable indexes"); err != nil {
			return err
		}
		if l.ReadonlyIndexes, err = d.bytesVec("lookup readonly indexes"); err != nil {
			return err
		}
		if len(l.WritableIndexes) == 0 && len(l.ReadonlyIndexes) == 0 {
			return malformed("lookup table %s selects no addresses", l.TableKey)
		}
	}
	return nil
}

func checkHeader(h Header, numKeys int) error {
	switch {
	case h.NumRequiredSignatures == 0:
		return malformed("no required signatures")
	case int(h.NumRequiredSignatures) > numKeys:
		return malformed("%d required signatures for %d account keys", h.NumRequiredSignatures, numKeys)
	case h.NumReadonlySigned >= h.NumRequiredSignatures:
		return malformed("fee payer must be a writable signer")
	case int(h.NumReadonlyUnsigned) > numKeys-int(h.NumRequiredSignatures):
		return malformed("%d readonly unsigned accounts exceed %d unsigned keys", h.NumReadonlyUnsigned, numKeys-int(h.NumRequiredSignatures))
	}
	return nil
}

func checkIndexes(m *Message) error {
	total := m.NumAccounts()
	if total > MaxAccounts {
		return malformed("message addresses %d accounts, limit is %d", total, MaxAccounts)
	}
	numStatic := len(m.StaticKeys)
	for i, ix := range m.Instructions {
		if ix.ProgramIDIndex == 0 {
			return malformed("instruction %d: fee payer cannot be a program", i)
		}
		if int(ix.ProgramIDIndex) >= numStatic {
			return malformed("instruction %d: program index %d outside %d static keys", i, ix.ProgramIDIndex, numStatic)
		}
		for _, a := range ix.Accounts {
			if int(a) >= total {
				return malformed("instruction %d: account index %d outside %d accounts", i, a, total)
			}
		}
	}
	return nil
}
