package policy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gagliardetto/solana-go"
)

// PandaBattleProgramID is the game program the gateway was built to sponsor.
var PandaBattleProgramID = solana.MustPublicKeyFromBase58("2U6NvgpGn779fBKMziM88UxQqWwstTgQm4LLHyt7JqyG")

// DefaultPrograms are always sponsored.
var DefaultPrograms = solana.PublicKeySlice{
	solana.SystemProgramID,
	solana.TokenProgramID,
	solana.SPLAssociatedTokenAccountProgramID,
	solana.MemoProgramID,
	PandaBattleProgramID,
}

// Whitelist is an immutable set of program addresses.
type Whitelist struct {
	set  map[solana.PublicKey]struct{}
	list solana.PublicKeySlice
}

// NewWhitelist builds a set from programs, ignoring duplicates.
func NewWhitelist(programs ...solana.PublicKey) *Whitelist {
	w := &Whitelist{set: make(map[solana.PublicKey]struct{}, len(programs))}
	for _, p := range programs {
		if _, ok := w.set[p]; ok {
			continue
		}
		w.set[p] = struct{}{}
		w.list = append(w.list, p)
	}
	sort.Slice(w.list, func(i, j int) bool { return w.list[i].String() < w.list[j].String() })
	return w
}

// LoadWhitelist merges DefaultPrograms with a comma-separated operator list.
// Entries are trimmed and empty segments skipped; anything else that is not
// a base58 32-byte address is an error.
func LoadWhitelist(override string) (*Whitelist, error) {
	programs := append(solana.PublicKeySlice{}, DefaultPrograms...)
	for _, entry := range strings.Split(override, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		pk, err := solana.PublicKeyFromBase58(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid whitelist entry %q: %w", entry, err)
		}
		programs = append(programs, pk)
	}
	return NewWhitelist(programs...), nil
}

func (w *Whitelist) Contains(program solana.PublicKey) bool {
	_, ok := w.set[program]
	return ok
}

// List returns the programs sorted by their base58 form.
func (w *Whitelist) List() solana.PublicKeySlice {
	return append(solana.PublicKeySlice{}, w.list...)
}

func (w *Whitelist) Len() int {
	return len(w.list)
}

// Strings returns List in base58.
func (w *Whitelist) Strings() []string {
	out := make([]string, len(w.list))
	for i, p := range w.list {
		out[i] = p.String()
	}
	return out
}
