package lookup

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-sponsor-gateway/internal/rpctest"
	"github.com/0gfoundation/0g-sponsor-gateway/internal/wire"
	"github.com/0gfoundation/0g-sponsor-gateway/internal/wire/wiretest"
)

// ── helpers ───────────────────────────────────────────────────────────────────

type mockSource struct {
	mu     sync.Mutex
	tables map[solana.PublicKey]solana.PublicKeySlice
	err    error
	calls  int
}

func (m *mockSource) Table(_ context.Context, table solana.PublicKey, _ int) (solana.PublicKeySlice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	addrs, ok := m.tables[table]
	if !ok {
		return nil, ErrUnresolvableAccount
	}
	return addrs, nil
}

func keys(n int) solana.PublicKeySlice {
	out := make(solana.PublicKeySlice, n)
	for i := range out {
		out[i] = wiretest.NewKey().PublicKey()
	}
	return out
}

// v0Tx builds a transfer from the fee payer's perspective with the given lookups.
func v0Tx(t *testing.T, lookups []wire.AddressTableLookup, accounts []uint8) *wire.Transaction {
	t.Helper()
	payer := wiretest.NewKey().PublicKey()
	m := wiretest.Fixture{
		FeePayer:     payer,
		Instructions: []wiretest.Instruction{wiretest.Memo(payer, "x")},
	}.Message()
	m.Version = wire.Version0
	m.Lookups = lookups
	m.Instructions[0].Accounts = accounts

	tx, err := wire.Decode(wiretest.Encode(make([]solana.Signature, 1), m))
	if err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	return tx
}

// ── Resolver ──────────────────────────────────────────────────────────────────

func TestResolve_LegacyNoIO(t *testing.T) {
	src := &mockSource{}
	r := NewResolver(src, zap.NewNop())

	payer := wiretest.NewKey().PublicKey()
	raw := wiretest.Fixture{
		FeePayer:     payer,
		Instructions: []wiretest.Instruction{wiretest.Memo(payer, "hi")},
	}.Bytes()
	tx, err := wire.Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	res, err := r.Resolve(context.Background(), tx)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if src.calls != 0 {
		t.Errorf("source calls: got %d want 0", src.calls)
	}
	if len(res.AccountKeys) != 2 || res.AccountKeys[0] != payer || res.AccountKeys[1] != solana.MemoProgramID {
		t.Errorf("AccountKeys: got %v", res.AccountKeys)
	}
	if got := res.ProgramID(res.Message().Instructions[0]); got != solana.MemoProgramID {
		t.Errorf("ProgramID: got %s", got)
	}
}

func TestResolve_Ordering(t *testing.T) {
	a, b := wiretest.NewKey().PublicKey(), wiretest.NewKey().PublicKey()
	ta, tb := keys(3), keys(3)
	src := &mockSource{tables: map[solana.PublicKey]solana.PublicKeySlice{a: ta, b: tb}}

	tx := v0Tx(t, []wire.AddressTableLookup{
		{TableKey: a, WritableIndexes: []uint8{2}, ReadonlyIndexes: []uint8{0}},
		{TableKey: b, WritableIndexes: []uint8{1}, ReadonlyIndexes: []uint8{2}},
	}, []uint8{0, 2, 3, 4, 5})

	res, err := NewResolver(src, zap.NewNop()).Resolve(context.Background(), tx)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	want := append(solana.PublicKeySlice{}, tx.Message.StaticKeys...)
	want = append(want, ta[2], tb[1], ta[0], tb[2])
	if len(res.AccountKeys) != len(want) {
		t.Fatalf("AccountKeys len: got %d want %d", len(res.AccountKeys), len(want))
	}
	for i := range want {
		if res.AccountKeys[i] != want[i] {
			t.Errorf("AccountKeys[%d]: got %s want %s", i, res.AccountKeys[i], want[i])
		}
	}

	got, ok := res.Account(res.Message().Instructions[0], 3)
	if !ok || got != ta[0] {
		t.Errorf("Account(3): got %s ok=%v want %s", got, ok, ta[0])
	}
	if _, ok := res.Account(res.Message().Instructions[0], 9); ok {
		t.Error("Account(9): expected out of range")
	}
}

func TestResolve_Failures(t *testing.T) {
	a := wiretest.NewKey().PublicKey()
	short := keys(1)
	lookups := []wire.AddressTableLookup{{TableKey: a, WritableIndexes: []uint8{0}, ReadonlyIndexes: []uint8{1}}}

	t.Run("index beyond table", func(t *testing.T) {
		src := &mockSource{tables: map[solana.PublicKey]solana.PublicKeySlice{a: short}}
		_, err := NewResolver(src, zap.NewNop()).Resolve(context.Background(), v0Tx(t, lookups, []uint8{0}))
		if !errors.Is(err, ErrUnresolvableAccount) {
			t.Fatalf("got %v want ErrUnresolvableAccount", err)
		}
	})
	t.Run("missing table", func(t *testing.T) {
		src := &mockSource{tables: map[solana.PublicKey]solana.PublicKeySlice{}}
		_, err := NewResolver(src, zap.NewNop()).Resolve(context.Background(), v0Tx(t, lookups, []uint8{0}))
		if !errors.Is(err, ErrUnresolvableAccount) {
			t.Fatalf("got %v want ErrUnresolvableAccount", err)
		}
	})
	t.Run("no source", func(t *testing.T) {
		_, err := NewResolver(nil, zap.NewNop()).Resolve(context.Background(), v0Tx(t, lookups, []uint8{0}))
		if !errors.Is(err, ErrUnresolvableAccount) {
			t.Fatalf("got %v want ErrUnresolvableAccount", err)
		}
	})
	t.Run("address loaded twice", func(t *testing.T) {
		table := keys(2)
		table[1] = table[0]
		src := &mockSource{tables: map[solana.PublicKey]solana.PublicKeySlice{a: table}}
		_, err := NewResolver(src, zap.NewNop()).Resolve(context.Background(), v0Tx(t, lookups, []uint8{0}))
		if !errors.Is(err, ErrUnresolvableAccount) {
			t.Fatalf("got %v want ErrUnresolvableAccount", err)
		}
	})
	t.Run("source error passes through", func(t *testing.T) {
		boom := errors.New("rpc down")
		src := &mockSource{err: boom}
		_, err := NewResolver(src, zap.NewNop()).Resolve(context.Background(), v0Tx(t, lookups, []uint8{0}))
		if !errors.Is(err, boom) {
			t.Fatalf("got %v want %v", err, boom)
		}
	})
}

// ── RPCSource ─────────────────────────────────────────────────────────────────

func TestRPCSource(t *testing.T) {
	table := wiretest.NewKey().PublicKey()
	addrs := keys(4)

	cases := []struct {
		name    string
		result  any
		wantErr bool
	}{
		{"active table", rpctest.AccountInfo(ProgramID, rpctest.LookupTableData(addrs, false)), false},
		{"missing", rpctest.MissingAccount(), true},
		{"wrong owner", rpctest.AccountInfo(solana.SystemProgramID, rpctest.LookupTableData(addrs, false)), true},
		{"deactivated", rpctest.AccountInfo(ProgramID, rpctest.LookupTableData(addrs, true)), true},
		{"undecodable", rpctest.AccountInfo(ProgramID, []byte{1, 2}), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := rpctest.NewServer(t)
			srv.Handle("getAccountInfo", func(json.RawMessage) (any, *rpctest.Error) { return tc.result, nil })

			got, err := NewRPCSource(rpc.New(srv.URL), rpc.CommitmentConfirmed).Table(context.Background(), table, 1)
			if tc.wantErr {
				if !errors.Is(err, ErrUnresolvableAccount) {
					t.Fatalf("got %v want ErrUnresolvableAccount", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Table: %v", err)
			}
			if len(got) != len(addrs) || got[3] != addrs[3] {
				t.Errorf("addresses: got %v want %v", got, addrs)
			}
		})
	}
}

func TestRPCSource_TransportError(t *testing.T) {
	srv := rpctest.NewServer(t)
	srv.Handle("getAccountInfo", func(json.RawMessage) (any, *rpctest.Error) {
		return nil, &rpctest.Error{Code: -32005, Message: "node is behind"}
	})

	_, err := NewRPCSource(rpc.New(srv.URL), rpc.CommitmentConfirmed).Table(context.Background(), wiretest.NewKey().PublicKey(), 1)
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrUnresolvableAccount) {
		t.Errorf("transport failure should not be classified as unresolvable: %v", err)
	}
}

// ── CachedSource ──────────────────────────────────────────────────────────────

func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return rdb, mr
}

func TestCachedSource_WriteThrough(t *testing.T) {
	rdb, mr := newTestRedis(t)
	table := wiretest.NewKey().PublicKey()
	next := &mockSource{tables: map[solana.PublicKey]solana.PublicKeySlice{table: keys(3)}}
	c := NewCachedSource(rdb, next, time.Minute, zap.NewNop())
	ctx := context.Background()

	first, err := c.Table(ctx, table, 3)
	if err != nil {
		t.Fatalf("Table: %v", err)
	}
	second, err := c.Table(ctx, table, 2)
	if err != nil {
		t.Fatalf("Table: %v", err)
	}
	if next.calls != 1 {
		t.Errorf("upstream calls: got %d want 1", next.calls)
	}
	if second[2] != first[2] {
		t.Errorf("cached copy differs: got %s want %s", second[2], first[2])
	}
	if ttl := mr.TTL(tableKey(table)); ttl != time.Minute {
		t.Errorf("TTL: got %v want %v", ttl, time.Minute)
	}
}

func TestCachedSource_RefetchWhenShort(t *testing.T) {
	rdb, _ := newTestRedis(t)
	table := wiretest.NewKey().PublicKey()
	grown := keys(5)
	rdb.Set(context.Background(), tableKey(table), pack(grown[:2]), 0)

	next := &mockSource{tables: map[solana.PublicKey]solana.PublicKeySlice{table: grown}}
	c := NewCachedSource(rdb, next, time.Minute, zap.NewNop())

	got, err := c.Table(context.Background(), table, 5)
	if err != nil {
		t.Fatalf("Table: %v", err)
	}
	if next.calls != 1 || len(got) != 5 {
		t.Fatalf("expected refetch of grown table, calls=%d len=%d", next.calls, len(got))
	}

	cached, _ := rdb.Get(context.Background(), tableKey(table)).Bytes()
	if len(cached) != 5*solana.PublicKeyLength {
		t.Errorf("cache not refreshed: %d bytes", len(cached))
	}
}

func TestCachedSource_RedisDownFallsThrough(t *testing.T) {
	rdb, mr := newTestRedis(t)
	table := wiretest.NewKey().PublicKey()
	next := &mockSource{tables: map[solana.PublicKey]solana.PublicKeySlice{table: keys(1)}}
	c := NewCachedSource(rdb, next, time.Minute, zap.NewNop())
	mr.Close()

	if _, err := c.Table(context.Background(), table, 1); err != nil {
		t.Fatalf("Table with redis down: %v", err)
	}
}

func TestCachedSource_DoesNotCacheFailures(t *testing.T) {
	rdb, mr := newTestRedis(t)
	table := wiretest.NewKey().PublicKey()
	c := NewCachedSource(rdb, &mockSource{}, time.Minute, zap.NewNop())

	if _, err := c.Table(context.Background(), table, 1); !errors.Is(err, ErrUnresolvableAccount) {
		t.Fatalf("got %v want ErrUnresolvableAccount", err)
	}
	if mr.Exists(tableKey(table)) {
		t.Error("failure was cached")
	}
}
