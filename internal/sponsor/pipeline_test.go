package sponsor

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-sponsor-gateway/internal/admission"
	"github.com/0gfoundation/0g-sponsor-gateway/internal/lookup"
	"github.com/0gfoundation/0g-sponsor-gateway/internal/policy"
	"github.com/0gfoundation/0g-sponsor-gateway/internal/relay"
	"github.com/0gfoundation/0g-sponsor-gateway/internal/rpctest"
	"github.com/0gfoundation/0g-sponsor-gateway/internal/signer"
	"github.com/0gfoundation/0g-sponsor-gateway/internal/wire/wiretest"
)

// ── helpers ───────────────────────────────────────────────────────────────────

type harness struct {
	pipeline *Pipeline
	metrics  *Metrics
	rpc      *rpctest.Server
	feePayer solana.PrivateKey
	signer   *countingSigner
}

// countingSigner records every transaction handed to the real signer.
type countingSigner struct {
	next  *signer.Signer
	calls atomic.Int32
}

func (s *countingSigner) Sign(acc *policy.Accepted) (*signer.SignedTransaction, error) {
	s.calls.Add(1)
	return s.next.Sign(acc)
}

func newHarness(t *testing.T, withKey bool) *harness {
	t.Helper()
	log := zap.NewNop()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	srv := rpctest.NewServer(t)
	srv.Handle("sendTransaction", func(params json.RawMessage) (any, *rpctest.Error) {
		var p []json.RawMessage
		if err := json.Unmarshal(params, &p); err != nil || len(p) == 0 {
			return nil, &rpctest.Error{Code: -32602, Message: "bad params"}
		}
		var raw string
		json.Unmarshal(p[0], &raw) //nolint:errcheck
		tx, err := solana.TransactionFromBase64(raw)
		if err != nil {
			return nil, &rpctest.Error{Code: -32602, Message: err.Error()}
		}
		return tx.Signatures[0].String(), nil
	})

	key := wiretest.NewKey()
	wl, err := policy.LoadWhitelist("")
	if err != nil {
		t.Fatalf("LoadWhitelist: %v", err)
	}
	m := NewMetrics(prometheus.NewRegistry())
	d := Deps{
		Resolver:  lookup.NewResolver(nil, log),
		Policy:    policy.NewEngine(key.PublicKey(), wl, 0, log),
		Admission: admission.NewGuard(rdb, admission.Options{DedupTTL: time.Minute, Quota: 2, Window: time.Minute}, log),
		Relay:     relay.New(relay.Options{RPCURL: srv.URL, Timeout: 5 * time.Second}),
		Metrics:   m,
		Log:       log,
	}
	h := &harness{metrics: m, rpc: srv, feePayer: key}
	if withKey {
		s, err := signer.New(key)
		if err != nil {
			t.Fatalf("signer.New: %v", err)
		}
		h.signer = &countingSigner{next: s}
		d.Signer = h.signer
	}
	h.pipeline = New(d)
	return h
}

func (h *harness) memo(user solana.PrivateKey, text string) string {
	return wiretest.Fixture{
		FeePayer:     h.feePayer.PublicKey(),
		Signers:      []solana.PrivateKey{user},
		Instructions: []wiretest.Instruction{wiretest.Memo(user.PublicKey(), text)},
	}.Base64()
}

func (h *harness) count(kind Kind, reason string) float64 {
	return testutil.ToFloat64(h.metrics.Requests.WithLabelValues(kind.String(), reason))
}

// ── Submit ────────────────────────────────────────────────────────────────────

func TestSubmit_Relayed(t *testing.T) {
	h := newHarness(t, true)
	o := h.pipeline.Submit(context.Background(), h.memo(wiretest.NewKey(), "hello"))
	if o.Kind != Relayed {
		t.Fatalf("Kind: got %s (%v) want relayed", o.Kind, o.Err)
	}
	if o.Signature == (solana.Signature{}) {
		t.Error("expected a signature")
	}
	if h.rpc.Calls("sendTransaction") != 1 {
		t.Errorf("sendTransaction calls: got %d want 1", h.rpc.Calls("sendTransaction"))
	}
	if got := h.signer.calls.Load(); got != 1 {
		t.Errorf("Sign calls: got %d want 1", got)
	}
	if got := h.count(Relayed, ""); got != 1 {
		t.Errorf("relayed counter: got %v want 1", got)
	}
	if got := testutil.CollectAndCount(h.metrics.RelayDuration); got != 1 {
		t.Errorf("relay histogram series: got %d want 1", got)
	}
}

func TestSubmit_NotConfigured(t *testing.T) {
	h := newHarness(t, false)
	if h.pipeline.Configured() {
		t.Fatal("Configured: got true without a key")
	}
	o := h.pipeline.Submit(context.Background(), h.memo(wiretest.NewKey(), "x"))
	if o.Kind != InternalFailure || !errors.Is(o.Err, ErrNotConfigured) {
		t.Fatalf("got %s/%v want internal failure ErrNotConfigured", o.Kind, o.Err)
	}
	if h.rpc.Calls("sendTransaction") != 0 {
		t.Error("nothing should be relayed without a key")
	}
}

func TestSubmit_Rejections(t *testing.T) {
	other := wiretest.NewKey()
	rogue := wiretest.NewKey().PublicKey()

	cases := []struct {
		name   string
		build  func(h *harness) string
		reason string
	}{
		{"malformed", func(*harness) string { return "AAAA" }, ReasonMalformed},
		{"not base64", func(*harness) string { return "%%%" }, ReasonMalformed},
		{"foreign fee payer", func(h *harness) string {
			user := wiretest.NewKey()
			return wiretest.Fixture{
				FeePayer:     other.PublicKey(),
				Signers:      []solana.PrivateKey{user},
				Instructions: []wiretest.Instruction{wiretest.Memo(user.PublicKey(), "x")},
			}.Base64()
		}, ReasonInvalidFeePayer},
		{"unlisted program", func(h *harness) string {
			return wiretest.Fixture{
				FeePayer:     h.feePayer.PublicKey(),
				Instructions: []wiretest.Instruction{{Program: rogue, Data: []byte{1}}},
			}.Base64()
		}, ReasonUnauthorizedProgram},
		{"drain", func(h *harness) string {
			return wiretest.Fixture{
				FeePayer:     h.feePayer.PublicKey(),
				Instructions: []wiretest.Instruction{wiretest.Transfer(h.feePayer.PublicKey(), rogue, 1)},
			}.Base64()
		}, ReasonDrainAttempt},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, true)
			o := h.pipeline.Submit(context.Background(), tc.build(h))
			if o.Kind != Rejected || o.Reason != tc.reason {
				t.Fatalf("got %s/%s (%v) want rejected/%s", o.Kind, o.Reason, o.Err, tc.reason)
			}
			if h.rpc.Calls("sendTransaction") != 0 {
				t.Error("rejected transaction was relayed")
			}
			if got := h.signer.calls.Load(); got != 0 {
				t.Errorf("rejected transaction reached the signer %d times", got)
			}
			if got := h.count(Rejected, tc.reason); got != 1 {
				t.Errorf("counter: got %v want 1", got)
			}
		})
	}
}

func TestSubmit_DuplicateAndQuota(t *testing.T) {
	h := newHarness(t, true)
	user := wiretest.NewKey()
	ctx := context.Background()

	first := h.memo(user, "one")
	if o := h.pipeline.Submit(ctx, first); o.Kind != Relayed {
		t.Fatalf("first: got %s (%v)", o.Kind, o.Err)
	}
	if o := h.pipeline.Submit(ctx, first); o.Reason != ReasonDuplicate {
		t.Fatalf("replay: got %s/%s want duplicate", o.Kind, o.Reason)
	}
	if o := h.pipeline.Submit(ctx, h.memo(user, "two")); o.Kind != Relayed {
		t.Fatalf("second: got %s (%v)", o.Kind, o.Err)
	}
	if o := h.pipeline.Submit(ctx, h.memo(user, "three")); o.Reason != ReasonQuota {
		t.Fatalf("third: got %s/%s want quota", o.Kind, o.Reason)
	}
	if got := h.rpc.Calls("sendTransaction"); got != 2 {
		t.Errorf("sendTransaction calls: got %d want 2", got)
	}
	if got := h.signer.calls.Load(); got != 2 {
		t.Errorf("Sign calls: got %d want 2 (duplicate and over-quota never signed)", got)
	}
}

func TestSubmit_RelayFailure(t *testing.T) {
	h := newHarness(t, true)
	h.rpc.Handle("sendTransaction", func(json.RawMessage) (any, *rpctest.Error) {
		return nil, &rpctest.Error{Code: -32002, Message: "Blockhash not found"}
	})

	o := h.pipeline.Submit(context.Background(), h.memo(wiretest.NewKey(), "x"))
	if o.Kind != InternalFailure || o.Reason != ReasonRelay {
		t.Fatalf("got %s/%s want internal_failure/relay", o.Kind, o.Reason)
	}
	var re *relay.RelayError
	if !errors.As(o.Err, &re) || re.Detail != "Blockhash not found" {
		t.Errorf("expected RelayError with node detail, got %v", o.Err)
	}
}

// ── classify ──────────────────────────────────────────────────────────────────

func TestClassify_UnknownIsInternal(t *testing.T) {
	o := classify(errors.New("boom"))
	if o.Kind != InternalFailure || o.Reason != ReasonInternal {
		t.Fatalf("got %s/%s", o.Kind, o.Reason)
	}
}

func TestClassify_WrappedSentinels(t *testing.T) {
	cases := map[string]error{
		ReasonUnresolvableAccount: lookup.ErrUnresolvableAccount,
		ReasonSigning:             signer.ErrSigning,
		ReasonQuota:               admission.ErrQuotaExceeded,
	}
	for reason, sentinel := range cases {
		o := classify(errors.Join(errors.New("context"), sentinel))
		if o.Reason != reason {
			t.Errorf("%v: got reason %s want %s", sentinel, o.Reason, reason)
		}
	}
}
