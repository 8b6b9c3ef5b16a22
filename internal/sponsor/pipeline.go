// Package sponsor runs a submission through decode, resolve, policy,
// admission, signing and relay, and classifies the result.
package sponsor

import (
	"context"
	"errors"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-sponsor-gateway/internal/lookup"
	"github.com/0gfoundation/0g-sponsor-gateway/internal/policy"
	"github.com/0gfoundation/0g-sponsor-gateway/internal/signer"
	"github.com/0gfoundation/0g-sponsor-gateway/internal/wire"
)

var ErrNotConfigured = errors.New("fee payer is not configured on the server")

type Resolver interface {
	Resolve(ctx context.Context, tx *wire.Transaction) (*lookup.Resolved, error)
}

type Evaluator interface {
	Evaluate(r *lookup.Resolved) (*policy.Accepted, error)
}

type Admitter interface {
	Admit(ctx context.Context, acc *policy.Accepted) error
}

type Signer interface {
	Sign(acc *policy.Accepted) (*signer.SignedTransaction, error)
}

type Relayer interface {
	Relay(ctx context.Context, st *signer.SignedTransaction) (solana.Signature, error)
}

// Deps wires the stages. Admission may be nil. A nil Signer means no key is
// loaded and every submission fails with ErrNotConfigured.
type Deps struct {
	Resolver  Resolver
	Policy    Evaluator
	Admission Admitter
	Signer    Signer
	Relay     Relayer
	Metrics   *Metrics
	Log       *zap.Logger
}

type Pipeline struct {
	d Deps
}

func New(d Deps) *Pipeline {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	return &Pipeline{d: d}
}

// Configured reports whether a signing key is loaded.
func (p *Pipeline) Configured() bool {
	return p.d.Signer != nil
}

// Submit processes one base64 submission. It never retries.
func (p *Pipeline) Submit(ctx context.Context, encoded string) Outcome {
	start := time.Now()
	o := p.submit(ctx, encoded)
	p.d.Metrics.observe(o)

	fields := []zap.Field{
		zap.String("outcome", o.Kind.String()),
		zap.Duration("elapsed", time.Since(start)),
	}
	switch o.Kind {
	case Relayed:
		p.d.Log.Info("transaction sponsored", append(fields, zap.String("signature", o.Signature.String()))...)
	case Rejected:
		p.d.Log.Warn("transaction rejected", append(fields, zap.String("reason", o.Reason), zap.Error(o.Err))...)
	default:
		p.d.Log.Error("sponsorship failed", append(fields, zap.String("reason", o.Reason), zap.Error(o.Err))...)
	}
	return o
}

func (p *Pipeline) submit(ctx context.Context, encoded string) Outcome {
	if p.d.Signer == nil {
		return classify(ErrNotConfigured)
	}

	tx, err := wire.DecodeBase64(encoded)
	if err != nil {
		return classify(err)
	}
	resolved, err := p.d.Resolver.Resolve(ctx, tx)
	if err != nil {
		return classify(err)
	}
	acc, err := p.d.Policy.Evaluate(resolved)
	if err != nil {
		return classify(err)
	}
	if p.d.Admission != nil {
		if err := p.d.Admission.Admit(ctx, acc); err != nil {
			return classify(err)
		}
	}
	signed, err := p.d.Signer.Sign(acc)
	if err != nil {
		return classify(err)
	}

	relayStart := time.Now()
	sig, err := p.d.Relay.Relay(ctx, signed)
	if p.d.Metrics != nil {
		p.d.Metrics.RelayDuration.Observe(time.Since(relayStart).Seconds())
	}
	if err != nil {
		return classify(err)
	}
	return relayed(sig)
}
