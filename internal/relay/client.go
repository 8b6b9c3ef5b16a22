// Package relay submits signed transactions to a Solana RPC node.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"

	"github.com/0gfoundation/0g-sponsor-gateway/internal/signer"
)

var ErrRelay = errors.New("relay failed")

// RelayError carries the node's message verbatim.
type RelayError struct {
	Detail string
	Err    error
}

func (e *RelayError) Error() string {
	return "relay failed: " + e.Detail
}

func (e *RelayError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrRelay}
	}
	return []error{ErrRelay, e.Err}
}

type Options struct {
	RPCURL        string
	Commitment    rpc.CommitmentType
	SkipPreflight bool
	MaxRetries    uint // 0 leaves retries to the node
	Timeout       time.Duration
	MaxConns      int
}

// Client wraps a solana-go RPC client with a bounded, pooled HTTP transport.
type Client struct {
	rpc  *rpc.Client
	opts Options
}

func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.MaxConns <= 0 {
		opts.MaxConns = 64
	}
	if opts.Commitment == "" {
		opts.Commitment = rpc.CommitmentConfirmed
	}
	httpClient := &http.Client{
		Timeout: opts.Timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxConnsPerHost:     opts.MaxConns,
			MaxIdleConnsPerHost: opts.MaxConns,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	rpcClient := rpc.NewWithCustomRPCClient(jsonrpc.NewClientWithOpts(opts.RPCURL, &jsonrpc.RPCClientOpts{
		HTTPClient: httpClient,
	}))
	return &Client{rpc: rpcClient, opts: opts}
}

// RPC exposes the underlying client so other components share the pool.
func (c *Client) RPC() *rpc.Client {
	return c.rpc
}

func (c *Client) Commitment() rpc.CommitmentType {
	return c.opts.Commitment
}

// Relay sends st once. The call is bounded by the configured timeout and the
// node must echo the fee payer signature.
func (c *Client) Relay(ctx context.Context, st *signer.SignedTransaction) (solana.Signature, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	opts := rpc.TransactionOpts{
		SkipPreflight:       c.opts.SkipPreflight,
		PreflightCommitment: c.opts.Commitment,
	}
	if c.opts.MaxRetries > 0 {
		retries := c.opts.MaxRetries
		opts.MaxRetries = &retries
	}

	sig, err := c.rpc.SendRawTransactionWithOpts(ctx, st.Bytes(), opts)
	if err != nil {
		return solana.Signature{}, &RelayError{Detail: detail(err), Err: err}
	}
	if sig != st.Signature() {
		return solana.Signature{}, &RelayError{Detail: fmt.Sprintf("node returned signature %s, expected %s", sig, st.Signature())}
	}
	return sig, nil
}

// Balance returns the lamports held by account.
func (c *Client) Balance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()
	out, err := c.rpc.GetBalance(ctx, account, c.opts.Commitment)
	if err != nil {
		return 0, fmt.Errorf("get balance %s: %w", account, err)
	}
	return out.Value, nil
}

func detail(err error) string {
	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr.Message
	}
	return err.Error()
}
