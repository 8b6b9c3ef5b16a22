// Package admission rate-limits sponsorship after a transaction has passed
// policy: identical messages are accepted once per TTL and each wallet gets
// a fixed number of sponsored transactions per window.
package admission

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-sponsor-gateway/internal/policy"
)

var (
	ErrDuplicateSubmission = errors.New("transaction already submitted")
	ErrQuotaExceeded       = errors.New("sponsorship quota exceeded")
)

const (
	dedupKeyPrefix = "sponsor:msg:"
	quotaKeyPrefix = "sponsor:quota:"

	// Bucket for transactions signed by nobody but the fee payer.
	feePayerOnly = "fee-payer-only"
)

type Options struct {
	DedupTTL time.Duration // 0 disables duplicate detection
	Quota    int64         // 0 disables the quota
	Window   time.Duration
}

// Guard enforces Options against Redis. Redis errors fail the request.
type Guard struct {
	rdb  *redis.Client
	opts Options
	now  func() time.Time
	log  *zap.Logger
}

func NewGuard(rdb *redis.Client, opts Options, log *zap.Logger) *Guard {
	if opts.Window <= 0 {
		opts.Window = time.Minute
	}
	return &Guard{rdb: rdb, opts: opts, now: time.Now, log: log}
}

// Admit records acc and reports whether it may proceed to signing.
func (g *Guard) Admit(ctx context.Context, acc *policy.Accepted) error {
	tx := acc.Transaction()
	if tx == nil {
		return errors.New("admission: empty acceptance")
	}

	var dedupKey string
	if g.opts.DedupTTL > 0 {
		sum := sha256.Sum256(tx.MessageBytes())
		dedupKey = dedupKeyPrefix + hex.EncodeToString(sum[:])
		set, err := g.rdb.SetNX(ctx, dedupKey, 1, g.opts.DedupTTL).Result()
		if err != nil {
			return fmt.Errorf("dedup check: %w", err)
		}
		if !set {
			return ErrDuplicateSubmission
		}
	}

	if g.opts.Quota <= 0 {
		return nil
	}
	wallet := Subject(acc)
	window := g.now().UnixNano() / int64(g.opts.Window)
	key := quotaKeyPrefix + wallet + ":" + strconv.FormatInt(window, 10)

	n, err := g.rdb.Incr(ctx, key).Result()
	if err != nil {
		g.release(ctx, dedupKey)
		return fmt.Errorf("quota incr: %w", err)
	}
	if n == 1 {
		if err := g.rdb.Expire(ctx, key, g.opts.Window).Err(); err != nil {
			g.release(ctx, dedupKey)
			return fmt.Errorf("quota expire: %w", err)
		}
	}
	if n > g.opts.Quota {
		// Let the same bytes through once the window rolls over.
		g.release(ctx, dedupKey)
		return fmt.Errorf("%w: %s used %d of %d", ErrQuotaExceeded, wallet, n, g.opts.Quota)
	}
	return nil
}

// release drops a dedup key claimed by a request that will not be signed, so
// a retry is not reported as a duplicate.
func (g *Guard) release(ctx context.Context, dedupKey string) {
	if dedupKey == "" {
		return
	}
	if err := g.rdb.Del(ctx, dedupKey).Err(); err != nil {
		g.log.Warn("release dedup key", zap.String("key", dedupKey), zap.Error(err))
	}
}

// Subject is the wallet a sponsored transaction is charged to: the first
// required signer other than the fee payer.
func Subject(acc *policy.Accepted) string {
	tx := acc.Transaction()
	feePayer := acc.FeePayer()
	n := int(tx.Message.Header.NumRequiredSignatures)
	for _, k := range acc.AccountKeys()[:n] {
		if !k.Equals(feePayer) {
			return k.String()
		}
	}
	return feePayerOnly
}
