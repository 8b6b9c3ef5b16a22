package lookup

import (
	"context"
	"errors"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const tableKeyPrefix = "sponsor:alt:"

func tableKey(table solana.PublicKey) string {
	return tableKeyPrefix + table.String()
}

// CachedSource keeps lookup table contents in Redis in front of another
// source. Tables only grow, so a cached copy is served whenever it is long
// enough for the request; a shorter copy is refetched.
type CachedSource struct {
	rdb  *redis.Client
	next TableSource
	ttl  time.Duration
	log  *zap.Logger
}

func NewCachedSource(rdb *redis.Client, next TableSource, ttl time.Duration, log *zap.Logger) *CachedSource {
	return &CachedSource{rdb: rdb, next: next, ttl: ttl, log: log}
}

func (s *CachedSource) Table(ctx context.Context, table solana.PublicKey, minLen int) (solana.PublicKeySlice, error) {
	raw, err := s.rdb.Get(ctx, tableKey(table)).Bytes()
	switch {
	case err == nil && len(raw)%solana.PublicKeyLength == 0:
		if addrs := unpack(raw); len(addrs) >= minLen {
			return addrs, nil
		}
		s.log.Debug("cached lookup table too short, refetching", zap.String("table", table.String()))
	case err == nil:
		s.log.Warn("dropping corrupt cached lookup table", zap.String("table", table.String()), zap.Int("bytes", len(raw)))
	case !errors.Is(err, redis.Nil):
		s.log.Warn("lookup table cache read failed", zap.String("table", table.String()), zap.Error(err))
	}

	addrs, err := s.next.Table(ctx, table, minLen)
	if err != nil {
		return nil, err
	}
	if err := s.rdb.Set(ctx, tableKey(table), pack(addrs), s.ttl).Err(); err != nil {
		s.log.Warn("lookup table cache write failed", zap.String("table", table.String()), zap.Error(err))
	}
	return addrs, nil
}

func pack(addrs solana.PublicKeySlice) []byte {
	out := make([]byte, 0, len(addrs)*solana.PublicKeyLength)
	for _, a := range addrs {
		out = append(out, a[:]...)
	}
	return out
}

func unpack(raw []byte) solana.PublicKeySlice {
	out := make(solana.PublicKeySlice, len(raw)/solana.PublicKeyLength)
	for i := range out {
		copy(out[i][:], raw[i*solana.PublicKeyLength:])
	}
	return out
}
