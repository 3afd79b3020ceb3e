package sequence

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"sendloop-engine/pkg/rediskey"
)

var Module = fx.Module("sequence",
	fx.Provide(NewRedisGenerator),
)

// Generator issues human-readable codes for customer-facing entities.
type Generator interface {
	NextCampaignCode(ctx context.Context, tenantID string) (string, error)
}

type RedisGenerator struct {
	rdb *redis.Client
}

type Params struct {
	fx.In

	Redis *redis.Client
}

func NewRedisGenerator(p Params) Generator {
	return &RedisGenerator{
		rdb: p.Redis,
	}
}

func (g *RedisGenerator) NextCampaignCode(ctx context.Context, tenantID string) (string, error) {
	day := utcDay()
	return g.nextDailyCode(ctx, "CMP", rediskey.BuildCampaignSequenceKey(tenantID, day), day)
}

func utcDay() string {
	return time.Now().UTC().Format("060102")
}

// nextDailyCode produces PREFIX-YYMMDD-SSSRR where SSS is the per-tenant
// daily counter in base36 and RR is random padding so codes cannot be
// enumerated. The counter key expires at the end of its UTC day.
func (g *RedisGenerator) nextDailyCode(ctx context.Context, prefix, key, day string) (string, error) {
	seq, err := g.rdb.Incr(ctx, key).Result()
	if err != nil {
		return "", fmt.Errorf("increment %s: %w", key, err)
	}
	if seq == 1 {
		midnight := time.Now().UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
		_ = g.rdb.ExpireAt(ctx, key, midnight).Err()
	}

	counter := strings.ToUpper(strconv.FormatInt(seq, 36))
	for len(counter) < 3 {
		counter = "0" + counter
	}

	return prefix + "-" + day + "-" + counter + randomSuffix(2), nil
}

// Ambiguous characters (0/O, 1/I) are excluded from the suffix alphabet.
const suffixAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func randomSuffix(n int) string {
	var b strings.Builder
	max := big.NewInt(int64(len(suffixAlphabet)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails when the OS entropy source is broken
			return b.String() + strings.Repeat("X", n-i)
		}
		b.WriteByte(suffixAlphabet[idx.Int64()])
	}
	return b.String()
}
