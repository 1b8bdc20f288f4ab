package payment

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/razorpay-checkout/internal/common"
	"github.com/noah-isme/razorpay-checkout/internal/lock"
	"github.com/noah-isme/razorpay-checkout/internal/obs"
	"github.com/noah-isme/razorpay-checkout/internal/razorpay"
)

// ErrReceiptBusy is returned when another request holds the creation lock for
// the same receipt for longer than the lock wait.
var ErrReceiptBusy = errors.New("payment: order creation for receipt already in progress")

// ReceiptKey identifies one order-creation intent. Retries carrying the same
// key are answered with the order the first attempt created.
type ReceiptKey struct {
	KeyID       string
	Receipt     string
	AmountMinor int64
	Currency    string
}

func (k ReceiptKey) hash() string {
	return common.Sha256Hex(k.KeyID, k.Receipt, strconv.FormatInt(k.AmountMinor, 10), k.Currency)
}

// CreateFunc performs the gateway call for a cache miss.
type CreateFunc func(ctx context.Context) (razorpay.Order, error)

// ReceiptStore deduplicates gateway order creation per receipt.
type ReceiptStore interface {
	// Do returns the cached order for key or runs create. The boolean reports a
	// cache hit.
	Do(ctx context.Context, key ReceiptKey, create CreateFunc) (razorpay.Order, bool, error)
}

// NopReceipts always calls the gateway.
type NopReceipts struct{}

// Do implements ReceiptStore.
func (NopReceipts) Do(ctx context.Context, _ ReceiptKey, create CreateFunc) (razorpay.Order, bool, error) {
	order, err := create(ctx)
	return order, false, err
}

// RedisReceipts caches created orders in Redis and serialises creation per
// receipt with a Redis lock. When Redis is unreachable it degrades to calling
// the gateway directly.
type RedisReceipts struct {
	Client  *redis.Client
	TTL     time.Duration
	LockTTL time.Duration
	Prefix  string
}

const (
	defaultReceiptTTL     = 24 * time.Hour
	defaultReceiptLockTTL = 15 * time.Second
)

// Do implements ReceiptStore.
func (s RedisReceipts) Do(ctx context.Context, key ReceiptKey, create CreateFunc) (razorpay.Order, bool, error) {
	if s.Client == nil {
		return NopReceipts{}.Do(ctx, key, create)
	}
	cacheKey := s.prefix() + "receipt:" + key.hash()
	if order, ok := s.lookup(ctx, cacheKey); ok {
		return order, true, nil
	}

	lockTTL := s.LockTTL
	if lockTTL <= 0 {
		lockTTL = defaultReceiptLockTTL
	}
	waitCtx, cancel := context.WithTimeout(ctx, lockTTL)
	defer cancel()

	var (
		order     razorpay.Order
		cached    bool
		ran       bool
		createErr error
	)
	locker := lock.Locker{R: s.Client, Prefix: s.prefix() + "lock:"}
	// waitCtx only bounds acquisition; the work runs on the request context.
	lockErr := locker.WithLock(waitCtx, key.hash(), lockTTL, func(context.Context) error {
		ran = true
		if hit, ok := s.lookup(ctx, cacheKey); ok {
			order, cached = hit, true
			return nil
		}
		order, createErr = create(ctx)
		if createErr == nil {
			s.store(ctx, cacheKey, order)
		}
		return createErr
	})
	if ran {
		return order, cached, createErr
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return razorpay.Order{}, false, ctxErr
	}
	if errors.Is(lockErr, context.DeadlineExceeded) {
		return razorpay.Order{}, false, ErrReceiptBusy
	}

	zerolog.Ctx(ctx).Warn().Err(lockErr).Msg("receipt lock unavailable, creating order without deduplication")
	obs.CountReceiptCache("error")
	order, err := create(ctx)
	return order, false, err
}

func (s RedisReceipts) lookup(ctx context.Context, cacheKey string) (razorpay.Order, bool) {
	raw, err := s.Client.Get(ctx, cacheKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			obs.CountReceiptCache("miss")
		} else {
			obs.CountReceiptCache("error")
			zerolog.Ctx(ctx).Warn().Err(err).Msg("receipt cache lookup failed")
		}
		return razorpay.Order{}, false
	}
	var order razorpay.Order
	if err := json.Unmarshal(raw, &order); err != nil || order.ID == "" {
		obs.CountReceiptCache("error")
		_ = s.Client.Del(ctx, cacheKey).Err()
		return razorpay.Order{}, false
	}
	obs.CountReceiptCache("hit")
	return order, true
}

func (s RedisReceipts) store(ctx context.Context, cacheKey string, order razorpay.Order) {
	ttl := s.TTL
	if ttl <= 0 {
		ttl = defaultReceiptTTL
	}
	payload, err := json.Marshal(order)
	if err != nil {
		return
	}
	if err := s.Client.Set(ctx, cacheKey, payload, ttl).Err(); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("receipt cache write failed")
	}
}

func (s RedisReceipts) prefix() string {
	if s.Prefix == "" {
		return "checkout:"
	}
	return s.Prefix
}
