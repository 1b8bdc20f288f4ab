package payment_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/razorpay-checkout/internal/payment"
	"github.com/noah-isme/razorpay-checkout/internal/razorpay"
)

func newRedisReceipts(t *testing.T) (payment.RedisReceipts, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return payment.RedisReceipts{Client: client, TTL: time.Hour, LockTTL: time.Second}, mr
}

func TestRedisReceiptsReuseOrder(t *testing.T) {
	store, mr := newRedisReceipts(t)
	key := payment.ReceiptKey{KeyID: testKeyID, Receipt: "cart-1", AmountMinor: 16000, Currency: "INR"}

	var calls int32
	create := func(context.Context) (razorpay.Order, error) {
		atomic.AddInt32(&calls, 1)
		return razorpay.Order{ID: "order_1", Amount: 16000, Currency: "INR", Receipt: "cart-1"}, nil
	}

	first, cached, err := store.Do(context.Background(), key, create)
	require.NoError(t, err)
	require.False(t, cached)
	require.Equal(t, "order_1", first.ID)

	second, cached, err := store.Do(context.Background(), key, create)
	require.NoError(t, err)
	require.True(t, cached)
	require.Equal(t, first, second)
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))

	keys := mr.Keys()
	require.Len(t, keys, 1)
	require.Greater(t, mr.TTL(keys[0]), time.Duration(0))

	other := key
	other.AmountMinor = 17000
	_, cached, err = store.Do(context.Background(), other, create)
	require.NoError(t, err)
	require.False(t, cached)
	require.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestRedisReceiptsDoNotCacheFailures(t *testing.T) {
	store, mr := newRedisReceipts(t)
	key := payment.ReceiptKey{KeyID: testKeyID, Receipt: "cart-2", AmountMinor: 100, Currency: "INR"}
	boom := errors.New("gateway down")

	_, _, err := store.Do(context.Background(), key, func(context.Context) (razorpay.Order, error) {
		return razorpay.Order{}, boom
	})
	require.ErrorIs(t, err, boom)
	require.Empty(t, mr.Keys())
}

func TestRedisReceiptsSerialiseConcurrentCreation(t *testing.T) {
	store, _ := newRedisReceipts(t)
	key := payment.ReceiptKey{KeyID: testKeyID, Receipt: "cart-3", AmountMinor: 500, Currency: "INR"}

	var calls int32
	create := func(context.Context) (razorpay.Order, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(20 * time.Millisecond)
		return razorpay.Order{ID: "order_3", Amount: 500, Currency: "INR"}, nil
	}

	var wg sync.WaitGroup
	results := make([]razorpay.Order, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			order, _, err := store.Do(context.Background(), key, create)
			require.NoError(t, err)
			results[i] = order
		}(i)
	}
	wg.Wait()

	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
	for _, order := range results {
		require.Equal(t, "order_3", order.ID)
	}
}

func TestRedisReceiptsBusyWhenLockHeld(t *testing.T) {
	store, _ := newRedisReceipts(t)
	store.LockTTL = 50 * time.Millisecond
	key := payment.ReceiptKey{KeyID: testKeyID, Receipt: "cart-4", AmountMinor: 500, Currency: "INR"}

	// A slow creation holds the lock; miniredis keeps it until FastForward.
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _, _ = store.Do(context.Background(), key, func(context.Context) (razorpay.Order, error) {
			close(started)
			<-release
			return razorpay.Order{}, errors.New("abandoned")
		})
	}()
	<-started

	_, _, err := store.Do(context.Background(), key, func(context.Context) (razorpay.Order, error) {
		t.Fatal("second creation must not run while the lock is held")
		return razorpay.Order{}, nil
	})
	require.ErrorIs(t, err, payment.ErrReceiptBusy)
	close(release)
	<-done
}

func TestRedisReceiptsDegradeWithoutRedis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	client := redis.NewClient(&redis.Options{Addr: addr, MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	t.Cleanup(func() { _ = client.Close() })
	store := payment.RedisReceipts{Client: client, LockTTL: 2 * time.Second}

	var calls int32
	order, cached, err := store.Do(context.Background(), payment.ReceiptKey{Receipt: "cart-5"}, func(context.Context) (razorpay.Order, error) {
		atomic.AddInt32(&calls, 1)
		return razorpay.Order{ID: "order_5"}, nil
	})
	require.NoError(t, err)
	require.False(t, cached)
	require.Equal(t, "order_5", order.ID)
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestHandlerUsesReceiptStore(t *testing.T) {
	store, _ := newRedisReceipts(t)
	gw := &fakeGateway{}
	h := newHandler(gw, func(c *payment.HandlerConfig) { c.Receipts = store })

	for i := 0; i < 2; i++ {
		rec := postOrder(h, `{"amount":160,"receipt":"cart-42"}`)
		require.Equal(t, 200, rec.Code)
		require.Equal(t, "order_cart-42", decodeMap(t, rec)["orderId"])
	}
	require.Len(t, gw.Calls(), 1)

	for i := 0; i < 2; i++ {
		rec := postOrder(h, `{"amount":160}`)
		require.Equal(t, 200, rec.Code)
	}
	require.Len(t, gw.Calls(), 3)
}
