package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rl1809/voucher-seckill/internal/adapter/storage"
	"github.com/rl1809/voucher-seckill/internal/core/domain"
	"github.com/rl1809/voucher-seckill/internal/core/service"
)

type stressOptions struct {
	RedisAddr string
	Stream    string
	VoucherID int64
	Stock     int
	Users     int
	Attempts  int
}

// openVoucher serves a voucher whose window is always open.
type openVoucher struct {
	id    int64
	stock int
}

func (o openVoucher) GetVoucher(ctx context.Context, voucherID int64) (*domain.SeckillVoucher, error) {
	if voucherID != o.id {
		return nil, domain.ErrVoucherNotFound
	}
	now := time.Now()
	return &domain.SeckillVoucher{
		VoucherID: o.id,
		Stock:     o.stock,
		BeginTime: now.Add(-time.Hour),
		EndTime:   now.Add(time.Hour),
	}, nil
}

func main() {
	opts := &stressOptions{}

	cmd := &cobra.Command{
		Use:   "stress_test",
		Short: "Fire concurrent seckill attempts at a live Redis",
		Long: `Preload a voucher's stock, run concurrent admissions through the
seckill script and verify that exactly the stock was admitted.

Entries are appended to a separate stream so a running server does not
consume them.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStress(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.RedisAddr, "redis", "localhost:6379", "redis address")
	cmd.Flags().StringVar(&opts.Stream, "stream", "stream.orders.stress", "order stream to append admitted entries to")
	cmd.Flags().Int64Var(&opts.VoucherID, "voucher", 9001, "voucher id")
	cmd.Flags().IntVar(&opts.Stock, "stock", 20, "initial stock")
	cmd.Flags().IntVar(&opts.Users, "users", 50, "number of distinct users")
	cmd.Flags().IntVar(&opts.Attempts, "attempts", 1, "attempts per user")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func runStress(ctx context.Context, opts *stressOptions) error {
	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)

	rdb := redis.NewClient(&redis.Options{Addr: opts.RedisAddr, PoolSize: 100})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer rdb.Close()

	// Clear previous test data
	setKey := fmt.Sprintf("seckill:order:%d", opts.VoucherID)
	if err := rdb.Del(ctx, setKey, opts.Stream).Err(); err != nil {
		return fmt.Errorf("reset keys: %w", err)
	}

	gate := storage.NewRedisAdapter(rdb, opts.Stream)
	if err := gate.SetStock(ctx, opts.VoucherID, opts.Stock); err != nil {
		return fmt.Errorf("set stock: %w", err)
	}

	ids := storage.NewRedisIDGenerator(rdb, nil)
	seckill := service.NewSeckillService(gate, ids, openVoucher{id: opts.VoucherID, stock: opts.Stock}, nil, log)

	var accepted, soldOut, duplicate, failed atomic.Int32
	var wg sync.WaitGroup
	start := time.Now()

	for u := 1; u <= opts.Users; u++ {
		for a := 0; a < opts.Attempts; a++ {
			wg.Add(1)
			go func(userID int64) {
				defer wg.Done()

				_, err := seckill.Submit(ctx, opts.VoucherID, userID)
				switch {
				case err == nil:
					accepted.Add(1)
				case errors.Is(err, service.ErrSoldOut):
					soldOut.Add(1)
				case errors.Is(err, domain.ErrDuplicateOrder):
					duplicate.Add(1)
				default:
					failed.Add(1)
					log.Warnf("user %d: %v", userID, err)
				}
			}(int64(u))
		}
	}

	wg.Wait()
	elapsed := time.Since(start)

	expected := opts.Stock
	if opts.Users < expected {
		expected = opts.Users
	}

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", opts.Stock)
	fmt.Printf("Total Requests:   %d\n", opts.Users*opts.Attempts)
	fmt.Printf("Accepted:         %d\n", accepted.Load())
	fmt.Printf("Sold Out:         %d\n", soldOut.Load())
	fmt.Printf("Duplicate:        %d\n", duplicate.Load())
	fmt.Printf("Failed:           %d\n", failed.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	pass := true
	if int(accepted.Load()) == expected {
		fmt.Printf("PASS: Exactly %d orders admitted\n", expected)
	} else {
		fmt.Printf("FAIL: Expected %d admitted, got %d\n", expected, accepted.Load())
		pass = false
	}

	finalStock, err := gate.Stock(ctx, opts.VoucherID)
	if err != nil {
		return fmt.Errorf("read stock: %w", err)
	}
	fmt.Printf("Final Redis Stock: %d\n", finalStock)
	if finalStock == opts.Stock-expected {
		fmt.Printf("PASS: Stock settled at %d\n", finalStock)
	} else {
		fmt.Printf("FAIL: Expected stock %d, got %d\n", opts.Stock-expected, finalStock)
		pass = false
	}

	entries, err := rdb.XLen(ctx, opts.Stream).Result()
	if err != nil {
		return fmt.Errorf("read stream length: %w", err)
	}
	fmt.Printf("Stream Entries:   %d\n", entries)
	if int(entries) != expected {
		fmt.Printf("FAIL: Expected %d stream entries, got %d\n", expected, entries)
		pass = false
	}

	if !pass {
		return errors.New("stress test failed")
	}
	return nil
}
