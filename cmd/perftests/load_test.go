package perftests

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"auction-engine/internal/biddingerrors"

	"github.com/shopspring/decimal"
)

// LoadScenario defines configurable benchmark parameters
type LoadScenario struct {
	Name            string
	NumAuctions     int
	ReadRatio       int
	MaxBidIncrement int
	Burst           bool // if true, no delay between ops
}

// OperationMetrics collects latencies safely
type OperationMetrics struct {
	mu        sync.Mutex
	latencies []time.Duration
}

func (om *OperationMetrics) Record(d time.Duration) {
	om.mu.Lock()
	om.latencies = append(om.latencies, d)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (min, max, avg, p95, p99 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()
	if len(om.latencies) == 0 {
		return
	}
	latencies := append([]time.Duration(nil), om.latencies...)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	min = latencies[0]
	max = latencies[len(latencies)-1]

	var total time.Duration
	for _, d := range latencies {
		total += d
	}
	avg = total / time.Duration(len(latencies))
	p95 = latencies[int(0.95*float64(len(latencies)-1))]
	p99 = latencies[int(0.99*float64(len(latencies)-1))]
	return
}

// Benchmark_Load_AuctionEngine runs multiple scenarios
func Benchmark_Load_AuctionEngine(b *testing.B) {
	scenarios := []LoadScenario{
		{"Low-Contention-WriteHeavy", 200, 0, 50, false},
		{"High-Contention-WriteHeavy", 10, 0, 20, false},
		{"Mixed-Workload", 50, 7, 30, false},
		{"ReadHeavy", 50, 9, 20, false},
		{"Edge-Case-SingleAuction", 1, 5, 10, false},
		{"Peak-Burst", 50, 0, 20, true},
	}

	for _, s := range scenarios {
		b.Run(s.Name, func(b *testing.B) {
			runParallelScenario(b, s)
		})
	}
}

func runParallelScenario(b *testing.B, s LoadScenario) {
	b.ReportAllocs()

	repo, svc, ids := setupService(b, s.NumAuctions, 100)
	ctx := context.Background()

	var totalOps, successfulBids, rejectedBids, conflicts, totalReads int64
	auctionSuccess := make([]int64, s.NumAuctions)
	metrics := &OperationMetrics{}

	b.ResetTimer()
	start := time.Now()

	b.RunParallel(func(pb *testing.PB) {
		rnd := rand.New(rand.NewSource(time.Now().UnixNano()))

		for pb.Next() {
			idx := rnd.Intn(s.NumAuctions)
			auctionID := ids[idx]

			opStart := time.Now()
			if rnd.Intn(10) < s.ReadRatio {
				if _, err := svc.GetAuction(ctx, auctionID); err != nil {
					b.Logf("ignored read error: %v", err)
				}
				atomic.AddInt64(&totalReads, 1)
			} else {
				// bid just above the current price so a good share is admitted
				current, err := svc.GetAuction(ctx, auctionID)
				if err != nil {
					b.Logf("ignored read error: %v", err)
					continue
				}
				amount := current.MinimumBid().Add(decimal.NewFromInt(int64(rnd.Intn(s.MaxBidIncrement))))
				userID := fmt.Sprintf("user_%d", rnd.Int())
				_, err = svc.PlaceBid(ctx, auctionID, userID, amount, time.Now())
				switch {
				case err == nil:
					atomic.AddInt64(&successfulBids, 1)
					atomic.AddInt64(&auctionSuccess[idx], 1)
				case errors.Is(err, biddingerrors.ErrConcurrentBidConflict):
					atomic.AddInt64(&conflicts, 1)
				default:
					atomic.AddInt64(&rejectedBids, 1)
				}
			}

			metrics.Record(time.Since(opStart))
			atomic.AddInt64(&totalOps, 1)

			if !s.Burst {
				time.Sleep(time.Millisecond)
			}
		}
	})

	elapsed := time.Since(start)
	throughput := float64(totalOps) / elapsed.Seconds()
	min, max, avg, p95, p99 := metrics.Stats()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	b.Logf(
		"Scenario: %s | Auctions: %d | Total Ops: %d | Accepted Bids: %d | Rejected Bids: %d | Conflicts: %d | Reads: %d | Elapsed: %s | Throughput: %.2f ops/sec | Latency(us) min: %.2f avg: %.2f max: %.2f p95: %.2f p99: %.2f | Memory Alloc: %.2f MB",
		s.Name, s.NumAuctions, totalOps, successfulBids, rejectedBids, conflicts, totalReads, elapsed,
		throughput,
		float64(min.Microseconds()), float64(avg.Microseconds()), float64(max.Microseconds()),
		float64(p95.Microseconds()), float64(p99.Microseconds()),
		float64(mem.Alloc)/1024/1024,
	)

	// every accepted bid is in the log and the price is its last amount
	for i, id := range ids {
		bids, err := repo.GetBidsByAuction(ctx, id)
		if err != nil {
			b.Fatalf("list bids for %s: %v", id, err)
		}
		if int64(len(bids)) != auctionSuccess[i] {
			b.Fatalf("auction %s has %d bids, %d were accepted", id, len(bids), auctionSuccess[i])
		}
		if len(bids) == 0 {
			continue
		}
		a, err := repo.GetAuction(ctx, id)
		if err != nil {
			b.Fatalf("get auction %s: %v", id, err)
		}
		if !a.CurrentPrice.Equal(bids[len(bids)-1].Amount) {
			b.Fatalf("auction %s price %s does not match last bid %s", id, a.CurrentPrice, bids[len(bids)-1].Amount)
		}
	}
}
