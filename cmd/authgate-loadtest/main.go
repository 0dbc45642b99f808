// Command authgate-loadtest measures the Redis session layer under
// concurrent load: one phase reads persisted provider sessions the way
// store initialization does, the other rewrites them the way a token
// refresh does.
package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/MrEthical07/authgate/provider"
	"github.com/MrEthical07/authgate/session"
)

type browserSession struct {
	id         string
	generation int
	mu         sync.Mutex
}

type options struct {
	sessions    int
	concurrency int
	ops         int
	redisAddr   string
	prefix      string
	sliding     bool
}

func main() {
	var opts options
	fs := pflag.NewFlagSet("authgate-loadtest", pflag.ExitOnError)
	fs.IntVar(&opts.sessions, "sessions", 100000, "number of browser sessions to seed")
	fs.IntVar(&opts.concurrency, "concurrency", 256, "number of concurrent workers")
	fs.IntVar(&opts.ops, "ops", 200000, "operations per phase (load + refresh)")
	fs.StringVar(&opts.redisAddr, "redis-addr", os.Getenv("AUTHGATE_REDIS_ADDR"), "redis address; empty starts miniredis")
	fs.StringVar(&opts.prefix, "prefix", "authgate:loadtest", "session key prefix")
	fs.BoolVar(&opts.sliding, "sliding", true, "extend the TTL on every load")
	_ = fs.Parse(os.Args[1:])

	if err := run(context.Background(), opts); err != nil {
		fmt.Fprintf(os.Stderr, "loadtest: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	if opts.sessions <= 0 || opts.concurrency <= 0 || opts.ops <= 0 {
		return fmt.Errorf("sessions, concurrency, and ops must be > 0")
	}

	client, cleanup, err := connect(opts.redisAddr)
	if err != nil {
		return err
	}
	defer cleanup()

	store := session.NewStore(client, opts.prefix, 24*time.Hour, opts.sliding)

	states := make([]browserSession, opts.sessions)
	fmt.Printf("seeding %d sessions...\n", opts.sessions)
	startSeed := time.Now()
	for i := range states {
		states[i].id = uuid.NewString()
		if err := store.Save(ctx, states[i].id, fakeSession(i, 0)); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	loadStats := runPhase(opts.ops, opts.concurrency, func(r *rand.Rand, _ int) error {
		st := &states[r.IntN(len(states))]
		sess, err := store.Load(ctx, st.id)
		if err == nil && sess == nil {
			err = fmt.Errorf("session %s missing", st.id)
		}
		return err
	})
	refreshStats := runPhase(opts.ops, opts.concurrency, func(r *rand.Rand, _ int) error {
		st := &states[r.IntN(len(states))]
		st.mu.Lock()
		defer st.mu.Unlock()
		if err := store.Save(ctx, st.id, fakeSession(r.IntN(len(states)), st.generation+1)); err != nil {
			return err
		}
		st.generation++
		return nil
	})

	fmt.Println("---- results ----")
	printStats("load", loadStats)
	printStats("refresh", refreshStats)
	return nil
}

func connect(addr string) (redis.UniversalClient, func(), error) {
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nil, fmt.Errorf("start miniredis: %w", err)
		}
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		fmt.Printf("using miniredis at %s\n", mr.Addr())
		return client, func() {
			_ = client.Close()
			mr.Close()
		}, nil
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	fmt.Printf("using redis at %s\n", addr)
	return client, func() { _ = client.Close() }, nil
}

// runPhase spreads ops calls of op over concurrency workers and times each.
func runPhase(ops, concurrency int, op func(r *rand.Rand, i int) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    atomic.Int64
		failures  atomic.Int64
		mu        sync.Mutex
		latencies = make([]time.Duration, 0, ops)
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(worker)*7919))
			local := make([]time.Duration, 0, ops/concurrency+1)
			for {
				i := int(cursor.Add(1)) - 1
				if i >= ops {
					break
				}
				t0 := time.Now()
				if err := op(r, i); err != nil {
					failures.Add(1)
				}
				local = append(local, time.Since(t0))
			}
			mu.Lock()
			latencies = append(latencies, local...)
			mu.Unlock()
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures.Load())
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total, failures: failures}
	}
	slices.Sort(samples)
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

// percentile expects sorted samples.
func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}

func fakeSession(user, generation int) *provider.Session {
	now := time.Now()
	return &provider.Session{
		AccessToken:  fmt.Sprintf("access-%d-%d", user, generation),
		TokenType:    "bearer",
		ExpiresIn:    3600,
		ExpiresAt:    now.Add(time.Hour).Unix(),
		RefreshToken: fmt.Sprintf("refresh-%d-%d", user, generation),
		User: &provider.User{
			ID:        uuid.NewSHA1(uuid.NameSpaceOID, fmt.Appendf(nil, "user-%d", user)).String(),
			Role:      "authenticated",
			Email:     fmt.Sprintf("user%d@example.com", user),
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
}
