// Package chain provides block height sources for escrow expiry.
//
// Escrow lifetimes are measured in block heights rather than wall-clock
// time. In production the height comes from an Ethereum RPC endpoint;
// without one, a simulated clock advances the height at a fixed interval.
package chain

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/toolpay/toolpay/internal/circuitbreaker"
	"github.com/toolpay/toolpay/internal/retry"
)

// breakerKey identifies the single RPC upstream in the circuit breaker.
const breakerKey = "eth_rpc"

// EthSource reads the current block height from an Ethereum RPC endpoint.
// Heights are cached briefly to avoid hammering the RPC on every request.
// Transient RPC failures are retried with backoff; a persistently failing
// upstream trips a circuit breaker and the stale height is served instead.
type EthSource struct {
	client  *ethclient.Client
	logger  *slog.Logger
	breaker *circuitbreaker.Breaker

	cacheTTL time.Duration

	mu        sync.Mutex
	cached    uint64
	fetchedAt time.Time
}

// NewEthSource connects to an Ethereum RPC endpoint.
func NewEthSource(rpcURL string, logger *slog.Logger) (*EthSource, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}

	return &EthSource{
		client:   client,
		logger:   logger,
		breaker:  circuitbreaker.New(5, 30*time.Second),
		cacheTTL: 2 * time.Second,
	}, nil
}

// Height returns the current block height.
func (s *EthSource) Height(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached > 0 && time.Since(s.fetchedAt) < s.cacheTTL {
		return s.cached, nil
	}

	if !s.breaker.Allow(breakerKey) {
		if s.cached > 0 {
			return s.cached, nil
		}
		return 0, fmt.Errorf("block height unavailable: RPC circuit open")
	}

	var height uint64
	err := retry.Do(ctx, 3, 100*time.Millisecond, func() error {
		var err error
		height, err = s.client.BlockNumber(ctx)
		return err
	})
	if err != nil {
		s.breaker.RecordFailure(breakerKey)
		// Serve the stale height rather than failing the operation.
		if s.cached > 0 {
			s.logger.Warn("block height fetch failed, using cached height",
				"cached", s.cached, "error", err)
			return s.cached, nil
		}
		return 0, fmt.Errorf("failed to get block number: %w", err)
	}

	s.breaker.RecordSuccess(breakerKey)
	s.cached = height
	s.fetchedAt = time.Now()
	return height, nil
}

// Close releases the RPC connection.
func (s *EthSource) Close() {
	s.client.Close()
}

// SimSource derives a synthetic block height from wall-clock time.
// Used when no RPC endpoint is configured.
type SimSource struct {
	start    time.Time
	interval time.Duration
}

// NewSimSource creates a simulated height source advancing one block
// every interval.
func NewSimSource(interval time.Duration) *SimSource {
	return &SimSource{
		start:    time.Now(),
		interval: interval,
	}
}

// Height returns the simulated block height.
func (s *SimSource) Height(ctx context.Context) (uint64, error) {
	return uint64(time.Since(s.start)/s.interval) + 1, nil
}

// ManualSource is a height source advanced explicitly. Used in tests.
type ManualSource struct {
	height atomic.Uint64
}

// NewManualSource creates a manual source at the given height.
func NewManualSource(height uint64) *ManualSource {
	s := &ManualSource{}
	s.height.Store(height)
	return s
}

// Height returns the current height.
func (s *ManualSource) Height(ctx context.Context) (uint64, error) {
	return s.height.Load(), nil
}

// Set moves the source to the given height.
func (s *ManualSource) Set(height uint64) {
	s.height.Store(height)
}

// Advance moves the source forward by n blocks.
func (s *ManualSource) Advance(n uint64) uint64 {
	return s.height.Add(n)
}
