package leadership

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	defaultElectionKey = "pilotwatch:leader:poller"

	// Leader must renew before the lease expires.
	defaultLeaseDuration   = 15 * time.Second
	defaultRenewalInterval = 5 * time.Second
	defaultRetryInterval   = 2 * time.Second
)

// releaseScript deletes the lock only when this instance still owns it.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// ElectionConfig configures leader election behavior.
type ElectionConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// ElectionKey is the Redis key used for the leadership lease.
	ElectionKey string

	LeaseDuration   time.Duration
	RenewalInterval time.Duration
	RetryInterval   time.Duration

	// InstanceID uniquely identifies this instance.
	InstanceID string
}

// DefaultConfig returns default election configuration.
func DefaultConfig() ElectionConfig {
	return ElectionConfig{
		RedisAddr:       "localhost:6379",
		ElectionKey:     defaultElectionKey,
		LeaseDuration:   defaultLeaseDuration,
		RenewalInterval: defaultRenewalInterval,
		RetryInterval:   defaultRetryInterval,
		InstanceID:      uuid.NewString(),
	}
}

// Election manages distributed leader election over a Redis lease. Exactly
// one instance holds the lease at a time; the holder polls upstream, the
// rest stand by.
type Election struct {
	client *redis.Client
	logger zerolog.Logger
	config ElectionConfig

	mu       sync.RWMutex
	isLeader bool
}

// NewElection creates a leader election manager.
func NewElection(config ElectionConfig, logger zerolog.Logger) (*Election, error) {
	if config.ElectionKey == "" {
		config.ElectionKey = defaultElectionKey
	}
	if config.LeaseDuration == 0 {
		config.LeaseDuration = defaultLeaseDuration
	}
	if config.RenewalInterval == 0 {
		config.RenewalInterval = defaultRenewalInterval
	}
	if config.RetryInterval == 0 {
		config.RetryInterval = defaultRetryInterval
	}
	if config.InstanceID == "" {
		config.InstanceID = uuid.NewString()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.RedisAddr,
		Password: config.RedisPassword,
		DB:       config.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &Election{
		client: client,
		logger: logger.With().Str("component", "leadership").Str("instance", config.InstanceID).Logger(),
		config: config,
	}, nil
}

// Run campaigns for leadership until the context ends, then releases any
// held lease.
func (e *Election) Run(ctx context.Context) error {
	e.logger.Info().Dur("lease", e.config.LeaseDuration).Msg("leader election started")

	ticker := time.NewTicker(e.config.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.release()
			e.logger.Info().Msg("leader election stopped")
			return ctx.Err()
		case <-ticker.C:
			e.attempt(ctx)
		}
	}
}

// IsLeader reports whether this instance currently holds the lease.
func (e *Election) IsLeader() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.isLeader
}

// Leader returns the instance id of the current leaseholder, or empty when
// no leader is elected.
func (e *Election) Leader(ctx context.Context) (string, error) {
	leader, err := e.client.Get(ctx, e.config.ElectionKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get leader: %w", err)
	}
	return leader, nil
}

// Close releases the lease and the Redis connection.
func (e *Election) Close() error {
	e.release()
	return e.client.Close()
}

func (e *Election) attempt(ctx context.Context) {
	acquired, err := e.acquireOrRenew(ctx)
	if err != nil {
		e.logger.Warn().Err(err).Msg("leadership attempt failed")
		e.setLeader(false)
		return
	}
	e.setLeader(acquired)
}

// acquireOrRenew takes the lease when free, or extends it when we already
// hold it.
func (e *Election) acquireOrRenew(ctx context.Context) (bool, error) {
	ok, err := e.client.SetNX(ctx, e.config.ElectionKey, e.config.InstanceID, e.config.LeaseDuration).Result()
	if err != nil {
		return false, fmt.Errorf("set lease: %w", err)
	}
	if ok {
		return true, nil
	}

	holder, err := e.client.Get(ctx, e.config.ElectionKey).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get lease: %w", err)
	}
	if holder != e.config.InstanceID {
		return false, nil
	}

	if err := e.client.Expire(ctx, e.config.ElectionKey, e.config.LeaseDuration).Err(); err != nil {
		return false, fmt.Errorf("renew lease: %w", err)
	}
	return true, nil
}

func (e *Election) release() {
	if !e.IsLeader() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := releaseScript.Run(ctx, e.client, []string{e.config.ElectionKey}, e.config.InstanceID).Err(); err != nil {
		e.logger.Warn().Err(err).Msg("failed to release lease")
	}
	e.setLeader(false)
}

func (e *Election) setLeader(leader bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if leader != e.isLeader {
		if leader {
			e.logger.Info().Msg("acquired leadership")
		} else {
			e.logger.Warn().Msg("lost leadership")
		}
	}
	e.isLeader = leader
}
