package otp

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Record is a live second-factor challenge for one destination.
type Record struct {
	Destination string
	Code        string
	ExpiresAt   time.Time
	Attempts    int
	MaxAttempts int
}

// Store persists OTP records keyed by destination. At most one live record
// exists per destination; Save overwrites any prior one.
type Store interface {
	Save(ctx context.Context, record *Record) error
	Get(ctx context.Context, destination string) (*Record, error)
	Delete(ctx context.Context, destination string) error
	// IncrementAttempts atomically bumps the attempt counter and returns the
	// new value, so concurrent verifications cannot under-count.
	IncrementAttempts(ctx context.Context, destination string) (int, error)
	// DeleteExpired removes records whose expiry has passed and returns how
	// many were evicted.
	DeleteExpired(ctx context.Context) (int, error)
}

// MemoryStore is the in-process store used by default.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
	}
}

func (s *MemoryStore) Save(_ context.Context, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *record
	s.records[record.Destination] = &copied
	return nil
}

func (s *MemoryStore) Get(_ context.Context, destination string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[destination]
	if !ok {
		return nil, nil
	}
	copied := *record
	return &copied, nil
}

func (s *MemoryStore) Delete(_ context.Context, destination string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, destination)
	return nil
}

func (s *MemoryStore) IncrementAttempts(_ context.Context, destination string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[destination]
	if !ok {
		return 0, fmt.Errorf("no record for destination %s", destination)
	}
	record.Attempts++
	return record.Attempts, nil
}

func (s *MemoryStore) DeleteExpired(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	evicted := 0
	for destination, record := range s.records {
		if now.After(record.ExpiresAt) {
			delete(s.records, destination)
			evicted++
		}
	}
	return evicted, nil
}

// RedisStore keeps OTP records in Redis hashes so multiple instances share
// one challenge per destination. Attempt increments use HINCRBY for atomicity.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "otp:",
	}
}

func (s *RedisStore) key(destination string) string {
	return s.prefix + destination
}

func (s *RedisStore) Save(ctx context.Context, record *Record) error {
	key := s.key(record.Destination)
	fields := map[string]interface{}{
		"code":         record.Code,
		"expires_at":   record.ExpiresAt.UnixNano(),
		"attempts":     record.Attempts,
		"max_attempts": record.MaxAttempts,
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, fields)
	pipe.ExpireAt(ctx, key, record.ExpiresAt)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save otp record: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, destination string) (*Record, error) {
	fields, err := s.client.HGetAll(ctx, s.key(destination)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read otp record: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	expiresAtNanos, err := strconv.ParseInt(fields["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt otp record for %s: %w", destination, err)
	}
	attempts, _ := strconv.Atoi(fields["attempts"])
	maxAttempts, _ := strconv.Atoi(fields["max_attempts"])

	return &Record{
		Destination: destination,
		Code:        fields["code"],
		ExpiresAt:   time.Unix(0, expiresAtNanos),
		Attempts:    attempts,
		MaxAttempts: maxAttempts,
	}, nil
}

func (s *RedisStore) Delete(ctx context.Context, destination string) error {
	if err := s.client.Del(ctx, s.key(destination)).Err(); err != nil {
		return fmt.Errorf("failed to delete otp record: %w", err)
	}
	return nil
}

func (s *RedisStore) IncrementAttempts(ctx context.Context, destination string) (int, error) {
	attempts, err := s.client.HIncrBy(ctx, s.key(destination), "attempts", 1).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment otp attempts: %w", err)
	}
	return int(attempts), nil
}

func (s *RedisStore) DeleteExpired(_ context.Context) (int, error) {
	// Redis evicts via the TTL set in Save; nothing to sweep.
	return 0, nil
}
