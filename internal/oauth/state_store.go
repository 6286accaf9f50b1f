package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// StateStore guarda el parámetro state del redirect OAuth y lo consume una sola vez.
type StateStore interface {
	Save(ctx context.Context, state, provider string) error
	// Consume devuelve el proveedor asociado y borra el state; un state desconocido o usado es ErrStateInvalid.
	Consume(ctx context.Context, state string) (string, error)
}

var ErrStateInvalid = errors.New("oauth state invalid")

const (
	defaultStateTTL = 10 * time.Minute
	redisOpTimeout  = 500 * time.Millisecond
)

// NewState genera un state aleatorio de 256 bits.
func NewState() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

type memoryStateStore struct {
	mu    sync.Mutex
	cache *gocache.Cache
	ttl   time.Duration
}

func NewMemoryStateStore(ttl time.Duration) StateStore {
	if ttl <= 0 {
		ttl = defaultStateTTL
	}
	return &memoryStateStore{
		cache: gocache.New(ttl, time.Minute),
		ttl:   ttl,
	}
}

func (s *memoryStateStore) Save(_ context.Context, state, provider string) error {
	if strings.TrimSpace(state) == "" {
		return ErrStateInvalid
	}
	s.cache.Set(state, provider, s.ttl)
	return nil
}

func (s *memoryStateStore) Consume(_ context.Context, state string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.cache.Get(state)
	if !ok {
		return "", ErrStateInvalid
	}
	s.cache.Delete(state)
	provider, _ := value.(string)
	return provider, nil
}

type redisStateClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	GetDel(ctx context.Context, key string) *redis.StringCmd
}

type redisStateStore struct {
	client redisStateClient
	prefix string
	ttl    time.Duration
}

func NewRedisStateStore(client *redis.Client, ttl time.Duration) StateStore {
	if client == nil {
		return nil
	}
	return newRedisStateStore(client, ttl)
}

func newRedisStateStore(client redisStateClient, ttl time.Duration) *redisStateStore {
	if ttl <= 0 {
		ttl = defaultStateTTL
	}
	return &redisStateStore{
		client: client,
		prefix: "oauth:state:",
		ttl:    ttl,
	}
}

func (s *redisStateStore) Save(ctx context.Context, state, provider string) error {
	if strings.TrimSpace(state) == "" {
		return ErrStateInvalid
	}
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	return s.client.Set(ctx, s.prefix+state, provider, s.ttl).Err()
}

func (s *redisStateStore) Consume(ctx context.Context, state string) (string, error) {
	if strings.TrimSpace(state) == "" {
		return "", ErrStateInvalid
	}
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	provider, err := s.client.GetDel(ctx, s.prefix+state).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrStateInvalid
	}
	if err != nil {
		return "", err
	}
	return provider, nil
}
