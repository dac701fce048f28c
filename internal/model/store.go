package model

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNoWeights is returned by a WeightStore that has nothing persisted yet.
var ErrNoWeights = errors.New("no persisted weights")

// WeightStore loads and saves the live weight vector.
type WeightStore interface {
	Load(ctx context.Context) (Weights, error)
	Save(ctx context.Context, w Weights) error
	// Target names where the weights live, for logs and /model/info.
	Target() string
}

// PersistenceError wraps a failed weight load or save.
type PersistenceError struct {
	Op     string
	Target string
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("weights %s %s: %v", e.Op, e.Target, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// FileWeightStore keeps the weights as one line in a local file.
type FileWeightStore struct {
	path string
}

// NewFileWeightStore returns a store for path. The directory is created on first save.
func NewFileWeightStore(path string) *FileWeightStore {
	return &FileWeightStore{path: path}
}

// Path returns the weight file location.
func (s *FileWeightStore) Path() string {
	return s.path
}

// Target implements WeightStore.
func (s *FileWeightStore) Target() string {
	return "file:" + s.path
}

// Load reads the weight file. A missing file yields ErrNoWeights.
func (s *FileWeightStore) Load(ctx context.Context) (Weights, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Weights{}, ErrNoWeights
		}
		return Weights{}, &PersistenceError{Op: "load", Target: s.path, Err: err}
	}
	w, err := ParseWeights(string(data))
	if err != nil {
		return Weights{}, &PersistenceError{Op: "load", Target: s.path, Err: err}
	}
	return w, nil
}

// Save writes the weights to a temp file in the same directory, syncs it, then renames it
// over the target so readers only ever see a complete line.
func (s *FileWeightStore) Save(ctx context.Context, w Weights) (err error) {
	if ctx.Err() != nil {
		return &PersistenceError{Op: "save", Target: s.path, Err: ctx.Err()}
	}
	defer func() {
		if err != nil {
			err = &PersistenceError{Op: "save", Target: s.path, Err: err}
		}
	}()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	closed := false
	defer func() {
		if !closed {
			_ = tmp.Close()
		}
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.WriteString(w.String() + "\n"); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	closed = true
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, s.path)
}

// RedisKV is the subset of the go-redis client the store uses.
type RedisKV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// RedisWeightStore keeps the weights line under a single Redis key so replicas share one model.
type RedisWeightStore struct {
	client RedisKV
	key    string
}

// NewRedisWeightStore returns a store backed by client under key.
func NewRedisWeightStore(client RedisKV, key string) *RedisWeightStore {
	if key == "" {
		key = "hazard:model:weights"
	}
	return &RedisWeightStore{client: client, key: key}
}

// Target implements WeightStore.
func (s *RedisWeightStore) Target() string {
	return "redis:" + s.key
}

// Load reads the key. A missing key yields ErrNoWeights.
func (s *RedisWeightStore) Load(ctx context.Context) (Weights, error) {
	val, err := s.client.Get(ctx, s.key).Result()
	if err == redis.Nil {
		return Weights{}, ErrNoWeights
	}
	if err != nil {
		return Weights{}, &PersistenceError{Op: "load", Target: s.key, Err: err}
	}
	w, err := ParseWeights(val)
	if err != nil {
		return Weights{}, &PersistenceError{Op: "load", Target: s.key, Err: err}
	}
	return w, nil
}

// Save overwrites the key with no expiry.
func (s *RedisWeightStore) Save(ctx context.Context, w Weights) error {
	if err := s.client.Set(ctx, s.key, w.String(), 0).Err(); err != nil {
		return &PersistenceError{Op: "save", Target: s.key, Err: err}
	}
	return nil
}

// Ping checks that Redis is reachable. Used for health checks.
func (s *RedisWeightStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
