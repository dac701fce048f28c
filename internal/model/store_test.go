package model

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeights_StringRoundTrip(t *testing.T) {
	w := Weights{0.35, 0.25, 0.15, 0.1, 0.15, -0.0123456789}
	assert.Equal(t, "0.35,0.25,0.15,0.1,0.15,-0.0123456789", w.String())

	got, err := ParseWeights(w.String() + "\n")
	require.NoError(t, err)
	assert.Equal(t, w, got)
}

func TestParseWeights_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"too few", "0.1,0.2,0.3"},
		{"too many", "1,2,3,4,5,6,7"},
		{"not a number", "0.1,0.2,abc,0.4,0.5,0"},
		{"nan", "0.1,0.2,NaN,0.4,0.5,0"},
		{"inf", "0.1,0.2,+Inf,0.4,0.5,0"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseWeights(tc.input)
			assert.Error(t, err)
		})
	}
}

func TestParseWeights_ToleratesSpaces(t *testing.T) {
	got, err := ParseWeights("  0.1, 0.2 ,0.3,0.4,0.5,0.6 \n")
	require.NoError(t, err)
	assert.Equal(t, Weights{0.1, 0.2, 0.3, 0.4, 0.5, 0.6}, got)
}

// TestFileWeightStore_SaveLoad verifies that Save writes a single line that Load reads back
// and leaves no temp files behind.
func TestFileWeightStore_SaveLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "weights.txt")
	s := NewFileWeightStore(path)

	want := Weights{0.3, 0.2, 0.1, 0.05, 0.25, 0.02}
	require.NoError(t, s.Save(context.Background(), want))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, want.String()+"\n", string(raw))

	got, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, got)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file should be renamed away")
}

func TestFileWeightStore_Missing(t *testing.T) {
	s := NewFileWeightStore(filepath.Join(t.TempDir(), "absent.txt"))
	_, err := s.Load(context.Background())
	assert.ErrorIs(t, err, ErrNoWeights)
}

// TestFileWeightStore_Malformed verifies that a corrupt file surfaces as a PersistenceError
// carrying the operation and path.
func TestFileWeightStore_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.txt")
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))

	_, err := NewFileWeightStore(path).Load(context.Background())
	var pe *PersistenceError
	require.True(t, errors.As(err, &pe), "error = %v, want PersistenceError", err)
	assert.Equal(t, "load", pe.Op)
	assert.Equal(t, path, pe.Target)
	assert.NotErrorIs(t, err, ErrNoWeights)
}

func TestFileWeightStore_SaveFailure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	// The parent "directory" is a regular file, so MkdirAll fails.
	s := NewFileWeightStore(filepath.Join(blocker, "weights.txt"))
	err := s.Save(context.Background(), DefaultWeights)
	var pe *PersistenceError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "save", pe.Op)
}

func TestFileWeightStore_SaveCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewFileWeightStore(filepath.Join(t.TempDir(), "w.txt")).Save(ctx, DefaultWeights)
	assert.ErrorIs(t, err, context.Canceled)
}

// fakeRedis implements RedisKV over a map using the go-redis command constructors.
type fakeRedis struct {
	data    map[string]string
	err     error
	lastTTL time.Duration
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx, "get", key)
	if f.err != nil {
		cmd.SetErr(f.err)
		return cmd
	}
	v, ok := f.data[key]
	if !ok {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	cmd.SetVal(v)
	return cmd
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx, "set", key, value)
	if f.err != nil {
		cmd.SetErr(f.err)
		return cmd
	}
	if f.data == nil {
		f.data = make(map[string]string)
	}
	f.data[key] = value.(string)
	f.lastTTL = expiration
	cmd.SetVal("OK")
	return cmd
}

func (f *fakeRedis) Ping(ctx context.Context) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx, "ping")
	if f.err != nil {
		cmd.SetErr(f.err)
		return cmd
	}
	cmd.SetVal("PONG")
	return cmd
}

func TestRedisWeightStore(t *testing.T) {
	ctx := context.Background()
	fake := &fakeRedis{}
	s := NewRedisWeightStore(fake, "")
	assert.Equal(t, "redis:hazard:model:weights", s.Target())

	_, err := s.Load(ctx)
	assert.ErrorIs(t, err, ErrNoWeights)

	want := Weights{0.4, 0.3, 0.2, 0.1, 0.05, 0.01}
	require.NoError(t, s.Save(ctx, want))
	assert.Equal(t, want.String(), fake.data["hazard:model:weights"])
	assert.Zero(t, fake.lastTTL, "weights never expire")

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.NoError(t, s.Ping(ctx))
}

func TestRedisWeightStore_Errors(t *testing.T) {
	ctx := context.Background()
	down := &fakeRedis{err: errors.New("connection refused")}
	s := NewRedisWeightStore(down, "k")

	var pe *PersistenceError
	_, err := s.Load(ctx)
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "load", pe.Op)

	err = s.Save(ctx, DefaultWeights)
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "save", pe.Op)
	assert.Error(t, s.Ping(ctx))

	corrupt := &fakeRedis{data: map[string]string{"k": "1,2"}}
	_, err = NewRedisWeightStore(corrupt, "k").Load(ctx)
	assert.True(t, errors.As(err, &pe))
}
