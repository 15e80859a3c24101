package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/seantiz/wart/internal/model"
)

// ErrNotFound is returned when no session exists for a token.
var ErrNotFound = errors.New("session not found")

// maxCreateAttempts bounds token regeneration when a WATCHed create races.
const maxCreateAttempts = 3

// Session hash fields.
const (
	fieldToken            = "token"
	fieldNamespace        = "namespace"
	fieldEpoch            = "epoch"
	fieldModule           = "module"
	fieldIOTimeout        = "io_timeout"
	fieldExecutionTimeout = "execution_timeout"
	fieldParallelism      = "parallelism"
)

// closeScript removes every shard from 0 through epoch+1 and the session
// record, reading the epoch inside the same script so no shard created
// concurrently can be missed. Shard epoch+1 holds uncommitted writes.
var closeScript = redis.NewScript(`
local epoch = redis.call('HGET', KEYS[1], 'epoch')
if not epoch then
	return -1
end
epoch = tonumber(epoch)
for ep = 0, epoch + 1 do
	redis.call('UNLINK', ARGV[1] .. ep)
end
redis.call('UNLINK', KEYS[1])
return epoch
`)

var incrementScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
return redis.call('HINCRBY', KEYS[1], 'epoch', 1)
`)

// Params describes a session to create.
type Params struct {
	Namespace        string
	Module           []byte
	IOTimeout        time.Duration
	ExecutionTimeout time.Duration
	Parallelism      uint32
}

// Store persists sessions in Redis.
type Store struct {
	client redis.UniversalClient
	prefix string
	logger *slog.Logger
}

// NewStore creates a session store. prefix is prepended to every key.
func NewStore(client redis.UniversalClient, prefix string, logger *slog.Logger) *Store {
	return &Store{client: client, prefix: prefix, logger: logger}
}

// Client returns the underlying Redis client.
func (s *Store) Client() redis.UniversalClient {
	return s.client
}

// SessionKey returns the key of the session hash. The token is a hash tag,
// so a session and all of its shards share one cluster slot.
func (s *Store) SessionKey(token string) string {
	return s.prefix + "session:{" + token + "}"
}

// ShardKey returns the key of the shard holding user data for epoch.
func (s *Store) ShardKey(token string, epoch uint64) string {
	return s.shardPrefix(token) + strconv.FormatUint(epoch, 10)
}

func (s *Store) shardPrefix(token string) string {
	return s.prefix + "store:{" + token + "}:"
}

// Create writes a new session record with epoch 0 under a fresh token. The
// record is written in one MULTI/EXEC guarded by WATCH, so a token is never
// reused and a partially written record is never observable.
func (s *Store) Create(ctx context.Context, p Params) (*model.Session, error) {
	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		token := model.NewToken()
		key := s.SessionKey(token)

		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			n, err := tx.Exists(ctx, key).Result()
			if err != nil {
				return err
			}
			if n > 0 {
				return redis.TxFailedErr
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, key, map[string]any{
					fieldToken:            token,
					fieldNamespace:        p.Namespace,
					fieldEpoch:            0,
					fieldModule:           p.Module,
					fieldIOTimeout:        p.IOTimeout.Milliseconds(),
					fieldExecutionTimeout: p.ExecutionTimeout.Milliseconds(),
					fieldParallelism:      p.Parallelism,
				})
				return nil
			})
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			s.logger.Warn("session token collision, retrying", "attempt", attempt+1)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}

		return &model.Session{
			Token:            token,
			Namespace:        p.Namespace,
			Module:           p.Module,
			IOTimeout:        p.IOTimeout,
			ExecutionTimeout: p.ExecutionTimeout,
			Parallelism:      p.Parallelism,
		}, nil
	}
	return nil, fmt.Errorf("create session: %w", redis.TxFailedErr)
}

// Get loads a session record.
func (s *Store) Get(ctx context.Context, token string) (*model.Session, error) {
	fields, err := s.client.HGetAll(ctx, s.SessionKey(token)).Result()
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	sess := &model.Session{
		Token:     fields[fieldToken],
		Namespace: fields[fieldNamespace],
		Module:    []byte(fields[fieldModule]),
	}
	if sess.Token == "" {
		sess.Token = token
	}
	if sess.Epoch, err = parseUint(fields, fieldEpoch); err != nil {
		return nil, err
	}
	ioMS, err := parseUint(fields, fieldIOTimeout)
	if err != nil {
		return nil, err
	}
	exMS, err := parseUint(fields, fieldExecutionTimeout)
	if err != nil {
		return nil, err
	}
	par, err := parseUint(fields, fieldParallelism)
	if err != nil {
		return nil, err
	}
	sess.IOTimeout = time.Duration(ioMS) * time.Millisecond
	sess.ExecutionTimeout = time.Duration(exMS) * time.Millisecond
	sess.Parallelism = uint32(par)
	return sess, nil
}

func parseUint(fields map[string]string, name string) (uint64, error) {
	v, ok := fields[name]
	if !ok || v == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("session field %s: %w", name, err)
	}
	return n, nil
}

// Close deletes the session record and every shard it may have created.
func (s *Store) Close(ctx context.Context, token string) error {
	epoch, err := closeScript.Run(ctx, s.client,
		[]string{s.SessionKey(token)}, s.shardPrefix(token)).Int64()
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	if epoch < 0 {
		return ErrNotFound
	}
	s.logger.Debug("session shards removed", "token", token, "epoch", epoch)
	return nil
}

// IncrementEpoch advances the session epoch and returns the new value. This
// commits every write made under the previous epoch.
func (s *Store) IncrementEpoch(ctx context.Context, token string) (uint64, error) {
	epoch, err := incrementScript.Run(ctx, s.client, []string{s.SessionKey(token)}).Int64()
	if err != nil {
		return 0, fmt.Errorf("increment epoch: %w", err)
	}
	if epoch < 0 {
		return 0, ErrNotFound
	}
	return uint64(epoch), nil
}

// isNoSession reports whether a script failed because the session is gone.
func isNoSession(err error) bool {
	return err != nil && strings.Contains(err.Error(), noSessionReply)
}
