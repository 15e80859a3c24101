package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/seantiz/wart/internal/frame"
)

// ErrNotNumeric is returned when an add update targets a non-numeric value.
var ErrNotNumeric = errors.New("add on non-numeric value")

const (
	noSessionReply  = "NOSESSION"
	notNumericReply = "NOTNUMERIC"
)

// Merge selects how UpdateKV combines a written value with the stored one.
// The numeric values are part of the guest ABI.
type Merge uint8

const (
	MergeDel Merge = 0
	MergeAdd Merge = 1
	MergeMov Merge = 2
)

func (m Merge) String() string {
	switch m {
	case MergeDel:
		return "del"
	case MergeAdd:
		return "add"
	case MergeMov:
		return "mov"
	}
	return fmt.Sprintf("merge(%d)", uint8(m))
}

// ParseMerge returns the merge mode named s.
func ParseMerge(s string) (Merge, error) {
	for m := MergeDel; m <= MergeMov; m++ {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown merge mode %q", s)
}

// Valid reports whether m is a known merge mode.
func (m Merge) Valid() bool { return m <= MergeMov }

// resolveLua finds a field at the current epoch or the newest older epoch
// holding it. A value found in an older shard is moved into the current one.
const resolveLua = `
local function resolve(prefix, epoch, field)
	for ep = epoch, 0, -1 do
		local key = prefix .. ep
		local value = redis.call('HGET', key, field)
		if value then
			if ep ~= epoch then
				redis.call('HDEL', key, field)
				redis.call('HSET', prefix .. epoch, field, value)
			end
			return value
		end
	end
	return false
end

local epoch = redis.call('HGET', KEYS[1], 'epoch')
if not epoch then
	return redis.error_reply('` + noSessionReply + `')
end
epoch = tonumber(epoch)
`

// queryScript: ARGV[1] shard prefix, ARGV[2..] field names. Missing fields
// come back as nil.
var queryScript = redis.NewScript(resolveLua + `
local out = {}
for i = 2, #ARGV do
	out[i - 1] = resolve(ARGV[1], epoch, ARGV[i])
end
return out
`)

// updateScript: ARGV[1] shard prefix, ARGV[2] merge, ARGV[3..] triples of
// field, value and default. Every add is checked before anything is written
// so a rejected update leaves the pending shard untouched. Integer sums use
// HINCRBY and anything else HINCRBYFLOAT, so int64 values stay exact.
var updateScript = redis.NewScript(resolveLua + `
local prefix, merge = ARGV[1], ARGV[2]
local pending = prefix .. (epoch + 1)
local n = 0
if merge == 'del' then
	for i = 3, #ARGV, 3 do
		for ep = epoch + 1, 0, -1 do
			redis.call('HDEL', prefix .. ep, ARGV[i])
		end
		n = n + 1
	end
	return n
end
local function integer(s)
	return string.match(s, '^%-?%d+$') ~= nil
end
local writes = {}
for i = 3, #ARGV, 3 do
	local field, value = ARGV[i], ARGV[i + 1]
	local op = 'HSET'
	local base = false
	if merge == 'add' then
		base = redis.call('HGET', pending, field)
		if not base then
			base = resolve(prefix, epoch, field)
		end
		if not base then
			base = ARGV[i + 2]
		end
		if not tonumber(base) or not tonumber(value) then
			return redis.error_reply('` + notNumericReply + ` ' .. field)
		end
		op = 'HINCRBYFLOAT'
		if integer(base) and integer(value) then
			op = 'HINCRBY'
		end
	end
	writes[#writes + 1] = {op, field, value, base}
end
for _, w in ipairs(writes) do
	if w[1] ~= 'HSET' then
		redis.call('HSETNX', pending, w[2], w[4])
	end
	redis.call(w[1], pending, w[2], w[3])
	n = n + 1
end
return n
`)

// QueryKV resolves every key of defaults at the session's current epoch.
// Keys holding no value take their default. Stored text is parsed back into
// the default's kind; a Nil default yields the raw text as a string.
func (s *Store) QueryKV(ctx context.Context, token string, defaults frame.Row) (frame.Row, error) {
	if len(defaults) == 0 {
		return frame.Row{}, nil
	}
	args := make([]any, 0, len(defaults)+1)
	args = append(args, s.shardPrefix(token))
	for _, it := range defaults {
		args = append(args, it.Key)
	}

	res, err := queryScript.Run(ctx, s.client, []string{s.SessionKey(token)}, args...).Slice()
	if err != nil {
		return nil, scriptError("query kv", err)
	}
	if len(res) != len(defaults) {
		return nil, fmt.Errorf("query kv: got %d values for %d keys", len(res), len(defaults))
	}

	out := make(frame.Row, len(defaults))
	for i, it := range defaults {
		out[i] = it
		raw, ok := res[i].(string)
		if !ok {
			continue
		}
		v, err := frame.ParseValue(it.Value.Kind, raw)
		if err != nil {
			return nil, fmt.Errorf("query kv %q: %w", it.Key, err)
		}
		out[i] = frame.Item{Key: it.Key, Value: v}
	}
	return out, nil
}

// UpdateKV stages writes for the next epoch and returns how many fields were
// written. del removes each key from every shard immediately. add sums the
// value onto the pending, committed or zero base. mov overwrites.
func (s *Store) UpdateKV(ctx context.Context, token string, items frame.Row, merge Merge) (int, error) {
	if !merge.Valid() {
		return 0, fmt.Errorf("update kv: unknown merge mode %d", merge)
	}
	if len(items) == 0 {
		return 0, nil
	}
	args := make([]any, 0, 3*len(items)+2)
	args = append(args, s.shardPrefix(token), merge.String())
	for _, it := range items {
		if merge == MergeAdd && !it.Value.Kind.Numeric() {
			return 0, fmt.Errorf("update kv %q: %s value: %w", it.Key, it.Value.Kind, ErrNotNumeric)
		}
		args = append(args, it.Key, it.Value.Text(), "0")
	}

	n, err := updateScript.Run(ctx, s.client, []string{s.SessionKey(token)}, args...).Int()
	if err != nil {
		return 0, scriptError("update kv", err)
	}
	return n, nil
}

func scriptError(op string, err error) error {
	switch {
	case errors.Is(err, redis.Nil):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case isNoSession(err):
		return ErrNotFound
	case strings.Contains(err.Error(), notNumericReply):
		return fmt.Errorf("%s: %s: %w", op, err.Error(), ErrNotNumeric)
	}
	return fmt.Errorf("%s: %w", op, err)
}
