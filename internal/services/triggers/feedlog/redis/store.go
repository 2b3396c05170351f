// Package redis stores feed logs as Redis streams, one stream per owner.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/louisbranch/revents/internal/services/triggers/feedlog"
)

const entryField = "entry"

// appendScript adds an entry unless its dedupe key was already recorded.
// It returns the stream id and 1 when appended, or the existing id and 0.
var appendScript = goredis.NewScript(`
if ARGV[1] ~= '' then
	local existing = redis.call('GET', KEYS[2])
	if existing then
		return {existing, 0}
	end
end
local id = redis.call('XADD', KEYS[1], '*', 'entry', ARGV[2])
if ARGV[1] ~= '' then
	redis.call('SET', KEYS[2], id)
end
return {id, 1}
`)

// Client is the subset of the go-redis API the store uses.
type Client interface {
	goredis.Scripter
	XRevRangeN(ctx context.Context, stream, start, stop string, count int64) *goredis.XMessageSliceCmd
	XRange(ctx context.Context, stream, start, stop string) *goredis.XMessageSliceCmd
}

// Store provides Redis-backed feed logs.
type Store struct {
	client Client
	clock  func() time.Time
	closer func() error
}

var _ feedlog.Log = (*Store)(nil)

// New wraps an existing client. The caller keeps ownership of it.
func New(client Client) *Store {
	return &Store{client: client, clock: time.Now}
}

// Open connects to the Redis server at addr.
func Open(ctx context.Context, addr string) (*Store, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	store := New(client)
	store.closer = client.Close
	return store, nil
}

// Close releases the client when the store opened it.
func (s *Store) Close() error {
	if s == nil || s.closer == nil {
		return nil
	}
	return s.closer()
}

// StreamKey returns the stream holding owner's feed. The hash tag keeps an
// owner's stream and dedupe keys in one cluster slot.
func StreamKey(owner string) string {
	return "feed:{" + owner + "}"
}

func dedupeKey(owner, key string) string {
	return "feed-dedupe:{" + owner + "}:" + key
}

// Append adds entry to owner's stream.
func (s *Store) Append(ctx context.Context, owner string, entry feedlog.Entry) (feedlog.Entry, error) {
	if err := ctx.Err(); err != nil {
		return feedlog.Entry{}, err
	}
	if s == nil || s.client == nil {
		return feedlog.Entry{}, fmt.Errorf("storage is not configured")
	}
	entry, err := feedlog.Normalize(owner, entry)
	if err != nil {
		return feedlog.Entry{}, err
	}
	entry.Key = ""
	entry.Date = s.clock().UTC()
	payload, err := json.Marshal(entry)
	if err != nil {
		return feedlog.Entry{}, fmt.Errorf("encode feed entry: %w", err)
	}

	stream := StreamKey(entry.Owner)
	raw, err := appendScript.Run(ctx, s.client,
		[]string{stream, dedupeKey(entry.Owner, entry.DedupeKey)},
		entry.DedupeKey, string(payload),
	).Slice()
	if err != nil {
		return feedlog.Entry{}, fmt.Errorf("append feed entry: %w", err)
	}
	if len(raw) != 2 {
		return feedlog.Entry{}, fmt.Errorf("append feed entry: unexpected reply %v", raw)
	}
	streamID, _ := raw[0].(string)
	appended, _ := raw[1].(int64)
	if streamID == "" {
		return feedlog.Entry{}, fmt.Errorf("append feed entry: empty stream id")
	}
	if appended == 1 {
		entry.Key = streamID
		return entry, nil
	}

	messages, err := s.client.XRange(ctx, stream, streamID, streamID).Result()
	if err != nil {
		return feedlog.Entry{}, fmt.Errorf("load deduplicated feed entry: %w", err)
	}
	if len(messages) == 0 {
		return feedlog.Entry{}, fmt.Errorf("load deduplicated feed entry %s: not found", streamID)
	}
	return decodeMessage(messages[0])
}

// List returns up to limit entries of owner's feed, newest first.
func (s *Store) List(ctx context.Context, owner string, limit int) ([]feedlog.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, fmt.Errorf("feed owner is required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}

	messages, err := s.client.XRevRangeN(ctx, StreamKey(owner), "+", "-", int64(limit)).Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("list feed entries: %w", err)
	}
	entries := make([]feedlog.Entry, 0, len(messages))
	for _, message := range messages {
		entry, err := decodeMessage(message)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func decodeMessage(message goredis.XMessage) (feedlog.Entry, error) {
	raw, ok := message.Values[entryField].(string)
	if !ok {
		return feedlog.Entry{}, fmt.Errorf("feed entry %s: missing %s field", message.ID, entryField)
	}
	var entry feedlog.Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return feedlog.Entry{}, fmt.Errorf("decode feed entry %s: %w", message.ID, err)
	}
	entry.Key = message.ID
	return entry, nil
}
