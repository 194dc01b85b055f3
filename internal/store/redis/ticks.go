package redis

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strconv"
	"time"

	"tmf-trader/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

func tickKey(symbol, sessionTag string) string {
	return "realtime.tick:" + symbol + ":" + sessionTag
}

func bidAskKey(symbol, sessionTag string) string {
	return "realtime.bidask:" + symbol + ":" + sessionTag
}

// SaveTicks persists raw tick records for one session. Raw events are the
// source of truth for indicator recovery, so unlike state flushes this write
// is synchronous and reports its error.
func (s *Store) SaveTicks(ctx context.Context, symbol, sessionTag string, ticks []model.Tick) error {
	if len(ticks) == 0 {
		return nil
	}
	key := tickKey(symbol, sessionTag)
	serial, err := s.reserveSerials(ctx, "serial."+key, len(ticks))
	if err != nil {
		return err
	}
	members := make([]*goredis.Z, len(ticks))
	for i, t := range ticks {
		members[i] = &goredis.Z{
			Score:  float64(t.TS.UTC().UnixMicro()) / 1e6,
			Member: t.Serialize(serial + int64(i)),
		}
	}
	if err := s.zaddBatch(ctx, key, members); err != nil {
		return err
	}
	log.Printf("[redis] saved %d ticks to %s", len(ticks), key)
	return nil
}

// SaveBidAsks persists raw bid-ask records for one session.
func (s *Store) SaveBidAsks(ctx context.Context, symbol, sessionTag string, bas []model.BidAsk) error {
	if len(bas) == 0 {
		return nil
	}
	key := bidAskKey(symbol, sessionTag)
	serial, err := s.reserveSerials(ctx, "serial."+key, len(bas))
	if err != nil {
		return err
	}
	members := make([]*goredis.Z, len(bas))
	for i, ba := range bas {
		members[i] = &goredis.Z{
			Score:  float64(ba.TS.UTC().UnixMicro()) / 1e6,
			Member: ba.Serialize(serial + int64(i)),
		}
	}
	if err := s.zaddBatch(ctx, key, members); err != nil {
		return err
	}
	log.Printf("[redis] saved %d bid-asks to %s", len(bas), key)
	return nil
}

func scoreArg(t time.Time) string {
	return strconv.FormatFloat(float64(t.UTC().UnixMicro())/1e6, 'f', -1, 64)
}

// ReadTicks range-queries a session's raw ticks by time and returns them in
// serial order. Malformed members are skipped with a log line rather than
// aborting recovery.
func (s *Store) ReadTicks(ctx context.Context, symbol, sessionTag string, from, to time.Time) ([]model.Tick, error) {
	key := tickKey(symbol, sessionTag)
	raw, err := s.client.ZRangeByScore(ctx, key, &goredis.ZRangeBy{
		Min: scoreArg(from),
		Max: scoreArg(to),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("zrangebyscore %s: %w", key, err)
	}

	ticks := make([]model.Tick, 0, len(raw))
	for _, member := range raw {
		t, err := model.ParseTick(member)
		if err != nil {
			log.Printf("[redis] skip bad tick in %s: %v", key, err)
			continue
		}
		ticks = append(ticks, t)
	}
	sort.SliceStable(ticks, func(i, j int) bool { return ticks[i].Serial < ticks[j].Serial })
	return ticks, nil
}

// ReadStateMembers returns the raw serialized states of one indicator key in
// score order, for replay and inspection tooling.
func (s *Store) ReadStateMembers(ctx context.Context, storageKey string, from, to time.Time) ([]string, error) {
	raw, err := s.client.ZRangeByScore(ctx, storageKey, &goredis.ZRangeBy{
		Min: scoreArg(from),
		Max: scoreArg(to),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("zrangebyscore %s: %w", storageKey, err)
	}
	return raw, nil
}
