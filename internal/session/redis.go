package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const sessionKeyTpl = "prio:session:%s" // prio:session:${id}

// RedisPersister keeps each session as a hash with scenario_id, time and money
// fields, refreshed with a TTL on every save.
type RedisPersister struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewRedisPersister(client *redis.Client, ttl time.Duration) *RedisPersister {
	return &RedisPersister{redis: client, ttl: ttl}
}

// DialRedis parses a redis:// URL and pings the server.
func DialRedis(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func sessionKey(id string) string {
	return fmt.Sprintf(sessionKeyTpl, id)
}

func (p *RedisPersister) Save(ctx context.Context, id string, st State) error {
	fields, err := encodeState(st)
	if err != nil {
		return err
	}
	key := sessionKey(id)
	pipe := p.redis.TxPipeline()
	pipe.HSet(ctx, key, fields)
	if p.ttl > 0 {
		pipe.Expire(ctx, key, p.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save session %s: %w", id, err)
	}
	return nil
}

func (p *RedisPersister) Load(ctx context.Context, id string) (State, error) {
	values, err := p.redis.HGetAll(ctx, sessionKey(id)).Result()
	if err == redis.Nil || (err == nil && len(values) == 0) {
		return State{}, ErrNotFound
	}
	if err != nil {
		return State{}, fmt.Errorf("load session %s: %w", id, err)
	}
	return decodeState(values)
}

func (p *RedisPersister) Delete(ctx context.Context, id string) error {
	n, err := p.redis.Del(ctx, sessionKey(id)).Result()
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func encodeState(st State) (map[string]interface{}, error) {
	timeJSON, err := json.Marshal(st.Time)
	if err != nil {
		return nil, err
	}
	moneyJSON, err := json.Marshal(st.Money)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"scenario_id": st.ScenarioID,
		"time":        string(timeJSON),
		"money":       string(moneyJSON),
	}, nil
}

func decodeState(values map[string]string) (State, error) {
	st := State{ScenarioID: values["scenario_id"]}
	if raw := values["time"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &st.Time); err != nil {
			return State{}, fmt.Errorf("decode time allocations: %w", err)
		}
	}
	if raw := values["money"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &st.Money); err != nil {
			return State{}, fmt.Errorf("decode money allocations: %w", err)
		}
	}
	return st, nil
}
