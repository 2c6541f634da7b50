package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/gateflow/gateflow/workflow"
)

// RedisHistoryConfig configures the Redis execution-history archive.
type RedisHistoryConfig struct {
	// Addr is the Redis server address.
	Addr string `yaml:"addr" json:"addr"`
	// Password authenticates against the server when set.
	Password string `yaml:"password" json:"password"`
	// DB selects the logical database.
	DB int `yaml:"db" json:"db"`
	// KeyPrefix namespaces archive keys. Defaults to "gateflow".
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`
	// TTL bounds how long archived executions are kept. Zero keeps forever.
	TTL time.Duration `yaml:"ttl" json:"ttl"`
}

// DefaultRedisHistoryConfig returns the default archive configuration.
func DefaultRedisHistoryConfig() RedisHistoryConfig {
	return RedisHistoryConfig{
		Addr:      "localhost:6379",
		KeyPrefix: "gateflow",
		TTL:       7 * 24 * time.Hour,
	}
}

// RedisHistory archives terminal execution states to Redis.
// It implements workflow.HistoryArchiver.
type RedisHistory struct {
	client *redis.Client
	cfg    RedisHistoryConfig
	logger *zap.Logger
}

// NewRedisHistory connects to Redis and verifies the connection.
func NewRedisHistory(cfg RedisHistoryConfig, logger *zap.Logger) (*RedisHistory, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "gateflow"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &RedisHistory{
		client: client,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "redis_history")),
	}, nil
}

func (r *RedisHistory) key(executionID string) string {
	return fmt.Sprintf("%s:execution:%s", r.cfg.KeyPrefix, executionID)
}

func (r *RedisHistory) indexKey(workflowID string) string {
	return fmt.Sprintf("%s:workflow:%s:executions", r.cfg.KeyPrefix, workflowID)
}

// Archive stores a terminal execution state and indexes it by workflow id.
func (r *RedisHistory) Archive(ctx context.Context, state *workflow.ExecutionState) error {
	body, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding execution state: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.key(state.ExecutionID), body, r.cfg.TTL)
	pipe.RPush(ctx, r.indexKey(state.WorkflowID), state.ExecutionID)
	if r.cfg.TTL > 0 {
		pipe.Expire(ctx, r.indexKey(state.WorkflowID), r.cfg.TTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("archiving execution %s: %w", state.ExecutionID, err)
	}

	r.logger.Debug("execution archived",
		zap.String("execution_id", state.ExecutionID),
		zap.String("workflow_id", state.WorkflowID),
	)
	return nil
}

// Load fetches an archived execution state by id.
func (r *RedisHistory) Load(ctx context.Context, executionID string) (*workflow.ExecutionState, error) {
	body, err := r.client.Get(ctx, r.key(executionID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("execution %s not archived", executionID)
		}
		return nil, err
	}
	var state workflow.ExecutionState
	if err := json.Unmarshal(body, &state); err != nil {
		return nil, fmt.Errorf("decoding execution state: %w", err)
	}
	return &state, nil
}

// ListExecutionIDs returns the archived execution ids for a workflow,
// oldest first.
func (r *RedisHistory) ListExecutionIDs(ctx context.Context, workflowID string) ([]string, error) {
	return r.client.LRange(ctx, r.indexKey(workflowID), 0, -1).Result()
}

// Close releases the Redis connection.
func (r *RedisHistory) Close() error {
	return r.client.Close()
}
