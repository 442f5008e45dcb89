package position

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	positionsKey      = "agent:positions:active"
	positionsStateTTL = 7 * 24 * time.Hour
)

// StateStore snapshots the active-position table to Redis so a restarted
// process has a warm view before reconciliation. The snapshot is a cache:
// gateway reconciliation always wins over it.
type StateStore struct {
	rdb    *redis.Client
	logger zerolog.Logger
}

// NewStateStore creates a snapshot store. rdb may be nil, in which case all
// operations are no-ops.
func NewStateStore(rdb *redis.Client, logger zerolog.Logger) *StateStore {
	return &StateStore{
		rdb:    rdb,
		logger: logger.With().Str("component", "position_store").Logger(),
	}
}

// Save writes the full position table. Failures are logged, never fatal.
func (s *StateStore) Save(ctx context.Context, positions map[string]*Position) {
	if s == nil || s.rdb == nil {
		return
	}
	data, err := json.Marshal(positions)
	if err != nil {
		s.logger.Error().Err(err).Msg("marshaling position snapshot failed")
		return
	}
	if err := s.rdb.Set(ctx, positionsKey, data, positionsStateTTL).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("saving position snapshot failed")
	}
}

// Load returns the last snapshot, or an empty table when none exists or
// Redis is unavailable.
func (s *StateStore) Load(ctx context.Context) map[string]*Position {
	if s == nil || s.rdb == nil {
		return map[string]*Position{}
	}
	data, err := s.rdb.Get(ctx, positionsKey).Bytes()
	if err != nil {
		if err != redis.Nil {
			s.logger.Warn().Err(err).Msg("loading position snapshot failed")
		}
		return map[string]*Position{}
	}
	var positions map[string]*Position
	if err := json.Unmarshal(data, &positions); err != nil {
		s.logger.Error().Err(err).Msg("decoding position snapshot failed")
		return map[string]*Position{}
	}
	return positions
}
