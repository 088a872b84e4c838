package ams

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/fipacore/platform/internal/domain"
)

// RedisReplicatedLog is a domain.ReplicatedLog backed by Redis, grounded on
// the teacher's cluster.ClusterCoordinator: the same SetNX-as-distributed-
// lock idiom, here claiming agent names instead of session ownership.
// Append only "commits" an entry once this node holds the name's SetNX
// key; IsLeader always reports true because name-claim arbitration, not
// leader election, is what guards create-agent admission here.
type RedisReplicatedLog struct {
	client *goredis.Client
	nodeID string
}

// NewRedisReplicatedLog creates a ReplicatedLog that arbitrates agent-name
// uniqueness across every node sharing the same Redis instance.
func NewRedisReplicatedLog(client *goredis.Client, nodeID string) *RedisReplicatedLog {
	return &RedisReplicatedLog{client: client, nodeID: nodeID}
}

var _ domain.ReplicatedLog = (*RedisReplicatedLog)(nil)

// Append claims entry.AgentID for this node. A create-agent entry commits
// only if no other node already holds the name; a destroy-agent entry
// releases a claim this node previously won.
func (l *RedisReplicatedLog) Append(ctx context.Context, entry domain.LogEntry) error {
	key := "fipa:ams:agent-name:" + entry.AgentID

	switch entry.Kind {
	case domain.LogEntryCreateAgent:
		// No TTL: the claim is the agent's name reservation for its entire
		// lifetime, released explicitly on LogEntryDestroyAgent rather than
		// by expiry.
		acquired, err := l.client.SetNX(ctx, key, l.nodeID, 0).Result()
		if err != nil {
			return fmt.Errorf("ams: redis name claim for %s: %w", entry.AgentID, err)
		}
		if !acquired {
			return fmt.Errorf("%w: agent name %s", domain.ErrNameInUse, entry.AgentID)
		}
		return nil

	case domain.LogEntryDestroyAgent:
		owner, err := l.client.Get(ctx, key).Result()
		if err != nil {
			return nil // nothing to release
		}
		if owner != l.nodeID {
			return nil // another node's claim; not ours to release
		}
		return l.client.Del(ctx, key).Err()

	case domain.LogEntryUpdateDescr:
		return nil

	default:
		return fmt.Errorf("ams: unknown log entry kind %q", entry.Kind)
	}
}

// IsLeader always reports true: agent-name admission is arbitrated by the
// per-name SetNX claim in Append, not by a single elected leader.
func (l *RedisReplicatedLog) IsLeader() bool { return true }
