package balancer

import (
	"fmt"
	"strings"

	"github.com/chao243/SharpServer/logger"
	"github.com/chao243/SharpServer/registry"
)

// Strategy selects instances and receives per-call feedback.
type Strategy interface {
	// Select picks an instance for the named service from the supplied
	// candidates. affinityKey pins related requests together under
	// consistent hashing and is ignored by strategies without affinity.
	// Returns nil only when no candidate survives filtering.
	Select(serviceName string, instances []registry.ServiceInstance, affinityKey string) *registry.ServiceInstance

	// RecordSuccess reports a successful call against the instance that
	// was actually selected for the attempt.
	RecordSuccess(serviceID string)

	// RecordFailure reports a failed call against the instance that was
	// actually selected for the attempt.
	RecordFailure(serviceID string, err error)
}

// Strategy names accepted by New.
const (
	StrategyRoundRobin     = "round_robin"
	StrategyConsistentHash = "consistent_hash"
)

// New creates a Strategy by name (case-insensitive).
func New(name string, log *logger.Logger) (Strategy, error) {
	switch strings.ToLower(name) {
	case StrategyRoundRobin, "roundrobin", "":
		return NewRoundRobin(DefaultRoundRobinConfig(), log), nil
	case StrategyConsistentHash, "consistenthash":
		return NewConsistentHash(DefaultConsistentHashConfig(), log), nil
	default:
		return nil, fmt.Errorf("unsupported load balancing strategy %q", name)
	}
}
