package balancer

import (
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"

	"github.com/chao243/SharpServer/logger"
	"github.com/chao243/SharpServer/registry"
)

// ConsistentHashConfig tunes the hash ring.
type ConsistentHashConfig struct {
	// VirtualNodes is the number of ring positions per instance. More
	// nodes give better balance at the cost of memory.
	VirtualNodes int `mapstructure:"virtual_nodes"`
}

// DefaultConsistentHashConfig returns the default ring tuning.
func DefaultConsistentHashConfig() ConsistentHashConfig {
	return ConsistentHashConfig{VirtualNodes: 160}
}

type ringNode struct {
	hash     uint32
	instance registry.ServiceInstance
}

// ringState is the cached ring for one service name. The signature detects
// when the instance set changed and the ring needs a rebuild.
type ringState struct {
	mu        sync.Mutex
	signature string
	nodes     []ringNode
}

// ConsistentHash routes each affinity key to a stable instance via a ring
// of virtual nodes. SHA-1 reduced to its low 32 bits is used for uniform
// distribution, not cryptographic strength.
type ConsistentHash struct {
	cfg ConsistentHashConfig
	log *logger.Logger

	mu     sync.Mutex
	states map[string]*ringState // per service name

	randMu sync.Mutex
	rand   *rand.Rand
}

// NewConsistentHash creates a consistent-hash strategy with the given tuning.
func NewConsistentHash(cfg ConsistentHashConfig, log *logger.Logger) *ConsistentHash {
	if cfg.VirtualNodes <= 0 {
		cfg.VirtualNodes = 160
	}
	return &ConsistentHash{
		cfg:    cfg,
		log:    log.WithComponent("balancer.consistenthash"),
		states: make(map[string]*ringState),
		rand:   rand.New(rand.NewSource(rand.Int63())),
	}
}

var _ Strategy = (*ConsistentHash)(nil)

// Select maps the affinity key onto the ring for the named service,
// rebuilding the ring first if the instance set changed. A missing affinity
// key falls back to a random key, making selection essentially random.
func (ch *ConsistentHash) Select(serviceName string, instances []registry.ServiceInstance, affinityKey string) *registry.ServiceInstance {
	up := registry.FilterUp(instances)
	if len(up) == 0 {
		return nil
	}

	state := ch.state(serviceName)
	sig := ringSignature(up)

	state.mu.Lock()
	defer state.mu.Unlock()

	if state.signature != sig {
		state.nodes = ch.buildRing(up)
		state.signature = sig
		ch.log.Debug("ring rebuilt", logger.Fields(
			logger.FieldServiceName, serviceName,
			"instances", len(up),
			"virtual_nodes", len(state.nodes),
		))
	}
	if len(state.nodes) == 0 {
		return nil
	}

	if affinityKey == "" {
		affinityKey = ch.randomKey()
	}
	h := hashKey(affinityKey)

	idx := sort.Search(len(state.nodes), func(i int) bool {
		return state.nodes[i].hash >= h
	})
	if idx == len(state.nodes) {
		idx = 0
	}
	picked := state.nodes[idx].instance
	return &picked
}

// RecordSuccess is accepted for contract symmetry; the ring does not react
// to feedback yet.
func (ch *ConsistentHash) RecordSuccess(serviceID string) {}

// RecordFailure is accepted for contract symmetry; the ring does not react
// to feedback yet.
func (ch *ConsistentHash) RecordFailure(serviceID string, err error) {}

func (ch *ConsistentHash) state(serviceName string) *ringState {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	s, ok := ch.states[serviceName]
	if !ok {
		s = &ringState{}
		ch.states[serviceName] = s
	}
	return s
}

// buildRing produces VirtualNodes ring positions per instance. Colliding
// hashes are resolved by probing upward until a free slot is found.
func (ch *ConsistentHash) buildRing(up []registry.ServiceInstance) []ringNode {
	taken := make(map[uint32]struct{}, len(up)*ch.cfg.VirtualNodes)
	nodes := make([]ringNode, 0, len(up)*ch.cfg.VirtualNodes)

	for _, inst := range up {
		for i := 0; i < ch.cfg.VirtualNodes; i++ {
			h := hashKey(fmt.Sprintf("%s:%s:%d:%d", inst.ServiceID, inst.Address, inst.Port, i))
			for {
				if _, exists := taken[h]; !exists {
					break
				}
				h++
			}
			taken[h] = struct{}{}
			nodes = append(nodes, ringNode{hash: h, instance: inst})
		}
	}

	sort.Slice(nodes, func(i, j int) bool { return nodes[i].hash < nodes[j].hash })
	return nodes
}

func (ch *ConsistentHash) randomKey() string {
	ch.randMu.Lock()
	defer ch.randMu.Unlock()
	return fmt.Sprintf("%016x%016x", ch.rand.Uint64(), ch.rand.Uint64())
}

// ringSignature canonically fingerprints an Up instance set so ring
// rebuilds happen only when membership actually changed.
func ringSignature(up []registry.ServiceInstance) string {
	tuples := make([]string, len(up))
	for i, inst := range up {
		tuples[i] = fmt.Sprintf("%s:%s:%d:%s:%s", inst.ServiceID, inst.Address, inst.Port, inst.Scheme, inst.Version)
	}
	sort.Strings(tuples)
	return strings.Join(tuples, "|")
}

// hashKey reduces SHA-1 to its low 32 bits.
func hashKey(key string) uint32 {
	sum := sha1.Sum([]byte(key))
	return binary.LittleEndian.Uint32(sum[0:4])
}
