// Package zenflake generates the int64 keys of stored definitions, states and
// process executions.
package zenflake

import (
	"hash/adler32"
	"os"
	"sync"

	"github.com/bwmarrin/snowflake"
)

// GlobalNode generates keys of resources shared by every engine, like definitions.
const GlobalNode int64 = 0

var (
	// internal values of bwmarrin/snowflake
	nodeMax   int64 = -1 ^ (-1 << snowflake.NodeBits)
	nodeMask        = nodeMax << snowflake.StepBits
	nodeShift       = snowflake.StepBits

	globalNode     *snowflake.Node
	globalNodeOnce sync.Once

	environmentNode     *snowflake.Node
	environmentNodeOnce sync.Once
)

// NewNode returns a generator whose keys carry nodeId, nodeId must fit NodeBits.
func NewNode(nodeId int64) (*snowflake.Node, error) {
	return snowflake.NewNode(nodeId)
}

func mustNode(nodeId int64) *snowflake.Node {
	node, err := snowflake.NewNode(nodeId)
	if err != nil {
		panic("can't initialize snowflake ID generator. Message: " + err.Error())
	}
	return node
}

// Generate returns a new key of the global node.
func Generate() int64 {
	globalNodeOnce.Do(func() {
		globalNode = mustNode(GlobalNode)
	})
	return globalNode.Generate().Int64()
}

// EnvironmentNodeId derives a node id from the process environment, so
// processes started with different environments rarely share a node.
func EnvironmentNodeId() int64 {
	hash32 := adler32.New()
	for _, e := range os.Environ() {
		hash32.Write([]byte(e))
	}
	return int64(hash32.Sum32()) % (nodeMax + 1)
}

// EnvironmentNode returns the generator of the node EnvironmentNodeId names.
// It is created once per process.
func EnvironmentNode() *snowflake.Node {
	environmentNodeOnce.Do(func() {
		environmentNode = mustNode(EnvironmentNodeId())
	})
	return environmentNode
}

// NodeOf extracts the node id a key was generated by.
func NodeOf(id int64) int64 {
	return (id & nodeMask) >> int64(nodeShift)
}
