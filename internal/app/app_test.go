package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallbiznis/luc/internal/config"
)

func TestBinariesGetDistinctSnowflakeNodes(t *testing.T) {
	unset := config.Config{SnowflakeNode: -1}

	seen := map[int64]bool{}
	for _, def := range []int64{NodeAPI, NodeScheduler, NodeCLI} {
		id := SnowflakeNodeID(unset, def)
		if seen[id] {
			t.Fatalf("node %d is shared by two binaries", id)
		}
		seen[id] = true
	}

	assert.Equal(t, int64(0), SnowflakeNodeID(config.Config{SnowflakeNode: 0}, NodeCLI))
	assert.Equal(t, int64(42), SnowflakeNodeID(config.Config{SnowflakeNode: 42}, NodeAPI))
}

func TestRegisterSnowflake(t *testing.T) {
	node, err := RegisterSnowflake(config.Config{SnowflakeNode: -1}, NodeScheduler)
	require.NoError(t, err)
	assert.Equal(t, NodeScheduler, node.Generate().Node())

	_, err = RegisterSnowflake(config.Config{SnowflakeNode: 4096}, NodeAPI)
	assert.Error(t, err)
}
