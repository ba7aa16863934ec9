package consensus

import "github.com/nyxrelay/quorumview/pkg/types"

// GenesisLeaf is the well-known root of the leaf tree every replica
// starts from, grounded on the teacher's State.GenesisBlock.
func GenesisLeaf() types.Leaf {
	return types.Leaf{View: 0, Height: 0}
}
