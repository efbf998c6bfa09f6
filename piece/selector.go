package piece

import (
	"fmt"

	"github.com/samber/lo"
)

// Selector decides which piece the next block request comes from.
//
// candidates holds, in ascending order, every piece the peer has that still
// has a block free to request; it is never empty. availability[i] is the number
// of connected peers advertising piece i.
type Selector interface {
	Pick(candidates []int, availability []int) int
}

// Sequential requests pieces in index order.
type Sequential struct{}

func (Sequential) Pick(candidates []int, _ []int) int {
	return candidates[0]
}

// RarestFirst requests the piece the fewest connected peers advertise, lowest
// index first among equally rare pieces.
type RarestFirst struct{}

func (RarestFirst) Pick(candidates []int, availability []int) int {
	return lo.MinBy(candidates, func(a, b int) bool {
		return availability[a] < availability[b]
	})
}

// ParseSelector maps a configuration name onto a Selector.
func ParseSelector(name string) (Selector, error) {
	switch name {
	case "", "sequential":
		return Sequential{}, nil
	case "rarest", "rarest-first":
		return RarestFirst{}, nil
	default:
		return nil, fmt.Errorf("unknown piece selection %q", name)
	}
}
