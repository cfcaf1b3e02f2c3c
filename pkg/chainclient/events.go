package chainclient

import (
	"context"
	"fmt"
	"math"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// BlockRange bounds a historical log query. A nil To means "through
// the latest block".
type BlockRange struct {
	From uint64
	To   *uint64
}

// AllBlocks spans the entire chain history.
func AllBlocks() BlockRange {
	return BlockRange{From: 0}
}

// Lookback returns the range [currentBlock-lookback, latest], clamped
// at zero. A lookback of math.MaxUint64 is treated as AllBlocks.
func Lookback(currentBlock, lookback uint64) BlockRange {
	if lookback == math.MaxUint64 || lookback > currentBlock {
		return AllBlocks()
	}
	return BlockRange{From: currentBlock - lookback}
}

func (r BlockRange) filterQuery(address common.Address, topics [][]common.Hash) ethereum.FilterQuery {
	q := ethereum.FilterQuery{
		Addresses: []common.Address{address},
		FromBlock: new(big.Int).SetUint64(r.From),
		Topics:    topics,
	}
	if r.To != nil {
		q.ToBlock = new(big.Int).SetUint64(*r.To)
	}
	return q
}

// queryLogs fetches logs for a contract/event combination over range.
func (b *boundContract) queryLogs(ctx context.Context, r BlockRange, eventName string) ([]types.Log, error) {
	eventID := b.abi.Events[eventName].ID
	query := r.filterQuery(b.address, [][]common.Hash{{eventID}})
	logs, err := b.client.eth.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("chainclient: querying %s logs: %w", eventName, err)
	}
	return logs, nil
}

// subscribeLogs streams live logs for a contract/event combination
// starting from the chain head, delivering each into the returned
// channel until the subscription is unsubscribed or errors.
func (b *boundContract) subscribeLogs(ctx context.Context, eventName string) (<-chan types.Log, ethereum.Subscription, error) {
	eventID := b.abi.Events[eventName].ID
	query := ethereum.FilterQuery{
		Addresses: []common.Address{b.address},
		Topics:    [][]common.Hash{{eventID}},
	}
	logCh := make(chan types.Log, 64)
	sub, err := b.client.eth.SubscribeFilterLogs(ctx, query, logCh)
	if err != nil {
		return nil, nil, fmt.Errorf("chainclient: subscribing to %s: %w", eventName, err)
	}
	return logCh, sub, nil
}
