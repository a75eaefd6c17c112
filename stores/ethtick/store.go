// Package ethtick adapts an on-chain concentrated-liquidity pool into the
// engine's tick store, read-only. Tick state and the initialized-tick bitmap
// are fetched with eth_call; liquidity updates and crossings belong to the
// chain itself and are rejected.
package ethtick

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/helixpool/clmm-core-go/engine"
)

const poolABIJSON = `[
  {"inputs": [{"internalType": "int24", "name": "", "type": "int24"}], "name": "ticks", "outputs": [
    {"internalType": "uint128", "name": "liquidityGross", "type": "uint128"},
    {"internalType": "int128", "name": "liquidityNet", "type": "int128"},
    {"internalType": "uint256", "name": "feeGrowthOutside0X128", "type": "uint256"},
    {"internalType": "uint256", "name": "feeGrowthOutside1X128", "type": "uint256"},
    {"internalType": "int56", "name": "tickCumulativeOutside", "type": "int56"},
    {"internalType": "uint160", "name": "secondsPerLiquidityOutsideX128", "type": "uint160"},
    {"internalType": "uint32", "name": "secondsOutside", "type": "uint32"},
    {"internalType": "bool", "name": "initialized", "type": "bool"}
  ], "stateMutability": "view", "type": "function"},
  {"inputs": [{"internalType": "int16", "name": "", "type": "int16"}], "name": "tickBitmap", "outputs": [
    {"internalType": "uint256", "name": "", "type": "uint256"}
  ], "stateMutability": "view", "type": "function"}
]`

var (
	poolABI     abi.ABI
	poolABIOnce sync.Once
	poolABIErr  error
)

func getPoolABI() (abi.ABI, error) {
	poolABIOnce.Do(func() {
		poolABI, poolABIErr = abi.JSON(strings.NewReader(poolABIJSON))
	})
	return poolABI, poolABIErr
}

// ContractCaller is the slice of the eth client the store needs.
// *ethclient.Client satisfies it.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// maxWordScan bounds how many 256-tick bitmap words one next-tick query may
// fetch before giving up.
const maxWordScan = 16

// Store is a read-only engine.TickStore backed by a pool contract.
type Store struct {
	client      ContractCaller
	pool        common.Address
	tickSpacing int32
	// block pins all reads to one height; nil reads latest.
	block *big.Int
}

func NewStore(client ContractCaller, pool common.Address, tickSpacing int32, block *big.Int) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("ethtick: client is nil")
	}
	if tickSpacing <= 0 {
		return nil, fmt.Errorf("ethtick: tick spacing %d out of range", tickSpacing)
	}
	if _, err := getPoolABI(); err != nil {
		return nil, err
	}
	return &Store{client: client, pool: pool, tickSpacing: tickSpacing, block: block}, nil
}

func (s *Store) Get(ctx context.Context, index int32) (engine.TickInfo, bool, error) {
	poolABI, err := getPoolABI()
	if err != nil {
		return engine.TickInfo{}, false, err
	}

	data, err := poolABI.Pack("ticks", big.NewInt(int64(index)))
	if err != nil {
		return engine.TickInfo{}, false, fmt.Errorf("pack ticks: %w", err)
	}
	resp, err := s.client.CallContract(ctx, ethereum.CallMsg{To: &s.pool, Data: data}, s.block)
	if err != nil {
		return engine.TickInfo{}, false, fmt.Errorf("call ticks: %w", err)
	}
	values, err := poolABI.Unpack("ticks", resp)
	if err != nil {
		return engine.TickInfo{}, false, fmt.Errorf("unpack ticks: %w", err)
	}
	if len(values) != 8 {
		return engine.TickInfo{}, false, fmt.Errorf("ticks return size %d", len(values))
	}

	liquidityGross, ok := values[0].(*big.Int)
	if !ok {
		return engine.TickInfo{}, false, fmt.Errorf("ticks unexpected type %T", values[0])
	}
	liquidityNet, ok := values[1].(*big.Int)
	if !ok {
		return engine.TickInfo{}, false, fmt.Errorf("ticks unexpected type %T", values[1])
	}
	outside0, ok := values[2].(*big.Int)
	if !ok {
		return engine.TickInfo{}, false, fmt.Errorf("ticks unexpected type %T", values[2])
	}
	outside1, ok := values[3].(*big.Int)
	if !ok {
		return engine.TickInfo{}, false, fmt.Errorf("ticks unexpected type %T", values[3])
	}
	initialized, ok := values[7].(bool)
	if !ok {
		return engine.TickInfo{}, false, fmt.Errorf("ticks unexpected type %T", values[7])
	}

	gross, _ := uint256.FromBig(liquidityGross)
	fg0, _ := uint256.FromBig(outside0)
	fg1, _ := uint256.FromBig(outside1)

	info := engine.TickInfo{
		Index:             index,
		LiquidityNet:      new(big.Int).Set(liquidityNet),
		LiquidityGross:    gross,
		FeeGrowthOutside0: fg0,
		FeeGrowthOutside1: fg1,
		Initialized:       initialized,
	}
	return info, initialized, nil
}

// Update is rejected: the chain owns liquidity mutations.
func (s *Store) Update(context.Context, int32, *big.Int, bool) error {
	return engine.ErrReadOnlyTickStore
}

// Cross is rejected: crossing bookkeeping happens on chain.
func (s *Store) Cross(context.Context, int32, *uint256.Int, *uint256.Int) (*big.Int, error) {
	return nil, engine.ErrReadOnlyTickStore
}

// NextInitialized scans the pool's tick bitmap word by word, up to
// maxWordScan words, for the nearest initialized tick.
func (s *Store) NextInitialized(ctx context.Context, tick int32, searchLeft bool) (int32, bool, error) {
	compressed := floorDiv(tick, s.tickSpacing)
	if !searchLeft {
		compressed++
	}

	for scanned := 0; scanned < maxWordScan; scanned++ {
		word := int16(compressed >> 8)
		bitPos := int(compressed & 0xff)

		bitmap, err := s.bitmapWord(ctx, word)
		if err != nil {
			return 0, false, err
		}

		if searchLeft {
			for bit := bitPos; bit >= 0; bit-- {
				if bitmap.Bit(bit) == 1 {
					return (int32(word)*256 + int32(bit)) * s.tickSpacing, true, nil
				}
			}
			compressed = int32(word)*256 - 1
		} else {
			for bit := bitPos; bit < 256; bit++ {
				if bitmap.Bit(bit) == 1 {
					return (int32(word)*256 + int32(bit)) * s.tickSpacing, true, nil
				}
			}
			compressed = (int32(word) + 1) * 256
		}
	}
	return 0, false, nil
}

func (s *Store) bitmapWord(ctx context.Context, word int16) (*big.Int, error) {
	poolABI, err := getPoolABI()
	if err != nil {
		return nil, err
	}

	// int16 packs as the native type; only the non-native widths go through
	// *big.Int.
	data, err := poolABI.Pack("tickBitmap", word)
	if err != nil {
		return nil, fmt.Errorf("pack tickBitmap: %w", err)
	}
	resp, err := s.client.CallContract(ctx, ethereum.CallMsg{To: &s.pool, Data: data}, s.block)
	if err != nil {
		return nil, fmt.Errorf("call tickBitmap: %w", err)
	}
	values, err := poolABI.Unpack("tickBitmap", resp)
	if err != nil {
		return nil, fmt.Errorf("unpack tickBitmap: %w", err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("tickBitmap return size %d", len(values))
	}
	bitmap, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("tickBitmap unexpected type %T", values[0])
	}
	return bitmap, nil
}

// floorDiv rounds toward negative infinity.
func floorDiv(a, b int32) int32 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
