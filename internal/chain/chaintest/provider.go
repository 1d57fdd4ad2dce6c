// Package chaintest provides an in-memory chain.Provider that answers eth_call
// with real ABI-encoded outputs.
package chaintest

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/jansgame/roundwatch/internal/chain"
)

// Provider is a scripted chain.Provider
type Provider struct {
	mu sync.Mutex

	abis    []abi.ABI
	results map[string][]interface{}
	errs    map[string]error

	ChainIDValue int64
	Head         uint64
	HeadTime     uint64
	BlockTimes   map[uint64]uint64
	Logs         []types.Log
	LogsErr      func(q ethereum.FilterQuery) error

	Calls       map[string]int
	FilterCalls []ethereum.FilterQuery
}

// New returns a provider that decodes calldata against the game and dex ABIs
func New() *Provider {
	gameABI, err := chain.ParseGameABI()
	if err != nil {
		panic(err)
	}
	dexABI, err := chain.ParseDexABI()
	if err != nil {
		panic(err)
	}
	return &Provider{
		abis:         []abi.ABI{gameABI, dexABI},
		results:      make(map[string][]interface{}),
		errs:         make(map[string]error),
		ChainIDValue: 841,
		BlockTimes:   make(map[uint64]uint64),
		Calls:        make(map[string]int),
	}
}

// Set scripts the outputs of a method regardless of the target address
func (p *Provider) Set(method string, outputs ...interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results[method] = outputs
	delete(p.errs, method)
}

// SetAt scripts the outputs of a method on one address
func (p *Provider) SetAt(addr common.Address, method string, outputs ...interface{}) {
	p.Set(key(addr, method), outputs...)
}

// Fail makes every call of method return err
func (p *Provider) Fail(method string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs[method] = err
}

// CallCount returns how many times method was called
func (p *Provider) CallCount(method string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Calls[method]
}

func key(addr common.Address, method string) string {
	return strings.ToLower(addr.Hex()) + ":" + method
}

func (p *Provider) ChainID(ctx context.Context) (*big.Int, error) {
	if err := p.err("eth_chainId"); err != nil {
		return nil, err
	}
	return big.NewInt(p.ChainIDValue), nil
}

func (p *Provider) BlockNumber(ctx context.Context) (uint64, error) {
	if err := p.err("eth_blockNumber"); err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Head, nil
}

func (p *Provider) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	if err := p.err("eth_getBlockByNumber"); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if number == nil {
		return &types.Header{Number: new(big.Int).SetUint64(p.Head), Time: p.HeadTime}, nil
	}
	n := number.Uint64()
	ts, ok := p.BlockTimes[n]
	if !ok {
		ts = n * 4
	}
	return &types.Header{Number: new(big.Int).SetUint64(n), Time: ts}, nil
}

func (p *Provider) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if len(call.Data) < 4 {
		return nil, fmt.Errorf("calldata too short")
	}
	var method *abi.Method
	for _, a := range p.abis {
		if m, err := a.MethodById(call.Data[:4]); err == nil {
			method = m
			break
		}
	}
	if method == nil {
		return nil, fmt.Errorf("unknown selector %x", call.Data[:4])
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls[method.Name]++
	if err, ok := p.errs[method.Name]; ok {
		return nil, err
	}
	outputs, ok := p.results[key(*call.To, method.Name)]
	if !ok {
		outputs, ok = p.results[method.Name]
	}
	if !ok {
		return nil, fmt.Errorf("execution reverted: %s not scripted", method.Name)
	}
	return method.Outputs.Pack(outputs...)
}

func (p *Provider) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	p.mu.Lock()
	p.FilterCalls = append(p.FilterCalls, q)
	p.Calls["eth_getLogs"]++
	logs := append([]types.Log(nil), p.Logs...)
	failFn := p.LogsErr
	p.mu.Unlock()

	if failFn != nil {
		if err := failFn(q); err != nil {
			return nil, err
		}
	}
	from, to := q.FromBlock.Uint64(), q.ToBlock.Uint64()
	var out []types.Log
	for _, l := range logs {
		if l.BlockNumber < from || l.BlockNumber > to {
			continue
		}
		if len(q.Topics) > 1 && len(q.Topics[1]) > 0 && len(l.Topics) > 1 && l.Topics[1] != q.Topics[1][0] {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (p *Provider) err(method string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls[method]++
	return p.errs[method]
}

// PurchaseLog builds an ABI-encoded TicketPurchased log
func PurchaseLog(game abi.ABI, roundID uint64, player common.Address, ticketID uint64, amount *big.Int, txHash common.Hash, block uint64, index uint) types.Log {
	event := game.Events["TicketPurchased"]
	data, err := event.Inputs.NonIndexed().Pack(new(big.Int).SetUint64(ticketID), amount)
	if err != nil {
		panic(err)
	}
	return types.Log{
		Topics: []common.Hash{
			event.ID,
			common.BigToHash(new(big.Int).SetUint64(roundID)),
			common.BytesToHash(player.Bytes()),
		},
		Data:        data,
		TxHash:      txHash,
		BlockNumber: block,
		Index:       index,
	}
}
