package chain

import (
	"context"
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// PredictionCount is the number of token picks on a ticket
const PredictionCount = 10

// RoundData is the decoded roundsData(roundId) tuple
type RoundData struct {
	RoundID                uint64
	StartTime              int64 // 0 until the start snapshot is submitted
	EndTime                int64
	StartSnapshotSubmitted bool
	EndSnapshotSubmitted   bool
	ResultsEvaluated       bool
	Aborted                bool
	HighestScore           uint8
	ActualOutcomes         []bool
}

// Ticket is the decoded getTicketById tuple
type Ticket struct {
	ID               uint64         `json:"ticketId"`
	RoundID          uint64         `json:"roundId"`
	Player           common.Address `json:"player"`
	Timestamp        int64          `json:"timestamp"`
	AmountPaidNative *big.Int       `json:"amountPaidNative"`
	SharesEarned     *big.Int       `json:"sharesEarned"`
	Score            uint8          `json:"score"`
	Picks            []bool         `json:"picks"`
}

// LpFormingFunds is the getAccumulatedLpFormingFunds tuple
type LpFormingFunds struct {
	NativeForLP     *big.Int
	TokenForLP      *big.Int
	NativeForReward *big.Int
}

// DistributionSnapshot is the distributionSnapshots(id) tuple
type DistributionSnapshot struct {
	TotalLpTokens *big.Int
	TotalShares   *big.Int
	SnapshotTime  int64
	Finalized     bool
}

// PurchaseLog is a decoded TicketPurchased log
type PurchaseLog struct {
	RoundID          uint64
	Player           common.Address
	TicketID         uint64
	AmountPaidNative *big.Int
	TxHash           common.Hash
	BlockNumber      uint64
	LogIndex         uint
}

// GameContract is a typed handle on the JansPredictionGame contract
type GameContract struct {
	address     common.Address
	abi         abi.ABI
	provider    Provider
	abortFields []string
}

// NewGameContract builds a handle directly, for callers that manage their own provider
func NewGameContract(address common.Address, parsed abi.ABI, provider Provider, abortFields []string) *GameContract {
	return &GameContract{address: address, abi: parsed, provider: provider, abortFields: abortFields}
}

// Address returns the contract address
func (g *GameContract) Address() common.Address {
	return g.address
}

// ABI returns the parsed contract ABI
func (g *GameContract) ABI() abi.ABI {
	return g.abi
}

// Pack encodes calldata for a contract method
func (g *GameContract) Pack(method string, args ...interface{}) ([]byte, error) {
	data, err := g.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	return data, nil
}

func (g *GameContract) rawCall(ctx context.Context, method string, args ...interface{}) ([]byte, error) {
	data, err := g.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	out, err := g.provider.CallContract(ctx, ethereum.CallMsg{To: &g.address, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	return out, nil
}

func (g *GameContract) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	out, err := g.rawCall(ctx, method, args...)
	if err != nil {
		return nil, err
	}
	values, err := g.abi.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

func (g *GameContract) callBig(ctx context.Context, method string, args ...interface{}) (*big.Int, error) {
	values, err := g.call(ctx, method, args...)
	if err != nil {
		return nil, err
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("%s: expected 1 output, got %d", method, len(values))
	}
	return asBig(method, values[0])
}

// CurrentRoundID reads currentRoundId()
func (g *GameContract) CurrentRoundID(ctx context.Context) (uint64, error) {
	v, err := g.callBig(ctx, "currentRoundId")
	if err != nil {
		return 0, err
	}
	return v.Uint64(), nil
}

// RoundData reads roundsData(roundId). The abort flag is taken from the first
// configured field name present in the ABI output.
func (g *GameContract) RoundData(ctx context.Context, roundID uint64) (*RoundData, error) {
	out, err := g.rawCall(ctx, "roundsData", new(big.Int).SetUint64(roundID))
	if err != nil {
		return nil, err
	}
	fields := make(map[string]interface{})
	if err := g.abi.UnpackIntoMap(fields, "roundsData", out); err != nil {
		return nil, fmt.Errorf("unpack roundsData: %w", err)
	}

	rd := &RoundData{}
	if v, ok := fields["id"]; ok {
		id, err := asBig("id", v)
		if err != nil {
			return nil, err
		}
		rd.RoundID = id.Uint64()
	} else {
		rd.RoundID = roundID
	}
	for name, dst := range map[string]*int64{"startTime": &rd.StartTime, "endTime": &rd.EndTime} {
		if v, ok := fields[name]; ok {
			b, err := asBig(name, v)
			if err != nil {
				return nil, err
			}
			*dst = b.Int64()
		}
	}
	for name, dst := range map[string]*bool{
		"startSnapshotSubmitted": &rd.StartSnapshotSubmitted,
		"endSnapshotSubmitted":   &rd.EndSnapshotSubmitted,
		"resultsEvaluated":       &rd.ResultsEvaluated,
	} {
		b, err := asBool(name, fields[name])
		if err != nil {
			return nil, err
		}
		*dst = b
	}

	aborted, err := g.abortFlag(fields)
	if err != nil {
		return nil, err
	}
	rd.Aborted = aborted

	if v, ok := fields["highestScoreAchieved"]; ok {
		score, err := asUint8("highestScoreAchieved", v)
		if err != nil {
			return nil, err
		}
		rd.HighestScore = score
	}
	if v, ok := fields["actualOutcomes"]; ok {
		outcomes, err := asPicks("actualOutcomes", v)
		if err != nil {
			return nil, err
		}
		rd.ActualOutcomes = outcomes
	}

	return rd, nil
}

func (g *GameContract) abortFlag(fields map[string]interface{}) (bool, error) {
	for _, name := range g.abortFields {
		if v, ok := fields[name]; ok {
			return asBool(name, v)
		}
	}
	return false, fmt.Errorf("roundsData has none of the abort fields %v", g.abortFields)
}

// CurrentTicketPriceNative reads getCurrentTicketPriceNative() in wei
func (g *GameContract) CurrentTicketPriceNative(ctx context.Context) (*big.Int, error) {
	return g.callBig(ctx, "getCurrentTicketPriceNative")
}

// TicketSalesDurationSeconds reads ticketSalesDurationSeconds()
func (g *GameContract) TicketSalesDurationSeconds(ctx context.Context) (int64, error) {
	v, err := g.callBig(ctx, "ticketSalesDurationSeconds")
	if err != nil {
		return 0, err
	}
	return v.Int64(), nil
}

// LatestBlockTime returns the timestamp of the latest block, the chain's notion of now
func (g *GameContract) LatestBlockTime(ctx context.Context) (int64, error) {
	header, err := g.provider.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("latest block header: %w", err)
	}
	return int64(header.Time), nil
}

// PrizePoolJANS reads prizePoolJANS()
func (g *GameContract) PrizePoolJANS(ctx context.Context) (*big.Int, error) {
	return g.callBig(ctx, "prizePoolJANS")
}

// TotalJansBurnedInGame reads totalJansBurnedInGame()
func (g *GameContract) TotalJansBurnedInGame(ctx context.Context) (*big.Int, error) {
	return g.callBig(ctx, "totalJansBurnedInGame")
}

// ContractLpTokenBalance reads getContractLpTokenBalance()
func (g *GameContract) ContractLpTokenBalance(ctx context.Context) (*big.Int, error) {
	return g.callBig(ctx, "getContractLpTokenBalance")
}

// GameLPToken reads GAME_LP_TOKEN()
func (g *GameContract) GameLPToken(ctx context.Context) (common.Address, error) {
	values, err := g.call(ctx, "GAME_LP_TOKEN")
	if err != nil {
		return common.Address{}, err
	}
	return asAddress("GAME_LP_TOKEN", values[0])
}

// AccumulatedLpFormingFunds reads getAccumulatedLpFormingFunds()
func (g *GameContract) AccumulatedLpFormingFunds(ctx context.Context) (*LpFormingFunds, error) {
	values, err := g.call(ctx, "getAccumulatedLpFormingFunds")
	if err != nil {
		return nil, err
	}
	if len(values) != 3 {
		return nil, fmt.Errorf("getAccumulatedLpFormingFunds: expected 3 outputs, got %d", len(values))
	}
	funds := &LpFormingFunds{}
	for i, dst := range []**big.Int{&funds.NativeForLP, &funds.TokenForLP, &funds.NativeForReward} {
		v, err := asBig("getAccumulatedLpFormingFunds", values[i])
		if err != nil {
			return nil, err
		}
		*dst = v
	}
	return funds, nil
}

// JansPoolShares reads jansPoolShares(account)
func (g *GameContract) JansPoolShares(ctx context.Context, account common.Address) (*big.Int, error) {
	return g.callBig(ctx, "jansPoolShares", account)
}

// HasClaimedLpReward reads hasClaimedLpReward(distributionId, account)
func (g *GameContract) HasClaimedLpReward(ctx context.Context, distributionID uint64, account common.Address) (bool, error) {
	values, err := g.call(ctx, "hasClaimedLpReward", new(big.Int).SetUint64(distributionID), account)
	if err != nil {
		return false, err
	}
	return asBool("hasClaimedLpReward", values[0])
}

// CurrentLpDistributionID reads currentLpDistributionId()
func (g *GameContract) CurrentLpDistributionID(ctx context.Context) (uint64, error) {
	v, err := g.callBig(ctx, "currentLpDistributionId")
	if err != nil {
		return 0, err
	}
	return v.Uint64(), nil
}

// DistributionSnapshot reads distributionSnapshots(distributionId)
func (g *GameContract) DistributionSnapshot(ctx context.Context, distributionID uint64) (*DistributionSnapshot, error) {
	values, err := g.call(ctx, "distributionSnapshots", new(big.Int).SetUint64(distributionID))
	if err != nil {
		return nil, err
	}
	if len(values) != 4 {
		return nil, fmt.Errorf("distributionSnapshots: expected 4 outputs, got %d", len(values))
	}
	snap := &DistributionSnapshot{}
	if snap.TotalLpTokens, err = asBig("totalLpTokens", values[0]); err != nil {
		return nil, err
	}
	if snap.TotalShares, err = asBig("totalShares", values[1]); err != nil {
		return nil, err
	}
	ts, err := asBig("snapshotTimestamp", values[2])
	if err != nil {
		return nil, err
	}
	snap.SnapshotTime = ts.Int64()
	if snap.Finalized, err = asBool("finalized", values[3]); err != nil {
		return nil, err
	}
	return snap, nil
}

// PlayerTicketIDsForRound reads getPlayerTicketIdsForRound(roundId, player)
func (g *GameContract) PlayerTicketIDsForRound(ctx context.Context, roundID uint64, player common.Address) ([]uint64, error) {
	values, err := g.call(ctx, "getPlayerTicketIdsForRound", new(big.Int).SetUint64(roundID), player)
	if err != nil {
		return nil, err
	}
	return asUint64s("getPlayerTicketIdsForRound", values[0])
}

// AllTicketIDsForRound reads getAllTicketIdsForRound(roundId)
func (g *GameContract) AllTicketIDsForRound(ctx context.Context, roundID uint64) ([]uint64, error) {
	values, err := g.call(ctx, "getAllTicketIdsForRound", new(big.Int).SetUint64(roundID))
	if err != nil {
		return nil, err
	}
	return asUint64s("getAllTicketIdsForRound", values[0])
}

// TicketByID reads getTicketById(ticketId)
func (g *GameContract) TicketByID(ctx context.Context, ticketID uint64) (*Ticket, error) {
	values, err := g.call(ctx, "getTicketById", new(big.Int).SetUint64(ticketID))
	if err != nil {
		return nil, err
	}
	if len(values) != 7 {
		return nil, fmt.Errorf("getTicketById: expected 7 outputs, got %d", len(values))
	}
	t := &Ticket{ID: ticketID}
	roundID, err := asBig("roundId", values[0])
	if err != nil {
		return nil, err
	}
	t.RoundID = roundID.Uint64()
	if t.Player, err = asAddress("player", values[1]); err != nil {
		return nil, err
	}
	ts, err := asBig("timestamp", values[2])
	if err != nil {
		return nil, err
	}
	t.Timestamp = ts.Int64()
	if t.AmountPaidNative, err = asBig("amountPaidNative", values[3]); err != nil {
		return nil, err
	}
	if t.SharesEarned, err = asBig("sharesEarned", values[4]); err != nil {
		return nil, err
	}
	if t.Score, err = asUint8("score", values[5]); err != nil {
		return nil, err
	}
	if t.Picks, err = asPicks("picks", values[6]); err != nil {
		return nil, err
	}
	return t, nil
}

// TicketPurchasedQuery builds the log filter for one round over [from, to]
func (g *GameContract) TicketPurchasedQuery(roundID, from, to uint64) ethereum.FilterQuery {
	event := g.abi.Events["TicketPurchased"]
	return ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{g.address},
		Topics: [][]common.Hash{
			{event.ID},
			{common.BigToHash(new(big.Int).SetUint64(roundID))},
		},
	}
}

// ParseTicketPurchased decodes a TicketPurchased log
func (g *GameContract) ParseTicketPurchased(l types.Log) (*PurchaseLog, error) {
	event, ok := g.abi.Events["TicketPurchased"]
	if !ok {
		return nil, fmt.Errorf("ABI has no TicketPurchased event")
	}
	if len(l.Topics) != 3 || l.Topics[0] != event.ID {
		return nil, fmt.Errorf("log %s/%d is not a TicketPurchased event", l.TxHash.Hex(), l.Index)
	}
	values, err := g.abi.Unpack("TicketPurchased", l.Data)
	if err != nil {
		return nil, fmt.Errorf("unpack TicketPurchased: %w", err)
	}
	if len(values) != 2 {
		return nil, fmt.Errorf("TicketPurchased: expected 2 data fields, got %d", len(values))
	}
	ticketID, err := asBig("ticketId", values[0])
	if err != nil {
		return nil, err
	}
	amount, err := asBig("amountPaidNative", values[1])
	if err != nil {
		return nil, err
	}
	return &PurchaseLog{
		RoundID:          new(big.Int).SetBytes(l.Topics[1].Bytes()).Uint64(),
		Player:           common.BytesToAddress(l.Topics[2].Bytes()),
		TicketID:         ticketID.Uint64(),
		AmountPaidNative: amount,
		TxHash:           l.TxHash,
		BlockNumber:      l.BlockNumber,
		LogIndex:         l.Index,
	}, nil
}

func asBig(field string, v interface{}) (*big.Int, error) {
	b, ok := v.(*big.Int)
	if !ok || b == nil {
		return nil, fmt.Errorf("%s: unexpected type %T", field, v)
	}
	return b, nil
}

func asBool(field string, v interface{}) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%s: unexpected type %T", field, v)
	}
	return b, nil
}

func asUint8(field string, v interface{}) (uint8, error) {
	b, ok := v.(uint8)
	if !ok {
		return 0, fmt.Errorf("%s: unexpected type %T", field, v)
	}
	return b, nil
}

func asAddress(field string, v interface{}) (common.Address, error) {
	a, ok := v.(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("%s: unexpected type %T", field, v)
	}
	return a, nil
}

func asPicks(field string, v interface{}) ([]bool, error) {
	picks, ok := v.([PredictionCount]bool)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected type %T", field, v)
	}
	return picks[:], nil
}

func asUint64s(field string, v interface{}) ([]uint64, error) {
	ids, ok := v.([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected type %T", field, v)
	}
	out := make([]uint64, len(ids))
	for i, id := range ids {
		out[i] = id.Uint64()
	}
	return out, nil
}
