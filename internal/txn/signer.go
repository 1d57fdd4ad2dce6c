package txn

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/jansgame/roundwatch/internal/chain"
	"github.com/jansgame/roundwatch/internal/metrics"
	"github.com/jansgame/roundwatch/internal/secrets"
	"github.com/sirupsen/logrus"
)

// DefaultConfirmTimeout bounds how long a send waits for its receipt
const DefaultConfirmTimeout = 3 * time.Minute

// Backend is what signing needs beyond contract reads
type Backend interface {
	bind.DeployBackend
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// Game is the game contract surface used by the signer
type Game interface {
	Address() common.Address
	Pack(method string, args ...interface{}) ([]byte, error)
	AccumulatedLpFormingFunds(ctx context.Context) (*chain.LpFormingFunds, error)
	CurrentLpDistributionID(ctx context.Context) (uint64, error)
	DistributionSnapshot(ctx context.Context, distributionID uint64) (*chain.DistributionSnapshot, error)
	HasClaimedLpReward(ctx context.Context, distributionID uint64, account common.Address) (bool, error)
	JansPoolShares(ctx context.Context, account common.Address) (*big.Int, error)
}

// Receipt is the outcome of a confirmed transaction
type Receipt struct {
	Method      string      `json:"method"`
	TxHash      common.Hash `json:"txHash"`
	BlockNumber uint64      `json:"blockNumber"`
	GasUsed     uint64      `json:"gasUsed"`
}

// Signer submits game transactions from one key
type Signer struct {
	key            *ecdsa.PrivateKey
	from           common.Address
	chainID        *big.Int
	backend        Backend
	game           Game
	log            *logrus.Logger
	ConfirmTimeout time.Duration
}

// NewSigner creates a signer for an already verified chain id
func NewSigner(key *ecdsa.PrivateKey, chainID *big.Int, backend Backend, game Game, log *logrus.Logger) *Signer {
	return &Signer{
		key:            key,
		from:           crypto.PubkeyToAddress(key.PublicKey),
		chainID:        new(big.Int).Set(chainID),
		backend:        backend,
		game:           game,
		log:            log,
		ConfirmTimeout: DefaultConfirmTimeout,
	}
}

// NewSignerFromClient builds a signer from an initialized chain client. It
// refuses to sign when the node is on the wrong network.
func NewSignerFromClient(client *chain.Client, hexKey string, log *logrus.Logger) (*Signer, error) {
	chainID, err := client.RequireChainID()
	if err != nil {
		return nil, err
	}
	key, err := secrets.ParsePrivateKey(hexKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load signer key: %w", err)
	}
	raw, err := client.Backend()
	if err != nil {
		return nil, err
	}
	backend, ok := raw.(Backend)
	if !ok {
		return nil, fmt.Errorf("RPC backend %T cannot send transactions", raw)
	}
	game, err := client.Contract()
	if err != nil {
		return nil, err
	}
	return NewSigner(key, chainID, backend, game, log), nil
}

// From is the signing address
func (s *Signer) From() common.Address {
	return s.from
}

// BuyTicket submits buyTicket for a single-ticket plan
func (s *Signer) BuyTicket(ctx context.Context, plan *PurchasePlan) (*Receipt, error) {
	if plan.Bulk || len(plan.Predictions) != 1 {
		return nil, fmt.Errorf("%w: buyTicket takes exactly one prediction set", ErrInvalidQuantity)
	}
	picks := [chain.PredictionCount]bool(plan.Predictions[0])
	return s.send(ctx, "buyTicket", plan.Value, plan.GasLimit, picks, plan.MinSwapOutput, plan.Deadline)
}

// BuyMultipleTickets submits buyMultipleTickets for a bulk plan
func (s *Signer) BuyMultipleTickets(ctx context.Context, plan *PurchasePlan) (*Receipt, error) {
	if len(plan.Predictions) == 0 || len(plan.Predictions) > MaxBulkTickets {
		return nil, fmt.Errorf("%w: %d tickets", ErrInvalidQuantity, len(plan.Predictions))
	}
	all := make([][chain.PredictionCount]bool, len(plan.Predictions))
	for i, p := range plan.Predictions {
		all[i] = p
	}
	return s.send(ctx, "buyMultipleTickets", plan.Value, plan.GasLimit, all, plan.MinSwapOutput, plan.Deadline)
}

// Buy routes a plan to the single or bulk entry point
func (s *Signer) Buy(ctx context.Context, plan *PurchasePlan) (*Receipt, error) {
	if plan.Bulk {
		return s.BuyMultipleTickets(ctx, plan)
	}
	return s.BuyTicket(ctx, plan)
}

// FormLP turns the accumulated LP-forming funds into LP tokens with a
// percentage slippage bound on both sides
func (s *Signer) FormLP(ctx context.Context, slippagePct int64) (*Receipt, error) {
	funds, err := s.game.AccumulatedLpFormingFunds(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read accumulated LP funds: %w", err)
	}
	minToken, minNative, err := LPMinimums(funds, slippagePct)
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"native_for_lp": funds.NativeForLP.String(),
		"token_for_lp":  funds.TokenForLP.String(),
		"min_native":    minNative.String(),
		"min_token":     minToken.String(),
	}).Info("Forming LP from accumulated funds")
	return s.send(ctx, "formAndDepositLPFromAccumulated", nil, FormLPGas, minToken, minNative)
}

// ClaimLpReward claims the signer's share of the current LP distribution.
// Each unmet precondition is reported with its own error.
func (s *Signer) ClaimLpReward(ctx context.Context) (*Receipt, error) {
	distID, err := s.game.CurrentLpDistributionID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read distribution id: %w", err)
	}
	if distID == 0 {
		return nil, ErrNoDistribution
	}

	snap, err := s.game.DistributionSnapshot(ctx, distID)
	if err != nil {
		return nil, fmt.Errorf("failed to read distribution %d: %w", distID, err)
	}
	if !snap.Finalized {
		return nil, fmt.Errorf("%w (period %d)", ErrNotFinalized, distID)
	}

	claimed, err := s.game.HasClaimedLpReward(ctx, distID, s.from)
	if err != nil {
		return nil, fmt.Errorf("failed to read claim status: %w", err)
	}
	if claimed {
		return nil, fmt.Errorf("%w (period %d)", ErrAlreadyClaimed, distID)
	}

	shares, err := s.game.JansPoolShares(ctx, s.from)
	if err != nil {
		return nil, fmt.Errorf("failed to read pool shares: %w", err)
	}
	if shares.Sign() == 0 {
		return nil, ErrNoShares
	}

	s.log.WithFields(logrus.Fields{
		"distribution_id": distID,
		"shares":          shares.String(),
	}).Info("Claiming LP reward")
	return s.send(ctx, "claimMyLpReward", nil, ClaimLpRewardGas, new(big.Int).SetUint64(distID))
}

func (s *Signer) send(ctx context.Context, method string, value *big.Int, gasLimit uint64, args ...interface{}) (*Receipt, error) {
	data, err := s.game.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	if value == nil {
		value = new(big.Int)
	}

	nonce, err := s.backend.PendingNonceAt(ctx, s.from)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}
	gasPrice, err := s.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}

	to := s.game.Address()
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign %s: %w", method, err)
	}

	logger := s.log.WithFields(logrus.Fields{
		"method":  method,
		"tx_hash": signed.Hash().Hex(),
		"nonce":   nonce,
		"gas":     gasLimit,
		"value":   value.String(),
	})
	if err := s.backend.SendTransaction(ctx, signed); err != nil {
		metrics.RecordTransaction(method, "error")
		return nil, Classify(err)
	}
	logger.Info("Transaction sent, waiting for confirmation")

	waitCtx, cancel := context.WithTimeout(ctx, s.ConfirmTimeout)
	defer cancel()
	receipt, err := bind.WaitMined(waitCtx, s.backend, signed)
	if err != nil {
		metrics.RecordTransaction(method, "error")
		return nil, fmt.Errorf("waiting for %s: %w", signed.Hash().Hex(), err)
	}

	out := &Receipt{
		Method:      method,
		TxHash:      receipt.TxHash,
		BlockNumber: receipt.BlockNumber.Uint64(),
		GasUsed:     receipt.GasUsed,
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		metrics.RecordTransaction(method, "reverted")
		logger.WithField("block", out.BlockNumber).Warn("Transaction reverted")
		return out, fmt.Errorf("%w: %s status %d", ErrReverted, receipt.TxHash.Hex(), receipt.Status)
	}
	metrics.RecordTransaction(method, "success")
	logger.WithFields(logrus.Fields{
		"block":    out.BlockNumber,
		"gas_used": out.GasUsed,
	}).Info("Transaction confirmed")
	return out, nil
}
