package txn

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// MaxMessageLength bounds user-facing failure messages
const MaxMessageLength = 150

// RejectedMessage is shown when a transaction was declined
const RejectedMessage = "Transaction rejected by user."

const userRejectedCode = 4001

var (
	// ErrRejected means the signer or the wallet declined the transaction
	ErrRejected = errors.New("transaction rejected by user")

	// ErrPrecondition is wrapped by every check that stops a transaction before it is sent
	ErrPrecondition = errors.New("precondition failed")

	ErrNoDistribution  = fmt.Errorf("%w: no active LP distribution period", ErrPrecondition)
	ErrNotFinalized    = fmt.Errorf("%w: LP distribution is not finalized", ErrPrecondition)
	ErrAlreadyClaimed  = fmt.Errorf("%w: LP reward already claimed for this period", ErrPrecondition)
	ErrNoShares        = fmt.Errorf("%w: no JANS pool shares to claim with", ErrPrecondition)
	ErrNoLPFunds       = fmt.Errorf("%w: no accumulated funds to form LP", ErrPrecondition)
	ErrInvalidPicks    = fmt.Errorf("%w: predictions must cover every pool", ErrPrecondition)
	ErrInvalidQuantity = fmt.Errorf("%w: invalid ticket quantity", ErrPrecondition)
	ErrSalesClosed     = fmt.Errorf("%w: ticket sales are not open", ErrPrecondition)

	// ErrReverted is returned when the mined receipt has status 0
	ErrReverted = errors.New("transaction failed on-chain")
)

// Error is a classified transaction failure with a short display message
type Error struct {
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

// Classify maps a send or confirmation failure onto what a user should see:
// ErrRejected for wallet rejections, else the revert reason when the node
// returned one, else the raw message. Messages are cut to MaxMessageLength.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrRejected) || errors.Is(err, ErrPrecondition) {
		return err
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == userRejectedCode {
		return ErrRejected
	}
	if strings.Contains(err.Error(), "ACTION_REJECTED") {
		return ErrRejected
	}
	if reason, ok := RevertReason(err); ok {
		return &Error{Message: truncate(reason), Err: err}
	}
	return &Error{Message: truncate(err.Error()), Err: err}
}

// RevertReason extracts the Error(string) payload a node attached to a failed call
func RevertReason(err error) (string, bool) {
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		return "", false
	}
	var raw []byte
	switch data := dataErr.ErrorData().(type) {
	case string:
		b, decodeErr := hexutil.Decode(data)
		if decodeErr != nil {
			return "", false
		}
		raw = b
	case []byte:
		raw = data
	default:
		return "", false
	}
	reason, unpackErr := abi.UnpackRevert(raw)
	if unpackErr != nil || reason == "" {
		return "", false
	}
	return reason, true
}

// Message renders a classified error for display
func Message(err error) string {
	err = Classify(err)
	var txErr *Error
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRejected):
		return RejectedMessage
	case errors.As(err, &txErr):
		return txErr.Message
	}
	return truncate(err.Error())
}

func truncate(msg string) string {
	if len(msg) <= MaxMessageLength {
		return msg
	}
	return msg[:MaxMessageLength]
}
