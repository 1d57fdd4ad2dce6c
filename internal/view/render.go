package view

import (
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jansgame/roundwatch/internal/eventlog"
	"github.com/jansgame/roundwatch/internal/gamestats"
	"github.com/jansgame/roundwatch/internal/pricefeed"
	"github.com/jansgame/roundwatch/internal/round"
)

var phaseLabels = map[round.Phase]string{
	round.PhaseNoRound:      "No Active Round",
	round.PhasePendingStart: "Round Pending Start",
	round.PhaseSalesOpen:    "Sales OPEN",
	round.PhaseSalesClosed:  "Sales CLOSED",
	round.PhaseEvaluated:    "Results Evaluated",
	round.PhaseAborted:      "Round ABORTED",
	round.PhasePaused:       "Paused for maintenance",
	round.PhaseError:        "Error",
}

// PhaseLabel is the sales status line for a phase
func PhaseLabel(p round.Phase) string {
	if label, ok := phaseLabels[p]; ok {
		return label
	}
	return string(p)
}

// Decimals are the token precisions used when scaling raw amounts
type Decimals struct {
	Native  int
	Token   int
	LPToken int
}

// Input is everything one render needs
type Input struct {
	Round    *round.State
	Prices   pricefeed.PriceContext
	Stats    *gamestats.Stats
	StatsErr error
	Events   []eventlog.TicketPurchaseEvent
	Decimals Decimals
	Now      time.Time
}

// Transaction is one row of the recent purchases list
type Transaction struct {
	Player      string `json:"player"`
	PlayerShort string `json:"playerShort"`
	TicketID    uint64 `json:"ticketId"`
	Time        string `json:"time"`
	TxHash      string `json:"txHash"`
	TxShort     string `json:"txShort"`
}

// View is the display model served to clients
type View struct {
	RoundID          string        `json:"roundId"`
	Phase            round.Phase   `json:"phase"`
	SalesStatus      string        `json:"salesStatus"`
	TicketPrice      string        `json:"ticketPrice"`
	SalesRemaining   string        `json:"salesRemaining,omitempty"`
	PurchasesAllowed bool          `json:"purchasesAllowed"`
	NativeUSDPrice   string        `json:"nativeUsdPrice"`
	TokenUSDPrice    string        `json:"tokenUsdPrice"`
	PrizePool        string        `json:"prizePool"`
	PrizePoolUSD     string        `json:"prizePoolUsd"`
	Burned           string        `json:"burned"`
	BurnedUSD        string        `json:"burnedUsd"`
	BurnedPercentage string        `json:"burnedPercentage"`
	BurnCycle        string        `json:"burnCycle"`
	LPBalance        string        `json:"lpBalance"`
	LPBalanceUSD     string        `json:"lpBalanceUsd"`
	Transactions     []Transaction `json:"transactions"`
	NextSnapshotIn   string        `json:"nextSnapshotIn"`
	LastSnapshotAt   string        `json:"lastSnapshotAt"`
	RenderedAt       time.Time     `json:"renderedAt"`
}

// Render maps derived state onto display strings. It has no side effects.
func Render(in Input) *View {
	v := &View{
		Transactions: []Transaction{},
		RenderedAt:   in.Now,
	}
	renderRound(v, in)
	renderStats(v, in)
	if v.Phase == round.PhaseError {
		v.NativeUSDPrice, v.TokenUSDPrice = "Error", "Error"
	} else {
		renderPrices(v, in.Prices)
		renderTransactions(v, in.Events)
	}

	v.NextSnapshotIn = FormatCountdown(round.NextDailySnapshot(in.Now).Sub(in.Now))
	v.LastSnapshotAt = round.LastDailySnapshot(in.Now).Format("02 Jan 2006, 15:04 UTC")
	return v
}

func renderTransactions(v *View, events []eventlog.TicketPurchaseEvent) {
	for _, e := range events {
		player := e.Player.Hex()
		v.Transactions = append(v.Transactions, Transaction{
			Player:      player,
			PlayerShort: ShortenAddress(player, 4),
			TicketID:    e.TicketID,
			Time:        time.Unix(e.TimestampSeconds, 0).UTC().Format("2006-01-02 15:04:05 UTC"),
			TxHash:      e.TxHash,
			TxShort:     shortenHash(e.TxHash),
		})
	}
}

func renderRound(v *View, in Input) {
	st := in.Round
	if st == nil || st.Phase == round.PhaseError {
		v.RoundID = "Error"
		v.Phase = round.PhaseError
		v.SalesStatus = "Error loading status"
		v.TicketPrice = "Error"
		return
	}

	v.Phase = st.Phase
	v.SalesStatus = PhaseLabel(st.Phase)
	v.PurchasesAllowed = st.PurchasesAllowed
	v.RoundID = strconv.FormatUint(st.Round.RoundID, 10)

	switch st.ContractPhase {
	case round.PhaseNoRound:
		v.RoundID = "N/A"
		v.TicketPrice = "N/A (No active round)"
	case round.PhasePendingStart:
		v.TicketPrice = "Pending Start"
	case round.PhaseSalesOpen:
		if st.TicketPriceNative != nil {
			v.TicketPrice = ToDecimal(st.TicketPriceNative, in.Decimals.Native).StringFixed(2) + " TARA"
		} else {
			v.TicketPrice = "N/A"
		}
		if st.SalesEndTime != nil {
			v.SalesRemaining = FormatCountdown(st.SalesRemaining())
		}
	case round.PhaseSalesClosed:
		v.TicketPrice = "Sales Closed"
	default:
		v.TicketPrice = "N/A"
	}
	if st.Phase == round.PhasePaused {
		v.TicketPrice = "Paused"
		v.SalesRemaining = ""
	}
}

func renderPrices(v *View, prices pricefeed.PriceContext) {
	v.NativeUSDPrice = "N/A"
	if prices.NativeUSDPrice != nil {
		v.NativeUSDPrice = "$" + FormatFloat(*prices.NativeUSDPrice, DefaultPriceOptions)
	}
	v.TokenUSDPrice = "N/A"
	if p := prices.TokenUSD(); p != nil {
		v.TokenUSDPrice = "$" + FormatFloat(*p, DefaultPriceOptions)
	}
}

func renderStats(v *View, in Input) {
	s := in.Stats
	if s == nil || in.StatsErr != nil {
		v.PrizePool, v.Burned, v.LPBalance = "Error", "Error", "Error"
		v.BurnCycle = "Error"
		return
	}
	dec := in.Decimals

	prize := ToDecimal(s.PrizePoolJANS, dec.Token)
	v.PrizePool = prize.StringFixed(2) + " JANS"
	v.PrizePoolUSD = USDText(prize, s.PrizePoolUSD)

	burned := ToDecimal(s.Burn.Burned, dec.Token)
	v.Burned = burned.StringFixed(2) + " JANS"
	v.BurnedUSD = USDText(burned, s.BurnedUSD)
	switch {
	case s.Burn.PercentOfSupply != nil:
		v.BurnedPercentage = fmt.Sprintf("(%.4f%% of Total Supply)", *s.Burn.PercentOfSupply)
	case s.Burn.CurrentSupply == nil:
		v.BurnedPercentage = "(Supply N/A)"
	default:
		v.BurnedPercentage = "(Supply 0)"
	}
	v.BurnCycle = "N/A"
	if s.Burn.Cycle != nil {
		v.BurnCycle = strconv.FormatUint(*s.Burn.Cycle, 10)
	}

	lp := ToDecimal(s.LPTokenBalance, dec.LPToken)
	v.LPBalance = lp.StringFixed(4) + " Game LP Tokens"
	if s.GameLPToken == (common.Address{}) && lp.IsPositive() {
		v.LPBalanceUSD = "(LP Address N/A)"
	} else {
		v.LPBalanceUSD = USDText(lp, s.LPBalanceUSD)
	}
}

func shortenHash(h string) string {
	if len(h) <= 14 {
		return h
	}
	return h[:8] + "..." + h[len(h)-6:]
}
