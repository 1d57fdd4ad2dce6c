package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jansgame/roundwatch/internal/chain"
	"github.com/jansgame/roundwatch/internal/config"
	"github.com/jansgame/roundwatch/internal/eventlog"
	"github.com/jansgame/roundwatch/internal/gamestats"
	"github.com/jansgame/roundwatch/internal/player"
	"github.com/jansgame/roundwatch/internal/pricefeed"
	"github.com/jansgame/roundwatch/internal/processor"
	"github.com/jansgame/roundwatch/internal/round"
	"github.com/jansgame/roundwatch/internal/txn"
	"github.com/jansgame/roundwatch/internal/view"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

var yesFlag = cli.BoolFlag{Name: "yes", Usage: "submit the transaction instead of printing the plan"}

func main() {
	app := cli.NewApp()
	app.Name = "jansctl"
	app.Usage = "operate JansPredictionGame from the command line"
	app.Flags = []cli.Flag{
		cli.BoolFlag{Name: "verbose", Usage: "debug logging"},
		cli.DurationFlag{Name: "timeout", Value: 5 * time.Minute, Usage: "overall command timeout"},
	}
	app.Commands = []cli.Command{
		{
			Name:   "status",
			Usage:  "run one poll cycle and print the rendered view",
			Action: status,
		},
		{
			Name:  "tickets",
			Usage: "list a player's tickets for a round",
			Flags: []cli.Flag{
				cli.Uint64Flag{Name: "round", Usage: "round id (default: current round)"},
				cli.StringFlag{Name: "address", Usage: "player address (default: signer address)"},
			},
			Action: tickets,
		},
		{
			Name:   "winners",
			Usage:  "list the winning tickets of an evaluated round",
			Flags:  []cli.Flag{cli.Uint64Flag{Name: "round", Usage: "round id (default: current round)"}},
			Action: winners,
		},
		{
			Name:      "buy",
			Usage:     "buy one ticket",
			ArgsUsage: "PICKS (ten of U/D, one per pool)",
			Flags:     []cli.Flag{yesFlag},
			Action:    buy,
		},
		{
			Name:  "buy-bulk",
			Usage: "buy up to three tickets in one transaction",
			Flags: []cli.Flag{
				cli.IntFlag{Name: "count", Value: 1, Usage: "number of tickets"},
				cli.StringSliceFlag{Name: "picks", Usage: "picks per ticket; omit all for random picks"},
				yesFlag,
			},
			Action: buyBulk,
		},
		{
			Name:  "form-lp",
			Usage: "form LP from the accumulated funds",
			Flags: []cli.Flag{
				cli.Int64Flag{Name: "slippage", Usage: "slippage percent (default: LP_SLIPPAGE_PCT)"},
				yesFlag,
			},
			Action: formLP,
		},
		{
			Name:   "claim-lp",
			Usage:  "claim the signer's LP reward for the current distribution",
			Flags:  []cli.Flag{yesFlag},
			Action: claimLP,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// env is the per-command wiring
type env struct {
	cfg    *config.Config
	log    *logrus.Logger
	client *chain.Client
	game   *chain.GameContract
}

func setup(c *cli.Context) (context.Context, context.CancelFunc, *env, error) {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(logrus.WarnLevel)
	if c.GlobalBool("verbose") {
		log.SetLevel(logrus.DebugLevel)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.GlobalDuration("timeout"))
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	cfg, err := config.Load()
	if err != nil {
		cancel()
		return nil, nil, nil, err
	}
	client := chain.NewClient(cfg, nil, log)
	if err := client.Init(ctx); err != nil {
		cancel()
		return nil, nil, nil, err
	}
	game, err := client.Contract()
	if err != nil {
		cancel()
		return nil, nil, nil, err
	}
	return ctx, cancel, &env{cfg: cfg, log: log, client: client, game: game}, nil
}

func (e *env) deriver() (*round.Deriver, error) {
	var maintenance *round.MaintenanceWindow
	if e.cfg.MaintenanceEnabled {
		w, err := round.ParseMaintenanceWindow(e.cfg.MaintenanceWeekday, e.cfg.MaintenanceStart, e.cfg.MaintenanceDuration)
		if err != nil {
			return nil, err
		}
		maintenance = &w
	}
	return round.NewDeriver(e.game, maintenance, e.log), nil
}

func (e *env) signer() (*txn.Signer, error) {
	if e.cfg.SignerPrivateKey == "" {
		return nil, fmt.Errorf("SIGNER_PRIVATE_KEY (or SIGNER_PRIVATE_KEY_FILE) is required")
	}
	return txn.NewSignerFromClient(e.client, e.cfg.SignerPrivateKey, e.log)
}

// currentRound falls back to the contract's current round id when flag is zero
func (e *env) currentRound(ctx context.Context, flag uint64) (uint64, error) {
	if flag != 0 {
		return flag, nil
	}
	id, err := e.game.CurrentRoundID(ctx)
	if err != nil {
		return 0, err
	}
	if id == 0 {
		return 0, fmt.Errorf("no active round, pass --round")
	}
	return id, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// txFailure turns a transaction error into the user-facing message
func txFailure(err error) error {
	return cli.NewExitError(txn.Message(err), 1)
}

func status(c *cli.Context) error {
	ctx, cancel, e, err := setup(c)
	if err != nil {
		return err
	}
	defer cancel()

	deriver, err := e.deriver()
	if err != nil {
		return err
	}
	provider, err := e.client.Provider()
	if err != nil {
		return err
	}
	dex, err := e.client.Dex()
	if err != nil {
		return err
	}
	feed := pricefeed.New(e.cfg, e.client, nil, e.log)
	fetcher := eventlog.NewFetcher(provider, e.game, e.cfg.LogBatchBlocks, e.cfg.LogBatchConcurrency, e.cfg.BlockTimeCacheSize, e.log)
	tracker := eventlog.NewTracker(fetcher, nil, eventlog.WindowConfig{
		MinBlocks:    e.cfg.LogMinWindowBlocks,
		MaxBlocks:    e.cfg.LogMaxWindowBlocks,
		AvgBlockTime: e.cfg.AvgBlockTime,
	}, e.log)
	collector := gamestats.NewCollector(e.game, dex, feed, common.HexToAddress(e.cfg.TokenAddress), e.cfg.TokenDecimals, e.cfg.LPTokenDecimals)

	snap, err := processor.New(e.cfg, deriver, feed, tracker, collector, nil, nil, e.log).RunCycle(ctx)
	if err != nil {
		return err
	}
	return printJSON(snap)
}

func tickets(c *cli.Context) error {
	ctx, cancel, e, err := setup(c)
	if err != nil {
		return err
	}
	defer cancel()

	roundID, err := e.currentRound(ctx, c.Uint64("round"))
	if err != nil {
		return err
	}

	var addr common.Address
	switch raw := c.String("address"); {
	case raw != "":
		if !common.IsHexAddress(raw) {
			return fmt.Errorf("invalid address %q", raw)
		}
		addr = common.HexToAddress(raw)
	default:
		s, err := e.signer()
		if err != nil {
			return fmt.Errorf("pass --address or configure a signer: %w", err)
		}
		addr = s.From()
	}

	svc := player.NewService(e.game, e.log)
	summary, err := svc.RoundSummary(ctx, roundID)
	if err != nil {
		return err
	}
	list, err := svc.Tickets(ctx, roundID, addr)
	if err != nil {
		return err
	}
	return printJSON(map[string]interface{}{
		"player":  addr.Hex(),
		"round":   summary,
		"tickets": list,
	})
}

func winners(c *cli.Context) error {
	ctx, cancel, e, err := setup(c)
	if err != nil {
		return err
	}
	defer cancel()

	roundID, err := e.currentRound(ctx, c.Uint64("round"))
	if err != nil {
		return err
	}
	w, err := player.NewService(e.game, e.log).Winners(ctx, roundID)
	if err != nil {
		return err
	}
	return printJSON(w)
}

func buy(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.NewExitError("usage: jansctl buy [--yes] PICKS", 2)
	}
	picks, err := txn.ParsePicks(c.Args().First())
	if err != nil {
		return txFailure(err)
	}
	return purchase(c, 1, false, [][]bool{picks})
}

func buyBulk(c *cli.Context) error {
	var predictions [][]bool
	for _, raw := range c.StringSlice("picks") {
		picks, err := txn.ParsePicks(raw)
		if err != nil {
			return txFailure(err)
		}
		predictions = append(predictions, picks)
	}
	return purchase(c, c.Int("count"), true, predictions)
}

func purchase(c *cli.Context, count int, bulk bool, predictions [][]bool) error {
	ctx, cancel, e, err := setup(c)
	if err != nil {
		return err
	}
	defer cancel()

	deriver, err := e.deriver()
	if err != nil {
		return err
	}
	state, err := deriver.Derive(ctx, time.Now())
	if err != nil {
		return err
	}
	if !state.PurchasesAllowed {
		return txFailure(fmt.Errorf("%w: %s", txn.ErrSalesClosed, view.PhaseLabel(state.Phase)))
	}

	feed := pricefeed.New(e.cfg, e.client, nil, e.log)
	plan, err := txn.NewPurchasePlan(txn.PurchaseRequest{
		TicketPrice:    state.TicketPriceNative,
		Count:          count,
		Bulk:           bulk,
		Predictions:    predictions,
		TokenPerNative: feed.FetchTokenPerNativeRate(ctx),
		SlippageBps:    e.cfg.SlippageBps,
		NativeDecimals: e.cfg.NativeDecimals,
		TokenDecimals:  e.cfg.TokenDecimals,
		Now:            time.Now(),
	})
	if err != nil {
		return txFailure(err)
	}

	fmt.Fprintf(os.Stderr, "Round %d: %d ticket(s) for %s TARA, min swap output %s JANS, gas limit %d\n",
		state.Round.RoundID, count,
		view.FormatUnits(plan.Value, e.cfg.NativeDecimals),
		view.FormatUnits(plan.MinSwapOutput, e.cfg.TokenDecimals),
		plan.GasLimit)
	if !c.Bool("yes") {
		return printJSON(plan)
	}

	signer, err := e.signer()
	if err != nil {
		return err
	}
	receipt, err := signer.Buy(ctx, plan)
	if err != nil {
		return txFailure(err)
	}
	return printJSON(receipt)
}

func formLP(c *cli.Context) error {
	ctx, cancel, e, err := setup(c)
	if err != nil {
		return err
	}
	defer cancel()

	slippage := c.Int64("slippage")
	if slippage == 0 {
		slippage = e.cfg.LPSlippagePct
	}
	if !c.Bool("yes") {
		funds, err := e.game.AccumulatedLpFormingFunds(ctx)
		if err != nil {
			return err
		}
		minToken, minNative, err := txn.LPMinimums(funds, slippage)
		if err != nil {
			return txFailure(err)
		}
		return printJSON(map[string]string{
			"nativeForLp": view.FormatUnits(funds.NativeForLP, e.cfg.NativeDecimals),
			"tokenForLp":  view.FormatUnits(funds.TokenForLP, e.cfg.TokenDecimals),
			"minNative":   view.FormatUnits(minNative, e.cfg.NativeDecimals),
			"minToken":    view.FormatUnits(minToken, e.cfg.TokenDecimals),
		})
	}

	signer, err := e.signer()
	if err != nil {
		return err
	}
	receipt, err := signer.FormLP(ctx, slippage)
	if err != nil {
		return txFailure(err)
	}
	return printJSON(receipt)
}

func claimLP(c *cli.Context) error {
	ctx, cancel, e, err := setup(c)
	if err != nil {
		return err
	}
	defer cancel()

	signer, err := e.signer()
	if err != nil {
		return err
	}
	if !c.Bool("yes") {
		shares, err := e.game.JansPoolShares(ctx, signer.From())
		if err != nil {
			return err
		}
		return printJSON(map[string]string{
			"account": signer.From().Hex(),
			"shares":  shares.String(),
		})
	}
	receipt, err := signer.ClaimLpReward(ctx)
	if err != nil {
		return txFailure(err)
	}
	return printJSON(receipt)
}
