package main

import (
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"creditline/config"
	"creditline/core/events"
	"creditline/native/credit"
	"creditline/native/spigot"
	"creditline/observability/logging"
	"creditline/rpc"
	"creditline/storage"
)

const eventHistoryLimit = 4096

func main() {
	configPath := flag.String("config", "./config.toml", "path to the daemon configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Setup("creditd", cfg.Env, cfg.LogFile)

	if err := run(cfg, logger); err != nil {
		logger.Error("daemon exited", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	lineAddr, err := config.ParseAddress(cfg.LineAddress)
	if err != nil {
		return err
	}
	borrower, err := config.ParseAddress(cfg.Borrower)
	if err != nil {
		return err
	}
	arbiter, err := config.ParseAddress(cfg.Arbiter)
	if err != nil {
		return err
	}
	operator, err := config.ParseAddress(cfg.Operator)
	if err != nil {
		return err
	}
	treasury, err := config.ParseAddress(cfg.EscrowTreasury)
	if err != nil {
		return err
	}

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		return fmt.Errorf("open state db: %w", err)
	}
	defer db.Close()
	state := storage.NewState(db)

	line := &credit.Line{
		Address:  lineAddr,
		Borrower: borrower,
		Arbiter:  arbiter,
		Deadline: time.Now().Unix() + cfg.TTLSeconds,
		Status:   credit.StatusActive,
	}
	if err := state.Bootstrap(line); err != nil {
		return fmt.Errorf("bootstrap line: %w", err)
	}

	oracle := credit.NewStaticOracle()
	for _, token := range cfg.Tokens {
		if err := state.SetTokenDecimals(token.Symbol, token.Decimals); err != nil {
			return fmt.Errorf("register token %s: %w", token.Symbol, err)
		}
		if strings.TrimSpace(token.Price) == "" {
			continue
		}
		price, ok := new(big.Int).SetString(strings.TrimSpace(token.Price), 10)
		if !ok {
			return fmt.Errorf("invalid price for token %s", token.Symbol)
		}
		oracle.SetAnswer(token.Symbol, price)
	}

	recorder := events.NewRecorder(eventHistoryLimit)

	creditEngine := credit.NewEngine()
	creditEngine.SetState(state)
	creditEngine.SetEmitter(recorder)
	creditEngine.SetOracle(oracle)
	creditEngine.SetInterestModel(credit.NewRateModel())

	ledger := spigot.NewLedger(operator, treasury)
	ledger.SetState(state)
	ledger.SetEmitter(recorder)
	if err := ledger.Bootstrap(lineAddr); err != nil {
		return fmt.Errorf("bootstrap escrow: %w", err)
	}

	bridge := spigot.NewEngine(cfg.DefaultRevenueSplit)
	bridge.SetState(state)
	bridge.SetCreditEngine(creditEngine)
	bridge.SetEscrow(ledger)
	bridge.SetVenue(spigot.NewLedgerVenue(state, ledger))
	bridge.SetEmitter(recorder)

	server := rpc.NewServer(creditEngine, bridge, ledger, recorder, logger)
	logger.Info("credit line daemon ready", "line", cfg.LineAddress, "rpc", cfg.RPCAddress)
	return server.Start(cfg.RPCAddress)
}
