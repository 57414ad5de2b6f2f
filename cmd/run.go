package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gregLibert/smart-pos/internal/config"
	"github.com/gregLibert/smart-pos/internal/conn"
	"github.com/gregLibert/smart-pos/internal/pos"
	"github.com/gregLibert/smart-pos/internal/statusfeed"
	"github.com/gregLibert/smart-pos/pkg/emv"
	"github.com/gregLibert/smart-pos/pkg/reader"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the terminal: controller and bank links, card reader and status feed",
	RunE:  runTerminal,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runTerminal(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cardReader, closeReader, err := openReader(cfg, logger)
	if err != nil {
		return err
	}
	defer closeReader.Close()

	controller := conn.NewController(conn.ControllerOptions{
		Addr:              cfg.ControllerAddr(),
		TerminalID:        cfg.Terminal.ID,
		ConnectTimeout:    cfg.Controller.ConnectTimeout,
		ReadTimeout:       cfg.Controller.ReadTimeout,
		KeepAlive:         cfg.Controller.KeepAlive,
		InitialBackoff:    cfg.Controller.InitialBackoff,
		MaxBackoff:        cfg.Controller.MaxBackoff,
		HeartbeatInterval: cfg.Controller.KeepAliveInterval,
		Logger:            logger,
	})
	bank := conn.NewBank(conn.BankOptions{
		Addr:           cfg.BankAddr(),
		ConnectTimeout: cfg.Bank.ConnectTimeout,
		ReadTimeout:    cfg.Bank.ReadTimeout,
		MaxAttempts:    cfg.Bank.MaxAttempts,
		RetryDelay:     cfg.Bank.RetryDelay,
		Logger:         logger,
	})
	defer bank.Disconnect()

	terminal := pos.New(pos.Options{
		TerminalID:  cfg.Terminal.ID,
		CardTimeout: cfg.Card.Timeout,
		Controller:  controller,
		Bank:        bank,
		Reader:      cardReader,
		Logger:      logger,
	})
	defer terminal.Cards().Close()

	var wg sync.WaitGroup
	goRun := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	if cfg.StatusFeed.Listen != "" {
		hub := statusfeed.NewHub(logger)
		subscribe(ctx, goRun, hub, statusfeed.TypeControllerState, controller.Subscribe, statusfeed.LinkState)
		subscribe(ctx, goRun, hub, statusfeed.TypeBankState, bank.Subscribe, statusfeed.LinkState)
		subscribe(ctx, goRun, hub, statusfeed.TypeCardState, terminal.Cards().Subscribe, statusfeed.CardState)
		subscribe(ctx, goRun, hub, statusfeed.TypeTransaction, terminal.Transactions, func(tx pos.Transaction) any { return tx })
		goRun(func() {
			err := statusfeed.Serve(ctx, hub, statusfeed.ServerOptions{
				Listen:     cfg.StatusFeed.Listen,
				MDNS:       cfg.StatusFeed.MDNS,
				TerminalID: cfg.Terminal.ID,
			})
			if err != nil {
				logger.Error("status feed stopped", "error", err)
			}
		})
	}

	requests, unsubscribe := controller.Subscribe()
	defer unsubscribe()
	goRun(func() { terminal.Run(ctx, requests) })
	goRun(func() { controller.Run(ctx) })
	goRun(func() { logBankResponses(ctx, bank) })
	goRun(func() {
		if err := bank.Connect(ctx); err != nil {
			logger.Warn("bank connector not reachable yet", "error", err)
		}
	})

	logger.Info("terminal running", "terminal_id", cfg.Terminal.ID,
		"controller", cfg.ControllerAddr(), "bank", cfg.BankAddr(), "reader", cfg.Card.Reader)
	<-ctx.Done()
	logger.Info("shutting down")
	wg.Wait()
	return nil
}

// subscribe forwards one feed to the status hub until ctx ends.
func subscribe[T any](ctx context.Context, goRun func(func()), hub *statusfeed.Hub, typ string,
	sub func() (<-chan T, func()), payload func(T) any) {
	ch, cancel := sub()
	goRun(func() {
		defer cancel()
		statusfeed.Forward(ctx, hub, typ, ch, payload)
	})
}

func logBankResponses(ctx context.Context, bank *conn.Bank) {
	responses, cancel := bank.Responses()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-responses:
			if !ok {
				return
			}
			logger.Info("bank response", "status", r.Status, "transaction_id", r.TransactionID, "message", r.Message)
		}
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// openReader opens the configured reader. With card.reader set to none it
// returns a nil reader: cards must then be pushed by another component.
func openReader(c *config.Config, logger *slog.Logger) (pos.CardReader, io.Closer, error) {
	opts := []emv.SequencerOption{
		emv.WithAIDSelection(c.AIDSelection()),
		emv.WithRecordSource(c.RecordSource()),
		emv.WithLogger(logger),
	}
	switch c.Card.Reader {
	case "pcsc":
		slot, err := reader.OpenPCSC(c.Card.ReaderName, logger)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("card reader ready", "driver", "pcsc", "reader", slot.Name())
		return &reader.EMVReader{Card: slot, Options: opts}, slot, nil
	case "libnfc":
		slot, err := reader.OpenLibNFC(c.Card.ReaderName, logger)
		if err != nil {
			return nil, nil, err
		}
		return &reader.EMVReader{Card: slot, Options: opts}, slot, nil
	case "none":
		return nil, nopCloser{}, nil
	}
	return nil, nil, fmt.Errorf("unknown card reader %q", c.Card.Reader)
}
