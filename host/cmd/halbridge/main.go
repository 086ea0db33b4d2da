// Command halbridge boots a simulated board. It bridges a host serial port
// through a simulated UART and scans simulated I2C buses.
package main

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"gohal/board"
	"gohal/core"
	hostserial "gohal/host/serial"
)

const (
	flagBoard   = "board"
	flagChannel = "channel"
	flagDevice  = "device"
	flagBaud    = "baud"
	flagVerbose = "verbose"
)

func main() {
	app := &cli.App{
		Name:  "halbridge",
		Usage: "drive simulated HAL channels from the host",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: flagVerbose, Aliases: []string{"v"}, Usage: "debug logging"},
		},
		Commands: []*cli.Command{
			{
				Name:  "bridge",
				Usage: "loop a host serial port through a simulated UART",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagBoard, Required: true, Usage: "board file"},
					&cli.UintFlag{Name: flagChannel, Usage: "serial channel id"},
					&cli.StringFlag{Name: flagDevice, Value: "/dev/ttyUSB0", Usage: "host serial device"},
					&cli.IntFlag{Name: flagBaud, Value: 115200, Usage: "host baud rate"},
				},
				Action: bridgeAction,
			},
			{
				Name:  "probe",
				Usage: "list the addresses acknowledging on a simulated I2C bus",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagBoard, Required: true, Usage: "board file"},
					&cli.UintFlag{Name: flagChannel, Usage: "i2c channel id"},
				},
				Action: probeAction,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(c *cli.Context) (*zap.SugaredLogger, error) {
	cfg := zap.NewDevelopmentConfig()
	if !c.Bool(flagVerbose) {
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

// startBoard loads, builds and starts the board named by the --board flag.
func startBoard(c *cli.Context, logger *zap.SugaredLogger) (*board.Board, error) {
	cfg, err := board.LoadFile(c.String(flagBoard))
	if err != nil {
		return nil, err
	}
	b, err := board.Build(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := b.Start(); err != nil {
		b.SoC.Close()
		return nil, err
	}
	return b, nil
}

func channelID(c *cli.Context) (core.PeripheralID, error) {
	id := c.Uint(flagChannel)
	if id >= core.MaxPeripherals {
		return 0, errors.Errorf("channel %d out of range", id)
	}
	return core.PeripheralID(id), nil
}

func bridgeAction(c *cli.Context) (err error) {
	logger, err := newLogger(c)
	if err != nil {
		return err
	}
	id, err := channelID(c)
	if err != nil {
		return err
	}
	b, err := startBoard(c, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, b.Close())
	}()
	ch, err := b.Serial(id)
	if err != nil {
		return err
	}

	pcfg := hostserial.DefaultConfig(c.String(flagDevice))
	pcfg.Baud = c.Int(flagBaud)
	port, err := hostserial.Open(pcfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
	defer stop()
	fmt.Printf("Bridging %s to %s, interrupt to stop\n", pcfg.Device, ch.Config.Name)
	return runBridge(ctx, ch, port, logger)
}

func probeAction(c *cli.Context) (err error) {
	logger, err := newLogger(c)
	if err != nil {
		return err
	}
	id, err := channelID(c)
	if err != nil {
		return err
	}
	b, err := startBoard(c, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, b.Close())
	}()
	ch, err := b.I2C(id)
	if err != nil {
		return err
	}

	found, err := probe(c.Context, ch.Driver)
	if err != nil {
		return err
	}
	if len(found) == 0 {
		fmt.Printf("No devices on %s\n", ch.Config.Name)
		return nil
	}
	for _, addr := range found {
		fmt.Printf("0x%02x\n", addr)
	}
	return nil
}
