package main

import (
	"fmt"
	"os"

	"tradeengine/cmd/connect"
	"tradeengine/cmd/killswitch"
	"tradeengine/cmd/sweeper"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

var Version string

func main() {
	app := cli.NewApp()
	app.Name = "Tradeengine CMD"
	app.Usage = "The trade engine command line interface"

	app.Commands = []cli.Command{
		sweepCMD,
		killSwitchCMD,
		connectCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	sweepCMD = cli.Command{
		Name:        "sweep",
		Usage:       "run a single reconciliation pass",
		Action:      sweepAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Reconcile every trade with an in-flight order against the broker and exit`,
	}
	killSwitchCMD = cli.Command{
		Name:        "killswitch",
		Usage:       "run a single kill switch sweep",
		Action:      killSwitchAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Check daily P&L guardrails for all users and engage kill switches where breached`,
	}
	connectCMD = cli.Command{
		Name:        "connect",
		Usage:       "register a broker connection",
		Action:      connectAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Store a broker API key and access token for a user (token encrypted at rest)`,
	}
)

func sweepAction(_ *cli.Context) error {

	logrus.Info("Starting reconciliation sweep CMD")
	logrus.WithField("cmd", "sweep")

	s := &sweeper.Sweeper{}
	if err := s.Start(); err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}

	return nil
}

func killSwitchAction(_ *cli.Context) error {

	logrus.Info("Starting kill switch sweep CMD")
	logrus.WithField("cmd", "killswitch")

	m := &killswitch.Monitor{}
	if err := m.Start(); err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}

	return nil
}

func connectAction(_ *cli.Context) error {

	logrus.Info("Starting broker connect CMD")
	logrus.WithField("cmd", "connect")

	c := &connect.Connector{}
	if err := c.Start(); err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}

	return nil
}
