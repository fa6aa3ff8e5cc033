package command

import (
	"github.com/urfave/cli"

	cmddomains "github.com/rocketbitz/fabric-errd/cmd/errd-sim/domains"
	cmdhistory "github.com/rocketbitz/fabric-errd/cmd/errd-sim/history"
	cmdsimulate "github.com/rocketbitz/fabric-errd/cmd/errd-sim/simulate"
	"github.com/rocketbitz/fabric-errd/config"
)

const usage = `
# to list the error domains and how each bit is handled
errd-sim domains

# to run the simulator with a config file
errd-sim simulate --config errd-sim.yaml

# to print the recorded fault history
errd-sim history --db /var/lib/errd-sim/history.db
`

func App() *cli.App {
	app := cli.NewApp()

	app.Name = "errd-sim"
	app.Usage = usage
	app.Description = "error domain interrupt simulator"

	logLevelFlag := cli.StringFlag{
		Name:  "log-level,l",
		Usage: "set the logging level [debug, info, warn, error, fatal, panic, dpanic]",
	}

	app.Commands = []cli.Command{
		{
			Name:   "domains",
			Usage:  "print the classified error domain registry",
			Action: cmddomains.Command,
			Flags: []cli.Flag{
				cli.BoolFlag{
					Name:  "strict",
					Usage: "report uncategorized bits with the strict action",
				},
			},
		},
		{
			Name:   "simulate",
			Usage:  "inject faults into a simulated device and read the async errors back",
			Action: cmdsimulate.Command,
			Flags: []cli.Flag{
				logLevelFlag,
				cli.StringFlag{
					Name:  "config,c",
					Usage: "simulator config file (default: built-in configuration)",
				},
				cli.StringFlag{
					Name:  "metrics-address",
					Usage: "override the Prometheus listen address (empty string disables it)",
					Value: config.DefaultMetricsAddress,
				},
				cli.StringFlag{
					Name:  "history-db",
					Usage: "override the sqlite fault history file",
				},
				cli.IntFlag{
					Name:  "rounds",
					Usage: "stop after this many injection rounds (0 runs until interrupted)",
				},
			},
		},
		{
			Name:   "history",
			Usage:  "print the recorded fault history",
			Action: cmdhistory.Command,
			Flags: []cli.Flag{
				logLevelFlag,
				cli.StringFlag{
					Name:  "db",
					Usage: "sqlite fault history file",
				},
				cli.DurationFlag{
					Name:  "since",
					Usage: "only show events newer than this",
					Value: 0,
				},
				cli.StringFlag{
					Name:  "kind",
					Usage: "only show events of this kind [fired, masked, dropped, fatal]",
				},
			},
		},
	}
	return app
}
