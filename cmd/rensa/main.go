// Command rensa applies a linear chain of schema revisions to a database.
//
//	RENSA_DSN="game.db" rensa upgrade
//	RENSA_DSN="game.db" rensa downgrade 010
//	RENSA_DSN="game.db" rensa current
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/hashicorp/go-hclog"
	"github.com/urfave/cli/v2"

	"github.com/root-talis/rensa"
	"github.com/root-talis/rensa/driver"
	"github.com/root-talis/rensa/revision"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		printError(err)
		os.Exit(1)
	}
}

func printError(err error) {
	var opErr *driver.OperationError
	if errors.As(err, &opErr) {
		color.Red("revision %s failed: %s", opErr.Revision, opErr.Error())
		return
	}

	color.Red("%s", err.Error())
}

// ---

func newApp() *cli.App {
	cfg, err := parseConfig()
	if err != nil {
		// surfaced once a command actually runs
		return &cli.App{
			Name: "rensa",
			Action: func(*cli.Context) error {
				return err
			},
		}
	}

	return &cli.App{
		Name:  "rensa",
		Usage: "apply a linear chain of schema revisions to a database",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "dsn",
				Usage:       "database connection string",
				Value:       cfg.DSN,
				Destination: &cfg.DSN,
			},
			&cli.StringFlag{
				Name:        "dialect",
				Usage:       "database dialect: mysql, postgres or sqlite",
				Value:       cfg.Dialect,
				Destination: &cfg.Dialect,
			},
			&cli.StringFlag{
				Name:        "dir",
				Usage:       "directory with revision files",
				Value:       cfg.Dir,
				Destination: &cfg.Dir,
			},
			&cli.StringFlag{
				Name:        "table-prefix",
				Usage:       "prefix for the state tables rensa keeps in the target database",
				Value:       cfg.TablePrefix,
				Destination: &cfg.TablePrefix,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "trace, debug, info, warn, error or off",
				Value:       cfg.LogLevel,
				Destination: &cfg.LogLevel,
			},
		},
		Commands: []*cli.Command{
			upgradeCommand(&cfg),
			downgradeCommand(&cfg),
			currentCommand(&cfg),
			historyCommand(&cfg),
			validateCommand(&cfg),
		},
	}
}

func newLogger(cfg *config) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:  "rensa",
		Level: hclog.LevelFromString(cfg.LogLevel),
	})
}

// ---

func upgradeCommand(cfg *config) *cli.Command {
	return &cli.Command{
		Name:      "upgrade",
		Usage:     "apply pending revisions, up to TARGET or to the end of the chain",
		ArgsUsage: "[TARGET]",
		Action: func(c *cli.Context) error {
			eng, closer, err := openEngine(*cfg, rensa.WithLogger(newLogger(cfg)))
			if err != nil {
				return err
			}
			defer closer() // nolint:errcheck

			if c.Args().Present() {
				return eng.UpgradeTo(c.Context, revision.ID(c.Args().First()))
			}

			return eng.Upgrade(c.Context)
		},
	}
}

func downgradeCommand(cfg *config) *cli.Command {
	return &cli.Command{
		Name:      "downgrade",
		Usage:     "revert applied revisions back to TARGET (exclusive)",
		ArgsUsage: "TARGET",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "all",
				Usage: "revert every applied revision, including the first one",
			},
		},
		Action: func(c *cli.Context) error {
			eng, closer, err := openEngine(*cfg, rensa.WithLogger(newLogger(cfg)))
			if err != nil {
				return err
			}
			defer closer() // nolint:errcheck

			if c.Bool("all") {
				return eng.DowngradeAll(c.Context)
			}

			if !c.Args().Present() {
				return fmt.Errorf("downgrade needs a target revision (or --all)")
			}

			return eng.DowngradeTo(c.Context, revision.ID(c.Args().First()))
		},
	}
}

func currentCommand(cfg *config) *cli.Command {
	return &cli.Command{
		Name:  "current",
		Usage: "print the currently applied revision",
		Action: func(c *cli.Context) error {
			eng, closer, err := openEngine(*cfg)
			if err != nil {
				return err
			}
			defer closer() // nolint:errcheck

			current, err := eng.Current(c.Context)
			if err != nil {
				return err
			}

			if current == revision.Root {
				fmt.Println("(no revisions applied)")
			} else {
				fmt.Println(string(current))
			}

			return nil
		},
	}
}

func historyCommand(cfg *config) *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "print the full log of upgrades and downgrades",
		Action: func(c *cli.Context) error {
			eng, closer, err := openEngine(*cfg)
			if err != nil {
				return err
			}
			defer closer() // nolint:errcheck

			log, err := eng.History(c.Context)
			if err != nil {
				return err
			}

			for _, entry := range *log {
				line := fmt.Sprintf("%s  %s  %s  %s",
					entry.AppliedAt.Format("2006-01-02 15:04:05"),
					directionLabel(entry.Direction),
					entry.ID,
					entry.Name,
				)
				if entry.Direction == revision.Down {
					color.Yellow("%s", line)
				} else {
					fmt.Println(line)
				}
			}

			return nil
		},
	}
}

func directionLabel(dir revision.Direction) string {
	if dir == revision.Down {
		return "down"
	}
	return "up  "
}

func validateCommand(cfg *config) *cli.Command {
	return &cli.Command{
		Name:  "validate",
		Usage: "check the revision chain against the database state",
		Action: func(c *cli.Context) error {
			eng, closer, err := openEngine(*cfg)
			if err != nil {
				return err
			}
			defer closer() // nolint:errcheck

			result, err := eng.Validate(c.Context)
			if err != nil {
				return err
			}

			for _, state := range result.Revisions {
				printRevisionState(state)
			}

			fmt.Printf("\n%d applied, %d pending, %d missing\n",
				result.AppliedCount, result.PendingCount, result.MissingCount)

			if result.MissingCount > 0 {
				return fmt.Errorf("database contains revisions that are missing from the chain")
			}

			return nil
		},
	}
}

func printRevisionState(state revision.State) {
	var marker string
	switch state.Status {
	case revision.Applied:
		marker = color.GreenString("applied")
	case revision.Pending:
		marker = color.YellowString("pending")
	case revision.Missing:
		marker = color.RedString("missing")
	}

	note := ""
	if state.Status == revision.Applied && !state.CanUndo {
		note = "  (no downgrade)"
	}

	fmt.Printf("%s  %s  %s%s\n", marker, state.ID, state.Name, note)
}
