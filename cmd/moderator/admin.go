package main

import (
	"fmt"
	"strconv"

	cli "github.com/urfave/cli/v2"

	"github.com/whisper/comment-moderator/internal/ban"
	"github.com/whisper/comment-moderator/internal/config"
	"github.com/whisper/comment-moderator/internal/stats"
	"github.com/whisper/comment-moderator/internal/store"
)

var migrateCmd = &cli.Command{
	Name:  "migrate",
	Usage: "apply pending database migrations",
	Action: func(cctx *cli.Context) error {
		if err := store.Migrate(cctx.String("database-url")); err != nil {
			return err
		}
		fmt.Println("database is up to date")
		return nil
	},
}

var statsCmd = &cli.Command{
	Name:  "stats",
	Usage: "print the moderation statistics report",
	Action: func(cctx *cli.Context) error {
		st, closeDB, err := openStore(cctx)
		if err != nil {
			return err
		}
		defer closeDB()

		r, err := stats.NewAggregator(st, nil).Report(cctx.Context)
		if err != nil {
			return err
		}
		fmt.Print(r.String())
		return nil
	},
}

var moderatorFlag = &cli.Int64Flag{
	Name:     "moderator",
	Usage:    "user id of the moderator performing the action",
	Required: true,
	EnvVars:  []string{"MODERATOR_ID"},
}

var blacklistCmd = &cli.Command{
	Name:      "blacklist",
	Usage:     "permanently block a user from commenting",
	ArgsUsage: "<user-id>",
	Flags: []cli.Flag{
		moderatorFlag,
		&cli.StringFlag{
			Name:  "reason",
			Usage: "reason recorded in the action log",
		},
	},
	Action: func(cctx *cli.Context) error {
		userID, err := userArg(cctx)
		if err != nil {
			return err
		}
		m, closeDB, err := openMachine(cctx)
		if err != nil {
			return err
		}
		defer closeDB()

		if err := m.Blacklist(cctx.Context, userID, cctx.Int64("moderator"), cctx.String("reason")); err != nil {
			return err
		}
		fmt.Printf("user %d blacklisted\n", userID)
		return nil
	},
}

var unrestrictCmd = &cli.Command{
	Name:      "unrestrict",
	Usage:     "lift the edit restriction of a user and reset the suspicious edit count",
	ArgsUsage: "<user-id>",
	Flags:     []cli.Flag{moderatorFlag},
	Action: func(cctx *cli.Context) error {
		userID, err := userArg(cctx)
		if err != nil {
			return err
		}
		m, closeDB, err := openMachine(cctx)
		if err != nil {
			return err
		}
		defer closeDB()

		if err := m.ClearEditRestriction(cctx.Context, userID, cctx.Int64("moderator")); err != nil {
			return err
		}
		fmt.Printf("edit restriction of user %d cleared\n", userID)
		return nil
	},
}

func userArg(cctx *cli.Context) (int64, error) {
	if cctx.Args().Len() != 1 {
		return 0, fmt.Errorf("expected exactly one user id argument")
	}
	id, err := strconv.ParseInt(cctx.Args().First(), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid user id %q", cctx.Args().First())
	}
	return id, nil
}

func openStore(cctx *cli.Context) (*store.Store, func(), error) {
	db, err := store.Open(cctx.Context, cctx.String("database-url"))
	if err != nil {
		return nil, nil, err
	}
	return store.New(db), func() { db.Close() }, nil
}

func openMachine(cctx *cli.Context) (*ban.Machine, func(), error) {
	st, closeDB, err := openStore(cctx)
	if err != nil {
		return nil, nil, err
	}
	m := ban.NewMachine(st, ban.Options{
		Policy:   config.DefaultPolicy(),
		Messages: config.DefaultMessages(),
		Retries:  config.Default().WriteRetries,
	})
	return m, closeDB, nil
}
