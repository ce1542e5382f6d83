// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to configuration file",
		Value:   "config.toml",
	}
}

func userFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "user",
		Aliases: []string{"u"},
		Usage:   "User ID the command acts for",
	}
}

func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "setup",
		Usage:  "Initialize database and run migrations",
		Flags:  []cli.Flag{configFlag()},
		Action: r.SetupDatabase,
	}
}

func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the HTTP API",
		Flags: []cli.Flag{
			configFlag(),
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address, overrides the config file",
			},
		},
		Action: r.Serve,
	}
}

func authCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Link and inspect provider connections",
		Commands: []*cli.Command{
			{
				Name:  "login",
				Usage: "Authorize a provider with OAuth2",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "provider"},
				},
				Flags: []cli.Flag{
					configFlag(),
					userFlag(),
					&cli.StringFlag{
						Name:  "code",
						Usage: "Authorization code from the provider redirect",
					},
				},
				Action: r.AuthLogin,
			},
			{
				Name:   "status",
				Usage:  "Show linked providers and token state",
				Flags:  []cli.Flag{configFlag(), userFlag()},
				Action: r.AuthStatus,
			},
			{
				Name:  "refresh",
				Usage: "Force a token refresh for a provider",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "provider"},
				},
				Flags:  []cli.Flag{configFlag(), userFlag()},
				Action: r.AuthRefresh,
			},
		},
	}
}

func profileCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "profile",
		Usage: "Aggregate and inspect taste profiles",
		Commands: []*cli.Command{
			{
				Name:  "show",
				Usage: "Print the profile, building it when absent",
				Flags: []cli.Flag{
					configFlag(),
					userFlag(),
					&cli.BoolFlag{Name: "json", Usage: "Output raw JSON"},
					&cli.BoolFlag{Name: "pretty", Usage: "Pretty-print output"},
				},
				Action: r.ProfileShow,
			},
			{
				Name:   "refresh",
				Usage:  "Rebuild the profile from live provider data",
				Flags:  []cli.Flag{configFlag(), userFlag()},
				Action: r.ProfileRefresh,
			},
		},
	}
}

func synthesizeCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "synthesize",
		Aliases: []string{"mix"},
		Usage:   "Turn a prompt into a cross-provider playlist",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "prompt"},
		},
		Flags: []cli.Flag{
			configFlag(),
			userFlag(),
			&cli.StringFlag{
				Name:  "conversation",
				Usage: "Conversation ID to continue; omit to start fresh",
			},
			&cli.BoolFlag{Name: "json", Usage: "Output raw JSON"},
			&cli.BoolFlag{Name: "pretty", Usage: "Pretty-print output"},
		},
		Action: r.Synthesize,
	}
}

func playlistCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "playlist",
		Usage: "Inspect and export synthesized playlists",
		Commands: []*cli.Command{
			{
				Name:  "show",
				Usage: "Print a playlist",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
				},
				Flags: []cli.Flag{
					configFlag(),
					&cli.BoolFlag{Name: "json", Usage: "Output metadata JSON"},
				},
				Action: r.PlaylistShow,
			},
			{
				Name:  "export",
				Usage: "Create the playlist in a provider's catalog",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
					&cli.StringArg{Name: "provider"},
				},
				Flags:  []cli.Flag{configFlag()},
				Action: r.PlaylistExport,
			},
			{
				Name:  "save",
				Usage: "Write a playlist to local files",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
				},
				Flags: []cli.Flag{
					configFlag(),
					&cli.StringFlag{
						Name:  "format",
						Usage: "Output format (csv or markdown)",
						Value: "csv",
					},
					&cli.StringFlag{
						Name:  "output",
						Usage: "Base path or directory for the files",
					},
				},
				Action: r.PlaylistSave,
			},
		},
	}
}
