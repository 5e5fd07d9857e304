package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

const configFilePath = "./configs/config.yaml"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("Command failed")
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "video-rag",
		Usage: "Ingest videos into searchable transcripts and chat about them",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML configuration file",
				Value:   configFilePath,
				EnvVars: []string{"VIDEORAG_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Override the configured log level (debug, info, warn, error)",
			},
		},
		Before: setup,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API and the ingestion workers",
				Action: serveCommand,
			},
			{
				Name:   "migrate",
				Usage:  "Apply database migrations",
				Action: migrateCommand,
			},
			{
				Name:      "ingest",
				Usage:     "Ingest one video synchronously and print the result",
				ArgsUsage: " ",
				Action:    ingestCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "file",
						Aliases: []string{"f"},
						Usage:   "Path to a local video file",
					},
					&cli.StringFlag{
						Name:    "url",
						Aliases: []string{"u"},
						Usage:   "URL of a remote video",
					},
					&cli.Int64Flag{
						Name:  "user",
						Usage: "Owner user id; the video is public when unset",
					},
					&cli.BoolFlag{
						Name:  "dry-run",
						Usage: "Run every stage but do not save to the database",
					},
				},
			},
			{
				Name:      "embed",
				Usage:     "Store a standalone embedding for the given text",
				ArgsUsage: "<text>",
				Action:    embedCommand,
			},
			{
				Name:      "search",
				Usage:     "Search the chunks of one video",
				ArgsUsage: "<query>",
				Action:    searchCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "video",
						Aliases:  []string{"v"},
						Usage:    "Video id",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of chunks returned",
					},
					&cli.BoolFlag{
						Name:  "ask",
						Usage: "Answer the query with the language model instead of listing chunks",
					},
				},
			},
			{
				Name:  "video",
				Usage: "Inspect or remove stored videos",
				Subcommands: []*cli.Command{
					{
						Name:      "get",
						Usage:     "Print a video and its chunks",
						ArgsUsage: "<id>",
						Action:    videoGetCommand,
					},
					{
						Name:      "delete",
						Usage:     "Delete a video and its chunks",
						ArgsUsage: "<id>",
						Action:    videoDeleteCommand,
					},
				},
			},
		},
	}
}
