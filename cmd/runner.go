package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/crossfade-fm/crossfade/internal/gateway"
	"github.com/crossfade-fm/crossfade/internal/intent"
	"github.com/crossfade-fm/crossfade/internal/profile"
	"github.com/crossfade-fm/crossfade/internal/repositories"
	"github.com/crossfade-fm/crossfade/internal/services"
	"github.com/crossfade-fm/crossfade/internal/session"
	"github.com/crossfade-fm/crossfade/internal/shared"
	"github.com/crossfade-fm/crossfade/internal/tasks"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	configPath string
	config     *shared.Config
	logger     *log.Logger
	output     io.Writer
	stack      *stack // injected in tests, built lazily otherwise
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	ConfigPath string
	Config     *shared.Config
	Logger     *log.Logger
	Output     io.Writer
	Stack      *stack
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	return &Runner{
		configPath: opts.ConfigPath,
		config:     opts.Config,
		logger:     opts.Logger,
		output:     opts.Output,
		stack:      opts.Stack,
	}
}

// stack is the wired application: database, gateway, and the synthesis
// pipeline around it.
type stack struct {
	db        *sql.DB
	gw        *gateway.Gateway
	analyzer  *profile.Analyzer
	parser    *intent.Parser
	engine    *tasks.MixEngine
	ledger    *session.Ledger
	playlists *repositories.PlaylistRepository
}

func (s *stack) Close() {
	if s.db != nil {
		s.db.Close()
	}
}

// loadConfig resolves the effective configuration: an injected config wins,
// then the --config path, then defaults.
func (r *Runner) loadConfig(cmd *cli.Command) *shared.Config {
	if r.config != nil {
		return r.config
	}

	path := r.configPath
	if cmd != nil && cmd.String("config") != "" {
		path = cmd.String("config")
	}
	if path == "" {
		path = "config.toml"
	}

	if _, err := os.Stat(path); err == nil {
		if config, err := shared.LoadConfig(path); err == nil {
			r.config = config
			return config
		} else {
			r.logger.Warn("failed to load config, using defaults", "path", path, "error", err)
		}
	}

	r.config = shared.DefaultConfig()
	return r.config
}

// buildStack opens the database and wires the full pipeline from config.
// The caller owns the returned stack and must Close it.
func (r *Runner) buildStack(cmd *cli.Command) (*stack, error) {
	if r.stack != nil {
		return r.stack, nil
	}

	config := r.loadConfig(cmd)

	providers, err := buildProviders(config)
	if err != nil {
		return nil, err
	}

	db, err := shared.NewDatabase(config.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	shared.ConfigureDatabase(db, config.Database.MaxOpenConns, config.Database.MaxIdleConns)

	gw := gateway.New(gateway.Opts{
		Providers:   providers,
		Connections: repositories.NewConnectionRepository(db),
		Logger:      r.logger,
		RateLimit:   config.Mixer.ProviderRateLimit,
		CallTimeout: time.Duration(config.Mixer.ProviderTimeoutSeconds) * time.Second,
	})

	analyzer := profile.NewAnalyzer(gw, repositories.NewProfileRepository(db), r.logger)
	parser := intent.NewParser(services.NewModelService(config.Model), r.logger, config.Mixer.MaxQueries)
	engine := tasks.NewMixEngine(gw, config.Mixer, r.logger)
	playlists := repositories.NewPlaylistRepository(db)

	ledger := session.NewLedger(session.Opts{
		Gateway:       gw,
		Analyzer:      analyzer,
		Parser:        parser,
		Engine:        engine,
		Conversations: repositories.NewConversationRepository(db),
		Messages:      repositories.NewMessageRepository(db),
		Playlists:     playlists,
		Logger:        r.logger,
	})

	return &stack{
		db:        db,
		gw:        gw,
		analyzer:  analyzer,
		parser:    parser,
		engine:    engine,
		ledger:    ledger,
		playlists: playlists,
	}, nil
}

// buildProviders constructs a catalog client for every provider with
// credentials in the config. At least one must be configured.
func buildProviders(config *shared.Config) ([]services.Provider, error) {
	var providers []services.Provider

	if config.Credentials.Spotify.ClientID != "" && config.Credentials.Spotify.ClientSecret != "" {
		spotify, err := services.NewSpotifyService(config.Credentials.Spotify)
		if err != nil {
			return nil, fmt.Errorf("failed to create spotify client: %w", err)
		}
		providers = append(providers, spotify)
	}

	if config.Credentials.YouTube.ClientID != "" && config.Credentials.YouTube.ClientSecret != "" {
		youtube, err := services.NewYouTubeService(config.Credentials.YouTube)
		if err != nil {
			return nil, fmt.Errorf("failed to create youtube client: %w", err)
		}
		providers = append(providers, youtube)
	}

	if len(providers) == 0 {
		return nil, fmt.Errorf("%w: no provider credentials configured", shared.ErrMissingCredentials)
	}

	return providers, nil
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, serveCommand, authCommand, profileCommand, synthesizeCommand, playlistCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
