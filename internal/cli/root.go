// Package cli implements the ftpdesk command line: one-shot ls, get and put
// commands and an interactive shell over a single FTP session.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	ftp "github.com/ftpdesk/ftpdesk"
	"github.com/ftpdesk/ftpdesk/internal/config"
	"github.com/spf13/cobra"
)

const anonymousPassword = "guest@"

// app carries what every command needs.
type app struct {
	cfg        *config.Config
	configPath string
	noColor    bool

	// flag values, applied over cfg when set on the command line
	host     string
	port     string
	user     string
	password string
	active   bool
	timeout  time.Duration
	localDir string
	limit    int64
	logLevel string

	in     *os.File
	out    io.Writer
	errOut io.Writer
	theme  *Theme
	logger *slog.Logger
}

// NewRootCommand builds the ftpdesk command tree.
func NewRootCommand() *cobra.Command {
	a := &app{in: os.Stdin, out: os.Stdout, errOut: os.Stderr}

	root := &cobra.Command{
		Use:   "ftpdesk",
		Short: "Interactive FTP client",
		Long: `ftpdesk is an FTP client with active and passive data channels,
resumable transfers and an interactive shell.

Configuration is read from --config (TOML), then a .env file, then
FTPDESK_* environment variables; flags override all of them.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "TOML configuration file")
	flags.StringVarP(&a.host, "host", "H", "", "server IPv4 address or host name")
	flags.StringVarP(&a.port, "port", "p", "", "server port")
	flags.StringVarP(&a.user, "user", "u", "", "user name")
	flags.StringVar(&a.password, "password", "", "password (prompted when empty)")
	flags.BoolVar(&a.active, "active", false, "use active (PORT) data channels")
	flags.DurationVar(&a.timeout, "timeout", 0, "connect, reply and data timeout")
	flags.StringVarP(&a.localDir, "local-dir", "l", "", "directory for local files")
	flags.Int64Var(&a.limit, "limit", 0, "bandwidth limit in bytes per second")
	flags.StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error")
	flags.BoolVar(&a.noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		newLsCommand(a),
		newGetCommand(a),
		newPutCommand(a),
		newShellCommand(a),
	)
	return root
}

// Execute runs the command tree until ctx is done.
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Host = a.host
	}
	if flags.Changed("port") {
		cfg.Port = a.port
	}
	if flags.Changed("user") {
		cfg.User = a.user
	}
	if flags.Changed("password") {
		cfg.Password = a.password
	}
	if flags.Changed("active") {
		cfg.Mode = config.ModePassive
		if a.active {
			cfg.Mode = config.ModeActive
		}
	}
	if flags.Changed("timeout") {
		cfg.Timeout = config.Duration{Duration: a.timeout}
	}
	if flags.Changed("local-dir") {
		cfg.LocalDir = a.localDir
	}
	if flags.Changed("limit") {
		cfg.BandwidthLimit = a.limit
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = a.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	a.cfg = cfg
	a.theme = NewTheme(a.out, a.noColor)
	a.logger = slog.New(slog.NewTextHandler(a.errOut, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	return nil
}

// options translates the configuration into session options.
func (a *app) options(extra ...ftp.Option) []ftp.Option {
	opts := []ftp.Option{
		ftp.WithTimeout(a.cfg.Timeout.Duration),
		ftp.WithIdleTimeout(a.cfg.IdleTimeout.Duration),
		ftp.WithLogger(a.logger),
		ftp.WithLocalDir(a.cfg.LocalDir),
		ftp.WithBandwidthLimit(a.cfg.BandwidthLimit),
		ftp.WithTranscript(a.theme.Status),
	}
	if a.cfg.Active() {
		opts = append(opts, ftp.WithActiveMode())
	}
	return append(opts, extra...)
}

// connect opens a logged-in session to the configured server.
func (a *app) connect(extra ...ftp.Option) (*ftp.Session, error) {
	if a.cfg.Host == "" {
		return nil, fmt.Errorf("no server given: use --host or FTPDESK_HOST")
	}

	s, err := ftp.New(a.options(extra...)...)
	if err != nil {
		return nil, err
	}
	if _, err := s.Connect(a.resolveHost(a.cfg.Host), a.cfg.Port); err != nil {
		return nil, err
	}

	password, err := a.passwordFor(a.cfg.User)
	if err != nil {
		s.Quit()
		return nil, err
	}
	if err := s.Login(a.cfg.User, password); err != nil {
		s.Quit()
		return nil, err
	}
	return s, nil
}

func (a *app) passwordFor(user string) (string, error) {
	if a.cfg.Password != "" {
		return a.cfg.Password, nil
	}
	if user == "anonymous" || user == "ftp" {
		return anonymousPassword, nil
	}
	return readPassword(a.in, a.out, "Password: ")
}

// negotiate opens a data channel in the configured mode.
func (a *app) negotiate(s *ftp.Session) error {
	if a.cfg.Active() {
		_, err := s.SetActiveMode()
		return err
	}
	_, err := s.SetPassiveMode()
	return err
}

// resolveHost turns a host name into its first IPv4 address. Literals and
// names that do not resolve are returned as given for the session to reject.
func (a *app) resolveHost(host string) string {
	if host == "" || net.ParseIP(host) != nil {
		return host
	}

	timeout := a.cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ips, err := net.DefaultResolver.LookupIP(ctx, "ip4", host)
	if err != nil || len(ips) == 0 {
		a.logger.Warn("cannot resolve host", "host", host, "error", err)
		return host
	}
	return ips[0].String()
}
