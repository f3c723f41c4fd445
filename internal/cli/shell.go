package cli

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/c-bata/go-prompt"
	ftp "github.com/ftpdesk/ftpdesk"
	"github.com/spf13/cobra"
)

var errQuit = errors.New("quit")

func newShellCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start an interactive session",
		Long: `Start an interactive session. When a host is configured the shell
connects and logs in first; otherwise use "open".

Transfers started with get and put run in the background and can be
paused, resumed and canceled by id.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sh := newShell(a)
			defer sh.close()

			if a.cfg.Host != "" {
				if err := sh.open(a.cfg.Host, a.cfg.Port); err != nil {
					a.theme.Error(err)
				} else if err := sh.login(a.cfg.User); err != nil {
					a.theme.Error(err)
				}
			}

			a.theme.Heading("ftpdesk interactive shell. Type \"help\" for commands.")
			sh.run()
			return nil
		},
	}
}

// shell runs commands typed at the prompt against one session.
type shell struct {
	app       *app
	session   *ftp.Session
	completer *Completer
	handlers  map[string]func(args []string) error
}

func newShell(a *app) *shell {
	sh := &shell{
		app:       a,
		completer: NewCompleter(a.cfg.LocalDir),
	}
	sh.handlers = map[string]func([]string) error{
		"open":      sh.cmdOpen,
		"user":      sh.cmdUser,
		"pass":      sh.cmdPass,
		"login":     sh.cmdLogin,
		"active":    sh.cmdActive,
		"passive":   sh.cmdPassive,
		"ls":        sh.cmdList,
		"cd":        sh.cmdCd,
		"pwd":       sh.cmdPwd,
		"mkdir":     sh.cmdMkdir,
		"rmdir":     sh.cmdRmdir,
		"rm":        sh.cmdRm,
		"rename":    sh.cmdRename,
		"get":       sh.cmdGet,
		"put":       sh.cmdPut,
		"pause":     sh.cmdPause,
		"resume":    sh.cmdResume,
		"cancel":    sh.cmdCancel,
		"transfers": sh.cmdTransfers,
		"history":   sh.cmdHistory,
		"status":    sh.cmdStatus,
		"syst":      sh.cmdSyst,
		"quote":     sh.cmdQuote,
		"help":      sh.cmdHelp,
		"quit":      sh.cmdQuit,
		"exit":      sh.cmdQuit,
	}
	return sh
}

func (sh *shell) run() {
	quit := false
	p := prompt.New(
		func(line string) {
			if err := sh.execute(line); errors.Is(err, errQuit) {
				quit = true
			} else if err != nil {
				sh.app.theme.Error(err)
			}
		},
		sh.completer.Complete,
		prompt.OptionTitle("ftpdesk"),
		prompt.OptionLivePrefix(sh.prefix),
		prompt.OptionPrefixTextColor(prompt.Green),
		prompt.OptionCompletionWordSeparator(" "),
		prompt.OptionSetExitCheckerOnInput(func(string, bool) bool {
			return quit
		}),
	)
	p.Run()
}

func (sh *shell) prefix() (string, bool) {
	if sh.session == nil || sh.session.State() == ftp.StateDisconnected {
		return "ftp> ", true
	}
	return fmt.Sprintf("ftp [%s]> ", sh.session.State()), true
}

// execute runs one input line. It returns errQuit for quit and exit.
func (sh *shell) execute(line string) error {
	words := strings.Fields(line)
	if len(words) == 0 {
		return nil
	}

	name := strings.ToLower(words[0])
	handler, ok := sh.handlers[name]
	if !ok {
		return fmt.Errorf("unknown command %q, type help", words[0])
	}
	return handler(words[1:])
}

func (sh *shell) close() {
	if sh.session != nil {
		sh.session.Quit()
	}
}

func (sh *shell) requireSession() (*ftp.Session, error) {
	if sh.session == nil {
		return nil, ftp.ErrNotConnected
	}
	return sh.session, nil
}

func (sh *shell) open(host, port string) error {
	if sh.session != nil && sh.session.State() != ftp.StateDisconnected {
		return ftp.ErrAlreadyConnected
	}

	s, err := ftp.New(sh.app.options(ftp.WithProgress(sh.progress))...)
	if err != nil {
		return err
	}
	sh.session = s
	_, err = s.Connect(sh.app.resolveHost(host), port)
	return err
}

func (sh *shell) login(user string) error {
	s, err := sh.requireSession()
	if err != nil {
		return err
	}
	password, err := sh.app.passwordFor(user)
	if err != nil {
		return err
	}
	return s.Login(user, password)
}

// progress keeps transfer ids available to the completer.
func (sh *shell) progress(ftp.TransferInfo) {
	if sh.session != nil {
		sh.completer.SetTransfers(sh.session.Transfers())
	}
}

func usage(name string) error {
	c, _ := lookupCommand(name)
	return fmt.Errorf("usage: %s", c.desc)
}

func (sh *shell) cmdOpen(args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return usage("open")
	}
	port := sh.app.cfg.Port
	if len(args) == 2 {
		port = args[1]
	}
	return sh.open(args[0], port)
}

func (sh *shell) cmdUser(args []string) error {
	if len(args) != 1 {
		return usage("user")
	}
	s, err := sh.requireSession()
	if err != nil {
		return err
	}
	_, err = s.AuthenticateUser(args[0])
	return err
}

func (sh *shell) cmdPass(args []string) error {
	s, err := sh.requireSession()
	if err != nil {
		return err
	}
	var password string
	if len(args) > 0 {
		password = strings.Join(args, " ")
	} else if password, err = readPassword(sh.app.in, sh.app.out, "Password: "); err != nil {
		return err
	}
	_, err = s.AuthenticatePassword(password)
	return err
}

func (sh *shell) cmdLogin(args []string) error {
	user := sh.app.cfg.User
	if len(args) == 1 {
		user = args[0]
	}
	return sh.login(user)
}

func (sh *shell) cmdActive([]string) error {
	s, err := sh.requireSession()
	if err != nil {
		return err
	}
	_, err = s.SetActiveMode()
	return err
}

func (sh *shell) cmdPassive([]string) error {
	s, err := sh.requireSession()
	if err != nil {
		return err
	}
	_, err = s.SetPassiveMode()
	return err
}

// cmdList lists over the channel negotiated with active or passive. When
// none is pending it negotiates one in the configured mode first.
func (sh *shell) cmdList(args []string) error {
	s, err := sh.requireSession()
	if err != nil {
		return err
	}
	if st := s.State(); st != ftp.StateActive && st != ftp.StatePassive {
		if err := sh.app.negotiate(s); err != nil {
			return err
		}
	}

	var dir string
	if len(args) > 0 {
		dir = args[0]
	}
	entries, err := s.ListEntries(dir)
	if err != nil {
		return err
	}
	if dir == "" {
		sh.completer.SetRemote(entries)
	}
	return RenderEntries(sh.app.out, entries)
}

func (sh *shell) cmdCd(args []string) error {
	if len(args) != 1 {
		return usage("cd")
	}
	s, err := sh.requireSession()
	if err != nil {
		return err
	}
	if _, err := s.ChangeDirectory(args[0]); err != nil {
		return err
	}
	sh.completer.SetRemote(nil)
	return nil
}

func (sh *shell) cmdPwd([]string) error {
	s, err := sh.requireSession()
	if err != nil {
		return err
	}
	_, _, err = s.PrintWorkingDirectory()
	return err
}

func (sh *shell) cmdMkdir(args []string) error {
	if len(args) != 1 {
		return usage("mkdir")
	}
	s, err := sh.requireSession()
	if err != nil {
		return err
	}
	_, err = s.MakeDirectory(args[0])
	return err
}

func (sh *shell) cmdRmdir(args []string) error {
	if len(args) != 1 {
		return usage("rmdir")
	}
	s, err := sh.requireSession()
	if err != nil {
		return err
	}
	_, err = s.RemoveDirectory(args[0])
	return err
}

// cmdRm deletes a file, or a folder when the last listing says it is one.
func (sh *shell) cmdRm(args []string) error {
	if len(args) != 1 {
		return usage("rm")
	}
	s, err := sh.requireSession()
	if err != nil {
		return err
	}
	if entry := sh.completer.lookup(args[0]); entry != nil {
		_, err = s.DeleteEntry(entry)
		return err
	}
	_, err = s.DeleteFile(args[0])
	return err
}

func (sh *shell) cmdRename(args []string) error {
	if len(args) != 2 {
		return usage("rename")
	}
	s, err := sh.requireSession()
	if err != nil {
		return err
	}
	_, err = s.Rename(args[0], args[1])
	return err
}

func (sh *shell) cmdGet(args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return usage("get")
	}
	s, err := sh.requireSession()
	if err != nil {
		return err
	}

	remote, local := args[0], path.Base(args[0])
	if len(args) == 2 {
		local = args[1]
	}
	size := int64(-1)
	if entry := sh.completer.lookup(remote); entry != nil {
		size = entry.Size
	}

	info, err := s.Download(remote, local, size, false)
	if err != nil {
		return err
	}
	sh.app.theme.Heading("started %s %s", info.Direction, info.ID)
	sh.completer.SetTransfers(s.Transfers())
	return nil
}

func (sh *shell) cmdPut(args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return usage("put")
	}
	s, err := sh.requireSession()
	if err != nil {
		return err
	}

	local, remote := args[0], filepath.Base(args[0])
	if len(args) == 2 {
		remote = args[1]
	}
	info, err := s.Upload(local, remote, false)
	if err != nil {
		return err
	}
	sh.app.theme.Heading("started %s %s", info.Direction, info.ID)
	sh.completer.SetTransfers(s.Transfers())
	return nil
}

func (sh *shell) transferCommand(name string, args []string, fn func(s *ftp.Session, id string) error) error {
	if len(args) != 1 {
		return usage(name)
	}
	s, err := sh.requireSession()
	if err != nil {
		return err
	}
	if err := fn(s, args[0]); err != nil {
		return err
	}
	sh.completer.SetTransfers(s.Transfers())
	return nil
}

func (sh *shell) cmdPause(args []string) error {
	return sh.transferCommand("pause", args, (*ftp.Session).Pause)
}

func (sh *shell) cmdResume(args []string) error {
	return sh.transferCommand("resume", args, func(s *ftp.Session, id string) error {
		_, err := s.Resume(id)
		return err
	})
}

func (sh *shell) cmdCancel(args []string) error {
	return sh.transferCommand("cancel", args, (*ftp.Session).Cancel)
}

func (sh *shell) cmdTransfers([]string) error {
	s, err := sh.requireSession()
	if err != nil {
		return err
	}
	return RenderTransfers(sh.app.out, s.Transfers())
}

func (sh *shell) cmdHistory([]string) error {
	s, err := sh.requireSession()
	if err != nil {
		return err
	}
	return RenderTransfers(sh.app.out, s.History())
}

func (sh *shell) cmdStatus([]string) error {
	s, err := sh.requireSession()
	if err != nil {
		return err
	}
	for _, line := range s.Transcript() {
		fmt.Fprintln(sh.app.out, line.String())
	}
	return nil
}

func (sh *shell) cmdSyst([]string) error {
	s, err := sh.requireSession()
	if err != nil {
		return err
	}
	_, _, err = s.System()
	return err
}

func (sh *shell) cmdQuote(args []string) error {
	if len(args) < 1 {
		return usage("quote")
	}
	s, err := sh.requireSession()
	if err != nil {
		return err
	}
	_, err = s.Quote(args[0], args[1:]...)
	return err
}

func (sh *shell) cmdHelp([]string) error {
	table := newTable(sh.app.out, "Command", "Description")
	for _, c := range shellCommands {
		if err := table.Append([]string{c.name, c.desc}); err != nil {
			return err
		}
	}
	return table.Render()
}

func (sh *shell) cmdQuit([]string) error {
	if sh.session != nil {
		sh.session.Quit()
		sh.session = nil
	}
	return errQuit
}
