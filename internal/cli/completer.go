package cli

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/c-bata/go-prompt"
	ftp "github.com/ftpdesk/ftpdesk"
)

// argKind tells the completer what a command's arguments name.
type argKind int

const (
	argNone argKind = iota
	argRemote
	argRemoteDir
	argLocal
	argTransfer
)

type shellCommand struct {
	name string
	desc string
	args argKind
}

var shellCommands = []shellCommand{
	{"open", "Connect to a server: open <host> [port]", argNone},
	{"user", "Send USER: user <name>", argNone},
	{"pass", "Send PASS: pass [password]", argNone},
	{"login", "USER then PASS: login <name>", argNone},
	{"active", "Negotiate an active (PORT) data channel", argNone},
	{"passive", "Negotiate a passive (PASV) data channel", argNone},
	{"ls", "List a remote directory", argRemoteDir},
	{"cd", "Change the remote directory", argRemoteDir},
	{"pwd", "Print the remote directory", argNone},
	{"mkdir", "Create a remote directory", argNone},
	{"rmdir", "Remove a remote directory", argRemoteDir},
	{"rm", "Delete a remote file or directory", argRemote},
	{"rename", "Rename: rename <from> <to>", argRemote},
	{"get", "Download: get <remote> [local]", argRemote},
	{"put", "Upload: put <local> [remote]", argLocal},
	{"pause", "Pause a transfer: pause <id>", argTransfer},
	{"resume", "Resume a paused transfer: resume <id>", argTransfer},
	{"cancel", "Cancel a transfer: cancel <id>", argTransfer},
	{"transfers", "Show running and paused transfers", argNone},
	{"history", "Show finished transfers", argNone},
	{"status", "Show the session transcript", argNone},
	{"syst", "Show the server system type", argNone},
	{"quote", "Send a raw command: quote <verb> [args...]", argNone},
	{"help", "Show available commands", argNone},
	{"quit", "Close the session and exit", argNone},
}

func lookupCommand(name string) (shellCommand, bool) {
	for _, c := range shellCommands {
		if c.name == name {
			return c, true
		}
	}
	return shellCommand{}, false
}

// Completer suggests shell commands and their arguments. Remote names come
// from the most recent listing.
type Completer struct {
	mu        sync.Mutex
	remote    []*ftp.Entry
	transfers []ftp.TransferInfo
	localDir  string
}

// NewCompleter completes local names relative to localDir.
func NewCompleter(localDir string) *Completer {
	return &Completer{localDir: localDir}
}

// SetRemote replaces the cached remote listing.
func (c *Completer) SetRemote(entries []*ftp.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remote = entries
}

// SetTransfers replaces the cached transfer list.
func (c *Completer) SetTransfers(infos []ftp.TransferInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transfers = infos
}

// lookup finds name in the cached listing.
func (c *Completer) lookup(name string) *ftp.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.remote {
		if e.Name == name {
			return e
		}
	}
	return nil
}

// Complete implements prompt.Completer.
func (c *Completer) Complete(d prompt.Document) []prompt.Suggest {
	return c.suggest(d.TextBeforeCursor())
}

func (c *Completer) suggest(text string) []prompt.Suggest {
	words := strings.Fields(text)
	if len(words) == 0 || (len(words) == 1 && !strings.HasSuffix(text, " ")) {
		var prefix string
		if len(words) == 1 {
			prefix = words[0]
		}
		return prompt.FilterHasPrefix(commandSuggestions(), prefix, true)
	}

	cmd, ok := lookupCommand(strings.ToLower(words[0]))
	if !ok {
		return nil
	}

	var prefix string
	if !strings.HasSuffix(text, " ") {
		prefix = words[len(words)-1]
	}

	switch cmd.args {
	case argRemote:
		return prompt.FilterHasPrefix(c.remoteSuggestions(false), prefix, false)
	case argRemoteDir:
		return prompt.FilterHasPrefix(c.remoteSuggestions(true), prefix, false)
	case argLocal:
		return prompt.FilterHasPrefix(c.localSuggestions(prefix), prefix, false)
	case argTransfer:
		return prompt.FilterHasPrefix(c.transferSuggestions(), prefix, true)
	}
	return nil
}

func commandSuggestions() []prompt.Suggest {
	out := make([]prompt.Suggest, 0, len(shellCommands))
	for _, c := range shellCommands {
		out = append(out, prompt.Suggest{Text: c.name, Description: c.desc})
	}
	return out
}

func (c *Completer) remoteSuggestions(foldersOnly bool) []prompt.Suggest {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []prompt.Suggest
	for _, e := range c.remote {
		if foldersOnly && !e.IsFolder() {
			continue
		}
		desc := formatSize(e.Size)
		if e.IsFolder() {
			desc = "directory"
		}
		out = append(out, prompt.Suggest{Text: e.Name, Description: desc})
	}
	return out
}

func (c *Completer) transferSuggestions() []prompt.Suggest {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]prompt.Suggest, 0, len(c.transfers))
	for _, t := range c.transfers {
		out = append(out, prompt.Suggest{
			Text:        t.ID,
			Description: t.Status.String() + " " + t.Direction.String() + " " + t.Remote,
		})
	}
	return out
}

// localSuggestions lists the local directory the typed prefix points into.
func (c *Completer) localSuggestions(prefix string) []prompt.Suggest {
	dir, _ := filepath.Split(prefix)
	base := dir
	if !filepath.IsAbs(base) {
		base = filepath.Join(c.localDir, base)
	}

	entries, err := os.ReadDir(base)
	if err != nil {
		return nil
	}

	var out []prompt.Suggest
	for _, e := range entries {
		name := dir + e.Name()
		desc := "file"
		if e.IsDir() {
			name += string(filepath.Separator)
			desc = "directory"
		}
		out = append(out, prompt.Suggest{Text: name, Description: desc})
	}
	return out
}
