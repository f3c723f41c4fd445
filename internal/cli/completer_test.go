package cli

import (
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/c-bata/go-prompt"
	ftp "github.com/ftpdesk/ftpdesk"
)

func texts(suggestions []prompt.Suggest) []string {
	out := make([]string, len(suggestions))
	for i, s := range suggestions {
		out[i] = s.Text
	}
	return out
}

func TestCompleter_Commands(t *testing.T) {
	t.Parallel()

	c := NewCompleter(t.TempDir())

	tests := []struct {
		input string
		want  []string
	}{
		{"pa", []string{"pass", "passive", "pause"}},
		{"PW", []string{"pwd"}},
		{"zz", nil},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := texts(c.suggest(tt.input))
			if !slices.Equal(got, tt.want) {
				t.Errorf("suggest(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}

	if got := c.suggest(""); len(got) != len(shellCommands) {
		t.Errorf("suggest(\"\") returned %d commands, want %d", len(got), len(shellCommands))
	}
}

func TestCompleter_Remote(t *testing.T) {
	t.Parallel()

	c := NewCompleter(t.TempDir())
	c.SetRemote([]*ftp.Entry{
		{Name: "pub", Type: ftp.Folder},
		{Name: "readme.txt", Size: 10},
		{Name: "release.tar", Size: 20},
	})

	tests := []struct {
		input string
		want  []string
	}{
		{"get re", []string{"readme.txt", "release.tar"}},
		{"get rel", []string{"release.tar"}},
		{"cd ", []string{"pub"}},
		{"rm p", []string{"pub"}},
		{"pwd ", nil},
		{"bogus x", nil},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := texts(c.suggest(tt.input))
			if !slices.Equal(got, tt.want) {
				t.Errorf("suggest(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}

	if e := c.lookup("pub"); e == nil || !e.IsFolder() {
		t.Errorf("lookup(pub) = %v", e)
	}
	if e := c.lookup("missing"); e != nil {
		t.Errorf("lookup(missing) = %v, want nil", e)
	}
}

func TestCompleter_Local(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "nested"), 0o755); err != nil {
		t.Fatal(err)
	}

	c := NewCompleter(dir)
	got := texts(c.suggest("put no"))
	if !slices.Equal(got, []string{"notes.txt"}) {
		t.Errorf("suggest(put no) = %v", got)
	}

	got = texts(c.suggest("put ne"))
	want := "nested" + string(filepath.Separator)
	if !slices.Equal(got, []string{want}) {
		t.Errorf("suggest(put ne) = %v, want [%s]", got, want)
	}
}

func TestCompleter_Transfers(t *testing.T) {
	t.Parallel()

	c := NewCompleter(t.TempDir())
	c.SetTransfers([]ftp.TransferInfo{
		{ID: "cv0abc", Status: ftp.Paused},
		{ID: "cv1def", Status: ftp.Running},
	})

	got := texts(c.suggest("resume cv0"))
	if !slices.Equal(got, []string{"cv0abc"}) {
		t.Errorf("suggest(resume cv0) = %v", got)
	}
}
