package ftp

import (
	"bufio"
	"errors"
	"slices"
	"strings"
	"testing"
)

func TestReadResponse_SingleLine(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		input    string
		wantCode string
		wantMsg  string
	}{
		{
			name:     "simple success",
			input:    "220 Welcome\r\n",
			wantCode: "220",
			wantMsg:  "Welcome",
		},
		{
			name:     "error response",
			input:    "550 File not found\r\n",
			wantCode: "550",
			wantMsg:  "File not found",
		},
		{
			name:     "code with no message",
			input:    "200 \r\n",
			wantCode: "200",
			wantMsg:  "",
		},
		{
			name:     "bare LF",
			input:    "226 Done\n",
			wantCode: "226",
			wantMsg:  "Done",
		},
		{
			name:     "non-numeric code is taken as-is",
			input:    "ABC hello\r\n",
			wantCode: "ABC",
			wantMsg:  "hello",
		},
		{
			name:     "short line",
			input:    "22\r\n",
			wantCode: "22",
			wantMsg:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := readResponse(bufio.NewReader(strings.NewReader(tt.input)))
			if err != nil {
				t.Fatalf("readResponse() error = %v", err)
			}
			if resp.Code != tt.wantCode {
				t.Errorf("readResponse() code = %q, want %q", resp.Code, tt.wantCode)
			}
			if resp.Message != tt.wantMsg {
				t.Errorf("readResponse() message = %q, want %q", resp.Message, tt.wantMsg)
			}
			if len(resp.Lines) != 1 {
				t.Errorf("readResponse() lines = %d, want 1", len(resp.Lines))
			}
		})
	}
}

func TestReadResponse_MultiLine(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		input     string
		wantCode  string
		wantMsg   string
		wantLines int
	}{
		{
			name: "multi-line response",
			input: "220-Welcome to FTP\r\n" +
				"220-This is line 2\r\n" +
				"220 Ready\r\n",
			wantCode:  "220",
			wantMsg:   "Welcome to FTP\nThis is line 2\nReady",
			wantLines: 3,
		},
		{
			name: "inner lines without code",
			input: "211-Features:\r\n" +
				" UTF8\r\n" +
				" SIZE\r\n" +
				"211 End\r\n",
			wantCode:  "211",
			wantMsg:   "Features:\n UTF8\n SIZE\nEnd",
			wantLines: 4,
		},
		{
			name: "other codes inside the block",
			input: "230-Welcome\r\n" +
				"331 is not a terminator here\r\n" +
				"220-nor is this\r\n" +
				"230 Logged in\r\n",
			wantCode:  "230",
			wantMsg:   "Welcome\n331 is not a terminator here\n220-nor is this\nLogged in",
			wantLines: 4,
		},
		{
			name: "terminator with bare code",
			input: "250-First\r\n" +
				"250\r\n",
			wantCode:  "250",
			wantMsg:   "First\n",
			wantLines: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := bufio.NewReader(strings.NewReader(tt.input + "200 next\r\n"))
			resp, err := readResponse(r)
			if err != nil {
				t.Fatalf("readResponse() error = %v", err)
			}
			if resp.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", resp.Code, tt.wantCode)
			}
			if resp.Message != tt.wantMsg {
				t.Errorf("message = %q, want %q", resp.Message, tt.wantMsg)
			}
			if len(resp.Lines) != tt.wantLines {
				t.Errorf("lines = %d, want %d", len(resp.Lines), tt.wantLines)
			}

			// The reader must stop exactly at the end of the reply.
			next, err := readResponse(r)
			if err != nil || next.Code != "200" {
				t.Errorf("following reply = %v, %v; want 200", next, err)
			}
		})
	}
}

func TestReadResponse_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		input string
	}{
		{"empty input", ""},
		{"unterminated block", "220-Welcome\r\n220-still going\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := readResponse(bufio.NewReader(strings.NewReader(tt.input)))
			if !errors.Is(err, ErrConnectionClosed) {
				t.Errorf("readResponse() error = %v, want ErrConnectionClosed", err)
			}
		})
	}
}

func TestReadResponse_LineLength(t *testing.T) {
	t.Parallel()

	// "220 " plus the text plus CRLF fills the limit exactly.
	longest := strings.Repeat("x", maxLineLength-6)
	resp, err := readResponse(bufio.NewReader(strings.NewReader("220 " + longest + "\r\n")))
	if err != nil || resp.Message != longest {
		t.Fatalf("readResponse() at the limit = %v, %v", resp, err)
	}

	tests := []struct {
		name  string
		input string
	}{
		{"single line", "220 " + strings.Repeat("x", maxLineLength) + "\r\n"},
		{"no terminator", "220 " + strings.Repeat("x", 4*maxLineLength)},
		{"inside a block", "220-Welcome\r\n" + strings.Repeat("y", maxLineLength+1) + "\r\n220 Ready\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := readResponse(bufio.NewReader(strings.NewReader(tt.input)))
			if !errors.Is(err, ErrConnectionClosed) {
				t.Errorf("readResponse() error = %v, want ErrConnectionClosed", err)
			}
		})
	}
}

func TestResponse_Classes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		code     string
		negative bool
		number   int
	}{
		{"150", false, 150},
		{"226", false, 226},
		{"350", false, 350},
		{"425", true, 425},
		{"550", true, 550},
		{"5x0", true, 0},
	}

	for _, tt := range tests {
		resp := &Response{Code: tt.code}
		if resp.IsNegative() != tt.negative {
			t.Errorf("%s: IsNegative() = %v, want %v", tt.code, resp.IsNegative(), tt.negative)
		}
		if resp.Number() != tt.number {
			t.Errorf("%s: Number() = %d, want %d", tt.code, resp.Number(), tt.number)
		}
	}
}

func TestFormatCommand(t *testing.T) {
	t.Parallel()
	tests := []struct {
		verb string
		args []string
		want string
	}{
		{"PWD", nil, "PWD"},
		{"CWD", []string{"pub"}, "CWD pub"},
		{"LIST", []string{""}, "LIST"},
		{"SITE", []string{"CHMOD", "755", "f"}, "SITE CHMOD 755 f"},
	}

	for _, tt := range tests {
		if got := formatCommand(tt.verb, tt.args...); got != tt.want {
			t.Errorf("formatCommand(%q, %q) = %q, want %q", tt.verb, tt.args, got, tt.want)
		}
	}
}

func TestCommandLabel_MasksPassword(t *testing.T) {
	t.Parallel()
	if got := commandLabel("PASS", "secret"); got != "PASS" {
		t.Errorf("commandLabel(PASS) = %q", got)
	}
	if got := commandLabel("USER", "alice"); got != "USER alice" {
		t.Errorf("commandLabel(USER) = %q", got)
	}
}

func FuzzReadResponse(f *testing.F) {
	f.Add("220 Welcome\r\n")
	f.Add("220-a\r\n b\r\n220 c\r\n")
	f.Add("230-x\r\n331 y\r\n230 z\r\n")
	f.Add("22\r\n")

	f.Fuzz(func(t *testing.T, input string) {
		resp, err := readResponse(bufio.NewReader(strings.NewReader(input)))
		if err != nil {
			return
		}
		if len(resp.Lines) == 0 {
			t.Fatal("reply without lines")
		}
		if len(resp.Lines) > 1 && !closesBlock(resp.Lines[len(resp.Lines)-1], resp.Code) {
			t.Fatalf("block %q not closed by its last line", resp.Lines)
		}
		if slices.ContainsFunc(resp.Lines[1:max(1, len(resp.Lines)-1)], func(l string) bool {
			return closesBlock(l, resp.Code)
		}) {
			t.Fatalf("block %q closed early", resp.Lines)
		}
	})
}
