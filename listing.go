package ftp

import (
	"log/slog"
	"strconv"
	"strings"
)

// EntryType distinguishes files from folders in a listing.
type EntryType int

const (
	File EntryType = iota
	Folder
)

func (t EntryType) String() string {
	if t == Folder {
		return "folder"
	}
	return "file"
}

// Entry represents one line of a directory listing.
type Entry struct {
	Name         string
	Size         int64
	Type         EntryType
	LastModified string
	// Mode is the raw permission string, e.g. "drwxr-xr-x".
	Mode  string
	Owner string
	// Raw is the listing line the entry was parsed from.
	Raw string
}

// IsFolder reports whether the entry is a directory.
func (e *Entry) IsFolder() bool {
	return e.Type == Folder
}

// ListingParser parses one LIST line. ok is false when the line is not in
// the parser's format.
type ListingParser interface {
	Parse(line string) (entry *Entry, ok bool)
}

// UnixParser parses "ls -l" style lines:
//
//	-rw-r--r--  1 alice staff  1234 Jan  1 00:00 report.txt
//
// Field 0 is the mode, field 2 the owner, field 4 the size, fields 5-7 the
// modification time and field 8 the name. Names containing spaces keep only
// their first word.
type UnixParser struct{}

func (p *UnixParser) Parse(line string) (*Entry, bool) {
	fields := strings.Fields(line)
	if len(fields) < 9 {
		return nil, false
	}

	mode := fields[0]
	if !strings.ContainsRune("-dlbcps", rune(mode[0])) {
		return nil, false
	}

	size, err := strconv.ParseInt(fields[4], 10, 64)
	if err != nil {
		return nil, false
	}

	entry := &Entry{
		Name:         fields[8],
		Size:         size,
		Type:         File,
		LastModified: strings.Join(fields[5:8], " "),
		Mode:         mode,
		Owner:        fields[2],
		Raw:          line,
	}
	if mode[0] == 'd' {
		entry.Type = Folder
	}
	return entry, true
}

// DOSParser parses DOS/Windows-style directory entries.
//
//	12-14-23  12:22PM           1037794 large-document.pdf
//	09-24-24  10:30AM       <DIR>          logger
type DOSParser struct{}

func (p *DOSParser) Parse(line string) (*Entry, bool) {
	fields := strings.Fields(line)
	if len(fields) < 4 || !isDOSDate(fields[0]) {
		return nil, false
	}

	entry := &Entry{
		Name:         strings.Join(fields[3:], " "),
		LastModified: fields[0] + " " + fields[1],
		Raw:          line,
	}

	if fields[2] == "<DIR>" {
		entry.Type = Folder
		return entry, true
	}

	size, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return nil, false
	}
	entry.Type = File
	entry.Size = size
	return entry, true
}

// isDOSDate checks if a string looks like a DOS/Windows date format.
// Common formats: MM-DD-YY, MM-DD-YYYY, MM/DD/YY, MM/DD/YYYY
func isDOSDate(s string) bool {
	sep := "-"
	if !strings.Contains(s, sep) {
		sep = "/"
	}
	parts := strings.Split(s, sep)
	if len(parts) != 3 {
		return false
	}

	for i, part := range parts {
		switch {
		case i < 2 && (len(part) < 1 || len(part) > 2):
			return false
		case i == 2 && len(part) != 2 && len(part) != 4:
			return false
		}
		for _, ch := range part {
			if ch < '0' || ch > '9' {
				return false
			}
		}
	}
	return true
}

func defaultParsers() []ListingParser {
	return []ListingParser{
		&UnixParser{},
		&DOSParser{},
	}
}

// ParseListing turns raw LIST text into entries, in input order. A leading
// "total N" summary line is discarded. Blank lines and lines no parser
// accepts are skipped. Without parsers the Unix and DOS formats are tried.
func ParseListing(text string, parsers ...ListingParser) []*Entry {
	return parseListing(text, parsers, slog.Default())
}

func parseListing(text string, parsers []ListingParser, logger *slog.Logger) []*Entry {
	if len(parsers) == 0 {
		parsers = defaultParsers()
	}

	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	if len(lines) > 0 && strings.HasPrefix(strings.TrimSpace(lines[0]), "total") {
		lines = lines[1:]
	}

	var entries []*Entry
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		entry := parseLine(trimmed, parsers)
		if entry == nil {
			logger.Debug("unable to parse LIST line", "raw", line)
			continue
		}
		entries = append(entries, entry)
	}
	return entries
}

func parseLine(line string, parsers []ListingParser) *Entry {
	for _, parser := range parsers {
		if entry, ok := parser.Parse(line); ok {
			return entry
		}
	}
	return nil
}
