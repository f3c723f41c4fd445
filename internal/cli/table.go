package cli

import (
	"fmt"
	"io"
	"time"

	ftp "github.com/ftpdesk/ftpdesk"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
)

func newTable(w io.Writer, header ...any) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.Options(
		tablewriter.WithRendition(tw.Rendition{Borders: tw.Border{Left: tw.Pending, Right: tw.Pending, Top: tw.Pending, Bottom: tw.Pending}}),
	)
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.MaxWidth = 0
		cfg.Header = tw.CellConfig{
			Alignment: tw.CellAlignment{Global: tw.AlignLeft},
		}
		cfg.Row = tw.CellConfig{
			Alignment: tw.CellAlignment{Global: tw.AlignLeft},
		}
	})
	table.Header(header...)
	return table
}

// RenderEntries prints a directory listing.
func RenderEntries(w io.Writer, entries []*ftp.Entry) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "Directory is empty")
		return err
	}

	table := newTable(w, "Name", "Type", "Size", "Modified", "Owner")
	for _, e := range entries {
		name, size := e.Name, formatSize(e.Size)
		if e.IsFolder() {
			name += "/"
			size = "-"
		}
		if err := table.Append([]string{name, e.Type.String(), size, e.LastModified, e.Owner}); err != nil {
			return err
		}
	}
	return table.Render()
}

// RenderTransfers prints running, paused or finished transfers.
func RenderTransfers(w io.Writer, infos []ftp.TransferInfo) error {
	if len(infos) == 0 {
		_, err := fmt.Fprintln(w, "No transfers")
		return err
	}

	table := newTable(w, "ID", "Direction", "Remote", "Local", "Progress", "Status", "Elapsed", "Rate")
	for _, info := range infos {
		status := info.Status.String()
		if info.Warning != nil {
			status += " (size mismatch)"
		}
		if err := table.Append([]string{
			info.ID,
			info.Direction.String(),
			info.Remote,
			info.Local,
			formatProgress(info),
			status,
			formatElapsed(info.Elapsed()),
			formatRate(info.Rate()),
		}); err != nil {
			return err
		}
	}
	return table.Render()
}

func formatProgress(info ftp.TransferInfo) string {
	pct := info.Percent()
	if pct < 0 {
		return formatSize(info.Transferred)
	}
	return fmt.Sprintf("%s / %s (%.0f%%)", formatSize(info.Transferred), formatSize(info.Size), pct)
}

func formatRate(bytesPerSecond float64) string {
	if bytesPerSecond <= 0 {
		return "-"
	}
	return formatSize(int64(bytesPerSecond)) + "/s"
}

// formatSize formats a file size in human-readable format
func formatSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}

func formatElapsed(d time.Duration) string {
	return d.Round(time.Millisecond).String()
}
