package cli

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"

	ftp "github.com/ftpdesk/ftpdesk"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newLsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ls [path]",
		Short: "List a remote directory",
		Example: `  # List the login directory
  ftpdesk ls --host 192.168.1.10

  # List a directory over an active data channel
  ftpdesk ls pub --host 192.168.1.10 --active`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var dir string
			if len(args) == 1 {
				dir = args[0]
			}

			s, err := a.connect()
			if err != nil {
				return err
			}
			defer s.Quit()

			if err := a.negotiate(s); err != nil {
				return err
			}
			entries, err := s.ListEntries(dir)
			if err != nil {
				return err
			}
			return RenderEntries(a.out, entries)
		},
	}
}

func newGetCommand(a *app) *cobra.Command {
	var jobs int
	cmd := &cobra.Command{
		Use:   "get remote...",
		Short: "Download one or more files",
		Long: `Download remote files into the local directory. Files are fetched
concurrently; each one gets its own data connection.`,
		Example: `  ftpdesk get report.txt logs/app.log --host 192.168.1.10
  ftpdesk get big.iso --limit 1048576 --local-dir /tmp`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.connect()
			if err != nil {
				return err
			}
			defer s.Quit()

			sizes, err := a.remoteSizes(s, args)
			if err != nil {
				return err
			}

			err = runAll(cmd.Context(), s, jobs, args, func(remote string) (ftp.TransferInfo, error) {
				return s.Download(remote, path.Base(remote), sizes[remote], false)
			})
			if rerr := RenderTransfers(a.out, s.History()); rerr != nil && err == nil {
				err = rerr
			}
			return err
		},
	}
	cmd.Flags().IntVarP(&jobs, "jobs", "j", 4, "maximum concurrent transfers")
	return cmd
}

func newPutCommand(a *app) *cobra.Command {
	var (
		jobs   int
		remote string
	)
	cmd := &cobra.Command{
		Use:   "put local...",
		Short: "Upload one or more files",
		Example: `  ftpdesk put notes.txt --host 192.168.1.10
  ftpdesk put build/app.tar.gz --remote-dir releases --host 192.168.1.10`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.connect()
			if err != nil {
				return err
			}
			defer s.Quit()

			err = runAll(cmd.Context(), s, jobs, args, func(local string) (ftp.TransferInfo, error) {
				return s.Upload(local, path.Join(remote, filepath.Base(local)), false)
			})
			if rerr := RenderTransfers(a.out, s.History()); rerr != nil && err == nil {
				err = rerr
			}
			return err
		},
	}
	cmd.Flags().IntVarP(&jobs, "jobs", "j", 4, "maximum concurrent transfers")
	cmd.Flags().StringVar(&remote, "remote-dir", "", "remote directory to upload into")
	return cmd
}

// runAll starts one transfer per name, at most jobs at a time, and waits
// for all of them. When ctx is done the remaining transfers are canceled.
func runAll(ctx context.Context, s *ftp.Session, jobs int, names []string, start func(string) (ftp.TransferInfo, error)) error {
	g, ctx := errgroup.WithContext(ctx)
	if jobs > 0 {
		g.SetLimit(jobs)
	}

	for _, name := range names {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			info, err := start(name)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			return await(ctx, s, info.ID)
		})
	}
	return g.Wait()
}

// await waits for a transfer and turns its outcome into an error.
func await(ctx context.Context, s *ftp.Session, id string) error {
	stop := context.AfterFunc(ctx, func() {
		s.Cancel(id)
	})
	defer stop()

	info, err := s.Wait(id)
	if err != nil {
		return err
	}

	switch info.Status {
	case ftp.Finished:
		return nil
	case ftp.Canceled:
		return fmt.Errorf("%s: %w", info.Remote, ftp.ErrCanceled)
	case ftp.Paused:
		return fmt.Errorf("%s: %w", info.Remote, ftp.ErrPaused)
	default:
		if info.Err == nil {
			return fmt.Errorf("%s: %s", info.Remote, info.Status)
		}
		return fmt.Errorf("%s: %w", info.Remote, info.Err)
	}
}

// remoteSizes looks up the size of each remote file in its directory
// listing. Files that are not listed get -1.
func (a *app) remoteSizes(s *ftp.Session, remotes []string) (map[string]int64, error) {
	sizes := make(map[string]int64, len(remotes))
	listed := make(map[string]bool)

	for _, remote := range remotes {
		sizes[remote] = -1
	}

	for _, remote := range remotes {
		dir := path.Dir(remote)
		if listed[dir] {
			continue
		}
		listed[dir] = true

		if err := a.negotiate(s); err != nil {
			return nil, err
		}
		arg := dir
		if dir == "." {
			arg = ""
		}
		entries, err := s.ListEntries(arg)
		var pe *ftp.ProtocolError
		if errors.As(err, &pe) {
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.IsFolder() {
				continue
			}
			key := e.Name
			if dir != "." {
				key = path.Join(dir, e.Name)
			}
			if _, want := sizes[key]; want {
				sizes[key] = e.Size
			}
		}
	}
	return sizes, nil
}
