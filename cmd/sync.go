package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/marcus/dsync/internal/models"
	"github.com/marcus/dsync/internal/sync"
	"github.com/marcus/dsync/internal/syncerr"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	syncAll     bool
	syncResolve string
)

// syncTimeout bounds how long the CLI waits for a session. The state
// machine's retry-exhaustion path terminates without a callback, so the
// wait must not be unbounded.
const syncTimeout = 2 * time.Minute

var syncCmd = &cobra.Command{
	Use:   "sync [dataset...]",
	Short: "Synchronize datasets with the server",
	Long: `Pulls the remote delta, merges it locally, and pushes local changes.
Value conflicts are resolved per --resolve; remote deletions are accepted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if syncResolve != "remote" && syncResolve != "local" {
			return fmt.Errorf("--resolve must be 'remote' or 'local'")
		}

		app, cleanup, err := openApp()
		if err != nil {
			return err
		}
		defer cleanup()

		names := args
		if syncAll {
			metadata, err := app.manager.ListDatasets()
			if err != nil {
				return err
			}
			names = names[:0]
			for _, m := range metadata {
				names = append(names, m.Name)
			}
		}
		if len(names) == 0 {
			return fmt.Errorf("no datasets to sync (name some or pass --all)")
		}

		var g errgroup.Group
		for _, name := range names {
			g.Go(func() error {
				return syncOne(app, name)
			})
		}
		return g.Wait()
	},
}

// syncOne runs one sync session to completion and prints its outcome.
func syncOne(app *app, name string) error {
	// Open-existing first: datasets pending remote deletion still need a
	// handle so the delete can be pushed.
	ds, err := app.manager.OpenDataset(name)
	if errors.Is(err, syncerr.ErrDatasetNotFound) {
		ds, err = app.manager.OpenOrCreateDataset(name)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	cb := &cliCallback{policy: syncResolve, done: make(chan syncOutcome, 1)}
	ds.Synchronize(cb)

	select {
	case out := <-cb.done:
		if out.err != nil {
			return fmt.Errorf("%s: %w", name, out.err)
		}
		fmt.Printf("%s: synced (%d remote records applied)\n", name, out.applied)
		return nil
	case <-time.After(syncTimeout):
		return fmt.Errorf("%s: sync timed out after %v", name, syncTimeout)
	}
}

type syncOutcome struct {
	applied int
	err     error
}

// cliCallback resolves conflicts by policy, accepts remote deletions and
// merges, and hands the session outcome back to the waiting command.
type cliCallback struct {
	policy string // "remote" or "local"
	done   chan syncOutcome
}

func (c *cliCallback) OnSuccess(ds *sync.Dataset, applied []models.Record) {
	c.done <- syncOutcome{applied: len(applied)}
}

func (c *cliCallback) OnFailure(err error) {
	c.done <- syncOutcome{err: err}
}

func (c *cliCallback) OnConflict(ds *sync.Dataset, conflicts []sync.Conflict) bool {
	resolved := make([]models.Record, 0, len(conflicts))
	for _, cf := range conflicts {
		if c.policy == "local" {
			resolved = append(resolved, cf.ResolveWithLocal())
		} else {
			resolved = append(resolved, cf.ResolveWithRemote())
		}
	}
	if err := ds.Resolve(resolved); err != nil {
		c.done <- syncOutcome{err: err}
		return false
	}
	fmt.Printf("%s: resolved %d conflicts (%s wins)\n", ds.Name(), len(conflicts), c.policy)
	return true
}

func (c *cliCallback) OnDatasetDeleted(ds *sync.Dataset, name string) bool {
	fmt.Printf("%s: deleted remotely, purging local copy\n", name)
	return true
}

func (c *cliCallback) OnDatasetsMerged(ds *sync.Dataset, mergedNames []string) bool {
	fmt.Printf("%s: merged datasets reported: %v\n", ds.Name(), mergedNames)
	return true
}

func init() {
	syncCmd.Flags().BoolVar(&syncAll, "all", false, "sync every local dataset")
	syncCmd.Flags().StringVar(&syncResolve, "resolve", "remote", "conflict resolution policy: remote or local")
	rootCmd.AddCommand(syncCmd)
}
