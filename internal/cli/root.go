// Package cli implements the command-line interface for modsync.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/kilupskalvis/modsync/internal/cache"
	"github.com/kilupskalvis/modsync/internal/config"
	"github.com/kilupskalvis/modsync/internal/models"
	"github.com/kilupskalvis/modsync/internal/mutation"
	"github.com/kilupskalvis/modsync/internal/remote"
	"github.com/spf13/cobra"
)

type (
	moduleCache      = cache.Manager[models.Module, models.ModuleFields, models.ModulePatch]
	moduleCollection = cache.Collection[models.Module, models.ModuleFields, models.ModulePatch]
)

// cmdContext holds common resources for CLI commands
type cmdContext struct {
	Config *config.Config
	Logger *slog.Logger
	Cache  *moduleCache
}

// Close releases resources held by cmdContext
func (c *cmdContext) Close() {
	if c.Cache != nil {
		c.Cache.EvictAll()
	}
}

// initContext loads the workspace config and builds the module cache.
func initContext() *cmdContext {
	cfg, err := config.Load()
	if err != nil {
		exitError("%v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

	policy, err := mutation.PolicyByName(cfg.Reconcile)
	if err != nil {
		exitError("%v", err)
	}

	client := remote.NewRetryClient(remote.NewHTTPClient(cfg.ServerURL, cfg.Token), remote.DefaultRetryConfig())
	mc := cache.NewManager[models.Module, models.ModuleFields, models.ModulePatch](client, logger,
		mutation.WithPolicy(policy),
		mutation.WithObserver(func(e mutation.Event) {
			logger.Debug("mutation", "kind", e.Kind, "id", e.EntityID, "phase", e.Phase, "error", e.Err)
		}))

	return &cmdContext{Config: cfg, Logger: logger, Cache: mc}
}

// openCourse loads the course named by --course or the config default.
func (c *cmdContext) openCourse(ctx context.Context) *moduleCollection {
	course := courseFlag
	if course == "" {
		course = c.Config.Course
	}
	if course == "" {
		exitError("no course selected; pass --course or set course in %s/%s", config.Dir, config.ConfigFile)
	}

	col, err := c.Cache.Open(ctx, course)
	if err != nil {
		exitError("%v", err)
	}
	return col
}

var courseFlag string

var rootCmd = &cobra.Command{
	Use:   "modsync",
	Short: "Edit a course's module list",
	Long: `modsync edits the ordered module list of a course against a modsync
server. Changes are applied locally first and rolled back if the server
rejects them.`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&courseFlag, "course", "c", "", "Course to operate on (default: from config)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(moveCmd)
	rootCmd.AddCommand(serverCmd)
}

// exitError prints an error and exits
func exitError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

// exitMutation reports a failed mutation the way the user should read it.
func exitMutation(err error) {
	var mErr *mutation.Error
	if errors.As(err, &mErr) {
		exitError("%s", mErr.Message())
	}
	exitError("%v", err)
}

// shortID returns the last 8 characters of an ID. ULIDs share their
// timestamp prefix, so the tail is the distinguishing part.
func shortID(id string) string {
	if len(id) > 8 {
		return id[len(id)-8:]
	}
	return id
}

// resolveModule finds the index of the module ref names: a 1-based
// position, a full id, or a unique id suffix as printed by list.
func resolveModule(items []models.Module, ref string) (int, error) {
	if n, err := strconv.Atoi(ref); err == nil && n >= 1 && n <= len(items) {
		return n - 1, nil
	}

	match := -1
	for i, m := range items {
		if m.ID == ref {
			return i, nil
		}
		if strings.HasSuffix(m.ID, ref) {
			if match >= 0 {
				return -1, fmt.Errorf("module reference %q is ambiguous", ref)
			}
			match = i
		}
	}
	if match < 0 {
		return -1, fmt.Errorf("no module matches %q", ref)
	}
	return match, nil
}
