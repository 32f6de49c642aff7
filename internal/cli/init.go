package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/kilupskalvis/modsync/internal/config"
	"github.com/kilupskalvis/modsync/internal/mutation"
	"github.com/kilupskalvis/modsync/internal/remote"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a modsync workspace",
	Long: `Initialize a modsync workspace in the current directory.
This creates a .modsync directory holding the server URL, token and
default course.`,
	Run: runInit,
}

var (
	initURL       string
	initToken     string
	initReconcile string
)

func init() {
	initCmd.Flags().StringVar(&initURL, "url", "http://localhost:8720", "modsync server URL")
	initCmd.Flags().StringVar(&initToken, "token", "", "API token (or set "+config.TokenEnv+")")
	initCmd.Flags().StringVar(&initReconcile, "reconcile", "refetch", "When to refetch after a change: refetch or trust")
}

func runInit(cmd *cobra.Command, args []string) {
	cwd, err := os.Getwd()
	if err != nil {
		exitError("%v", err)
	}
	if _, err := mutation.PolicyByName(initReconcile); err != nil {
		exitError("%v", err)
	}

	// Check the server answers before writing anything. An unreachable or
	// unauthorized server is reported but does not block init.
	if courseFlag != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		fmt.Printf("Connecting to %s...\n", initURL)
		mods, err := remote.NewHTTPClient(initURL, initToken).Fetch(ctx, courseFlag)
		if err != nil {
			fmt.Printf("Warning: could not list course '%s': %v\n", courseFlag, err)
		} else {
			fmt.Printf("Course '%s' has %d modules\n", courseFlag, len(mods))
		}
	}

	_, err = config.Initialize(cwd, config.Config{
		ServerURL: initURL,
		Token:     initToken,
		Course:    courseFlag,
		Reconcile: initReconcile,
	})
	if err != nil {
		exitError("failed to initialize config: %v", err)
	}

	fmt.Printf("\nInitialized modsync workspace in %s/\n", config.Dir)
	if courseFlag == "" {
		fmt.Printf("Pass --course to commands, or set course in %s/%s.\n", config.Dir, config.ConfigFile)
	}
}
