package cmd

import (
	"fmt"

	"github.com/cec-lip/lipd/internal/config"
	"github.com/USA-RedDragon/configulator"
	"github.com/pkg/browser"
	"github.com/spf13/cobra"
)

// newDashboardCommand builds "lipd dashboard", a convenience wrapper
// around the status page internal/httpapi already serves: rather than
// ask an operator to remember the configured bind address, it reads
// the same config the server would and opens it directly.
func newDashboardCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Open the running node's status dashboard in a browser",
		RunE:  runDashboard,
	}
}

func runDashboard(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	c, err := configulator.FromContext[config.Config](ctx)
	if err != nil {
		return fmt.Errorf("failed to get config from context: %w", err)
	}
	cfg, err := c.LoadWithoutValidation()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	url := fmt.Sprintf("http://%s:%d/status", dashboardHost(cfg.HTTP.Bind), cfg.HTTP.Port)
	if err := browser.OpenURL(url); err != nil {
		return fmt.Errorf("failed to open browser: %w", err)
	}
	return nil
}

// dashboardHost maps an any-interface bind address to something a
// local browser can actually dial.
func dashboardHost(bind string) string {
	if bind == "" || bind == "0.0.0.0" || bind == "::" {
		return "localhost"
	}
	return bind
}
