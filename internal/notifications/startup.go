package notifications

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Catalog is the subset of the launcher the startup notifier needs.
type Catalog interface {
	GetMonitoredRecipes() ([]string, error)
	ActiveRunCount() (int, error)
}

// StartupNotifier announces the catalog and any runs still being tracked
// after the launcher comes back up.
type StartupNotifier struct {
	catalog      Catalog
	slack        *SlackService
	logger       *logrus.Logger
	initialDelay time.Duration
}

func NewStartupNotifier(catalog Catalog, slack *SlackService, logger *logrus.Logger) *StartupNotifier {
	return &StartupNotifier{
		catalog:      catalog,
		slack:        slack,
		logger:       logger,
		initialDelay: 5 * time.Second,
	}
}

func (n *StartupNotifier) NotifyStartup() error {

	time.Sleep(n.initialDelay)

	recipes, err := n.catalog.GetMonitoredRecipes()
	if err != nil {
		return fmt.Errorf("failed to get monitored recipes: %w", err)
	}

	active, err := n.catalog.ActiveRunCount()
	if err != nil {
		n.logger.Errorf("Failed to count active runs: %v", err)
		active = 0
	}

	n.logger.Infof("Launcher started with %d recipes in catalog, %d active runs resumed",
		len(recipes), active)

	if n.slack == nil {
		n.logger.Debug("Slack service not configured, skipping startup notification")
		return nil
	}

	message := SlackMessage{
		Text: "🌍 Recipe launcher started",
		Attachments: []Attachment{
			{
				Color: "#36a64f",
				Fields: []Field{
					{
						Title: "Recipes",
						Value: fmt.Sprintf("%d", len(recipes)),
						Short: true,
					},
					{
						Title: "Active Runs Resumed",
						Value: fmt.Sprintf("%d", active),
						Short: true,
					},
				},
				Ts: time.Now().Unix(),
			},
		},
	}

	return n.slack.SendSlackMessage(&message)
}
