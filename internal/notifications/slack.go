package notifications

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/climops/recipe-launcher/pkg/calendar"
	"github.com/climops/recipe-launcher/pkg/types"
	"github.com/climops/recipe-launcher/pkg/utils"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

type SlackService struct {
	logger     *logrus.Logger
	webhookURL string
	client     *http.Client
}

type SlackMessage struct {
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

type Attachment struct {
	Color  string  `json:"color,omitempty"`
	Text   string  `json:"text,omitempty"`
	Fields []Field `json:"fields,omitempty"`
	Footer string  `json:"footer,omitempty"`
	Ts     int64   `json:"ts,omitempty"`
}

type Field struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

func NewSlackService(logger *logrus.Logger) (*SlackService, error) {
	webhookURL := os.Getenv("SLACK_WEBHOOK_URL")
	if webhookURL == "" {
		return nil, fmt.Errorf("SLACK_WEBHOOK_URL environment variable is not set")
	}

	return &SlackService{
		logger:     logger,
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// SendRunNotification posts the outcome of a recipe run to Slack.
func (s *SlackService) SendRunNotification(run *types.RunInfo) error {
	var color, icon, headline string

	switch run.State {
	case types.RunCompleted:
		color = "#36a64f"
		icon = "✅"
		headline = "Recipe Run Completed"
	case types.RunFailed:
		color = "#ff0000"
		icon = "❌"
		headline = "Recipe Run Failed"
	case types.RunTimeout:
		color = "#ff0000"
		icon = "⏱️"
		headline = "Recipe Run Hit Walltime"
	case types.RunCancelled:
		color = "#ffcc00"
		icon = "🚫"
		headline = "Recipe Run Cancelled"
	default:
		color = "#ffcc00"
		icon = "🚀"
		headline = "Recipe Run Submitted"
	}

	mainMessage := fmt.Sprintf("%s %s: %s",
		icon,
		headline,
		cases.Title(language.English).String(run.Recipe))

	fields := []Field{
		{
			Title: "Recipe",
			Value: run.Recipe,
			Short: true,
		},
		{
			Title: "State",
			Value: string(run.State),
			Short: true,
		},
		{
			Title: "Mode",
			Value: string(run.Mode),
			Short: true,
		},
		{
			Title: "Duration",
			Value: utils.FormatDuration(run.Duration()),
			Short: true,
		},
	}

	if run.BatchJobID != "" {
		fields = append(fields, Field{
			Title: "Batch Job",
			Value: run.BatchJobID,
			Short: true,
		})
	}

	if run.Resources.Partition != "" {
		fields = append(fields, Field{
			Title: "Partition",
			Value: run.Resources.Partition,
			Short: true,
		})
	}

	if run.State == types.RunFailed && run.Mode == types.ModeLocal {
		fields = append(fields, Field{
			Title: "Exit Code",
			Value: fmt.Sprintf("%d", run.ExitCode),
			Short: true,
		})
	}

	var links []string

	if run.OutputLog != "" {
		links = append(links, fmt.Sprintf("📄 stdout: `%s`", run.OutputLog))
	}

	if run.ErrorLog != "" {
		links = append(links, fmt.Sprintf("📄 stderr: `%s`", run.ErrorLog))
	}

	if run.State == types.RunSubmitted {
		if eventURL, err := calendar.CreateRunCalendarURL(run); err == nil {
			links = append(links, fmt.Sprintf("📅 <%s|Walltime Window>", eventURL))
		}
	}

	if len(links) > 0 {
		fields = append(fields, Field{
			Title: "Links",
			Value: strings.Join(links, " | "),
			Short: false,
		})
	}

	message := SlackMessage{
		Text: mainMessage,
		Attachments: []Attachment{
			{
				Color:  color,
				Fields: fields,
				Footer: fmt.Sprintf("Run: %s | Last Updated: %s",
					run.ID,
					time.Now().Format("Mon, 02 Jan 2006 15:04:05 MST")),
				Ts: time.Now().Unix(),
			},
		},
	}

	return s.SendSlackMessage(&message)
}

func (s *SlackService) SendSlackMessage(message *SlackMessage) error {
	if s.webhookURL == "" {
		return fmt.Errorf("slack webhook URL not configured")
	}

	jsonMessage, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("error marshaling slack message: %w", err)
	}

	resp, err := s.client.Post(s.webhookURL, "application/json", bytes.NewBuffer(jsonMessage))
	if err != nil {
		return fmt.Errorf("error sending slack message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack API returned non-200 status code: %d", resp.StatusCode)
	}

	s.logger.Infof("Successfully sent message to Slack")
	return nil
}
