package notifications

import (
	"fmt"
	"time"

	"github.com/climops/recipe-launcher/pkg/types"
)

type NotificationType string

const (
	TypeRun NotificationType = "RUN"
	TypeJob NotificationType = "JOB"
	TypeAPI NotificationType = "API"
)

type NotificationService struct {
	slackService *SlackService
}

func NewNotificationService(slackService *SlackService) *NotificationService {
	return &NotificationService{
		slackService: slackService,
	}
}

func (s *NotificationService) formatJobNotification(jobName string, status string, duration time.Duration, details string) *SlackMessage {
	var color string
	var icon string

	switch status {
	case "success":
		color = "good"
		icon = "✅"
	case "failed":
		color = "danger"
		icon = "❌"
	case "started":
		color = "warning"
		icon = "🚀"
	default:
		color = "#808080"
		icon = "ℹ️"
	}

	fields := []Field{
		{
			Title: "Job Name",
			Value: jobName,
			Short: true,
		},
		{
			Title: "Status",
			Value: status,
			Short: true,
		},
	}

	if duration > 0 {
		fields = append(fields, Field{
			Title: "Duration",
			Value: duration.String(),
			Short: true,
		})
	}

	if details != "" {
		fields = append(fields, Field{
			Title: "Details",
			Value: details,
			Short: false,
		})
	}

	return &SlackMessage{
		Text: fmt.Sprintf("%s Job Status Update", icon),
		Attachments: []Attachment{
			{
				Color:  color,
				Fields: fields,
				Ts:     time.Now().Unix(),
			},
		},
	}
}

func (s *NotificationService) formatAPINotification(endpoint string, status string, details string) *SlackMessage {
	var color string
	var icon string

	switch status {
	case "success":
		color = "good"
		icon = "✅"
	case "error":
		color = "danger"
		icon = "❌"
	default:
		color = "#808080"
		icon = "ℹ️"
	}

	fields := []Field{
		{
			Title: "Endpoint",
			Value: endpoint,
			Short: true,
		},
		{
			Title: "Status",
			Value: status,
			Short: true,
		},
	}

	if details != "" {
		fields = append(fields, Field{
			Title: "Details",
			Value: details,
			Short: false,
		})
	}

	return &SlackMessage{
		Text: fmt.Sprintf("%s API Event", icon),
		Attachments: []Attachment{
			{
				Color:  color,
				Fields: fields,
				Ts:     time.Now().Unix(),
			},
		},
	}
}

func (s *NotificationService) SendJobNotification(jobName string, status string, duration time.Duration, details string) error {
	message := s.formatJobNotification(jobName, status, duration, details)
	return s.slackService.SendSlackMessage(message)
}

func (s *NotificationService) SendAPINotification(endpoint string, status string, details string) error {
	message := s.formatAPINotification(endpoint, status, details)
	return s.slackService.SendSlackMessage(message)
}

func (s *NotificationService) SendRunNotification(run *types.RunInfo) error {
	return s.slackService.SendRunNotification(run)
}
