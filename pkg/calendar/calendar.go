package calendar

import (
	"fmt"
	"net/url"
	"time"

	"github.com/climops/recipe-launcher/pkg/types"
	"github.com/climops/recipe-launcher/pkg/utils"
)

type CalendarService struct{}

func NewCalendarService() *CalendarService {
	return &CalendarService{}
}

func (s *CalendarService) CreateEventURL(title, description string, startTime, endTime time.Time, location string) (string, error) {
	if title == "" {
		return "", fmt.Errorf("title cannot be empty")
	}

	if endTime.Before(startTime) {
		return "", fmt.Errorf("end time cannot be before start time")
	}

	if startTime.Equal(endTime) {
		return "", fmt.Errorf("start time and end time cannot be the same")
	}

	start := startTime.UTC().Format("20060102T150405Z")
	end := endTime.UTC().Format("20060102T150405Z")

	u := url.URL{
		Scheme: "https",
		Host:   "calendar.google.com",
		Path:   "calendar/render",
	}

	params := url.Values{}
	params.Add("action", "TEMPLATE")
	params.Add("text", title)
	params.Add("details", description)
	params.Add("dates", fmt.Sprintf("%s/%s", start, end))
	params.Add("location", location)

	u.RawQuery = params.Encode()

	return u.String(), nil
}

// CreateRunEvent builds a calendar event covering the walltime window of a
// submitted run, so operators can block the period the job may occupy.
func (s *CalendarService) CreateRunEvent(run *types.RunInfo) (string, error) {
	if run == nil {
		return "", fmt.Errorf("run info cannot be nil")
	}

	if run.Recipe == "" {
		return "", fmt.Errorf("recipe name cannot be empty")
	}

	walltime, err := utils.ParseWalltime(run.Resources.Walltime)
	if err != nil {
		return "", fmt.Errorf("invalid walltime for run %s: %w", run.ID, err)
	}

	title := fmt.Sprintf("%s recipe run", run.Recipe)
	description := fmt.Sprintf("Recipe: %s\nRun ID: %s\nBatch Job: %s\nPartition: %s\nWalltime: %s",
		run.Recipe, run.ID, run.BatchJobID, run.Resources.Partition, run.Resources.Walltime)

	start := run.SubmittedAt
	if start.IsZero() {
		start = time.Now()
	}

	return s.CreateEventURL(title, description, start, start.Add(walltime), run.Resources.Partition)
}

func CreateRunCalendarURL(run *types.RunInfo) (string, error) {
	service := NewCalendarService()
	return service.CreateRunEvent(run)
}
