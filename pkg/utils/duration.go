package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

func FormatDuration(d time.Duration) string {
	if d < 0 {
		return "Past due"
	}

	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%d days, %d hours", days, hours)
	}
	if hours > 0 {
		return fmt.Sprintf("%d hours, %d minutes", hours, minutes)
	}
	return fmt.Sprintf("%d minutes", minutes)
}

// ParseWalltime parses a scheduler time limit in the forms accepted by
// SLURM: "MM:SS", "HH:MM:SS" or "DD-HH:MM:SS".
func ParseWalltime(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("empty walltime")
	}

	var days int
	rest := s
	if idx := strings.Index(s, "-"); idx >= 0 {
		d, err := strconv.Atoi(s[:idx])
		if err != nil || d < 0 {
			return 0, fmt.Errorf("invalid walltime %q", s)
		}
		days = d
		rest = s[idx+1:]
	}

	parts := strings.Split(rest, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid walltime %q", s)
	}

	nums := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid walltime %q", s)
		}
		nums[i] = n
	}

	var d time.Duration
	if len(parts) == 3 {
		d = time.Duration(nums[0])*time.Hour +
			time.Duration(nums[1])*time.Minute +
			time.Duration(nums[2])*time.Second
	} else {
		d = time.Duration(nums[0])*time.Minute +
			time.Duration(nums[1])*time.Second
	}

	return time.Duration(days)*24*time.Hour + d, nil
}

// FormatWalltime renders a duration as a SLURM time limit, using the
// DD-HH:MM:SS form once the limit exceeds a day.
func FormatWalltime(d time.Duration) string {
	if d < 0 {
		d = 0
	}

	total := int(d.Seconds())
	days := total / 86400
	hours := (total % 86400) / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60

	if days > 0 {
		return fmt.Sprintf("%d-%02d:%02d:%02d", days, hours, minutes, seconds)
	}
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}
