package infrastructure

import (
	"fmt"
	"os/exec"

	"github.com/yourusername/episode-offline-go/internal/domain"
	"go.uber.org/zap"
)

// NotificationService sends desktop notifications about download jobs
type NotificationService struct {
	config *domain.NotificationConfig
	logger *zap.Logger
	run    func(name string, args ...string) error
}

// NewNotificationService creates a new notification service
func NewNotificationService(config *domain.NotificationConfig, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		config: config,
		logger: logger,
		run: func(name string, args ...string) error {
			return exec.Command(name, args...).Run()
		},
	}
}

// Send sends a notification
func (n *NotificationService) Send(title, message string) error {
	if n == nil || n.config == nil || !n.config.Enabled {
		return nil
	}

	var err error
	switch n.config.Method {
	case "osascript":
		script := fmt.Sprintf(`display notification %q with title %q`, message, title)
		if n.config.Sound {
			script += ` sound name "default"`
		}
		err = n.run("osascript", "-e", script)
	case "notify-send":
		err = n.run("notify-send", title, message)
	default:
		n.logger.Warn("Unknown notification method", zap.String("method", n.config.Method))
		return nil
	}

	if err != nil {
		n.logger.Error("Failed to send notification",
			zap.String("method", n.config.Method),
			zap.Error(err))
		return err
	}

	n.logger.Debug("Notification sent",
		zap.String("title", title),
		zap.String("message", message))
	return nil
}

// NotifyQueued sends notification when a job waits for a slot
func (n *NotificationService) NotifyQueued(job *domain.Job) {
	n.Send("Download Queued", fmt.Sprintf("Waiting: %s", jobName(job)))
}

// NotifyStarted sends notification when a job begins fetching
func (n *NotificationService) NotifyStarted(job *domain.Job) {
	n.Send("Download Started", fmt.Sprintf("Downloading: %s", jobName(job)))
}

// NotifyCompleted sends notification when a job completes
func (n *NotificationService) NotifyCompleted(job *domain.Job) {
	n.Send("Download Completed", fmt.Sprintf("Available offline: %s", jobName(job)))
}

// NotifyFailed sends notification when a job fails
func (n *NotificationService) NotifyFailed(job *domain.Job, err error) {
	msg := fmt.Sprintf("Failed: %s", jobName(job))
	if err != nil {
		msg += " (" + truncateString(err.Error(), 60) + ")"
	}
	n.Send("Download Failed", msg)
}

func jobName(job *domain.Job) string {
	if job == nil {
		return ""
	}
	if job.Label != "" {
		return truncateString(job.Label, 40)
	}
	return truncateString(job.ID, 40)
}

// truncateString truncates a string to the specified length
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
