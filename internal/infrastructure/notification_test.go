package infrastructure

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/yourusername/episode-offline-go/internal/domain"
)

type recordedCommand struct {
	name string
	args []string
}

func newRecordingNotifier(config *domain.NotificationConfig, fail error) (*NotificationService, *[]recordedCommand) {
	var calls []recordedCommand
	n := NewNotificationService(config, nil)
	n.run = func(name string, args ...string) error {
		calls = append(calls, recordedCommand{name: name, args: args})
		return fail
	}
	return n, &calls
}

func TestNotification_DisabledSendsNothing(t *testing.T) {
	n, calls := newRecordingNotifier(&domain.NotificationConfig{Enabled: false, Method: "notify-send"}, nil)
	n.NotifyCompleted(&domain.Job{ID: "ep1", Label: "Pilot"})
	assert.Empty(t, *calls)

	var nilService *NotificationService
	assert.NoError(t, nilService.Send("t", "m"))
}

func TestNotification_NotifySend(t *testing.T) {
	n, calls := newRecordingNotifier(&domain.NotificationConfig{Enabled: true, Method: "notify-send"}, nil)
	n.NotifyCompleted(&domain.Job{ID: "ep1", Label: "Pilot"})

	assert.Len(t, *calls, 1)
	assert.Equal(t, "notify-send", (*calls)[0].name)
	assert.Equal(t, []string{"Download Completed", "Available offline: Pilot"}, (*calls)[0].args)
}

func TestNotification_OSAScriptAndFailure(t *testing.T) {
	n, calls := newRecordingNotifier(&domain.NotificationConfig{Enabled: true, Method: "osascript", Sound: true}, errors.New("no display"))
	err := n.Send("Title", "Body")

	assert.Error(t, err)
	assert.Len(t, *calls, 1)
	assert.Equal(t, "osascript", (*calls)[0].name)
	assert.Contains(t, (*calls)[0].args[1], `with title "Title"`)
	assert.Contains(t, (*calls)[0].args[1], "sound name")
}

func TestNotification_UnknownMethod(t *testing.T) {
	n, calls := newRecordingNotifier(&domain.NotificationConfig{Enabled: true, Method: "pigeon"}, nil)
	assert.NoError(t, n.Send("t", "m"))
	assert.Empty(t, *calls)
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "abc", truncateString("abc", 5))
	assert.Equal(t, "ab...", truncateString("abcdef", 2))
}
