package notify

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// Notifier sends desktop notifications.
type Notifier struct {
	Enabled bool
}

// Send sends a desktop notification.
// On macOS it uses osascript, on Linux notify-send when installed.
// Elsewhere it is a no-op.
func (n *Notifier) Send(title, message string) error {
	if n == nil || !n.Enabled {
		return nil
	}

	switch runtime.GOOS {
	case "darwin":
		return sendMacOSNotification(title, message)
	case "linux":
		return sendLinuxNotification(title, message)
	default:
		return nil
	}
}

// sendMacOSNotification uses osascript to display a notification.
func sendMacOSNotification(title, message string) error {
	title = strings.ReplaceAll(title, `"`, `\"`)
	message = strings.ReplaceAll(message, `"`, `\"`)

	script := fmt.Sprintf(`display notification "%s" with title "%s"`, message, title)
	cmd := exec.Command("osascript", "-e", script)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	return nil
}

func sendLinuxNotification(title, message string) error {
	path, err := exec.LookPath("notify-send")
	if err != nil {
		return nil
	}
	if err := exec.Command(path, "--app-name=feegowsync", title, message).Run(); err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	return nil
}

// FormatRunComplete formats a sync completion notification.
func FormatRunComplete(mode string, batches int, watermark string) (title, message string) {
	if batches == 0 {
		title = "💤 Feegow sync: nothing to do"
		message = fmt.Sprintf("%s: watermark %s already covers today", mode, watermark)
		return title, message
	}
	title = "✅ Feegow sync complete"
	message = fmt.Sprintf("%s: %d batches loaded, watermark %s", mode, batches, watermark)
	return title, message
}

// FormatRunFailed formats a sync failure notification.
func FormatRunFailed(mode string, err error) (title, message string) {
	title = "⚠️ Feegow sync failed"
	if mode == "" {
		return title, err.Error()
	}
	return title, fmt.Sprintf("%s: %v", mode, err)
}

// FormatStateWriteFailed formats the notification for a load whose
// watermark could not be saved.
func FormatStateWriteFailed(watermark string, err error) (title, message string) {
	title = "🚨 Feegow sync: watermark not saved"
	message = fmt.Sprintf("rows loaded but watermark %s was not persisted: %v", watermark, err)
	return title, message
}
