package ui

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"igbatch/pkg/batch"
)

// NotificationSender delivers a desktop notification
type NotificationSender interface {
	Send(title, message string) error
}

// LinuxNotificationSender sends notifications on Linux using notify-send
type LinuxNotificationSender struct{}

func (l *LinuxNotificationSender) Send(title, message string) error {
	return exec.Command("notify-send", title, message).Run()
}

// MacOSNotificationSender sends notifications on macOS using osascript
type MacOSNotificationSender struct{}

func (m *MacOSNotificationSender) Send(title, message string) error {
	script := fmt.Sprintf(`display notification %q with title %q`, scrub(message), scrub(title))
	return exec.Command("osascript", "-e", script).Run()
}

// WindowsNotificationSender sends notifications on Windows using PowerShell
type WindowsNotificationSender struct{}

func (w *WindowsNotificationSender) Send(title, message string) error {
	script := fmt.Sprintf(`
		[Windows.UI.Notifications.ToastNotificationManager, Windows.UI.Notifications, ContentType = WindowsRuntime] | Out-Null
		[Windows.Data.Xml.Dom.XmlDocument, Windows.Data.Xml.Dom.XmlDocument, ContentType = WindowsRuntime] | Out-Null
		$xml = @"
<toast>
	<visual>
		<binding template="ToastText02">
			<text id="1">%s</text>
			<text id="2">%s</text>
		</binding>
	</visual>
</toast>
"@
		$doc = [Windows.Data.Xml.Dom.XmlDocument]::new()
		$doc.LoadXml($xml)
		$toast = [Windows.UI.Notifications.ToastNotification]::new($doc)
		[Windows.UI.Notifications.ToastNotificationManager]::CreateToastNotifier("igbatch").Show($toast)
	`, scrub(title), scrub(message))

	return exec.Command("powershell", "-NoProfile", "-NonInteractive", "-Command", script).Run()
}

// scrub drops characters that would break out of the script templates
func scrub(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '"', '<', '>', '&', '`', '$', '\\':
			return -1
		}
		return r
	}, s)
}

// Notifier announces finished batches on the desktop
type Notifier struct {
	sender NotificationSender
}

// NewNotifier creates a Notifier for the current platform. Unsupported
// platforms get a notifier that does nothing.
func NewNotifier() *Notifier {
	var sender NotificationSender
	switch runtime.GOOS {
	case "linux":
		sender = &LinuxNotificationSender{}
	case "darwin":
		sender = &MacOSNotificationSender{}
	case "windows":
		sender = &WindowsNotificationSender{}
	}
	return &Notifier{sender: sender}
}

// NewNotifierWithSender creates a Notifier using sender
func NewNotifierWithSender(sender NotificationSender) *Notifier {
	return &Notifier{sender: sender}
}

// Notify sends a notification. Delivery failures are ignored.
func (n *Notifier) Notify(title, message string) {
	if n.sender != nil {
		_ = n.sender.Send(title, message)
	}
}

// Handle notifies when a batch finishes. It satisfies batch.Listener.
func (n *Notifier) Handle(e batch.Event) {
	if e.Type != batch.EventBatchFinished || e.Report == nil {
		return
	}
	title, message := ReportNotification(e.Report)
	n.Notify(title, message)
}

// ReportNotification summarizes r for a desktop notification
func ReportNotification(r *batch.Report) (title, message string) {
	title = "Instagram scrape finished"
	if !r.Success {
		title = "Instagram scrape failed"
	}
	message = fmt.Sprintf("%d of %d accounts scraped, %d recent posts", r.SuccessCount, r.Total, r.TotalRecentPosts)
	return title, message
}
