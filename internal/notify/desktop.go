package notify

import "github.com/gen2brain/beeep"

// Desktop delivers reminders through the host's notification daemon.
type Desktop struct {
	// AppName labels the notifications; defaults to "SafeWalk".
	AppName string
}

func (d Desktop) Notify(title, body string) error {
	app := d.AppName
	if app == "" {
		app = "SafeWalk"
	}
	beeep.AppName = app
	return beeep.Alert(title, body, "")
}
