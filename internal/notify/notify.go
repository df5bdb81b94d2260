// Package notify raises optional desktop notifications for toy
// connect/disconnect events.
package notify

import (
	"github.com/gen2brain/beeep"
	"github.com/rs/zerolog"
)

// Desktop sends OS notifications. Failures are logged and ignored; a
// missing notification daemon must never affect the bridge.
type Desktop struct {
	appName string
	log     zerolog.Logger
}

func NewDesktop(appName string, log zerolog.Logger) *Desktop {
	return &Desktop{appName: appName, log: log.With().Str("component", "notify").Logger()}
}

func (d *Desktop) Notify(title, body string) {
	if err := beeep.Notify(d.appName+": "+title, body, ""); err != nil {
		d.log.Debug().Err(err).Msg("desktop notification failed")
	}
}
