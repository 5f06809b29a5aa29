package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

var Log *logrus.Logger

func InitLogger(debug bool) {
	Log = logrus.New()
	Log.Out = os.Stdout

	if debug {
		Log.SetLevel(logrus.DebugLevel)
		Log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	} else {
		Log.SetLevel(logrus.InfoLevel)
		Log.SetFormatter(&logrus.JSONFormatter{})
	}
}

// WithComponent returns an entry tagged with the subsystem name.
// Falls back to a default logger so packages can log before InitLogger runs (tests).
func WithComponent(name string) *logrus.Entry {
	if Log == nil {
		InitLogger(true)
	}
	return Log.WithField("component", name)
}
