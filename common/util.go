package common

import (
	"context"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

const APP_NAME = "cola"

type onCancel func()
type onSignal func(os.Signal)

// TerminateIf calls onCancel when ctx is done or onSignal on a terminating signal,
// whichever comes first, exactly once.
func TerminateIf(ctx context.Context, onCancel onCancel, onSignal onSignal) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		defer signal.Stop(sig)
		select {
		case <-ctx.Done():
			onCancel()
		case s := <-sig:
			onSignal(s)
		}
	}()
}

func ErrorToString(errs []error) string {
	var s []string
	for _, err := range errs {
		s = append(s, err.Error())
	}
	return strings.Join(s, "; ")
}

// RandomDuration is a jittered back off of up to maxSeconds.
func RandomDuration(maxSeconds int) time.Duration {
	if maxSeconds <= 0 {
		maxSeconds = 1
	}
	return time.Duration(rand.Intn(maxSeconds*1000)) * time.Millisecond
}

// LogMetrics warns about actions slower than threshold, such as a broker round trip.
func LogMetrics(logger logrus.FieldLogger, action string, start time.Time, threshold time.Duration) {
	if cost := time.Since(start); cost >= threshold {
		logger.WithFields(logrus.Fields{
			"&":    action,
			"cost": cost.Seconds(),
		}).Warn("=> Slow")
	}
}

func NewLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if lvl, err := logrus.ParseLevel(level); err != nil {
		logger.SetLevel(logrus.InfoLevel)
	} else {
		logger.SetLevel(lvl)
	}
	return logger
}
