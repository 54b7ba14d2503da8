package cleaner

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/s4mli/cola/common"
	"github.com/sirupsen/logrus"
)

type Cleanable interface {
	Stop()
	Name() string
}

var (
	resourcesMu sync.Mutex
	resources   []Cleanable
)

func Register(r ...Cleanable) {
	resourcesMu.Lock()
	defer resourcesMu.Unlock()
	resources = append(resources, r...)
}

// Cleanup stops every registered resource, last registered first, and forgets them.
func Cleanup(logger logrus.FieldLogger, reason string) {
	resourcesMu.Lock()
	all := resources
	resources = nil
	resourcesMu.Unlock()

	for i := len(all) - 1; i >= 0; i-- {
		if r := all[i]; r != nil {
			logger.Warnf("( %s ) terminated, %s", r.Name(), reason)
			r.Stop()
		}
	}
}

// Run blocks until ctx is cancelled or a terminating signal arrives, then cleans up.
func Run(ctx context.Context, logger logrus.FieldLogger) {
	done := make(chan struct{})
	common.TerminateIf(ctx,
		func() {
			Cleanup(logger, "cancel")
			close(done)
		},
		func(s os.Signal) {
			Cleanup(logger, fmt.Sprintf("signal %+v", s))
			close(done)
		})
	<-done
}
