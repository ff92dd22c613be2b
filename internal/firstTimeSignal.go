///////////////////////////////////////////////////////////////////////////////
// Copyright © 2020 xx network SEZC                                          //
//                                                                           //
// Use of this source code is governed by a license that can be found in the //
// LICENSE file                                                              //
///////////////////////////////////////////////////////////////////////////////

package internal

// firstTimeSignal.go contains the logic for a signal that can only be sent
// once and can be received any number of times

import (
	"context"
	"fmt"
	jww "github.com/spf13/jwalterweatherman"
	"sync"
	"time"
)

type FirstTime struct {
	c chan struct{}
	sync.Once
}

// NewFirstTime is a constructor of the FirstTime object
func NewFirstTime() *FirstTime {
	return &FirstTime{
		c:    make(chan struct{}),
		Once: sync.Once{},
	}
}

// Send fires the signal. Only the first call has an effect.
func (ft *FirstTime) Send() {
	ft.Once.Do(func() {
		close(ft.c)
	})
}

// Done is closed once the signal fired
func (ft *FirstTime) Done() <-chan struct{} {
	return ft.c
}

// Receive waits for the signal or for ctx to be done. Prints a log every
// `duration` to notify it is still waiting
func (ft *FirstTime) Receive(ctx context.Context, duration time.Duration,
	reason string) error {
	logMessage := fmt.Sprintf("Waiting on %s to continue", reason)
	jww.INFO.Println(logMessage)
	ticker := time.NewTicker(duration)
	defer ticker.Stop()
	for {
		select {
		case <-ft.c:
			return nil
		case <-ticker.C:
			jww.WARN.Println(logMessage)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
