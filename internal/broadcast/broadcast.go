// Package broadcast runs the polling loops that push venue data to every
// connected client.
package broadcast

import (
	"context"
	"fmt"
	"time"

	"trading-gateway/pkg/exchanges/common"
)

// Broadcaster fans a message out to all clients.
type Broadcaster interface {
	Broadcast(msg []byte) int
}

// Audience is a Broadcaster that also reports its size.
type Audience interface {
	Broadcaster
	Len() int
	Changed() <-chan struct{}
}

// TokenSource yields the shared upstream access token.
type TokenSource interface {
	Get(ctx context.Context) (string, error)
	Invalidate(token string)
}

// failureText renders a failed upstream call for clients.
func failureText(resp *common.Response) string {
	if resp == nil {
		return "Failed to send request"
	}
	return fmt.Sprintf("HTTP Error: %d", resp.StatusCode)
}

func tokenFailureText(err error) string {
	return "Failed to obtain access token: " + err.Error()
}

// sleep waits d or until ctx is done, reporting false in the latter case.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
