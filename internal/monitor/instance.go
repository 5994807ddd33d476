package monitor

import (
	"github.com/denisbrodbeck/machineid"
	"github.com/google/uuid"
)

const appID = "trading-gateway"

// InstanceID identifies this host in logs and the health report. It hashes
// the machine id with the app id so the raw machine id is never exposed,
// and falls back to a random id where no machine id is readable.
func InstanceID() string {
	if id, err := machineid.ProtectedID(appID); err == nil && id != "" {
		if len(id) > 16 {
			id = id[:16]
		}
		return id
	}
	return uuid.NewString()
}
