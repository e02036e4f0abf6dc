package instance

import "github.com/angelmondragon/orderdesk/pkg/env"

// GetID identifies this process in logs. ORDERDESK_INSTANCE_ID wins, then the
// platform dyno name, then "local".
func GetID() string {
	if id := env.Get("ORDERDESK_INSTANCE_ID", ""); id != "" {
		return id
	}
	return env.Get("DYNO", "local")
}
