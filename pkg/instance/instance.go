package instance

import "os"

// GetID identifies the running process in logs: WORKER_ID, then the
// platform dyno name, then "local".
func GetID() string {
	for _, key := range []string{"WORKER_ID", "DYNO"} {
		if id := os.Getenv(key); id != "" {
			return id
		}
	}
	return "local"
}
