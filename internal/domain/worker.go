package domain

import (
	"fmt"
	"os"
	"os/user"
	"strings"
)

// WorkerID identifies this participant as user@host. Stable across restarts
// on the same machine so a worker can resume its own partial slices.
func WorkerID() string {
	username := "unknown"
	if u, err := user.Current(); err == nil && u.Username != "" {
		// Windows reports DOMAIN\user
		username = u.Username
		if i := strings.LastIndexByte(username, '\\'); i >= 0 {
			username = username[i+1:]
		}
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("%s@%s", username, host)
}
