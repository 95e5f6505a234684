package utils

import (
	"os"
	"os/user"
)

// HostAndUser returns the machine name and the current user's login name.
// Either may be empty when the platform cannot report it.
func HostAndUser() (host, username string) {
	host, _ = os.Hostname()
	if u, err := user.Current(); err == nil {
		username = u.Username
	} else {
		username = os.Getenv("USER")
	}
	return host, username
}
