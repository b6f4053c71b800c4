//go:build unix

package main

import (
	"fmt"
	"os"
	"os/user"
	"strconv"
	"syscall"
)

// dropPrivileges switches to owner (default nobody) when started as root.
func dropPrivileges(owner string) error {
	if os.Getuid() != 0 {
		return nil
	}
	if owner == "" {
		owner = "nobody"
	}
	u, err := user.Lookup(owner)
	if err != nil {
		return fmt.Errorf("looking up process owner %q: %w", owner, err)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return fmt.Errorf("uid of %q: %w", owner, err)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return fmt.Errorf("gid of %q: %w", owner, err)
	}
	if err := syscall.Setgid(gid); err != nil {
		return fmt.Errorf("setgid %d: %w", gid, err)
	}
	if err := syscall.Setuid(uid); err != nil {
		return fmt.Errorf("setuid %d: %w", uid, err)
	}
	return nil
}
