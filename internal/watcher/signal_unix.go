//go:build !windows

package watcher

import (
	"os"
	"syscall"
)

func sigterm() os.Signal { return syscall.SIGTERM }
func sigkill() os.Signal { return syscall.SIGKILL }
