//go:build windows

package watcher

import "os"

func sigterm() os.Signal { return os.Interrupt }
func sigkill() os.Signal { return os.Kill }
