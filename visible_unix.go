/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

//go:build unix

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Seednode/impostor/session"
)

// notifyVisible reports the process returning to the foreground (SIGCONT)
// on ch until the returned stop function is called.
func notifyVisible(ctx context.Context, ch chan<- session.Visibility) func() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGCONT)

	ctx, cancel := context.WithCancel(ctx)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-sig:
				select {
				case ch <- session.Visible:
				default:
				}
			}
		}
	}()

	return func() {
		signal.Stop(sig)
		cancel()
	}
}
