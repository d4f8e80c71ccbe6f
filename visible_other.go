/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

//go:build !unix

package main

import (
	"context"

	"github.com/Seednode/impostor/session"
)

// notifyVisible has no foreground signal to watch here; use the sync command.
func notifyVisible(_ context.Context, _ chan<- session.Visibility) func() {
	return func() {}
}
