package app

import (
	"os"
	"os/signal"
	"syscall"
	"time"
)

// upstreamShutdownBudget bounds the combined HTTP-drain and backend-close
// sequence once a shutdown signal is observed.
const upstreamShutdownBudget = 10 * time.Second

// waitForSignal returns a channel closed on SIGINT or SIGTERM.
func waitForSignal() <-chan os.Signal {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	return sigCh
}
