package runner

import (
	"bytes"
	"context"
	"os"

	"github.com/dimiro1/banner"
)

type State int

const (
	StateNew State = iota
	StateStarting
	StateRunning
	StateDraining
	StateStopped
)

// SessionFunc is the long-running work the runner owns, typically
// Engine.RunSession.
type SessionFunc func(ctx context.Context) error

type Hooks struct {
	OnStart func()
	OnStop  func()
}

// Drainer flushes buffered state during shutdown, typically Engine.Close.
type Drainer interface {
	Drain() error
}

const EngineVersion = "dev"

func PrintBanner() {
	tpl := "{{ .Title \"DUPLEX\" \"\" 0 }}\nVersion: " + EngineVersion + "\n"
	banner.Init(os.Stdout, true, true, bytes.NewBufferString(tpl))
}
