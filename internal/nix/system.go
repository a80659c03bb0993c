package nix

import (
	"context"
	"fmt"
	"runtime"
	"sync"
)

var probes struct {
	sync.Mutex
	system   string
	storeDir string
}

// CurrentSystem returns the nix system string, e.g. x86_64-linux. It asks
// the evaluator once per process and falls back to a runtime guess when
// nix is not available.
func CurrentSystem(ctx context.Context) (string, error) {
	probes.Lock()
	defer probes.Unlock()
	if probes.system != "" {
		return probes.system, nil
	}

	if s, err := probeString(ctx, "builtins.currentSystem"); err == nil && s != "" {
		probes.system = s
		return s, nil
	}
	s, err := fallbackSystem()
	if err != nil {
		return "", err
	}
	probes.system = s
	return s, nil
}

// StoreDir returns the nix store directory, /nix/store unless the
// installation is relocated.
func StoreDir(ctx context.Context) string {
	probes.Lock()
	defer probes.Unlock()
	if probes.storeDir != "" {
		return probes.storeDir
	}

	dir, err := probeString(ctx, "builtins.storeDir")
	if err != nil || dir == "" {
		dir = "/nix/store"
	}
	probes.storeDir = dir
	return dir
}

func probeString(ctx context.Context, expr string) (string, error) {
	var s string
	err := NewCommand("nix-instantiate", "--eval", "--json", "--expr", expr).JSON(ctx, &s)
	return s, err
}

func fallbackSystem() (string, error) {
	var arch string
	switch runtime.GOARCH {
	case "amd64":
		arch = "x86_64"
	case "arm64":
		arch = "aarch64"
	case "386":
		arch = "i686"
	default:
		return "", fmt.Errorf("unsupported architecture: %s", runtime.GOARCH)
	}

	switch runtime.GOOS {
	case "linux", "darwin":
		return arch + "-" + runtime.GOOS, nil
	default:
		return "", fmt.Errorf("unsupported OS: %s", runtime.GOOS)
	}
}
