//go:build integration

package itest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const modulePath = "github.com/forPelevin/clipper"

// moduleRoot walks up from the working directory to the go.mod declaring
// this module. Other go.mod files on the way are skipped.
func moduleRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if declaresModule(filepath.Join(dir, "go.mod")) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no go.mod for %s above working directory", modulePath)
		}
		dir = parent
	}
}

func declaresModule(goMod string) bool {
	f, err := os.Open(goMod)
	if err != nil {
		return false
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if name, ok := strings.CutPrefix(strings.TrimSpace(sc.Text()), "module "); ok {
			return strings.TrimSpace(name) == modulePath
		}
	}
	return false
}

var cliBinary struct {
	once sync.Once
	dir  string
	path string
	err  error
}

// buildCLI compiles cmd/clipper once per test binary.
func buildCLI() (string, error) {
	cliBinary.once.Do(func() {
		root, err := moduleRoot()
		if err != nil {
			cliBinary.err = err
			return
		}
		dir, err := os.MkdirTemp("", "clipper-itest-")
		if err != nil {
			cliBinary.err = err
			return
		}
		cliBinary.dir = dir
		cliBinary.path = filepath.Join(dir, "clipper")

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		cmd := exec.CommandContext(ctx, "go", "build", "-o", cliBinary.path, "./cmd/clipper")
		cmd.Dir = root
		if out, err := cmd.CombinedOutput(); err != nil {
			cliBinary.err = fmt.Errorf("go build: %w\n%s", err, out)
		}
	})
	if cliBinary.err != nil {
		return "", cliBinary.err
	}
	if cliBinary.path == "" {
		return "", errors.New("clipper binary was not built")
	}
	return cliBinary.path, nil
}

func removeCLI() {
	if cliBinary.dir != "" {
		_ = os.RemoveAll(cliBinary.dir)
	}
}
