package opener

import (
	"context"
	"os/exec"
	"runtime"

	"go.lsp.dev/uri"
)

const browserPriority = 100

// BrowserOpener hands http and https links to the desktop's default browser.
type BrowserOpener struct {
	// Command overrides the launcher, e.g. "firefox". The URL is its only
	// argument.
	Command string

	run func(ctx context.Context, name string, args ...string) error
}

func (b *BrowserOpener) ID() string { return "browser" }

func (b *BrowserOpener) Priority(u uri.URI) int {
	switch scheme(u) {
	case uri.HTTPScheme, uri.HTTPSScheme:
		return browserPriority
	}
	return 0
}

func (b *BrowserOpener) Open(ctx context.Context, u uri.URI) error {
	name, args := b.launcher()
	args = append(args, string(u))
	run := b.run
	if run == nil {
		run = startDetached
	}
	return run(ctx, name, args...)
}

func (b *BrowserOpener) launcher() (string, []string) {
	if b.Command != "" {
		return b.Command, nil
	}
	switch runtime.GOOS {
	case "darwin":
		return "open", nil
	case "windows":
		return "rundll32", []string{"url.dll,FileProtocolHandler"}
	default:
		return "xdg-open", nil
	}
}

func startDetached(_ context.Context, name string, args ...string) error {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return err
	}
	go cmd.Wait()
	return nil
}
