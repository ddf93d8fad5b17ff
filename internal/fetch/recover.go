package fetch

import (
	"context"
	"regexp"
	"strings"

	"github.com/vk/kiln/internal/ctxlog"
	"github.com/vk/kiln/internal/modname"
)

// missingRefPatterns match the module reference embedded in the failure text
// of collaborators that cannot report it as structured data. First capture
// group is the reference. Ordered most to least specific.
var missingRefPatterns = []*regexp.Regexp{
	regexp.MustCompile(`[Cc]annot find module '([^']+)'`),
	regexp.MustCompile(`[Cc]ould not resolve "([^"]+)"`),
	regexp.MustCompile(`[Mm]odule not found:\s*(\S+)`),
}

// RecoverFromFailure parses a failure message for a missing-module reference
// and fetches it. Fails with UnrecoverableError when no reference is found;
// that error must propagate, since it signals a non-dependency failure.
func (f *Fetcher) RecoverFromFailure(ctx context.Context, message string) error {
	ref, ok := ParseMissingRef(message)
	if !ok {
		return &UnrecoverableError{Message: firstLine(message)}
	}
	ctxlog.FromContext(ctx).Info("Recovering missing module from failure.", "ref", ref)
	return f.RecoverPath(ctx, ref)
}

// RecoverPath fetches the most specific fetchable artifact for a module
// reference: store-relative file paths are fetched as-is, bare package names
// are reduced to their package root and installed wholesale. Deep bare
// references additionally try the exact sub-path as a file, best effort.
func (f *Fetcher) RecoverPath(ctx context.Context, ref string) error {
	if isStorePath(ref) {
		return f.EnsurePath(ctx, normalizeStorePath(ref))
	}

	root := modname.Root(ref)
	if err := f.EnsurePackage(ctx, root); err != nil {
		return err
	}
	if ref != root {
		sub := f.packagesRoot + "/" + ref
		if !strings.HasSuffix(sub, ".js") && !strings.HasSuffix(sub, ".json") {
			sub += ".js"
		}
		if err := f.EnsurePath(ctx, sub); err != nil {
			ctxlog.FromContext(ctx).Debug("Deep reference not fetchable as a file, package root satisfied it.", "ref", ref)
		}
	}
	return nil
}

// ParseMissingRef extracts the missing-module reference from a failure
// message, if one is present.
func ParseMissingRef(message string) (string, bool) {
	for _, re := range missingRefPatterns {
		if m := re.FindStringSubmatch(message); m != nil {
			return strings.TrimSpace(m[1]), true
		}
	}
	return "", false
}

func isStorePath(ref string) bool {
	return strings.HasPrefix(ref, "./") || strings.HasPrefix(ref, "../") || strings.HasPrefix(ref, "/")
}

func normalizeStorePath(ref string) string {
	ref = strings.TrimPrefix(ref, "./")
	return strings.TrimPrefix(ref, "/")
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
