// Package playlist turns HLS media playlists into ordered, proxy-rewritten segment URLs.
//
// Only the minimal media playlist subset is understood: every non-blank line that does not
// start with '#' is a segment reference. Variant streams, keys and discontinuities are ignored.
package playlist

import (
	"bufio"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrEmptyManifest is returned when a manifest lists no segments
var ErrEmptyManifest = errors.New("manifest contains no segments")

// Parse returns the segment URLs of a manifest in the order they appear.
// Relative references are resolved against manifestURL and every URL is passed through rw.
// A nil rw leaves resolved URLs untouched.
func Parse(text, manifestURL string, rw *Rewriter) ([]string, error) {
	base, err := url.Parse(manifestURL)
	if err != nil {
		return nil, fmt.Errorf("invalid manifest url %q: %w", manifestURL, err)
	}

	var segments []string
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		resolved, err := Resolve(base, line)
		if err != nil {
			return nil, err
		}
		segments = append(segments, rw.Rewrite(resolved))
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	if len(segments) == 0 {
		return nil, ErrEmptyManifest
	}

	return segments, nil
}

// Resolve turns a segment reference into an absolute URL.
// References that already carry a scheme are returned unchanged.
func Resolve(base *url.URL, ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid segment reference %q: %w", ref, err)
	}
	if u.IsAbs() {
		return ref, nil
	}
	return base.ResolveReference(u).String(), nil
}
