package main

import (
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

var contentDispositionFilename = regexp.MustCompile(`(?i)filename\*?=(?:UTF-8'')?"?([^";]+)"?`)

// rootDirName derives the extraction output root the same way the
// original tool derived a default filename: from the Content-Disposition
// header when present, otherwise the URL's basename, falling back to
// "ArKT-Magic" when neither yields anything.
func rootDirName(effectiveURL string, headers http.Header) string {
	if cd := headers.Get("Content-Disposition"); cd != "" {
		if m := contentDispositionFilename.FindStringSubmatch(cd); m != nil {
			if decoded, err := url.QueryUnescape(m[1]); err == nil {
				return sanitizeName(decoded)
			}
			return sanitizeName(m[1])
		}
	}
	if u, err := url.Parse(effectiveURL); err == nil {
		if base := path.Base(u.Path); base != "." && base != "/" && base != "" {
			return sanitizeName(base)
		}
	}
	return "ArKT-Magic"
}

// sanitizeName strips path separators and filesystem-reserved characters
// from a candidate file or directory name component.
func sanitizeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)
	replacer := strings.NewReplacer(
		"<", "_", ">", "_", ":", "_", "\"", "_",
		"|", "_", "?", "_", "*", "_",
	)
	name = replacer.Replace(name)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." {
		return "ArKT-Magic"
	}
	return name
}

// fileSink is an io.WriteCloser backing a single extracted member,
// materialized under outDir/name with intermediate directories sanitized
// component by component.
type fileSink struct {
	f *os.File
}

func newFileSink(outDir, memberName string) (*fileSink, error) {
	parts := strings.Split(strings.ReplaceAll(memberName, "\\", "/"), "/")
	for i, p := range parts {
		parts[i] = sanitizeComponent(p)
	}
	rel := filepath.Join(parts...)
	full := filepath.Join(outDir, rel)

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, err
	}
	f, err := os.Create(full)
	if err != nil {
		return nil, err
	}
	return &fileSink{f: f}, nil
}

func sanitizeComponent(p string) string {
	if p == "" || p == "." || p == ".." {
		return "_"
	}
	return sanitizeName(p)
}

func (s *fileSink) Write(p []byte) (int, error) { return s.f.Write(p) }
func (s *fileSink) Close() error                { return s.f.Close() }
