package triage

import (
	"net/url"
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

// driveLetterPath matches a URL path like "/C:/Users/..." produced by
// url.Parse on a file:///C:/... URI, where the leading slash is an
// artifact of the URI and not part of the Windows path.
var driveLetterPath = regexp.MustCompile(`^/[A-Za-z]:/`)

// windowsPath matches a bare Windows absolute path ("C:/..." or "C:\...")
// once the leading URI slash has already been stripped. filepath.IsAbs is
// host-OS-dependent and returns false for these on a non-Windows analyzer
// host, so they need their own absoluteness check.
var windowsPath = regexp.MustCompile(`^[A-Za-z]:[/\\]`)

// ResolvePath turns one SARIF artifactLocation.uri into a filesystem path
// usable to read source context. Absolute paths are returned cleaned as-is;
// relative paths are joined onto projectRoot; file: URIs
// (including Windows drive-letter and UNC forms, and percent-encoded
// segments) are decoded first.
func ResolvePath(projectRoot, uri string) string {
	p := uri
	if strings.HasPrefix(uri, "file://") {
		p = decodeFileURI(uri)
	}
	if strings.HasPrefix(p, "//") {
		// Clean collapses the leading "//" of a UNC path; put it back.
		return "/" + path.Clean(p)
	}
	if windowsPath.MatchString(p) {
		return filepath.Clean(p)
	}
	p = filepath.FromSlash(p)
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Clean(filepath.Join(projectRoot, p))
}

func decodeFileURI(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return strings.TrimPrefix(uri, "file://")
	}
	p := u.Path
	if u.Host != "" && u.Host != "localhost" {
		// UNC form: file://host/share/path -> //host/share/path
		return "//" + u.Host + p
	}
	if driveLetterPath.MatchString(p) {
		// file:///C:/foo -> C:/foo
		p = p[1:]
	}
	return p
}
