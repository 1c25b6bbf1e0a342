package mount

import (
	"net/url"
	"strings"

	"github.com/PelicanWorks/mountkeeper/internal/models"
)

// schemeForFSType maps a reported filesystem type to the URL scheme used
// in profile connection targets.
func schemeForFSType(fstype models.FilesystemType) string {
	switch fstype {
	case models.FSTypeSMB, models.FSTypeCIFS:
		return "smb"
	case models.FSTypeAFP:
		return "afp"
	case models.FSTypeNFS:
		return "nfs"
	case models.FSTypeWebDAV:
		return "http"
	default:
		return ""
	}
}

// CanonicalURL builds a full URL from a filesystem-reported source
// string, prefixing the scheme implied by the filesystem type when the
// source lacks one (e.g. "//nas.local/share" typed smbfs becomes
// "smb://nas.local/share").
func CanonicalURL(source string, fstype models.FilesystemType) string {
	if strings.Contains(source, "://") {
		return source
	}

	scheme := schemeForFSType(fstype)
	if scheme == "" {
		return source
	}

	if strings.HasPrefix(source, "//") {
		return scheme + ":" + source
	}
	return scheme + "://" + source
}

// NormalizeURL reduces a URL to a comparable form: percent-encoding
// removed, trailing slashes trimmed, scheme and host lowercased.
// User-entered and filesystem-reported URLs for the same share differ in
// exactly these cosmetic ways.
func NormalizeURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" {
		decoded, derr := url.PathUnescape(raw)
		if derr != nil {
			decoded = raw
		}
		return strings.TrimRight(decoded, "/")
	}

	host := strings.ToLower(parsed.Host)
	path, derr := url.PathUnescape(parsed.EscapedPath())
	if derr != nil {
		path = parsed.Path
	}

	normalized := strings.ToLower(parsed.Scheme) + "://"
	if parsed.User != nil {
		normalized += parsed.User.Username() + "@"
	}
	normalized += host + path
	return strings.TrimRight(normalized, "/")
}

// mergePreservedPort re-applies the original URL's port to the actual URL
// when the actual lacks one. DNS- or fs-reported sources drop custom
// ports that the user-entered target relied on.
func mergePreservedPort(actualURL, originalURL string) string {
	actual, err := url.Parse(actualURL)
	if err != nil || actual.Host == "" {
		return actualURL
	}
	if actual.Port() != "" {
		return actualURL
	}

	original, err := url.Parse(originalURL)
	if err != nil || original.Port() == "" {
		return actualURL
	}

	actual.Host = actual.Hostname() + ":" + original.Port()
	return actual.String()
}

// shareNameFromURL derives a human-readable profile name from a URL:
// the last path element, falling back to the host.
func shareNameFromURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	path := strings.TrimRight(parsed.Path, "/")
	if idx := strings.LastIndex(path, "/"); idx >= 0 && idx+1 < len(path) {
		name, derr := url.PathUnescape(path[idx+1:])
		if derr == nil {
			return name
		}
		return path[idx+1:]
	}
	if parsed.Hostname() != "" {
		return parsed.Hostname()
	}
	return raw
}
