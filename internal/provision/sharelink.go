package provision

import (
	"net/url"
	"strings"
)

// Provider names reported by ResolveLink.
const (
	ProviderOneDrive    = "onedrive"
	ProviderGoogleDrive = "gdrive"
	ProviderDropbox     = "dropbox"
	ProviderPassthrough = "passthrough"
)

const driveDownloadURL = "https://drive.google.com/uc?export=download"

// Link is a share link resolved to a direct-download URL.
type Link struct {
	// Provider is the name of the strategy that matched.
	Provider string

	// Share is the original share link.
	Share string

	// Direct is the URL to download bytes from.
	Direct string

	// FileID is the provider file identifier, when the provider has one.
	FileID string
}

// linkStrategy rewrites share links of one provider.
type linkStrategy struct {
	name    string
	match   func(u *url.URL) bool
	rewrite func(raw string, u *url.URL) Link
}

// strategies are tried in order; the first match wins.
var strategies = []linkStrategy{
	{name: ProviderOneDrive, match: isOneDrive, rewrite: rewriteOneDrive},
	{name: ProviderGoogleDrive, match: isGoogleDrive, rewrite: rewriteGoogleDrive},
	{name: ProviderDropbox, match: isDropbox, rewrite: rewriteDropbox},
}

// ResolveLink derives a direct-download URL from a share link. Links whose
// host matches no strategy, or that cannot be parsed, are returned unmodified
// with Provider set to ProviderPassthrough.
func ResolveLink(raw string) Link {
	u, err := url.Parse(raw)
	if err == nil {
		for _, s := range strategies {
			if s.match(u) {
				l := s.rewrite(raw, u)
				l.Provider = s.name
				l.Share = raw
				return l
			}
		}
	}
	return Link{Provider: ProviderPassthrough, Share: raw, Direct: raw}
}

func hostIs(u *url.URL, domain string) bool {
	h := strings.ToLower(u.Hostname())
	return h == domain || strings.HasSuffix(h, "."+domain)
}

func isOneDrive(u *url.URL) bool {
	return hostIs(u, "onedrive.live.com") || hostIs(u, "1drv.ms")
}

func rewriteOneDrive(raw string, u *url.URL) Link {
	if hostIs(u, "1drv.ms") {
		return Link{Direct: appendQuery(raw, "download=1")}
	}
	if strings.Contains(u.Path, "view.aspx") {
		return Link{Direct: strings.Replace(raw, "view.aspx", "download.aspx", 1)}
	}
	return Link{Direct: raw}
}

func isGoogleDrive(u *url.URL) bool {
	return hostIs(u, "drive.google.com")
}

func rewriteGoogleDrive(raw string, u *url.URL) Link {
	id, ok := driveFileID(u)
	if !ok {
		return Link{Direct: raw}
	}
	return Link{Direct: driveDownloadURL + "&id=" + url.QueryEscape(id), FileID: id}
}

// DriveFileID extracts the file identifier from a Google Drive share link of
// the form ".../file/d/<id>/..." or "...?id=<id>".
func DriveFileID(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil || !isGoogleDrive(u) {
		return "", false
	}
	return driveFileID(u)
}

func driveFileID(u *url.URL) (string, bool) {
	if _, rest, ok := strings.Cut(u.Path, "/file/d/"); ok {
		id, _, _ := strings.Cut(rest, "/")
		return id, id != ""
	}
	if id := u.Query().Get("id"); id != "" {
		return id, true
	}
	return "", false
}

func isDropbox(u *url.URL) bool {
	return hostIs(u, "dropbox.com")
}

func rewriteDropbox(raw string, u *url.URL) Link {
	switch {
	case strings.Contains(raw, "?dl=0"):
		return Link{Direct: strings.Replace(raw, "?dl=0", "?dl=1", 1)}
	case strings.Contains(raw, "&dl=0"):
		return Link{Direct: strings.Replace(raw, "&dl=0", "&dl=1", 1)}
	case u.Query().Has("dl"):
		return Link{Direct: raw}
	}
	return Link{Direct: appendQuery(raw, "dl=1")}
}

// appendQuery adds a raw "key=value" pair, keeping any fragment last.
func appendQuery(raw, kv string) string {
	base, frag, hasFrag := strings.Cut(raw, "#")
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	out := base + sep + kv
	if hasFrag {
		out += "#" + frag
	}
	return out
}
