package provision

import (
	"bytes"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mvdan/xurls"
)

// maxInterstitialBytes bounds how much of an HTML warning page is read.
const maxInterstitialBytes = 2 << 20

var confirmParam = regexp.MustCompile(`confirm=([0-9A-Za-z_-]+)`)

// confirmURL inspects a Google Drive large-file warning page and returns the
// URL that downloads the file past it. The page is searched in order for the
// download form, a confirm link, a download_warning cookie, and finally any
// confirm parameter in the raw text. A relative form action is resolved
// against base, the URL the page was served from. Returns
// ErrConfirmationTokenNotFound when none is present.
func confirmURL(body io.Reader, base *url.URL, cookies []*http.Cookie, fileID string) (string, error) {
	page, err := io.ReadAll(io.LimitReader(body, maxInterstitialBytes))
	if err != nil {
		return "", fmt.Errorf("%w: reading warning page: %v", ErrDownload, err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err == nil {
		if next, ok := formURL(doc, base); ok {
			return next, nil
		}
		if tok, ok := linkToken(doc); ok {
			return tokenURL(tok, fileID), nil
		}
	}

	for _, c := range cookies {
		if strings.HasPrefix(c.Name, "download_warning") && c.Value != "" {
			return tokenURL(c.Value, fileID), nil
		}
	}

	for _, line := range strings.Split(html.UnescapeString(string(page)), "\n") {
		if !strings.Contains(line, "confirm=") {
			continue
		}
		for _, found := range xurls.Relaxed.FindAllString(line, -1) {
			if tok := queryToken(found); tok != "" {
				return tokenURL(tok, fileID), nil
			}
		}
		// Script text often carries the link without a host.
		if m := confirmParam.FindStringSubmatch(line); m != nil {
			return tokenURL(m[1], fileID), nil
		}
	}

	return "", ErrConfirmationTokenNotFound
}

// formURL handles the current warning page, which submits a GET form with
// the token and file id as hidden inputs.
func formURL(doc *goquery.Document, base *url.URL) (string, bool) {
	form := doc.Find("form#download-form").First()
	if form.Length() == 0 {
		return "", false
	}
	action, ok := form.Attr("action")
	if !ok || action == "" {
		return "", false
	}

	values := url.Values{}
	form.Find("input[type=hidden]").Each(func(_ int, s *goquery.Selection) {
		name, _ := s.Attr("name")
		value, _ := s.Attr("value")
		if name != "" {
			values.Set(name, value)
		}
	})
	if values.Get("confirm") == "" {
		return "", false
	}

	target, err := url.Parse(action)
	if err != nil {
		return "", false
	}
	if base != nil {
		target = base.ResolveReference(target)
	}
	if !target.IsAbs() {
		return "", false
	}
	q := target.Query()
	for k := range values {
		q.Set(k, values.Get(k))
	}
	target.RawQuery = q.Encode()
	return target.String(), true
}

func linkToken(doc *goquery.Document) (string, bool) {
	var tok string
	doc.Find(`a[href*="confirm="]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		tok = queryToken(href)
		return tok == ""
	})
	return tok, tok != ""
}

// queryToken returns the confirm parameter of a possibly relative URL.
func queryToken(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Query().Get("confirm")
}

func tokenURL(token, fileID string) string {
	return driveDownloadURL + "&confirm=" + url.QueryEscape(token) + "&id=" + url.QueryEscape(fileID)
}
