// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package modload

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dsnet/compress/brotli"
	"golang.org/x/sync/singleflight"
	"punchdrunk.256lights.llc/pkg/internal/luacode"
	"punchdrunk.256lights.llc/pkg/internal/useragent"
	"zombiezen.com/go/log"
	"zombiezen.com/go/uritemplate"
)

// DefaultTemplate is the URI template used by [HTTPLoader]
// when its Template field is empty.
const DefaultTemplate = "{+path}"

// HTTPLoader is a [Fetcher] that downloads chunks over HTTP.
type HTTPLoader struct {
	// Base is the URL that expanded templates are resolved against.
	// It must be non-nil.
	Base *url.URL
	// Template is an [RFC 6570] URI template
	// with a single variable "path" set to the candidate path.
	// If empty, [DefaultTemplate] is used.
	//
	// [RFC 6570]: https://datatracker.ietf.org/doc/html/rfc6570
	Template string
	// Client is used to make HTTP requests.
	// If nil, [http.DefaultClient] is used.
	Client *http.Client

	// Cache is an optional cache of previously downloaded chunks.
	Cache *Cache
	// MaxAge is how long a cached chunk remains fresh.
	// Zero means cached entries never expire.
	MaxAge time.Duration
	// Now returns the current time for cache bookkeeping.
	// If nil, [time.Now] is used.
	Now func() time.Time

	// inflight deduplicates concurrent downloads of the same URL.
	inflight singleflight.Group
}

func (l *HTTPLoader) client() *http.Client {
	if l.Client == nil {
		return http.DefaultClient
	}
	return l.Client
}

func (l *HTTPLoader) now() time.Time {
	if l.Now == nil {
		return time.Now()
	}
	return l.Now()
}

// URL returns the URL that the candidate path p is fetched from.
func (l *HTTPLoader) URL(p string) (*url.URL, error) {
	if l.Base == nil {
		return nil, fmt.Errorf("expand %s: base url missing", p)
	}
	tmpl := l.Template
	if tmpl == "" {
		tmpl = DefaultTemplate
	}
	href, err := uritemplate.Expand(tmpl, map[string]any{
		"path": strings.TrimPrefix(p, "/"),
	})
	if err != nil {
		return nil, fmt.Errorf("expand %s: %v", p, err)
	}
	u, err := url.Parse(href)
	if err != nil {
		return nil, fmt.Errorf("expand %s: %v", p, err)
	}
	return l.Base.ResolveReference(u), nil
}

// Fetch downloads the chunk for the candidate path p.
// An HTTP 404 response is reported as a missing chunk.
// If a cache is configured, fresh entries are served from the cache
// and successful downloads are validated and stored in it.
func (l *HTTPLoader) Fetch(ctx context.Context, p string) (data []byte, location string, err error) {
	u, err := l.URL(p)
	if err != nil {
		return nil, "", err
	}
	location = u.Redacted()

	if l.Cache != nil {
		var notBefore time.Time
		if l.MaxAge > 0 {
			notBefore = l.now().Add(-l.MaxAge)
		}
		data, err := l.Cache.Get(ctx, location, notBefore)
		if err == nil {
			log.Debugf(ctx, "Using cached %s", location)
			return data, location, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			log.Warnf(ctx, "Reading chunk cache: %v", err)
		}
	}

	v, err, _ := l.inflight.Do(u.String(), func() (any, error) {
		return fetch(ctx, l.client(), u, chunkAccept)
	})
	data, _ = v.([]byte)
	if statusCode, _ := errorStatusCode(err); statusCode == http.StatusNotFound {
		log.Debugf(ctx, "Chunk not found: %v", err)
		return nil, "", fmt.Errorf("fetch %s: %w", location, fs.ErrNotExist)
	}
	if err != nil {
		return nil, "", err
	}

	if l.Cache != nil {
		proto, err := luacode.Decode(location, data)
		if err != nil {
			// Let the resolver report the decode error.
			return data, location, nil
		}
		if err := l.Cache.Put(ctx, location, proto, l.now()); err != nil {
			log.Warnf(ctx, "Writing chunk cache: %v", err)
		}
	}
	return data, location, nil
}

// chunkAccept is the Accept header sent when fetching chunks.
const chunkAccept = "application/cbor,application/json;q=0.9,application/octet-stream;q=0.8,*/*;q=0.5"

func fetch(ctx context.Context, client *http.Client, u *url.URL, accept string) ([]byte, error) {
	req := (&http.Request{
		Method: http.MethodGet,
		URL:    u,
		Header: http.Header{
			"Accept":          {accept},
			"Accept-Encoding": {acceptEncoding},
			"User-Agent":      {useragent.String},
		},
	}).WithContext(ctx)
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %v: %v", u.Redacted(), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %v: %w", u.Redacted(), &httpError{
			statusCode: resp.StatusCode,
			status:     resp.Status,
		})
	}
	const mebibyte = 1 << 20
	const maxSize = 4 * mebibyte
	if resp.ContentLength > maxSize {
		return nil, fmt.Errorf("fetch %v: response too large (%.1f MiB)", u.Redacted(), float64(resp.ContentLength)/mebibyte)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSize))
	if err != nil {
		return nil, fmt.Errorf("fetch %v: %v", u.Redacted(), err)
	}
	if resp.ContentLength == -1 && len(data) == maxSize {
		if n, _ := resp.Body.Read(make([]byte, 1)); n > 0 {
			return nil, fmt.Errorf("fetch %v: response too large", u.Redacted())
		}
	}
	if e := resp.Header.Get("Content-Encoding"); e != "" {
		dec, err := decodeBody(bytes.NewReader(data), e)
		if err != nil {
			return nil, fmt.Errorf("fetch %v: %v", u.Redacted(), err)
		}
		defer dec.Close()
		data, err = io.ReadAll(io.LimitReader(dec, maxSize+1))
		if err != nil {
			return nil, fmt.Errorf("fetch %v: %v", u.Redacted(), err)
		}
		if len(data) > maxSize {
			return nil, fmt.Errorf("fetch %v: decoded response too large", u.Redacted())
		}
	}
	return data, nil
}

// acceptEncoding is the value of an [Accept-Encoding header]
// that advertises the algorithms that [decodeBody] supports.
//
// [Accept-Encoding header]: https://developer.mozilla.org/en-US/docs/Web/HTTP/Reference/Headers/Accept-Encoding
const acceptEncoding = "br,gzip,deflate"

func decodeBody(r io.Reader, contentEncoding string) (io.ReadCloser, error) {
	switch contentEncoding {
	case "", "identity":
		return io.NopCloser(r), nil
	case "br":
		return brotli.NewReader(r, nil)
	case "gzip", "x-gzip":
		return gzip.NewReader(r)
	case "deflate":
		return flate.NewReader(r), nil
	default:
		return nil, fmt.Errorf("unsupported Content-Encoding %s", contentEncoding)
	}
}

type httpError struct {
	statusCode int
	status     string
}

func (e *httpError) Error() string {
	status := e.status
	if status == "" {
		status = http.StatusText(e.statusCode)
		if status == "" {
			status = strconv.Itoa(e.statusCode)
		}
	}
	return "http " + status
}

func errorStatusCode(err error) (statusCode int, ok bool) {
	if err == nil {
		return http.StatusOK, false
	}
	var h *httpError
	if !errors.As(err, &h) {
		return http.StatusInternalServerError, false
	}
	return h.statusCode, true
}
