package mcpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/kiln/internal/images"
)

const maxRedirects = 5

var errBlockedHost = errors.New("blocked host")

type addImageResult struct {
	*images.Image
	Created bool `json:"created"`
}

func (s *Server) addImage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	src, err := req.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	name := req.GetString("name", "")

	data, hint, err := fetchImage(ctx, src)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if name == "" {
		name = hint
	}
	origin := src
	if strings.HasPrefix(src, "data:") {
		origin = ""
	}

	img, created, err := s.images.Add(name, data, origin)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(addImageResult{Image: img, Created: created}, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listImages(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	list, err := s.images.List()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if list == nil {
		list = []*images.Image{}
	}
	out, _ := json.MarshalIndent(list, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

// fetchImage returns the bytes behind a data URI or an http(s) URL, with the
// URL's base name as a naming hint.
func fetchImage(ctx context.Context, src string) ([]byte, string, error) {
	if rest, ok := strings.CutPrefix(src, "data:"); ok {
		data, err := decodeDataURI(rest)
		return data, "", err
	}

	u, err := url.Parse(src)
	if err != nil {
		return nil, "", fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, "", fmt.Errorf("unsupported scheme %q: use http, https or data", u.Scheme)
	}
	if err := allowHost(u.Hostname()); err != nil {
		return nil, "", err
	}

	client := &http.Client{
		Timeout: 30 * time.Second,
		CheckRedirect: func(r *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return allowHost(r.URL.Hostname())
		},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download: %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, images.MaxSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("download: %w", err)
	}
	return data, path.Base(u.Path), nil
}

// decodeDataURI decodes the part of a base64 data URI after "data:". The
// declared media type is ignored; the library sniffs the content.
func decodeDataURI(rest string) ([]byte, error) {
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok || !strings.HasSuffix(meta, ";base64") {
		return nil, errors.New("data URI must be base64 encoded")
	}
	if !strings.HasPrefix(meta, "image/") {
		return nil, fmt.Errorf("data URI media type %q is not an image", strings.TrimSuffix(meta, ";base64"))
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		if data, err = base64.RawStdEncoding.DecodeString(payload); err != nil {
			return nil, fmt.Errorf("data URI: %w", err)
		}
	}
	return data, nil
}

// allowHost rejects hosts resolving to loopback, private, link-local or
// unspecified addresses.
func allowHost(host string) error {
	ips := []net.IP{net.ParseIP(host)}
	if ips[0] == nil {
		resolved, err := net.LookupIP(host)
		if err != nil {
			return nil //nolint:nilerr // the client reports resolution failures
		}
		ips = resolved
	}
	for _, ip := range ips {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
			return fmt.Errorf("%w: %s", errBlockedHost, host)
		}
	}
	return nil
}
