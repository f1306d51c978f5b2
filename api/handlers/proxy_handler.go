package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/episode-offline-go/pkg/playlist"
)

// forwarded request and response headers of the edge proxy
var (
	proxyRequestHeaders  = []string{"Range", "If-None-Match", "If-Modified-Since"}
	proxyResponseHeaders = []string{"Content-Type", "Content-Length", "Content-Range", "Accept-Ranges", "ETag", "Last-Modified", "Cache-Control"}
)

var errHostNotAllowed = errors.New("host is not allowed")

// ProxyHandler streams upstream segments for rewritten manifest URLs
type ProxyHandler struct {
	client       *http.Client
	allowedHosts map[string]bool
	rewriter     *playlist.Rewriter
	logger       *zap.Logger
}

// NewProxyHandler creates a proxy handler.
//
// Targets are checked against allowedHosts when it is non-empty. Otherwise an
// enabled rewriter limits them to hosts of segments it has rewritten, and with
// neither every host is reachable.
func NewProxyHandler(client *http.Client, allowedHosts []string, rewriter *playlist.Rewriter, logger *zap.Logger) *ProxyHandler {
	if client == nil {
		client = http.DefaultClient
	}
	allowed := make(map[string]bool, len(allowedHosts))
	for _, h := range allowedHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			allowed[h] = true
		}
	}
	return &ProxyHandler{client: client, allowedHosts: allowed, rewriter: rewriter, logger: logger}
}

func (h *ProxyHandler) hostAllowed(host string) bool {
	host = strings.ToLower(host)
	switch {
	case len(h.allowedHosts) > 0:
		return h.allowedHosts[host]
	case h.rewriter.Enabled():
		return h.rewriter.Routes(host)
	default:
		return true
	}
}

// validateTarget accepts absolute http(s) URLs whose host is allowed
func (h *ProxyHandler) validateTarget(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, errors.New("query parameter 'url' is required")
	}
	target, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", target.Scheme)
	}
	if target.Host == "" {
		return nil, errors.New("url must be absolute")
	}
	if !h.hostAllowed(target.Hostname()) {
		return nil, fmt.Errorf("%w: %s", errHostNotAllowed, target.Hostname())
	}
	return target, nil
}

// Proxy handles GET /proxy?url=
func (h *ProxyHandler) Proxy(c *gin.Context) {
	target, err := h.validateTarget(c.Query("url"))
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errHostNotAllowed) {
			status = http.StatusForbidden
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodGet, target.String(), nil)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	for _, name := range proxyRequestHeaders {
		if v := c.GetHeader(name); v != "" {
			req.Header.Set(name, v)
		}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		h.logger.Warn("Proxy upstream request failed", zap.String("url", target.String()), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream request failed"})
		return
	}
	defer resp.Body.Close()

	for _, name := range proxyResponseHeaders {
		if v := resp.Header.Get(name); v != "" {
			c.Header(name, v)
		}
	}
	c.Status(resp.StatusCode)

	if _, err := io.Copy(c.Writer, resp.Body); err != nil {
		h.logger.Debug("Proxy stream interrupted", zap.String("url", target.String()), zap.Error(err))
	}
}
