package sources

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	utls "github.com/refraction-networking/utls"
)

// BrowserClient issues requests shaped like a desktop browser's.
// Consumer session endpoints fingerprint both headers and the TLS
// handshake, so the client rotates header values and can optionally
// present a Chrome ClientHello via utls (USAGEDECK_UTLS=1).
type BrowserClient struct {
	client     *http.Client
	userAgents []string
	langs      []string
	rng        *rand.Rand
	mu         sync.Mutex
	defaultUA  string
}

// NewBrowserClient builds a client with the given per-request timeout.
func NewBrowserClient(timeout time.Duration) *BrowserClient {
	useUTLS := strings.TrimSpace(os.Getenv("USAGEDECK_UTLS")) == "1"
	return &BrowserClient{
		client: &http.Client{
			Timeout:   timeout,
			Transport: newBrowserTransport(useUTLS),
		},
		userAgents: []string{
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.3 Safari/605.1.15",
			"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
		},
		langs:     []string{"en-US,en;q=0.9", "en-GB,en;q=0.8"},
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		defaultUA: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	}
}

func (bc *BrowserClient) Do(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("nil request")
	}
	bc.applyHeaders(req)
	return bc.client.Do(req)
}

func (bc *BrowserClient) applyHeaders(req *http.Request) {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	ua := bc.defaultUA
	if len(bc.userAgents) > 0 {
		ua = bc.userAgents[bc.rng.Intn(len(bc.userAgents))]
	}
	lang := "en-US,en;q=0.9"
	if len(bc.langs) > 0 {
		lang = bc.langs[bc.rng.Intn(len(bc.langs))]
	}

	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", ua)
	}
	if req.Header.Get("Accept-Language") == "" {
		req.Header.Set("Accept-Language", lang)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json, text/plain, */*")
	}
	if req.Header.Get("Sec-CH-UA-Platform") == "" {
		req.Header.Set("Sec-CH-UA-Platform", `"Windows"`)
	}
}

func newBrowserTransport(useUTLS bool) http.RoundTripper {
	if !useUTLS {
		return &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout: 10 * time.Second,
			MaxIdleConns:        100,
			IdleConnTimeout:     90 * time.Second,
		}
	}

	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			dialer := &net.Dialer{Timeout: 10 * time.Second}
			rawConn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			host := addr
			if strings.Contains(addr, ":") {
				host, _, _ = net.SplitHostPort(addr)
			}
			config := &utls.Config{
				ServerName: host,
				NextProtos: []string{"h2", "http/1.1"},
			}
			uconn := utls.UClient(rawConn, config, utls.HelloChrome_120)
			if err := uconn.Handshake(); err != nil {
				_ = rawConn.Close()
				return nil, err
			}
			return uconn, nil
		},
		TLSHandshakeTimeout: 10 * time.Second,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
	}
}
