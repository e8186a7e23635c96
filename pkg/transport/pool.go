package transport

import (
	"crypto/tls"
	"net/http"
	"net/url"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// clientPoolSize bounds the generic transport's per-proxy-URL client
// pool, per spec.md §4.6 ("one client is built per distinct proxy URL
// and pooled in a bounded LRU of 64 entries").
const clientPoolSize = 64

// urlCacheSize bounds the parsed-URL/URI caches; on overflow the whole
// cache is cleared rather than evicted entry-by-entry, since spec.md
// treats it as a startup warm-up rather than a steady-state LRU.
const urlCacheSize = 512

// GenericTransport is the reqwest-style client family: per-upstream
// proxy support with env-proxy fallback, one *http.Client per distinct
// proxy URL.
type GenericTransport struct {
	useEnvProxy bool
	pool        *lru.Cache[string, *http.Client]
	directOnce  sync.Once
	direct      *http.Client
}

func NewGenericTransport(useEnvProxy bool) *GenericTransport {
	pool, err := lru.New[string, *http.Client](clientPoolSize)
	if err != nil {
		// Only fails for a non-positive size, which clientPoolSize never is.
		panic("transport: lru.New: " + err.Error())
	}
	return &GenericTransport{useEnvProxy: useEnvProxy, pool: pool}
}

func (g *GenericTransport) clientFor(proxyURL string) (*http.Client, error) {
	if proxyURL == "" && !g.useEnvProxy {
		g.directOnce.Do(func() {
			g.direct = &http.Client{Transport: &http.Transport{TLSClientConfig: &tls.Config{}}}
		})
		return g.direct, nil
	}

	key := proxyURL
	if c, ok := g.pool.Get(key); ok {
		return c, nil
	}

	tr := &http.Transport{TLSClientConfig: &tls.Config{}}
	if proxyURL != "" {
		parsed, err := url.Parse(proxyURL)
		if err != nil {
			return nil, err
		}
		tr.Proxy = http.ProxyURL(parsed)
	} else {
		tr.Proxy = http.ProxyFromEnvironment
	}
	c := &http.Client{Transport: tr}
	g.pool.Add(key, c)
	return c, nil
}

// PassthroughTransport is the hyper-style direct client family used
// for the raw-passthrough path: no proxying, separate HTTP/HTTPS
// clients and an optional H2-only client for h2c upstreams. It is only
// used when env-proxy is disabled and the request has no per-request
// proxy, avoiding double buffering for streaming.
type PassthroughTransport struct {
	httpsOnce sync.Once
	https     *http.Client
	httpOnce  sync.Once
	plainHTTP *http.Client
	h2cOnce   sync.Once
	h2c       *http.Client
	forceH2C  bool
}

func NewPassthroughTransport(forceH2C bool) *PassthroughTransport {
	return &PassthroughTransport{forceH2C: forceH2C}
}

func (p *PassthroughTransport) httpsClient() *http.Client {
	p.httpsOnce.Do(func() {
		p.https = &http.Client{Transport: &http.Transport{
			TLSClientConfig:     &tls.Config{},
			ForceAttemptHTTP2:   true,
			MaxIdleConnsPerHost: 32,
			IdleConnTimeout:     90 * time.Second,
		}}
	})
	return p.https
}

func (p *PassthroughTransport) httpClient() *http.Client {
	p.httpOnce.Do(func() {
		p.plainHTTP = &http.Client{Transport: &http.Transport{
			MaxIdleConnsPerHost: 32,
			IdleConnTimeout:     90 * time.Second,
		}}
	})
	return p.plainHTTP
}

func (p *PassthroughTransport) h2cClient() *http.Client {
	p.h2cOnce.Do(func() {
		p.h2c = &http.Client{Transport: &http.Transport{
			MaxIdleConnsPerHost: 32,
			IdleConnTimeout:     90 * time.Second,
			// h2c (HTTP/2 over plaintext) requires a custom DialTLS-less
			// transport in production; the effective upgrade mechanism is
			// configured at startup via http_force_h2c_upstream and is out
			// of this package's scope to negotiate — it reuses the plain
			// HTTP client's connection pool shape.
		}}
	})
	return p.h2c
}

// clientFor picks the HTTPS, plain-HTTP, or h2c-forced client by URL
// scheme and the per-upstream http_force_h2c_upstream flag. h2c cannot
// be detected from scheme alone, so the caller plumbs the flag
// through explicitly.
func (p *PassthroughTransport) clientFor(scheme string, forceH2C bool) *http.Client {
	if forceH2C {
		return p.h2cClient()
	}
	if scheme == "https" {
		return p.httpsClient()
	}
	return p.httpClient()
}

// Eligible reports whether the passthrough family may be used for this
// send: only when env-proxy is globally disabled and no per-request
// proxy applies.
func Eligible(envProxyEnabled bool, perRequestProxy string) bool {
	return !envProxyEnabled && perRequestProxy == ""
}
