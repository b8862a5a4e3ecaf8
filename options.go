package partitioninfo

import (
	"net/http"

	log "github.com/sirupsen/logrus"
)

// Strictness controls how tolerant table decoding is of damaged metadata.
type Strictness int

const (
	// Permissive tolerates GPT checksum mismatches and falls back to the MBR
	// view when a protective MBR has no readable GPT header.
	Permissive Strictness = iota
	// Strict fails both cases with ErrMalformedTable.
	Strict
)

func (s Strictness) String() string {
	switch s {
	case Permissive:
		return "permissive"
	case Strict:
		return "strict"
	default:
		return "unknown"
	}
}

type config struct {
	sectorSize    int
	strictness    Strictness
	maxChainLinks int
	logger        log.FieldLogger
	compression   string
	tempDir       string
	httpClient    *http.Client
	concurrency   int
}

// Option configures how an image is opened and resolved.
type Option func(*config)

func newConfig(opts []Option) *config {
	c := &config{
		strictness:    Permissive,
		maxChainLinks: defaultMaxChainLink,
		logger:        log.StandardLogger(),
		compression:   CompressionAuto,
		httpClient:    http.DefaultClient,
		concurrency:   8,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithSectorSize overrides sector size detection. Sizes that are not a
// positive multiple of 512 are ignored.
func WithSectorSize(size int) Option {
	return func(c *config) {
		if size > 0 && size%defaultSectorSize == 0 {
			c.sectorSize = size
		}
	}
}

// WithStrictness sets the table decoding policy.
func WithStrictness(s Strictness) Option {
	return func(c *config) {
		c.strictness = s
	}
}

// WithMaxChainLinks bounds the number of extended boot records followed
// before a chain is declared corrupt.
func WithMaxChainLinks(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxChainLinks = n
		}
	}
}

// WithLogger sets the logger used for debug traces and tolerated damage.
func WithLogger(l log.FieldLogger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithCompression forces a decompression algorithm for the image source.
// Use CompressionAuto to sniff the stream, or CompressionNone to read it raw.
func WithCompression(algorithm string) Option {
	return func(c *config) {
		c.compression = algorithm
	}
}

// WithTempDir sets where decompressed images are spooled.
func WithTempDir(dir string) Option {
	return func(c *config) {
		c.tempDir = dir
	}
}

// WithHTTPClient sets the client used for http(s) image sources.
func WithHTTPClient(client *http.Client) Option {
	return func(c *config) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithConcurrency bounds the number of resolutions ResolveAll runs at once.
func WithConcurrency(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.concurrency = n
		}
	}
}
