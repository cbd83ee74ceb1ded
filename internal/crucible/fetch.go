package crucible

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/pgzip"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
	"lukechampine.com/blake3"
)

const (
	fetchChunkSize = 4096
	fetchRetries   = 3
	fetchBaseDelay = 5 * time.Second
)

// errNotFound marks a 404-class response. Retrying cannot change a
// missing-resource outcome, so the retry loop surfaces it immediately.
var errNotFound = errors.New("resource not found")

func newHTTPClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}

	// Increase TLS handshake timeout to handle slow mirrors.
	// Default is 10s, we increase it to 30s.
	transport.TLSHandshakeTimeout = 30 * time.Second

	return &http.Client{Transport: transport}
}

// Fetcher downloads external archives with bounded retries. The client
// and sleep function are fields so tests can inject a fake transport and
// skip the backoff waits.
type Fetcher struct {
	client    *http.Client
	retries   int
	baseDelay time.Duration
	sleep     func(time.Duration)
	quiet     bool
}

func NewFetcher() *Fetcher {
	return &Fetcher{
		client:    newHTTPClient(),
		retries:   fetchRetries,
		baseDelay: fetchBaseDelay,
		sleep:     time.Sleep,
	}
}

// DownloadURL streams url into out. On a transient failure the output is
// truncated back to byte zero and the attempt repeated with a doubling
// delay, up to the retry budget. A 404 is returned without retrying.
func (f *Fetcher) DownloadURL(url string, out *os.File) error {
	attemptsLeft := f.retries
	delay := f.baseDelay
	for {
		err := f.downloadOnce(url, out)
		if err == nil {
			return nil
		}
		if errors.Is(err, errNotFound) || attemptsLeft == 0 {
			return err
		}
		attemptsLeft--
		cPrintf(colWarn, "Download of %s failed: %v\n", url, err)
		cPrintf(colWarn, "Retrying in %s ...\n", delay)

		// A retry always starts from byte zero; a truncated file must
		// never survive into the next attempt.
		if _, err := out.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("failed to rewind output: %w", err)
		}
		if err := out.Truncate(0); err != nil {
			return fmt.Errorf("failed to truncate output: %w", err)
		}

		f.sleep(delay)
		delay *= 2
	}
}

func (f *Fetcher) downloadOnce(url string, out io.Writer) error {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	// Ask for a compressed transfer and decode it ourselves, so the
	// byte count below refers to what the server actually sent.
	req.Header.Set("Accept-Encoding", "gzip")

	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return fmt.Errorf("%w: %s returned %s", errNotFound, url, resp.Status)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("unexpected status for %s: %s", url, resp.Status)
	}

	counter := &countingReader{r: resp.Body}
	if !f.quiet && term.IsTerminal(int(os.Stdout.Fd())) {
		counter.bar = progressbar.DefaultBytes(resp.ContentLength, "Downloading "+path.Base(url))
		defer counter.bar.Finish()
	}

	// If the transfer itself is gzipped, decompress inline: archive kind
	// detection downstream must see the logical content.
	var body io.Reader = counter
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		gz, err := pgzip.NewReader(counter)
		if err != nil {
			return fmt.Errorf("failed to create gzip reader: %w", err)
		}
		defer gz.Close()
		body = gz
	}

	if _, err := io.CopyBuffer(out, body, make([]byte, fetchChunkSize)); err != nil {
		return fmt.Errorf("transfer from %s interrupted: %w", url, err)
	}

	// A declared length that does not match what arrived means the
	// connection dropped mid-stream; the file on disk is garbage.
	if resp.ContentLength >= 0 && counter.n != resp.ContentLength {
		return fmt.Errorf("only got %d of %d bytes from %s", counter.n, resp.ContentLength, url)
	}
	return nil
}

type countingReader struct {
	r   io.Reader
	n   int64
	bar *progressbar.ProgressBar
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	if c.bar != nil && n > 0 {
		_ = c.bar.Add(n)
	}
	return n, err
}

// cacheKey prefixes the cached archive filename so that a version bump
// invalidates stale downloads of a same-named archive. It keys the cache
// only; cached content is trusted by location, not verified.
func cacheKey(name, version, url string) string {
	h := blake3.New(32, nil)
	h.Write([]byte(name + "@" + version + "#" + url))
	return fmt.Sprintf("%x", h.Sum(nil)[:8])
}

// DownloadAndUnpack fetches url (or opens it directly when it is an
// already-local archive) and extracts it into outputDir. A non-nil
// pathPrefixes restricts extraction to matching members and is only
// valid for tar archives.
func (f *Fetcher) DownloadAndUnpack(url, outputDir string, pathPrefixes []string, knownZip bool) error {
	if !strings.Contains(url, "://") {
		src, err := os.Open(url)
		if err != nil {
			return fmt.Errorf("failed to open local archive %s: %w", url, err)
		}
		defer src.Close()
		if err := ensureDir(outputDir); err != nil {
			return err
		}
		return unpackArchive(url, src, outputDir, pathPrefixes, knownZip)
	}

	tmp, err := os.CreateTemp("", "crucible-fetch-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if err := f.DownloadURL(url, tmp); err != nil {
		return err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if err := ensureDir(outputDir); err != nil {
		return err
	}
	return unpackArchive(url, tmp, outputDir, pathPrefixes, knownZip)
}

// FetchArtifact downloads the artifact's archive into the workspace tool
// cache (reusing a previously fetched copy) and unpacks it into the
// artifact's destination directory.
func (f *Fetcher) FetchArtifact(a Artifact, cacheDir, outputDir string) error {
	if a.ArchivePath != "" {
		return f.DownloadAndUnpack(a.ArchivePath, outputDir, nil, false)
	}

	if err := ensureDir(cacheDir); err != nil {
		return fmt.Errorf("failed to create tool cache: %w", err)
	}
	cached := filepath.Join(cacheDir, cacheKey(a.Name, a.Version, a.URL)+"-"+path.Base(a.URL))

	if !fileExists(cached) {
		out, err := os.Create(cached)
		if err != nil {
			return fmt.Errorf("failed to create cache file: %w", err)
		}
		if err := f.DownloadURL(a.URL, out); err != nil {
			out.Close()
			os.Remove(cached)
			return err
		}
		out.Close()
	} else {
		debugf("Already in cache: %s\n", cached)
	}

	return f.DownloadAndUnpack(cached, outputDir, nil, false)
}
