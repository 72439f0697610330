package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"strconv"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Retry configuration
const (
	defaultMaxRetries    = 10               // Maximum number of retry attempts per mirror
	defaultInitialDelay  = 1 * time.Second  // Initial retry delay
	defaultMaxDelay      = 30 * time.Second // Maximum retry delay
	defaultBackoffFactor = 2.0              // Exponential backoff multiplier
)

const (
	defaultWorkers         = 8
	defaultBlockSize int64 = 4 * 1024 * 1024 // 4MB blocks for resume granularity
	copyBufferSize         = 256 * 1024
)

// Fetcher performs range requests against a primary URL and its mirrors,
// streaming bytes into a FileBuffer at absolute offsets. All fetches in the
// process share one weighted semaphore bounding concurrent connections.
type Fetcher struct {
	client        *http.Client
	limiter       *semaphore.Weighted
	rateLimiter   *rate.Limiter
	maxRetries    int
	initialDelay  time.Duration
	maxDelay      time.Duration
	backoffFactor float64
	verbose       bool
}

// NewFetcher builds a Fetcher with the shared connection limiter sized by
// numWorkers and an optional bandwidth limit in bytes per second.
func NewFetcher(numWorkers int, proxyURL string, bandwidthLimit int64, verbose bool) *Fetcher {
	if numWorkers <= 0 {
		numWorkers = 1
	}

	transport := &http.Transport{
		MaxIdleConns:        1000,
		MaxIdleConnsPerHost: 1000,
		MaxConnsPerHost:     0, // No limit; the semaphore bounds connections
		IdleConnTimeout:     90 * time.Second,
		DisableCompression:  true, // We're downloading binary streams
		ForceAttemptHTTP2:   true,
		DisableKeepAlives:   false,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	if proxyURL != "" {
		proxy, err := neturl.Parse(proxyURL)
		if err == nil {
			transport.Proxy = http.ProxyURL(proxy)
		}
	}

	f := &Fetcher{
		client: &http.Client{
			Transport: transport,
			Timeout:   0, // No timeout for downloads; chunks carry their own
		},
		limiter:       semaphore.NewWeighted(int64(numWorkers)),
		maxRetries:    defaultMaxRetries,
		initialDelay:  defaultInitialDelay,
		maxDelay:      defaultMaxDelay,
		backoffFactor: defaultBackoffFactor,
		verbose:       verbose,
	}

	if bandwidthLimit > 0 {
		f.rateLimiter = rate.NewLimiter(rate.Limit(bandwidthLimit), int(bandwidthLimit))
	}

	return f
}

// waitBandwidth blocks until the rate limiter admits n bytes. Reads can be
// larger than the limiter's burst, so the wait is split into burst-sized
// requests; a single WaitN above the burst would error out without waiting.
func (f *Fetcher) waitBandwidth(ctx context.Context, n int) error {
	if f.rateLimiter == nil {
		return nil
	}
	burst := f.rateLimiter.Burst()
	for n > 0 {
		step := n
		if step > burst {
			step = burst
		}
		if err := f.rateLimiter.WaitN(ctx, step); err != nil {
			return fmt.Errorf("bandwidth limit wait failed: %w", err)
		}
		n -= step
	}
	return nil
}

// retryWithBackoff executes fn with exponential backoff retry logic.
func (f *Fetcher) retryWithBackoff(ctx context.Context, operation string, fn func() error) error {
	var lastErr error
	delay := f.initialDelay

	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err

		if attempt == f.maxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s cancelled: %w", operation, ctx.Err())
		default:
		}

		if f.verbose {
			fmt.Printf("Retry %d/%d for %s after error: %v. Waiting %v before retry...\n",
				attempt+1, f.maxRetries, operation, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s cancelled during retry: %w", operation, ctx.Err())
		}

		delay = time.Duration(float64(delay) * f.backoffFactor)
		if delay > f.maxDelay {
			delay = f.maxDelay
		}
	}

	return fmt.Errorf("%s failed after %d retries: %w", operation, f.maxRetries, lastErr)
}

// RemoteSize probes the object size via HEAD, falling back to a GET when the
// server rejects HEAD. Returns unboundedSize when no Content-Length is
// advertised.
func (f *Fetcher) RemoteSize(ctx context.Context, url string) (int64, error) {
	var size int64

	err := f.retryWithBackoff(ctx, "get remote size", func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return err
		}

		resp, err := f.client.Do(req)
		if err != nil {
			return fmt.Errorf("failed to probe size: %w", err)
		}
		resp.Body.Close()

		if resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusForbidden {
			return f.probeSizeViaGet(ctx, url, &size)
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("failed to probe size: status %d", resp.StatusCode)
		}

		length := resp.Header.Get("Content-Length")
		if length == "" {
			size = unboundedSize
			return nil
		}
		size, err = strconv.ParseInt(length, 10, 64)
		if err != nil {
			return fmt.Errorf("failed to parse content length: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return size, nil
}

func (f *Fetcher) probeSizeViaGet(ctx context.Context, url string, size *int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Range", "bytes=0-0")

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to probe size via GET: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1))

	if resp.StatusCode == http.StatusPartialContent {
		// Content-Range: bytes 0-0/total
		var start, end, total int64
		if _, err := fmt.Sscanf(resp.Header.Get("Content-Range"), "bytes %d-%d/%d", &start, &end, &total); err == nil {
			*size = total
			return nil
		}
	}
	if resp.StatusCode == http.StatusOK {
		if length := resp.Header.Get("Content-Length"); length != "" {
			parsed, err := strconv.ParseInt(length, 10, 64)
			if err == nil {
				*size = parsed
				return nil
			}
		}
		*size = unboundedSize
		return nil
	}
	return fmt.Errorf("failed to probe size via GET: status %d", resp.StatusCode)
}

// DownloadBlock fetches one block from the first reachable URL in urls
// (primary first, then mirrors in order), writing bytes into buf at their
// absolute offsets as they arrive. size == unboundedSize streams the whole
// object without a Range header. The call blocks until a limiter slot frees
// up, and a mirror failover resumes from the bytes already received rather
// than restarting the block.
func (f *Fetcher) DownloadBlock(ctx context.Context, urls []string, buf *FileBuffer, offset, size int64) error {
	if len(urls) == 0 {
		return fmt.Errorf("no urls for block at offset %d", offset)
	}

	if err := f.limiter.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("block at offset %d cancelled waiting for a slot: %w", offset, err)
	}
	defer f.limiter.Release(1)

	var received int64
	var lastErr error

	for i, url := range urls {
		err := f.retryWithBackoff(ctx, fmt.Sprintf("download block %d+%d", offset, size), func() error {
			return f.fetchRange(ctx, url, buf, offset, size, &received)
		})
		if err == nil {
			return nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return lastErr
		default:
		}
		if f.verbose && i < len(urls)-1 {
			fmt.Printf("Mirror %d/%d failed for block at %d, trying next: %v\n", i+1, len(urls), offset, err)
		}
	}

	return fmt.Errorf("all %d mirrors exhausted for block at offset %d: %w", len(urls), offset, lastErr)
}

// fetchRange performs a single ranged GET, continuing from *received bytes
// into the block so retries and mirror failovers never re-fetch data.
func (f *Fetcher) fetchRange(ctx context.Context, url string, buf *FileBuffer, offset, size int64, received *int64) error {
	if size != unboundedSize && *received >= size {
		return nil
	}
	if size == unboundedSize {
		// Without a known length there is no range to resume into; restart
		// the stream. The buffer drops bytes already behind its frontier.
		*received = 0
	}

	// Individual blocks get their own timeout to avoid hanging transfers.
	blockCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	req, err := http.NewRequestWithContext(blockCtx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	bounded := size != unboundedSize
	if bounded {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset+*received, offset+size-1))
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("block request at %d failed: %w", offset+*received, err)
	}
	defer resp.Body.Close()

	if bounded {
		// A 200 means the server ignored the Range header; full-object
		// bytes would corrupt the buffer at this offset.
		if resp.StatusCode == http.StatusOK {
			return fmt.Errorf("server does not support range requests (got 200 OK instead of 206 Partial Content)")
		}
		if resp.StatusCode != http.StatusPartialContent {
			return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		}
	} else if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	chunk := make([]byte, copyBufferSize)
	for {
		n, err := resp.Body.Read(chunk)
		if n > 0 {
			if werr := f.waitBandwidth(blockCtx, n); werr != nil {
				return werr
			}
			if werr := buf.WriteAt(chunk[:n], offset+*received); werr != nil {
				return werr
			}
			*received += int64(n)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
	}

	if bounded && *received != size {
		return fmt.Errorf("incomplete block: expected %d bytes, got %d bytes", size, *received)
	}
	return nil
}
