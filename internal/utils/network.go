package utils

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

var filenameRegex = regexp.MustCompile(`[^a-zA-Z0-9_\-\. ]+`)

// NetworkClient is the single place where outbound requests are built,
// so probes and chunk fetches share headers and retry behavior.
type NetworkClient struct {
	http   *VidzoHTTPClient
	policy RetryPolicy
}

func NewNetworkClient(cfg HTTPClientConfig, maxRetries int) *NetworkClient {
	return &NetworkClient{
		http:   NewVidzoHTTPClient(cfg),
		policy: DefaultRetryPolicy(maxRetries),
	}
}

func (c *NetworkClient) RetryPolicy() RetryPolicy {
	return c.policy
}

func (c *NetworkClient) SetRetryPolicy(p RetryPolicy) {
	c.policy = p
}

// RangeHeader builds the value of a Range header; end == OpenEnded asks
// for everything from start onwards.
func RangeHeader(start, end int64) string {
	if end < 0 {
		return fmt.Sprintf("bytes=%d-", start)
	}
	return fmt.Sprintf("bytes=%d-%d", start, end)
}

// FetchHead probes a resource for its size and range support. It never
// fails: an unusable probe yields an unknown size without range support.
func (c *NetworkClient) FetchHead(ctx context.Context, link string) HeadInfo {
	unknown := HeadInfo{TotalSize: -1}
	info, err := Retry(ctx, c.policy, func(ctx context.Context) (HeadInfo, error) {
		return c.head(ctx, link)
	})
	if err != nil {
		if ctx.Err() != nil {
			return unknown
		}
		log.Warn().Str("op", "utils/network").Err(err).Msg("HEAD probe failed")
		info = unknown
	}
	if info.SupportsRanges && info.TotalSize > 0 {
		return info
	}
	probed, err := c.probeRange(ctx, link)
	if err != nil {
		log.Warn().Str("op", "utils/network").Err(err).Msg("Range probe failed, continuing without range support")
		return info
	}
	if probed.FileName == "" {
		probed.FileName = info.FileName
	}
	return probed
}

func (c *NetworkClient) head(ctx context.Context, link string) (HeadInfo, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.http.Timeout())
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, link, nil)
	if err != nil {
		return HeadInfo{}, NewError(KindInvalidInput, "head", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return HeadInfo{}, ClassifyTransport(ctx, "head", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return HeadInfo{}, ClassifyStatus("head", resp.StatusCode)
	}
	info := HeadInfo{
		TotalSize:      resp.ContentLength,
		SupportsRanges: strings.Contains(resp.Header.Get("Accept-Ranges"), "bytes"),
		FileName:       fileNameFromDisposition(resp.Header.Get("Content-Disposition")),
	}
	if info.TotalSize <= 0 {
		info.TotalSize = -1
	}
	log.Debug().Str("op", "utils/network").Int64("size", info.TotalSize).Bool("ranges", info.SupportsRanges).Msg("HEAD probe complete")
	return info, nil
}

// probeRange asks for the first byte; a 206 with a Content-Range total
// proves range support even when HEAD did not advertise it.
func (c *NetworkClient) probeRange(ctx context.Context, link string) (HeadInfo, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.http.Timeout())
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, link, nil)
	if err != nil {
		return HeadInfo{}, err
	}
	req.Header.Set("Range", RangeHeader(0, 0))
	resp, err := c.http.Do(req)
	if err != nil {
		return HeadInfo{}, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1))
	if resp.StatusCode != http.StatusPartialContent {
		return HeadInfo{}, fmt.Errorf("range probe returned status %d", resp.StatusCode)
	}
	_, _, total, err := ParseContentRange(resp.Header.Get("Content-Range"))
	if err != nil {
		return HeadInfo{}, err
	}
	return HeadInfo{
		TotalSize:      total,
		SupportsRanges: total > 0,
		FileName:       fileNameFromDisposition(resp.Header.Get("Content-Disposition")),
	}, nil
}

// FetchRange issues a ranged GET and returns the body for the caller to
// stream to disk. Ranged requests must be answered with 206; a plain 200
// is only acceptable for an open-ended request starting at zero.
func (c *NetworkClient) FetchRange(ctx context.Context, link string, start, end int64) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, NewError(KindInvalidInput, "fetch range", err)
	}
	rangeHeader := RangeHeader(start, end)
	req.Header.Set("Range", rangeHeader)
	req.Header.Set("Connection", "keep-alive")
	log.Debug().Str("op", "utils/network").Str("range", rangeHeader).Msg("Sending range request")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, ClassifyTransport(ctx, "fetch range", err)
	}
	switch {
	case resp.StatusCode == http.StatusPartialContent:
		// a missing header is tolerated, a misplaced range is not
		if header := resp.Header.Get("Content-Range"); header != "" {
			got, _, _, err := ParseContentRange(header)
			if err != nil || got != start {
				resp.Body.Close()
				return nil, NewError(KindIntegrity, "fetch range", fmt.Errorf("server answered %q for requested start %d", header, start))
			}
		}
		return resp.Body, nil
	case resp.StatusCode == http.StatusOK && start == 0 && end < 0:
		return resp.Body, nil
	case resp.StatusCode == http.StatusOK:
		resp.Body.Close()
		return nil, &DownloadError{Kind: KindClient, Op: "fetch range", StatusCode: resp.StatusCode, Err: ErrRangeRequestsNotSupported}
	default:
		resp.Body.Close()
		return nil, ClassifyStatus("fetch range", resp.StatusCode)
	}
}

// ParseContentRange parses "bytes start-end/total"; total is -1 for "*".
func ParseContentRange(header string) (start, end, total int64, err error) {
	header = strings.TrimSpace(strings.TrimPrefix(header, "bytes "))
	rangePart, totalPart, ok := strings.Cut(header, "/")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %q", header)
	}
	startStr, endStr, ok := strings.Cut(rangePart, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %q", header)
	}
	if start, err = strconv.ParseInt(startStr, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid start byte: %w", err)
	}
	if end, err = strconv.ParseInt(endStr, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid end byte: %w", err)
	}
	if totalPart == "*" {
		return start, end, -1, nil
	}
	if total, err = strconv.ParseInt(totalPart, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid total bytes: %w", err)
	}
	return start, end, total, nil
}

func fileNameFromDisposition(contentDisposition string) string {
	if contentDisposition == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentDisposition)
	if err != nil {
		return ""
	}
	if fn, ok := params["filename"]; ok && fn != "" {
		return filenameRegex.ReplaceAllString(fn, "_")
	}
	if fn, ok := params["filename*"]; ok && strings.HasPrefix(fn, "UTF-8''") {
		unescaped, _ := url.PathUnescape(strings.TrimPrefix(fn, "UTF-8''"))
		return filenameRegex.ReplaceAllString(unescaped, "_")
	}
	return ""
}
