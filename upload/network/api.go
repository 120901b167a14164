// Package network implements the HTTP client of the video upload service:
// session prepare, chunk ingest, upload finalize and media download.
package network

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/hashicorp/go-retryablehttp"
)

const csrfCookieName = "csrftoken"

// ClientParams identify one upload target.
type ClientParams struct {
	// APIBaseURL is the base URL of the upload service.
	APIBaseURL string
	// VideoID is the catalog entry the media belongs to.
	VideoID string
	// Token is the service access token.
	Token string
}

// FinalizeResponse is the optional server feedback attached to a successful
// finalize call.
type FinalizeResponse struct {
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// Client talks to the chunk-ingest and finalize endpoints.
//
// Chunk ingest goes through a plain HTTP client because a failed chunk must
// surface immediately instead of being retried. The session prepare and
// finalize calls go through the retrying client.
type Client struct {
	retryingClient *retryablehttp.Client
	chunkClient    *http.Client
	params         ClientParams
	logger         log.Logger

	csrfToken string
	cookies   []*http.Cookie
}

// NewClient ...
func NewClient(retryingClient *retryablehttp.Client, chunkClient *http.Client, params ClientParams, logger log.Logger) *Client {
	if chunkClient == nil {
		chunkClient = DefaultChunkClient()
	}
	return &Client{
		retryingClient: retryingClient,
		chunkClient:    chunkClient,
		params:         params,
		logger:         logger,
	}
}

// DefaultChunkClient creates an HTTP client tuned for parallel chunk uploads.
func DefaultChunkClient() *http.Client {
	return &http.Client{
		// No client-level timeout, chunk deadlines come from the request context.
		Timeout: 0,
		Transport: &http.Transport{
			MaxIdleConns:        50,
			MaxConnsPerHost:     20,
			IdleConnTimeout:     10 * time.Second,
			TLSHandshakeTimeout: 5 * time.Second,
			Proxy:               http.ProxyFromEnvironment,
		},
	}
}

func (c *Client) uploadURL() string {
	return fmt.Sprintf("%s/videos/%s/upload", c.params.APIBaseURL, c.params.VideoID)
}

func (c *Client) finalizeURL() string {
	return fmt.Sprintf("%s/videos/%s/upload/finish", c.params.APIBaseURL, c.params.VideoID)
}

// PrepareSession fetches the upload page and captures the anti-forgery cookie
// that the ingest and finalize endpoints demand.
func (c *Client) PrepareSession(ctx context.Context) error {
	req, err := retryablehttp.NewRequest(http.MethodGet, c.uploadURL(), nil)
	if err != nil {
		return err
	}
	req = req.WithContext(ctx)
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.params.Token))

	resp, err := c.retryingClient.Do(req)
	if err != nil {
		return err
	}
	defer c.closeBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return unwrapError(resp)
	}

	c.cookies = resp.Cookies()
	for _, cookie := range c.cookies {
		if cookie.Name == csrfCookieName {
			c.csrfToken = cookie.Value
		}
	}
	if c.csrfToken == "" {
		return fmt.Errorf("no anti-forgery token in upload session response")
	}

	c.logger.Debugf("Upload session prepared for video %s", c.params.VideoID)
	return nil
}

// IngestChunk uploads the chunk at the given index as a multipart form.
func (c *Client) IngestChunk(ctx context.Context, index int, chunk io.Reader, size int64) error {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	if err := writer.WriteField("chunkIndex", strconv.Itoa(index)); err != nil {
		return fmt.Errorf("write chunkIndex field: %w", err)
	}
	part, err := writer.CreateFormFile("chunk", fmt.Sprintf("%d.chunk", index))
	if err != nil {
		return fmt.Errorf("create chunk field: %w", err)
	}
	written, err := io.Copy(part, chunk)
	if err != nil {
		return fmt.Errorf("encode chunk %d: %w", index, err)
	}
	if written != size {
		return fmt.Errorf("chunk %d size mismatch: expected %d bytes, read %d", index, size, written)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.uploadURL(), &body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.decorate(req)

	dump, err := httputil.DumpRequest(req, false)
	if err != nil {
		c.logger.Warnf("error while dumping request: %s", err)
	}
	c.logger.Debugf("Chunk request dump: %s", string(dump))

	resp, err := c.chunkClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer c.closeBody(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return unwrapError(resp)
	}

	return nil
}

// Finalize reports that all chunks are uploaded so the server can assemble them.
func (c *Client) Finalize(ctx context.Context, fileName string, totalChunks int) (FinalizeResponse, error) {
	form := url.Values{}
	form.Set("fileName", fileName)
	form.Set("totalChunks", strconv.Itoa(totalChunks))

	req, err := retryablehttp.NewRequest(http.MethodPost, c.finalizeURL(), []byte(form.Encode()))
	if err != nil {
		return FinalizeResponse{}, err
	}
	req = req.WithContext(ctx)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	c.decorate(req.Request)

	dump, err := httputil.DumpRequest(req.Request, true)
	if err != nil {
		c.logger.Warnf("error while dumping request: %s", err)
	}
	c.logger.Debugf("Finalize request dump: %s", string(dump))

	resp, err := c.retryingClient.Do(req)
	if err != nil {
		return FinalizeResponse{}, err
	}
	defer c.closeBody(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return FinalizeResponse{}, unwrapError(resp)
	}

	var response FinalizeResponse
	if resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
			c.logger.Debugf("finalize response has no decodable body: %s", err)
		}
	}

	return response, nil
}

// decorate attaches auth and anti-forgery metadata to a request.
func (c *Client) decorate(req *http.Request) {
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.params.Token))
	if c.csrfToken != "" {
		req.Header.Set("X-CSRFToken", c.csrfToken)
		req.Header.Set("Referer", c.uploadURL())
	}
	for _, cookie := range c.cookies {
		req.AddCookie(cookie)
	}
}

func (c *Client) closeBody(body io.ReadCloser) {
	if err := body.Close(); err != nil {
		c.logger.Printf(err.Error())
	}
}

func unwrapError(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var errorBody struct {
		Error interface{} `json:"error"`
	}
	if err := json.Unmarshal(body, &errorBody); err == nil && errorBody.Error != nil {
		return fmt.Errorf("HTTP %d: %v", resp.StatusCode, errorBody.Error)
	}

	return fmt.Errorf("HTTP %d: %s", resp.StatusCode, body)
}
