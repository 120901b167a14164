package network

import (
	"context"
	"fmt"
	"net/http"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/melbahja/got"
)

// DownloadParams ...
type DownloadParams struct {
	// MediaURL is the URL of the assembled media, as resolved after finalize.
	MediaURL string
	// DownloadPath is the local file the media is written to.
	DownloadPath string
}

// DownloadMedia fetches the assembled media file, typically to verify an
// upload end to end.
func DownloadMedia(ctx context.Context, params DownloadParams, logger log.Logger) error {
	if params.MediaURL == "" {
		return fmt.Errorf("media URL is empty")
	}
	if params.DownloadPath == "" {
		return fmt.Errorf("download path is empty")
	}

	retryableHTTPClient := retryhttp.NewClient(logger)
	retryableHTTPClient.CheckRetry = createCustomRetryFunction(logger)

	logger.Debugf("Downloading media from %s", params.MediaURL)
	return downloadFile(ctx, retryableHTTPClient.StandardClient(), params.MediaURL, params.DownloadPath)
}

func createCustomRetryFunction(logger log.Logger) func(context.Context, *http.Response, error) (bool, error) {
	return func(ctx context.Context, resp *http.Response, downloadErr error) (bool, error) {
		retry, err := retryablehttp.DefaultRetryPolicy(ctx, resp, downloadErr)
		logger.Debugf("CheckRetry: retry=%v ; err=%+v ; downloadErr=%+v", retry, err, downloadErr)
		return retry, err
	}
}

func downloadFile(ctx context.Context, client *http.Client, url string, dest string) error {
	downloader := got.New()
	downloader.Client = client

	return downloader.Do(got.NewDownload(ctx, url, dest))
}
