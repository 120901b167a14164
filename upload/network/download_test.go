package network

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownloadMediaParamValidation(t *testing.T) {
	logger := log.NewLogger()

	err := DownloadMedia(context.Background(), DownloadParams{DownloadPath: "out.mp4"}, logger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "media URL is empty")

	err = DownloadMedia(context.Background(), DownloadParams{MediaURL: "http://example.com/a.mp4"}, logger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "download path is empty")
}

func TestDownloadMedia(t *testing.T) {
	sourceDir := t.TempDir()
	content := make([]byte, 64*1024)
	for i := range content {
		content[i] = byte(i % 251)
	}
	require.NoError(t, os.WriteFile(filepath.Join(sourceDir, "media.mp4"), content, 0600))

	server := httptest.NewServer(http.FileServer(http.Dir(sourceDir)))
	defer server.Close()

	downloadPath := filepath.Join(t.TempDir(), "downloaded.mp4")
	err := DownloadMedia(context.Background(), DownloadParams{
		MediaURL:     server.URL + "/media.mp4",
		DownloadPath: downloadPath,
	}, log.NewLogger())

	require.NoError(t, err)
	downloaded, err := os.ReadFile(downloadPath)
	require.NoError(t, err)
	assert.Equal(t, content, downloaded)
}

func TestCreateCustomRetryFunction(t *testing.T) {
	cases := []struct {
		name     string
		response *http.Response
		error    error
		expected bool
	}{
		{
			name:     "Retry for transport error",
			response: &http.Response{},
			error:    errors.New("EOF"),
			expected: true,
		},
		{
			name:     "No retry for HTTP 404 status code",
			response: &http.Response{StatusCode: 404},
			error:    nil,
			expected: false,
		},
		{
			name:     "Retry for HTTP 429 status code",
			response: &http.Response{StatusCode: 429},
			error:    nil,
			expected: true,
		},
		{
			name:     "Retry for HTTP 500 status code",
			response: &http.Response{StatusCode: 500},
			error:    nil,
			expected: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			retryFn := createCustomRetryFunction(log.NewLogger())
			retry, _ := retryFn(context.Background(), tc.response, tc.error)
			assert.Equal(t, tc.expected, retry)
		})
	}
}
