package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// httpClient is reused for file downloads to avoid creating new clients per request
var httpClient = resty.New().SetDebug(false).SetTimeout(30 * time.Second)

// downloadFileID fetches a Telegram file. It returns the body and the
// Content-Type the file server reported.
func downloadFileID(
	ctx context.Context,
	getFileDirectURL func(fileId string) (string, error),
	fileID string,
) ([]byte, string, error) {
	log.Info().Str("fileID", fileID).Msg("downloading file id")
	url, err := getFileDirectURL(fileID)
	if err != nil {
		return nil, "", err
	}
	res, err := httpClient.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, "", err
	}
	if res.IsError() {
		return nil, "", fmt.Errorf("request failed: %v", res.Status())
	}

	return res.Body(), res.Header().Get("Content-Type"), nil
}
