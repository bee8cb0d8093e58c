package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"

	"perfmonitor/channel"
	"perfmonitor/internal/report"
	"perfmonitor/profile"
)

// MattermostChannel uploads the report bundle and posts a summary message
// through the Mattermost REST API.
// Params: API base URL, bot token, and channel id from settings.
// Returns: Mattermost delivery channel.
type MattermostChannel struct {
	baseURL   string
	token     string
	channelID string
	client    *http.Client
}

// NewMattermostChannel creates the Mattermost channel.
// Params: settings with "base_url", "token", and "channel_id".
// Returns: initialized channel.
func NewMattermostChannel(settings channel.Settings) *MattermostChannel {
	return &MattermostChannel{
		baseURL:   strings.TrimRight(strings.TrimSpace(settings.String("base_url")), "/"),
		token:     strings.TrimSpace(settings.String("token")),
		channelID: strings.TrimSpace(settings.String("channel_id")),
		client:    newHTTPClient(settings),
	}
}

// Type returns the channel tag.
// Params: none.
// Returns: static channel key.
func (c *MattermostChannel) Type() string {
	return channel.TypeMattermost
}

// ValidateConfig checks the channel settings at startup.
// Params: none.
// Returns: error listing the first missing required field.
func (c *MattermostChannel) ValidateConfig() error {
	if c.baseURL == "" {
		return errors.New("mattermost channel requires a base_url")
	}
	if c.token == "" {
		return errors.New("mattermost channel requires a token")
	}
	if c.channelID == "" {
		return errors.New("mattermost channel requires a channel_id")
	}
	return nil
}

// Send uploads the zipped report and posts the alert summary with the
// uploaded file attached. The format parameter is ignored: the bundle
// always carries both renderings.
// Params: context, captured profile, and report format.
// Returns: render, transport, or HTTP status error.
func (c *MattermostChannel) Send(ctx context.Context, p profile.Profile, _ profile.Format) error {
	archive, filename, err := report.ZipAttachment(p)
	if err != nil {
		return err
	}

	fileID, err := c.uploadFile(ctx, filename, archive)
	if err != nil {
		return err
	}
	return c.createPost(ctx, report.Brief(p), fileID)
}

// uploadFile pushes one attachment to the Mattermost files endpoint.
// Params: context, attachment filename, and raw bytes.
// Returns: uploaded file id or transport error.
func (c *MattermostChannel) uploadFile(ctx context.Context, filename string, data []byte) (string, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	if err := form.WriteField("channel_id", c.channelID); err != nil {
		return "", fmt.Errorf("build mattermost upload form: %w", err)
	}
	part, err := form.CreateFormFile("files", filename)
	if err != nil {
		return "", fmt.Errorf("build mattermost upload form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("write mattermost upload body: %w", err)
	}
	if err := form.Close(); err != nil {
		return "", fmt.Errorf("finish mattermost upload form: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v4/files", &body)
	if err != nil {
		return "", fmt.Errorf("build mattermost upload request: %w", err)
	}
	request.Header.Set("Content-Type", form.FormDataContentType())
	request.Header.Set("Authorization", "Bearer "+c.token)

	response, err := c.client.Do(request)
	if err != nil {
		return "", fmt.Errorf("mattermost upload: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return "", unexpectedHTTPStatusError("mattermost upload", response)
	}

	var decoded struct {
		FileInfos []struct {
			ID string `json:"id"`
		} `json:"file_infos"`
	}
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode mattermost upload response: %w", err)
	}
	if len(decoded.FileInfos) == 0 || strings.TrimSpace(decoded.FileInfos[0].ID) == "" {
		return "", errors.New("mattermost upload response missing file id")
	}
	return decoded.FileInfos[0].ID, nil
}

// createPost publishes the summary message with the uploaded attachment.
// Params: context, message body, and uploaded file id.
// Returns: transport or HTTP status error.
func (c *MattermostChannel) createPost(ctx context.Context, message, fileID string) error {
	payload := struct {
		ChannelID string   `json:"channel_id"`
		Message   string   `json:"message"`
		FileIDs   []string `json:"file_ids,omitempty"`
	}{
		ChannelID: c.channelID,
		Message:   message,
		FileIDs:   []string{fileID},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode mattermost post: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v4/posts", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build mattermost post request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Authorization", "Bearer "+c.token)

	response, err := c.client.Do(request)
	if err != nil {
		return fmt.Errorf("mattermost post: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return unexpectedHTTPStatusError("mattermost post", response)
	}

	var decoded struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("decode mattermost post response: %w", err)
	}
	if strings.TrimSpace(decoded.ID) == "" {
		return errors.New("mattermost post response missing id")
	}
	return nil
}
