package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/debemdeboas/postdeck/internal/model"
)

const (
	DefaultBaseURL = "https://api.linkedin.com"
	DefaultVersion = "202405"

	maxPollQuestion = 140
)

type LinkedIn struct {
	BaseURL string
	Token   string
	Version string

	// Media uploads files that have no image URN yet. Without it such files are rejected.
	Media MediaSource

	Client *http.Client
}

func NewLinkedIn(baseURL, token, version string, media MediaSource) *LinkedIn {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if version == "" {
		version = DefaultVersion
	}
	return &LinkedIn{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		Version: version,
		Media:   media,
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type postBody struct {
	Author                    string       `json:"author"`
	Commentary                string       `json:"commentary"`
	Visibility                string       `json:"visibility"`
	Distribution              distribution `json:"distribution"`
	Content                   *postContent `json:"content,omitempty"`
	LifecycleState            string       `json:"lifecycleState"`
	IsReshareDisabledByAuthor bool         `json:"isReshareDisabledByAuthor"`
}

type distribution struct {
	FeedDistribution               string   `json:"feedDistribution"`
	TargetEntities                 []string `json:"targetEntities"`
	ThirdPartyDistributionChannels []string `json:"thirdPartyDistributionChannels"`
}

type postContent struct {
	Media      *mediaRef   `json:"media,omitempty"`
	MultiImage *multiImage `json:"multiImage,omitempty"`
	Poll       *pollBody   `json:"poll,omitempty"`
}

type mediaRef struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
}

type multiImage struct {
	Images []mediaRef `json:"images"`
}

type pollBody struct {
	Question string       `json:"question"`
	Options  []pollOption `json:"options"`
	Settings pollSettings `json:"settings"`
}

type pollOption struct {
	Text string `json:"text"`
}

type pollSettings struct {
	Duration string `json:"duration"`
}

type apiError struct {
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// PollDuration maps a day count onto the API's fixed durations, rounding up.
func PollDuration(days int) string {
	switch {
	case days <= 1:
		return "ONE_DAY"
	case days <= 3:
		return "THREE_DAYS"
	case days <= 7:
		return "SEVEN_DAYS"
	default:
		return "FOURTEEN_DAYS"
	}
}

func (l *LinkedIn) Publish(ctx context.Context, req Request) (string, error) {
	author := AuthorURN(req.Author)

	body := postBody{
		Author:     author,
		Commentary: req.Content,
		Visibility: "PUBLIC",
		Distribution: distribution{
			FeedDistribution:               "MAIN_FEED",
			TargetEntities:                 []string{},
			ThirdPartyDistributionChannels: []string{},
		},
		LifecycleState: "PUBLISHED",
	}

	switch a := req.Attachment.(type) {
	case model.Poll:
		body.Content = &postContent{Poll: buildPoll(req.Content, a)}
	case model.Media:
		content, err := l.mediaContent(ctx, author, a, req.Uploaded)
		if err != nil {
			return "", err
		}
		body.Content = content
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("error encoding post: %w", err)
	}

	// Creating a post is not idempotent
	resp, err := l.do(ctx, http.MethodPost, "/rest/posts", payload, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if err := checkResponse(resp); err != nil {
		return "", err
	}

	id := resp.Header.Get("x-restli-id")
	if id == "" {
		return "", &model.PublishError{Message: "response carried no post id"}
	}

	publisherLogger.Info().Str("author", author).Str("external_post_id", id).Msg("Post published")
	return id, nil
}

func buildPoll(content string, p model.Poll) *pollBody {
	question := strings.TrimSpace(strings.SplitN(content, "\n", 2)[0])
	if utf8.RuneCountInString(question) > maxPollQuestion {
		question = string([]rune(question)[:maxPollQuestion])
	}

	options := make([]pollOption, 0, len(p.Options))
	for _, o := range p.Options {
		options = append(options, pollOption{Text: o})
	}

	return &pollBody{
		Question: question,
		Options:  options,
		Settings: pollSettings{Duration: PollDuration(p.DurationDays)},
	}
}

// mediaContent uploads the files that have no image URN yet and reports each new URN through
// uploaded, so a failed publish does not upload them again.
func (l *LinkedIn) mediaContent(ctx context.Context, author string, m model.Media, uploaded func(model.MediaFile)) (*postContent, error) {
	refs := make([]mediaRef, 0, len(m.Files))
	for _, f := range m.Files {
		urn := f.ExternalID
		if urn == "" {
			var err error
			urn, err = l.uploadImage(ctx, author, f)
			if err != nil {
				return nil, err
			}
			if uploaded != nil {
				f.ExternalID = urn
				uploaded(f)
			}
		}
		refs = append(refs, mediaRef{ID: urn, Title: f.Name})
	}

	if len(refs) == 1 {
		return &postContent{Media: &refs[0]}, nil
	}
	return &postContent{MultiImage: &multiImage{Images: refs}}, nil
}

func (l *LinkedIn) uploadImage(ctx context.Context, author string, f model.MediaFile) (string, error) {
	if l.Media == nil {
		return "", &model.PublishError{Message: fmt.Sprintf("media %s is not uploaded", f.Name)}
	}

	payload, err := json.Marshal(map[string]any{
		"initializeUploadRequest": map[string]string{"owner": author},
	})
	if err != nil {
		return "", err
	}

	resp, err := l.do(ctx, http.MethodPost, "/rest/images?action=initializeUpload", payload, true)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if err := checkResponse(resp); err != nil {
		return "", err
	}

	var init struct {
		Value struct {
			UploadURL string `json:"uploadUrl"`
			Image     string `json:"image"`
		} `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&init); err != nil {
		return "", &model.PublishError{Message: "invalid upload response"}
	}

	src, err := l.Media.OpenMedia(ctx, f)
	if err != nil {
		return "", fmt.Errorf("error opening media %s: %w", f.ID, err)
	}
	defer src.Close()

	put, err := http.NewRequestWithContext(ctx, http.MethodPut, init.Value.UploadURL, src)
	if err != nil {
		return "", err
	}
	put.Header.Set("Authorization", "Bearer "+l.Token)
	if f.MimeType != "" {
		put.Header.Set("Content-Type", f.MimeType)
	}
	if f.Size > 0 {
		put.ContentLength = f.Size
	}

	upResp, err := l.Client.Do(put)
	if err != nil {
		return "", requestError("media upload", err, true)
	}
	defer upResp.Body.Close()
	if err := checkResponse(upResp); err != nil {
		return "", err
	}

	publisherLogger.Debug().Str("media_id", f.ID).Str("image", init.Value.Image).Msg("Media uploaded")
	return init.Value.Image, nil
}

func (l *LinkedIn) do(ctx context.Context, method, path string, payload []byte, idempotent bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, l.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+l.Token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("LinkedIn-Version", l.Version)
	req.Header.Set("X-Restli-Protocol-Version", "2.0.0")

	resp, err := l.Client.Do(req)
	if err != nil {
		return nil, requestError("request", err, idempotent)
	}
	return resp, nil
}

// requestError classifies a round trip that got no response. Only a request that never left,
// or one that is safe to repeat, is temporary.
func requestError(what string, err error, idempotent bool) error {
	msg := what + " failed: " + err.Error()
	var ne net.Error
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		msg = what + " timed out"
	}

	var op *net.OpError
	if idempotent || (errors.As(err, &op) && op.Op == "dial") {
		return &model.PublishError{Message: msg, Temporary: true}
	}
	return &model.PublishError{Message: msg + ", the post may have been published", Uncertain: true}
}

func checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &model.PublishError{Message: "rate limited", Temporary: true}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &model.PublishError{Message: "not authorized to publish for this profile"}
	case resp.StatusCode >= 500:
		return &model.PublishError{Message: fmt.Sprintf("service unavailable (status %d)", resp.StatusCode), Temporary: true}
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var apiErr apiError
	if err := json.Unmarshal(raw, &apiErr); err == nil && apiErr.Message != "" {
		return &model.PublishError{Message: apiErr.Message}
	}
	return &model.PublishError{Message: fmt.Sprintf("unexpected status %d", resp.StatusCode)}
}
