// Package telegram implements the Telegram side of the bridge: a Bot API
// wrapper, the long-polling update loop, and the outbound chat handler.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "https://api.telegram.org"

	// maxAttempts caps retries of transport-level failures. Rate-limit
	// responses retry separately and do not count against this cap.
	maxAttempts       = 5
	defaultRetryDelay = time.Second
)

// APIError is a Bot API rejection: the HTTP status plus the description
// field of the response envelope. Code -1 marks retry exhaustion.
type APIError struct {
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram api error (%d): %s", e.Code, e.Description)
}

// retryAfterError carries the server-mandated pause of a 429 response.
type retryAfterError struct {
	seconds int64
}

func (e *retryAfterError) Error() string {
	return fmt.Sprintf("telegram: rate limited for %d secs", e.seconds)
}

// Upload is a streamed multipart file for the send* upload methods. The
// reader is consumed once, so upload calls are never retried.
type Upload struct {
	Field  string // form field name, referenced as attach://<field>
	Name   string
	MIME   string
	Reader io.Reader
}

// API is a thin Bot API client. Every method funnels through Call, which
// owns rate-limit handling and transient retries.
type API struct {
	token      string
	base       string
	http       *http.Client
	limiter    *rate.Limiter
	retryDelay time.Duration
}

// APIOpts holds parameters for creating an API.
type APIOpts struct {
	Token string

	// BaseURL overrides the Bot API endpoint, used by tests.
	BaseURL string
	// HTTPClient defaults to a client without an overall timeout, as
	// getUpdates long-polls are expected to hang.
	HTTPClient *http.Client
	// RetryDelay is the pause between transient-failure attempts.
	RetryDelay time.Duration
}

// NewAPI creates an API.
func NewAPI(opts APIOpts) (*API, error) {
	if opts.Token == "" {
		return nil, fmt.Errorf("telegram: api: token is required")
	}
	base := opts.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	delay := opts.RetryDelay
	if delay == 0 {
		delay = defaultRetryDelay
	}
	return &API{
		token:      opts.Token,
		base:       base,
		http:       client,
		limiter:    rate.NewLimiter(rate.Limit(30), 30),
		retryDelay: delay,
	}, nil
}

// Call posts one Bot API method. Arguments travel as URL query parameters;
// file, when present, becomes a streamed multipart body. On a 429 the
// server-supplied retry_after is honored and the request repeated without
// consuming an attempt. Transport failures retry up to maxAttempts, after
// which an APIError with code -1 is returned.
func (a *API) Call(ctx context.Context, method string, params url.Values, file *Upload) (gjson.Result, error) {
	endpoint := fmt.Sprintf("%s/bot%s/%s", a.base, a.token, method)

	var result gjson.Result
	attempt := 0
	op := func() error {
		attempt++
		if attempt > 1 {
			log.Printf("telegram: api: retrying %s, attempt %d of %d", method, attempt, maxAttempts)
		}
		for {
			res, err := a.exchange(ctx, endpoint, params, file)
			var ra *retryAfterError
			if errors.As(err, &ra) {
				log.Printf("telegram: api: too many requests, %s will be executed again in %d secs", method, ra.seconds)
				select {
				case <-time.After(time.Duration(ra.seconds) * time.Second):
					continue
				case <-ctx.Done():
					return backoff.Permanent(ctx.Err())
				}
			}
			if err == nil {
				result = res
			}
			return err
		}
	}

	// A consumed upload stream cannot be replayed, so uploads get one shot.
	retries := uint64(maxAttempts - 1)
	if file != nil {
		retries = 0
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(a.retryDelay), retries), ctx,
	)
	err := backoff.Retry(op, policy)
	if err == nil {
		return result, nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return gjson.Result{}, apiErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return gjson.Result{}, err
	}
	log.Printf("telegram: api: %s failed: %v", method, err)
	return gjson.Result{}, &APIError{Code: -1, Description: "the number of retry attempts has been exhausted"}
}

func (a *API) exchange(ctx context.Context, endpoint string, params url.Values, file *Upload) (gjson.Result, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return gjson.Result{}, backoff.Permanent(err)
	}

	target := endpoint
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	var req *http.Request
	var err error
	if file != nil {
		pr, pw := io.Pipe()
		mw := multipart.NewWriter(pw)
		go func() {
			werr := writePart(mw, file)
			if cerr := mw.Close(); werr == nil {
				werr = cerr
			}
			pw.CloseWithError(werr)
		}()
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, target, pr)
		if err == nil {
			req.Header.Set("Content-Type", mw.FormDataContentType())
		}
	} else {
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, target, nil)
	}
	if err != nil {
		return gjson.Result{}, backoff.Permanent(fmt.Errorf("telegram: build request: %w", err))
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("telegram: execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("telegram: read response: %w", err)
	}

	envelope := gjson.ParseBytes(data)
	if envelope.Get("ok").Bool() {
		return envelope.Get("result"), nil
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		if ra := envelope.Get("parameters.retry_after"); ra.Exists() {
			return gjson.Result{}, &retryAfterError{seconds: ra.Int()}
		}
	}
	return gjson.Result{}, backoff.Permanent(&APIError{
		Code:        resp.StatusCode,
		Description: envelope.Get("description").String(),
	})
}

func writePart(mw *multipart.Writer, file *Upload) error {
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name=%q; filename=%q`, file.Field, file.Name))
	if file.MIME != "" {
		hdr.Set("Content-Type", file.MIME)
	}
	part, err := mw.CreatePart(hdr)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, file.Reader)
	return err
}

// SentMessage is the slice of a sendMessage/editMessageText response the
// bridge cares about: the assigned id and, in forum chats, the thread.
type SentMessage struct {
	MessageID       int64 `json:"message_id"`
	MessageThreadID int64 `json:"message_thread_id"`
}

func (a *API) sent(ctx context.Context, method string, params url.Values, file *Upload) (*SentMessage, error) {
	res, err := a.Call(ctx, method, params, file)
	if err != nil {
		return nil, err
	}
	var m SentMessage
	if err := json.Unmarshal([]byte(res.Raw), &m); err != nil {
		return nil, fmt.Errorf("telegram: decode %s response: %w", method, err)
	}
	return &m, nil
}

// SendMessage posts a text message.
func (a *API) SendMessage(ctx context.Context, params url.Values) (*SentMessage, error) {
	return a.sent(ctx, "sendMessage", params, nil)
}

// EditMessageText rewrites a previously sent message.
func (a *API) EditMessageText(ctx context.Context, params url.Values) (*SentMessage, error) {
	return a.sent(ctx, "editMessageText", params, nil)
}

// SendFile posts an upload through one of the media methods (sendPhoto,
// sendVideo, sendAudio, sendAnimation, sendDocument).
func (a *API) SendFile(ctx context.Context, method string, params url.Values, file *Upload) (*SentMessage, error) {
	return a.sent(ctx, method, params, file)
}

// GetUpdates long-polls for updates.
func (a *API) GetUpdates(ctx context.Context, params url.Values) ([]Update, error) {
	res, err := a.Call(ctx, "getUpdates", params, nil)
	if err != nil {
		return nil, err
	}
	var updates []Update
	if err := json.Unmarshal([]byte(res.Raw), &updates); err != nil {
		return nil, fmt.Errorf("telegram: decode updates: %w", err)
	}
	return updates, nil
}

// GetFile resolves a file id to its CDN path.
func (a *API) GetFile(ctx context.Context, fileID string) (string, error) {
	params := url.Values{}
	params.Set("file_id", fileID)
	res, err := a.Call(ctx, "getFile", params, nil)
	if err != nil {
		return "", err
	}
	path := res.Get("file_path").String()
	if path == "" {
		return "", &APIError{Code: -1, Description: "getFile response carries no file_path"}
	}
	return path, nil
}

// LeaveChat removes the bot from a chat.
func (a *API) LeaveChat(ctx context.Context, chatID string) error {
	params := url.Values{}
	params.Set("chat_id", chatID)
	_, err := a.Call(ctx, "leaveChat", params, nil)
	return err
}

// FileURL builds the download URL for a path returned by GetFile.
func (a *API) FileURL(filePath string) string {
	return fmt.Sprintf("%s/file/bot%s/%s", a.base, a.token, filePath)
}

// Download fetches an attachment by URL with the API's HTTP client.
// The caller owns the response body.
func (a *API) Download(ctx context.Context, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("telegram: build download request: %w", err)
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram: download %s: %w", target, err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		resp.Body.Close()
		return nil, fmt.Errorf("telegram: download %s: unexpected status %d", target, resp.StatusCode)
	}
	return resp, nil
}
