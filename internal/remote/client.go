package remote

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"
)

const (
	predictPath       = "/api/predict"
	downloadInfoPath  = "/api/download_info/"
	downloadChunkPath = "/api/download_chunk/"

	imageField = "image"
)

type Config struct {
	URL             string        `mapstructure:"url"`
	UploadTimeout   time.Duration `mapstructure:"upload_timeout"`
	InfoTimeout     time.Duration `mapstructure:"info_timeout"`
	ChunkTimeout    time.Duration `mapstructure:"chunk_timeout"`
	MaxConnsPerHost int           `mapstructure:"max_conns_per_host"`
}

func (c *Config) SetDefaults() {
	if c.UploadTimeout <= 0 {
		c.UploadTimeout = 120 * time.Second
	}
	if c.InfoTimeout <= 0 {
		c.InfoTimeout = 10 * time.Second
	}
	if c.ChunkTimeout <= 0 {
		c.ChunkTimeout = 30 * time.Second
	}
	if c.MaxConnsPerHost <= 0 {
		c.MaxConnsPerHost = fasthttp.DefaultMaxConnsPerHost
	}
}

// DownloadInfo is the chunk layout the server reports for a finished job.
// NumChunks is trusted as reported; it is not recomputed from the sizes.
type DownloadInfo struct {
	FileSize  int64  `json:"file_size"`
	ChunkSize int64  `json:"chunk_size"`
	NumChunks int    `json:"num_chunks"`
	Filename  string `json:"filename"`
}

type predictResponse struct {
	JobID string `json:"job_id"`
}

// Client talks to the processing server. It is safe for concurrent use.
type Client struct {
	baseURL string
	config  Config
	http    *fasthttp.Client
}

func NewClient(config Config) *Client {
	config.SetDefaults()
	return &Client{
		baseURL: strings.TrimRight(config.URL, "/"),
		config:  config,
		http: &fasthttp.Client{
			Name:               "splatfetch",
			MaxConnsPerHost:    config.MaxConnsPerHost,
			MaxConnWaitTimeout: config.ChunkTimeout,
		},
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// Predict uploads the source image and returns the server's job identifier.
func (c *Client) Predict(ctx context.Context, filename string, image []byte) (string, error) {
	body, contentType, err := buildImageForm(filename, image)
	if err != nil {
		return "", fmt.Errorf("build upload form: %w", err)
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.baseURL + predictPath)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType(contentType)
	req.SetBodyRaw(body)

	log.Debug().
		Str("url", c.baseURL+predictPath).
		Int("bytes", len(image)).
		Msg("Sending predict request")

	if err := c.do(ctx, req, resp, c.config.UploadTimeout); err != nil {
		return "", fmt.Errorf("predict request: %w", err)
	}
	if !isSuccess(resp.StatusCode()) {
		return "", &StatusError{Op: "predict", Code: resp.StatusCode()}
	}

	var pr predictResponse
	if err := json.Unmarshal(resp.Body(), &pr); err != nil {
		return "", fmt.Errorf("%w: predict response: %v", ErrDecode, err)
	}
	if pr.JobID == "" {
		return "", fmt.Errorf("%w: predict response has no job_id", ErrDecode)
	}
	return pr.JobID, nil
}

func (c *Client) DownloadInfo(ctx context.Context, jobID string) (*DownloadInfo, error) {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.baseURL + downloadInfoPath + url.PathEscape(jobID))
	req.Header.SetMethod(fasthttp.MethodGet)

	if err := c.do(ctx, req, resp, c.config.InfoTimeout); err != nil {
		return nil, fmt.Errorf("download info request: %w", err)
	}
	if !isSuccess(resp.StatusCode()) {
		return nil, &StatusError{Op: "download info", Code: resp.StatusCode()}
	}

	var info DownloadInfo
	if err := json.Unmarshal(resp.Body(), &info); err != nil {
		return nil, fmt.Errorf("%w: download info: %v", ErrDecode, err)
	}
	if info.NumChunks < 0 || info.FileSize < 0 {
		return nil, fmt.Errorf("%w: download info has negative sizes", ErrDecode)
	}
	return &info, nil
}

// DownloadChunk returns a copy of the raw chunk body.
func (c *Client) DownloadChunk(ctx context.Context, jobID string, index int) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(fmt.Sprintf("%s%s%s/%d", c.baseURL, downloadChunkPath, url.PathEscape(jobID), index))
	req.Header.SetMethod(fasthttp.MethodGet)

	if err := c.do(ctx, req, resp, c.config.ChunkTimeout); err != nil {
		return nil, fmt.Errorf("chunk %d request: %w", index, err)
	}
	if !isSuccess(resp.StatusCode()) {
		return nil, &StatusError{Op: fmt.Sprintf("chunk %d", index), Code: resp.StatusCode()}
	}

	// resp is returned to the pool on exit.
	return append([]byte{}, resp.Body()...), nil
}

// do applies the per-operation timeout, shortened by any ctx deadline.
func (c *Client) do(ctx context.Context, req *fasthttp.Request, resp *fasthttp.Response, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	return c.http.DoTimeout(req, resp, timeout)
}

func buildImageForm(filename string, image []byte) ([]byte, string, error) {
	if filename == "" {
		filename = "image.jpg"
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, imageField, filename))
	header.Set("Content-Type", mimetype.Detect(image).String())

	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(image); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func isSuccess(code int) bool {
	return code >= 200 && code < 300
}
