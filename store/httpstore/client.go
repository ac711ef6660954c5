package httpstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/wudi/pagekit/project"
)

// Client implements project.Store against a Server.
type Client struct {
	base string
	http *http.Client
}

// NewClient talks to the server at baseURL. A nil hc uses
// http.DefaultClient.
func NewClient(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), http: hc}
}

var _ project.Store = (*Client)(nil)

func (c *Client) Create(ctx context.Context, name, description string, files []project.File, metadata []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fields := [][2]string{{"name", name}, {"description", description}, {"metadata", string(metadata)}}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return "", err
		}
	}
	for _, f := range files {
		part, err := mw.CreateFormFile("file", f.Name)
		if err != nil {
			return "", err
		}
		if _, err := part.Write(f.Data); err != nil {
			return "", err
		}
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/projects", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	var out createdBody
	if err := c.do(req, http.StatusCreated, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *Client) List(ctx context.Context) ([]project.Summary, error) {
	var out []project.Summary
	if err := c.get(ctx, "/projects", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Get(ctx context.Context, id string) (*project.Record, error) {
	var out recordBody
	if err := c.get(ctx, "/projects/"+url.PathEscape(id), &out); err != nil {
		return nil, err
	}
	return &project.Record{Summary: out.Summary, Metadata: []byte(out.Metadata)}, nil
}

func (c *Client) Files(ctx context.Context, id string) ([]project.FileInfo, error) {
	var out []project.FileInfo
	if err := c.get(ctx, "/projects/"+url.PathEscape(id)+"/files", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Download(ctx context.Context, id, fileName string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.base+"/projects/"+url.PathEscape(id)+"/files/"+url.PathEscape(fileName), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) Delete(ctx context.Context, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.base+"/projects/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	return c.do(req, http.StatusNoContent, nil)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, http.StatusOK, out)
}

func (c *Client) do(req *http.Request, want int, out any) error {
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}

// decodeError maps an error response back to the project sentinels.
func decodeError(resp *http.Response) error {
	var body errorBody
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(raw, &body); err != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(raw))
	}
	var sentinel error
	switch body.Kind {
	case kindNotFound:
		sentinel = project.ErrProjectNotFound
	case kindFileNotFound:
		sentinel = project.ErrFileNotFound
	case kindInvalid:
		sentinel = project.ErrInvalidFileName
	}
	if sentinel != nil {
		return fmt.Errorf("%s: %w", body.Error, sentinel)
	}
	return fmt.Errorf("http %d: %s", resp.StatusCode, body.Error)
}
