package handler

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/Dinopit/DinoAirPublic-sub008/internal/health"
	"github.com/Dinopit/DinoAirPublic-sub008/internal/supervisor"
)

// Upstream is the HTTP adapter for one external AI service. It translates
// the service's newline-delimited streaming response into the chunk
// sequence the supervisor forwards verbatim; the supervisor stays agnostic
// to the wire format.
type Upstream struct {
	dependency string
	baseURL    *url.URL
	client     *http.Client
}

func NewUpstream(dependency, baseURL string) (*Upstream, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}

	return &Upstream{
		dependency: dependency,
		baseURL:    u,
		// No client timeout: the per-attempt deadline comes from the
		// supervisor's context.
		client: &http.Client{},
	}, nil
}

// Stream returns a StreamFunc posting body to path, yielding one chunk per
// response line.
func (u *Upstream) Stream(path string, body []byte, contentType string) supervisor.StreamFunc {
	return func(ctx context.Context) (supervisor.ChunkStream, error) {
		target := u.baseURL.ResolveReference(&url.URL{Path: path})

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(body))
		if err != nil {
			return nil, err
		}

		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := u.client.Do(req)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode >= 400 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()

			return nil, &supervisor.DependencyError{
				Dependency: u.dependency,
				StatusCode: resp.StatusCode,
				Message:    string(bytes.TrimSpace(msg)),
			}
		}

		return &lineStream{body: resp.Body, reader: bufio.NewReader(resp.Body)}, nil
	}
}

// Probe returns a lightweight health check issuing GET path.
func (u *Upstream) Probe(path string) health.ProbeFunc {
	return func(ctx context.Context) error {
		target := u.baseURL.ResolveReference(&url.URL{Path: path})

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
		if err != nil {
			return err
		}

		resp, err := u.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return &supervisor.DependencyError{
				Dependency: u.dependency,
				StatusCode: resp.StatusCode,
				Message:    fmt.Sprintf("health endpoint returned %d", resp.StatusCode),
			}
		}

		return nil
	}
}

// lineStream yields one chunk per newline-delimited line of the response
// body. Cancellation of the request context aborts the underlying read.
type lineStream struct {
	body   io.ReadCloser
	reader *bufio.Reader
	done   bool
}

func (s *lineStream) Next(ctx context.Context) ([]byte, error) {
	if s.done {
		return nil, io.EOF
	}

	for {
		line, err := s.reader.ReadBytes('\n')
		line = bytes.TrimRight(line, "\r\n")

		if err == io.EOF {
			s.done = true

			if len(line) > 0 {
				return line, nil
			}

			return nil, io.EOF
		}

		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}

			return nil, err
		}

		// Skip keep-alive blank lines
		if len(line) == 0 {
			continue
		}

		return line, nil
	}
}

func (s *lineStream) Close() error {
	return s.body.Close()
}
