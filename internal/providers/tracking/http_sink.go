package tracking

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/smallbiznis/dripflow/internal/catalog"
	"go.uber.org/zap"
)

// HTTPSink posts conversions as JSON to an external tracker endpoint taken
// from the funnel catalog.
type HTTPSink struct {
	name   string
	url    string
	token  string
	client *http.Client
	log    *zap.Logger
}

type Option func(*HTTPSink)

func WithHTTPClient(client *http.Client) Option {
	return func(s *HTTPSink) {
		if client != nil {
			s.client = client
		}
	}
}

func NewHTTPSink(cfg catalog.SinkConfig, log *zap.Logger, opts ...Option) *HTTPSink {
	s := &HTTPSink{
		name:   cfg.Name,
		url:    cfg.URL,
		token:  cfg.Token,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log.Named("providers.tracking").With(zap.String("sink", cfg.Name)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *HTTPSink) Name() string { return s.name }

func (s *HTTPSink) Deliver(ctx context.Context, conv *Conversion) error {
	body, err := json.Marshal(conv)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("sink %s rejected conversion: status=%d", s.name, resp.StatusCode)
	}
	return nil
}
