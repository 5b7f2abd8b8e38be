package harvest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/planetlabs/go-stac"
)

// S3API is the part of the S3 client used to read source documents.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// openSource opens a document by path or URI.
func (h *Harvester) openSource(ctx context.Context, uri string) (io.ReadCloser, error) {
	u, err := url.Parse(uri)
	if err != nil || len(u.Scheme) <= 1 {
		// Plain paths, including Windows drive letters.
		return openFile(uri)
	}

	switch strings.ToLower(u.Scheme) {
	case "file":
		return openFile(u.Path)
	case "http", "https":
		return h.openHTTP(ctx, uri)
	case "s3":
		return h.openS3(ctx, u)
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s", u.Scheme)
	}
}

func openFile(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open source: %w", err)
	}
	return f, nil
}

func (h *Harvester) openHTTP(ctx context.Context, uri string) (io.ReadCloser, error) {
	c := h.client
	if c == nil {
		var err error
		if c, err = NewClient(uri, WithClientLogger(h.logger)); err != nil {
			return nil, err
		}
	}
	resp, err := c.retry(ctx, func() (*http.Response, error) {
		return c.doRequest(ctx, http.MethodGet, uri, nil)
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &StatusError{StatusCode: resp.StatusCode, URL: uri}
	}
	return resp.Body, nil
}

func (h *Harvester) openS3(ctx context.Context, u *url.URL) (io.ReadCloser, error) {
	client := h.s3
	if client == nil {
		cfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		client = s3.NewFromConfig(cfg)
		h.s3 = client
	}

	bucket := u.Host
	key := strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return nil, fmt.Errorf("invalid S3 URI %q: bucket and key are required", u)
	}
	result, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read from S3: %w", err)
	}
	return result.Body, nil
}

type featureDocument struct {
	Type     string            `json:"type"`
	Features []json.RawMessage `json:"features"`
}

// documentItems yields the items of a static document.
func (h *Harvester) documentItems(ctx context.Context, uri string) iter.Seq2[*stac.Item, error] {
	return func(yield func(*stac.Item, error) bool) {
		body, err := h.openSource(ctx, uri)
		if err != nil {
			yield(nil, err)
			return
		}
		data, err := io.ReadAll(body)
		body.Close()
		if err != nil {
			yield(nil, fmt.Errorf("read %s: %w", uri, err))
			return
		}

		var doc featureDocument
		if err := json.Unmarshal(data, &doc); err != nil {
			yield(nil, fmt.Errorf("error decoding %s: %w", uri, err))
			return
		}
		features := doc.Features
		switch doc.Type {
		case "Feature":
			features = []json.RawMessage{data}
		case "FeatureCollection", "":
		default:
			yield(nil, fmt.Errorf("%s: unsupported GeoJSON type %q", uri, doc.Type))
			return
		}

		for i, raw := range features {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			item := &stac.Item{}
			if err := json.Unmarshal(raw, item); err != nil {
				yield(nil, fmt.Errorf("%s: feature %d: %w", uri, i, err))
				return
			}
			if !yield(item, nil) {
				return
			}
		}
	}
}
