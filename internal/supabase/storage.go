package supabase

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
)

const storagePath = "/storage/v1/object/"

// Upload stores body under bucket/name, replacing an existing object.
func (c *Client) Upload(ctx context.Context, bucket, name, contentType string, body []byte) error {
	resp, err := c.writes.R().
		SetContext(ctx).
		SetHeader("Content-Type", contentType).
		SetHeader("x-upsert", "true").
		SetBody(bytes.NewReader(body)).
		Post(storagePath + objectPath(bucket, name))
	if err := check(resp, err); err != nil {
		return fmt.Errorf("upload %s/%s: %w", bucket, name, err)
	}
	return nil
}

// PublicURL returns the public address of an object in a public bucket.
func (c *Client) PublicURL(bucket, name string) string {
	return c.baseURL + storagePath + "public/" + objectPath(bucket, name)
}

func objectPath(bucket, name string) string {
	parts := strings.Split(path.Clean("/"+name), "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return url.PathEscape(bucket) + strings.Join(parts, "/")
}
