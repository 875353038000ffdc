package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"sealroom/internal/crypto"
	"sealroom/internal/domain"
)

// Client talks to a relay over HTTP. It implements domain.Delivery,
// domain.Directory and domain.HandshakeLog.
type Client struct {
	base string
	http *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) ClientOption { return func(c *Client) { c.http = h } }

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.http = &http.Client{Timeout: d, Transport: c.http.Transport}
		}
	}
}

// NewClient returns a client for the relay at base.
func NewClient(base string, opts ...ClientOption) *Client {
	c := &Client{base: strings.TrimRight(base, "/"), http: &http.Client{Timeout: 15 * time.Second}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StatusError is a non-2xx relay response.
type StatusError struct {
	Method string
	Path   string
	Status int
	Msg    string
}

func (e *StatusError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("relay %s %s: %d %s", e.Method, e.Path, e.Status, e.Msg)
	}
	return fmt.Sprintf("relay %s %s: %d", e.Method, e.Path, e.Status)
}

func (c *Client) do(ctx context.Context, method, path string, header http.Header, in, out any) (int, error) {
	var body io.Reader
	if in != nil {
		buf := new(bytes.Buffer)
		if err := json.NewEncoder(buf).Encode(in); err != nil {
			return 0, err
		}
		body = buf
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return 0, err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 && resp.StatusCode != http.StatusConflict {
		var eb errorBody
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&eb)
		return resp.StatusCode, &StatusError{Method: method, Path: path, Status: resp.StatusCode, Msg: eb.Error}
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("relay %s %s: decode: %w", method, path, err)
		}
	}
	return resp.StatusCode, nil
}

// Post appends blob to channel. A repeated idempotency key returns the
// original sequence number with domain.ErrDuplicateDelivery.
func (c *Client) Post(ctx context.Context, ch string, epoch uint64, blob []byte, idempotencyKey string) (uint64, error) {
	h := http.Header{}
	h.Set(IdempotencyHeader, idempotencyKey)
	var out seqBody
	status, err := c.do(ctx, http.MethodPost, "/v1/channels/"+url.PathEscape(ch)+"/messages", h, postBody{Epoch: epoch, Blob: blob}, &out)
	if err != nil {
		return 0, err
	}
	if status == http.StatusConflict {
		return out.Seq, domain.ErrDuplicateDelivery
	}
	return out.Seq, nil
}

// Fetch returns every message of channel after afterSeq, in order.
func (c *Client) Fetch(ctx context.Context, ch string, afterSeq uint64) ([]domain.Delivered, error) {
	var out []domain.Delivered
	path := "/v1/channels/" + url.PathEscape(ch) + "/messages?after=" + strconv.FormatUint(afterSeq, 10)
	if _, err := c.do(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Handshakes returns the group's handshake history in posting order.
func (c *Client) Handshakes(ctx context.Context, groupID domain.GroupID) ([]domain.MLSMessage, error) {
	var out []domain.MLSMessage
	if _, err := c.do(ctx, http.MethodGet, "/v1/channels/"+url.PathEscape(string(groupID))+"/handshakes", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PublishDevice uploads a device public key.
func (c *Client) PublishDevice(ctx context.Context, fpr domain.Fingerprint, pub domain.PublicKey) error {
	_, err := c.do(ctx, http.MethodPut, "/v1/devices/"+url.PathEscape(fpr.String()), nil, deviceBody{Fingerprint: fpr, PublicKey: pub}, nil)
	return err
}

// LookupDevice fetches a device public key and checks it against fpr.
func (c *Client) LookupDevice(ctx context.Context, fpr domain.Fingerprint) (domain.PublicKey, error) {
	var out deviceBody
	status, err := c.do(ctx, http.MethodGet, "/v1/devices/"+url.PathEscape(fpr.String()), nil, nil, &out)
	if status == http.StatusNotFound {
		return domain.PublicKey{}, domain.NotFound("device", fpr.String())
	}
	if err != nil {
		return domain.PublicKey{}, err
	}
	if crypto.Fingerprint(out.PublicKey) != fpr {
		return domain.PublicKey{}, &domain.CryptoError{Op: "lookup device", Message: "relay returned a key for another fingerprint"}
	}
	return out.PublicKey, nil
}

// PublishKeyPackage uploads a signed key package.
func (c *Client) PublishKeyPackage(ctx context.Context, kp domain.KeyPackage) error {
	_, err := c.do(ctx, http.MethodPost, "/v1/keypackages/"+url.PathEscape(kp.DeviceFingerprint.String()), nil, kp, nil)
	return err
}

// ClaimKeyPackage consumes one key package of fpr.
func (c *Client) ClaimKeyPackage(ctx context.Context, fpr domain.Fingerprint) (domain.KeyPackage, error) {
	var kp domain.KeyPackage
	status, err := c.do(ctx, http.MethodPost, "/v1/keypackages/"+url.PathEscape(fpr.String())+"/claim", nil, nil, &kp)
	if status == http.StatusNotFound {
		return domain.KeyPackage{}, domain.NotFound("key package", fpr.String())
	}
	if err != nil {
		return domain.KeyPackage{}, err
	}
	if kp.DeviceFingerprint != fpr {
		return domain.KeyPackage{}, &domain.CryptoError{Op: "claim key package", Message: "relay returned a package for another device"}
	}
	return kp, nil
}

var (
	_ domain.Delivery     = (*Client)(nil)
	_ domain.Directory    = (*Client)(nil)
	_ domain.HandshakeLog = (*Client)(nil)
)
