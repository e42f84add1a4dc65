package cds

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Client is a Climate Data Store client capable of submitting retrieve
// requests, waiting for them to complete and downloading the results.
type Client struct {
	logger  *slog.Logger
	httpCli *http.Client
	baseURL *url.URL
	key     string

	// newPollBackOff returns the schedule for polling job status.
	newPollBackOff func() backoff.BackOff
}

const datasetRE = "^[a-z0-9][a-z0-9.-]*$"

var datasetPattern = regexp.MustCompile(datasetRE)

// NewClient creates a new CDS client.
func NewClient(logger *slog.Logger, creds Credentials, maxConns int) (*Client, error) {
	u, err := url.Parse(creds.URL)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("CDS URL %q must be http or https", creds.URL)
	}
	if creds.Key == "" {
		return nil, errors.New("CDS API key is empty")
	}

	return &Client{
		logger: logger,
		httpCli: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   30 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        maxConns,
				IdleConnTimeout:     30 * time.Second,
				MaxIdleConnsPerHost: maxConns,
				MaxConnsPerHost:     maxConns,
			},
		},
		baseURL:        u,
		key:            creds.Key,
		newPollBackOff: defaultPollBackOff,
	}, nil
}

func defaultPollBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 2 * time.Minute
	// Queued jobs can wait for hours.
	b.MaxElapsedTime = 0
	return b
}

// Request is the set of retrieve parameters of a dataset, e.g. "variable",
// "pressure_level", "year".
type Request map[string]any

// Job states reported by the retrieve API.
const (
	StatusAccepted   = "accepted"
	StatusRunning    = "running"
	StatusSuccessful = "successful"
	StatusFailed     = "failed"
	StatusRejected   = "rejected"
	StatusDismissed  = "dismissed"
)

type job struct {
	ID     string `json:"jobID"`
	Status string `json:"status"`
}

type results struct {
	Asset struct {
		Value struct {
			Href string `json:"href"`
			Size int64  `json:"file:size"`
		} `json:"value"`
	} `json:"asset"`
}

type apiError struct {
	Title     string `json:"title"`
	Detail    string `json:"detail"`
	Traceback string `json:"traceback"`
}

// StatusError is returned when the API answers with an unexpected HTTP
// status.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Message)
}

var errPending = errors.New("job not finished")

// Retrieve submits a request for dataset, waits for the job to finish and
// downloads its result to target. target is only created once the download is
// complete.
func (c *Client) Retrieve(ctx context.Context, dataset string, req Request, target string) error {
	if !datasetPattern.MatchString(dataset) {
		return fmt.Errorf("dataset %q does not match %q regular expression", dataset, datasetRE)
	}
	j, err := c.submit(ctx, dataset, req)
	if err != nil {
		return fmt.Errorf("submitting request: %w", err)
	}
	c.logger.Info("Request submitted", "dataset", dataset, "job", j.ID, "status", j.Status)
	if err := c.wait(ctx, j); err != nil {
		return err
	}
	var res results
	if err := c.do(ctx, http.MethodGet, c.endpoint("retrieve", "v1", "jobs", j.ID, "results"), nil, &res); err != nil {
		return fmt.Errorf("fetching results of job %s: %w", j.ID, err)
	}
	if res.Asset.Value.Href == "" {
		return fmt.Errorf("job %s has no result asset", j.ID)
	}
	return c.download(ctx, res.Asset.Value.Href, target)
}

func (c *Client) submit(ctx context.Context, dataset string, req Request) (*job, error) {
	body, err := json.Marshal(map[string]any{"inputs": req})
	if err != nil {
		return nil, err
	}
	var j job
	err = c.do(ctx, http.MethodPost, c.endpoint("retrieve", "v1", "processes", dataset, "execution"), body, &j)
	if err != nil {
		return nil, err
	}
	if j.ID == "" {
		return nil, errors.New("response has no job ID")
	}
	return &j, nil
}

// wait polls the job until it is successful. A failed, rejected or dismissed
// job ends the wait with an error.
func (c *Client) wait(ctx context.Context, j *job) error {
	status := j.Status
	poll := func() error {
		if status == StatusSuccessful {
			return nil
		}
		switch status {
		case StatusFailed, StatusRejected, StatusDismissed:
			return backoff.Permanent(c.jobError(ctx, j.ID, status))
		}
		var cur job
		err := c.do(ctx, http.MethodGet, c.endpoint("retrieve", "v1", "jobs", j.ID), nil, &cur)
		var se *StatusError
		if errors.As(err, &se) && se.Code < http.StatusInternalServerError {
			return backoff.Permanent(err)
		}
		if err != nil {
			return err
		}
		status = cur.Status
		if status == StatusSuccessful {
			return nil
		}
		if status == StatusFailed || status == StatusRejected || status == StatusDismissed {
			return backoff.Permanent(c.jobError(ctx, j.ID, status))
		}
		return errPending
	}
	return backoff.RetryNotify(poll, backoff.WithContext(c.newPollBackOff(), ctx), func(err error, d time.Duration) {
		if errors.Is(err, errPending) {
			c.logger.Debug("Job pending", "job", j.ID, "status", status, "next_poll", d)
			return
		}
		c.logger.Warn("Could not poll job", "job", j.ID, "err", err, "retry_in", d)
	})
}

// jobError builds the error of an unsuccessful job, using the message the API
// attaches to its results when there is one.
func (c *Client) jobError(ctx context.Context, id, status string) error {
	err := c.do(ctx, http.MethodGet, c.endpoint("retrieve", "v1", "jobs", id, "results"), nil, nil)
	var se *StatusError
	if errors.As(err, &se) && se.Message != "" {
		return fmt.Errorf("job %s %s: %s", id, status, se.Message)
	}
	return fmt.Errorf("job %s %s", id, status)
}

func (c *Client) endpoint(elem ...string) string {
	return c.baseURL.JoinPath(elem...).String()
}

// do sends a JSON request and decodes a JSON response into out, if not nil.
func (c *Client) do(ctx context.Context, method, u string, body []byte, out any) error {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return err
	}
	req.Header.Set("PRIVATE-TOKEN", c.key)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := c.httpCli.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if _, err := io.Copy(io.Discard, res.Body); err != nil {
			c.logger.Error("Failed to drain response body", "err", err)
		}
		res.Body.Close()
	}()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return statusError(res)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(res.Body).Decode(out)
}

func statusError(res *http.Response) error {
	se := &StatusError{Code: res.StatusCode}
	var ae apiError
	if err := json.NewDecoder(res.Body).Decode(&ae); err == nil {
		se.Message = ae.Title
		if ae.Detail != "" {
			se.Message += ": " + ae.Detail
		}
	}
	return se
}

// download streams href to target through a temporary file.
func (c *Client) download(ctx context.Context, href, target string) (err error) {
	ref, err := url.Parse(href)
	if err != nil {
		return err
	}
	u := c.baseURL.ResolveReference(ref).String()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	res, err := c.httpCli.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("downloading %s: %w", u, statusError(res))
	}

	tmp := target + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()
	start := time.Now()
	n, err := io.Copy(f, res.Body)
	if err != nil {
		return fmt.Errorf("downloading %s: %w", u, err)
	}
	if res.ContentLength >= 0 && n != res.ContentLength {
		return fmt.Errorf("downloading %s: got %d of %d bytes", u, n, res.ContentLength)
	}
	if err = f.Close(); err != nil {
		return err
	}
	if err = os.Rename(tmp, target); err != nil {
		return err
	}
	c.logger.Info("Downloaded", "file", target, "bytes", n, "in", time.Since(start).Round(time.Millisecond))
	return nil
}
