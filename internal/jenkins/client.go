package jenkins

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
)

const (
	maxBodySize          = 32 << 20
	validationSuccessful = "successfully validated"
)

// Path addresses an item through its chain of folders, outermost first.
type Path []string

// Child returns a new path one level below p.
func (p Path) Child(name string) Path {
	child := make(Path, 0, len(p)+1)
	child = append(child, p...)
	return append(child, name)
}

func (p Path) String() string {
	return strings.Join(p, "/")
}

func (p Path) urlPath() string {
	var sb strings.Builder
	for _, seg := range p {
		sb.WriteString("/job/")
		sb.WriteString(url.PathEscape(seg))
	}
	return sb.String()
}

// Build is the subset of a build's api/json the engine relies on.
type Build struct {
	Number            int64
	Building          bool
	Result            string
	EstimatedDuration int64
	Duration          int64
	Timestamp         int64
}

// Stage is one node of the workflow stage graph.
type Stage struct {
	ID             string
	Name           string
	Status         string
	DurationMillis int64
}

type buildJSON struct {
	ID                *string `json:"id"`
	Number            *int64  `json:"number"`
	EstimatedDuration int64   `json:"estimatedDuration"`
	Timestamp         int64   `json:"timestamp"`
	Duration          int64   `json:"duration"`
	Building          *bool   `json:"building"`
	Result            *string `json:"result"`
}

type describeJSON struct {
	Stages *[]stageJSON `json:"stages"`
}

type stageJSON struct {
	ID             string  `json:"id"`
	Name           *string `json:"name"`
	Status         *string `json:"status"`
	DurationMillis int64   `json:"durationMillis"`
}

// Client talks to a Jenkins controller with basic auth. Every call is bounded
// by the client timeout as well as the caller's context.
type Client struct {
	baseURL  string
	username string
	apiToken string
	client   *http.Client
}

func NewClient(baseURL, username, apiToken string, timeout time.Duration) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		apiToken: apiToken,
		client: &http.Client{
			Timeout: timeout,
			// stop and build answer with redirects to HTML pages
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (c *Client) CreateFolder(ctx context.Context, parent Path, name string, cfg FolderConfig) error {
	b, err := marshalFolder(cfg)
	if err != nil {
		return err
	}
	return c.createItem(ctx, parent, name, b)
}

func (c *Client) UpdateFolder(ctx context.Context, folder Path, cfg FolderConfig) error {
	b, err := marshalFolder(cfg)
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodPost, folder.urlPath()+"/config.xml", nil, "application/xml", b)
	return err
}

func (c *Client) GetFolder(ctx context.Context, folder Path) (FolderConfig, error) {
	b, err := c.do(ctx, http.MethodGet, folder.urlPath()+"/config.xml", nil, "", nil)
	if err != nil {
		return FolderConfig{}, err
	}
	return unmarshalFolder(b)
}

func (c *Client) CreatePipeline(ctx context.Context, parent Path, name string, cfg PipelineConfig) error {
	b, err := marshalPipeline(cfg)
	if err != nil {
		return err
	}
	return c.createItem(ctx, parent, name, b)
}

func (c *Client) UpdatePipeline(ctx context.Context, job Path, cfg PipelineConfig) error {
	b, err := marshalPipeline(cfg)
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodPost, job.urlPath()+"/config.xml", nil, "application/xml", b)
	return err
}

// GetPipelineScript reads the job definition back and returns its inline script.
func (c *Client) GetPipelineScript(ctx context.Context, job Path) (string, error) {
	b, err := c.do(ctx, http.MethodGet, job.urlPath()+"/config.xml", nil, "", nil)
	if err != nil {
		return "", err
	}
	cfg, err := unmarshalPipeline(b)
	if err != nil {
		return "", err
	}
	return cfg.Script, nil
}

// CreateStringCredential creates an empty secret text credential in the
// folder's credential store. The value is filled in out of band.
func (c *Client) CreateStringCredential(ctx context.Context, folder Path, id, description string) error {
	b, err := marshalStringCredentials(id, description)
	if err != nil {
		return err
	}
	p := folder.urlPath() + "/credentials/store/folder/domain/_/createCredentials"
	_, err = c.do(ctx, http.MethodPost, p, nil, "application/xml", b)
	return err
}

// ValidatePipelineScript runs the declarative linter. The returned text is the
// linter's output, which lists the errors when ok is false.
func (c *Client) ValidatePipelineScript(ctx context.Context, script string) (bool, string, error) {
	form := url.Values{"jenkinsfile": {script}}
	b, err := c.do(
		ctx,
		http.MethodPost,
		"/pipeline-model-converter/validate",
		nil,
		"application/x-www-form-urlencoded",
		[]byte(form.Encode()),
	)
	if err != nil {
		return false, "", err
	}
	text := strings.TrimSpace(string(b))
	return strings.Contains(strings.ToLower(text), validationSuccessful), text, nil
}

// TriggerBuild queues a build. Jenkins does not answer with the build number.
func (c *Client) TriggerBuild(ctx context.Context, job Path) error {
	_, err := c.do(ctx, http.MethodPost, job.urlPath()+"/build", nil, "", nil)
	return err
}

// LastBuildNumber returns the number of the job's most recent build. A job
// without builds answers 404, which surfaces as ErrNotFound.
func (c *Client) LastBuildNumber(ctx context.Context, job Path) (int64, error) {
	var last struct {
		Number *int64 `json:"number"`
	}
	q := url.Values{"tree": {"number"}}
	if err := c.getJSON(ctx, job.urlPath()+"/lastBuild/api/json", q, &last); err != nil {
		return 0, err
	}
	if last.Number == nil {
		return 0, fmt.Errorf("%w: last build has no number", ErrMalformedResponse)
	}
	return *last.Number, nil
}

func (c *Client) StopBuild(ctx context.Context, job Path, id int64) error {
	_, err := c.do(ctx, http.MethodPost, buildPath(job, id)+"/stop", nil, "", nil)
	return err
}

func (c *Client) GetBuild(ctx context.Context, job Path, id int64) (*Build, error) {
	raw := new(buildJSON)
	if err := c.getJSON(ctx, buildPath(job, id)+"/api/json", nil, raw); err != nil {
		return nil, err
	}
	if raw.Building == nil {
		return nil, fmt.Errorf("%w: build %d has no building flag", ErrMalformedResponse, id)
	}
	b := &Build{
		Number:            id,
		Building:          *raw.Building,
		EstimatedDuration: raw.EstimatedDuration,
		Duration:          raw.Duration,
		Timestamp:         raw.Timestamp,
	}
	switch {
	case raw.Number != nil:
		b.Number = *raw.Number
	case raw.ID != nil:
		n, err := strconv.ParseInt(*raw.ID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: build id %q: %w", ErrMalformedResponse, *raw.ID, err)
		}
		b.Number = n
	}
	if raw.Result != nil {
		b.Result = *raw.Result
	}
	return b, nil
}

// GetStages returns the build's stage graph in execution order.
func (c *Client) GetStages(ctx context.Context, job Path, id int64) ([]Stage, error) {
	raw := new(describeJSON)
	if err := c.getJSON(ctx, buildPath(job, id)+"/wfapi/describe", nil, raw); err != nil {
		return nil, err
	}
	if raw.Stages == nil {
		return nil, fmt.Errorf("%w: build %d has no stages field", ErrMalformedResponse, id)
	}
	stages := make([]Stage, 0, len(*raw.Stages))
	for i, s := range *raw.Stages {
		if s.Name == nil || s.Status == nil {
			return nil, fmt.Errorf("%w: stage %d of build %d lacks name or status", ErrMalformedResponse, i, id)
		}
		stages = append(stages, Stage{
			ID:             s.ID,
			Name:           *s.Name,
			Status:         *s.Status,
			DurationMillis: s.DurationMillis,
		})
	}
	return stages, nil
}

func (c *Client) GetStageLog(ctx context.Context, job Path, id int64, nodeID string) (string, error) {
	q := url.Values{"nodeId": {nodeID}}
	b, err := c.do(ctx, http.MethodGet, buildPath(job, id)+"/pipeline-console/log", q, "", nil)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (c *Client) GetConsoleText(ctx context.Context, job Path, id int64) (string, error) {
	b, err := c.do(ctx, http.MethodGet, buildPath(job, id)+"/consoleText", nil, "", nil)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (c *Client) createItem(ctx context.Context, parent Path, name string, descriptor []byte) error {
	q := url.Values{"name": {name}}
	_, err := c.do(ctx, http.MethodPost, parent.urlPath()+"/createItem", q, "application/xml", descriptor)
	return err
}

func (c *Client) getJSON(ctx context.Context, p string, q url.Values, target any) error {
	b, err := c.do(ctx, http.MethodGet, p, q, "", nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, target); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrMalformedResponse, p, err)
	}
	return nil
}

func (c *Client) do(
	ctx context.Context,
	method, p string,
	q url.Values,
	contentType string,
	body []byte,
) ([]byte, error) {
	u := c.baseURL + p
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.SetBasicAuth(c.username, c.apiToken)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrUnavailable, method, p, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", ErrUnavailable, p, err)
	}
	if resp.StatusCode >= 400 {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: plainText(b)}
	}
	return b, nil
}

func buildPath(job Path, id int64) string {
	return job.urlPath() + "/" + strconv.FormatInt(id, 10)
}
