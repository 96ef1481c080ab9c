package testutil

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
)

const (
	FakeJenkinsUser  = "deplora"
	FakeJenkinsToken = "11aa22bb33cc"
)

// FakeStage is one stage of a FakeBuild as exposed through wfapi/describe.
type FakeStage struct {
	ID             string
	Name           string
	Status         string
	DurationMillis int64
	Log            string
}

// FakeBuild is a scripted build. While Building, every api/json read counts
// down FinishAfter; when it reaches zero the build completes with
// FinalResult and in-progress stages are settled.
type FakeBuild struct {
	Number      int64
	Building    bool
	Result      string
	FinalResult string
	FinishAfter int
	Stages      []FakeStage
	Console     string
	Stopped     bool
}

// FakeItem is a folder or a pipeline job.
type FakeItem struct {
	Folder      bool
	Config      []byte
	Builds      []*FakeBuild
	Credentials []string
}

type failure struct {
	method string
	suffix string
	status int
	body   string
}

// FakeJenkins simulates the subset of the Jenkins HTTP API used by the
// engine, in memory, behind an httptest server.
type FakeJenkins struct {
	Server *httptest.Server

	// NewBuild seeds every triggered build. Number is assigned by the fake.
	NewBuild func() FakeBuild
	// Validate answers pipeline-model-converter/validate.
	Validate func(script string) string

	mu       sync.Mutex
	items    map[string]*FakeItem
	failures []failure
	requests []string
}

func NewFakeJenkins() *FakeJenkins {
	fj := &FakeJenkins{
		items: make(map[string]*FakeItem),
		NewBuild: func() FakeBuild {
			return FakeBuild{Building: true, FinishAfter: 1, FinalResult: "SUCCESS"}
		},
		Validate: func(script string) string {
			if strings.Contains(script, "pipeline") {
				return "Jenkinsfile successfully validated.\n"
			}
			return "Errors encountered validating Jenkinsfile:\nWorkflowScript: 1: pipeline block not found\n"
		},
	}
	fj.Server = httptest.NewServer(http.HandlerFunc(fj.serveHTTP))
	return fj
}

func (fj *FakeJenkins) URL() string {
	return fj.Server.URL
}

func (fj *FakeJenkins) Close() {
	fj.Server.Close()
}

// Fail makes every request with the given method whose path ends with suffix
// answer status with an HTML page carrying message.
func (fj *FakeJenkins) Fail(method, suffix string, status int, message string) {
	fj.mu.Lock()
	defer fj.mu.Unlock()
	fj.failures = append(fj.failures, failure{method, suffix, status, errorPage(status, message)})
}

func (fj *FakeJenkins) ClearFailures() {
	fj.mu.Lock()
	defer fj.mu.Unlock()
	fj.failures = nil
}

// Requests counts served requests with the given method whose path ends with suffix.
func (fj *FakeJenkins) Requests(method, suffix string) int {
	fj.mu.Lock()
	defer fj.mu.Unlock()
	n := 0
	for _, r := range fj.requests {
		if strings.HasPrefix(r, method+" ") && strings.HasSuffix(r, suffix) {
			n++
		}
	}
	return n
}

// Item returns a copy of the item at the given path.
func (fj *FakeJenkins) Item(path ...string) (FakeItem, bool) {
	fj.mu.Lock()
	defer fj.mu.Unlock()
	it, ok := fj.items[strings.Join(path, "/")]
	if !ok {
		return FakeItem{}, false
	}
	return *it, true
}

// PutItem stores an item at the given path, replacing any existing one.
func (fj *FakeJenkins) PutItem(item FakeItem, path ...string) {
	fj.mu.Lock()
	defer fj.mu.Unlock()
	fj.items[strings.Join(path, "/")] = &item
}

// AddBuild appends a build to the job at path and returns its number.
func (fj *FakeJenkins) AddBuild(b FakeBuild, path ...string) int64 {
	fj.mu.Lock()
	defer fj.mu.Unlock()
	it := fj.items[strings.Join(path, "/")]
	b.Number = int64(len(it.Builds) + 1)
	it.Builds = append(it.Builds, &b)
	return b.Number
}

// UpdateBuild applies fn to the build under the fake's lock.
func (fj *FakeJenkins) UpdateBuild(number int64, fn func(*FakeBuild), path ...string) {
	fj.mu.Lock()
	defer fj.mu.Unlock()
	if b := fj.build(strings.Join(path, "/"), number); b != nil {
		fn(b)
	}
}

func (fj *FakeJenkins) build(key string, number int64) *FakeBuild {
	it, ok := fj.items[key]
	if !ok || number < 1 || number > int64(len(it.Builds)) {
		return nil
	}
	return it.Builds[number-1]
}

func (fj *FakeJenkins) serveHTTP(w http.ResponseWriter, r *http.Request) {
	user, token, ok := r.BasicAuth()
	if !ok || user != FakeJenkinsUser || token != FakeJenkinsToken {
		writeHTML(w, http.StatusUnauthorized, errorPage(http.StatusUnauthorized, "Invalid password/token for user: "+user))
		return
	}

	fj.mu.Lock()
	defer fj.mu.Unlock()
	fj.requests = append(fj.requests, r.Method+" "+r.URL.Path)
	for _, f := range fj.failures {
		if f.method == r.Method && strings.HasSuffix(r.URL.Path, f.suffix) {
			writeHTML(w, f.status, f.body)
			return
		}
	}

	var segs []string
	for _, s := range strings.Split(strings.Trim(r.URL.EscapedPath(), "/"), "/") {
		u, err := url.PathUnescape(s)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		segs = append(segs, u)
	}
	var itemPath []string
	i := 0
	for i+1 < len(segs) && segs[i] == "job" {
		itemPath = append(itemPath, segs[i+1])
		i += 2
	}
	key := strings.Join(itemPath, "/")
	rest := segs[i:]

	body, _ := io.ReadAll(r.Body)

	switch {
	case len(rest) == 1 && rest[0] == "createItem" && r.Method == http.MethodPost:
		fj.createItem(w, key, r.URL.Query().Get("name"), body)
	case len(rest) == 2 && rest[0] == "pipeline-model-converter" && rest[1] == "validate":
		form, _ := url.ParseQuery(string(body))
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, fj.Validate(form.Get("jenkinsfile")))
	case len(rest) == 1 && rest[0] == "config.xml":
		fj.config(w, r.Method, key, body)
	case len(rest) == 6 && rest[0] == "credentials" && rest[5] == "createCredentials":
		fj.createCredentials(w, key, body)
	case len(rest) == 1 && rest[0] == "build" && r.Method == http.MethodPost:
		fj.trigger(w, key)
	case len(rest) == 3 && rest[0] == "lastBuild":
		it, ok := fj.items[key]
		if !ok || len(it.Builds) == 0 {
			writeHTML(w, http.StatusNotFound, errorPage(http.StatusNotFound, "Not Found"))
			return
		}
		writeJSON(w, map[string]any{"_class": "org.jenkinsci.plugins.workflow.job.WorkflowRun", "number": len(it.Builds)})
	case len(rest) >= 2:
		number, err := strconv.ParseInt(rest[0], 10, 64)
		b := fj.build(key, number)
		if err != nil || b == nil {
			writeHTML(w, http.StatusNotFound, errorPage(http.StatusNotFound, "Not Found"))
			return
		}
		fj.serveBuild(w, r, b, strings.Join(rest[1:], "/"))
	default:
		writeHTML(w, http.StatusNotFound, errorPage(http.StatusNotFound, "Not Found"))
	}
}

func (fj *FakeJenkins) createItem(w http.ResponseWriter, parent, name string, body []byte) {
	if parent != "" {
		if p, ok := fj.items[parent]; !ok || !p.Folder {
			writeHTML(w, http.StatusNotFound, errorPage(http.StatusNotFound, "Not Found"))
			return
		}
	}
	key := name
	if parent != "" {
		key = parent + "/" + name
	}
	if _, ok := fj.items[key]; ok {
		writeHTML(w, http.StatusBadRequest, errorPage(http.StatusBadRequest, "A job already exists with the name ‘"+name+"’"))
		return
	}
	fj.items[key] = &FakeItem{
		Folder: !strings.Contains(string(body), "<flow-definition"),
		Config: body,
	}
	w.WriteHeader(http.StatusOK)
}

func (fj *FakeJenkins) config(w http.ResponseWriter, method, key string, body []byte) {
	it, ok := fj.items[key]
	if !ok {
		writeHTML(w, http.StatusNotFound, errorPage(http.StatusNotFound, "Not Found"))
		return
	}
	if method == http.MethodPost {
		it.Config = body
		w.WriteHeader(http.StatusOK)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	// Jenkins stores descriptors as XML 1.1
	cfg := strings.Replace(string(it.Config), `<?xml version="1.0" encoding="UTF-8"?>`, `<?xml version='1.1' encoding='UTF-8'?>`, 1)
	_, _ = io.WriteString(w, cfg)
}

func (fj *FakeJenkins) createCredentials(w http.ResponseWriter, key string, body []byte) {
	it, ok := fj.items[key]
	if !ok || !it.Folder {
		writeHTML(w, http.StatusNotFound, errorPage(http.StatusNotFound, "Not Found"))
		return
	}
	var cred struct {
		ID string `xml:"id"`
	}
	if err := xml.Unmarshal(body, &cred); err != nil || cred.ID == "" {
		writeHTML(w, http.StatusBadRequest, errorPage(http.StatusBadRequest, "invalid credentials descriptor"))
		return
	}
	for _, id := range it.Credentials {
		if id == cred.ID {
			writeHTML(w, http.StatusConflict, errorPage(http.StatusConflict, "A credential with the id "+id+" already exists"))
			return
		}
	}
	it.Credentials = append(it.Credentials, cred.ID)
	w.WriteHeader(http.StatusOK)
}

func (fj *FakeJenkins) trigger(w http.ResponseWriter, key string) {
	it, ok := fj.items[key]
	if !ok || it.Folder {
		writeHTML(w, http.StatusNotFound, errorPage(http.StatusNotFound, "Not Found"))
		return
	}
	b := fj.NewBuild()
	b.Number = int64(len(it.Builds) + 1)
	it.Builds = append(it.Builds, &b)
	w.Header().Set("Location", fj.Server.URL+"/queue/item/"+strconv.FormatInt(b.Number, 10)+"/")
	w.WriteHeader(http.StatusCreated)
}

func (fj *FakeJenkins) serveBuild(w http.ResponseWriter, r *http.Request, b *FakeBuild, action string) {
	switch action {
	case "api/json":
		if b.Building && b.FinishAfter > 0 {
			b.FinishAfter--
			if b.FinishAfter == 0 {
				b.finish(b.FinalResult, "SUCCESS")
			}
		}
		var result any
		if !b.Building {
			result = b.Result
		}
		writeJSON(w, map[string]any{
			"_class":            "org.jenkinsci.plugins.workflow.job.WorkflowRun",
			"id":                strconv.FormatInt(b.Number, 10),
			"number":            b.Number,
			"building":          b.Building,
			"result":            result,
			"estimatedDuration": 60000,
			"timestamp":         1700000000000 + b.Number,
			"duration":          0,
		})
	case "wfapi/describe":
		stages := make([]map[string]any, 0, len(b.Stages))
		for _, s := range b.Stages {
			stages = append(stages, map[string]any{
				"id":             s.ID,
				"name":           s.Name,
				"status":         s.Status,
				"durationMillis": s.DurationMillis,
			})
		}
		writeJSON(w, map[string]any{"id": strconv.FormatInt(b.Number, 10), "stages": stages})
	case "pipeline-console/log":
		nodeID := r.URL.Query().Get("nodeId")
		for _, s := range b.Stages {
			if s.ID == nodeID {
				w.Header().Set("Content-Type", "text/plain")
				w.WriteHeader(http.StatusOK)
				_, _ = io.WriteString(w, s.Log)
				return
			}
		}
		writeHTML(w, http.StatusNotFound, errorPage(http.StatusNotFound, "Not Found"))
	case "consoleText":
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, b.Console)
	case "stop":
		if r.Method != http.MethodPost {
			writeHTML(w, http.StatusMethodNotAllowed, errorPage(http.StatusMethodNotAllowed, "Method Not Allowed"))
			return
		}
		if b.Building {
			b.Stopped = true
			b.finish("ABORTED", "ABORTED")
		}
		w.Header().Set("Location", strings.TrimSuffix(r.URL.Path, "stop"))
		w.WriteHeader(http.StatusFound)
	default:
		writeHTML(w, http.StatusNotFound, errorPage(http.StatusNotFound, "Not Found"))
	}
}

func (b *FakeBuild) finish(result, stageStatus string) {
	if result == "" {
		result = "SUCCESS"
	}
	b.Building = false
	b.Result = result
	for i := range b.Stages {
		if b.Stages[i].Status == "IN_PROGRESS" {
			b.Stages[i].Status = stageStatus
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}

func writeHTML(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/html;charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func errorPage(status int, message string) string {
	return fmt.Sprintf(`<html><head><title>Error %d</title><style>body{color:red}</style></head>
<body><h2>HTTP ERROR %d</h2><p>%s</p><script>console.log("x")</script></body></html>`,
		status, status, message)
}
