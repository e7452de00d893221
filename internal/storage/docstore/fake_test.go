package docstore

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sort"
	"strings"
	"sync"
	"testing"
)

// fakeCluster is an in-memory stand-in for the handful of OpenSearch endpoints
// docstore talks to.
type fakeCluster struct {
	mu       sync.Mutex
	aliases  map[string]string
	docs     map[string]map[string]map[string]any
	requests []string
}

func newFakeCluster() *fakeCluster {
	return &fakeCluster{
		aliases: map[string]string{},
		docs:    map[string]map[string]map[string]any{},
	}
}

func newTestClient(t *testing.T) (*Client, *fakeCluster) {
	t.Helper()
	fake := newFakeCluster()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	c, err := Open(Config{Addresses: []string{srv.URL}, IndexPrefix: "askthemall_test_"})
	if err != nil {
		t.Fatalf("open client: %v", err)
	}
	return c, fake
}

func (f *fakeCluster) count(method, path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.requests {
		if r == method+" "+path {
			n++
		}
	}
	return n
}

// countPath counts requests to path with any method.
func (f *fakeCluster) countPath(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.requests {
		if strings.HasSuffix(r, " "+path) {
			n++
		}
	}
	return n
}

func (f *fakeCluster) aliasTarget(alias string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.aliases[alias]
}

func (f *fakeCluster) resolve(name string) (string, bool) {
	if idx, ok := f.aliases[name]; ok {
		return idx, true
	}
	_, ok := f.docs[name]
	return name, ok
}

func (f *fakeCluster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)

	var body map[string]any
	if raw, _ := io.ReadAll(r.Body); len(raw) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": map[string]any{"type": "parse_exception", "reason": err.Error()}})
			return
		}
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case r.URL.Path == "/":
		w.WriteHeader(http.StatusOK)
	case len(parts) == 2 && parts[0] == "_alias" && r.Method == http.MethodHead:
		if _, ok := f.aliases[parts[1]]; ok {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	case len(parts) == 1 && r.Method == http.MethodPut:
		if _, ok := f.docs[parts[0]]; ok {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": map[string]any{"type": "resource_already_exists_exception", "reason": parts[0]}})
			return
		}
		f.docs[parts[0]] = map[string]map[string]any{}
		aliases, _ := body["aliases"].(map[string]any)
		for alias := range aliases {
			f.aliases[alias] = parts[0]
		}
		writeJSON(w, http.StatusOK, map[string]any{"acknowledged": true})
	case len(parts) == 3 && parts[1] == "_doc":
		f.serveDoc(w, r, parts[0], parts[2], body)
	case len(parts) == 2 && parts[1] == "_search":
		f.serveSearch(w, parts[0], body)
	case len(parts) == 2 && parts[1] == "_delete_by_query":
		idx, ok := f.resolve(parts[0])
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": map[string]any{"type": "index_not_found_exception"}})
			return
		}
		q, _ := body["query"].(map[string]any)
		deleted := 0
		for id, doc := range f.docs[idx] {
			if matches(q, doc) {
				delete(f.docs[idx], id)
				deleted++
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
	default:
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": map[string]any{"type": "unsupported", "reason": r.URL.Path}})
	}
}

func (f *fakeCluster) serveDoc(w http.ResponseWriter, r *http.Request, name, id string, body map[string]any) {
	idx, ok := f.resolve(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": map[string]any{"type": "index_not_found_exception"}})
		return
	}
	switch r.Method {
	case http.MethodPut, http.MethodPost:
		f.docs[idx][id] = body
		writeJSON(w, http.StatusOK, map[string]any{"result": "created"})
	case http.MethodGet:
		doc, ok := f.docs[idx][id]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"found": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"found": true, "_source": doc})
	case http.MethodDelete:
		if _, ok := f.docs[idx][id]; !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"result": "not_found"})
			return
		}
		delete(f.docs[idx], id)
		writeJSON(w, http.StatusOK, map[string]any{"result": "deleted"})
	}
}

func (f *fakeCluster) serveSearch(w http.ResponseWriter, name string, body map[string]any) {
	idx, ok := f.resolve(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": map[string]any{"type": "index_not_found_exception"}})
		return
	}
	q, _ := body["query"].(map[string]any)
	var matched []map[string]any
	for _, doc := range f.docs[idx] {
		if matches(q, doc) {
			matched = append(matched, doc)
		}
	}
	if sorts, ok := body["sort"].([]any); ok && len(sorts) > 0 {
		for field, order := range sorts[0].(map[string]any) {
			desc := order.(map[string]any)["order"] == "desc"
			sort.SliceStable(matched, func(i, j int) bool {
				a, b := fmt.Sprint(matched[i][field]), fmt.Sprint(matched[j][field])
				if desc {
					return a > b
				}
				return a < b
			})
		}
	}

	total := len(matched)
	size := 10
	if s, ok := body["size"].(float64); ok {
		size = int(s)
	}
	hits := make([]map[string]any, 0)
	for i := 0; i < len(matched) && i < size; i++ {
		hits = append(hits, map[string]any{"_source": matched[i]})
	}

	resp := map[string]any{
		"hits": map[string]any{
			"total": map[string]any{"value": total, "relation": "eq"},
			"hits":  hits,
		},
	}
	if aggs, ok := body["aggs"].(map[string]any); ok {
		terms := aggs["distinct_values"].(map[string]any)["terms"].(map[string]any)
		field := terms["field"].(string)
		counts := map[string]int{}
		var keys []string
		for _, doc := range matched {
			k := fmt.Sprint(doc[field])
			if counts[k] == 0 {
				keys = append(keys, k)
			}
			counts[k]++
		}
		sort.SliceStable(keys, func(i, j int) bool { return counts[keys[i]] > counts[keys[j]] })
		buckets := make([]map[string]any, 0, len(keys))
		for _, k := range keys {
			buckets = append(buckets, map[string]any{"key": k, "doc_count": counts[k]})
		}
		resp["aggregations"] = map[string]any{"distinct_values": map[string]any{"buckets": buckets}}
	}
	writeJSON(w, http.StatusOK, resp)
}

func matches(q map[string]any, doc map[string]any) bool {
	for kind, raw := range q {
		args, _ := raw.(map[string]any)
		switch kind {
		case "match_all":
			return true
		case "term":
			for field, v := range args {
				return fmt.Sprint(doc[field]) == fmt.Sprint(v)
			}
		case "terms":
			for field, v := range args {
				for _, want := range v.([]any) {
					if fmt.Sprint(doc[field]) == fmt.Sprint(want) {
						return true
					}
				}
				return false
			}
		case "wildcard":
			for field, v := range args {
				pattern := v.(map[string]any)["value"].(string)
				return wildcardRegexp(pattern).MatchString(fmt.Sprint(doc[field]))
			}
		case "bool":
			for _, clause := range args["should"].([]any) {
				if matches(clause.(map[string]any), doc) {
					return true
				}
			}
			return false
		}
	}
	return false
}

func wildcardRegexp(pattern string) *regexp.Regexp {
	quoted := regexp.QuoteMeta(pattern)
	quoted = strings.ReplaceAll(quoted, `\*`, ".*")
	quoted = strings.ReplaceAll(quoted, `\?`, ".")
	return regexp.MustCompile("(?is)^" + quoted + "$")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
