package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// DefaultSolrSort keeps pagination stable across pages.
const DefaultSolrSort = "id asc"

// Solr reads documents through Solr's JSON select API.
type Solr struct {
	baseURL string
	client  *http.Client
	sort    string
	logger  *slog.Logger
}

// Compile-time check that Solr implements Store.
var _ Store = (*Solr)(nil)

// NewSolr creates a Solr store rooted at baseURL (e.g. http://host:8983/solr).
// A nil client uses a fresh http.Client; per-request deadlines come from ctx.
func NewSolr(baseURL string, client *http.Client, logger *slog.Logger) *Solr {
	if client == nil {
		client = &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Solr{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  client,
		sort:    DefaultSolrSort,
		logger:  logger,
	}
}

type solrCollectionsResponse struct {
	Collections []string `json:"collections"`
}

type solrSelectResponse struct {
	Response struct {
		NumFound int        `json:"numFound"`
		Docs     []Document `json:"docs"`
	} `json:"response"`
}

type solrField struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	MultiValued bool   `json:"multiValued"`
}

type solrFieldsResponse struct {
	Fields []solrField `json:"fields"`
}

type solrDynamicFieldsResponse struct {
	DynamicFields []solrField `json:"dynamicFields"`
}

// CollectionNames lists collections via the Collections API.
func (s *Solr) CollectionNames(ctx context.Context) ([]string, error) {
	var resp solrCollectionsResponse
	if err := s.get(ctx, "/admin/collections", url.Values{"action": {"LIST"}}, &resp); err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	return resp.Collections, nil
}

// Query runs a select with start/rows paging.
func (s *Solr) Query(ctx context.Context, q Query) (Result, error) {
	if q.Collection == "" || q.Limit <= 0 || q.Offset < 0 {
		return Result{}, fmt.Errorf("%w: collection=%q offset=%d limit=%d", ErrInvalidQuery, q.Collection, q.Offset, q.Limit)
	}

	params := url.Values{
		"q":     {"*:*"},
		"start": {strconv.Itoa(q.Offset)},
		"rows":  {strconv.Itoa(q.Limit)},
		"sort":  {s.sort},
	}
	if q.Filter != "" {
		params.Set("fq", q.Filter)
	}

	var resp solrSelectResponse
	if err := s.get(ctx, "/"+url.PathEscape(q.Collection)+"/select", params, &resp); err != nil {
		return Result{}, fmt.Errorf("query %s at offset %d: %w", q.Collection, q.Offset, err)
	}

	s.logger.Debug("solr page fetched", "collection", q.Collection, "offset", q.Offset, "docs", len(resp.Response.Docs))
	return Result{Documents: resp.Response.Docs, Total: resp.Response.NumFound}, nil
}

// TextFields returns schema fields whose type is textual, followed by the
// dynamic field patterns (e.g. "*_txt") with a textual type. Callers match
// names against the patterns with MatchField.
func (s *Solr) TextFields(ctx context.Context, collection string) ([]string, error) {
	base := "/" + url.PathEscape(collection) + "/schema"

	var resp solrFieldsResponse
	if err := s.get(ctx, base+"/fields", nil, &resp); err != nil {
		return nil, fmt.Errorf("schema fields for %s: %w", collection, err)
	}
	var dyn solrDynamicFieldsResponse
	if err := s.get(ctx, base+"/dynamicfields", nil, &dyn); err != nil {
		return nil, fmt.Errorf("dynamic fields for %s: %w", collection, err)
	}

	var fields []string
	for _, f := range append(resp.Fields, dyn.DynamicFields...) {
		if isSolrTextType(f) {
			fields = append(fields, f.Name)
		}
	}
	return fields, nil
}

// isSolrTextType accepts analyzed text types (text_general, text_en, ...) and
// single-valued string fields. Multi-valued string fields hold keywords.
func isSolrTextType(f solrField) bool {
	if strings.HasPrefix(f.Type, "text") {
		return true
	}
	return f.Type == "string" && !f.MultiValued
}

// Reconnect drops pooled connections so the next request dials afresh.
func (s *Solr) Reconnect(_ context.Context) error {
	s.client.CloseIdleConnections()
	s.logger.Info("solr connections reset", "url", s.baseURL)
	return nil
}

// Close releases pooled connections.
func (s *Solr) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *Solr) get(ctx context.Context, path string, params url.Values, out any) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("wt", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrCollectionNotFound
	case resp.StatusCode >= http.StatusInternalServerError:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, string(body))
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("solr error (status %d): %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
