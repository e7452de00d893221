package docstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/opensearch-project/opensearch-go/v4/opensearchapi"

	"askthemall/internal/persistence"
)

// findAllSize bounds match_all reads. Only the chat bot catalog uses FindAll.
const findAllSize = 1000

const refreshTrue = "true"

// searchResult is a decoded search: the page of sources, the total hit count
// and the keys of the distinct_values terms aggregation when one was asked for.
type searchResult[T any] struct {
	Sources []T
	Total   int
	Keys    []string
}

// repository implements the by-id operations shared by every record kind.
type repository[T any] struct {
	client *Client
	alias  string
	kind   string
	idOf   func(T) string
}

func (r *repository[T]) Save(ctx context.Context, data T) error {
	id := r.idOf(data)
	if id == "" {
		return fmt.Errorf("save %s: empty id", r.kind)
	}
	body, err := jsonBody(data)
	if err != nil {
		return fmt.Errorf("save %s %s: %w", r.kind, id, err)
	}
	resp, err := r.client.api.Index(ctx, opensearchapi.IndexReq{
		Index:      r.alias,
		DocumentID: id,
		Body:       body,
		Params:     opensearchapi.IndexParams{Refresh: refreshTrue},
	})
	if err != nil {
		return fmt.Errorf("save %s %s: %w", r.kind, id, classify("index", rawResponse(resp), err))
	}
	return nil
}

func (r *repository[T]) GetByID(ctx context.Context, id string) (T, error) {
	var zero T
	resp, err := r.client.api.Document.Get(ctx, opensearchapi.DocumentGetReq{Index: r.alias, DocumentID: id})
	if err = classify("get", rawResponse(resp), err); err != nil {
		if isNotFound(err) {
			return zero, &persistence.NotFoundError{Kind: r.kind, ID: id}
		}
		return zero, fmt.Errorf("get %s %s: %w", r.kind, id, err)
	}
	if !resp.Found {
		return zero, &persistence.NotFoundError{Kind: r.kind, ID: id}
	}
	var out T
	if err := json.Unmarshal(resp.Source, &out); err != nil {
		return zero, fmt.Errorf("decode %s %s: %w", r.kind, id, err)
	}
	return out, nil
}

func (r *repository[T]) FindAll(ctx context.Context) ([]T, error) {
	res, err := r.search(ctx, map[string]any{
		"query": map[string]any{"match_all": map[string]any{}},
		"size":  findAllSize,
	})
	if err != nil {
		return nil, err
	}
	return res.Sources, nil
}

func (r *repository[T]) DeleteByID(ctx context.Context, id string) error {
	resp, err := r.client.api.Document.Delete(ctx, opensearchapi.DocumentDeleteReq{
		Index:      r.alias,
		DocumentID: id,
		Params:     opensearchapi.DocumentDeleteParams{Refresh: refreshTrue},
	})
	if err = classify("delete", rawResponse(resp), err); err != nil {
		if isNotFound(err) {
			return &persistence.NotFoundError{Kind: r.kind, ID: id}
		}
		return fmt.Errorf("delete %s %s: %w", r.kind, id, err)
	}
	return nil
}

func (r *repository[T]) search(ctx context.Context, body map[string]any) (searchResult[T], error) {
	return searchIndex[T](ctx, r.client, r.alias, r.kind, body)
}

func searchIndex[T any](ctx context.Context, c *Client, alias, kind string, body map[string]any) (searchResult[T], error) {
	var res searchResult[T]
	reader, err := jsonBody(body)
	if err != nil {
		return res, fmt.Errorf("search %s: %w", kind, err)
	}
	resp, err := c.api.Search(ctx, &opensearchapi.SearchReq{Indices: []string{alias}, Body: reader})
	if err != nil {
		return res, fmt.Errorf("search %s: %w", kind, classify("search", rawResponse(resp), err))
	}

	res.Total = int(resp.Hits.Total.Value)
	res.Sources = make([]T, 0, len(resp.Hits.Hits))
	for _, h := range resp.Hits.Hits {
		var v T
		if err := json.Unmarshal(h.Source, &v); err != nil {
			return res, fmt.Errorf("decode %s hit: %w", kind, err)
		}
		res.Sources = append(res.Sources, v)
	}
	if len(resp.Aggregations) > 0 {
		var aggs struct {
			DistinctValues struct {
				Buckets []struct {
					Key string `json:"key"`
				} `json:"buckets"`
			} `json:"distinct_values"`
		}
		if err := json.Unmarshal(resp.Aggregations, &aggs); err != nil {
			return res, fmt.Errorf("decode %s aggregations: %w", kind, err)
		}
		for _, b := range aggs.DistinctValues.Buckets {
			res.Keys = append(res.Keys, b.Key)
		}
	}
	return res, nil
}

func sortBy(field, order string) []map[string]any {
	return []map[string]any{{field: map[string]any{"order": order}}}
}
