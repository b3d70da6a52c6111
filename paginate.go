package ghapp

import (
	"context"
	"encoding/json"
	"iter"
	"net/http"
	"net/url"
	"sync/atomic"

	"github.com/google/go-github/v80/github"
	"github.com/google/go-querystring/query"
)

// Requester is the capability the iterators need from an API client.
// *github.Client satisfies it, as does any client built by a ClientFactory.
type Requester interface {
	NewRequest(method, urlStr string, body any, opts ...github.RequestOption) (*http.Request, error)
	Do(ctx context.Context, req *http.Request, v any) (*github.Response, error)
}

// pageFetcher requests a single page of a list endpoint, returning the raw
// records of the page.
type pageFetcher func(ctx context.Context, opts github.ListOptions) ([]json.RawMessage, *github.Response, error)

// paginate yields the records of each page in turn. The next page is only
// requested once every record of the current page has been yielded.
// Iteration ends when a page has no next link, or when a page returns fewer
// records than requested.
func paginate(ctx context.Context, perPage int, fetch pageFetcher) iter.Seq2[json.RawMessage, error] {
	return func(yield func(json.RawMessage, error) bool) {
		opts := github.ListOptions{Page: 1, PerPage: perPage}

		for {
			records, res, err := fetch(ctx, opts)
			if err != nil {
				yield(nil, err)
				return
			}

			for _, r := range records {
				if !yield(r, nil) {
					return
				}
			}

			if res == nil || res.NextPage == 0 {
				return
			}
			if perPage > 0 && len(records) < perPage {
				return
			}

			opts.Page = res.NextPage
		}
	}
}

// listInstallations fetches a page of GET app/installations. The client must
// authenticate as the app.
func listInstallations(client Requester) pageFetcher {
	return func(ctx context.Context, opts github.ListOptions) ([]json.RawMessage, *github.Response, error) {
		var records []json.RawMessage
		res, err := get(ctx, client, "app/installations", opts, &records)
		if err != nil {
			return nil, res, err
		}
		return records, res, nil
	}
}

// listRepositories fetches a page of GET installation/repositories. The
// client must authenticate as the installation.
func listRepositories(client Requester) pageFetcher {
	return func(ctx context.Context, opts github.ListOptions) ([]json.RawMessage, *github.Response, error) {
		var body struct {
			TotalCount   int               `json:"total_count"`
			Repositories []json.RawMessage `json:"repositories"`
		}
		res, err := get(ctx, client, "installation/repositories", opts, &body)
		if err != nil {
			return nil, res, err
		}
		return body.Repositories, res, nil
	}
}

// get issues a GET to the path relative to the client's base URL. Errors from
// the client are returned as is, so callers can inspect
// *github.ErrorResponse values.
func get(ctx context.Context, client Requester, path string, opts github.ListOptions, v any) (*github.Response, error) {
	u, err := withListOptions(path, opts)
	if err != nil {
		return nil, err
	}

	req, err := client.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	return client.Do(ctx, req, v)
}

func withListOptions(path string, opts github.ListOptions) (string, error) {
	u, err := url.Parse(path)
	if err != nil {
		return path, err
	}

	qs, err := query.Values(opts)
	if err != nil {
		return path, err
	}

	u.RawQuery = qs.Encode()
	return u.String(), nil
}

// singleUse allows seq to be ranged over once. Later attempts yield
// ErrIteratorConsumed instead of silently producing nothing.
func singleUse[T any](seq iter.Seq2[T, error]) iter.Seq2[T, error] {
	var used atomic.Bool

	return func(yield func(T, error) bool) {
		if used.Swap(true) {
			var zero T
			yield(zero, ErrIteratorConsumed)
			return
		}
		seq(yield)
	}
}
