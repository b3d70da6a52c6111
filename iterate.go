package ghapp

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"

	"github.com/google/go-github/v80/github"
)

// Installation is an installation of the app as returned by the API. Raw
// holds the record exactly as received.
type Installation struct {
	ID  int64
	Raw json.RawMessage
}

// Decode parses the record into the go-github type.
func (i Installation) Decode() (*github.Installation, error) {
	var v github.Installation
	if err := json.Unmarshal(i.Raw, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// Repository is a repository accessible to an installation. Raw holds the
// record exactly as received.
type Repository struct {
	ID       int64
	FullName string
	Raw      json.RawMessage
}

// Decode parses the record into the go-github type.
func (r Repository) Decode() (*github.Repository, error) {
	var v github.Repository
	if err := json.Unmarshal(r.Raw, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// InstallationItem pairs an installation with a client authenticated as it.
type InstallationItem struct {
	Client       *github.Client
	Installation Installation
}

// RepositoryItem pairs a repository with a client authenticated as the
// installation the repository was listed for.
type RepositoryItem struct {
	Client     *github.Client
	Repository Repository
}

// RepositoryQuery narrows repository iteration. The zero value visits every
// installation of the app.
type RepositoryQuery struct {
	// InstallationID restricts iteration to the repositories of a single
	// installation. The installation list is not requested.
	InstallationID int64
}

// Installations returns a sequence of every installation of the app, each
// with a new installation client. Pages are requested as the sequence is
// consumed; breaking out of the range loop stops further requests. An error
// is yielded at most once and ends the sequence.
//
// The sequence can be ranged over once.
func (a *App) Installations(ctx context.Context) iter.Seq2[InstallationItem, error] {
	return singleUse(a.installations(ctx))
}

func (a *App) installations(ctx context.Context) iter.Seq2[InstallationItem, error] {
	return func(yield func(InstallationItem, error) bool) {
		for raw, err := range paginate(ctx, a.perPage, listInstallations(a.Octokit)) {
			if err != nil {
				yield(InstallationItem{}, err)
				return
			}

			installation, err := parseInstallation(raw)
			if err != nil {
				yield(InstallationItem{}, err)
				return
			}

			client, err := a.InstallationClient(ctx, installation.ID)
			if err != nil {
				yield(InstallationItem{}, err)
				return
			}

			if !yield(InstallationItem{Client: client, Installation: installation}, nil) {
				return
			}
		}
	}
}

// EachInstallation calls fn for every installation of the app, in listing
// order. The next installation is not fetched until fn returns. The first
// error, from fn or the API, stops iteration and is returned unchanged.
func (a *App) EachInstallation(ctx context.Context, fn func(context.Context, InstallationItem) error) error {
	for item, err := range a.Installations(ctx) {
		if err != nil {
			return err
		}
		if err := fn(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

// Repositories returns a sequence of the repositories accessible to the
// app. Without an installation in the query, installations are visited in
// listing order and the repositories of each in their listing order.
//
// The sequence has the same paging and single use behaviour as
// Installations.
func (a *App) Repositories(ctx context.Context, q RepositoryQuery) iter.Seq2[RepositoryItem, error] {
	if q.InstallationID != 0 {
		return singleUse(a.installationRepositories(ctx, q.InstallationID))
	}

	return singleUse(func(yield func(RepositoryItem, error) bool) {
		for inst, err := range a.installations(ctx) {
			if err != nil {
				yield(RepositoryItem{}, err)
				return
			}

			for item, err := range a.repositories(ctx, inst.Client) {
				if !yield(item, err) || err != nil {
					return
				}
			}
		}
	})
}

// RepositoriesFor returns a sequence of the repositories accessible to an
// installation client, such as the Client of an InstallationItem. No new
// installation token is requested.
func (a *App) RepositoriesFor(ctx context.Context, client *github.Client) iter.Seq2[RepositoryItem, error] {
	return singleUse(a.repositories(ctx, client))
}

func (a *App) installationRepositories(ctx context.Context, installationID int64) iter.Seq2[RepositoryItem, error] {
	return func(yield func(RepositoryItem, error) bool) {
		client, err := a.InstallationClient(ctx, installationID)
		if err != nil {
			yield(RepositoryItem{}, err)
			return
		}

		for item, err := range a.repositories(ctx, client) {
			if !yield(item, err) || err != nil {
				return
			}
		}
	}
}

func (a *App) repositories(ctx context.Context, client *github.Client) iter.Seq2[RepositoryItem, error] {
	return func(yield func(RepositoryItem, error) bool) {
		for raw, err := range paginate(ctx, a.perPage, listRepositories(client)) {
			if err != nil {
				yield(RepositoryItem{}, err)
				return
			}

			repo, err := parseRepository(raw)
			if err != nil {
				yield(RepositoryItem{}, err)
				return
			}

			if !yield(RepositoryItem{Client: client, Repository: repo}, nil) {
				return
			}
		}
	}
}

// EachRepository calls fn for every repository matched by q. It follows the
// ordering and error rules of EachInstallation.
func (a *App) EachRepository(ctx context.Context, q RepositoryQuery, fn func(context.Context, RepositoryItem) error) error {
	for item, err := range a.Repositories(ctx, q) {
		if err != nil {
			return err
		}
		if err := fn(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

func parseInstallation(raw json.RawMessage) (Installation, error) {
	var head struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return Installation{}, fmt.Errorf("unreadable installation record: %w", err)
	}
	return Installation{ID: head.ID, Raw: raw}, nil
}

func parseRepository(raw json.RawMessage) (Repository, error) {
	var head struct {
		ID       int64  `json:"id"`
		FullName string `json:"full_name"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return Repository{}, fmt.Errorf("unreadable repository record: %w", err)
	}
	return Repository{ID: head.ID, FullName: head.FullName, Raw: raw}, nil
}
