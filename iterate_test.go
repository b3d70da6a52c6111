package ghapp_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/chinmina/ghapp"
	"github.com/chinmina/ghapp/internal/testhelpers"
	"github.com/google/go-github/v80/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func threeInstallations(mock *testhelpers.MockGitHubServer) {
	mock.InstallationPages = [][]string{
		{testhelpers.Installation(1, "a"), testhelpers.Installation(2, "b")},
		{testhelpers.Installation(3, "c")},
		{},
	}
}

func TestInstallations_FollowsPages(t *testing.T) {
	mock := testhelpers.SetupMockGitHubServer(t)
	threeInstallations(mock)
	app := newTestApp(t, mock)

	var ids []int64
	var accounts []string
	clients := map[*github.Client]bool{}

	for item, err := range app.Installations(context.Background()) {
		require.NoError(t, err)

		ids = append(ids, item.Installation.ID)
		inst, err := item.Installation.Decode()
		require.NoError(t, err)
		accounts = append(accounts, inst.GetAccount().GetLogin())

		require.NotNil(t, item.Client)
		clients[item.Client] = true
	}

	assert.Equal(t, []int64{1, 2, 3}, ids)
	assert.Equal(t, []string{"a", "b", "c"}, accounts)
	assert.Len(t, clients, 3, "every installation has its own client")

	assert.Equal(t, 3, mock.RequestCount(http.MethodGet, "/app/installations"))
	assert.Equal(t, 0, mock.RequestCount(http.MethodPost, "/app/installations/"), "installation tokens are not requested")
}

func TestInstallations_RawRecordUnchanged(t *testing.T) {
	mock := testhelpers.SetupMockGitHubServer(t)
	raw := `{"id":9,"account":{"login":"z"},"x_future":[1,2,{"a":null}]}`
	mock.InstallationPages = [][]string{{raw}}
	app := newTestApp(t, mock)

	var got []string
	for item, err := range app.Installations(context.Background()) {
		require.NoError(t, err)
		got = append(got, string(item.Installation.Raw))
	}

	assert.Equal(t, []string{raw}, got)
}

func TestInstallations_BreakStopsPaging(t *testing.T) {
	mock := testhelpers.SetupMockGitHubServer(t)
	threeInstallations(mock)
	app := newTestApp(t, mock)

	for item, err := range app.Installations(context.Background()) {
		require.NoError(t, err)
		if item.Installation.ID == 2 {
			break
		}
	}

	assert.Equal(t, 1, mock.RequestCount(http.MethodGet, "/app/installations"))
}

func TestInstallations_SingleUse(t *testing.T) {
	mock := testhelpers.SetupMockGitHubServer(t)
	threeInstallations(mock)
	app := newTestApp(t, mock)

	seq := app.Installations(context.Background())

	n := 0
	for _, err := range seq {
		require.NoError(t, err)
		n++
	}
	assert.Equal(t, 3, n)

	var errs []error
	for _, err := range seq {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ghapp.ErrIteratorConsumed)
}

func TestInstallations_ShortPageEndsIteration(t *testing.T) {
	mock := testhelpers.SetupMockGitHubServer(t)
	mock.InstallationPages = [][]string{
		{testhelpers.Installation(1, "a"), testhelpers.Installation(2, "b")},
		{testhelpers.Installation(3, "c")},
		{testhelpers.Installation(4, "d")},
	}
	app := newTestApp(t, mock, func(o *ghapp.Options) { o.PerPage = 2 })

	var ids []int64
	for item, err := range app.Installations(context.Background()) {
		require.NoError(t, err)
		ids = append(ids, item.Installation.ID)
	}

	assert.Equal(t, []int64{1, 2, 3}, ids)
	assert.Equal(t, []string{
		"GET /app/installations?page=1&per_page=2",
		"GET /app/installations?page=2&per_page=2",
	}, mock.Requests())
}

func TestInstallations_APIError(t *testing.T) {
	mock := testhelpers.SetupMockGitHubServer(t)
	app := newTestApp(t, mock, func(o *ghapp.Options) {
		o.NewClient = func(httpClient *http.Client) (*github.Client, error) {
			// without the app transport the listing is rejected
			return github.NewClient(nil), nil
		}
	})

	var errs []error
	for _, err := range app.Installations(context.Background()) {
		errs = append(errs, err)
	}

	require.Len(t, errs, 1)
	var ghErr *github.ErrorResponse
	require.ErrorAs(t, errs[0], &ghErr)
	assert.Equal(t, http.StatusUnauthorized, ghErr.Response.StatusCode)
}

func TestEachInstallation_StopsOnError(t *testing.T) {
	mock := testhelpers.SetupMockGitHubServer(t)
	threeInstallations(mock)
	app := newTestApp(t, mock)

	stop := errors.New("stop")
	var visited []int64

	err := app.EachInstallation(context.Background(), func(ctx context.Context, item ghapp.InstallationItem) error {
		visited = append(visited, item.Installation.ID)
		if item.Installation.ID == 2 {
			return stop
		}
		return nil
	})

	assert.Same(t, stop, err)
	assert.Equal(t, []int64{1, 2}, visited)
	assert.Equal(t, 1, mock.RequestCount(http.MethodGet, "/app/installations"), "the second page is never requested")
}

func TestEachInstallation_Empty(t *testing.T) {
	mock := testhelpers.SetupMockGitHubServer(t)
	app := newTestApp(t, mock)

	calls := 0
	err := app.EachInstallation(context.Background(), func(context.Context, ghapp.InstallationItem) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Zero(t, calls)
}

func TestRepositories_AllInstallations(t *testing.T) {
	mock := testhelpers.SetupMockGitHubServer(t)
	mock.InstallationPages = [][]string{
		{testhelpers.Installation(1, "a"), testhelpers.Installation(2, "b")},
	}
	mock.RepositoryPages[1] = [][]string{
		{testhelpers.Repository(11, "a/one"), testhelpers.Repository(12, "a/two")},
		{testhelpers.Repository(13, "a/three")},
	}
	mock.RepositoryPages[2] = [][]string{
		{testhelpers.Repository(21, "b/one")},
	}
	app := newTestApp(t, mock)

	var names []string
	clients := map[string]*github.Client{}
	for item, err := range app.Repositories(context.Background(), ghapp.RepositoryQuery{}) {
		require.NoError(t, err)
		names = append(names, item.Repository.FullName)
		clients[item.Repository.FullName] = item.Client
	}

	assert.Equal(t, []string{"a/one", "a/two", "a/three", "b/one"}, names)
	assert.Same(t, clients["a/one"], clients["a/three"], "repositories of an installation share its client")
	assert.NotSame(t, clients["a/one"], clients["b/one"])
}

func TestRepositories_SingleInstallation(t *testing.T) {
	mock := testhelpers.SetupMockGitHubServer(t)
	threeInstallations(mock)
	mock.RepositoryPages[2] = [][]string{{testhelpers.Repository(21, "b/one")}}
	app := newTestApp(t, mock)

	var ids []int64
	err := app.EachRepository(context.Background(), ghapp.RepositoryQuery{InstallationID: 2}, func(ctx context.Context, item ghapp.RepositoryItem) error {
		ids = append(ids, item.Repository.ID)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []int64{21}, ids)
	assert.Equal(t, 0, mock.RequestCount(http.MethodGet, "/app/installations"), "installations are not listed")
	assert.Equal(t, []string{
		"POST /app/installations/2/access_tokens",
		"GET /installation/repositories?page=1",
	}, mock.Requests())
}

func TestRepositoriesFor_ReusesInstallationClient(t *testing.T) {
	mock := testhelpers.SetupMockGitHubServer(t)
	threeInstallations(mock)
	mock.RepositoryPages[1] = [][]string{{testhelpers.Repository(11, "a/one"), testhelpers.Repository(12, "a/two")}}
	app := newTestApp(t, mock)

	var names []string
	for inst, err := range app.Installations(context.Background()) {
		require.NoError(t, err)
		if inst.Installation.ID != 1 {
			continue
		}

		for repo, err := range app.RepositoriesFor(context.Background(), inst.Client) {
			require.NoError(t, err)
			assert.Same(t, inst.Client, repo.Client)
			names = append(names, repo.Repository.FullName)
		}
	}

	assert.Equal(t, []string{"a/one", "a/two"}, names)
	assert.Equal(t, 1, mock.RequestCount(http.MethodPost, "/app/installations/1/access_tokens"))
}

func TestRepositories_RawRecordUnchanged(t *testing.T) {
	mock := testhelpers.SetupMockGitHubServer(t)
	raw := testhelpers.Repository(5, "acme/widgets")
	mock.RepositoryPages[3] = [][]string{{raw}}
	app := newTestApp(t, mock)

	for item, err := range app.Repositories(context.Background(), ghapp.RepositoryQuery{InstallationID: 3}) {
		require.NoError(t, err)

		assert.Equal(t, raw, string(item.Repository.Raw))
		assert.Contains(t, string(item.Repository.Raw), "x_unknown_field")

		repo, err := item.Repository.Decode()
		require.NoError(t, err)
		assert.Equal(t, "widgets", repo.GetName())
		assert.True(t, repo.GetPrivate())
	}
}

func TestRepositories_TokenFailure(t *testing.T) {
	mock := testhelpers.SetupMockGitHubServer(t)
	mock.TokenStatusCode = http.StatusForbidden
	app := newTestApp(t, mock)

	err := app.EachRepository(context.Background(), ghapp.RepositoryQuery{InstallationID: 3}, func(context.Context, ghapp.RepositoryItem) error {
		t.Fatal("no repositories expected")
		return nil
	})

	require.Error(t, err)
	assert.Equal(t, 0, mock.RequestCount(http.MethodGet, "/installation/repositories"))
}

func TestEachRepository_StopsOnError(t *testing.T) {
	mock := testhelpers.SetupMockGitHubServer(t)
	mock.InstallationPages = [][]string{
		{testhelpers.Installation(1, "a"), testhelpers.Installation(2, "b")},
	}
	mock.RepositoryPages[1] = [][]string{{testhelpers.Repository(11, "a/one")}}
	mock.RepositoryPages[2] = [][]string{{testhelpers.Repository(21, "b/one")}}
	app := newTestApp(t, mock)

	err := app.EachRepository(context.Background(), ghapp.RepositoryQuery{}, func(context.Context, ghapp.RepositoryItem) error {
		return assert.AnError
	})

	assert.Same(t, assert.AnError, err)
	assert.Equal(t, 1, mock.RequestCount(http.MethodGet, "/installation/repositories"))
	assert.Equal(t, 0, mock.RequestCount(http.MethodPost, "/app/installations/2/"))
}

func TestRepositories_SingleUse(t *testing.T) {
	mock := testhelpers.SetupMockGitHubServer(t)
	app := newTestApp(t, mock)

	seq := app.Repositories(context.Background(), ghapp.RepositoryQuery{})
	for _, err := range seq {
		require.NoError(t, err)
	}

	for _, err := range seq {
		assert.ErrorIs(t, err, ghapp.ErrIteratorConsumed)
	}
}
