package client

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/knowd/internal/config"
	"github.com/fyrsmithlabs/knowd/internal/embeddings"
	"github.com/fyrsmithlabs/knowd/internal/entry"
	"github.com/fyrsmithlabs/knowd/internal/journal"
	"github.com/fyrsmithlabs/knowd/internal/project"
	"github.com/fyrsmithlabs/knowd/internal/protocol"
	"github.com/fyrsmithlabs/knowd/internal/server"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.ApplyDefaults()
	return cfg
}

func startServer(t *testing.T) (*project.Project, *embeddings.Fake) {
	t.Helper()

	proj, err := project.At(t.TempDir())
	require.NoError(t, err)
	fake := embeddings.NewFake()

	srv, err := server.New(proj, testConfig(), fake, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, srv.Start())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("server did not stop")
		}
	})

	require.Eventually(t, func() bool {
		return srv.State() == server.StateReady
	}, 5*time.Second, 10*time.Millisecond)

	return proj, fake
}

func TestAddSearchTombstoneRoundTrip(t *testing.T) {
	proj, _ := startServer(t)
	c := New(proj, Options{})

	ctx := context.Background()
	require.NoError(t, c.Ping(ctx))

	add, err := c.Add(ctx, &entry.Entry{Text: "feature flags decouple deploy from release"})
	require.NoError(t, err)
	require.NotEmpty(t, add.ID)

	got, err := c.Search(ctx, "decoupling deploys with flags", 5)
	require.NoError(t, err)
	require.NotEmpty(t, got.Results)
	assert.Equal(t, add.ID, got.Results[0].ID)

	_, err = c.Tombstone(ctx, add.ID)
	require.NoError(t, err)

	got, err = c.Search(ctx, "feature flags", 5)
	require.NoError(t, err)
	assert.Empty(t, got.Results)

	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ready", st.Status)
}

func TestRemoteErrorsAreTyped(t *testing.T) {
	proj, _ := startServer(t)
	c := New(proj, Options{})

	_, err := c.Tombstone(context.Background(), "no-such-id")
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, protocol.CodeBadRequest, remote.Code)
}

func TestServerUnavailableWithoutAutoStart(t *testing.T) {
	proj, err := project.At(t.TempDir())
	require.NoError(t, err)

	c := New(proj, Options{DialTimeout: 200 * time.Millisecond})
	_, err = c.Search(context.Background(), "anything", 5)
	assert.ErrorIs(t, err, ErrServerUnavailable)
}

func TestAddressCollisionDetected(t *testing.T) {
	proj, _ := startServer(t)

	// A different root whose derived port happens to match: same address,
	// different identity.
	imposter := &project.Project{
		Root: "/somewhere/else",
		ID:   "ffffffffffffffff",
		Port: proj.Port,
	}
	c := New(imposter, Options{})

	_, err := c.Search(context.Background(), "anything", 5)
	assert.ErrorIs(t, err, ErrAddressCollision)
	assert.ErrorIs(t, c.Ping(context.Background()), ErrAddressCollision)
}

func TestColdSearchAnswersFromJournal(t *testing.T) {
	proj, err := project.At(t.TempDir())
	require.NoError(t, err)

	// Write the journal directly; no server ever runs.
	jnl, err := journal.Open(proj.StoreDir(), zap.NewNop())
	require.NoError(t, err)
	var kept string
	for i, text := range []string{
		"circuit breakers stop cascading failures",
		"dashboards without alerts are wallpaper",
	} {
		e := &entry.Entry{Text: text, CreatedAt: time.Now().UTC()}
		e.ID = "entry-" + string(rune('a'+i))
		e.Normalize()
		require.NoError(t, jnl.Append(journal.Record{Op: journal.OpAdd, Entry: e}))
		if i == 0 {
			kept = e.ID
		}
	}
	require.NoError(t, jnl.Close())

	fake := embeddings.NewFake()
	results, err := ColdSearch(context.Background(), proj, testConfig(), fake, "cascading failure circuit breaker", 5, zap.NewNop())
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, kept, results[0].Entry.ID)
}

func TestSearchCarriesSeveralLargeTexts(t *testing.T) {
	proj, _ := startServer(t)
	c := New(proj, Options{})
	ctx := context.Background()

	// Three near-maximum texts of heavily escaping characters put the
	// single response line well past any fixed per-line buffer.
	for i := 0; i < 3; i++ {
		text := strings.Repeat(`"`, entry.MaxTextLen-6) + " gamma"
		_, err := c.Add(ctx, &entry.Entry{Text: text})
		require.NoError(t, err)
	}

	got, err := c.Search(ctx, "gamma", 5)
	require.NoError(t, err)
	require.Len(t, got.Results, 3)
	for _, r := range got.Results {
		assert.Len(t, r.Text, entry.MaxTextLen)
	}
}

func TestColdSearchEmptyStore(t *testing.T) {
	proj, err := project.At(t.TempDir())
	require.NoError(t, err)

	results, err := ColdSearch(context.Background(), proj, testConfig(), embeddings.NewFake(), "anything at all", 5, zap.NewNop())
	require.NoError(t, err)
	assert.Empty(t, results)
}
