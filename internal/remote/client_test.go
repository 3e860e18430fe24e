package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/versekeep/versekeep/internal/domain"
)

func TestClientSaveItem(t *testing.T) {
	var gotMethod, gotPath, gotAuth string
	var gotItem domain.LibraryItem
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotItem))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", nil)
	item := domain.LibraryItem{ID: "item-1", Title: "Psalm 23"}
	require.NoError(t, c.SaveItem(context.Background(), item))

	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/library/items/item-1", gotPath)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "Psalm 23", gotItem.Title)
}

func TestClientDeleteItem(t *testing.T) {
	var gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", nil)
	require.NoError(t, c.DeleteItem(context.Background(), "item-1"))
	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "/library/items/item-1", gotPath)
}

func TestClientCollectionRoutes(t *testing.T) {
	type call struct{ method, path string }
	var calls []call
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, call{r.Method, r.URL.Path})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", nil)
	ctx := context.Background()
	col := domain.LibraryCollection{ID: "c1", Name: "Favorites"}

	require.NoError(t, c.CreateCollection(ctx, col))
	require.NoError(t, c.UpdateCollection(ctx, col))
	require.NoError(t, c.DeleteCollection(ctx, "c1"))
	require.NoError(t, c.SyncItems(ctx, nil))
	require.NoError(t, c.SyncCollections(ctx, nil))

	assert.Equal(t, []call{
		{http.MethodPost, "/library/collections"},
		{http.MethodPut, "/library/collections/c1"},
		{http.MethodDelete, "/library/collections/c1"},
		{http.MethodPost, "/library/sync/items"},
		{http.MethodPost, "/library/sync/collections"},
	}, calls)
}

func TestClientAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "expired", nil)
	err := c.SaveItem(context.Background(), domain.LibraryItem{ID: "a"})
	assert.ErrorIs(t, err, domain.ErrAuthFailed)
}

func TestClientServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", nil)
	err := c.SaveItem(context.Background(), domain.LibraryItem{ID: "a"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrAuthFailed)
}

func TestClientUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // Nothing listening anymore

	c := NewClient(srv.URL, "", nil)
	err := c.SaveItem(context.Background(), domain.LibraryItem{ID: "a"})
	assert.ErrorIs(t, err, domain.ErrRemoteUnavailable)
}
