package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wadjakorntonsri/linktally/pkg/adapters/repository/sqlite"
	"github.com/wadjakorntonsri/linktally/pkg/config"
)

func TestIntegration(t *testing.T) {
	repo, err := sqlite.NewSQLiteRepository("file:" + filepath.Join(t.TempDir(), "e2e.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	cfg := &config.Config{
		BaseURL:        "http://sho.rt",
		CodeLength:     6,
		CodeMaxLength:  12,
		CodeAttempts:   8,
		RequestTimeout: 5 * time.Second,
	}
	server := httptest.NewServer(newServer(cfg, repo, zerolog.Nop()).Handler)
	defer server.Close()

	client := server.Client()
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	// Create Link
	body, _ := json.Marshal(map[string]any{
		"longUrl":      "https://example.com/landing",
		"requestLimit": 5,
	})
	resp, err := client.Post(server.URL+"/urls", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created struct {
		Code     string `json:"code"`
		Alias    string `json:"alias"`
		ShortURL string `json:"short_url"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()
	require.Len(t, created.Code, 6)
	assert.Equal(t, created.Code, created.Alias)
	assert.Equal(t, "http://sho.rt/"+created.Code, created.ShortURL)

	// Rename
	req, _ := http.NewRequest(http.MethodPatch, server.URL+"/urls/"+created.Code+"/alias",
		bytes.NewReader([]byte(`{"alias":"landing"}`)))
	resp, err = client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Concurrent redirects through both identifiers
	var wg sync.WaitGroup
	codes := make(chan int, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			target := "/landing"
			if i%2 == 0 {
				target = "/" + created.Code
			}
			r, err := client.Get(server.URL + target)
			if err != nil {
				codes <- 0
				return
			}
			r.Body.Close()
			codes <- r.StatusCode
		}(i)
	}
	wg.Wait()
	close(codes)

	counts := map[int]int{}
	for c := range codes {
		counts[c]++
	}
	assert.Equal(t, 5, counts[http.StatusMovedPermanently])
	assert.Equal(t, 3, counts[http.StatusTooManyRequests])

	// Stats
	resp, err = client.Get(server.URL + "/urls/stats")
	require.NoError(t, err)
	var stats []struct {
		Code         string   `json:"code"`
		Alias        string   `json:"alias"`
		AccessCount  int64    `json:"access_count"`
		UniqueUsers  int64    `json:"unique_users"`
		AccessedFrom []string `json:"accessed_from"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	resp.Body.Close()
	require.Len(t, stats, 1)
	assert.Equal(t, "landing", stats[0].Alias)
	assert.Equal(t, int64(5), stats[0].AccessCount)
	assert.Equal(t, int64(1), stats[0].UniqueUsers)
	assert.Equal(t, []string{"127.0.0.1"}, stats[0].AccessedFrom)

	// Delete
	req, _ = http.NewRequest(http.MethodDelete, server.URL+"/urls/landing", nil)
	resp, err = client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = client.Get(server.URL + "/landing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = client.Get(server.URL + "/urls/stats")
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	resp.Body.Close()
	assert.Empty(t, stats)
}
