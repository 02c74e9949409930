package source

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFakeEutils(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/esearch.fcgi", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"esearchresult": map[string]any{"idlist": []string{"111"}},
		})
	})
	mux.HandleFunc("/esummary.fcgi", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{
				"111": map[string]any{
					"title":           "A Trial of Something",
					"fulljournalname": "Journal of Tests",
					"pubdate":         "2025 Jun",
					"authors":         []map[string]any{{"name": "Doe J"}},
					"pubtype":         []string{"Randomized Controlled Trial"},
					"articleids":      []map[string]any{{"idtype": "doi", "value": "10.1/xyz"}},
				},
			},
		})
	})
	mux.HandleFunc("/efetch.fcgi", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("Background: this is the abstract."))
	})
	return httptest.NewServer(mux)
}

func TestPubmedFetcher_Fetch_BuildsRawRecords(t *testing.T) {
	srv := newFakeEutils(t)
	defer srv.Close()

	f := NewPubmedFetcher("diabetes[mesh]")
	f.HTTPClient = srv.Client()
	f.BaseURL = srv.URL

	records, err := f.Fetch(context.Background(), time.Now().AddDate(0, 0, -7), time.Now())
	require.NoError(t, err)
	require.Len(t, records, 1)

	assert.Equal(t, "pubmed", records[0].Source)
	assert.Equal(t, "111", records[0].SourceID)
	assert.True(t, strings.Contains(string(records[0].Blob), "A Trial of Something"))
}

func TestPubmedFetcher_Fetch_NoResultsReturnsEmpty(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/esearch.fcgi", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"esearchresult": map[string]any{"idlist": []string{}},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := NewPubmedFetcher("nothing[mesh]")
	f.HTTPClient = srv.Client()
	f.BaseURL = srv.URL

	records, err := f.Fetch(context.Background(), time.Now().AddDate(0, 0, -7), time.Now())
	require.NoError(t, err)
	assert.Empty(t, records)
}
