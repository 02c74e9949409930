package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/vallancelee/biomcp/internal/errors"
)

// defaultEutilsBaseURL is NCBI's E-utilities endpoint. The Fetcher is
// plain net/http; E-utilities needs nothing a REST client library
// would add.
const defaultEutilsBaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

// PubmedFetcher implements Fetcher over PubMed's esearch+esummary+efetch
// E-utilities: esearch resolves a term query to a window of PMIDs,
// esummary supplies structured metadata, and efetch (rettype=abstract)
// supplies the abstract text PubmedNormalizer expects in Blob.
type PubmedFetcher struct {
	Term       string
	HTTPClient *http.Client
	APIKey     string

	// BaseURL overrides defaultEutilsBaseURL; tests point it at an
	// httptest.Server.
	BaseURL string
}

// NewPubmedFetcher builds a Fetcher for the given E-utilities term
// query. The term is opaque here and passed through untouched.
func NewPubmedFetcher(term string) *PubmedFetcher {
	return &PubmedFetcher{
		Term:       term,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		BaseURL:    defaultEutilsBaseURL,
	}
}

func (f *PubmedFetcher) baseURL() string {
	if f.BaseURL != "" {
		return f.BaseURL
	}
	return defaultEutilsBaseURL
}

// Fetch lists PubMed records whose date falls in [since, until].
func (f *PubmedFetcher) Fetch(ctx context.Context, since, until time.Time) ([]RawRecord, error) {
	pmids, err := f.esearch(ctx, since, until)
	if err != nil {
		return nil, err
	}
	if len(pmids) == 0 {
		return nil, nil
	}

	summaries, err := f.esummary(ctx, pmids)
	if err != nil {
		return nil, err
	}

	records := make([]RawRecord, 0, len(pmids))
	for _, pmid := range pmids {
		summary, ok := summaries[pmid]
		if !ok {
			continue
		}
		abstract, err := f.efetchAbstract(ctx, pmid)
		if err != nil {
			return nil, err
		}

		edat := summary.pubDate()
		blob, err := json.Marshal(pubmedRecord{
			Title:            summary.Title,
			Abstract:         abstract,
			Journal:          summary.FullJournalName,
			Authors:          summary.authorNames(),
			PublicationTypes: summary.PubType,
			Year:             edat.Year(),
			PMID:             pmid,
			DOI:              summary.doi(),
			PubDate:          edat.Format("2006-01-02"),
		})
		if err != nil {
			return nil, errors.Wrap(errors.Upstream, fmt.Errorf("marshal pubmed record %s: %w", pmid, err))
		}

		records = append(records, RawRecord{
			Source:      "pubmed",
			SourceID:    pmid,
			Blob:        blob,
			ContentHash: contentHash(blob),
			EDAT:        edat,
		})
	}
	return records, nil
}

func (f *PubmedFetcher) esearch(ctx context.Context, since, until time.Time) ([]string, error) {
	q := url.Values{}
	q.Set("db", "pubmed")
	q.Set("retmode", "json")
	q.Set("retmax", "200")
	q.Set("term", f.Term)
	q.Set("datetype", "edat")
	q.Set("mindate", since.Format("2006/01/02"))
	q.Set("maxdate", until.Format("2006/01/02"))
	if f.APIKey != "" {
		q.Set("api_key", f.APIKey)
	}

	var parsed struct {
		ESearchResult struct {
			IDList []string `json:"idlist"`
		} `json:"esearchresult"`
	}
	if err := f.getJSON(ctx, "/esearch.fcgi", q, &parsed); err != nil {
		return nil, err
	}
	return parsed.ESearchResult.IDList, nil
}

type pubmedSummary struct {
	Title           string `json:"title"`
	FullJournalName string `json:"fulljournalname"`
	PubDate         string `json:"pubdate"`
	Authors         []struct {
		Name string `json:"name"`
	} `json:"authors"`
	PubType    []string `json:"pubtype"`
	ArticleIds []struct {
		IDType string `json:"idtype"`
		Value  string `json:"value"`
	} `json:"articleids"`
}

func (s pubmedSummary) authorNames() []string {
	names := make([]string, 0, len(s.Authors))
	for _, a := range s.Authors {
		names = append(names, a.Name)
	}
	return names
}

func (s pubmedSummary) doi() string {
	for _, id := range s.ArticleIds {
		if id.IDType == "doi" {
			return id.Value
		}
	}
	return ""
}

func (s pubmedSummary) pubDate() time.Time {
	layouts := []string{"2006 Jan 2", "2006 Jan", "2006"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s.PubDate); err == nil {
			return t
		}
	}
	return time.Now().UTC()
}

func (f *PubmedFetcher) esummary(ctx context.Context, pmids []string) (map[string]pubmedSummary, error) {
	q := url.Values{}
	q.Set("db", "pubmed")
	q.Set("retmode", "json")
	q.Set("id", strings.Join(pmids, ","))
	if f.APIKey != "" {
		q.Set("api_key", f.APIKey)
	}

	var parsed struct {
		Result map[string]json.RawMessage `json:"result"`
	}
	if err := f.getJSON(ctx, "/esummary.fcgi", q, &parsed); err != nil {
		return nil, err
	}

	out := make(map[string]pubmedSummary, len(pmids))
	for _, pmid := range pmids {
		raw, ok := parsed.Result[pmid]
		if !ok {
			continue
		}
		var summary pubmedSummary
		if err := json.Unmarshal(raw, &summary); err != nil {
			continue
		}
		out[pmid] = summary
	}
	return out, nil
}

func (f *PubmedFetcher) efetchAbstract(ctx context.Context, pmid string) (string, error) {
	q := url.Values{}
	q.Set("db", "pubmed")
	q.Set("id", pmid)
	q.Set("rettype", "abstract")
	q.Set("retmode", "text")
	if f.APIKey != "" {
		q.Set("api_key", f.APIKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL()+"/efetch.fcgi?"+q.Encode(), nil)
	if err != nil {
		return "", errors.Wrap(errors.Upstream, err)
	}
	resp, err := f.HTTPClient.Do(req)
	if err != nil {
		return "", errors.Wrap(errors.Upstream, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", errors.Newf(errors.Upstream, "pubmed efetch %s: status %d", pmid, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Wrap(errors.Upstream, err)
	}
	return strings.TrimSpace(string(body)), nil
}

func (f *PubmedFetcher) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL()+path+"?"+q.Encode(), nil)
	if err != nil {
		return errors.Wrap(errors.Upstream, err)
	}
	resp, err := f.HTTPClient.Do(req)
	if err != nil {
		return errors.Wrap(errors.Upstream, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Newf(errors.Upstream, "pubmed %s: status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func contentHash(blob []byte) string {
	return strconv.FormatUint(fnv1a(blob), 16)
}

func fnv1a(data []byte) uint64 {
	const offset64 = 14695981039346656037
	const prime64 = 1099511628211
	hash := uint64(offset64)
	for _, b := range data {
		hash ^= uint64(b)
		hash *= prime64
	}
	return hash
}
