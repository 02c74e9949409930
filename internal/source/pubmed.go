package source

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vallancelee/biomcp/internal/errors"
)

// pubmedRecord is the JSON shape a RawRecord.Blob is expected to carry
// for the "pubmed" source: PubMed's own field names, lightly flattened.
type pubmedRecord struct {
	Title            string   `json:"title"`
	Abstract         string   `json:"abstract"`
	Journal          string   `json:"journal"`
	Language         string   `json:"language"`
	Authors          []string `json:"authors"`
	MeshTerms        []string `json:"mesh_terms"`
	PublicationTypes []string `json:"publication_types"`
	Year             int      `json:"year"`
	PMID             string   `json:"pmid"`
	DOI              string   `json:"doi"`
	PubDate          string   `json:"pub_date"`
}

// PubmedNormalizer implements Normalizer for the "pubmed" source,
// feeding the PubmedScorer's expected detail vocabulary (internal/quality).
type PubmedNormalizer struct{}

func (PubmedNormalizer) Normalize(_ context.Context, rec RawRecord) (NormalizedFields, error) {
	var r pubmedRecord
	if err := json.Unmarshal(rec.Blob, &r); err != nil {
		return NormalizedFields{}, errors.Wrap(errors.Validation, fmt.Errorf("pubmed record %s: %w", rec.SourceID, err))
	}
	if r.Title == "" {
		return NormalizedFields{}, errors.Validationf("pubmed record %s: missing title", rec.SourceID)
	}

	var publishedAt *time.Time
	if r.PubDate != "" {
		if t, err := time.Parse("2006-01-02", r.PubDate); err == nil {
			publishedAt = &t
		}
	}

	ids := map[string]string{"pmid": r.PMID}
	if r.DOI != "" {
		ids["doi"] = r.DOI
	}

	detail := map[string]any{
		"journal":           r.Journal,
		"mesh_terms":        r.MeshTerms,
		"publication_types": r.PublicationTypes,
	}
	if r.Year > 0 {
		detail["year"] = r.Year
	}

	return NormalizedFields{
		Title:       r.Title,
		Text:        r.Abstract,
		PublishedAt: publishedAt,
		Language:    r.Language,
		Authors:     r.Authors,
		Identifiers: ids,
		Detail:      detail,
		License:     "",
	}, nil
}
