//go:build ignore

// Package main generates a synthetic corpus of PubMed-shaped JSON raw
// records for benchmarking the ingestion pipeline and chunker without
// a live E-utilities fetch.
//
// Usage: go run scripts/generate-test-corpus.go -records 1000 -output testdata/bench
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
)

var (
	numRecords = flag.Int("records", 1000, "Number of pubmed records to generate")
	outputDir  = flag.String("output", "testdata/bench", "Output directory")
	seed       = flag.Int64("seed", 42, "Random seed for reproducibility")
)

// pubmedRecord mirrors internal/source.pubmedRecord's JSON shape, kept
// in sync by hand since that type is unexported.
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

var (
	conditions = []string{
		"Type 2 Diabetes", "Hypertension", "Atrial Fibrillation",
		"Non-Small Cell Lung Cancer", "Rheumatoid Arthritis", "Chronic Kidney Disease",
		"Major Depressive Disorder", "Asthma", "Alzheimer Disease", "Breast Cancer",
		"Osteoarthritis", "Ulcerative Colitis", "Parkinson Disease", "Heart Failure",
	}
	interventions = []string{
		"a Novel Oral Agent", "Combination Therapy", "an SGLT2 Inhibitor",
		"a Monoclonal Antibody", "Lifestyle Intervention", "a Fixed-Dose Combination",
		"Early Surgical Intervention", "a Digital Therapeutic", "High-Dose Vitamin D",
		"an mRNA-Based Vaccine",
	}
	studyTypes = []struct {
		label string
		pts   []string
		level int
	}{
		{"Randomized Controlled Trial", []string{"Randomized Controlled Trial", "Clinical Trial"}, 2},
		{"Meta-Analysis", []string{"Meta-Analysis", "Systematic Review"}, 1},
		{"Cohort Study", []string{"Observational Study"}, 4},
		{"Case-Control Study", []string{"Observational Study"}, 5},
		{"Case Series", []string{"Case Reports"}, 7},
	}
	journals = []string{
		"The Lancet", "New England Journal of Medicine", "JAMA", "BMJ",
		"Diabetes Care", "Circulation", "Annals of Internal Medicine",
		"Journal of Clinical Oncology", "American Journal of Respiratory and Critical Care Medicine",
	}
	authorFirst = []string{"J", "M", "S", "A", "R", "K", "L", "T"}
	authorLast  = []string{"Smith", "Patel", "Garcia", "Nguyen", "Kim", "Müller", "Dubois", "Rossi"}
)

func randFrom[T any](r *rand.Rand, pool []T) T {
	return pool[r.Intn(len(pool))]
}

func randomAuthors(r *rand.Rand) []string {
	n := 2 + r.Intn(4)
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s %s", randFrom(r, authorLast), randFrom(r, authorFirst))
	}
	return out
}

func abstractFor(r *rand.Rand, condition, intervention, study string, n int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Background: %s remains a leading cause of morbidity worldwide, "+
		"and treatment options for patients with inadequate response to first-line therapy "+
		"remain limited. ", condition)
	fmt.Fprintf(&b, "Methods: We conducted a %s evaluating %s in %d patients with %s. "+
		"Patients were followed for a median of %d months and the primary endpoint was "+
		"assessed using a pre-specified statistical analysis plan. ",
		strings.ToLower(study), intervention, 100+r.Intn(900), condition, 6+r.Intn(30))
	fmt.Fprintf(&b, "Results: Treatment with %s was associated with a %d%% relative "+
		"improvement in the primary endpoint compared with standard of care (p=0.%03d). "+
		"Adverse events were consistent with the known safety profile. ",
		intervention, 5+r.Intn(40), 1+r.Intn(49))
	fmt.Fprintf(&b, "Conclusions: %s represents a %s approach for patients with %s, "+
		"supporting its consideration as part of standard management. Further studies "+
		"are warranted to confirm long-term outcomes.",
		intervention, randFrom(r, []string{"promising", "clinically meaningful", "well-tolerated"}), condition)
	_ = n
	return b.String()
}

func generateRecord(r *rand.Rand, index int) pubmedRecord {
	condition := randFrom(r, conditions)
	intervention := randFrom(r, interventions)
	study := randFrom(r, studyTypes)
	year := 2014 + r.Intn(12)

	pmid := fmt.Sprintf("%08d", 10000000+index)
	title := fmt.Sprintf("Efficacy and Safety of %s in Patients with %s: A %s",
		intervention, condition, study.label)

	return pubmedRecord{
		Title:            title,
		Abstract:         abstractFor(r, condition, intervention, study.label, index),
		Journal:          randFrom(r, journals),
		Language:         "eng",
		Authors:          randomAuthors(r),
		MeshTerms:        append([]string{condition}, study.pts...),
		PublicationTypes: study.pts,
		Year:             year,
		PMID:             pmid,
		DOI:              fmt.Sprintf("10.1000/biomcp.bench.%d", index),
		PubDate:          fmt.Sprintf("%04d-%02d-%02d", year, 1+r.Intn(12), 1+r.Intn(28)),
	}
}

func main() {
	flag.Parse()
	r := rand.New(rand.NewSource(*seed))

	if err := os.MkdirAll(*outputDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating output directory: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Generating %d pubmed records in %s...\n", *numRecords, *outputDir)

	for i := 0; i < *numRecords; i++ {
		rec := generateRecord(r, i)
		data, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error marshalling record %d: %v\n", i, err)
			continue
		}
		filename := filepath.Join(*outputDir, fmt.Sprintf("pubmed_%s.json", rec.PMID))
		if err := os.WriteFile(filename, data, 0644); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing record %d: %v\n", i, err)
		}
	}

	fmt.Printf("Generated %d records successfully.\n", *numRecords)
}
