package tools

import "testing"

func TestToolDescription_CoversEveryCatalogEntry(t *testing.T) {
	for _, name := range []string{
		"ping", "search", "get", "similar", "sync",
		"checkpoint.get", "checkpoint.set", "jobs.get", "jobs.cancel",
	} {
		if toolDescription(name) == "" {
			t.Fatalf("no description for tool %q", name)
		}
	}
}

func TestToolDescription_FallsBackForUnknownTool(t *testing.T) {
	got := toolDescription("something_new")
	want := "biomcp tool something_new"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
