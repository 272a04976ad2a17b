package search_test

import (
	"testing"

	"github.com/amanindex/coreengine/internal/search"
)

func TestClassify_Callers(t *testing.T) {
	intent, target := search.Classify("callers of ParseConfig")
	if intent != search.IntentCallers {
		t.Fatalf("expected callers intent, got %s", intent)
	}
	if target != "ParseConfig" {
		t.Fatalf("expected target ParseConfig, got %q", target)
	}
}

func TestClassify_References(t *testing.T) {
	intent, target := search.Classify("references to Logger")
	if intent != search.IntentReferences {
		t.Fatalf("expected references intent, got %s", intent)
	}
	if target != "Logger" {
		t.Fatalf("expected target Logger, got %q", target)
	}
}

func TestClassify_Imports(t *testing.T) {
	intent, target := search.Classify("imports net/http")
	if intent != search.IntentImports {
		t.Fatalf("expected imports intent, got %s", intent)
	}
	if target != "net/http" {
		t.Fatalf("expected target net/http, got %q", target)
	}
}

func TestClassify_SemanticQuestion(t *testing.T) {
	intent, _ := search.Classify("how does the retry logic handle timeouts?")
	if intent != search.IntentSemantic {
		t.Fatalf("expected semantic intent, got %s", intent)
	}
}

func TestClassify_FallsBackToNameSearch(t *testing.T) {
	intent, target := search.Classify("ParseConfig")
	if intent != search.IntentNameSearch {
		t.Fatalf("expected name_search intent, got %s", intent)
	}
	if target != "ParseConfig" {
		t.Fatalf("expected target ParseConfig, got %q", target)
	}
}
