package protein

import (
	"reflect"
	"testing"
)

func TestExtractNames_BoldPattern(t *testing.T) {
	context := "Retrieved structures for **TP53** and **BRCA1**. **TP53** binds DNA."

	got := ExtractNames(context)
	want := []string{"TP53", "BRCA1"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ExtractNames() = %v, want %v", got, want)
	}
}

func TestExtractNames_UniProtFallback(t *testing.T) {
	context := "Matched Hemoglobin subunit alpha (UniProt: P69905) and Myoglobin (UniProt: P02144)."

	got := ExtractNames(context)
	want := []string{"Hemoglobin subunit alpha", "Myoglobin"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ExtractNames() = %v, want %v", got, want)
	}
}

func TestExtractNames_BoldTakesPrecedence(t *testing.T) {
	context := "**KRAS** is annotated; see also Tubulin (UniProt: Q71U36)."

	got := ExtractNames(context)
	want := []string{"KRAS"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ExtractNames() = %v, want %v", got, want)
	}
}

func TestExtractNames_NoMatches(t *testing.T) {
	if got := ExtractNames("plain prose with no entities"); got != nil {
		t.Errorf("ExtractNames() = %v, want nil", got)
	}
	if got := ExtractNames(""); got != nil {
		t.Errorf("ExtractNames(\"\") = %v, want nil", got)
	}
}
