package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateQuestion_Valid(t *testing.T) {
	cases := []string{
		"What sensors does a humanoid robot use?",
		"how does an IMU work",
		"?",
		"روبوٹ کیا ہے؟",
	}
	for _, q := range cases {
		if err := ValidateQuestion(q); err != nil {
			t.Errorf("expected valid for %q, got %v", q, err)
		}
	}
}

func TestValidateQuestion_Empty(t *testing.T) {
	for _, q := range []string{"", "   ", "\n\t"} {
		if !errors.Is(ValidateQuestion(q), ErrQueryTooShort) {
			t.Errorf("expected ErrQueryTooShort for %q", q)
		}
	}
}

func TestValidateQuestion_TooLong(t *testing.T) {
	q := strings.Repeat("a", MaxQuestionLength+1)
	if !errors.Is(ValidateQuestion(q), ErrQueryTooLong) {
		t.Error("expected ErrQueryTooLong")
	}
	// Exactly at the bound passes.
	if err := ValidateQuestion(strings.Repeat("a", MaxQuestionLength)); err != nil {
		t.Errorf("expected valid at max length, got %v", err)
	}
}

func TestValidateQuestion_Injection(t *testing.T) {
	cases := []string{
		"what is a robot; DROP TABLE users",
		"sensors ${process.env.SECRET}",
		`actuators {"$gt": 1}`,
	}
	for _, text := range cases {
		if !errors.Is(ValidateQuestion(text), ErrQueryInjection) {
			t.Errorf("expected ErrQueryInjection for %q", text)
		}
	}
}

func TestValidateSearchQuery_Bounds(t *testing.T) {
	if !errors.Is(ValidateSearchQuery("a"), ErrQueryTooShort) {
		t.Error("expected ErrQueryTooShort for single rune")
	}
	if !errors.Is(ValidateSearchQuery(strings.Repeat("b", MaxSearchLength+1)), ErrQueryTooLong) {
		t.Error("expected ErrQueryTooLong")
	}
	if err := ValidateSearchQuery("imu"); err != nil {
		t.Errorf("expected valid, got %v", err)
	}
}

func TestValidateK(t *testing.T) {
	for _, k := range []int{1, 5, 20} {
		if err := ValidateK(k); err != nil {
			t.Errorf("expected k=%d valid, got %v", k, err)
		}
	}
	for _, k := range []int{0, -1, 21, 100} {
		if !errors.Is(ValidateK(k), ErrBadLimit) {
			t.Errorf("expected ErrBadLimit for k=%d", k)
		}
	}
}

func TestValidateLanguage(t *testing.T) {
	for _, lang := range []Language{"", "en", "ur", "EN"} {
		if err := ValidateLanguage(lang); err != nil {
			t.Errorf("expected %q valid, got %v", lang, err)
		}
	}
	if !errors.Is(ValidateLanguage("fr"), ErrBadLanguage) {
		t.Error("expected ErrBadLanguage for fr")
	}
}

func TestValidateLevel(t *testing.T) {
	for _, lvl := range []ExperienceLevel{"", LevelBeginner, LevelIntermediate, LevelAdvanced, "Advanced"} {
		if err := ValidateLevel(lvl); err != nil {
			t.Errorf("expected %q valid, got %v", lvl, err)
		}
	}
	if !errors.Is(ValidateLevel("expert"), ErrBadLevel) {
		t.Error("expected ErrBadLevel for expert")
	}
}

func TestNormalizeLanguage(t *testing.T) {
	cases := map[string]Language{
		"en": "en", "UR": "ur", " ur ": "ur",
		"": "en", "fr": "en", "english": "en",
	}
	for in, want := range cases {
		if got := NormalizeLanguage(in); got != want {
			t.Errorf("NormalizeLanguage(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestValidateDocument(t *testing.T) {
	doc := Document{ID: "02-sensors", Title: "Sensors", Language: "en", Content: "# Sensors\n\nLidar and IMU."}
	if err := ValidateDocument(doc); err != nil {
		t.Errorf("expected valid document, got %v", err)
	}

	bad := []Document{
		{Title: "Sensors", Language: "en", Content: "x"},
		{ID: "d", Language: "en", Content: "x"},
		{ID: "d", Title: "T", Language: "en", Content: "   "},
		{ID: "d", Title: "T", Language: "de", Content: "x"},
	}
	for i, d := range bad {
		if err := ValidateDocument(d); err == nil {
			t.Errorf("case %d: expected error, got nil", i)
		}
	}
}

func TestValidationError_Unwrap(t *testing.T) {
	ve := NewValidationError("k", "40", ErrBadLimit)
	if !errors.Is(ve, ErrBadLimit) {
		t.Errorf("Unwrap should expose ErrBadLimit")
	}
	var target *ValidationError
	if !errors.As(ve, &target) {
		t.Errorf("errors.As should work for *ValidationError")
	}
	if target.Field != "k" {
		t.Errorf("expected field=k, got %s", target.Field)
	}
}

func TestErrorHelpers(t *testing.T) {
	rl := &RateLimitError{Scope: "query", RetryAfter: 12e9}
	wrapped := errors.Join(errors.New("outer"), rl)
	got, ok := AsRateLimit(wrapped)
	if !ok || got.Scope != "query" {
		t.Fatalf("AsRateLimit = %v, %v", got, ok)
	}

	ue := &UpstreamError{Service: "generation", Err: errors.New("503")}
	if !IsUpstream(ue) {
		t.Error("IsUpstream should match UpstreamError")
	}
	if IsUpstream(errors.New("plain")) {
		t.Error("IsUpstream should not match plain errors")
	}
	if !IsValidation(NewValidationError("q", "", ErrQueryTooShort)) {
		t.Error("IsValidation should match ValidationError")
	}
}

func TestCitationLabel(t *testing.T) {
	c := Citation{DocTitle: "Sensors and Perception", SectionTitle: "Lidar"}
	if got := c.Label(); got != "[Sensors and Perception: Lidar]" {
		t.Errorf("Label() = %q", got)
	}
}

func TestSnippet_CutsAtRuneBoundary(t *testing.T) {
	urdu := strings.Repeat("روبوٹ ", 100)
	got := Snippet(urdu, 20)
	if want := string([]rune(urdu)[:20]) + "..."; got != want {
		t.Errorf("Snippet = %q, want %q", got, want)
	}
	if short := Snippet("short", 20); short != "short" {
		t.Errorf("short text must pass through, got %q", short)
	}
}
