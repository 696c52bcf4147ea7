package security

import (
	"strings"
	"testing"
)

func TestNotesSanitizer_RemovesScriptTags(t *testing.T) {
	s := NewNotesSanitizer()

	input := `<p>今日の昼食</p><script>alert('xss')</script>`
	result := s.Sanitize(input)

	if strings.Contains(result, "<script>") || strings.Contains(result, "alert") {
		t.Errorf("script content should be removed, got %q", result)
	}
	if !strings.Contains(result, "<p>今日の昼食</p>") {
		t.Errorf("allowed tags should be preserved, got %q", result)
	}
}

func TestNotesSanitizer_RemovesEventHandlers(t *testing.T) {
	s := NewNotesSanitizer()

	input := `<p onclick="alert('xss')">メモ</p>`
	result := s.Sanitize(input)

	if strings.Contains(result, "onclick") {
		t.Errorf("event handler attributes should be removed, got %q", result)
	}
}

func TestNotesSanitizer_RemovesIframeAndStyle(t *testing.T) {
	s := NewNotesSanitizer()

	input := `<iframe src="https://evil.example"></iframe><style>body{display:none}</style><ul><li>サラダ</li></ul>`
	result := s.Sanitize(input)

	if strings.Contains(result, "iframe") || strings.Contains(result, "<style>") {
		t.Errorf("iframe/style should be removed, got %q", result)
	}
	if !strings.Contains(result, "<li>サラダ</li>") {
		t.Errorf("allowed list tags should be preserved, got %q", result)
	}
}

func TestNotesSanitizer_AllowedFormattingTags(t *testing.T) {
	s := NewNotesSanitizer()

	input := `<p><strong>高タンパク</strong>と<em>低糖質</em></p><ol><li>鶏むね肉</li></ol>`
	result := s.Sanitize(input)

	for _, tag := range []string{"<strong>", "<em>", "<ol>", "<li>"} {
		if !strings.Contains(result, tag) {
			t.Errorf("expected %s to be preserved, got %q", tag, result)
		}
	}
}

func TestNotesSanitizer_EmptyInput_ReturnsEmpty(t *testing.T) {
	s := NewNotesSanitizer()

	if result := s.Sanitize(""); result != "" {
		t.Errorf("expected empty string, got %q", result)
	}
}

func TestNotesSanitizer_Idempotent(t *testing.T) {
	s := NewNotesSanitizer()

	input := `<p>メモ<script>bad()</script></p><ul><li>item</li></ul>`
	once := s.Sanitize(input)
	twice := s.Sanitize(once)

	if once != twice {
		t.Errorf("sanitize should be idempotent: first %q, second %q", once, twice)
	}
}
