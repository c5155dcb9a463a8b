package retrieval

import (
	"reflect"
	"strings"
	"testing"

	"github.com/kalambet/jarvis/internal/storage"
)

func TestExtractKeywords(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"filters short words", "¿Cuál es la capital de Francia?", []string{"¿cuál", "capital", "francia?"}},
		{"drops stopwords", "Tener que hacer todo para poder estar bien", nil},
		{"caps at five", "alpha bravo charlie delta echoes foxtrot", []string{"alpha", "bravo", "charlie", "delta", "echoes"}},
		{"counts characters not bytes", "canción ñandú", []string{"canción", "ñandú"}},
		{"empty", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractKeywords(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ExtractKeywords(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestImportance(t *testing.T) {
	if got := Importance(strings.Repeat("a", 100)); got != 0.5 {
		t.Errorf("100 chars: got %v, want 0.5", got)
	}
	if got := Importance(strings.Repeat("a", 101)); got != 0.7 {
		t.Errorf("101 chars: got %v, want 0.7", got)
	}
}

func TestShouldRemember(t *testing.T) {
	long := "explícame la teoría de la relatividad"
	if !ShouldRemember(storage.KindAI, long) {
		t.Error("long ai turn should be remembered")
	}
	if ShouldRemember(storage.KindCommand, long) {
		t.Error("command turns are never remembered")
	}
	if ShouldRemember(storage.KindAI, strings.Repeat("x", 20)) {
		t.Error("20-character input is too short")
	}
}

func TestFormatTurn(t *testing.T) {
	got := FormatTurn("hola", "¡Hola!")
	if got != "Usuario: hola\nAsistente: ¡Hola!" {
		t.Errorf("FormatTurn = %q", got)
	}
}
