package normalize

import (
	"reflect"
	"testing"
	"unicode/utf8"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Av. Córdoba", "av cordoba"},
		{"  GÜEMES   1234 ", "guemes 1234"},
		{"Peñaloza, Ángel-Vicente", "penaloza angel vicente"},
		{"336 GUTIERREZ", "336 gutierrez"},
		{"", ""},
		{"...", ""},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPrincipalName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"336 GUTIERREZ", "gutierrez"},
		{"12B 4 SAN MARTIN", "san martin"},
		{"CALLE 12", "calle 12"},
		{"500", "500"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := PrincipalName(tt.in); got != tt.want {
			t.Errorf("PrincipalName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestVariants(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"single word", "Gutiérrez", []string{"gutierrez"}},
		{"number and name", "336 Gutierrez", []string{"336 gutierrez", "gutierrez", "336"}},
		{"first token long", "Juan B Justo", []string{"juan b justo", "justo", "juan"}},
		{"short first token skipped", "Av San Martin", []string{"av san martin", "martin"}},
		{"digits stripped", "Calle 12 Norte 5", []string{"calle 12 norte 5", "calle", "calle norte"}},
		{"empty", "  ", nil},
		{"single letter", "a", nil},
		{"single multibyte rune", "ø", nil},
		{"single cjk rune", "北", nil},
		{"two rune first token skipped", "Łó Paz", []string{"ło paz", "paz"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Variants(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Variants(%q) = %q, want %q", tt.in, got, tt.want)
			}
			for _, v := range got {
				if utf8.RuneCountInString(v) < MinTermLength {
					t.Fatalf("variant %q shorter than %d", v, MinTermLength)
				}
			}
		})
	}
}

func BenchmarkNormalize(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = Normalize("Avenida Presidente Roque Sáenz Peña 1234")
	}
}
