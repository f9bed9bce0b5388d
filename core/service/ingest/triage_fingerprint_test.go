package ingest

import "testing"

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases", "Termin BITTE", "termin bitte"},
		{"collapses whitespace runs", "guten  tag,\n\tich   brauche", "guten tag, ich brauche"},
		{"strips trailing punctuation", "bitte um rückmeldung!!!", "bitte um rückmeldung"},
		{"strips trailing punctuation and space", "danke . ", "danke"},
		{"keeps inner punctuation", "mo-fr 8:00, sa geschlossen", "mo-fr 8:00, sa geschlossen"},
		{"empty", "", ""},
		{"only whitespace", "  \n\t ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeText(tt.in); got != tt.want {
				t.Errorf("NormalizeText(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFingerprint(t *testing.T) {
	t.Run("identical normalized content yields identical fingerprint", func(t *testing.T) {
		a := Fingerprint("Terminanfrage", "Guten Tag, ich brauche einen Termin.")
		b := Fingerprint("TERMINANFRAGE", "guten  tag,\nich brauche einen Termin")
		if a != b {
			t.Errorf("fingerprints differ: %s vs %s", a, b)
		}
	})

	t.Run("different content yields different fingerprint", func(t *testing.T) {
		a := Fingerprint("Terminanfrage", "Montag")
		b := Fingerprint("Terminanfrage", "Dienstag")
		if a == b {
			t.Error("expected different fingerprints")
		}
	})

	t.Run("subject participates in the fingerprint", func(t *testing.T) {
		a := Fingerprint("Rezept", "bitte verlängern")
		b := Fingerprint("Krankschreibung", "bitte verlängern")
		if a == b {
			t.Error("expected subject to change the fingerprint")
		}
	})
}
