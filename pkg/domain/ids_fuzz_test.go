package domain

import "testing"

// FuzzParseSubjectID checks that parsing never panics and that accepted input
// round-trips through String.
func FuzzParseSubjectID(f *testing.F) {
	f.Add("")
	f.Add("42")
	f.Add("-1")
	f.Add("9223372036854775807")
	f.Add("'; DROP TABLE subject_keys;--")
	f.Add(string([]byte{0x00, 0x01, 0x02}))

	f.Fuzz(func(t *testing.T, input string) {
		id, err := ParseSubjectID(input)
		if err != nil {
			return
		}
		if id <= 0 {
			t.Fatalf("accepted non-positive id %d from %q", id, input)
		}
		if id.String() != input {
			t.Fatalf("round trip changed %q into %q", input, id.String())
		}
	})
}
