package schema

import "testing"

func TestStaticSchemaFieldRoundTrip(t *testing.T) {
	s := Default()
	msg := make([]byte, 30)
	PutApplicationID(s, msg, 7)
	PutApplicationSeqNum(s, msg, 42)
	PutTimestamp(s, msg, 1234567890)
	copy(msg[s.NameOffset:], "applicationDefinition"[:s.NameLen])

	if got := GetApplicationID(s, msg); got != 7 {
		t.Fatalf("ApplicationID: got %d", got)
	}
	if got := GetApplicationSeqNum(s, msg); got != 42 {
		t.Fatalf("ApplicationSeqNum: got %d", got)
	}
	if got := GetTimestamp(s, msg); got != 1234567890 {
		t.Fatalf("Timestamp: got %d", got)
	}
	if got := s.MessageName(msg); got != "applicationDefinition"[:s.NameLen] {
		t.Fatalf("MessageName: got %q", got)
	}
}

func TestMessageNameTooShort(t *testing.T) {
	s := Default()
	if got := s.MessageName(make([]byte, 5)); got != "" {
		t.Fatalf("expected empty name, got %q", got)
	}
}
