package speech

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeFullClientRequest(t *testing.T) {
	msg, err := CreateFullClientRequest([]byte(`{"text":"hello"}`), GzipCompression)
	if err != nil {
		t.Fatalf("CreateFullClientRequest: %v", err)
	}

	frame, err := EncodeMessage(msg)
	if err != nil {
		t.Fatalf("EncodeMessage: %v", err)
	}

	decoded, err := DecodeMessage(bytes.NewReader(frame))
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	if decoded.Header.MessageType != FullClientRequest {
		t.Fatalf("message type = %d, want %d", decoded.Header.MessageType, FullClientRequest)
	}

	payload, err := DecompressPayload(decoded.Payload, decoded.Header.CompressionMethod)
	if err != nil {
		t.Fatalf("DecompressPayload: %v", err)
	}
	if string(payload) != `{"text":"hello"}` {
		t.Fatalf("payload = %s", payload)
	}
}

func TestDecodeSessionEventAndError(t *testing.T) {
	finished := &Message{
		Header:    NewHeader(FullServerResponse, WithEvent, JSONSerialization, NoCompression),
		EventType: EventTypeSessionFinished,
		SessionID: "session-1",
		Payload:   []byte(`{}`),
	}
	frame, _ := EncodeMessage(finished)

	decoded, err := DecodeMessage(bytes.NewReader(frame))
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	if decoded.EventType != EventTypeSessionFinished || decoded.SessionID != "session-1" {
		t.Fatalf("unexpected event decode: %+v", decoded)
	}

	failure := &Message{
		Header:    NewHeader(ErrorMessage, NoSequenceNumber, JSONSerialization, NoCompression),
		ErrorCode: 45000001,
		Payload:   []byte("boom"),
	}
	frame, _ = EncodeMessage(failure)

	decoded, err = DecodeMessage(bytes.NewReader(frame))
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	if !decoded.IsErrorMessage() || decoded.ErrorCode != 45000001 || string(decoded.Payload) != "boom" {
		t.Fatalf("unexpected error decode: %+v", decoded)
	}
}

func TestIsLastPacket(t *testing.T) {
	cases := []struct {
		flags MessageFlags
		want  bool
	}{
		{NoSequenceNumber, false},
		{PositiveSequenceNumber, false},
		{LastPacketNoSequence, true},
		{NegativeSequenceNumber, true},
		{WithEvent, false},
	}

	for _, tc := range cases {
		msg := &Message{Header: NewHeader(AudioOnlyServerResponse, tc.flags, NoSerialization, NoCompression)}
		if got := msg.IsLastPacket(); got != tc.want {
			t.Errorf("flags %04b: IsLastPacket = %v, want %v", tc.flags, got, tc.want)
		}
	}
}

func TestDecodeHeaderRejectsTruncatedFrame(t *testing.T) {
	if _, err := DecodeHeader([]byte{0x11}); err == nil {
		t.Fatalf("expected error for short header")
	}
	if _, err := DecodeHeader([]byte{0x21, 0x10, 0x10, 0x00}); err == nil {
		t.Fatalf("expected error for unsupported version")
	}
}
