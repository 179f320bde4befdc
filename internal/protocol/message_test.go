package protocol

import (
	"errors"
	"testing"

	"github.com/kreid-dev/fbroker/internal/wire"
)

func TestRequestWorkerListRoundTrip(t *testing.T) {
	msg := RequestWorkerList{ProtocolVersion: 42, Platform: 1, WantFullInfo: true}
	encoded := msg.Encode()

	hdr, err := DecodeHeader(encoded)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if hdr.MsgType != MsgRequestWorkerList || hdr.HasPayload {
		t.Fatalf("unexpected header: %+v", hdr)
	}

	decoded, err := DecodeRequestWorkerList(encoded)
	if err != nil {
		t.Fatalf("DecodeRequestWorkerList: %v", err)
	}
	if decoded != msg {
		t.Fatalf("round-trip mismatch: got %+v want %+v", decoded, msg)
	}
}

func TestSetWorkerStatusRoundTrip(t *testing.T) {
	for _, available := range []bool{true, false} {
		msg := SetWorkerStatus{IsAvailable: available, ProtocolVersion: 7, Platform: 2}
		encoded := msg.Encode()

		decoded, err := DecodeSetWorkerStatus(encoded)
		if err != nil {
			t.Fatalf("DecodeSetWorkerStatus: %v", err)
		}
		if decoded != msg {
			t.Fatalf("round-trip mismatch: got %+v want %+v", decoded, msg)
		}
	}
}

func TestUpdateWorkerInfoPayloadRoundTrip(t *testing.T) {
	msg := UpdateWorkerInfo{
		Version:      "1.2.3",
		User:         "bob",
		Hostname:     "worker-a",
		Domainname:   "corp.example",
		Mode:         "idle @ 50%",
		NumCPUsUsed:  2,
		NumCPUsTotal: 16,
		MemoryMiB:    32768,
	}

	hdr := msg.Encode()
	decodedHdr, err := DecodeHeader(hdr)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if !decodedHdr.HasPayload {
		t.Fatal("expected UpdateWorkerInfo to declare has_payload")
	}

	payload := msg.EncodePayload()
	decoded, err := DecodeUpdateWorkerInfoPayload(payload)
	if err != nil {
		t.Fatalf("DecodeUpdateWorkerInfoPayload: %v", err)
	}
	if decoded != msg {
		t.Fatalf("round-trip mismatch: got %+v want %+v", decoded, msg)
	}
}

func TestWorkerListPayloadRoundTrip_AddressesOnly(t *testing.T) {
	entries := []WorkerListEntry{{Address: 0x0a000005}, {Address: 0x0a000006}}
	payload := EncodeWorkerListPayload(entries, false)

	decoded, err := DecodeWorkerListPayload(payload, false)
	if err != nil {
		t.Fatalf("DecodeWorkerListPayload: %v", err)
	}
	if len(decoded) != len(entries) {
		t.Fatalf("expected %d entries, got %d", len(entries), len(decoded))
	}
	for i, e := range entries {
		if decoded[i].Address != e.Address || decoded[i].Full != nil {
			t.Fatalf("entry %d mismatch: got %+v want %+v", i, decoded[i], e)
		}
	}
}

func TestWorkerListPayloadRoundTrip_FullInfo(t *testing.T) {
	entries := []WorkerListEntry{
		{
			Address: 0x0a000005,
			Full: &WorkerListEntryInfo{
				Version:       "1.0",
				Hostname:      "worker-a",
				AvailableCPUs: 4,
				TotalCPUs:     8,
				MemoryMiB:     16384,
			},
		},
	}
	payload := EncodeWorkerListPayload(entries, true)

	decoded, err := DecodeWorkerListPayload(payload, true)
	if err != nil {
		t.Fatalf("DecodeWorkerListPayload: %v", err)
	}
	if len(decoded) != 1 || decoded[0].Full == nil {
		t.Fatalf("expected one full entry, got %+v", decoded)
	}
	if *decoded[0].Full != *entries[0].Full {
		t.Fatalf("full info mismatch: got %+v want %+v", *decoded[0].Full, *entries[0].Full)
	}
}

func TestWorkerListPayloadRejectsTrailingBytes(t *testing.T) {
	payload := EncodeWorkerListPayload([]WorkerListEntry{{Address: 1}}, false)
	payload = append(payload, 0xff, 0xff, 0xff, 0xff)

	if _, err := DecodeWorkerListPayload(payload, false); !errors.Is(err, wire.ErrCorruptFrame) {
		t.Fatalf("expected ErrCorruptFrame for trailing bytes, got %v", err)
	}
}

func TestDecodeHeaderRejectsUnknownType(t *testing.T) {
	buf := []byte{0xfe, 0, 0, 0}
	if _, err := DecodeHeader(buf); !errors.Is(err, wire.ErrUnknownMessage) {
		t.Fatalf("expected ErrUnknownMessage, got %v", err)
	}
}

func TestDecodeHeaderRejectsWrongDeclaredSize(t *testing.T) {
	msg := SetWorkerStatus{IsAvailable: true, ProtocolVersion: 1, Platform: 0}
	encoded := msg.Encode()
	encoded[1] = 0xff // corrupt the declared size

	if _, err := DecodeHeader(encoded); !errors.Is(err, wire.ErrCorruptFrame) {
		t.Fatalf("expected ErrCorruptFrame for wrong declared size, got %v", err)
	}
}

func TestDecodeHeaderRejectsShortBuffer(t *testing.T) {
	if _, err := DecodeHeader([]byte{1, 2}); !errors.Is(err, wire.ErrCorruptFrame) {
		t.Fatalf("expected ErrCorruptFrame for short header, got %v", err)
	}
}
