package page

import "testing"

func TestAddRecordAndDecode(t *testing.T) {
	p := New(1, KindData)

	records := []Record{
		{"id": float64(1), "name": "alice", "age": float64(25)},
		{"id": float64(2), "name": "bob", "age": float64(23)},
	}
	for _, rec := range records {
		ok, err := p.AddRecord(rec)
		if err != nil {
			t.Fatalf("AddRecord: %v", err)
		}
		if !ok {
			t.Fatalf("AddRecord: expected success, page rejected record")
		}
	}

	if p.Header.RecordCount != 2 {
		t.Fatalf("record count = %d, want 2", p.Header.RecordCount)
	}
	if p.Header.FreeSpace != DataSize-usedSpace(t, records) {
		t.Fatalf("free_space = %d, want %d", p.Header.FreeSpace, DataSize-usedSpace(t, records))
	}

	got, err := p.Records()
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(Records()) = %d, want 2", len(got))
	}
	if got[1]["name"] != "bob" {
		t.Fatalf("got[1][name] = %v, want bob", got[1]["name"])
	}
}

func TestAddRecordRejectsWhenFull(t *testing.T) {
	p := New(1, KindData)
	big := Record{"blob": make([]byte, DataSize)}
	ok, err := p.AddRecord(big)
	if err != nil {
		t.Fatalf("AddRecord: %v", err)
	}
	if ok {
		t.Fatalf("AddRecord: expected rejection for oversized record")
	}
	if p.Header.RecordCount != 0 {
		t.Fatalf("record count = %d, want 0 after rejected insert", p.Header.RecordCount)
	}
}

func TestToBytesFromBytesRoundTrip(t *testing.T) {
	p := New(7, KindIndex)
	if _, err := p.AddRecord(Record{"is_leaf": true, "keys": []interface{}{1.0, 2.0}}); err != nil {
		t.Fatalf("AddRecord: %v", err)
	}
	p.UpdateChecksum()

	encoded := p.ToBytes()
	if len(encoded) != Size {
		t.Fatalf("ToBytes length = %d, want %d", len(encoded), Size)
	}

	decoded, err := FromBytes(encoded)
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	if decoded.Header.PageID != 7 || decoded.Header.Kind != KindIndex {
		t.Fatalf("decoded header = %+v", decoded.Header)
	}
	if !decoded.VerifyChecksum() {
		t.Fatalf("checksum mismatch after round-trip")
	}

	records, err := decoded.Records()
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	if len(records) != 1 || records[0]["is_leaf"] != true {
		t.Fatalf("decoded records = %+v", records)
	}
}

func TestFromBytesRejectsWrongSize(t *testing.T) {
	if _, err := FromBytes(make([]byte, Size-1)); err == nil {
		t.Fatalf("expected error for undersized buffer")
	}
}

func TestUnknownKindDiscriminatorDefaultsToData(t *testing.T) {
	got := kindFromDiscriminator(0xDEADBEEF)
	if got != KindData {
		t.Fatalf("kindFromDiscriminator(unknown) = %v, want KindData", got)
	}
}

func TestDeleteRecordRepacks(t *testing.T) {
	p := New(1, KindData)
	for i := 0; i < 3; i++ {
		if _, err := p.AddRecord(Record{"n": float64(i)}); err != nil {
			t.Fatalf("AddRecord: %v", err)
		}
	}
	ok, err := p.DeleteRecord(1)
	if err != nil || !ok {
		t.Fatalf("DeleteRecord: ok=%v err=%v", ok, err)
	}
	records, _ := p.Records()
	if len(records) != 2 {
		t.Fatalf("len(Records()) = %d, want 2", len(records))
	}
	if records[0]["n"] != float64(0) || records[1]["n"] != float64(2) {
		t.Fatalf("unexpected survivors: %+v", records)
	}
	if p.Header.RecordCount != 2 {
		t.Fatalf("record_count = %d, want 2", p.Header.RecordCount)
	}
}

// usedSpace mirrors the length-prefix + JSON-encoding cost AddRecord
// charges against free_space, for assertions that don't want to hardcode
// JSON's exact byte count.
func usedSpace(t *testing.T, records []Record) uint32 {
	t.Helper()
	fresh := New(0, KindData)
	for _, rec := range records {
		if _, err := fresh.AddRecord(rec); err != nil {
			t.Fatalf("usedSpace: AddRecord: %v", err)
		}
	}
	return DataSize - fresh.Header.FreeSpace
}
