package ipc

import (
	"bytes"
	"testing"

	"github.com/justapithecus/racecm/types"
)

func TestEncodeSingle_RoundTrip(t *testing.T) {
	body := []byte("hello wire")
	wire := EncodeSingle(body)
	if !bytes.Equal(wire, body) {
		t.Errorf("EncodeSingle should be identity, got %x want %x", wire, body)
	}
}

func TestEncodeDecodeBatch(t *testing.T) {
	bodies := [][]byte{[]byte("first"), []byte("second"), {}}
	wire := EncodeBatch(bodies)

	got, err := DecodeBatch(wire)
	if err != nil {
		t.Fatalf("DecodeBatch: %v", err)
	}
	if len(got) != len(bodies) {
		t.Fatalf("got %d bodies, want %d", len(got), len(bodies))
	}
	for i := range bodies {
		if !bytes.Equal(got[i], bodies[i]) {
			t.Errorf("body %d = %x, want %x", i, got[i], bodies[i])
		}
	}
}

func TestEncodeDecodeFragmentSingleProducer(t *testing.T) {
	bodies := [][]byte{[]byte("fragment body")}
	wire := EncodeFragmentSingleProducer(7, types.FlagContinueNextPackage, bodies)

	fragID, flags, got, err := DecodeFragmentSingleProducer(wire)
	if err != nil {
		t.Fatalf("DecodeFragmentSingleProducer: %v", err)
	}
	if fragID != 7 {
		t.Errorf("fragID = %d, want 7", fragID)
	}
	if flags != types.FlagContinueNextPackage {
		t.Errorf("flags = %x, want %x", flags, types.FlagContinueNextPackage)
	}
	if len(got) != 1 || !bytes.Equal(got[0], bodies[0]) {
		t.Errorf("bodies = %v, want %v", got, bodies)
	}
}

func TestEncodeDecodeFragmentMultiProducer(t *testing.T) {
	var producerID types.ProducerID
	for i := range producerID {
		producerID[i] = byte(i)
	}
	bodies := [][]byte{[]byte("a"), []byte("bb")}
	wire := EncodeFragmentMultiProducer(producerID, 3, types.FlagContinueLastPackage, bodies)

	gotProducer, fragID, flags, got, err := DecodeFragmentMultiProducer(wire)
	if err != nil {
		t.Fatalf("DecodeFragmentMultiProducer: %v", err)
	}
	if gotProducer != producerID {
		t.Errorf("producerID = %x, want %x", gotProducer, producerID)
	}
	if fragID != 3 {
		t.Errorf("fragID = %d, want 3", fragID)
	}
	if flags != types.FlagContinueLastPackage {
		t.Errorf("flags = %x, want %x", flags, types.FlagContinueLastPackage)
	}
	if len(got) != 2 {
		t.Fatalf("got %d bodies, want 2", len(got))
	}
}

// TestS2Fragmentation pins the byte-exact wire layout from the
// FRAGMENT_SINGLE_PRODUCER fragmentation walkthrough: fragment 1 carries 15
// bytes with flags=CONTINUE_NEXT_PACKAGE, fragment 2 carries 25 bytes with
// flags=CONTINUE_LAST_PACKAGE.
func TestS2Fragmentation(t *testing.T) {
	full := make([]byte, 40)
	for i := range full {
		full[i] = byte(i)
	}

	frag1 := full[:15]
	frag2 := full[15:]

	wireA1 := EncodeFragmentSingleProducer(0, types.FlagContinueNextPackage, [][]byte{frag1})
	wireA2 := EncodeFragmentSingleProducer(1, types.FlagContinueLastPackage, [][]byte{frag2})

	wantA1 := append([]byte{0, 0, 0, 0, 0x02, 15, 0, 0, 0}, frag1...)
	wantA2 := append([]byte{1, 0, 0, 0, 0x01, 25, 0, 0, 0}, frag2...)

	if !bytes.Equal(wireA1, wantA1) {
		t.Errorf("A1 wire = %x, want %x", wireA1, wantA1)
	}
	if !bytes.Equal(wireA2, wantA2) {
		t.Errorf("A2 wire = %x, want %x", wireA2, wantA2)
	}
}

func TestDecodeBatch_Truncated(t *testing.T) {
	_, err := DecodeBatch([]byte{1, 0, 0, 0})
	if err == nil {
		t.Fatal("expected truncation error")
	}
	var frameErr *FrameError
	if !asFrameError(err, &frameErr) {
		t.Fatalf("expected *FrameError, got %T", err)
	}
	if frameErr.Kind != FrameErrorTruncated {
		t.Errorf("Kind = %v, want FrameErrorTruncated", frameErr.Kind)
	}
}

func asFrameError(err error, target **FrameError) bool {
	fe, ok := err.(*FrameError)
	if !ok {
		return false
	}
	*target = fe
	return true
}
