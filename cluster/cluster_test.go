package cluster

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	m := &Map{
		Epoch: 123,
		OSDs: []DaemonInfo{
			{IP: 0x7f000001, Port: 8080, IsIn: true},
			{IP: 0x7f000001, Port: 8081, IsIn: true},
		},
		MDSes: []DaemonInfo{
			{IP: 0x7f000001, Port: 9080, IsIn: true},
			{IP: 0x7f000001, Port: 9081, IsIn: true},
		},
	}
	buf := Encode(m)
	got, err := Decode(buf)
	if err != nil {
		t.Fatal(err)
	}
	if got.Epoch != m.Epoch {
		t.Fatalf("epoch = %d, want %d", got.Epoch, m.Epoch)
	}
	if len(got.OSDs) != 2 || len(got.MDSes) != 2 {
		t.Fatalf("got %+v", got)
	}
	for i := range m.OSDs {
		if got.OSDs[i] != m.OSDs[i] {
			t.Fatalf("osd[%d] = %+v, want %+v", i, got.OSDs[i], m.OSDs[i])
		}
	}
	for i := range m.MDSes {
		if got.MDSes[i] != m.MDSes[i] {
			t.Fatalf("mds[%d] = %+v, want %+v", i, got.MDSes[i], m.MDSes[i])
		}
	}
}

func TestDecodeShortBufferFails(t *testing.T) {
	if _, err := Decode([]byte{0, 1, 2}); err == nil {
		t.Fatal("expected error decoding a too-short buffer")
	}
}
