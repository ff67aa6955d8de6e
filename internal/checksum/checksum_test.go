package checksum

import (
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/vovakirdan/netplay/internal/frame"
)

func TestComputeDeterministic(t *testing.T) {
	a := Compute([]byte("paddle=3 ball=(10,4)"))
	b := Compute([]byte("paddle=3 ball=(10,4)"))
	c := Compute([]byte("paddle=4 ball=(10,4)"))

	if a != b {
		t.Error("same input should produce the same digest")
	}
	if a == c {
		t.Error("different input should produce a different digest")
	}
	if len(a.String()) != 2*Size {
		t.Errorf("String() length = %d, want %d", len(a.String()), 2*Size)
	}

	streamed := Of(func(w io.Writer) {
		io.WriteString(w, "paddle=3 ")
		io.WriteString(w, "ball=(10,4)")
	})
	if streamed != a {
		t.Error("Of() should match Compute() for the same bytes")
	}

	raw := a.Bytes()
	if FromBytes(raw[:]) != a {
		t.Error("FromBytes(Bytes()) should round-trip")
	}
}

func newExchange(t *testing.T, peers ...string) *Exchange {
	t.Helper()
	e := NewExchange(Config{Interval: 10, MaxHistory: 8})
	for _, p := range peers {
		e.AddPeer(p)
	}
	return e
}

func TestDueFrame(t *testing.T) {
	e := newExchange(t, "b")

	if _, ok := e.DueFrame(frame.Null, 5); ok {
		t.Error("nothing is due before any frame is confirmed")
	}
	if _, ok := e.DueFrame(9, 20); ok {
		t.Error("frame 10 is not due while only frame 9 is confirmed")
	}
	f, ok := e.DueFrame(12, 12)
	if !ok || f != 10 {
		t.Fatalf("DueFrame() = (%v, %v), want (10, true)", f, ok)
	}
	e.RecordLocal(f, Compute([]byte{1}))

	if _, ok := e.DueFrame(19, 30); ok {
		t.Error("frame 20 is not due while only frame 19 is confirmed")
	}
	f, ok = e.DueFrame(25, 22)
	if !ok || f != 20 {
		t.Errorf("DueFrame() = (%v, %v), want (20, true)", f, ok)
	}

	disabled := NewExchange(Config{Interval: 0})
	if _, ok := disabled.DueFrame(100, 100); ok {
		t.Error("a disabled exchange never reports frames")
	}
}

func TestCompareInSync(t *testing.T) {
	e := newExchange(t, "b")
	sum := Compute([]byte("state@10"))

	if h, _ := e.Health("b"); h.Status != StatusPending {
		t.Fatalf("initial health = %v, want pending", h)
	}

	e.RecordLocal(10, sum)
	if err := e.Receive("b", 10, sum); err != nil {
		t.Fatalf("Receive() failed: %v", err)
	}

	// Not compared until frame 10 is strictly below the confirmed frame.
	if got := e.Compare(10); len(got) != 0 {
		t.Fatalf("Compare(10) = %v", got)
	}
	if h, _ := e.Health("b"); h.Status != StatusPending {
		t.Fatalf("health = %v before comparison, want pending", h)
	}

	if got := e.Compare(11); len(got) != 0 {
		t.Fatalf("Compare(11) mismatches = %v", got)
	}
	if h, _ := e.Health("b"); h.Status != StatusInSync {
		t.Errorf("health = %v, want in-sync", h)
	}
	if e.LastVerified("b") != 10 {
		t.Errorf("LastVerified() = %v, want 10", e.LastVerified("b"))
	}
	if e.PendingCount("b") != 0 {
		t.Errorf("PendingCount() = %d, want 0", e.PendingCount("b"))
	}
}

func TestCompareDesyncIsTerminal(t *testing.T) {
	e := newExchange(t, "b")
	local := Compute([]byte("local"))
	remote := Compute([]byte("remote"))

	e.RecordLocal(10, local)
	e.Receive("b", 10, remote)

	got := e.Compare(20)
	want := []Mismatch{{Addr: "b", Frame: 10, Local: local, Remote: remote}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Compare() mismatch (-want +got):\n%s", diff)
	}

	// Matching digests afterwards do not heal the peer.
	same := Compute([]byte("same"))
	e.RecordLocal(20, same)
	e.Receive("b", 20, same)
	e.Compare(30)

	h, _ := e.Health("b")
	if h.Status != StatusDesyncDetected || h.Frame != 10 {
		t.Errorf("health = %v, want desync at frame 10", h)
	}
	if e.LastVerified("b") != frame.Null {
		t.Errorf("LastVerified() = %v, want NULL", e.LastVerified("b"))
	}
}

func TestCompareWaitsForLocalDigest(t *testing.T) {
	e := newExchange(t, "b")
	sum := Compute([]byte("x"))
	e.Receive("b", 10, sum)

	e.Compare(15)
	if e.PendingCount("b") != 1 {
		t.Fatalf("remote digest dropped before the local one existed")
	}

	e.RecordLocal(10, sum)
	e.Compare(15)
	if h, _ := e.Health("b"); h.Status != StatusInSync {
		t.Errorf("health = %v, want in-sync", h)
	}
}

func TestCompareDropsDigestsOlderThanHistory(t *testing.T) {
	e := newExchange(t, "b")
	for f := frame.Frame(10); f <= 100; f += 10 {
		e.RecordLocal(f, Compute([]byte{byte(f)}))
	}
	// History holds 8 entries: frames 30..100.
	e.Receive("b", 10, Compute([]byte("whatever")))

	if got := e.Compare(200); len(got) != 0 {
		t.Errorf("a digest older than local history must not be reported: %v", got)
	}
	if e.PendingCount("b") != 0 {
		t.Errorf("PendingCount() = %d, want 0", e.PendingCount("b"))
	}
	if h, _ := e.Health("b"); h.Status != StatusPending {
		t.Errorf("health = %v, want pending", h)
	}
}

func TestComparePeerOrder(t *testing.T) {
	e := newExchange(t, "zeta", "alpha", "mid")
	e.RecordLocal(10, Compute([]byte("ok")))
	for _, p := range []string{"zeta", "alpha", "mid"} {
		e.Receive(p, 10, Compute([]byte(p)))
	}

	got := e.Compare(11)
	var order []string
	for _, m := range got {
		order = append(order, m.Addr)
	}
	if diff := cmp.Diff([]string{"alpha", "mid", "zeta"}, order); diff != "" {
		t.Errorf("mismatch order (-want +got):\n%s", diff)
	}
}

func TestReceiveUnknownPeer(t *testing.T) {
	e := newExchange(t)
	if err := e.Receive("nobody", 10, Sum{}); err == nil {
		t.Error("Receive() from an unknown peer should fail")
	}
}
