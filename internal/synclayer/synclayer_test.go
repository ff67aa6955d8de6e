package synclayer

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/vovakirdan/netplay/internal/frame"
	"github.com/vovakirdan/netplay/internal/input"
	"github.com/vovakirdan/netplay/internal/telemetry"
)

// counter is a trivial deterministic simulation: it sums every input it sees.
type counter struct {
	Frame frame.Frame
	Total int
}

type host struct {
	t     *testing.T
	state counter
	loads int
	saves int
}

func (h *host) exec(reqs ...Request) {
	h.t.Helper()
	for _, r := range reqs {
		switch r := r.(type) {
		case SaveGameState[counter]:
			st := h.state
			if err := r.Cell.Save(r.Frame, &st, nil); err != nil {
				h.t.Fatalf("Save() failed: %v", err)
			}
			h.saves++
		case LoadGameState[counter]:
			st, err := r.Cell.Load()
			if err != nil {
				h.t.Fatalf("Load() failed: %v", err)
			}
			h.state = st
			h.loads++
		case AdvanceFrame[uint8]:
			for _, in := range r.Inputs {
				h.state.Total += int(in.Value)
			}
			h.state.Frame++
		default:
			h.t.Fatalf("unexpected request %T", r)
		}
	}
}

func newLayer(t *testing.T, mode SaveMode) (*SyncLayer[uint8, counter], *telemetry.Collector) {
	t.Helper()
	obs := &telemetry.Collector{}
	s, err := New[uint8, counter](Config{
		NumPlayers:    2,
		MaxPrediction: 8,
		QueueLength:   32,
		SaveMode:      mode,
	}, nil, obs)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return s, obs
}

// tick saves, adds the local input for player 0, and advances one frame.
func tick(t *testing.T, s *SyncLayer[uint8, counter], h *host, local uint8, connect []input.ConnectionStatus) {
	t.Helper()
	f := s.CurrentFrame()
	if s.SaveMode() == SaveEveryFrame || f == 0 {
		save, err := s.SaveCurrentState()
		if err != nil {
			t.Fatalf("SaveCurrentState() failed: %v", err)
		}
		h.exec(save)
	}
	if _, err := s.AddLocalInput(0, f, local); err != nil {
		t.Fatalf("AddLocalInput(%v) failed: %v", f, err)
	}
	inputs, err := s.SynchronizedInputs(connect)
	if err != nil {
		t.Fatalf("SynchronizedInputs() failed: %v", err)
	}
	h.exec(AdvanceFrame[uint8]{Frame: f, Inputs: inputs})
	if err := s.AdvanceFrame(); err != nil {
		t.Fatalf("AdvanceFrame() failed: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []Config{
		{NumPlayers: 0, MaxPrediction: 8, QueueLength: 128},
		{NumPlayers: 2, MaxPrediction: 0, QueueLength: 128},
		{NumPlayers: 2, MaxPrediction: 8, QueueLength: 1},
		{NumPlayers: 2, MaxPrediction: 8, QueueLength: 8},
	}
	for _, cfg := range tests {
		if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("Validate(%+v) = %v, want ErrInvalidConfig", cfg, err)
		}
	}
}

func TestAdjustWithoutMispredictionIsNoop(t *testing.T) {
	s, _ := newLayer(t, SaveEveryFrame)
	h := &host{t: t}
	connect := input.NewConnectionStatuses(2)

	for f := range 5 {
		tick(t, s, h, 1, connect)
		if err := s.AddRemoteInput(1, frame.Frame(f), 0); err != nil {
			t.Fatalf("AddRemoteInput(%d) failed: %v", f, err)
		}
	}

	first := s.CheckSimulationConsistency()
	if !first.IsNull() {
		t.Fatalf("CheckSimulationConsistency() = %v, want NULL", first)
	}
	reqs, err := s.AdjustGamestate(first, 4, connect)
	if err != nil {
		t.Fatalf("AdjustGamestate() failed: %v", err)
	}
	if len(reqs) != 0 {
		t.Errorf("AdjustGamestate() = %v, want no requests", Describe(reqs))
	}
}

func TestRollbackToMisprediction(t *testing.T) {
	s, _ := newLayer(t, SaveEveryFrame)
	h := &host{t: t}
	connect := input.NewConnectionStatuses(2)

	if err := s.AddRemoteInput(1, 0, 2); err != nil {
		t.Fatalf("AddRemoteInput(0) failed: %v", err)
	}
	for range 6 {
		tick(t, s, h, 1, connect)
	}
	// Frames 1..5 were predicted as 2. Frame 3 actually was 7.
	for _, in := range []struct {
		f frame.Frame
		v uint8
	}{{1, 2}, {2, 2}, {3, 7}, {4, 7}} {
		if err := s.AddRemoteInput(1, in.f, in.v); err != nil {
			t.Fatalf("AddRemoteInput(%v) failed: %v", in.f, err)
		}
	}

	first := s.CheckSimulationConsistency()
	if first != 3 {
		t.Fatalf("CheckSimulationConsistency() = %v, want 3", first)
	}

	reqs, err := s.AdjustGamestate(first, 4, connect)
	if err != nil {
		t.Fatalf("AdjustGamestate() failed: %v", err)
	}
	want := []string{
		"load(3)",
		"advance(3 1:confirmed 7:confirmed)",
		"save(4)",
		"advance(4 1:confirmed 7:confirmed)",
		"save(5)",
		"advance(5 1:confirmed 7:predicted)",
	}
	if diff := cmp.Diff(want, Describe(reqs)); diff != "" {
		t.Fatalf("AdjustGamestate() requests (-want +got):\n%s", diff)
	}

	h.exec(reqs...)
	if s.CurrentFrame() != 6 {
		t.Errorf("CurrentFrame() = %v, want 6", s.CurrentFrame())
	}
	// Player 0 contributed 6*1, player 1 contributed 2+2+2+7+7+7.
	if h.state.Total != 6+27 {
		t.Errorf("Total = %d, want %d", h.state.Total, 6+27)
	}
	if !s.FirstIncorrectFrame().IsNull() {
		t.Errorf("FirstIncorrectFrame() = %v after rollback, want NULL", s.FirstIncorrectFrame())
	}
}

func TestMispredictionAtCurrentFrameSkipsRollback(t *testing.T) {
	s, _ := newLayer(t, SaveEveryFrame)
	connect := input.NewConnectionStatuses(2)

	// Frame 0 is predicted but never simulated.
	if _, err := s.SynchronizedInputs(connect); err != nil {
		t.Fatalf("SynchronizedInputs() failed: %v", err)
	}
	if err := s.AddRemoteInput(1, 0, 9); err != nil {
		t.Fatalf("AddRemoteInput() failed: %v", err)
	}
	if s.FirstIncorrectFrame() != 0 {
		t.Fatalf("FirstIncorrectFrame() = %v, want 0", s.FirstIncorrectFrame())
	}

	reqs, err := s.AdjustGamestate(0, frame.Null, connect)
	if err != nil {
		t.Fatalf("AdjustGamestate() failed: %v", err)
	}
	if len(reqs) != 0 {
		t.Errorf("AdjustGamestate() = %v, want no requests", Describe(reqs))
	}
	if !s.FirstIncorrectFrame().IsNull() {
		t.Errorf("FirstIncorrectFrame() = %v, want NULL", s.FirstIncorrectFrame())
	}
	if s.CurrentFrame() != 0 {
		t.Errorf("CurrentFrame() = %v, want 0", s.CurrentFrame())
	}
}

func TestSparseRollbackLoadsLastSave(t *testing.T) {
	s, _ := newLayer(t, SaveSparse)
	h := &host{t: t}
	connect := input.NewConnectionStatuses(2)

	if err := s.AddRemoteInput(1, 0, 1); err != nil {
		t.Fatalf("AddRemoteInput(0) failed: %v", err)
	}
	for range 5 {
		tick(t, s, h, 0, connect)
	}
	if s.LastSavedFrame() != 0 {
		t.Fatalf("LastSavedFrame() = %v, want 0", s.LastSavedFrame())
	}

	for f := frame.Frame(1); f <= 3; f++ {
		if err := s.AddRemoteInput(1, f, 3); err != nil {
			t.Fatalf("AddRemoteInput(%v) failed: %v", f, err)
		}
	}
	first := s.CheckSimulationConsistency()
	if first != 1 {
		t.Fatalf("CheckSimulationConsistency() = %v, want 1", first)
	}

	reqs, err := s.AdjustGamestate(first, 3, connect)
	if err != nil {
		t.Fatalf("AdjustGamestate() failed: %v", err)
	}
	got := Describe(reqs)
	if got[0] != "load(0)" {
		t.Fatalf("first request = %q, want load(0)", got[0])
	}
	saves := 0
	advances := 0
	for _, r := range reqs {
		switch r.(type) {
		case SaveGameState[counter]:
			saves++
		case AdvanceFrame[uint8]:
			advances++
		}
	}
	if advances != 5 {
		t.Errorf("advances = %d, want 5", advances)
	}
	if saves != 1 {
		t.Errorf("saves = %d, want 1 (only the confirmed frame)", saves)
	}

	h.exec(reqs...)
	if s.LastSavedFrame() != 3 {
		t.Errorf("LastSavedFrame() = %v, want 3", s.LastSavedFrame())
	}
	// 1 + 3+3+3 + predicted 3 for frame 4
	if h.state.Total != 13 {
		t.Errorf("Total = %d, want 13", h.state.Total)
	}
}

func TestLoadFrameValidation(t *testing.T) {
	s, _ := newLayer(t, SaveEveryFrame)
	h := &host{t: t}
	connect := input.NewConnectionStatuses(2)
	for range 12 {
		tick(t, s, h, 0, connect)
	}

	tests := []struct {
		f      frame.Frame
		reason InvalidFrameReason
	}{
		{frame.Null, ReasonNullFrame},
		{12, ReasonNotInPast},
		{20, ReasonNotInPast},
		{2, ReasonOutsidePredictionWindow},
	}
	for _, tt := range tests {
		_, err := s.LoadFrame(tt.f)
		var ife *InvalidFrameError
		if !errors.As(err, &ife) {
			t.Fatalf("LoadFrame(%v) error = %v, want *InvalidFrameError", tt.f, err)
		}
		if ife.Reason != tt.reason {
			t.Errorf("LoadFrame(%v) reason = %v, want %v", tt.f, ife.Reason, tt.reason)
		}
		if !errors.Is(err, ErrInvalidFrame) {
			t.Errorf("LoadFrame(%v) error should match ErrInvalidFrame", tt.f)
		}
	}
	if s.CurrentFrame() != 12 {
		t.Errorf("failed loads must not move the frame, got %v", s.CurrentFrame())
	}
}

func TestLoadFrameWrongSavedFrame(t *testing.T) {
	s, obs := newLayer(t, SaveSparse)
	h := &host{t: t}
	connect := input.NewConnectionStatuses(2)
	for range 4 {
		tick(t, s, h, 0, connect)
	}

	// Only frame 0 was saved in sparse mode.
	_, err := s.LoadFrame(2)
	var ife *InvalidFrameError
	if !errors.As(err, &ife) || ife.Reason != ReasonWrongSavedFrame {
		t.Fatalf("LoadFrame(2) error = %v, want wrong saved frame", err)
	}
	if obs.Count(telemetry.KindStateManagement) != 1 {
		t.Errorf("expected a state management violation")
	}
}

func TestAddLocalInputWrongFrame(t *testing.T) {
	s, _ := newLayer(t, SaveEveryFrame)
	if _, err := s.AddLocalInput(0, 3, 1); !errors.Is(err, ErrNotAtCurrentFrame) {
		t.Errorf("AddLocalInput(3) error = %v, want ErrNotAtCurrentFrame", err)
	}
	if _, err := s.AddLocalInput(5, 0, 1); !errors.Is(err, ErrInvalidPlayer) {
		t.Errorf("AddLocalInput(player 5) error = %v, want ErrInvalidPlayer", err)
	}
}

func TestSynchronizedInputsDisconnected(t *testing.T) {
	s, _ := newLayer(t, SaveEveryFrame)
	h := &host{t: t}
	connect := input.NewConnectionStatuses(2)
	tick(t, s, h, 1, connect)

	connect[1] = input.ConnectionStatus{Disconnected: true, LastFrame: 0}
	inputs, err := s.SynchronizedInputs(connect)
	if err != nil {
		t.Fatalf("SynchronizedInputs() failed: %v", err)
	}
	if inputs[1].Status != input.StatusDisconnected || inputs[1].Value != 0 {
		t.Errorf("player 1 input = %+v, want blank disconnected", inputs[1])
	}
	if inputs[0].Status != input.StatusPredicted {
		t.Errorf("player 0 input = %+v, want predicted", inputs[0])
	}
}

func TestSetLastConfirmedFrameClamps(t *testing.T) {
	s, _ := newLayer(t, SaveEveryFrame)
	h := &host{t: t}
	connect := input.NewConnectionStatuses(2)
	for range 5 {
		tick(t, s, h, 0, connect)
	}

	s.SetLastConfirmedFrame(50)
	if s.LastConfirmedFrame() != 5 {
		t.Errorf("LastConfirmedFrame() = %v, want clamp to current 5", s.LastConfirmedFrame())
	}

	// A pending misprediction at frame 2 holds the confirmed frame back.
	s.AddRemoteInput(1, 0, 0)
	s.AddRemoteInput(1, 1, 0)
	s.AddRemoteInput(1, 2, 4)
	s.SetLastConfirmedFrame(2)
	if s.LastConfirmedFrame() != 1 {
		t.Errorf("LastConfirmedFrame() = %v, want 1", s.LastConfirmedFrame())
	}

	s.SetLastConfirmedFrame(frame.Null)
	if !s.LastConfirmedFrame().IsNull() {
		t.Errorf("LastConfirmedFrame() = %v, want NULL", s.LastConfirmedFrame())
	}
}

func TestConfirmedInputs(t *testing.T) {
	s, _ := newLayer(t, SaveEveryFrame)
	h := &host{t: t}
	connect := input.NewConnectionStatuses(2)
	tick(t, s, h, 5, connect)

	if _, err := s.ConfirmedInputs(0, connect); !errors.Is(err, input.ErrInputNotConfirmed) {
		t.Fatalf("ConfirmedInputs() error = %v, want ErrInputNotConfirmed", err)
	}
	s.AddRemoteInput(1, 0, 6)
	got, err := s.ConfirmedInputs(0, connect)
	if err != nil {
		t.Fatalf("ConfirmedInputs() failed: %v", err)
	}
	want := []input.PlayerInput[uint8]{
		{Value: 5, Status: input.StatusConfirmed},
		{Value: 6, Status: input.StatusConfirmed},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ConfirmedInputs() (-want +got):\n%s", diff)
	}
}

func TestSaveModeText(t *testing.T) {
	for _, mode := range []SaveMode{SaveEveryFrame, SaveSparse} {
		text, err := mode.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText(%v) failed: %v", mode, err)
		}
		var got SaveMode
		if err := got.UnmarshalText(text); err != nil || got != mode {
			t.Errorf("UnmarshalText(%q) = %v, %v, want %v", text, got, err, mode)
		}
	}
	var m SaveMode
	if err := m.UnmarshalText([]byte("sometimes")); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("UnmarshalText(sometimes) error = %v, want ErrInvalidConfig", err)
	}
}
