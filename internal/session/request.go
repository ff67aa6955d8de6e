package session

import "github.com/vovakirdan/netplay/internal/synclayer"

// Request is work the host must do, in order, before calling the session
// again.
type Request = synclayer.Request

// SaveGameState asks the host to save its state and checksum into Cell.
type SaveGameState[S any] = synclayer.SaveGameState[S]

// LoadGameState asks the host to restore the state held in Cell.
type LoadGameState[S any] = synclayer.LoadGameState[S]

// AdvanceFrame asks the host to simulate one frame with Inputs.
type AdvanceFrame[I any] = synclayer.AdvanceFrame[I]

// SaveMode re-exports the sync layer's save modes for configuration.
type SaveMode = synclayer.SaveMode

const (
	SaveEveryFrame = synclayer.SaveEveryFrame
	SaveSparse     = synclayer.SaveSparse
)
