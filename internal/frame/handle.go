package frame

import "fmt"

// PlayerHandle addresses a participant. Handles below the configured player
// count are players; anything at or above it is a spectator.
type PlayerHandle int

// IsPlayerFor reports whether h is an active player handle for numPlayers.
func (h PlayerHandle) IsPlayerFor(numPlayers int) bool {
	return h >= 0 && int(h) < numPlayers
}

// IsSpectatorFor reports whether h is a spectator handle for numPlayers.
func (h PlayerHandle) IsSpectatorFor(numPlayers int) bool {
	return int(h) >= numPlayers
}

// Validate returns ErrInvalidHandle for negative handles or a non-positive player count.
func (h PlayerHandle) Validate(numPlayers int) error {
	if h < 0 || numPlayers <= 0 {
		return fmt.Errorf("%w: %d (players: %d)", ErrInvalidHandle, h, numPlayers)
	}
	return nil
}

// ValidatePlayer is Validate plus a check that h is not a spectator.
func (h PlayerHandle) ValidatePlayer(numPlayers int) error {
	if err := h.Validate(numPlayers); err != nil {
		return err
	}
	if !h.IsPlayerFor(numPlayers) {
		return fmt.Errorf("%w: %d is not a player handle (players: %d)", ErrInvalidHandle, h, numPlayers)
	}
	return nil
}

// ValidateSpectator is Validate plus a check that h is a spectator.
func (h PlayerHandle) ValidateSpectator(numPlayers int) error {
	if err := h.Validate(numPlayers); err != nil {
		return err
	}
	if !h.IsSpectatorFor(numPlayers) {
		return fmt.Errorf("%w: %d is not a spectator handle (players: %d)", ErrInvalidHandle, h, numPlayers)
	}
	return nil
}
