package domain

import "time"

// DPoPProof is one consumed proof jti in the replay cache. Rows live in the
// store so replay detection holds across processes; they are garbage
// collected once ExpiresAt passes, which is the proof acceptance window
// plus slack.
type DPoPProof struct {
	JTI       string
	JKT       string
	SeenAt    time.Time
	ExpiresAt time.Time
}
