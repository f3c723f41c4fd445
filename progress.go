package ftp

import "time"

// ProgressFunc receives transfer snapshots. It runs on the transfer's
// goroutine, so it should return quickly.
type ProgressFunc func(TransferInfo)

// Percent returns the completed share in the range 0-100, or -1 when the
// size is unknown.
func (t TransferInfo) Percent() float64 {
	if t.Size < 0 {
		return -1
	}
	if t.Size == 0 {
		return 100
	}
	return float64(t.Transferred) * 100 / float64(t.Size)
}

// Elapsed returns how long the transfer has run, up to End once it ended.
func (t TransferInfo) Elapsed() time.Duration {
	if t.Start.IsZero() {
		return 0
	}
	end := t.End
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(t.Start)
}

// Rate returns the average throughput in bytes per second.
func (t TransferInfo) Rate() float64 {
	elapsed := t.Elapsed().Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(t.Transferred) / elapsed
}
