package scheduler

import "time"

// Kind identifies what a queued request asks the provider for.
type Kind string

const (
	// KindFetchAthlete lists an athlete's activities after a timestamp.
	KindFetchAthlete Kind = "fetch_athlete"
	// KindFetchActivity fetches one activity's full detail.
	KindFetchActivity Kind = "fetch_activity"
	// KindRefreshToken refreshes a user's access token ahead of expiry.
	KindRefreshToken Kind = "refresh_token"
)

// Priority tiers; 1 is highest. Retries demote a request one tier per
// attempt, never past priorityFloor.
const (
	PriorityHigh   = 1
	PriorityNormal = 2
	PriorityLow    = 3

	priorityFloor = 5
)

// Request is one queued upstream call. It lives only in memory for the
// duration of processing; ordering is priority first, FIFO within a tier.
type Request struct {
	ID         string
	UserID     string
	Kind       Kind
	ActivityID int64
	After      time.Time
	Page       int
	PerPage    int
	Priority   int
	EnqueuedAt time.Time
	RetryCount int

	seq    uint64
	result chan Result
}

// Result is delivered to the waiter once the request reaches a final
// outcome.
type Result struct {
	Payload []byte
	Err     error
}

// requestHeap orders requests by priority tier, then enqueue sequence.
type requestHeap []*Request

func (h requestHeap) Len() int { return len(h) }

func (h requestHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h requestHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *requestHeap) Push(x any) { *h = append(*h, x.(*Request)) }

func (h *requestHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
