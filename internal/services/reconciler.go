package services

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultReconcileInterval is how often cached unread counters are rewritten
	// from the authoritative message count.
	DefaultReconcileInterval = 10 * time.Minute
	// reconcileScanLimit bounds one pass to the most recently active conversations.
	reconcileScanLimit = 200
)

// RecentConversationSource lists conversations with activity after a point in time
type RecentConversationSource interface {
	RecentlyActiveConversationIDs(since time.Time, limit int) ([]uuid.UUID, error)
}

// UnreadRewriter rewrites a conversation's cached unread counters from the
// authoritative count
type UnreadRewriter interface {
	ReconcileUnread(conversationID uuid.UUID) error
}

// UnreadReconciler periodically rewrites the cached per-participant unread
// counters for recently active conversations. The counters are bumped
// incrementally on the send path as an optimization; this pass re-derives them
// from the receipts so drift (a message deleted after sending, a missed bump)
// cannot accumulate for users who never acknowledge reads.
type UnreadReconciler struct {
	conversations RecentConversationSource
	receipts      UnreadRewriter
	interval      time.Duration

	stop chan struct{}
	done chan struct{}
}

// NewUnreadReconciler creates a reconciler. interval <= 0 selects the default.
func NewUnreadReconciler(conversations RecentConversationSource, receipts UnreadRewriter, interval time.Duration) *UnreadReconciler {
	if interval <= 0 {
		interval = DefaultReconcileInterval
	}
	return &UnreadReconciler{
		conversations: conversations,
		receipts:      receipts,
		interval:      interval,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Run performs one reconciliation pass over conversations active within the
// last two intervals and returns how many were rewritten. A failure on one
// conversation never aborts the rest of the pass.
func (r *UnreadReconciler) Run() int {
	since := time.Now().Add(-2 * r.interval)
	conversationIDs, err := r.conversations.RecentlyActiveConversationIDs(since, reconcileScanLimit)
	if err != nil {
		log.Error().Err(err).Msg("unread reconcile pass skipped")
		return 0
	}

	reconciled := 0
	for _, conversationID := range conversationIDs {
		if err := r.receipts.ReconcileUnread(conversationID); err != nil {
			log.Warn().Err(err).Str("conversation_id", conversationID.String()).
				Msg("unread reconcile failed")
			continue
		}
		reconciled++
	}
	return reconciled
}

// Start launches the periodic reconciliation task
func (r *UnreadReconciler) Start() {
	go func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		defer close(r.done)

		for {
			select {
			case <-r.stop:
				return
			case <-ticker.C:
				if n := r.Run(); n > 0 {
					log.Debug().Int("conversations", n).Msg("unread counters reconciled")
				}
			}
		}
	}()
}

// Stop terminates the reconciliation task and waits for it to exit.
func (r *UnreadReconciler) Stop() {
	close(r.stop)
	<-r.done
}
