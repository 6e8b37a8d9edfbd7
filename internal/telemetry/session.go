package telemetry

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		modalOpens,
		queriesSubmitted,
		searchQueriesSubmitted,
		streamSegments,
		streamSources,
		messagesCommitted,
		feedbackPrompts,
	)
}

var (
	modalOpens = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "assistant_modal_opens_total",
			Help: "Transitions from a closed-class view to an open-class view.",
		},
	)

	queriesSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_queries_submitted_total",
			Help: "Query submissions by outcome (accepted or skip reason).",
		},
		[]string{"status"},
	)

	searchQueriesSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_search_queries_submitted_total",
			Help: "Search query submissions by outcome.",
		},
		[]string{"status"},
	)

	streamSegments = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "assistant_stream_segments_total",
			Help: "Streamed answer text segments applied to the message buffer.",
		},
	)

	streamSources = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "assistant_stream_sources_total",
			Help: "Streamed answer sources applied to the message buffer.",
		},
	)

	messagesCommitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "assistant_messages_committed_total",
			Help: "Assistant messages committed to a thread at generation end.",
		},
	)

	feedbackPrompts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "assistant_feedback_prompts_total",
			Help: "System feedback prompts injected after user inactivity.",
		},
	)
)

func ModalOpened()                 { modalOpens.Inc() }
func QuerySubmitted(status string) { queriesSubmitted.WithLabelValues(status).Inc() }
func SearchQuerySubmitted(status string) {
	searchQueriesSubmitted.WithLabelValues(status).Inc()
}
func SegmentReceived()  { streamSegments.Inc() }
func SourceReceived()   { streamSources.Inc() }
func MessageCommitted() { messagesCommitted.Inc() }
func FeedbackPrompted() { feedbackPrompts.Inc() }
