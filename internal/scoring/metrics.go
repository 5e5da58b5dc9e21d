package scoring

// Metric names a countable engagement signal. Values double as the counter
// column names on the aggregate row and as the stat keys the forum service
// reports, so they travel unchanged from the wire to the database.
type Metric string

const (
	MetricThreads           Metric = "num_threads"
	MetricComments          Metric = "num_comments"
	MetricReplies           Metric = "num_replies"
	MetricUpvotes           Metric = "num_upvotes"
	MetricDownvotes         Metric = "num_downvotes"
	MetricThreadFollowers   Metric = "num_thread_followers"
	MetricCommentsGenerated Metric = "num_comments_generated"
	MetricThreadsRead       Metric = "num_threads_read"
	MetricFlagged           Metric = "num_flagged"
)

// Direction signs a delta.
type Direction int

const (
	Increment Direction = 1
	Decrement Direction = -1
)
