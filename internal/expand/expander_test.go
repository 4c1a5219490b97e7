package expand

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient returns canned completions or an error.
type fakeClient struct {
	response string
	err      error
	delay    time.Duration
	calls    int
}

func (f *fakeClient) Complete(ctx context.Context, _ string) (string, error) {
	f.calls++
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.response, f.err
}

func TestExpand_HashtagHierarchy(t *testing.T) {
	e := NewExpander(nil, 0)

	exp := e.Expand(context.Background(), "#Project/Alpha update")

	// Every level of the tag hierarchy becomes a recall term.
	assert.Contains(t, exp.ExpandedTerms, "#project/alpha")
	assert.Contains(t, exp.ExpandedTerms, "project/alpha")
	assert.Contains(t, exp.ExpandedTerms, "project")
	assert.Contains(t, exp.ExpandedTerms, "alpha")
}

func TestExpand_WithoutClientUsesHeuristics(t *testing.T) {
	e := NewExpander(nil, 0)

	exp := e.Expand(context.Background(), "how to configure the backup schedule")

	assert.Equal(t, "how to configure the backup schedule", exp.OriginalQuery)
	require.NotEmpty(t, exp.Queries)
	assert.Equal(t, exp.OriginalQuery, exp.Queries[0])
	assert.Contains(t, exp.SalientTerms, "configure")
	assert.Contains(t, exp.SalientTerms, "backup")
	assert.Contains(t, exp.SalientTerms, "schedule")
	assert.NotContains(t, exp.SalientTerms, "how")
	assert.NotContains(t, exp.SalientTerms, "the")
}

func TestExpand_SalientTermsLongestFirst(t *testing.T) {
	e := NewExpander(nil, 0)

	exp := e.Expand(context.Background(), "db configuration")

	require.Len(t, exp.SalientTerms, 2)
	assert.Equal(t, "configuration", exp.SalientTerms[0])
	assert.Equal(t, "db", exp.SalientTerms[1])
}

func TestExpand_EmptyQuery(t *testing.T) {
	e := NewExpander(nil, 0)

	exp := e.Expand(context.Background(), "   ")

	assert.Equal(t, "", exp.OriginalQuery)
	assert.Empty(t, exp.ExpandedTerms)
	assert.Empty(t, exp.SalientTerms)
}

func TestExpand_LLMParsingAndMerge(t *testing.T) {
	client := &fakeClient{response: "backup schedule configuration\n" +
		"- how backups are scheduled\n" +
		"TERMS: backup, schedule, cron"}
	e := NewExpander(client, time.Second)

	exp := e.Expand(context.Background(), "backup schedule")

	assert.Equal(t, "backup schedule", exp.Queries[0])
	assert.Contains(t, exp.Queries, "backup schedule configuration")
	assert.Contains(t, exp.Queries, "how backups are scheduled")
	assert.Contains(t, exp.SalientTerms, "cron")
}

func TestExpand_LLMFailureFallsBack(t *testing.T) {
	client := &fakeClient{err: errors.New("model unavailable")}
	e := NewExpander(client, time.Second)

	exp := e.Expand(context.Background(), "meeting notes")

	// Never fails: heuristic expansion survives the LLM error.
	assert.Equal(t, []string{"meeting notes"}, exp.Queries)
	assert.Contains(t, exp.SalientTerms, "meeting")
}

func TestExpand_LLMTimeoutFallsBack(t *testing.T) {
	client := &fakeClient{response: "never arrives", delay: 200 * time.Millisecond}
	e := NewExpander(client, 10*time.Millisecond)

	exp := e.Expand(context.Background(), "slow query")

	assert.Equal(t, []string{"slow query"}, exp.Queries)
}

func TestHyDE_NoClient(t *testing.T) {
	e := NewExpander(nil, 0)

	_, ok := e.HyDE(context.Background(), "anything")

	assert.False(t, ok)
}

func TestHyDE_ReturnsPassage(t *testing.T) {
	client := &fakeClient{response: "  A hypothetical note about backups.  "}
	e := NewExpander(client, time.Second)

	passage, ok := e.HyDE(context.Background(), "how do backups work")

	require.True(t, ok)
	assert.Equal(t, "A hypothetical note about backups.", passage)
}

func TestExpandHashtags_Deduplicates(t *testing.T) {
	terms := expandHashtags("#go and #Go again")

	assert.Equal(t, []string{"#go", "go"}, terms)
}
