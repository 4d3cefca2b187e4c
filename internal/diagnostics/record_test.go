package diagnostics

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRecord(t *testing.T) {
	tl := NewTimeline()
	tl.Mark("navigated")
	tl.Mark("classified")

	bundle := SignalBundle{
		StatusCode: IntPtr(403),
		RequestURL: "https://shop.example.com/item/1",
		RequestID:  StringPtr("req-9"),
	}
	res := NewClassifier(ClassifierOptions{}).Classify(bundle)
	early := NewEarlyChallengeDetector(nil).Detect(context.Background(), &fakeProbe{title: "ok"})

	rec := NewRecord(RecordInput{
		Bundle:   bundle,
		Result:   res,
		Timeline: tl,
		Early:    &early,
		Payload: Payload{
			Headers: map[string]string{"Authorization": "Bearer x"},
			HTML:    strings.Repeat("<p>", 500),
		},
	}, NewSanitizer(SanitizeOptions{MaxHTMLLength: 30}))

	_, err := uuid.Parse(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "req-9", rec.RequestID)
	assert.Equal(t, "https://shop.example.com/item/1", rec.RequestURL)
	assert.Equal(t, TypeBlocked, rec.Result.Type)
	assert.Len(t, rec.Timeline, 2)
	require.NotNil(t, rec.Early)
	assert.Equal(t, EarlyTypeNone, rec.Early.Type)
	assert.Equal(t, RedactedMarker, rec.Payload.Headers["Authorization"])
	assert.Equal(t, strings.Repeat("<p>", 10)+TruncationMarker, rec.Payload.HTML)
	assert.Equal(t, time.UTC, rec.CreatedAt.Location())
}

func TestNewRecord_Defaults(t *testing.T) {
	a := NewRecord(RecordInput{}, nil)
	b := NewRecord(RecordInput{}, nil)

	assert.NotEqual(t, a.ID, b.ID)
	assert.Empty(t, a.RequestID)
	assert.Nil(t, a.Timeline)

	raw, err := json.Marshal(a)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), `{"id":"`+a.ID+`"`), "id leads the encoded record")
}
