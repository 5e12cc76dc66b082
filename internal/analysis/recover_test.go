package analysis

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecoverStripsSurroundingProse(t *testing.T) {
	t.Parallel()

	raw := "Here is the JSON:\n{\"summary\":\"A bakery\",\"keywords\":[{\"keyword\":\"bread\",\"rank\":1}]}\nHope this helps!"
	fields, err := Recover(raw)
	require.NoError(t, err)
	assert.Equal(t, "A bakery", fields["summary"])

	keywords, ok := fields["keywords"].([]any)
	require.True(t, ok)
	require.Len(t, keywords, 1)
	first, ok := keywords[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "bread", first["keyword"])
	assert.Equal(t, json.Number("1"), first["rank"])
}

func TestRecoverHandlesCodeFences(t *testing.T) {
	t.Parallel()

	fields, err := Recover("```json\n{\"sentiment\": \"positive\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, "positive", fields["sentiment"])
}

func TestRecoverWithoutBracesFails(t *testing.T) {
	t.Parallel()

	_, err := Recover("I'm sorry, I can't help with that.")
	var recErr *RecoveryError
	require.ErrorAs(t, err, &recErr)
	assert.Equal(t, "I'm sorry, I can't help with that.", recErr.Excerpt)
	assert.Equal(t, "failed to parse AI response as JSON: I'm sorry, I can't help with that.", err.Error())
	assert.True(t, errors.Is(err, errNoObject))
}

func TestRecoverClosingBeforeOpeningFails(t *testing.T) {
	t.Parallel()

	_, err := Recover("} nothing here {")
	var recErr *RecoveryError
	require.ErrorAs(t, err, &recErr)
}

func TestRecoverTwoObjectsFails(t *testing.T) {
	t.Parallel()

	_, err := Recover(`{"a":1} and also {"b":2}`)
	var recErr *RecoveryError
	require.ErrorAs(t, err, &recErr)
}

func TestRecoverMalformedObjectFails(t *testing.T) {
	t.Parallel()

	_, err := Recover(`{"summary": "unterminated}`)
	var recErr *RecoveryError
	require.ErrorAs(t, err, &recErr)
	require.Error(t, recErr.Unwrap())
}

func TestRecoverExcerptIsCappedInRunes(t *testing.T) {
	t.Parallel()

	raw := strings.Repeat("é", 400)
	_, err := Recover(raw)
	var recErr *RecoveryError
	require.ErrorAs(t, err, &recErr)
	assert.Equal(t, 150, len([]rune(recErr.Excerpt)))
	assert.Equal(t, strings.Repeat("é", 150), recErr.Excerpt)
}

func TestRecoverRejectsTrailingClosers(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{`{"a":1}}`, `{"a":1}]}`, `{"a":1} ]}`} {
		_, err := Recover(raw)
		var recErr *RecoveryError
		require.ErrorAs(t, err, &recErr, raw)
		require.Error(t, recErr.Unwrap(), raw)
	}
}

func TestRecoverKeepsBracesInsideStrings(t *testing.T) {
	t.Parallel()

	fields, err := Recover(`note: {"summary":"use {braces} and } here"} bye`)
	require.NoError(t, err)
	assert.Equal(t, "use {braces} and } here", fields["summary"])
}
