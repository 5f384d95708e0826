package mention

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildIndexDeduplicates(t *testing.T) {
	body := "Hello [Ann](mention:user:42) and [Ann](mention:user:42) again"
	index := BuildIndex(body)

	require.Len(t, index, 1)
	assert.Equal(t, EntityUser, index[0].Type)
	assert.Equal(t, "42", index[0].ID)
	assert.Equal(t, 2, index[0].Count)
}

func TestBuildIndexOrderAndTypes(t *testing.T) {
	body := "ping [support bot](mention:agent:bot-1), " +
		"[search](mention:tool:web.search) and [Ann](mention:user:42), " +
		"then [bot](mention:agent:bot-1) once more"

	index := BuildIndex(body)
	require.Len(t, index, 3)

	// Ordered by first appearance, duplicate collapsed onto the first.
	assert.Equal(t, "agent:bot-1", index[0].Key())
	assert.Equal(t, 2, index[0].Count)
	assert.Equal(t, "tool:web.search", index[1].Key())
	assert.Equal(t, "user:42", index[2].Key())
}

func TestBuildIndexIgnoresMalformedTokens(t *testing.T) {
	cases := []string{
		"no mentions here",
		"[Ann](mention:admin:42)",           // unknown type
		"[Ann](mention:user:)",              // empty id
		"[](mention:user:42)",               // empty label
		"[Ann](mention:user:bad id)",        // space in id
		"[Ann](mention:user:" + strings.Repeat("x", 65) + ")", // id too long
		"(mention:user:42)",                 // no label part
	}
	for _, body := range cases {
		assert.Nil(t, BuildIndex(body), "body: %s", body)
	}
}

func TestBuildIndexSameIDDifferentType(t *testing.T) {
	body := "[a](mention:user:1) [b](mention:agent:1)"
	index := BuildIndex(body)

	require.Len(t, index, 2)
	assert.Equal(t, "user:1", index[0].Key())
	assert.Equal(t, "agent:1", index[1].Key())
}

func TestDiff(t *testing.T) {
	oldIndex := []IndexItem{{Type: EntityUser, ID: "1", Count: 1}}
	newIndex := []IndexItem{
		{Type: EntityUser, ID: "1", Count: 1},
		{Type: EntityAgent, ID: "2", Count: 1},
	}

	added, removed := Diff(oldIndex, newIndex)
	assert.Equal(t, []string{"agent:2"}, added)
	assert.Empty(t, removed)

	added, removed = Diff(oldIndex, nil)
	assert.Empty(t, added)
	assert.Equal(t, []string{"user:1"}, removed)
}

func TestDiffIgnoresCounts(t *testing.T) {
	oldIndex := []IndexItem{{Type: EntityUser, ID: "1", Count: 1}}
	newIndex := []IndexItem{{Type: EntityUser, ID: "1", Count: 5}}

	added, removed := Diff(oldIndex, newIndex)
	assert.Empty(t, added)
	assert.Empty(t, removed)
}

func TestTokenRoundTrip(t *testing.T) {
	token, err := Token(EntityUser, "42", "Ann")
	require.NoError(t, err)
	assert.Equal(t, "[Ann](mention:user:42)", token)

	index := BuildIndex(token)
	require.Len(t, index, 1)
	assert.Equal(t, "user:42", index[0].Key())
}

func TestTokenSanitizesLabel(t *testing.T) {
	token, err := Token(EntityAgent, "bot-1", "bad]\nlabel[here")
	require.NoError(t, err)

	index := BuildIndex(token)
	require.Len(t, index, 1)
	assert.Equal(t, "agent:bot-1", index[0].Key())

	long, err := Token(EntityUser, "1", strings.Repeat("a", 200))
	require.NoError(t, err)
	index = BuildIndex(long)
	require.Len(t, index, 1, "over-long label must be truncated to stay parseable")

	// Empty-after-sanitization labels fall back to the id.
	empty, err := Token(EntityUser, "77", "[]")
	require.NoError(t, err)
	assert.Equal(t, "[77](mention:user:77)", empty)
}

func TestTokenRejectsInvalidInput(t *testing.T) {
	_, err := Token(EntityType("admin"), "42", "x")
	assert.Error(t, err)

	_, err = Token(EntityUser, "has space", "x")
	assert.Error(t, err)

	_, err = Token(EntityUser, "", "x")
	assert.Error(t, err)
}
