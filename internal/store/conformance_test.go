package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exerciseStore runs the behaviour every backend shares. Keys are placed under ns so
// live backends can be shared between runs.
func exerciseStore(t *testing.T, s Store, ns string) {
	ctx := context.Background()
	userKey := func(id string) string { return ns + "user:" + id }

	t.Run("get missing", func(t *testing.T) {
		document, found, err := s.Get(ctx, userKey("absent"))
		require.NoError(t, err)
		assert.False(t, found)
		assert.Nil(t, document)
	})

	t.Run("set whole then get", func(t *testing.T) {
		require.NoError(t, s.SetWhole(ctx, userKey("1"), []byte(`{"discord_id":"1","offences":[]}`)))
		document, found, err := s.Get(ctx, userKey("1"))
		require.NoError(t, err)
		require.True(t, found)
		assert.JSONEq(t, `{"discord_id":"1","offences":[]}`, string(document))

		require.NoError(t, s.SetWhole(ctx, userKey("1"), []byte(`{"discord_id":"1","username":"Al","offences":[]}`)))
		document, _, err = s.Get(ctx, userKey("1"))
		require.NoError(t, err)
		assert.JSONEq(t, `{"discord_id":"1","username":"Al","offences":[]}`, string(document))
	})

	t.Run("append to array", func(t *testing.T) {
		require.NoError(t, s.SetWhole(ctx, userKey("2"), []byte(`{"discord_id":"2","offences":[{"guild_id":"g","reason":"a"}]}`)))
		require.NoError(t, s.AppendToArray(ctx, userKey("2"), "offences", []byte(`{"guild_id":"g","reason":"b"}`)))
		document, _, err := s.Get(ctx, userKey("2"))
		require.NoError(t, err)
		assert.JSONEq(t, `{"discord_id":"2","offences":[{"guild_id":"g","reason":"a"},{"guild_id":"g","reason":"b"}]}`, string(document))
	})

	t.Run("append to missing document", func(t *testing.T) {
		err := s.AppendToArray(ctx, userKey("nobody"), "offences", []byte(`{"guild_id":"g","reason":"x"}`))
		assert.ErrorIs(t, err, ErrNoDocument)
		_, found, err := s.Get(ctx, userKey("nobody"))
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("append to a field that is not an array", func(t *testing.T) {
		broken := `{"discord_id":"5","username":"Al","offences":"broken"}`
		require.NoError(t, s.SetWhole(ctx, userKey("5"), []byte(broken)))
		err := s.AppendToArray(ctx, userKey("5"), "offences", []byte(`{"guild_id":"g","reason":"x"}`))
		assert.ErrorIs(t, err, ErrNotArray)
		assert.NotErrorIs(t, err, ErrNoDocument)

		results, err := s.Batch(ctx, []Operation{Append(userKey("5"), "offences", []byte(`{"guild_id":"g","reason":"y"}`))}, false)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.ErrorIs(t, results[0].Err, ErrNotArray)

		document, _, err := s.Get(ctx, userKey("5"))
		require.NoError(t, err)
		assert.JSONEq(t, broken, string(document))
	})

	t.Run("rejects bad input", func(t *testing.T) {
		assert.ErrorIs(t, s.SetWhole(ctx, userKey("bad"), []byte(`{"discord_id":`)), ErrInvalidDocument)
		assert.ErrorIs(t, s.AppendToArray(ctx, userKey("2"), "offences[0]", []byte(`{}`)), ErrInvalidField)
		_, err := s.Batch(ctx, []Operation{Append(userKey("2"), "$", []byte(`{}`))}, true)
		assert.ErrorIs(t, err, ErrInvalidField)
	})

	t.Run("batch keeps submission order", func(t *testing.T) {
		results, err := s.Batch(ctx, []Operation{
			SetWhole(userKey("3"), []byte(`{"discord_id":"3","offences":[]}`)),
			SetWhole(userKey("4"), []byte(`{"discord_id":"4","offences":[]}`)),
		}, true)
		require.NoError(t, err)
		require.Len(t, results, 2)

		results, err = s.Batch(ctx, []Operation{Get(userKey("4")), Get(userKey("missing")), Get(userKey("3"))}, true)
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.True(t, results[0].Found)
		assert.JSONEq(t, `{"discord_id":"4","offences":[]}`, string(results[0].Document))
		assert.False(t, results[1].Found)
		assert.True(t, results[2].Found)
		assert.JSONEq(t, `{"discord_id":"3","offences":[]}`, string(results[2].Document))
	})

	t.Run("empty batch", func(t *testing.T) {
		results, err := s.Batch(ctx, nil, true)
		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("list keys by prefix", func(t *testing.T) {
		for _, key := range []string{ns + "a_b:1", ns + "axb:1", ns + "guild-settings:g"} {
			require.NoError(t, s.SetWhole(ctx, key, []byte(`{}`)))
		}
		keys, err := s.ListKeys(ctx, ns+"user:")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{userKey("1"), userKey("2"), userKey("3"), userKey("4")}, keys)

		keys, err = s.ListKeys(ctx, ns+"a_b")
		require.NoError(t, err)
		assert.Equal(t, []string{ns + "a_b:1"}, keys)

		keys, err = s.ListKeys(ctx, ns+"a_b:")
		require.NoError(t, err)
		assert.Equal(t, []string{ns + "a_b:1"}, keys)
	})

	t.Run("sets", func(t *testing.T) {
		setKey := ns + "kick-whitelist"
		added, err := s.SetAdd(ctx, setKey, "7")
		require.NoError(t, err)
		assert.True(t, added)
		added, err = s.SetAdd(ctx, setKey, "7")
		require.NoError(t, err)
		assert.False(t, added)
		_, err = s.SetAdd(ctx, setKey, "8")
		require.NoError(t, err)

		members, err := s.SetMembers(ctx, setKey)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"7", "8"}, members)

		members, err = s.SetMembers(ctx, ns+"authed-users:none")
		require.NoError(t, err)
		assert.Empty(t, members)
	})
}
