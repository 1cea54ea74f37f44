package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/csvsink/internal/ingest"
	"github.com/JonMunkholm/csvsink/internal/notify"
)

func TestBuildMessage(t *testing.T) {
	t.Run("stdin", func(t *testing.T) {
		msg, err := buildMessage(strings.NewReader(`{"Records":[]}`), "-", "", "")
		require.NoError(t, err)
		assert.Equal(t, "stdin", msg.ID)
		assert.Equal(t, `{"Records":[]}`, string(msg.Body))
	})

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "event.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"Records":[]}`), 0o644))

		msg, err := buildMessage(nil, path, "", "")
		require.NoError(t, err)
		assert.Equal(t, "event.json", msg.ID)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := buildMessage(nil, filepath.Join(t.TempDir(), "nope.json"), "", "")
		assert.Error(t, err)
	})

	t.Run("bucket and key", func(t *testing.T) {
		msg, err := buildMessage(nil, "", "uploads", "a b.csv")
		require.NoError(t, err)

		env, err := notify.Parse(msg.Body)
		require.NoError(t, err)
		assert.Equal(t, []ingest.ObjectRef{{Bucket: "uploads", Key: "a+b.csv"}}, env.Refs)
	})

	t.Run("nothing", func(t *testing.T) {
		_, err := buildMessage(nil, "", "", "")
		assert.Error(t, err)
	})
}

func TestRootCmd_HasCommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"lambda", "serve", "run", "watch"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}
}

func TestRunCmd_FlagRules(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"run", "--file", "x.json", "--bucket", "b", "--key", "k"})
	root.SetOut(&strings.Builder{})
	root.SetErr(&strings.Builder{})
	assert.Error(t, root.Execute())
}
