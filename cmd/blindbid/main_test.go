package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	mware "github.com/sudo-init-do/blindbid/internal/middleware"
)

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ExitErrHandler = func(*cli.Context, error) {}
	err := app.Run(append([]string{"blindbid"}, args...))
	return out.String(), err
}

func field(out, name string) string {
	for _, line := range strings.Split(out, "\n") {
		if v, ok := strings.CutPrefix(line, name+":"); ok {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func TestCommitThenVerify(t *testing.T) {
	out, err := runApp(t, "commit", "--amount", "1000", "--secret", "s3cret")
	require.NoError(t, err)
	digest := field(out, "commitment")
	require.True(t, strings.HasPrefix(digest, "0x"))
	assert.Len(t, digest, 66)

	out, err = runApp(t, "verify", "--commitment", digest, "--amount", "1000", "--secret", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "ok\n", out)

	_, err = runApp(t, "verify", "--commitment", digest, "--amount", "1001", "--secret", "s3cret")
	assert.Error(t, err)
}

func TestCommitGeneratesSecret(t *testing.T) {
	out, err := runApp(t, "commit", "--amount", "5")
	require.NoError(t, err)
	assert.Len(t, field(out, "secret"), 32)
}

func TestCommitRejectsBadAmount(t *testing.T) {
	_, err := runApp(t, "commit", "--amount", "-3", "--secret", "x")
	assert.Error(t, err)
}

func TestToken(t *testing.T) {
	out, err := runApp(t, "token", "--user", "alice", "--role", "admin", "--jwt-secret", "dev")
	require.NoError(t, err)

	user, role, err := mware.ParseToken([]byte("dev"), strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "alice", user)
	assert.Equal(t, "admin", role)
}
