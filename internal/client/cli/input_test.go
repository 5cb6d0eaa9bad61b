package cli

import (
	"bufio"
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/notesync/internal/models"
)

func rdr(s string) *bufio.Reader {
	return bufio.NewReader(strings.NewReader(s))
}

func TestGetSimpleText(t *testing.T) {
	var out bytes.Buffer
	got, err := GetSimpleText(rdr("hello world\n"), "Name?", &out)
	require.NoError(t, err)
	assert.Equal(t, "hello world", got)
	assert.Equal(t, "Name?\n> ", out.String())
}

func TestGetSimpleTextEOF(t *testing.T) {
	var out bytes.Buffer
	got, err := GetSimpleText(rdr("lastline"), "Name?", &out)
	require.NoError(t, err)
	assert.Equal(t, "lastline", got)

	_, err = GetSimpleText(rdr(""), "Name?", &out)
	assert.Error(t, err)
}

func TestGetMultiline(t *testing.T) {
	var out bytes.Buffer
	got, err := GetMultiline(rdr("a\r\nb\n\nignored\n"), "Enter text", &out)
	require.NoError(t, err)
	assert.Equal(t, "a\nb", got)

	got, err = GetMultiline(rdr("no newline"), "Enter text", &out)
	require.NoError(t, err)
	assert.Equal(t, "no newline", got)
}

func TestGetSecret(t *testing.T) {
	oldTerm, oldRead := isTerminal, readSecret
	t.Cleanup(func() { isTerminal, readSecret = oldTerm, oldRead })

	isTerminal = func(int) bool { return true }
	readSecret = func(int) ([]byte, error) { return []byte(" tok \n"), nil }
	var out bytes.Buffer
	got, err := GetSecret(rdr(""), "Access token", &out)
	require.NoError(t, err)
	assert.Equal(t, "tok", got)

	readSecret = func(int) ([]byte, error) { return nil, errors.New("boom") }
	_, err = GetSecret(rdr(""), "Access token", &out)
	assert.Error(t, err)

	isTerminal = func(int) bool { return false }
	got, err = GetSecret(rdr("piped\n"), "Access token", &out)
	require.NoError(t, err)
	assert.Equal(t, "piped", got)
}

func TestParseAssignments(t *testing.T) {
	got, err := ParseAssignments([]string{"title=Weekly sync", "pinned=true", "position=3", "tags=null", "body=a=b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]models.Value{
		"title":    models.String("Weekly sync"),
		"pinned":   models.Bool(true),
		"position": models.Int(3),
		"tags":     models.Null(),
		"body":     models.String("a=b"),
	}, got)

	for _, bad := range []string{"title", "=x"} {
		_, err := ParseAssignments([]string{bad})
		assert.Error(t, err, bad)
	}
}
