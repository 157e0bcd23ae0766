package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupJSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := Setup(&buf, "info", FormatJSON)
	require.NoError(t, err)

	log.Debug().Msg("hidden")
	log.Info().Int64("club_id", 4).Msg("club created")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "club created", line["message"])
	require.Equal(t, "info", line["level"])
	require.EqualValues(t, 4, line["club_id"])
}

func TestSetupConsoleWithoutTerminal(t *testing.T) {
	var buf bytes.Buffer
	log, err := Setup(&buf, "debug", FormatConsole)
	require.NoError(t, err)

	log.Debug().Str("actor", "0xabc").Msg("vote cast")
	out := buf.String()
	require.Contains(t, out, "vote cast")
	require.Contains(t, out, "actor=0xabc")
	require.False(t, strings.Contains(out, "\x1b["), "no colour codes expected")
}

func TestSetupRejectsUnknownValues(t *testing.T) {
	_, err := Setup(&bytes.Buffer{}, "loud", FormatJSON)
	require.Error(t, err)
	_, err = Setup(&bytes.Buffer{}, "info", "xml")
	require.Error(t, err)
}
