package pop3

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeCommand(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		expected Command
	}{
		{name: "no args", line: "STAT", expected: Command{Verb: CmdSTAT}},
		{name: "lower case verb", line: "quit", expected: Command{Verb: CmdQUIT}},
		{name: "one arg", line: "USER bob@example.com", expected: Command{Verb: CmdUSER, Args: []string{"bob@example.com"}}},
		{name: "two args", line: "TOP 1 10", expected: Command{Verb: CmdTOP, Args: []string{"1", "10"}}},
		{name: "surrounding whitespace", line: "  LIST 2  ", expected: Command{Verb: CmdLIST, Args: []string{"2"}}},
		{name: "repeated separators", line: "APOP bob   c4c9334bac560ecc979e58001b3e22fb", expected: Command{Verb: CmdAPOP, Args: []string{"bob", "c4c9334bac560ecc979e58001b3e22fb"}}},
		{name: "recognized but unimplemented", line: "STLS", expected: Command{Verb: CmdSTLS}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := DecodeCommand(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, cmd)
		})
	}
}

func TestDecodeCommandNoArgsIsNil(t *testing.T) {
	cmd, err := DecodeCommand("LIST")
	require.NoError(t, err)
	assert.Nil(t, cmd.Args)
}

func TestDecodeCommandInvalid(t *testing.T) {
	for _, line := range []string{"", "   ", "FOOBAR", "XTND XMIT", "RETRX 1"} {
		t.Run(line, func(t *testing.T) {
			_, err := DecodeCommand(line)
			assert.ErrorIs(t, err, ErrUnknownCommand)
		})
	}
}

func TestCommandRoundTrip(t *testing.T) {
	commands := []Command{
		{Verb: CmdUSER, Args: []string{"bob"}},
		{Verb: CmdPASS, Args: []string{"hunter2"}},
		{Verb: CmdAPOP, Args: []string{"bob", "0123456789abcdef0123456789abcdef"}},
		{Verb: CmdTOP, Args: []string{"3", "0"}},
		{Verb: CmdNOOP},
		{Verb: CmdLANG, Args: []string{"nl"}},
	}
	for _, cmd := range commands {
		t.Run(cmd.Verb, func(t *testing.T) {
			encoded := cmd.Encode()
			assert.Equal(t, "\r\n", encoded[len(encoded)-2:])

			decoded, err := DecodeCommand(encoded[:len(encoded)-2])
			require.NoError(t, err)
			assert.Equal(t, cmd, decoded)
		})
	}
}

func TestResponseEncode(t *testing.T) {
	tests := []struct {
		name     string
		resp     Response
		expected string
	}{
		{name: "bare ok", resp: OK(), expected: "+OK\r\n"},
		{name: "ok with message", resp: OK("2 320"), expected: "+OK 2 320\r\n"},
		{name: "segments trimmed and joined", resp: OK(" pop3d ready ", "<abc@host>"), expected: "+OK pop3d ready <abc@host>\r\n"},
		{name: "empty segments dropped", resp: OK("", "x", " "), expected: "+OK x\r\n"},
		{name: "error without code", resp: Err(ExtNone, "invalid command."), expected: "-ERR invalid command.\r\n"},
		{name: "auth code", resp: Err(ExtAuth, "pass rejected."), expected: "-ERR [AUTH] pass rejected.\r\n"},
		{name: "in-use code", resp: Err(ExtInUse, "busy"), expected: "-ERR [IN-USE] busy\r\n"},
		{name: "sys code", resp: Err(ExtSys, "no secret"), expected: "-ERR [SYS/PERM] no secret\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.resp.Encode())
		})
	}
}
